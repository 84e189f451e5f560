package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/orchestra/corectl/internal/domain"
	"github.com/orchestra/corectl/internal/domain/errs"
	"github.com/orchestra/corectl/internal/platform/testutil"
)

// newMockStore wires a Store over a go-sqlmock connection instead of a live
// Postgres instance, so the exact SQL issued by the CAS and claim paths can
// be asserted without a database.
func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = mockDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	return New(gdb, testutil.Logger(t)), mock
}

func TestUpdateJobStatus_CASIssuesExpectedWhereClause(t *testing.T) {
	s, mock := newMockStore(t)
	id := "11111111-1111-1111-1111-111111111111"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "jobs" SET`)).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), id, string(domain.JobPending)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// The explicit Transaction below supplies the begin/commit pair the
	// Expect* sequence above expects; the UPDATE runs inside it.
	err := s.db.Transaction(func(tx *gorm.DB) error {
		txStore := New(tx, testutil.Logger(t))
		return txStore.UpdateJobStatus(context.Background(), uuid.MustParse(id), domain.JobPending, domain.JobScheduled, nil)
	})
	if err != nil {
		t.Fatalf("update job status: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertJob_UniqueViolationMapsToDuplicateIdempotency(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "jobs"`)).
		WillReturnError(errors.New(`ERROR: duplicate key value violates unique constraint "jobs_idempotency_key_key" (SQLSTATE 23505)`))
	mock.ExpectRollback()

	job := &domain.Job{
		Type:           "echo",
		IdempotencyKey: "dup",
		Priority:       5,
		MaxAttempts:    3,
		RetryPolicy:    domain.RetryExponential,
		BaseDelay:      time.Second,
		Timeout:        time.Minute,
	}
	err := s.InsertJob(context.Background(), job)
	if code, ok := errs.As(err); !ok || code != errs.DuplicateIdempotency {
		t.Fatalf("expected DUPLICATE_IDEMPOTENCY, got %v", err)
	}
}
