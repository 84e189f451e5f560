package errs

import "testing"

func TestAs_ExtractsCodeFromCodedError(t *testing.T) {
	err := NewNotFound("job", "abc-123")
	code, ok := As(err)
	if !ok {
		t.Fatal("expected As to recognize a CodedError")
	}
	if code != NotFound {
		t.Fatalf("expected NOT_FOUND, got %s", code)
	}
}

func TestAs_FalseOnPlainError(t *testing.T) {
	if _, ok := As(errPlain("boom")); ok {
		t.Fatal("expected As to return false for a non-CodedError")
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }

func TestEachConstructor_ProducesItsCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Code
	}{
		{"duplicate idempotency", NewDuplicateIdempotency("key-1"), DuplicateIdempotency},
		{"duplicate name", NewDuplicateName("pipeline"), DuplicateName},
		{"invalid transition", NewInvalidTransition("SUCCESS", "PENDING", "job:1"), InvalidTransition},
		{"validation", NewValidation("missing idempotency_key"), Validation},
		{"unavailable", NewUnavailable("store", errPlain("timeout")), Unavailable},
		{"conflict", NewConflict("job:1", "PENDING"), Conflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, ok := As(tc.err)
			if !ok {
				t.Fatalf("expected a CodedError for %s", tc.name)
			}
			if code != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, code)
			}
			if tc.err.Error() == "" {
				t.Fatal("expected a non-empty formatted message")
			}
		})
	}
}
