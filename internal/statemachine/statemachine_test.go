package statemachine

import (
	"testing"

	"github.com/orchestra/corectl/internal/domain"
)

func TestLegal_AllowedEdges(t *testing.T) {
	cases := []struct {
		from, to domain.JobStatus
	}{
		{domain.JobPending, domain.JobScheduled},
		{domain.JobPending, domain.JobCanceled},
		{domain.JobScheduled, domain.JobRunning},
		{domain.JobScheduled, domain.JobCanceled},
		{domain.JobScheduled, domain.JobPending},
		{domain.JobRunning, domain.JobSuccess},
		{domain.JobRunning, domain.JobFailed},
		{domain.JobRunning, domain.JobCanceled},
		{domain.JobRunning, domain.JobPending},
		{domain.JobFailed, domain.JobRetrying},
		{domain.JobFailed, domain.JobDead},
		{domain.JobRetrying, domain.JobPending},
	}
	for _, c := range cases {
		if !Legal(c.from, c.to) {
			t.Errorf("expected %s -> %s to be legal", c.from, c.to)
		}
	}
}

func TestLegal_RejectsIllegalEdges(t *testing.T) {
	cases := []struct {
		from, to domain.JobStatus
	}{
		{domain.JobPending, domain.JobRunning},
		{domain.JobPending, domain.JobSuccess},
		{domain.JobSuccess, domain.JobPending},
		{domain.JobDead, domain.JobPending},
		{domain.JobCanceled, domain.JobScheduled},
		{domain.JobFailed, domain.JobSuccess},
		{domain.JobRetrying, domain.JobRunning},
	}
	for _, c := range cases {
		if Legal(c.from, c.to) {
			t.Errorf("expected %s -> %s to be illegal", c.from, c.to)
		}
	}
}

func TestTerminal(t *testing.T) {
	terminal := []domain.JobStatus{domain.JobSuccess, domain.JobDead, domain.JobCanceled}
	for _, s := range terminal {
		if !Terminal(s) {
			t.Errorf("expected %s to be terminal", s)
		}
		if len(Reachable(s)) != 0 {
			t.Errorf("expected %s to have no outgoing edges", s)
		}
	}

	nonTerminal := []domain.JobStatus{domain.JobPending, domain.JobScheduled, domain.JobRunning, domain.JobFailed, domain.JobRetrying}
	for _, s := range nonTerminal {
		if Terminal(s) {
			t.Errorf("expected %s to not be terminal", s)
		}
	}
}
