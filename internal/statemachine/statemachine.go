// Package statemachine is the single source of truth for job status
// transition legality. It is a pure function: it never touches the
// Store. internal/store.Store.UpdateJobStatus checks Legal before issuing
// its compare-and-set update, and the CAS WHERE clause guards the expected
// prior status. The Store's batch claim, orphan sweep and lease-expiry
// reclaim write their transitions directly without calling Legal; the
// reclaim moves a job with exhausted attempts from SCHEDULED or RUNNING
// straight to DEAD, an edge that graph does not contain.
package statemachine

import "github.com/orchestra/corectl/internal/domain"

// graph is the adjacency list of legal transitions. Terminal states have
// no outgoing edges.
var graph = map[domain.JobStatus][]domain.JobStatus{
	domain.JobPending:   {domain.JobScheduled, domain.JobCanceled},
	domain.JobScheduled: {domain.JobRunning, domain.JobCanceled, domain.JobPending},
	domain.JobRunning:   {domain.JobSuccess, domain.JobFailed, domain.JobCanceled, domain.JobPending},
	domain.JobFailed:    {domain.JobRetrying, domain.JobDead},
	domain.JobRetrying:  {domain.JobPending},
	domain.JobSuccess:   nil,
	domain.JobDead:      nil,
	domain.JobCanceled:  nil,
}

// Legal reports whether transitioning a job from `from` to `to` is
// permitted by graph.
func Legal(from, to domain.JobStatus) bool {
	for _, next := range graph[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s has no legal outgoing transition.
func Terminal(s domain.JobStatus) bool {
	return s.Terminal()
}

// Reachable lists every status `from` may legally transition to, for
// diagnostics and tests.
func Reachable(from domain.JobStatus) []domain.JobStatus {
	out := make([]domain.JobStatus, len(graph[from]))
	copy(out, graph[from])
	return out
}
