// Package cluster defines the abstraction over execution backends
// capable of accepting, running and reporting on jobs.
package cluster

import (
	"context"

	"github.com/blackcap/blackcap/scheduler/domain"
)

// Cluster is one execution backend. Implementations cover concrete
// integrations (in-memory, local batch execution, remote orchestrator).
//
// All calls honor ctx's deadline; a caller-supplied timeout is required
// for anything that touches the network. Deadline expiry is a transient
// failure (see Retryable).
type Cluster interface {
	// ID returns the stable cluster id.
	ID() string

	// Info describes the cluster's capability labels and current load.
	Info() domain.ClusterInfo

	// Prepare validates and stages a job for submission. Side effect
	// only. Fails with a *PreparationError if the job spec is
	// incompatible with this cluster's capabilities.
	Prepare(ctx context.Context, job *domain.Job) error

	// Submit submits a prepared job and returns the backend's id for it.
	// Fails with a *SubmissionError on backend rejection or transient
	// connectivity failure, or a *PermanentSubmissionError when retrying
	// cannot help (e.g. malformed spec).
	Submit(ctx context.Context, job *domain.Job) (string, error)

	// GetStatus queries the backend for the current status of a
	// submitted job. The returned sequence is finite and restartable and
	// may cover multiple sub-tasks of the one job. Fails with a
	// *StatusQueryError, always treated as transient.
	GetStatus(ctx context.Context, externalJobID string) (StatusSeq, error)
}

// StatusSeq is a lazy, finite, restartable sequence of raw backend
// status tokens.
type StatusSeq interface {
	// Next returns the next status token, or ok=false when exhausted.
	Next() (status string, ok bool)

	// Restart rewinds the sequence to its beginning.
	Restart()
}

type sliceSeq struct {
	statuses []string
	pos      int
}

// NewStatusSeq builds a StatusSeq over an already-materialized slice of
// status tokens.
func NewStatusSeq(statuses ...string) StatusSeq {
	return &sliceSeq{statuses: statuses}
}

func (s *sliceSeq) Next() (string, bool) {
	if s.pos >= len(s.statuses) {
		return "", false
	}
	st := s.statuses[s.pos]
	s.pos++
	return st, true
}

func (s *sliceSeq) Restart() {
	s.pos = 0
}

// Collect drains a StatusSeq into a slice, restarting it first so a
// partially-read sequence yields every token.
func Collect(seq StatusSeq) []string {
	seq.Restart()
	var all []string
	for {
		st, ok := seq.Next()
		if !ok {
			return all
		}
		all = append(all, st)
	}
}
