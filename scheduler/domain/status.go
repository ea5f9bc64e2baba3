package domain

// Status is the lifecycle state of a Job.
type Status int

const (
	// Submitted, waiting to be assigned to a cluster.
	Pending Status = iota

	// Bound to a cluster by an active schedule.
	Scheduled

	// Reported running by the cluster backend.
	Running

	// Finished successfully. Terminal.
	Succeeded

	// Finished unsuccessfully or was rejected by the backend. Terminal.
	Failed

	// Withdrawn by the caller. Terminal.
	Cancelled
)

func (s Status) String() string {
	asString := [6]string{"PENDING", "SCHEDULED", "RUNNING", "SUCCEEDED", "FAILED", "CANCELLED"}
	if s < Pending || s > Cancelled {
		return "INVALID"
	}
	return asString[s]
}

// Terminal reports whether s is immutable once reached.
func (s Status) Terminal() bool {
	return s == Succeeded || s == Failed || s == Cancelled
}

// ValidTransition reports whether a job may move from one status to
// another. Transitions only ever advance along
// PENDING -> SCHEDULED -> RUNNING -> SUCCEEDED; FAILED and CANCELLED are
// absorbing and reachable from any non-terminal state. Nothing leaves a
// terminal state and self-transitions are not transitions.
func ValidTransition(from, to Status) bool {
	if from.Terminal() || from == to {
		return false
	}
	if to == Failed || to == Cancelled {
		return true
	}
	return to > from && to <= Succeeded
}

// ParseStatus maps a status name back to its Status value, for CLI and
// query surfaces.
func ParseStatus(name string) (Status, error) {
	for s := Pending; s <= Cancelled; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return Pending, NewValidationError("unknown status %q", name)
}
