package domain

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func genStatus() gopter.Gen {
	return gen.IntRange(int(Pending), int(Cancelled)).Map(func(i int) Status { return Status(i) })
}

func Test_TransitionsAreMonotonic(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("valid transitions only ever advance", prop.ForAll(
		func(from, to Status) bool {
			if !ValidTransition(from, to) {
				return true
			}
			return to > from || to == Failed || to == Cancelled
		},
		genStatus(),
		genStatus(),
	))

	properties.Property("nothing leaves a terminal state", prop.ForAll(
		func(from, to Status) bool {
			if !from.Terminal() {
				return true
			}
			return !ValidTransition(from, to)
		},
		genStatus(),
		genStatus(),
	))

	properties.Property("FAILED and CANCELLED absorb every non-terminal state", prop.ForAll(
		func(from Status) bool {
			if from.Terminal() {
				return true
			}
			return ValidTransition(from, Failed) && ValidTransition(from, Cancelled)
		},
		genStatus(),
	))

	properties.TestingRun(t)
}
