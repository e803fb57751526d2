package unit

import (
	"fmt"

	"github.com/dgnsrekt/rtr-relay/internal/payload"
	"github.com/dgnsrekt/rtr-relay/internal/rtr"
)

// cycle collects the records of one exchange with the server. It is
// either a *resetCycle or an *incrementalCycle.
type cycle interface {
	rtr.Update

	// definitelyEmpty reports whether publishing the cycle would change
	// nothing. Resets are never empty.
	definitelyEmpty() bool

	// finish turns the cycle into an update. The cycle must not be used
	// afterwards.
	finish(serial payload.Serial) payload.Update
}

// target hands out cycles to the RTR client and keeps what needs to
// survive a reconnect.
type target struct {
	name    string
	current *payload.Set
	state   *rtr.State
}

func newTarget(name string) *target {
	return &target{
		name:    name,
		current: payload.EmptySet(),
	}
}

// Start implements rtr.Target.
func (t *target) Start(reset bool) cycle {
	if reset {
		return &resetCycle{set: payload.NewSetBuilder()}
	}
	return &incrementalCycle{
		set:  payload.SetBuilderFrom(t.current),
		diff: payload.NewDiffBuilder(),
	}
}

// resetCycle replaces the complete set.
type resetCycle struct {
	set *payload.SetBuilder
}

func (c *resetCycle) PushVRP(action payload.Action, p payload.Payload) error {
	if action == payload.Withdraw {
		return fmt.Errorf("%w: withdrawal of %s during reset", rtr.ErrCorrupt, p)
	}
	return c.set.Insert(p)
}

func (c *resetCycle) definitelyEmpty() bool {
	return false
}

func (c *resetCycle) finish(serial payload.Serial) payload.Update {
	return payload.NewUpdate(serial, c.set.Finalize(), nil)
}

// incrementalCycle applies changes to a copy of the current set and
// records them.
type incrementalCycle struct {
	set  *payload.SetBuilder
	diff *payload.DiffBuilder
}

func (c *incrementalCycle) PushVRP(action payload.Action, p payload.Payload) error {
	var err error
	switch action {
	case payload.Announce:
		err = c.set.Insert(p)
	case payload.Withdraw:
		err = c.set.Remove(p)
	default:
		err = fmt.Errorf("%w: unknown %s", rtr.ErrCorrupt, action)
	}
	if err != nil {
		return err
	}
	c.diff.Push(action, p)
	return nil
}

func (c *incrementalCycle) definitelyEmpty() bool {
	return c.diff.IsEmpty()
}

func (c *incrementalCycle) finish(serial payload.Serial) payload.Update {
	return payload.NewUpdate(serial, c.set.Finalize(), c.diff.Finalize())
}
