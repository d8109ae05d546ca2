package autosave

import "fmt"

// Phase is the save state of one document.
type Phase int

const (
	// Idle: nothing pending, nothing in flight.
	Idle Phase = iota
	// Scheduled: a snapshot is pending and the debounce timer is armed.
	Scheduled
	// Dirty: a snapshot is pending after a failed write; no timer is armed.
	Dirty
	// Saving: a write is in flight and nothing newer is pending.
	Saving
	// SavingDirty: a write is in flight and a newer snapshot is pending.
	SavingDirty
)

var phaseNames = [...]string{"idle", "scheduled", "dirty", "saving", "saving-dirty"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// InFlight reports whether a write is outstanding in p.
func (p Phase) InFlight() bool { return p == Saving || p == SavingDirty }

// Settled reports whether p has no timer armed and no write in flight.
func (p Phase) Settled() bool { return p == Idle || p == Dirty }

// Trigger is an input to the state machine.
type Trigger int

const (
	TriggerRequest   Trigger = iota // a new snapshot replaced the pending one
	TriggerTimer                    // the debounce timer fired
	TriggerFlush                    // a forced save was requested
	TriggerSucceeded                // the in-flight write succeeded
	TriggerFailed                   // the in-flight write failed
	TriggerCancel                   // the document was closed
)

var triggerNames = [...]string{"request", "timer", "flush", "succeeded", "failed", "cancel"}

func (t Trigger) String() string {
	if t < 0 || int(t) >= len(triggerNames) {
		return fmt.Sprintf("trigger(%d)", int(t))
	}
	return triggerNames[t]
}

// Action is the side effect the scheduler performs after a transition.
type Action int

const (
	ActNone   Action = iota
	ActArm           // (re)start the debounce timer
	ActSave          // stop the timer, take the pending snapshot and issue the write
	ActStop          // stop the timer, keep the pending snapshot
	ActDrop          // stop the timer and discard the pending snapshot
	ActRetain        // keep the failed snapshot as pending unless a newer one exists
)

var actionNames = [...]string{"none", "arm", "save", "stop", "drop", "retain"}

func (a Action) String() string {
	if a < 0 || int(a) >= len(actionNames) {
		return fmt.Sprintf("action(%d)", int(a))
	}
	return actionNames[a]
}

// Phases and Triggers list every value, for exhaustive checks.
var (
	Phases   = []Phase{Idle, Scheduled, Dirty, Saving, SavingDirty}
	Triggers = []Trigger{TriggerRequest, TriggerTimer, TriggerFlush, TriggerSucceeded, TriggerFailed, TriggerCancel}
)

// Transition is the pure state machine of the scheduler. Inputs that cannot
// happen in a phase (a completion without a write in flight, a timer with no
// timer armed) leave the phase unchanged.
func Transition(p Phase, t Trigger) (Phase, Action) {
	switch p {
	case Idle:
		if t == TriggerRequest {
			return Scheduled, ActArm
		}
	case Scheduled:
		switch t {
		case TriggerRequest:
			return Scheduled, ActArm
		case TriggerTimer, TriggerFlush:
			return Saving, ActSave
		case TriggerCancel:
			return Idle, ActDrop
		}
	case Dirty:
		switch t {
		case TriggerRequest:
			return Scheduled, ActArm
		case TriggerFlush:
			return Saving, ActSave
		case TriggerCancel:
			return Idle, ActDrop
		}
	case Saving:
		switch t {
		case TriggerRequest:
			return SavingDirty, ActArm
		case TriggerSucceeded:
			return Idle, ActNone
		case TriggerFailed:
			return Dirty, ActRetain
		}
	case SavingDirty:
		switch t {
		case TriggerRequest:
			return SavingDirty, ActArm
		case TriggerFlush:
			return SavingDirty, ActStop
		case TriggerSucceeded:
			return Saving, ActSave
		case TriggerFailed:
			return Dirty, ActStop
		case TriggerCancel:
			return Saving, ActDrop
		}
	}
	return p, ActNone
}
