package domain

// ArchivedPolicy decides what an inbound message does to an archived conversation
type ArchivedPolicy string

const (
	ArchivedKeep   ArchivedPolicy = "keep"
	ArchivedReopen ArchivedPolicy = "reopen"
)

// ParseArchivedPolicy falls back to ArchivedKeep for unknown values
func ParseArchivedPolicy(s string) ArchivedPolicy {
	if ArchivedPolicy(s) == ArchivedReopen {
		return ArchivedReopen
	}
	return ArchivedKeep
}

// Transition is the result of applying an inbound message to a conversation
type Transition struct {
	From     Status
	To       Status
	Created  bool
	Reopened bool
}

// Classify reports whether the transition is a create or reopen event
func (t Transition) Classify() bool {
	return t.Created || t.Reopened
}

// ApplyInbound computes the next state for an inbound message.
// exists is false when no conversation row exists yet.
func ApplyInbound(exists bool, current Status, policy ArchivedPolicy) Transition {
	if !exists {
		return Transition{To: StatusOpen, Created: true}
	}
	switch current {
	case StatusResolved:
		return Transition{From: current, To: StatusOpen, Reopened: true}
	case StatusArchived:
		if policy == ArchivedReopen {
			return Transition{From: current, To: StatusOpen, Reopened: true}
		}
		return Transition{From: current, To: StatusArchived}
	default:
		return Transition{From: current, To: StatusOpen}
	}
}
