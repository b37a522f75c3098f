package domain

// Status is a payment lifecycle state.
type Status string

const (
	StatusInitiated       Status = "INITIATED"
	StatusValidated       Status = "VALIDATED"
	StatusProcessing      Status = "PROCESSING"
	StatusPendingExternal Status = "PENDING_EXTERNAL"
	StatusCompleted       Status = "COMPLETED"
	StatusFailed          Status = "FAILED"
	StatusReturned        Status = "RETURNED"
	StatusCancelled       Status = "CANCELLED"
	StatusRefunded        Status = "REFUNDED"
)

// paymentTransitions enumerates every legal edge. FAILED is reachable from
// any pre-terminal state so fraud blocks, gateway exhaustion and
// reconciliation force-fails all land on the same edge set. COMPLETED
// directly from PROCESSING covers the internal same-bank ledger path that
// never goes external.
var paymentTransitions = map[Status]map[Status]struct{}{
	StatusInitiated: {
		StatusValidated: {},
		StatusCancelled: {},
		StatusFailed:    {},
	},
	StatusValidated: {
		StatusProcessing: {},
		StatusFailed:     {},
	},
	StatusProcessing: {
		StatusPendingExternal: {},
		StatusCompleted:       {},
		StatusFailed:          {},
		StatusReturned:        {},
	},
	StatusPendingExternal: {
		StatusCompleted: {},
		StatusFailed:    {},
		StatusReturned:  {},
		StatusCancelled: {},
	},
	StatusCompleted: {
		StatusRefunded: {},
	},
	StatusFailed:    {},
	StatusReturned:  {},
	StatusCancelled: {},
	StatusRefunded:  {},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	next, ok := paymentTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Terminal reports whether s has no outgoing edges besides refund.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusReturned, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// EffectKind classifies a side effect emitted by a transition.
type EffectKind string

const (
	EffectAudit  EffectKind = "audit"
	EffectNotify EffectKind = "notify"
)

// Effect is a command emitted by a state transition for the caller to
// execute (audit write, notification send). Transitions themselves never
// touch collaborators, which keeps them deterministic and testable.
type Effect struct {
	Kind      EffectKind
	Reference string
	Prev      Status
	Next      Status
	Reason    string
}
