package appointment

// transitions is the full lifecycle table. completed, cancelled and
// rescheduled are terminal; a rescheduled appointment's successor starts a
// fresh lifecycle at scheduled.
var transitions = map[Status]map[Status]bool{
	StatusScheduled: {
		StatusConfirmed:   true,
		StatusCompleted:   true,
		StatusCancelled:   true,
		StatusRescheduled: true,
	},
	StatusConfirmed: {
		StatusCompleted:   true,
		StatusCancelled:   true,
		StatusRescheduled: true,
	},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// checkTransition returns a typed error for illegal moves so callers can
// distinguish "will never succeed" from retryable failures.
func checkTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// IsTerminal reports whether no further transition is possible.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0
}

// IsActive reports whether the appointment still occupies its provider-time
// window; only active appointments participate in overlap checks.
func IsActive(s Status) bool {
	return s == StatusScheduled || s == StatusConfirmed
}
