package domain

// Status is the triage state of an insight.
type Status string

const (
	StatusNew          Status = "new"
	StatusAcknowledged Status = "acknowledged"
	StatusInProgress   Status = "in_progress"
	StatusResolved     Status = "resolved"
	StatusDismissed    Status = "dismissed"
)

// OpenStatuses are the statuses under which a fingerprint may have at most one insight.
var OpenStatuses = []Status{StatusNew, StatusAcknowledged, StatusInProgress}

// IsOpen reports whether s is new, acknowledged, or in_progress.
func (s Status) IsOpen() bool {
	switch s {
	case StatusNew, StatusAcknowledged, StatusInProgress:
		return true
	}
	return false
}

// IsTerminal reports whether s is resolved or dismissed.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusDismissed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.IsOpen() || s.IsTerminal()
}

// TransitionSources returns the statuses an insight may be in to move to target.
// Terminal statuses have no outgoing transitions.
func TransitionSources(target Status) []Status {
	switch target {
	case StatusAcknowledged, StatusInProgress, StatusResolved, StatusDismissed:
		return OpenStatuses
	default:
		return nil
	}
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	for _, s := range TransitionSources(to) {
		if s == from {
			return true
		}
	}
	return false
}
