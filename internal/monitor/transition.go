package monitor

import "github.com/hamed0406/sitewatch/internal/domain"

// Transition is what a status change means for incidents and notifications.
type Transition int

const (
	None     Transition = iota
	Opened              // up or unknown -> down: open an incident, notify down
	Resolved            // down -> up: resolve the open incident, notify recovery
	Changed             // unknown -> up: first concrete status, nothing to report
)

func (t Transition) String() string {
	switch t {
	case Opened:
		return "opened"
	case Resolved:
		return "resolved"
	case Changed:
		return "changed"
	default:
		return "none"
	}
}

// Decide maps a previous and a newly observed status to a transition.
// An unknown observation never changes anything.
func Decide(prev, next domain.Status) Transition {
	if next == domain.StatusUnknown || prev == next {
		return None
	}
	switch next {
	case domain.StatusDown:
		return Opened
	case domain.StatusUp:
		if prev == domain.StatusDown {
			return Resolved
		}
		return Changed
	}
	return None
}
