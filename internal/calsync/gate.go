package calsync

// Interaction is a user-initiated write attempt on the calendar.
type Interaction int

const (
	DateClick Interaction = iota
	RangeSelect
	EventDrop
	EventResize
)

func (i Interaction) String() string {
	switch i {
	case DateClick:
		return "date_click"
	case RangeSelect:
		return "range_select"
	case EventDrop:
		return "event_drop"
	case EventResize:
		return "event_resize"
	default:
		return "unknown"
	}
}

// Decision is the gate's verdict. When Allowed is false and Revert is true
// the widget must restore the item to its pre-interaction position.
type Decision struct {
	Allowed bool
	Revert  bool
}

// Gate is the single admin-capability check consulted before any mutation
// is forwarded to the remote authority.
type Gate struct {
	isAdmin bool
}

func NewGate(isAdmin bool) Gate {
	return Gate{isAdmin: isAdmin}
}

func (g Gate) IsAdmin() bool {
	return g.isAdmin
}

func (g Gate) Check(i Interaction) Decision {
	if g.isAdmin {
		return Decision{Allowed: true}
	}
	switch i {
	case EventDrop, EventResize:
		return Decision{Revert: true}
	default:
		return Decision{}
	}
}
