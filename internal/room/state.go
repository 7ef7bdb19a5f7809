package room

// State is the lifecycle state of a Room.
type State int

const (
	Idle State = iota
	Joined
	Negotiating
	Connected
	// Left is terminal.
	Left
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Joined:
		return "joined"
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Left:
		return "left"
	default:
		return "unknown"
	}
}
