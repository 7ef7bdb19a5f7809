package peer

// State is the negotiation state of a Manager.
type State int

const (
	// NoSession means no transport exists.
	NoSession State = iota
	// Negotiating means an offer/answer exchange is in flight.
	Negotiating
	// Stable means the last exchange completed.
	Stable
)

func (s State) String() string {
	switch s {
	case NoSession:
		return "no-session"
	case Negotiating:
		return "negotiating"
	case Stable:
		return "stable"
	default:
		return "unknown"
	}
}
