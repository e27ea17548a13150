package trigger

// State is a step of the SOS flow.
type State int

const (
	Idle State = iota
	AwaitingPermissions
	AwaitingLocation
	AwaitingContacts
	Dispatching
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingPermissions:
		return "awaiting_permissions"
	case AwaitingLocation:
		return "awaiting_location"
	case AwaitingContacts:
		return "awaiting_contacts"
	case Dispatching:
		return "dispatching"
	}
	return "unknown"
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
