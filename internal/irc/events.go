package irc

// EventKind is an event a Session reacts to
type EventKind int

const (
	// EventReady fires once registration finished (end of MOTD)
	EventReady EventKind = iota
	EventMessage
	EventJoin
	EventNickInUse
	// EventDCCInvite is a CTCP DCC CHAT offer
	EventDCCInvite
	// EventDCCData is a line received over an accepted DCC chat
	EventDCCData
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventMessage:
		return "message"
	case EventJoin:
		return "join"
	case EventNickInUse:
		return "nick-in-use"
	case EventDCCInvite:
		return "dcc-invite"
	case EventDCCData:
		return "dcc-data"
	}
	return "unknown"
}

// eventCodes maps library event codes to the kinds they deliver.
// With CTCP enabled the runtime rewrites CTCP requests it does not
// know itself, DCC included, to the "CTCP" code.
var eventCodes = []struct {
	code string
	kind EventKind
}{
	{"376", EventReady}, // RPL_ENDOFMOTD
	{"422", EventReady}, // ERR_NOMOTD
	{"PRIVMSG", EventMessage},
	{"JOIN", EventJoin},
	{"433", EventNickInUse}, // ERR_NICKNAMEINUSE
	{"CTCP", EventDCCInvite},
}

// State is the lifecycle of a Session
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	// StateReady means registered, rooms pending
	StateReady
	// StateJoined means at least one room confirmed
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateJoined:
		return "joined"
	}
	return "unknown"
}
