package ddp

import "fmt"

// SessionState is the lifecycle state of a Session. Client.SessionID
// reports a session id only while the state is Open.
type SessionState int

const (
	Idle SessionState = iota
	Connecting
	Open
	Closing
	Closed
)

func (s SessionState) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Connecting:
		return "CONNECTING"
	case Open:
		return "OPEN"
	case Closing:
		return "CLOSING"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// session holds the negotiated version, session id, and lifecycle
// state. All fields are only ever touched from the Client's dispatcher
// goroutine, so no internal locking is needed.
type session struct {
	supportedVersions []string
	currentVersion    string
	sessionID         string
	state             SessionState
}

func newSession(supported []string) *session {
	versions := append([]string(nil), supported...)
	return &session{
		supportedVersions: versions,
		currentVersion:    versions[0],
		state:             Idle,
	}
}

// indexOf returns the position of v in the supported list, or -1.
func (s *session) indexOf(v string) int {
	for i, sv := range s.supportedVersions {
		if sv == v {
			return i
		}
	}
	return -1
}

// beginConnecting transitions IDLE -> CONNECTING.
func (s *session) beginConnecting() {
	s.state = Connecting
}

// confirm transitions CONNECTING -> OPEN on an inbound "connected".
func (s *session) confirm(sessionID string) {
	s.sessionID = sessionID
	s.state = Open
}

// fallback applies a server-proposed version and reports whether the
// fallback is acceptable: the proposed version must be supported and
// strictly later (lower-preference) than the current one in the
// support list, which prevents negotiation loops (spec.md §4.5).
func (s *session) fallback(version string) bool {
	idx := s.indexOf(version)
	if idx < 0 {
		return false
	}
	if idx <= s.indexOf(s.currentVersion) {
		return false
	}
	s.currentVersion = version
	return true
}

func (s *session) String() string {
	return fmt.Sprintf("session{version=%s id=%s state=%s}", s.currentVersion, s.sessionID, s.state)
}
