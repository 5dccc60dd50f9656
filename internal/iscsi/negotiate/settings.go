package negotiate

import "sync/atomic"

var settingsIDCounter atomic.Uint64

// nextSettingsID returns a process-wide monotonic identifier for a newly
// finalized Settings snapshot, used for logging and equality checks
// rather than for any wire-visible purpose.
func nextSettingsID() uint64 {
	return settingsIDCounter.Add(1)
}

// Settings is the immutable result of negotiating a connection's or
// session's operational parameters. Once Finalize produces one, no field
// is ever mutated in place; a renegotiation (additional Text PDUs on an
// established session) produces a new Settings value.
type Settings struct {
	SettingsID uint64

	// Declarative / identity keys.
	InitiatorName  string
	InitiatorAlias string
	TargetName     string
	TargetAlias    string
	SessionType    SessionType

	// Connection-level negotiated values.
	HeaderDigestEnabled      bool
	DataDigestEnabled        bool
	MaxRecvDataSegmentLength uint32

	// Session-level negotiated values.
	MaxConnections       uint16
	InitialR2T           bool
	ImmediateData        bool
	MaxBurstLength       uint32
	FirstBurstLength     uint32
	DefaultTime2Wait     uint16
	DefaultTime2Retain   uint16
	MaxOutstandingR2T    uint16
	DataPDUInOrder       bool
	DataSequenceInOrder  bool
	ErrorRecoveryLevel   byte
	TargetPortalGroupTag uint16
}

// SessionType distinguishes a Normal (I/O-capable) session from a
// Discovery session (text negotiation and target enumeration only).
type SessionType int

const (
	SessionTypeNormal SessionType = iota
	SessionTypeDiscovery
)

func (s SessionType) String() string {
	if s == SessionTypeDiscovery {
		return "Discovery"
	}
	return "Normal"
}

// ParseSessionType parses the SessionType key's value.
func ParseSessionType(v string) (SessionType, error) {
	switch v {
	case "Normal":
		return SessionTypeNormal, nil
	case "Discovery":
		return SessionTypeDiscovery, nil
	default:
		return 0, &ParseError{Key: KeySessionType, Value: v, Reason: "must be Normal or Discovery"}
	}
}

// getSessionType decides whether a session is Normal or Discovery.
//
// The field this depends on is SessionType itself, not MaxOutstandingR2T:
// an earlier draft of this logic checked MaxOutstandingR2T's zero value
// as a stand-in for "session type not yet negotiated", which misclassified
// any session that explicitly negotiated MaxOutstandingR2T=0 before
// SessionType arrived. Corrected to check the SessionType field directly.
func getSessionType(s *Settings) SessionType {
	return s.SessionType
}
