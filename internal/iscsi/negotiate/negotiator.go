package negotiate

import (
	"fmt"
	"strconv"
	"strings"
)

// TargetPreferences is the target's own side of every negotiable key,
// read from configuration and held constant across a connection's
// negotiation. Offered values are resolved against these per Disposition.
type TargetPreferences struct {
	AllowSloppyNegotiation bool // Open Question: accept keys outside the supported set instead of rejecting

	SupportedAuthMethods   []string // in the target's own preference order
	SupportedHeaderDigests []string
	SupportedDataDigests   []string

	MaxConnections       uint16
	InitialR2T           bool
	ImmediateData        bool
	MaxRecvDataSegmentLength uint32
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

// DefaultTargetPreferences returns the preferences this core negotiates
// with when a target's configuration does not override them.
func DefaultTargetPreferences() TargetPreferences {
	return TargetPreferences{
		SupportedAuthMethods:     []string{"None"},
		SupportedHeaderDigests:   []string{"None", "CRC32C"},
		SupportedDataDigests:     []string{"None", "CRC32C"},
		MaxConnections:           1,
		InitialR2T:               true,
		ImmediateData:            true,
		MaxRecvDataSegmentLength: 8192,
		MaxBurstLength:           262144,
		FirstBurstLength:         65536,
		DefaultTime2Wait:         2,
		DefaultTime2Retain:       20,
		MaxOutstandingR2T:        1,
		DataPDUInOrder:           true,
		DataSequenceInOrder:      true,
		ErrorRecoveryLevel:       0,
		TargetPortalGroupTag:     1,
	}
}

// Negotiator accumulates offered key=value pairs for one Login/Text
// exchange and resolves each against TargetPreferences per its
// Disposition, producing the value sent back to the initiator.
type Negotiator struct {
	prefs    TargetPreferences
	declared map[string]string
	resolved map[string]string
}

// NewNegotiator creates a Negotiator bound to prefs.
func NewNegotiator(prefs TargetPreferences) *Negotiator {
	return &Negotiator{
		prefs:    prefs,
		declared: make(map[string]string),
		resolved: make(map[string]string),
	}
}

// Offer processes one key=value pair offered by the initiator and returns
// the value this core will send back in its response (or counter-offer).
func (n *Negotiator) Offer(key, value string) (string, error) {
	def, ok := KeyTable[key]
	if !ok {
		if n.prefs.AllowSloppyNegotiation {
			n.declared[key] = value
			n.resolved[key] = value
			return value, nil
		}
		return "", fmt.Errorf("negotiate: unsupported key %q", key)
	}

	n.declared[key] = value

	var response string
	var err error
	switch def.Disposition {
	case Declarative:
		response, err = n.resolveDeclarative(key, value, def)
	case BooleanAND:
		response, err = n.resolveBoolean(key, value, n.targetBool(key), true)
	case BooleanOR:
		response, err = n.resolveBoolean(key, value, n.targetBool(key), false)
	case MinimumOf:
		response, err = n.resolveMinimum(key, value, def)
	case Literal:
		response, err = n.resolveLiteral(key, value)
	default:
		err = fmt.Errorf("negotiate: key %q has no resolution rule", key)
	}
	if err != nil {
		return "", err
	}

	n.resolved[key] = response
	return response, nil
}

func (n *Negotiator) resolveDeclarative(key, value string, def KeyDef) (string, error) {
	if def.Min != 0 || def.Max != 0 {
		v, err := parseInt(value)
		if err != nil {
			return "", err
		}
		if v < def.Min || v > def.Max {
			return "", fmt.Errorf("negotiate: %s=%d outside [%d,%d]", key, v, def.Min, def.Max)
		}
	}
	// Echoed back verbatim: the sender's statement of fact is accepted
	// as-is. No target-side override happens here; Finalize takes
	// TargetPortalGroupTag from TargetPreferences instead of any offered
	// value.
	return value, nil
}

func (n *Negotiator) resolveBoolean(key, offered string, targetWants bool, and bool) (string, error) {
	offeredBool, err := parseBool(offered)
	if err != nil {
		err.(*ParseError).Key = key
		return "", err
	}
	var result bool
	if and {
		result = offeredBool && targetWants
	} else {
		result = offeredBool || targetWants
	}
	return formatBool(result), nil
}

func (n *Negotiator) resolveMinimum(key, offered string, def KeyDef) (string, error) {
	offeredVal, err := parseInt(offered)
	if err != nil {
		err.(*ParseError).Key = key
		return "", err
	}
	targetVal := n.targetInt(key)
	result := offeredVal
	if targetVal < result {
		result = targetVal
	}
	if result < def.Min {
		result = def.Min
	}
	if def.Max > 0 && result > def.Max {
		result = def.Max
	}
	return strconv.FormatInt(result, 10), nil
}

func (n *Negotiator) resolveLiteral(key, offered string) (string, error) {
	candidates := strings.Split(offered, ",")
	supported := n.targetList(key)
	for _, pref := range supported {
		for _, cand := range candidates {
			if cand == pref {
				return cand, nil
			}
		}
	}
	return "", fmt.Errorf("negotiate: no common value for %s among %v", key, candidates)
}

func (n *Negotiator) targetBool(key string) bool {
	switch key {
	case KeyInitialR2T:
		return n.prefs.InitialR2T
	case KeyImmediateData:
		return n.prefs.ImmediateData
	case KeyDataPDUInOrder:
		return n.prefs.DataPDUInOrder
	case KeyDataSequenceInOrder:
		return n.prefs.DataSequenceInOrder
	default:
		return true
	}
}

func (n *Negotiator) targetInt(key string) int64 {
	switch key {
	case KeyMaxConnections:
		return int64(n.prefs.MaxConnections)
	case KeyMaxBurstLength:
		return int64(n.prefs.MaxBurstLength)
	case KeyFirstBurstLength:
		return int64(n.prefs.FirstBurstLength)
	case KeyDefaultTime2Wait:
		return int64(n.prefs.DefaultTime2Wait)
	case KeyDefaultTime2Retain:
		return int64(n.prefs.DefaultTime2Retain)
	case KeyMaxOutstandingR2T:
		return int64(n.prefs.MaxOutstandingR2T)
	case KeyErrorRecoveryLevel:
		return int64(n.prefs.ErrorRecoveryLevel)
	default:
		return 1 << 62
	}
}

func (n *Negotiator) targetList(key string) []string {
	switch key {
	case KeyAuthMethod:
		return n.prefs.SupportedAuthMethods
	case KeyHeaderDigest:
		return n.prefs.SupportedHeaderDigests
	case KeyDataDigest:
		return n.prefs.SupportedDataDigests
	default:
		return nil
	}
}

// Declared returns the raw value the initiator offered for key, if any.
func (n *Negotiator) Declared(key string) (string, bool) {
	v, ok := n.declared[key]
	return v, ok
}

// Resolved returns the value this core resolved for key, if it has been
// offered and processed.
func (n *Negotiator) Resolved(key string) (string, bool) {
	v, ok := n.resolved[key]
	return v, ok
}

// Finalize produces an immutable Settings snapshot. A key never offered
// takes the target's own value from TargetPreferences (for example
// MaxRecvDataSegmentLength), or a fixed fallback for the identity,
// SessionType and digest keys (empty names, Normal, None).
func (n *Negotiator) Finalize() (Settings, error) {
	s := Settings{SettingsID: nextSettingsID()}

	s.InitiatorName = n.valueOr(KeyInitiatorName, "")
	s.InitiatorAlias = n.valueOr(KeyInitiatorAlias, "")
	s.TargetName = n.valueOr(KeyTargetName, "")
	s.TargetAlias = n.valueOr(KeyTargetAlias, "")

	sessionType, err := ParseSessionType(n.valueOr(KeySessionType, "Normal"))
	if err != nil {
		return Settings{}, err
	}
	s.SessionType = sessionType

	s.HeaderDigestEnabled = n.valueOr(KeyHeaderDigest, "None") == "CRC32C"
	s.DataDigestEnabled = n.valueOr(KeyDataDigest, "None") == "CRC32C"

	s.MaxRecvDataSegmentLength = uint32(n.intOr(KeyMaxRecvDataSegmentLength, int64(n.prefs.MaxRecvDataSegmentLength)))

	// MaxConnections is clamped to 1 regardless of what was negotiated:
	// this core does not implement multiple connections per session.
	s.MaxConnections = 1

	s.InitialR2T = n.boolOr(KeyInitialR2T, n.prefs.InitialR2T)
	s.ImmediateData = n.boolOr(KeyImmediateData, n.prefs.ImmediateData)
	s.MaxBurstLength = uint32(n.intOr(KeyMaxBurstLength, int64(n.prefs.MaxBurstLength)))
	s.FirstBurstLength = uint32(n.intOr(KeyFirstBurstLength, int64(n.prefs.FirstBurstLength)))
	s.DefaultTime2Wait = uint16(n.intOr(KeyDefaultTime2Wait, int64(n.prefs.DefaultTime2Wait)))
	s.DefaultTime2Retain = uint16(n.intOr(KeyDefaultTime2Retain, int64(n.prefs.DefaultTime2Retain)))
	s.MaxOutstandingR2T = uint16(n.intOr(KeyMaxOutstandingR2T, int64(n.prefs.MaxOutstandingR2T)))
	s.DataPDUInOrder = n.boolOr(KeyDataPDUInOrder, n.prefs.DataPDUInOrder)
	s.DataSequenceInOrder = n.boolOr(KeyDataSequenceInOrder, n.prefs.DataSequenceInOrder)
	s.ErrorRecoveryLevel = byte(n.intOr(KeyErrorRecoveryLevel, int64(n.prefs.ErrorRecoveryLevel)))
	s.TargetPortalGroupTag = n.prefs.TargetPortalGroupTag

	return s, nil
}

func (n *Negotiator) valueOr(key, fallback string) string {
	if v, ok := n.resolved[key]; ok {
		return v
	}
	if v, ok := n.declared[key]; ok {
		return v
	}
	return fallback
}

func (n *Negotiator) intOr(key string, fallback int64) int64 {
	v, ok := n.resolved[key]
	if !ok {
		return fallback
	}
	n2, err := parseInt(v)
	if err != nil {
		return fallback
	}
	return n2
}

func (n *Negotiator) boolOr(key string, fallback bool) bool {
	v, ok := n.resolved[key]
	if !ok {
		return fallback
	}
	b, err := parseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
