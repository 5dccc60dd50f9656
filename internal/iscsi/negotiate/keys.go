// Package negotiate implements the key=value text negotiation carried in
// Login and Text PDUs: parsing, per-key disposition rules (declarative,
// boolean-AND, boolean-OR, minimum-of, literal choice), and the resulting
// immutable Settings snapshot a session or connection operates under.
//
// Grounded on dittofs's pkg/config layered-default pattern for the idea
// of a typed settings struct built up from successive overrides, adapted
// here to the wire-driven, bilateral negotiation iSCSI specifies instead
// of config-file layering.
package negotiate

import "strconv"

// Disposition is the rule RFC 3720 section 12 assigns to a key for
// resolving the initiator's offer against the target's counter-offer.
type Disposition int

const (
	// Declarative keys are stated by one side and simply accepted by the
	// other (TargetName, InitiatorName, SessionType, TargetAlias).
	Declarative Disposition = iota
	// BooleanAND resolves to Yes only if both sides say Yes
	// (ImmediateData, DataPDUInOrder, DataSequenceInOrder).
	BooleanAND
	// BooleanOR resolves to Yes if either side says Yes (InitialR2T).
	BooleanOR
	// MinimumOf resolves to the smaller of the two numeric offers,
	// clamped to the key's valid range (MaxBurstLength, MaxConnections).
	MinimumOf
	// Literal resolves by the initiator listing candidates and the
	// target walking its own supported list in its own preference order,
	// picking the first value the initiator also listed
	// (AuthMethod, HeaderDigest, DataDigest).
	Literal
)

// Scope identifies whether a key is negotiated per-connection or carries
// over to the whole session.
type Scope int

const (
	ScopeConnection Scope = iota
	ScopeSession
)

// KeyDef describes one negotiable key's resolution rule and bounds.
type KeyDef struct {
	Name        string
	Disposition Disposition
	Scope       Scope
	Min, Max    int64 // meaningful only for MinimumOf
	Default     string
}

// Standard operational keys, RFC 3720 section 12 and 11.
var (
	KeyInitiatorName             = "InitiatorName"
	KeyInitiatorAlias            = "InitiatorAlias"
	KeyTargetName                = "TargetName"
	KeyTargetAlias               = "TargetAlias"
	KeySessionType                = "SessionType"
	KeyAuthMethod                = "AuthMethod"
	KeyHeaderDigest              = "HeaderDigest"
	KeyDataDigest                = "DataDigest"
	KeyMaxConnections            = "MaxConnections"
	KeyInitialR2T                = "InitialR2T"
	KeyImmediateData             = "ImmediateData"
	KeyMaxRecvDataSegmentLength  = "MaxRecvDataSegmentLength"
	KeyMaxBurstLength            = "MaxBurstLength"
	KeyFirstBurstLength          = "FirstBurstLength"
	KeyDefaultTime2Wait          = "DefaultTime2Wait"
	KeyDefaultTime2Retain        = "DefaultTime2Retain"
	KeyMaxOutstandingR2T         = "MaxOutstandingR2T"
	KeyDataPDUInOrder            = "DataPDUInOrder"
	KeyDataSequenceInOrder       = "DataSequenceInOrder"
	KeyErrorRecoveryLevel        = "ErrorRecoveryLevel"
	KeyTargetPortalGroupTag      = "TargetPortalGroupTag"
)

// KeyTable is this core's full set of understood negotiation keys.
var KeyTable = map[string]KeyDef{
	KeyInitiatorName:            {Name: KeyInitiatorName, Disposition: Declarative, Scope: ScopeSession},
	KeyInitiatorAlias:           {Name: KeyInitiatorAlias, Disposition: Declarative, Scope: ScopeSession},
	KeyTargetName:               {Name: KeyTargetName, Disposition: Declarative, Scope: ScopeSession},
	KeyTargetAlias:              {Name: KeyTargetAlias, Disposition: Declarative, Scope: ScopeSession},
	KeySessionType:              {Name: KeySessionType, Disposition: Declarative, Scope: ScopeSession, Default: "Normal"},
	KeyAuthMethod:               {Name: KeyAuthMethod, Disposition: Literal, Scope: ScopeConnection, Default: "None"},
	KeyHeaderDigest:             {Name: KeyHeaderDigest, Disposition: Literal, Scope: ScopeConnection, Default: "None"},
	KeyDataDigest:               {Name: KeyDataDigest, Disposition: Literal, Scope: ScopeConnection, Default: "None"},
	KeyMaxConnections:           {Name: KeyMaxConnections, Disposition: MinimumOf, Scope: ScopeSession, Min: 1, Max: 1, Default: "1"},
	KeyInitialR2T:               {Name: KeyInitialR2T, Disposition: BooleanOR, Scope: ScopeSession, Default: "Yes"},
	KeyImmediateData:            {Name: KeyImmediateData, Disposition: BooleanAND, Scope: ScopeSession, Default: "Yes"},
	KeyMaxRecvDataSegmentLength: {Name: KeyMaxRecvDataSegmentLength, Disposition: Declarative, Scope: ScopeConnection, Min: 512, Max: 16 * 1024 * 1024, Default: "8192"},
	KeyMaxBurstLength:           {Name: KeyMaxBurstLength, Disposition: MinimumOf, Scope: ScopeSession, Min: 512, Max: 16 * 1024 * 1024, Default: "262144"},
	KeyFirstBurstLength:         {Name: KeyFirstBurstLength, Disposition: MinimumOf, Scope: ScopeSession, Min: 512, Max: 16 * 1024 * 1024, Default: "65536"},
	KeyDefaultTime2Wait:         {Name: KeyDefaultTime2Wait, Disposition: MinimumOf, Scope: ScopeSession, Min: 0, Max: 3600, Default: "2"},
	KeyDefaultTime2Retain:       {Name: KeyDefaultTime2Retain, Disposition: MinimumOf, Scope: ScopeSession, Min: 0, Max: 3600, Default: "20"},
	KeyMaxOutstandingR2T:        {Name: KeyMaxOutstandingR2T, Disposition: MinimumOf, Scope: ScopeSession, Min: 1, Max: 65535, Default: "1"},
	KeyDataPDUInOrder:           {Name: KeyDataPDUInOrder, Disposition: BooleanAND, Scope: ScopeSession, Default: "Yes"},
	KeyDataSequenceInOrder:      {Name: KeyDataSequenceInOrder, Disposition: BooleanAND, Scope: ScopeSession, Default: "Yes"},
	KeyErrorRecoveryLevel:       {Name: KeyErrorRecoveryLevel, Disposition: MinimumOf, Scope: ScopeSession, Min: 0, Max: 2, Default: "0"},
	KeyTargetPortalGroupTag:     {Name: KeyTargetPortalGroupTag, Disposition: Declarative, Scope: ScopeSession, Default: "1"},
}

func parseBool(v string) (bool, error) {
	switch v {
	case "Yes":
		return true, nil
	case "No":
		return false, nil
	default:
		return false, &ParseError{Key: "", Value: v, Reason: "not a boolean (Yes/No)"}
	}
}

func formatBool(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

func parseInt(v string) (int64, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, &ParseError{Value: v, Reason: "not an integer"}
	}
	return n, nil
}

// ParseError reports a malformed value for a negotiated key.
type ParseError struct {
	Key, Value, Reason string
}

func (e *ParseError) Error() string {
	return "negotiate: key " + e.Key + " value " + e.Value + ": " + e.Reason
}
