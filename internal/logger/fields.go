package logger

// Standard field keys for structured logging. Using these consistently
// keeps log lines greppable and lets log aggregation group by key.
const (
	// Target/session/connection identity.
	KeyTargetName    = "target"
	KeyInitiatorName = "initiator"
	KeyTSIH          = "tsih"
	KeyCID           = "cid"
	KeyISID          = "isid"
	KeyClientAddr    = "address"

	// PDU/opcode.
	KeyOpcode = "opcode"
	KeyITT    = "itt"
	KeyTTT    = "ttt"
	KeyCmdSN  = "cmdsn"
	KeyStatSN = "statsn"

	// SCSI.
	KeyLUN      = "lun"
	KeyCDB      = "cdb"
	KeySenseKey = "sense_key"
	KeyASC      = "asc"
	KeyLBA      = "lba"
	KeyLength   = "length"

	// Negotiation.
	KeySettingsID = "settings_id"
	KeyKey        = "key"
	KeyValue      = "value"

	// Generic.
	KeyError     = "error"
	KeyDuration  = "duration_ms"
	KeyBytes     = "bytes"
)
