// Package protoerr holds the error types shared across the protocol
// engine's layers, separate from pdu.CodecError so that a decode failure
// (answered with a REJECT; the connection stays open after a data-digest
// failure and closes after the others) and a protocol
// violation (connection must close) are distinct types a caller can
// switch on, per spec.md's design note calling for a two-level error sum.
//
// Grounded on dittofs's pkg/metadata/errors ErrorCode-enum-plus-wrap
// pattern (a small closed set of classification codes, each wrapped with
// fmt.Errorf %w around the underlying cause).
package protoerr

import "fmt"

// ProtocolErrorCode classifies a violation severe enough to close the
// connection rather than answer with a REJECT PDU.
type ProtocolErrorCode int

const (
	// ErrCodeUnexpectedFirstPDU means the first PDU on a new socket was
	// not LOGIN_REQUEST.
	ErrCodeUnexpectedFirstPDU ProtocolErrorCode = iota
	// ErrCodeNegotiationFailed means text negotiation could not resolve
	// a required or offered key.
	ErrCodeNegotiationFailed
	// ErrCodeUnknownTarget means a login named a target not in the
	// registry.
	ErrCodeUnknownTarget
	// ErrCodeSessionReinstatementUnsupported means a login arrived with
	// a nonzero TSIH that does not match a live session.
	ErrCodeSessionReinstatementUnsupported
	// ErrCodeExpStatSNMismatch means a connection's ExpStatSN echo fell
	// outside the window of sent StatSN values.
	ErrCodeExpStatSNMismatch
	// ErrCodeOutOfWindowCommand means a SCSI-Command's CmdSN fell
	// outside [ExpCmdSN, MaxCmdSN].
	ErrCodeOutOfWindowCommand
)

func (c ProtocolErrorCode) String() string {
	switch c {
	case ErrCodeUnexpectedFirstPDU:
		return "unexpected_first_pdu"
	case ErrCodeNegotiationFailed:
		return "negotiation_failed"
	case ErrCodeUnknownTarget:
		return "unknown_target"
	case ErrCodeSessionReinstatementUnsupported:
		return "session_reinstatement_unsupported"
	case ErrCodeExpStatSNMismatch:
		return "exp_statsn_mismatch"
	case ErrCodeOutOfWindowCommand:
		return "out_of_window_command"
	default:
		return "unknown"
	}
}

// ProtocolError wraps a protocol-layer violation. Its presence on a
// connection's processing path always means the connection is torn down
// after the appropriate response (LOGIN_RESPONSE or REJECT) is sent.
type ProtocolError struct {
	Code ProtocolErrorCode
	Msg  string
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("protocol: %s: %s", e.Code, e.Msg)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// New constructs a ProtocolError.
func New(code ProtocolErrorCode, msg string) *ProtocolError {
	return &ProtocolError{Code: code, Msg: msg}
}

// Wrap constructs a ProtocolError wrapping an underlying cause.
func Wrap(code ProtocolErrorCode, msg string, err error) *ProtocolError {
	return &ProtocolError{Code: code, Msg: msg, Err: err}
}

// SenseKey is the SCSI sense key byte (SPC-3 table 27).
type SenseKey byte

const (
	SenseKeyNoSense       SenseKey = 0x00
	SenseKeyIllegalRequest SenseKey = 0x05
	SenseKeyAbortedCommand SenseKey = 0x0b
	SenseKeyMediumError    SenseKey = 0x03
)

// SenseError is a SCSI-level failure: a sense key plus ASC/ASCQ pair,
// reported to the initiator as CHECK CONDITION status with fixed-format
// sense data rather than closing the connection.
type SenseError struct {
	Key      SenseKey
	ASC      byte
	ASCQ     byte
	Msg      string
}

func (e *SenseError) Error() string {
	return fmt.Sprintf("scsi: sense key=0x%02x asc=0x%02x ascq=0x%02x: %s", e.Key, e.ASC, e.ASCQ, e.Msg)
}

// Common sense errors this core reports.
var (
	SenseInvalidOpcode = &SenseError{Key: SenseKeyIllegalRequest, ASC: 0x20, ASCQ: 0x00, Msg: "invalid command operation code"}
	SenseLBAOutOfRange = &SenseError{Key: SenseKeyIllegalRequest, ASC: 0x21, ASCQ: 0x00, Msg: "logical block address out of range"}
	SenseNoSense       = &SenseError{Key: SenseKeyNoSense, ASC: 0x00, ASCQ: 0x00, Msg: "no sense"}
)
