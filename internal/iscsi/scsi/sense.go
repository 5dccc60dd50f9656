// Package scsi implements the CDB dispatcher (C8): parsing the 16-byte
// Command Descriptor Block carried in a SCSI-Command PDU and producing
// either an immediate response (status + optional data) or a streaming
// read/write request the caller hands to the transfer engine.
//
// Grounded on coreos-go-tcmu's scsi package for the opcode-constant and
// fixed-response-byte-layout style (scsi_defs.go plus its response
// builders), and on dittofs's per-operation handler-file layout
// (internal/protocol/nfs/v3/handlers) for keeping CDB parsing (cdb.go),
// dispatch (dispatcher.go), the inquiry/VPD/capacity/mode-sense/report-luns
// response builders (responses.go) and sense data (sense.go) in separate
// files around one opcode switch.
package scsi

import "github.com/istgtd/istgtd/internal/iscsi/protoerr"

// FixedSenseLen is the minimum fixed-format sense data length SPC-3
// requires (response code 0x70, through the additional-sense-length
// byte plus 10 more bytes of fixed fields).
const FixedSenseLen = 18

// BuildSense renders se as fixed-format sense data (response code 0x70),
// the format every SCSI_RESPONSE with status=CHECK CONDITION carries.
func BuildSense(se *protoerr.SenseError) []byte {
	b := make([]byte, FixedSenseLen)
	b[0] = 0x70 // current errors, fixed format
	b[2] = byte(se.Key)
	b[7] = FixedSenseLen - 8 // additional sense length
	b[12] = se.ASC
	b[13] = se.ASCQ
	return b
}
