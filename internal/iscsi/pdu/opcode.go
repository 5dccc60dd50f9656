// Package pdu implements the wire encoding of iSCSI Protocol Data Units:
// the 48-byte Basic Header Segment (BHS), per-opcode typed views over it,
// and the digest/padding rules that frame a PDU on the connection.
//
// Grounded on coreos-go-tcmu's scsi/scsi_defs.go for the opcode-table
// style (a flat constant block per RFC) and on dittofs's per-operation
// handler-file layout (internal/protocol/nfs/v3/handlers) for splitting
// the package by concern: opcodes (opcode.go), BHS accessors (bhs.go),
// every per-opcode typed view (messages.go), digests, errors and the
// codec.
package pdu

// Opcode identifies the PDU type carried in the low 6 bits of BHS byte 0.
type Opcode byte

// Initiator-to-target opcodes.
const (
	OpNopOut        Opcode = 0x00
	OpSCSICommand   Opcode = 0x01
	OpSCSITaskMgmt  Opcode = 0x02
	OpLoginRequest  Opcode = 0x03
	OpTextRequest   Opcode = 0x04
	OpSCSIDataOut   Opcode = 0x05
	OpLogoutRequest Opcode = 0x06
	OpSNACKRequest  Opcode = 0x10
)

// Target-to-initiator opcodes.
const (
	OpNopIn         Opcode = 0x20
	OpSCSIResponse  Opcode = 0x21
	OpSCSITaskResp  Opcode = 0x22
	OpLoginResponse Opcode = 0x23
	OpTextResponse  Opcode = 0x24
	OpSCSIDataIn    Opcode = 0x25
	OpLogoutResp    Opcode = 0x26
	OpR2T           Opcode = 0x31
	OpAsyncMessage  Opcode = 0x32
	OpReject        Opcode = 0x3f
)

// String renders the mnemonic used in log lines and error messages.
func (op Opcode) String() string {
	switch op {
	case OpNopOut:
		return "NOP-Out"
	case OpSCSICommand:
		return "SCSI-Command"
	case OpSCSITaskMgmt:
		return "SCSI-Task-Management-Request"
	case OpLoginRequest:
		return "Login-Request"
	case OpTextRequest:
		return "Text-Request"
	case OpSCSIDataOut:
		return "SCSI-Data-Out"
	case OpLogoutRequest:
		return "Logout-Request"
	case OpSNACKRequest:
		return "SNACK-Request"
	case OpNopIn:
		return "NOP-In"
	case OpSCSIResponse:
		return "SCSI-Response"
	case OpSCSITaskResp:
		return "SCSI-Task-Management-Response"
	case OpLoginResponse:
		return "Login-Response"
	case OpTextResponse:
		return "Text-Response"
	case OpSCSIDataIn:
		return "SCSI-Data-In"
	case OpLogoutResp:
		return "Logout-Response"
	case OpR2T:
		return "R2T"
	case OpAsyncMessage:
		return "Async-Message"
	case OpReject:
		return "Reject"
	default:
		return "Unknown-Opcode"
	}
}
