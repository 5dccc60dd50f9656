package pdu

// CSG/NSG stage identifiers used by the Login phase's opcode-specific
// bits 2-3 and 0-1 of byte 1.
type Stage byte

const (
	StageSecurityNegotiation Stage = 0
	StageLoginOperational    Stage = 1
	StageFullFeature         Stage = 3
)

// LoginRequest is the typed view over a Login-Request BHS (opcode 0x03).
type LoginRequest struct {
	Transit         bool // T-bit
	Continue        bool // C-bit
	CSG, NSG        Stage
	VersionMax      byte
	VersionMin      byte
	ISID            [6]byte
	TSIH            uint16
	InitiatorTaskTag uint32
	CID             uint16
	CmdSN           uint32
	ExpStatSN       uint32
	DataSegmentLength uint32
}

// DecodeLoginRequest parses a Login-Request BHS.
func DecodeLoginRequest(b *BHS) LoginRequest {
	var r LoginRequest
	r.Transit = b[1]&0x80 != 0
	r.Continue = b[1]&0x40 != 0
	r.CSG = Stage((b[1] >> 2) & 0x03)
	r.NSG = Stage(b[1] & 0x03)
	r.VersionMax = b[2]
	r.VersionMin = b[3]
	r.DataSegmentLength = b.DataSegmentLength()
	copy(r.ISID[:], b[8:14])
	r.TSIH = getUint16(b[14:16])
	r.InitiatorTaskTag = b.InitiatorTaskTag()
	r.CID = getUint16(b[20:22])
	r.CmdSN = getUint32(b[24:28])
	r.ExpStatSN = getUint32(b[28:32])
	return r
}

// Encode writes r into a fresh BHS.
func (r LoginRequest) Encode() BHS {
	var b BHS
	b.SetOpcode(OpLoginRequest)
	b.SetImmediate(true)
	if r.Transit {
		b[1] |= 0x80
	}
	if r.Continue {
		b[1] |= 0x40
	}
	b[1] |= byte(r.CSG&0x03) << 2
	b[1] |= byte(r.NSG & 0x03)
	b[2] = r.VersionMax
	b[3] = r.VersionMin
	b.SetDataSegmentLength(r.DataSegmentLength)
	copy(b[8:14], r.ISID[:])
	putUint16(b[14:16], r.TSIH)
	b.SetInitiatorTaskTag(r.InitiatorTaskTag)
	putUint16(b[20:22], r.CID)
	putUint32(b[24:28], r.CmdSN)
	putUint32(b[28:32], r.ExpStatSN)
	return b
}

// LoginResponse is the typed view over a Login-Response BHS (opcode 0x23).
type LoginResponse struct {
	Transit          bool
	Continue         bool
	CSG, NSG         Stage
	VersionMax       byte
	VersionActive    byte
	ISID             [6]byte
	TSIH             uint16
	InitiatorTaskTag uint32
	StatSN           uint32
	ExpCmdSN         uint32
	MaxCmdSN         uint32
	StatusClass      byte
	StatusDetail     byte
	DataSegmentLength uint32
}

// Encode writes r into a fresh BHS.
func (r LoginResponse) Encode() BHS {
	var b BHS
	b.SetOpcode(OpLoginResponse)
	if r.Transit {
		b[1] |= 0x80
	}
	if r.Continue {
		b[1] |= 0x40
	}
	b[1] |= byte(r.CSG&0x03) << 2
	b[1] |= byte(r.NSG & 0x03)
	b[2] = r.VersionMax
	b[3] = r.VersionActive
	b.SetDataSegmentLength(r.DataSegmentLength)
	copy(b[8:14], r.ISID[:])
	putUint16(b[14:16], r.TSIH)
	b.SetInitiatorTaskTag(r.InitiatorTaskTag)
	putUint32(b[24:28], r.StatSN)
	putUint32(b[28:32], r.ExpCmdSN)
	putUint32(b[32:36], r.MaxCmdSN)
	b[36] = r.StatusClass
	b[37] = r.StatusDetail
	return b
}

// DecodeLoginResponse parses a Login-Response BHS, used by tests that
// round-trip the codec from the initiator's perspective.
func DecodeLoginResponse(b *BHS) LoginResponse {
	var r LoginResponse
	r.Transit = b[1]&0x80 != 0
	r.Continue = b[1]&0x40 != 0
	r.CSG = Stage((b[1] >> 2) & 0x03)
	r.NSG = Stage(b[1] & 0x03)
	r.VersionMax = b[2]
	r.VersionActive = b[3]
	r.DataSegmentLength = b.DataSegmentLength()
	copy(r.ISID[:], b[8:14])
	r.TSIH = getUint16(b[14:16])
	r.InitiatorTaskTag = b.InitiatorTaskTag()
	r.StatSN = getUint32(b[24:28])
	r.ExpCmdSN = getUint32(b[28:32])
	r.MaxCmdSN = getUint32(b[32:36])
	r.StatusClass = b[36]
	r.StatusDetail = b[37]
	return r
}

// TextRequest is the typed view over a Text-Request BHS (opcode 0x04).
type TextRequest struct {
	Final            bool
	Continue         bool
	LUN              uint64
	InitiatorTaskTag uint32
	TargetTransferTag uint32
	CmdSN            uint32
	ExpStatSN        uint32
	DataSegmentLength uint32
}

// DecodeTextRequest parses a Text-Request BHS.
func DecodeTextRequest(b *BHS) TextRequest {
	var r TextRequest
	r.Final = b[1]&0x80 != 0
	r.Continue = b[1]&0x40 != 0
	r.LUN = b.LUN()
	r.InitiatorTaskTag = b.InitiatorTaskTag()
	r.TargetTransferTag = getUint32(b[20:24])
	r.CmdSN = getUint32(b[24:28])
	r.ExpStatSN = getUint32(b[28:32])
	r.DataSegmentLength = b.DataSegmentLength()
	return r
}

// TextResponse is the typed view over a Text-Response BHS (opcode 0x24).
type TextResponse struct {
	Final             bool
	Continue          bool
	LUN               uint64
	InitiatorTaskTag  uint32
	TargetTransferTag uint32
	StatSN            uint32
	ExpCmdSN          uint32
	MaxCmdSN          uint32
	DataSegmentLength uint32
}

// Encode writes r into a fresh BHS.
func (r TextResponse) Encode() BHS {
	var b BHS
	b.SetOpcode(OpTextResponse)
	if r.Final {
		b[1] |= 0x80
	}
	if r.Continue {
		b[1] |= 0x40
	}
	b.SetLUN(r.LUN)
	b.SetInitiatorTaskTag(r.InitiatorTaskTag)
	putUint32(b[20:24], r.TargetTransferTag)
	putUint32(b[24:28], r.StatSN)
	putUint32(b[28:32], r.ExpCmdSN)
	putUint32(b[32:36], r.MaxCmdSN)
	b.SetDataSegmentLength(r.DataSegmentLength)
	return b
}

// SCSICommand is the typed view over a SCSI-Command BHS (opcode 0x01).
type SCSICommand struct {
	Immediate              bool
	Final                  bool
	Read, Write            bool
	TaskAttr               byte
	LUN                    uint64
	InitiatorTaskTag       uint32
	ExpectedDataTransferLength uint32
	CmdSN                  uint32
	ExpStatSN              uint32
	CDB                    [16]byte
	DataSegmentLength      uint32
}

// DecodeSCSICommand parses a SCSI-Command BHS.
func DecodeSCSICommand(b *BHS) SCSICommand {
	var c SCSICommand
	c.Immediate = b.Immediate()
	c.Final = b[1]&0x80 != 0
	c.Read = b[1]&0x40 != 0
	c.Write = b[1]&0x20 != 0
	c.TaskAttr = b[1] & 0x07
	c.LUN = b.LUN()
	c.InitiatorTaskTag = b.InitiatorTaskTag()
	c.ExpectedDataTransferLength = getUint32(b[20:24])
	c.CmdSN = getUint32(b[24:28])
	c.ExpStatSN = getUint32(b[28:32])
	copy(c.CDB[:], b[32:48])
	c.DataSegmentLength = b.DataSegmentLength()
	return c
}

// Encode writes c into a fresh BHS. Used by tests that drive the
// protocol engine from the initiator's side.
func (c SCSICommand) Encode() BHS {
	var b BHS
	b.SetOpcode(OpSCSICommand)
	b.SetImmediate(c.Immediate)
	if c.Final {
		b[1] |= 0x80
	}
	if c.Read {
		b[1] |= 0x40
	}
	if c.Write {
		b[1] |= 0x20
	}
	b[1] |= c.TaskAttr & 0x07
	b.SetLUN(c.LUN)
	b.SetInitiatorTaskTag(c.InitiatorTaskTag)
	putUint32(b[20:24], c.ExpectedDataTransferLength)
	putUint32(b[24:28], c.CmdSN)
	putUint32(b[28:32], c.ExpStatSN)
	copy(b[32:48], c.CDB[:])
	b.SetDataSegmentLength(c.DataSegmentLength)
	return b
}

// SCSIResponse is the typed view over a SCSI-Response BHS (opcode 0x21).
type SCSIResponse struct {
	Overflow, Underflow bool
	Status              byte
	Response            byte
	InitiatorTaskTag    uint32
	StatSN              uint32
	ExpCmdSN            uint32
	MaxCmdSN            uint32
	ExpDataSN           uint32
	ResidualCount       uint32
	DataSegmentLength   uint32
}

// Encode writes r into a fresh BHS.
func (r SCSIResponse) Encode() BHS {
	var b BHS
	b.SetOpcode(OpSCSIResponse)
	b.SetFinal(true)
	if r.Overflow {
		b[1] |= 0x04
	}
	if r.Underflow {
		b[1] |= 0x02
	}
	b[2] = r.Response
	b[3] = r.Status
	b.SetInitiatorTaskTag(r.InitiatorTaskTag)
	putUint32(b[24:28], r.StatSN)
	putUint32(b[28:32], r.ExpCmdSN)
	putUint32(b[32:36], r.MaxCmdSN)
	putUint32(b[36:40], r.ExpDataSN)
	putUint32(b[44:48], r.ResidualCount)
	b.SetDataSegmentLength(r.DataSegmentLength)
	return b
}

// DecodeSCSIResponse parses a SCSI-Response BHS.
func DecodeSCSIResponse(b *BHS) SCSIResponse {
	var r SCSIResponse
	r.Overflow = b[1]&0x04 != 0
	r.Underflow = b[1]&0x02 != 0
	r.Response = b[2]
	r.Status = b[3]
	r.InitiatorTaskTag = b.InitiatorTaskTag()
	r.StatSN = getUint32(b[24:28])
	r.ExpCmdSN = getUint32(b[28:32])
	r.MaxCmdSN = getUint32(b[32:36])
	r.ExpDataSN = getUint32(b[36:40])
	r.ResidualCount = getUint32(b[44:48])
	r.DataSegmentLength = b.DataSegmentLength()
	return r
}

// SenseData is the fixed-format sense data (SPC-3, response code 0x70)
// carried in a SCSI-Response's data segment when Status is CHECK
// CONDITION.
type SenseData struct {
	ResponseCode byte
	Key          byte
	ASC          byte
	ASCQ         byte
}

// DecodeSCSIResponseStatus parses the fixed-format sense data a
// CHECK CONDITION SCSI-Response carries, for tests and callers that want
// to inspect the sense key/ASC/ASCQ without reaching into scsi.BuildSense's
// byte layout directly. Returns the zero SenseData if data is too short
// to contain a fixed-format sense block.
func DecodeSCSIResponseStatus(data []byte) SenseData {
	if len(data) < 14 {
		return SenseData{}
	}
	return SenseData{
		ResponseCode: data[0],
		Key:          data[2] & 0x0f,
		ASC:          data[12],
		ASCQ:         data[13],
	}
}

// SCSIDataOut is the typed view over a SCSI-Data-Out BHS (opcode 0x05).
type SCSIDataOut struct {
	Final             bool
	LUN               uint64
	InitiatorTaskTag  uint32
	TargetTransferTag uint32
	ExpStatSN         uint32
	DataSN            uint32
	BufferOffset      uint32
	DataSegmentLength uint32
}

// DecodeSCSIDataOut parses a SCSI-Data-Out BHS.
func DecodeSCSIDataOut(b *BHS) SCSIDataOut {
	var d SCSIDataOut
	d.Final = b[1]&0x80 != 0
	d.LUN = b.LUN()
	d.InitiatorTaskTag = b.InitiatorTaskTag()
	d.TargetTransferTag = getUint32(b[20:24])
	d.ExpStatSN = getUint32(b[28:32])
	d.DataSN = getUint32(b[36:40])
	d.BufferOffset = getUint32(b[40:44])
	d.DataSegmentLength = b.DataSegmentLength()
	return d
}

// Encode writes d into a fresh BHS. Used by tests that drive the
// Transfer Engine's solicited-write path from the initiator's side.
func (d SCSIDataOut) Encode() BHS {
	var b BHS
	b.SetOpcode(OpSCSIDataOut)
	if d.Final {
		b[1] |= 0x80
	}
	b.SetLUN(d.LUN)
	b.SetInitiatorTaskTag(d.InitiatorTaskTag)
	putUint32(b[20:24], d.TargetTransferTag)
	putUint32(b[28:32], d.ExpStatSN)
	putUint32(b[36:40], d.DataSN)
	putUint32(b[40:44], d.BufferOffset)
	b.SetDataSegmentLength(d.DataSegmentLength)
	return b
}

// SCSIDataIn is the typed view over a SCSI-Data-In BHS (opcode 0x25).
type SCSIDataIn struct {
	Final, Acknowledge  bool
	Overflow, Underflow bool
	StatusPresent       bool
	LUN                 uint64
	InitiatorTaskTag    uint32
	TargetTransferTag   uint32
	StatSN              uint32
	ExpCmdSN            uint32
	MaxCmdSN            uint32
	DataSN              uint32
	BufferOffset        uint32
	ResidualCount       uint32
	Status              byte
	DataSegmentLength   uint32
}

// Encode writes d into a fresh BHS.
func (d SCSIDataIn) Encode() BHS {
	var b BHS
	b.SetOpcode(OpSCSIDataIn)
	if d.Final {
		b[1] |= 0x80
	}
	if d.Acknowledge {
		b[1] |= 0x40
	}
	if d.Overflow {
		b[1] |= 0x04
	}
	if d.Underflow {
		b[1] |= 0x02
	}
	if d.StatusPresent {
		b[1] |= 0x01
	}
	b.SetLUN(d.LUN)
	b.SetInitiatorTaskTag(d.InitiatorTaskTag)
	putUint32(b[20:24], d.TargetTransferTag)
	putUint32(b[24:28], d.StatSN)
	putUint32(b[28:32], d.ExpCmdSN)
	putUint32(b[32:36], d.MaxCmdSN)
	putUint32(b[36:40], d.DataSN)
	putUint32(b[40:44], d.BufferOffset)
	putUint32(b[44:48], d.ResidualCount)
	if d.StatusPresent {
		b[3] = d.Status
	}
	b.SetDataSegmentLength(d.DataSegmentLength)
	return b
}

// NopOut is the typed view over a NOP-Out BHS (opcode 0x00).
// InitiatorTaskTag of 0xffffffff means the initiator wants no NOP-In reply.
type NopOut struct {
	LUN               uint64
	InitiatorTaskTag  uint32
	TargetTransferTag uint32
	CmdSN             uint32
	ExpStatSN         uint32
	DataSegmentLength uint32
}

// DecodeNopOut parses a NOP-Out BHS.
func DecodeNopOut(b *BHS) NopOut {
	var n NopOut
	n.LUN = b.LUN()
	n.InitiatorTaskTag = b.InitiatorTaskTag()
	n.TargetTransferTag = getUint32(b[20:24])
	n.CmdSN = getUint32(b[24:28])
	n.ExpStatSN = getUint32(b[28:32])
	n.DataSegmentLength = b.DataSegmentLength()
	return n
}

// Encode writes n into a fresh BHS. Used by tests that drive the
// protocol engine from the initiator's side.
func (n NopOut) Encode() BHS {
	var b BHS
	b.SetOpcode(OpNopOut)
	b.SetFinal(true)
	b.SetImmediate(true)
	b.SetLUN(n.LUN)
	b.SetInitiatorTaskTag(n.InitiatorTaskTag)
	putUint32(b[20:24], n.TargetTransferTag)
	putUint32(b[24:28], n.CmdSN)
	putUint32(b[28:32], n.ExpStatSN)
	b.SetDataSegmentLength(n.DataSegmentLength)
	return b
}

// NopIn is the typed view over a NOP-In BHS (opcode 0x20).
type NopIn struct {
	LUN               uint64
	InitiatorTaskTag  uint32
	TargetTransferTag uint32
	StatSN            uint32
	ExpCmdSN          uint32
	MaxCmdSN          uint32
	DataSegmentLength uint32
}

// Encode writes n into a fresh BHS.
func (n NopIn) Encode() BHS {
	var b BHS
	b.SetOpcode(OpNopIn)
	b.SetFinal(true)
	b.SetLUN(n.LUN)
	b.SetInitiatorTaskTag(n.InitiatorTaskTag)
	putUint32(b[20:24], n.TargetTransferTag)
	putUint32(b[24:28], n.StatSN)
	putUint32(b[28:32], n.ExpCmdSN)
	putUint32(b[32:36], n.MaxCmdSN)
	b.SetDataSegmentLength(n.DataSegmentLength)
	return b
}

// LogoutReason identifies why a connection or session is being torn down.
type LogoutReason byte

const (
	LogoutCloseSession       LogoutReason = 0
	LogoutCloseConnection    LogoutReason = 1
	LogoutRemoveForRecovery  LogoutReason = 2
)

// LogoutRequest is the typed view over a Logout-Request BHS (opcode 0x06).
type LogoutRequest struct {
	Reason           LogoutReason
	InitiatorTaskTag uint32
	CID              uint16
	CmdSN            uint32
	ExpStatSN        uint32
}

// DecodeLogoutRequest parses a Logout-Request BHS.
func DecodeLogoutRequest(b *BHS) LogoutRequest {
	var l LogoutRequest
	l.Reason = LogoutReason(b[1] & 0x7f)
	l.InitiatorTaskTag = b.InitiatorTaskTag()
	l.CID = getUint16(b[20:22])
	l.CmdSN = getUint32(b[24:28])
	l.ExpStatSN = getUint32(b[28:32])
	return l
}

// Encode writes l into a fresh BHS. Used by tests that drive the Logout
// flow from the initiator's side.
func (l LogoutRequest) Encode() BHS {
	var b BHS
	b.SetOpcode(OpLogoutRequest)
	b.SetFinal(true)
	b.SetImmediate(true)
	b[1] |= byte(l.Reason) & 0x7f
	b.SetInitiatorTaskTag(l.InitiatorTaskTag)
	putUint16(b[20:22], l.CID)
	putUint32(b[24:28], l.CmdSN)
	putUint32(b[28:32], l.ExpStatSN)
	return b
}

// LogoutResponse is the typed view over a Logout-Response BHS (opcode 0x26).
type LogoutResponse struct {
	Response         byte
	InitiatorTaskTag uint32
	StatSN           uint32
	ExpCmdSN         uint32
	MaxCmdSN         uint32
	Time2Wait        uint16
	Time2Retain      uint16
}

// Encode writes l into a fresh BHS.
func (l LogoutResponse) Encode() BHS {
	var b BHS
	b.SetOpcode(OpLogoutResp)
	b.SetFinal(true)
	b[2] = l.Response
	b.SetInitiatorTaskTag(l.InitiatorTaskTag)
	putUint32(b[24:28], l.StatSN)
	putUint32(b[28:32], l.ExpCmdSN)
	putUint32(b[32:36], l.MaxCmdSN)
	putUint16(b[40:42], l.Time2Wait)
	putUint16(b[42:44], l.Time2Retain)
	return b
}

// R2T is the typed view over a Ready-To-Transfer BHS (opcode 0x31).
type R2T struct {
	LUN                      uint64
	InitiatorTaskTag         uint32
	TargetTransferTag        uint32
	StatSN                   uint32
	ExpCmdSN                 uint32
	MaxCmdSN                 uint32
	R2TSN                    uint32
	BufferOffset             uint32
	DesiredDataTransferLength uint32
}

// Encode writes r into a fresh BHS.
func (r R2T) Encode() BHS {
	var b BHS
	b.SetOpcode(OpR2T)
	b.SetFinal(true)
	b.SetLUN(r.LUN)
	b.SetInitiatorTaskTag(r.InitiatorTaskTag)
	putUint32(b[20:24], r.TargetTransferTag)
	putUint32(b[24:28], r.StatSN)
	putUint32(b[28:32], r.ExpCmdSN)
	putUint32(b[32:36], r.MaxCmdSN)
	putUint32(b[36:40], r.R2TSN)
	putUint32(b[40:44], r.BufferOffset)
	putUint32(b[44:48], r.DesiredDataTransferLength)
	return b
}

// RejectReason identifies why the target rejected a PDU (RFC 3720 10.17).
type RejectReason byte

const (
	RejectReasonDataDigestError       RejectReason = 0x02
	RejectReasonSNACKReject           RejectReason = 0x03
	RejectReasonProtocolError         RejectReason = 0x04
	RejectReasonCommandNotSupported   RejectReason = 0x05
	RejectReasonImmediateCmdReject    RejectReason = 0x06
	RejectReasonTaskInProgress        RejectReason = 0x07
	RejectReasonInvalidDataAckReject  RejectReason = 0x08
	RejectReasonInvalidPDUField       RejectReason = 0x09
	RejectReasonOutOfResources        RejectReason = 0x0a
	RejectReasonNegotiationReset      RejectReason = 0x0b
	RejectReasonWaitingForLogout      RejectReason = 0x0c
)

// Reject is the typed view over a Reject BHS (opcode 0x3f). The rejected
// PDU's own BHS is carried as the PDU's data segment.
type Reject struct {
	Reason   RejectReason
	StatSN   uint32
	ExpCmdSN uint32
	MaxCmdSN uint32
	DataSegmentLength uint32
}

// Encode writes r into a fresh BHS. ITT and TTT are always 0xffffffff.
func (r Reject) Encode() BHS {
	var b BHS
	b.SetOpcode(OpReject)
	b.SetFinal(true)
	b[2] = byte(r.Reason)
	b.SetInitiatorTaskTag(0xffffffff)
	putUint32(b[20:24], 0xffffffff)
	putUint32(b[24:28], r.StatSN)
	putUint32(b[28:32], r.ExpCmdSN)
	putUint32(b[32:36], r.MaxCmdSN)
	b.SetDataSegmentLength(r.DataSegmentLength)
	return b
}

// AsyncEvent identifies the kind of event reported by an Async-Message.
type AsyncEvent byte

const (
	AsyncEventSCSIAsyncEvent      AsyncEvent = 0
	AsyncEventLogoutRequest       AsyncEvent = 1
	AsyncEventSessionDropped      AsyncEvent = 2
	AsyncEventParamsNegotiated    AsyncEvent = 3
)

// AsyncMessage is the typed view over an Async-Message BHS (opcode 0x32).
// The connection code does not send one; an idle-timeout close happens
// without an Async-Message.
type AsyncMessage struct {
	LUN        uint64
	StatSN     uint32
	ExpCmdSN   uint32
	MaxCmdSN   uint32
	Event      AsyncEvent
	Param1     uint16
	Param2     uint16
	Param3     uint16
}

// Encode writes a into a fresh BHS.
func (a AsyncMessage) Encode() BHS {
	var b BHS
	b.SetOpcode(OpAsyncMessage)
	b.SetFinal(true)
	b.SetLUN(a.LUN)
	b.SetInitiatorTaskTag(0xffffffff)
	putUint32(b[24:28], a.StatSN)
	putUint32(b[28:32], a.ExpCmdSN)
	putUint32(b[32:36], a.MaxCmdSN)
	b[36] = byte(a.Event)
	putUint16(b[38:40], a.Param1)
	putUint16(b[40:42], a.Param2)
	putUint16(b[42:44], a.Param3)
	return b
}
