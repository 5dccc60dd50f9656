// Package connection implements the per-TCP connection phase state
// machine (C5): Login phase handoff, the Full Feature Phase PDU dispatch
// loop, and Logout. One Connection owns one net.Conn and, once bound, a
// reference to the Session whose CmdSN window it advances.
//
// Grounded on dittofs's pkg/adapter/nfs/nfs_connection.go: a single
// blocking read/dispatch/write loop per TCP connection, with no internal
// buffering goroutine, adapted from NFS's stateless RPC dispatch to
// iSCSI's stateful phase machine and sliding command window.
package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/istgtd/istgtd/internal/iscsi/login"
	"github.com/istgtd/istgtd/internal/iscsi/negotiate"
	"github.com/istgtd/istgtd/internal/iscsi/pdu"
	"github.com/istgtd/istgtd/internal/iscsi/protoerr"
	"github.com/istgtd/istgtd/internal/iscsi/scsi"
	"github.com/istgtd/istgtd/internal/iscsi/session"
	"github.com/istgtd/istgtd/internal/iscsi/target"
	"github.com/istgtd/istgtd/internal/iscsi/transfer"
	"github.com/istgtd/istgtd/internal/logger"
	"github.com/istgtd/istgtd/pkg/bufpool"
	"github.com/istgtd/istgtd/pkg/metrics"
)

// Phase identifies where a connection is in RFC 3720 section 5's state
// machine.
type Phase int

const (
	PhaseLogin Phase = iota
	PhaseFullFeature
	PhaseLogoutPending
	PhaseClosed
)

// Deps bundles the server-wide collaborators a Connection needs;
// constructed once by the server and shared across connections.
type Deps struct {
	Targets     *target.Registry
	Sessions    *session.Registry
	TTT         *transfer.TTTAllocator
	Prefs       negotiate.TargetPreferences
	Metrics     metrics.Metrics
	IdleTimeout time.Duration
}

// Connection drives one TCP connection's phase state machine.
type Connection struct {
	deps Deps
	nc   net.Conn
	cid  uint16

	writeMu sync.Mutex
	codec   pdu.Codec

	phase    Phase
	session  *session.Session
	tgt      *target.Target
	settings negotiate.Settings
	engine   *transfer.Engine
	dispatcher *scsi.Dispatcher

	statSN uint32
}

var nextCID = newCIDAllocator()

// New creates a Connection over an already-accepted net.Conn.
func New(nc net.Conn, deps Deps) *Connection {
	c := &Connection{
		deps: deps,
		nc:   nc,
		cid:  nextCID(),
		codec: pdu.Codec{
			MaxRecvDataSegmentLength: deps.Prefs.MaxRecvDataSegmentLength,
		},
		phase: PhaseLogin,
	}
	return c
}

// CID satisfies session.ConnectionHandle.
func (c *Connection) CID() uint16 { return c.cid }

// WritePDU satisfies transfer.Conn: the transfer engine's R2T and
// Data-In writes go through it under writeMu. The dispatch loop writes
// its own responses through c.codec directly.
func (c *Connection) WritePDU(hdr pdu.BHS, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.codec.WritePDU(c.nc, hdr, data)
}

// ReadPDU satisfies transfer.Conn. Reads are never concurrent with each
// other: only the dispatch loop (and the transfer engine it calls into)
// reads from a connection.
func (c *Connection) ReadPDU() (*pdu.Raw, error) {
	return c.codec.ReadPDU(c.nc)
}

// CurrentStatSN satisfies transfer.Conn: the StatSN value carried on
// non-advancing response PDUs (R2T, Data-In without status).
func (c *Connection) CurrentStatSN() uint32 { return c.statSN }

// nextStatSN returns the StatSN to stamp on a status-bearing response
// (Login/Logout/SCSI-Response/NOP-In/Text-Response) and advances it.
func (c *Connection) nextStatSN() uint32 {
	v := c.statSN
	c.statSN++
	return v
}

// ExpCmdSN satisfies transfer.Conn.
func (c *Connection) ExpCmdSN() uint32 {
	if c.session == nil {
		return 0
	}
	exp, _ := c.session.Window()
	return exp
}

// MaxCmdSN satisfies transfer.Conn.
func (c *Connection) MaxCmdSN() uint32 {
	if c.session == nil {
		return 0
	}
	_, max := c.session.Window()
	return max
}

// Serve runs the connection's full lifecycle: Login phase, Full Feature
// Phase dispatch, and cleanup, until the peer disconnects, a protocol
// violation forces closure, or ctx is canceled. Always closes nc before
// returning.
func (c *Connection) Serve(ctx context.Context) {
	defer c.close()
	// Cancellation unblocks a pending read; the loop then stops.
	stop := context.AfterFunc(ctx, func() { _ = c.nc.SetReadDeadline(time.Now()) })
	defer stop()

	lc := &logger.LogContext{CID: c.cid, ClientAddr: c.nc.RemoteAddr().String()}
	ctx = logger.WithContext(ctx, lc)

	if err := c.runLogin(ctx, lc); err != nil {
		logger.WarnCtx(ctx, "login failed", "error", err)
		return
	}

	c.runFullFeature(ctx, lc)
}

func (c *Connection) close() {
	if c.phase == PhaseClosed {
		return
	}
	c.phase = PhaseClosed
	_ = c.nc.Close()
	if c.session != nil {
		remaining := c.session.RemoveConnection(c.cid)
		if remaining && c.tgt != nil {
			metrics.RecordSessionClosed(c.deps.Metrics, c.tgt.Name)
		}
	}
}

// runLogin drives the Login phase to completion (Full Feature Phase
// entry) or failure. On success it binds c.session/c.tgt/c.settings and
// c.engine so runFullFeature can proceed.
func (c *Connection) runLogin(ctx context.Context, lc *logger.LogContext) error {
	first, err := c.codec.ReadPDU(c.nc)
	if err != nil {
		return fmt.Errorf("connection: read first pdu: %w", err)
	}
	if first.Header.Opcode() != pdu.OpLoginRequest {
		reject := pdu.Reject{Reason: pdu.RejectReasonProtocolError}
		_ = c.codec.WritePDU(c.nc, reject.Encode(), nil)
		return protoerr.New(protoerr.ErrCodeUnexpectedFirstPDU, "first pdu was not login request")
	}

	h := login.NewHandler(c.deps.Targets, c.deps.Sessions, c.deps.Prefs)
	req := pdu.DecodeLoginRequest(&first.Header)
	data := first.Data

	for {
		res := h.HandleRequest(req, data)
		bufpool.Put(data)
		if res.NeedMore {
			next, err := c.codec.ReadPDU(c.nc)
			if err != nil {
				return fmt.Errorf("connection: read login continuation: %w", err)
			}
			req = pdu.DecodeLoginRequest(&next.Header)
			data = next.Data
			continue
		}

		res.Response.StatSN = c.nextStatSN()
		if err := c.codec.WritePDU(c.nc, res.Response.Encode(), res.ResponseData); err != nil {
			return fmt.Errorf("connection: write login response: %w", err)
		}
		if res.Close {
			return res.Err
		}
		if !res.Complete {
			next, err := c.codec.ReadPDU(c.nc)
			if err != nil {
				return fmt.Errorf("connection: read next login pdu: %w", err)
			}
			req = pdu.DecodeLoginRequest(&next.Header)
			data = next.Data
			continue
		}

		c.session = res.Session
		c.settings = res.Settings
		c.codec.HeaderDigest = res.Settings.HeaderDigestEnabled
		c.codec.DataDigest = res.Settings.DataDigestEnabled
		c.codec.MaxRecvDataSegmentLength = res.Settings.MaxRecvDataSegmentLength
		c.engine = transfer.New(c, res.Settings, c.deps.TTT)
		c.session.AddConnection(c)

		lc.TSIH = c.session.TSIH
		lc.InitiatorName = c.session.InitiatorName
		lc.TargetName = c.session.TargetName

		if res.Settings.SessionType != negotiate.SessionTypeDiscovery {
			t, err := c.deps.Targets.Lookup(c.session.TargetName)
			if err != nil {
				return fmt.Errorf("connection: target vanished after login: %w", err)
			}
			c.tgt = t
			c.dispatcher = scsi.NewDispatcher(c.session.TargetName)
		}

		metrics.RecordSessionEstablished(c.deps.Metrics, c.session.TargetName)
		c.phase = PhaseFullFeature
		return nil
	}
}

// runFullFeature reads and dispatches PDUs until logout or connection
// error.
func (c *Connection) runFullFeature(ctx context.Context, lc *logger.LogContext) {
	for c.phase == PhaseFullFeature {
		if c.deps.IdleTimeout > 0 {
			_ = c.nc.SetReadDeadline(time.Now().Add(c.deps.IdleTimeout))
		}
		if ctx.Err() != nil {
			return
		}

		raw, err := c.codec.ReadPDU(c.nc)
		if err != nil {
			var ce *pdu.CodecError
			if errors.As(err, &ce) {
				c.handleCodecError(ce)
				if ce.Code == pdu.ErrCodeDataDigestMismatch {
					// Segment and digest were fully consumed; the stream
					// is still framed, so keep serving.
					continue
				}
				return
			}
			if !errors.Is(err, io.EOF) {
				logger.WarnCtx(ctx, "connection read error", "error", err)
			}
			return
		}

		start := time.Now()
		errored := false
		op := raw.Header.Opcode()

		switch op {
		case pdu.OpNopOut:
			errored = c.handleNopOut(raw)
		case pdu.OpSCSICommand:
			errored = c.handleSCSICommand(ctx, raw)
		case pdu.OpTextRequest:
			errored = c.handleTextRequest(raw)
		case pdu.OpLogoutRequest:
			c.handleLogout(raw)
			bufpool.Put(raw.Data)
			metrics.RecordPDU(c.deps.Metrics, op.String(), "in", time.Since(start), false)
			return
		default:
			errored = c.rejectUnsupported(raw)
		}
		bufpool.Put(raw.Data)

		metrics.RecordPDU(c.deps.Metrics, op.String(), "in", time.Since(start), errored)
	}
}

func (c *Connection) handleCodecError(ce *pdu.CodecError) {
	switch ce.Code {
	case pdu.ErrCodeShortRead:
		return
	default:
		reject := pdu.Reject{Reason: ce.RejectReasonFor(), StatSN: c.nextStatSN(), ExpCmdSN: c.ExpCmdSN(), MaxCmdSN: c.MaxCmdSN()}
		_ = c.codec.WritePDU(c.nc, reject.Encode(), nil)
	}
}

func (c *Connection) handleNopOut(raw *pdu.Raw) bool {
	n := pdu.DecodeNopOut(&raw.Header)
	if n.InitiatorTaskTag == 0xffffffff {
		return false
	}
	resp := pdu.NopIn{
		LUN: n.LUN, InitiatorTaskTag: n.InitiatorTaskTag, TargetTransferTag: 0xffffffff,
		StatSN: c.nextStatSN(), ExpCmdSN: c.ExpCmdSN(), MaxCmdSN: c.MaxCmdSN(),
	}
	if err := c.codec.WritePDU(c.nc, resp.Encode(), nil); err != nil {
		return true
	}
	return false
}

// validExpStatSN reports whether an initiator-supplied ExpStatSN echo is
// inside the window of StatSN values this connection has actually sent,
// per spec.md §4.4 ("verify ExpStatSN echoes match window; out-of-window
// -> REJECT code 'Protocol error'"). A value greater than the next StatSN
// this connection will allocate acknowledges a response that was never
// sent and is always invalid.
func (c *Connection) validExpStatSN(expStatSN uint32) bool {
	return expStatSN <= c.statSN
}

// rejectProtocolError sends a Reject PDU with RejectReasonProtocolError
// referencing raw's header, for malformed-but-decodable PDUs such as a
// bad ExpStatSN echo.
func (c *Connection) rejectProtocolError(raw *pdu.Raw) bool {
	exp, max := uint32(0), uint32(0)
	if c.session != nil {
		exp, max = c.session.Window()
	}
	reject := pdu.Reject{
		Reason: pdu.RejectReasonProtocolError,
		StatSN: c.nextStatSN(), ExpCmdSN: exp, MaxCmdSN: max,
	}
	_ = c.codec.WritePDU(c.nc, reject.Encode(), raw.Header[:])
	return true
}

func (c *Connection) handleSCSICommand(ctx context.Context, raw *pdu.Raw) bool {
	cmd := pdu.DecodeSCSICommand(&raw.Header)
	if !c.validExpStatSN(cmd.ExpStatSN) {
		return c.rejectProtocolError(raw)
	}
	if !cmd.Immediate && !c.session.Admit(cmd.CmdSN) {
		return true
	}

	result := c.dispatcher.Dispatch(ctx, cmd.CDB, c.tgt.Store)
	metrics.RecordSCSIStatus(c.deps.Metrics, fmt.Sprintf("0x%02x", cmd.CDB[0]), byte(result.Status))

	var respData []byte

	switch {
	case result.Read != nil:
		data, err := c.tgt.Store.ReadAt(ctx, result.Read.LBA, result.Read.BlockCount)
		if err != nil {
			result = checkConditionFromStoreError(err)
			respData = scsi.BuildSense(result.Sense)
			break
		}
		if err := c.engine.StreamRead(ctx, cmd.LUN, cmd.InitiatorTaskTag, data); err != nil {
			return true
		}
		metrics.RecordBytesTransferred(c.deps.Metrics, "in", uint64(len(data)))

	case result.Write != nil:
		_, blockSize := c.tgt.Store.Capacity()
		total := result.Write.BlockCount * blockSize
		buf, err := c.engine.CollectWrite(ctx, cmd.LUN, cmd.InitiatorTaskTag, total, raw.Data)
		if err != nil {
			return true
		}
		if err := c.tgt.Store.WriteAt(ctx, result.Write.LBA, buf); err != nil {
			result = checkConditionFromStoreError(err)
			respData = scsi.BuildSense(result.Sense)
			break
		}
		metrics.RecordBytesTransferred(c.deps.Metrics, "out", uint64(len(buf)))

	case result.Status == scsi.StatusCheckCondition:
		respData = scsi.BuildSense(result.Sense)

	case len(result.Data) > 0:
		if err := c.engine.StreamRead(ctx, cmd.LUN, cmd.InitiatorTaskTag, result.Data); err != nil {
			return true
		}
	}

	if !cmd.Immediate {
		c.session.Advance()
	}
	exp, max := c.session.Window()
	resp := pdu.SCSIResponse{
		Status: byte(result.Status), Response: 0x00,
		InitiatorTaskTag: cmd.InitiatorTaskTag,
		StatSN:           c.nextStatSN(), ExpCmdSN: exp, MaxCmdSN: max,
	}
	if err := c.codec.WritePDU(c.nc, resp.Encode(), respData); err != nil {
		return true
	}
	return result.Status == scsi.StatusCheckCondition
}

func checkConditionFromStoreError(err error) scsi.Result {
	se := &protoerr.SenseError{Key: protoerr.SenseKeyMediumError, ASC: 0x00, ASCQ: 0x00, Msg: err.Error()}
	return scsi.Result{Status: scsi.StatusCheckCondition, Sense: se}
}

func (c *Connection) handleTextRequest(raw *pdu.Raw) bool {
	req := pdu.DecodeTextRequest(&raw.Header)
	pairs, err := negotiate.DecodeTextData(raw.Data)
	if err != nil {
		return true
	}

	var respPairs [][2]string
	for _, p := range pairs {
		if p[0] == "SendTargets" {
			respPairs = append(respPairs, targetListPairs(c.deps.Targets)...)
		}
	}

	exp, max := c.session.Window()
	resp := pdu.TextResponse{
		Final: true, LUN: req.LUN, InitiatorTaskTag: req.InitiatorTaskTag,
		TargetTransferTag: 0xffffffff, StatSN: c.nextStatSN(), ExpCmdSN: exp, MaxCmdSN: max,
	}
	if err := c.codec.WritePDU(c.nc, resp.Encode(), negotiate.EncodeTextData(respPairs)); err != nil {
		return true
	}
	return false
}

func targetListPairs(targets *target.Registry) [][2]string {
	out := make([][2]string, 0)
	for _, t := range targets.List() {
		out = append(out, [2]string{"TargetName", t.Name})
	}
	return out
}

func (c *Connection) handleLogout(raw *pdu.Raw) {
	c.phase = PhaseLogoutPending
	req := pdu.DecodeLogoutRequest(&raw.Header)

	exp, max := uint32(0), uint32(0)
	if c.session != nil {
		exp, max = c.session.Window()
	}
	resp := pdu.LogoutResponse{
		Response: 0x00, InitiatorTaskTag: req.InitiatorTaskTag,
		StatSN: c.nextStatSN(), ExpCmdSN: exp, MaxCmdSN: max,
	}
	_ = c.codec.WritePDU(c.nc, resp.Encode(), nil)

	if c.session != nil && req.Reason == pdu.LogoutCloseSession {
		key := session.Key{ISID: c.session.ISID, TargetName: c.session.TargetName, TargetPortalGroupTag: c.settings.TargetPortalGroupTag}
		c.deps.Sessions.Remove(c.session.TSIH, key)
	}
}

func (c *Connection) rejectUnsupported(raw *pdu.Raw) bool {
	exp, max := uint32(0), uint32(0)
	if c.session != nil {
		exp, max = c.session.Window()
	}
	reject := pdu.Reject{
		Reason: pdu.RejectReasonCommandNotSupported,
		StatSN: c.nextStatSN(), ExpCmdSN: exp, MaxCmdSN: max,
	}
	_ = c.codec.WritePDU(c.nc, reject.Encode(), raw.Header[:])
	return true
}
