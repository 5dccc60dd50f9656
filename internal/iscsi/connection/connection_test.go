package connection_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/istgtd/istgtd/internal/iscsi/connection"
	"github.com/istgtd/istgtd/internal/iscsi/negotiate"
	"github.com/istgtd/istgtd/internal/iscsi/pdu"
	"github.com/istgtd/istgtd/internal/iscsi/scsi"
	"github.com/istgtd/istgtd/internal/iscsi/session"
	"github.com/istgtd/istgtd/internal/iscsi/target"
	"github.com/istgtd/istgtd/internal/iscsi/transfer"
	"github.com/istgtd/istgtd/pkg/blockstore"
	"github.com/stretchr/testify/require"
)

type testHarness struct {
	t        *testing.T
	codec    pdu.Codec
	conn     net.Conn
	targets  *target.Registry
	sessions *session.Registry
}

func newHarness(t *testing.T, blocks uint64) *testHarness {
	t.Helper()
	serverConn, clientConn := net.Pipe()

	sessions := session.NewRegistry()
	targets := target.NewRegistry(sessions.HasSessionForTarget)
	targets.Add(&target.Target{Name: "iqn.test.target", Store: blockstore.NewMemoryStore(blocks, 512)})

	deps := connection.Deps{
		Targets:  targets,
		Sessions: sessions,
		TTT:      &transfer.TTTAllocator{},
		Prefs:    negotiate.DefaultTargetPreferences(),
	}
	c := connection.New(serverConn, deps)
	go c.Serve(t.Context())

	h := &testHarness{
		t:        t,
		codec:    pdu.Codec{MaxRecvDataSegmentLength: 1 << 20},
		conn:     clientConn,
		targets:  targets,
		sessions: sessions,
	}
	t.Cleanup(func() { _ = clientConn.Close() })
	return h
}

func (h *testHarness) send(hdr pdu.BHS, data []byte) {
	h.t.Helper()
	require.NoError(h.t, h.codec.WritePDU(h.conn, hdr, data))
}

func (h *testHarness) recv() *pdu.Raw {
	h.t.Helper()
	h.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	raw, err := h.codec.ReadPDU(h.conn)
	require.NoError(h.t, err)
	return raw
}

func (h *testHarness) login(targetName string) pdu.LoginResponse {
	h.t.Helper()
	req := pdu.LoginRequest{
		Transit: true, CSG: pdu.StageLoginOperational, NSG: pdu.StageFullFeature,
		ISID: [6]byte{0, 1, 2, 3, 4, 5}, CID: 1, CmdSN: 0, ExpStatSN: 0,
	}
	data := negotiate.EncodeTextData([][2]string{
		{"InitiatorName", "iqn.test.initiator"},
		{"TargetName", targetName},
		{"SessionType", "Normal"},
		{"HeaderDigest", "None"},
		{"DataDigest", "None"},
	})
	h.send(req.Encode(), data)

	raw := h.recv()
	require.Equal(h.t, pdu.OpLoginResponse, raw.Header.Opcode())
	resp := pdu.DecodeLoginResponse(&raw.Header)
	require.Equal(h.t, byte(0), resp.StatusClass)
	return resp
}

func scsiCommand(itt uint32, cmdSN uint32, cdb []byte, read, write bool, dataLen uint32) pdu.SCSICommand {
	cmd := pdu.SCSICommand{
		Final: true, Read: read, Write: write,
		InitiatorTaskTag: itt, CmdSN: cmdSN, ExpStatSN: 0,
		ExpectedDataTransferLength: dataLen,
	}
	copy(cmd.CDB[:], cdb)
	return cmd
}

func TestImmediateCommandDoesNotAdvanceExpCmdSN(t *testing.T) {
	h := newHarness(t, 64)
	h.login("iqn.test.target")

	cdb := make([]byte, 16)
	cdb[0] = scsi.OpTestUnitReady
	immediate := scsiCommand(10, 0, cdb, false, false, 0)
	immediate.Immediate = true
	h.send(immediate.Encode(), nil)

	immediateResp := h.recv()
	require.Equal(t, pdu.OpSCSIResponse, immediateResp.Header.Opcode())
	require.Equal(t, byte(scsi.StatusGood), immediateResp.Header[3])

	// A following non-immediate command reusing the same CmdSN (which the
	// immediate command must not have consumed) must still be admitted and
	// processed, not silently dropped by the session's CmdSN window.
	reportCDB := make([]byte, 16)
	reportCDB[0] = scsi.OpReportLUNs
	followUp := scsiCommand(11, 0, reportCDB, true, false, 16)
	h.send(followUp.Encode(), nil)

	din := h.recv()
	require.Equal(t, pdu.OpSCSIDataIn, din.Header.Opcode())

	resp := h.recv()
	require.Equal(t, pdu.OpSCSIResponse, resp.Header.Opcode())
	require.Equal(t, byte(scsi.StatusGood), resp.Header[3])
}

func TestLoginThenReportLUNs(t *testing.T) {
	h := newHarness(t, 64)
	h.login("iqn.test.target")

	cdb := make([]byte, 16)
	cdb[0] = scsi.OpReportLUNs
	cmd := scsiCommand(1, 0, cdb, true, false, 16)
	h.send(cmd.Encode(), nil)

	din := h.recv()
	require.Equal(t, pdu.OpSCSIDataIn, din.Header.Opcode())
	require.Len(t, din.Data, 16)

	resp := h.recv()
	require.Equal(t, pdu.OpSCSIResponse, resp.Header.Opcode())
}

func TestLoginThenReadCapacity10(t *testing.T) {
	h := newHarness(t, 2048)
	h.login("iqn.test.target")

	cdb := make([]byte, 16)
	cdb[0] = scsi.OpReadCapacity10
	cmd := scsiCommand(2, 0, cdb, true, false, 8)
	h.send(cmd.Encode(), nil)

	din := h.recv()
	require.Equal(t, pdu.OpSCSIDataIn, din.Header.Opcode())
	require.Equal(t, []byte{0x00, 0x00, 0x07, 0xff}, din.Data[0:4])

	resp := h.recv()
	scsiResp := pdu.DecodeSCSIResponseStatus(resp.Data)
	_ = scsiResp
}

func TestLoginThenOutOfBoundsReadIsCheckCondition(t *testing.T) {
	h := newHarness(t, 8)
	h.login("iqn.test.target")

	cdb := make([]byte, 16)
	cdb[0] = scsi.OpRead10
	cdb[2], cdb[3], cdb[4], cdb[5] = 0x00, 0x00, 0x00, 0x10 // LBA 16, beyond 8 blocks
	cdb[7], cdb[8] = 0x00, 0x01
	cmd := scsiCommand(3, 0, cdb, true, false, 512)
	h.send(cmd.Encode(), nil)

	resp := h.recv()
	require.Equal(t, pdu.OpSCSIResponse, resp.Header.Opcode())
	require.Equal(t, byte(scsi.StatusCheckCondition), resp.Header[3])
	require.NotEmpty(t, resp.Data)
}

func TestLoginThenImmediateWrite(t *testing.T) {
	h := newHarness(t, 64)
	h.login("iqn.test.target")

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i)
	}

	cdb := make([]byte, 16)
	cdb[0] = scsi.OpWrite10
	cdb[7], cdb[8] = 0x00, 0x01
	cmd := scsiCommand(4, 0, cdb, false, true, 512)
	h.send(cmd.Encode(), payload)

	resp := h.recv()
	require.Equal(t, pdu.OpSCSIResponse, resp.Header.Opcode())
	require.Equal(t, byte(scsi.StatusGood), resp.Header[3])
}

func TestLoginThenLogout(t *testing.T) {
	h := newHarness(t, 8)
	h.login("iqn.test.target")

	logout := pdu.LogoutRequest{Reason: pdu.LogoutCloseSession, InitiatorTaskTag: 5, CmdSN: 0}
	h.send(logout.Encode(), nil)

	resp := h.recv()
	require.Equal(t, pdu.OpLogoutResp, resp.Header.Opcode())
}

func TestLoginFailsForUnknownTargetClosesConnection(t *testing.T) {
	h := newHarness(t, 8)
	req := pdu.LoginRequest{
		Transit: true, CSG: pdu.StageLoginOperational, NSG: pdu.StageFullFeature,
		ISID: [6]byte{9, 9, 9, 9, 9, 9}, CID: 1,
	}
	data := negotiate.EncodeTextData([][2]string{
		{"InitiatorName", "iqn.test.initiator"},
		{"TargetName", "iqn.does.not.exist"},
		{"SessionType", "Normal"},
	})
	h.send(req.Encode(), data)

	raw := h.recv()
	resp := pdu.DecodeLoginResponse(&raw.Header)
	require.NotEqual(t, byte(0), resp.StatusClass)

	// The server closes its end after the failed login response.
	_, err := h.conn.Read(make([]byte, 1))
	require.Error(t, err)
}

var _ = context.Background
