package server_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/istgtd/istgtd/internal/iscsi/negotiate"
	"github.com/istgtd/istgtd/internal/iscsi/pdu"
	"github.com/istgtd/istgtd/internal/iscsi/scsi"
	"github.com/istgtd/istgtd/internal/iscsi/server"
	"github.com/istgtd/istgtd/internal/iscsi/target"
	"github.com/istgtd/istgtd/pkg/blockstore"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*server.Server, context.CancelFunc) {
	t.Helper()
	targets := target.NewRegistry(nil)
	require.NoError(t, targets.Add(&target.Target{
		Name:  "iqn.test.target",
		Store: blockstore.NewMemoryStore(64, 512),
	}))

	srv := server.New(server.Config{
		Port:            0,
		Prefs:           negotiate.DefaultTargetPreferences(),
		ShutdownTimeout: 2 * time.Second,
	}, targets)

	ctx, cancel := context.WithCancel(t.Context())
	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Serve(ctx) }()

	// Wait for the listener to bind before returning.
	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, time.Millisecond)

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-serveDone:
			require.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("server did not shut down in time")
		}
	})
	return srv, cancel
}

func TestServeAcceptsLoginOverRealTCP(t *testing.T) {
	srv, _ := newTestServer(t)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	codec := pdu.Codec{MaxRecvDataSegmentLength: 1 << 20}
	req := pdu.LoginRequest{
		Transit: true, CSG: pdu.StageLoginOperational, NSG: pdu.StageFullFeature,
		ISID: [6]byte{0, 1, 2, 3, 4, 5}, CID: 1,
	}
	data := negotiate.EncodeTextData([][2]string{
		{"InitiatorName", "iqn.test.initiator"},
		{"TargetName", "iqn.test.target"},
		{"SessionType", "Normal"},
		{"HeaderDigest", "None"},
		{"DataDigest", "None"},
	})
	require.NoError(t, codec.WritePDU(conn, req.Encode(), data))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	raw, err := codec.ReadPDU(conn)
	require.NoError(t, err)
	require.Equal(t, pdu.OpLoginResponse, raw.Header.Opcode())

	resp := pdu.DecodeLoginResponse(&raw.Header)
	require.Equal(t, byte(0), resp.StatusClass)
	require.NotZero(t, resp.TSIH)

	require.Equal(t, 1, srv.Sessions.Count())
}

func TestServeRejectsNonLoginFirstPDU(t *testing.T) {
	srv, _ := newTestServer(t)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	codec := pdu.Codec{MaxRecvDataSegmentLength: 1 << 20}
	nop := pdu.NopOut{InitiatorTaskTag: 1, TargetTransferTag: 0xffffffff}
	require.NoError(t, codec.WritePDU(conn, nop.Encode(), nil))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	raw, err := codec.ReadPDU(conn)
	require.NoError(t, err)
	require.Equal(t, pdu.OpReject, raw.Header.Opcode())

	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.Error(t, err, "server must close the socket when the first PDU isn't a Login Request")
}

func TestFullLifecycleLoginReadCapacityLogout(t *testing.T) {
	srv, _ := newTestServer(t)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	codec := pdu.Codec{MaxRecvDataSegmentLength: 1 << 20}
	req := pdu.LoginRequest{
		Transit: true, CSG: pdu.StageLoginOperational, NSG: pdu.StageFullFeature,
		ISID: [6]byte{1, 1, 1, 1, 1, 1}, CID: 1,
	}
	data := negotiate.EncodeTextData([][2]string{
		{"InitiatorName", "iqn.test.initiator"},
		{"TargetName", "iqn.test.target"},
		{"SessionType", "Normal"},
		{"HeaderDigest", "None"},
		{"DataDigest", "None"},
	})
	require.NoError(t, codec.WritePDU(conn, req.Encode(), data))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = codec.ReadPDU(conn)
	require.NoError(t, err)

	cdb := make([]byte, 16)
	cdb[0] = scsi.OpReadCapacity10
	cmd := pdu.SCSICommand{Final: true, Read: true, InitiatorTaskTag: 1, ExpectedDataTransferLength: 8}
	copy(cmd.CDB[:], cdb)
	require.NoError(t, codec.WritePDU(conn, cmd.Encode(), nil))

	din, err := codec.ReadPDU(conn)
	require.NoError(t, err)
	require.Equal(t, pdu.OpSCSIDataIn, din.Header.Opcode())
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x3f}, din.Data[0:4], "64 blocks - 1 = 0x3f")

	_, err = codec.ReadPDU(conn)
	require.NoError(t, err)

	logout := pdu.LogoutRequest{Reason: pdu.LogoutCloseSession, InitiatorTaskTag: 2}
	require.NoError(t, codec.WritePDU(conn, logout.Encode(), nil))

	resp, err := codec.ReadPDU(conn)
	require.NoError(t, err)
	require.Equal(t, pdu.OpLogoutResp, resp.Header.Opcode())

	require.Eventually(t, func() bool { return srv.Sessions.Count() == 0 }, time.Second, 10*time.Millisecond)
}
