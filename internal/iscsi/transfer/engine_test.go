package transfer_test

import (
	"testing"

	"github.com/istgtd/istgtd/internal/iscsi/negotiate"
	"github.com/istgtd/istgtd/internal/iscsi/pdu"
	"github.com/istgtd/istgtd/internal/iscsi/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	written []pdu.BHS
	data    [][]byte
	inbox   []*pdu.Raw
	pos     int
	statSN  uint32
}

func (f *fakeConn) WritePDU(hdr pdu.BHS, data []byte) error {
	f.written = append(f.written, hdr)
	f.data = append(f.data, data)
	return nil
}

func (f *fakeConn) ReadPDU() (*pdu.Raw, error) {
	raw := f.inbox[f.pos]
	f.pos++
	return raw, nil
}

func (f *fakeConn) CurrentStatSN() uint32 { return f.statSN }
func (f *fakeConn) ExpCmdSN() uint32      { return 1 }
func (f *fakeConn) MaxCmdSN() uint32      { return 32 }

func dataOutRaw(ttt uint32, final bool, payload []byte) *pdu.Raw {
	dout := pdu.SCSIDataOut{TargetTransferTag: ttt, Final: final}
	hdr := dout.Encode()
	return &pdu.Raw{Header: hdr, Data: payload}
}

func TestStreamReadSingleChunk(t *testing.T) {
	fc := &fakeConn{}
	settings := negotiate.Settings{MaxRecvDataSegmentLength: 8192}
	e := transfer.New(fc, settings, &transfer.TTTAllocator{})

	payload := []byte("hello world")
	require.NoError(t, e.StreamRead(t.Context(), 0, 7, payload))

	require.Len(t, fc.written, 1)
	assert.Equal(t, pdu.OpSCSIDataIn, fc.written[0].Opcode())
	assert.True(t, fc.written[0].Final())
	assert.Equal(t, payload, fc.data[0])
}

func TestStreamReadMultipleChunks(t *testing.T) {
	fc := &fakeConn{}
	settings := negotiate.Settings{MaxRecvDataSegmentLength: 4}
	e := transfer.New(fc, settings, &transfer.TTTAllocator{})

	payload := []byte("0123456789")
	require.NoError(t, e.StreamRead(t.Context(), 0, 7, payload))

	require.Len(t, fc.written, 3)
	assert.False(t, fc.written[0].Final())
	assert.False(t, fc.written[1].Final())
	assert.True(t, fc.written[2].Final())

	var reassembled []byte
	for _, d := range fc.data {
		reassembled = append(reassembled, d...)
	}
	assert.Equal(t, payload, reassembled)
}

func TestCollectWriteWithImmediateDataThenR2T(t *testing.T) {
	fc := &fakeConn{}
	settings := negotiate.Settings{ImmediateData: true, FirstBurstLength: 4, MaxBurstLength: 4}
	ttt := &transfer.TTTAllocator{}
	e := transfer.New(fc, settings, ttt)

	fc.inbox = []*pdu.Raw{
		dataOutRaw(1, true, []byte("4567")),
	}

	got, err := e.CollectWrite(t.Context(), 0, 99, 8, []byte("0123"))
	require.NoError(t, err)
	assert.Equal(t, []byte("01234567"), got)

	require.Len(t, fc.written, 1)
	assert.Equal(t, pdu.OpR2T, fc.written[0].Opcode())
	r2t := fc.written[0]
	assert.False(t, r2t.InitiatorTaskTag() == 0xffffffff)
}

func TestTTTAllocatorSkipsReservedValue(t *testing.T) {
	a := &transfer.TTTAllocator{}
	seen := make(map[uint32]bool)
	for i := 0; i < 10; i++ {
		v := a.Next()
		assert.NotEqual(t, uint32(0xffffffff), v)
		assert.False(t, seen[v], "TTT values must be unique")
		seen[v] = true
	}
}
