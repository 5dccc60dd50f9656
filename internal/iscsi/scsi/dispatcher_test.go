package scsi_test

import (
	"testing"

	"github.com/istgtd/istgtd/internal/iscsi/protoerr"
	"github.com/istgtd/istgtd/internal/iscsi/scsi"
	"github.com/istgtd/istgtd/pkg/blockstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, blocks uint64) blockstore.Store {
	t.Helper()
	return blockstore.NewMemoryStore(blocks, 512)
}

func TestTestUnitReadyIsGood(t *testing.T) {
	d := scsi.NewDispatcher("iqn.test")
	store := newTestStore(t, 8)
	var cdb [16]byte
	cdb[0] = scsi.OpTestUnitReady

	res := d.Dispatch(t.Context(), cdb, store)
	assert.Equal(t, scsi.StatusGood, res.Status)
}

func TestUnsupportedOpcodeReturnsIllegalRequest(t *testing.T) {
	d := scsi.NewDispatcher("iqn.test")
	store := newTestStore(t, 8)
	var cdb [16]byte
	cdb[0] = 0xff

	res := d.Dispatch(t.Context(), cdb, store)
	require.Equal(t, scsi.StatusCheckCondition, res.Status)
	require.NotNil(t, res.Sense)
	assert.Equal(t, protoerr.SenseKeyIllegalRequest, res.Sense.Key)
	assert.Equal(t, byte(0x20), res.Sense.ASC)
}

func TestReadCapacity10(t *testing.T) {
	d := scsi.NewDispatcher("iqn.test")
	store := newTestStore(t, 2048) // 1 MiB at 512B blocks
	var cdb [16]byte
	cdb[0] = scsi.OpReadCapacity10

	res := d.Dispatch(t.Context(), cdb, store)
	require.Equal(t, scsi.StatusGood, res.Status)
	require.Len(t, res.Data, 8)
	assert.Equal(t, []byte{0x00, 0x00, 0x07, 0xff}, res.Data[0:4])
	assert.Equal(t, []byte{0x00, 0x00, 0x02, 0x00}, res.Data[4:8])
}

func TestReadOutOfBoundsNeverTouchesStore(t *testing.T) {
	d := scsi.NewDispatcher("iqn.test")
	store := newTestStore(t, 2048)
	var cdb [16]byte
	cdb[0] = scsi.OpRead10
	cdb[2], cdb[3], cdb[4], cdb[5] = 0x00, 0x00, 0x08, 0x00 // LBA 2048
	cdb[7], cdb[8] = 0x00, 0x01                             // length 1

	res := d.Dispatch(t.Context(), cdb, store)
	require.Equal(t, scsi.StatusCheckCondition, res.Status)
	assert.Equal(t, protoerr.SenseKeyIllegalRequest, res.Sense.Key)
	assert.Equal(t, byte(0x21), res.Sense.ASC)
	assert.Nil(t, res.Read)
}

func TestReadInBoundsSignalsReadRequest(t *testing.T) {
	d := scsi.NewDispatcher("iqn.test")
	store := newTestStore(t, 2048)
	var cdb [16]byte
	cdb[0] = scsi.OpRead10
	cdb[7], cdb[8] = 0x00, 0x04 // length 4

	res := d.Dispatch(t.Context(), cdb, store)
	require.Equal(t, scsi.StatusGood, res.Status)
	require.NotNil(t, res.Read)
	assert.EqualValues(t, 0, res.Read.LBA)
	assert.EqualValues(t, 4, res.Read.BlockCount)
}

func TestReportLUNsListsOnlyLUN0(t *testing.T) {
	d := scsi.NewDispatcher("iqn.test")
	store := newTestStore(t, 8)
	var cdb [16]byte
	cdb[0] = scsi.OpReportLUNs

	res := d.Dispatch(t.Context(), cdb, store)
	require.Equal(t, scsi.StatusGood, res.Status)
	require.Len(t, res.Data, 16)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x08}, res.Data[0:4])
	assert.Equal(t, make([]byte, 8), res.Data[8:16])
}

func TestRequestSenseReturnsLastSense(t *testing.T) {
	d := scsi.NewDispatcher("iqn.test")
	store := newTestStore(t, 2048)

	var bad [16]byte
	bad[0] = 0xff
	d.Dispatch(t.Context(), bad, store)

	var req [16]byte
	req[0] = scsi.OpRequestSense
	req[4] = 18
	res := d.Dispatch(t.Context(), req, store)
	require.Equal(t, scsi.StatusGood, res.Status)
	assert.Equal(t, byte(protoerr.SenseKeyIllegalRequest), res.Data[2])
}
