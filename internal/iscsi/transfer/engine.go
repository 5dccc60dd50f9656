package transfer

import (
	"context"
	"fmt"

	"github.com/istgtd/istgtd/internal/iscsi/negotiate"
	"github.com/istgtd/istgtd/internal/iscsi/pdu"
	"github.com/istgtd/istgtd/pkg/bufpool"
)

// Conn is the narrow surface the transfer engine needs from a
// connection: framed PDU read/write plus StatSN bookkeeping. Connection
// implements this; kept as an interface here so transfer does not import
// connection (which imports transfer), avoiding a cycle.
type Conn interface {
	WritePDU(hdr pdu.BHS, data []byte) error
	ReadPDU() (*pdu.Raw, error)
	CurrentStatSN() uint32
	ExpCmdSN() uint32
	MaxCmdSN() uint32
}

// Engine drives solicited-data WRITE and Data-In READ framing for one
// connection, using settings negotiated for that connection/session.
type Engine struct {
	conn     Conn
	settings negotiate.Settings
	ttt      *TTTAllocator
}

// New creates an Engine bound to conn, settings, and the target-wide TTT
// allocator.
func New(conn Conn, settings negotiate.Settings, ttt *TTTAllocator) *Engine {
	return &Engine{conn: conn, settings: settings, ttt: ttt}
}

// CollectWrite gathers blockCount*blockSize bytes of write data for one
// WRITE(10)/(16) command, honoring ImmediateData per spec.md section
// 4.7/4.10. InitialR2T is not read here: unsolicited Data-Out PDUs are
// never accepted, so every byte beyond the immediate data arrives in an
// R2T-solicited burst:
//
//  1. If the command PDU itself carried data (immediateData), consume it
//     first, up to FirstBurstLength.
//  2. While more bytes remain, emit R2T PDUs of up to MaxBurstLength and
//     wait for the matching SCSI_DATA_OUT burst.
//
// Returns the fully assembled write buffer.
func (e *Engine) CollectWrite(ctx context.Context, lun uint64, itt uint32, totalLen uint32, immediateData []byte) ([]byte, error) {
	buf := make([]byte, 0, totalLen)

	if e.settings.ImmediateData && len(immediateData) > 0 {
		n := len(immediateData)
		if uint32(n) > e.settings.FirstBurstLength {
			n = int(e.settings.FirstBurstLength)
		}
		buf = append(buf, immediateData[:n]...)
	}

	var r2tSN uint32
	for uint32(len(buf)) < totalLen {
		remaining := totalLen - uint32(len(buf))
		desired := remaining
		if desired > e.settings.MaxBurstLength {
			desired = e.settings.MaxBurstLength
		}

		ttt := e.ttt.Next()
		r2t := pdu.R2T{
			LUN:                       lun,
			InitiatorTaskTag:          itt,
			TargetTransferTag:         ttt,
			StatSN:                    e.conn.CurrentStatSN(),
			ExpCmdSN:                  e.conn.ExpCmdSN(),
			MaxCmdSN:                  e.conn.MaxCmdSN(),
			R2TSN:                     r2tSN,
			BufferOffset:              uint32(len(buf)),
			DesiredDataTransferLength: desired,
		}
		r2tSN++
		if err := e.conn.WritePDU(r2t.Encode(), nil); err != nil {
			return nil, fmt.Errorf("transfer: write r2t: %w", err)
		}

		got, err := e.receiveBurst(ttt, desired)
		if err != nil {
			return nil, err
		}
		buf = append(buf, got...)
	}

	return buf, nil
}

// receiveBurst reads SCSI_DATA_OUT PDUs matching ttt until desired bytes
// have arrived or the Final bit is set.
func (e *Engine) receiveBurst(ttt uint32, desired uint32) ([]byte, error) {
	out := make([]byte, 0, desired)
	for uint32(len(out)) < desired {
		raw, err := e.conn.ReadPDU()
		if err != nil {
			return nil, fmt.Errorf("transfer: read data-out: %w", err)
		}
		if raw.Header.Opcode() != pdu.OpSCSIDataOut {
			return nil, fmt.Errorf("transfer: expected SCSI-Data-Out, got %s", raw.Header.Opcode())
		}
		dout := pdu.DecodeSCSIDataOut(&raw.Header)
		if dout.TargetTransferTag != ttt {
			return nil, fmt.Errorf("transfer: data-out TTT %d does not match expected %d", dout.TargetTransferTag, ttt)
		}
		out = append(out, raw.Data...)
		bufpool.Put(raw.Data)
		if dout.Final {
			break
		}
	}
	return out, nil
}

// StreamRead sends data to the initiator as one or more SCSI_DATA_IN
// PDUs of up to MaxRecvDataSegmentLength bytes each, with monotonically
// increasing DataSN and the Final bit set on the last PDU, per spec.md
// section 5's Data-In ordering guarantee.
func (e *Engine) StreamRead(ctx context.Context, lun uint64, itt uint32, data []byte) error {
	chunkSize := e.settings.MaxRecvDataSegmentLength
	if chunkSize == 0 {
		chunkSize = 8192
	}

	if len(data) == 0 {
		din := pdu.SCSIDataIn{
			LUN: lun, InitiatorTaskTag: itt, TargetTransferTag: reservedTTT,
			Final: true, StatSN: e.conn.CurrentStatSN(),
			ExpCmdSN: e.conn.ExpCmdSN(), MaxCmdSN: e.conn.MaxCmdSN(),
		}
		return e.conn.WritePDU(din.Encode(), nil)
	}

	var dataSN uint32
	for offset := 0; offset < len(data); {
		end := offset + int(chunkSize)
		if end > len(data) {
			end = len(data)
		}
		final := end == len(data)

		din := pdu.SCSIDataIn{
			LUN:               lun,
			InitiatorTaskTag:  itt,
			TargetTransferTag: reservedTTT,
			Final:             final,
			StatSN:            e.conn.CurrentStatSN(),
			ExpCmdSN:          e.conn.ExpCmdSN(),
			MaxCmdSN:          e.conn.MaxCmdSN(),
			DataSN:            dataSN,
			BufferOffset:      uint32(offset),
		}
		if err := e.conn.WritePDU(din.Encode(), data[offset:end]); err != nil {
			return fmt.Errorf("transfer: write data-in: %w", err)
		}
		dataSN++
		offset = end
	}
	return nil
}
