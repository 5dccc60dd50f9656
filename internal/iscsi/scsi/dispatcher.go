package scsi

import (
	"context"
	"sync"

	"github.com/istgtd/istgtd/internal/iscsi/protoerr"
	"github.com/istgtd/istgtd/pkg/blockstore"
)

// Status is a SCSI status byte (SAM-3 table 28), narrowed to the two
// values this core produces.
type Status byte

const (
	StatusGood          Status = 0x00
	StatusCheckCondition Status = 0x02
)

// ReadRequest signals the caller must stream blockCount blocks starting
// at lba back to the initiator as Data-In via the transfer engine.
type ReadRequest struct {
	LBA        uint64
	BlockCount uint32
}

// WriteRequest signals the caller must collect blockCount blocks
// starting at lba from the initiator (immediate data plus R2T/Data-Out
// as needed) via the transfer engine, then write them to the store.
type WriteRequest struct {
	LBA        uint64
	BlockCount uint32
}

// Result is the outcome of dispatching one CDB. Exactly one of Data,
// Read, or Write is meaningful, selected by which is non-nil/non-empty;
// Status and Sense are always meaningful.
type Result struct {
	Status Status
	Sense  *protoerr.SenseError // non-nil only when Status is CheckCondition
	Data   []byte               // immediate response data, if any
	Read   *ReadRequest
	Write  *WriteRequest
}

func goodResult(data []byte) Result { return Result{Status: StatusGood, Data: data} }

func checkCondition(se *protoerr.SenseError) Result {
	return Result{Status: StatusCheckCondition, Sense: se}
}

// Dispatcher routes CDBs to handlers against one LUN's BlockStore. It
// also remembers the last sense data for REQUEST SENSE, per spec.md's
// "return last sense data or NO SENSE".
type Dispatcher struct {
	mu        sync.Mutex
	lastSense *protoerr.SenseError
	targetName string
}

// NewDispatcher creates a Dispatcher for a LUN whose owning target is
// named targetName (used to build the VPD83 device identifier).
func NewDispatcher(targetName string) *Dispatcher {
	return &Dispatcher{targetName: targetName, lastSense: protoerr.SenseNoSense}
}

// Dispatch parses cdb's opcode and executes (or signals) the matching
// SCSI operation against store. INQUIRY and REQUEST SENSE responses are
// cut to the CDB's allocation length; other immediate responses are
// returned at full length.
func (d *Dispatcher) Dispatch(ctx context.Context, cdb [16]byte, store blockstore.Store) Result {
	opcode := cdb[0]

	switch opcode {
	case OpTestUnitReady:
		d.recordSense(protoerr.SenseNoSense)
		return goodResult(nil)

	case OpRequestSense:
		req := ParseRequestSense(cdb)
		sense := d.currentSense()
		data := BuildSense(sense)
		if int(req.AllocationLength) < len(data) && req.AllocationLength != 0 {
			data = data[:req.AllocationLength]
		}
		return goodResult(data)

	case OpInquiry:
		inq := ParseInquiry(cdb)
		var data []byte
		if inq.EVPD {
			switch inq.PageCode {
			case 0x00:
				data = BuildVPD00()
			case 0x80:
				data = BuildVPD80(d.targetName)
			case 0x83:
				data = BuildVPD83(d.targetName)
			default:
				return d.illegalRequest()
			}
		} else {
			data = BuildStandardInquiry()
		}
		if int(inq.AllocationLength) < len(data) && inq.AllocationLength != 0 {
			data = data[:inq.AllocationLength]
		}
		d.recordSense(protoerr.SenseNoSense)
		return goodResult(data)

	case OpModeSense6:
		d.recordSense(protoerr.SenseNoSense)
		return goodResult(BuildModeSense6())

	case OpStartStopUnit:
		d.recordSense(protoerr.SenseNoSense)
		return goodResult(nil)

	case OpReadCapacity10:
		blocks, blockSize := store.Capacity()
		lastLBA := uint32(0)
		if blocks > 0 {
			lastLBA = uint32(blocks - 1)
		}
		d.recordSense(protoerr.SenseNoSense)
		return goodResult(BuildReadCapacity10(lastLBA, blockSize))

	case OpServiceActionIn16:
		sa := ParseServiceActionIn16(cdb)
		if sa.Action != ServiceActionReadCapacity16 {
			return d.illegalRequest()
		}
		blocks, blockSize := store.Capacity()
		lastLBA := uint64(0)
		if blocks > 0 {
			lastLBA = blocks - 1
		}
		d.recordSense(protoerr.SenseNoSense)
		return goodResult(BuildReadCapacity16(lastLBA, blockSize))

	case OpRead10:
		r := ParseRead10(cdb)
		return d.readResult(uint64(r.LBA), uint32(r.Length), store)

	case OpRead16:
		r := ParseRead16(cdb)
		return d.readResult(r.LBA, r.Length, store)

	case OpWrite10:
		r := ParseRead10(cdb)
		return d.writeResult(uint64(r.LBA), uint32(r.Length), store)

	case OpWrite16:
		r := ParseRead16(cdb)
		return d.writeResult(r.LBA, r.Length, store)

	case OpSynchronizeCache10:
		if err := store.Flush(ctx); err != nil {
			return d.mediumError(err)
		}
		d.recordSense(protoerr.SenseNoSense)
		return goodResult(nil)

	case OpReportLUNs:
		d.recordSense(protoerr.SenseNoSense)
		return goodResult(BuildReportLUNs())

	default:
		return d.illegalRequest()
	}
}

func (d *Dispatcher) readResult(lba uint64, blockCount uint32, store blockstore.Store) Result {
	blocks, _ := store.Capacity()
	if blockstore.CheckBounds(lba, blockCount, blocks) != 0 {
		return d.outOfRange()
	}
	d.recordSense(protoerr.SenseNoSense)
	return Result{Status: StatusGood, Read: &ReadRequest{LBA: lba, BlockCount: blockCount}}
}

func (d *Dispatcher) writeResult(lba uint64, blockCount uint32, store blockstore.Store) Result {
	blocks, _ := store.Capacity()
	if blockstore.CheckBounds(lba, blockCount, blocks) != 0 {
		return d.outOfRange()
	}
	d.recordSense(protoerr.SenseNoSense)
	return Result{Status: StatusGood, Write: &WriteRequest{LBA: lba, BlockCount: blockCount}}
}

func (d *Dispatcher) illegalRequest() Result {
	d.recordSense(protoerr.SenseInvalidOpcode)
	return checkCondition(protoerr.SenseInvalidOpcode)
}

func (d *Dispatcher) outOfRange() Result {
	d.recordSense(protoerr.SenseLBAOutOfRange)
	return checkCondition(protoerr.SenseLBAOutOfRange)
}

func (d *Dispatcher) mediumError(cause error) Result {
	se := &protoerr.SenseError{Key: protoerr.SenseKeyMediumError, ASC: 0x00, ASCQ: 0x00, Msg: cause.Error()}
	d.recordSense(se)
	return checkCondition(se)
}

func (d *Dispatcher) recordSense(se *protoerr.SenseError) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastSense = se
}

func (d *Dispatcher) currentSense() *protoerr.SenseError {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSense
}
