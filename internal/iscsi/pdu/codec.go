package pdu

import (
	"encoding/binary"
	"io"

	"github.com/istgtd/istgtd/pkg/bufpool"
)

// Codec reads and writes PDUs according to a connection's negotiated
// digest and segment-size settings. One Codec serves one connection.
type Codec struct {
	HeaderDigest             bool
	DataDigest               bool
	MaxRecvDataSegmentLength uint32
}

// Raw is a decoded PDU: its header and data segment (digests already
// verified and stripped, padding already discarded). Data is obtained
// from bufpool and must be released with bufpool.Put by the caller once
// it is no longer needed.
type Raw struct {
	Header BHS
	Data   []byte
}

// ReadPDU reads one PDU from r, verifying digests and TotalAHSLength and
// rejecting oversized data segments before they are allocated.
func (c *Codec) ReadPDU(r io.Reader) (*Raw, error) {
	var hdr BHS
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, newCodecError("read_header", ErrCodeShortRead, err)
	}

	if hdr.TotalAHSLength() != 0 {
		return nil, newCodecError("read_header", ErrCodeUnsupportedAHS, nil)
	}

	if c.HeaderDigest {
		var trailer [DigestLen]byte
		if _, err := io.ReadFull(r, trailer[:]); err != nil {
			return nil, newCodecError("read_header_digest", ErrCodeShortRead, err)
		}
		want := binary.BigEndian.Uint32(trailer[:])
		if got := Checksum(hdr[:]); got != want {
			return nil, newCodecError("read_header_digest", ErrCodeHeaderDigestMismatch, nil)
		}
	}

	segLen := hdr.DataSegmentLength()
	if segLen > c.MaxRecvDataSegmentLength {
		return nil, newCodecError("read_data", ErrCodeOversizedSegment, nil)
	}

	raw := &Raw{Header: hdr}
	if segLen == 0 {
		return raw, nil
	}

	padded := int(segLen) + padLen(int(segLen))
	buf := bufpool.Get(padded)
	if _, err := io.ReadFull(r, buf); err != nil {
		bufpool.Put(buf)
		return nil, newCodecError("read_data", ErrCodeShortRead, err)
	}

	if c.DataDigest {
		var trailer [DigestLen]byte
		if _, err := io.ReadFull(r, trailer[:]); err != nil {
			bufpool.Put(buf)
			return nil, newCodecError("read_data_digest", ErrCodeShortRead, err)
		}
		want := binary.BigEndian.Uint32(trailer[:])
		if got := Checksum(buf); got != want {
			bufpool.Put(buf)
			return nil, newCodecError("read_data_digest", ErrCodeDataDigestMismatch, nil)
		}
	}

	raw.Data = buf[:segLen]
	return raw, nil
}

// WritePDU writes hdr and data as one PDU, computing digests and padding
// as this codec's settings require. hdr's DataSegmentLength is set from
// len(data) before writing.
func (c *Codec) WritePDU(w io.Writer, hdr BHS, data []byte) error {
	hdr.SetDataSegmentLength(uint32(len(data)))

	if _, err := w.Write(hdr[:]); err != nil {
		return newCodecError("write_header", ErrCodeShortRead, err)
	}
	if c.HeaderDigest {
		var trailer [DigestLen]byte
		binary.BigEndian.PutUint32(trailer[:], Checksum(hdr[:]))
		if _, err := w.Write(trailer[:]); err != nil {
			return newCodecError("write_header_digest", ErrCodeShortRead, err)
		}
	}

	if len(data) == 0 {
		return nil
	}

	if _, err := w.Write(data); err != nil {
		return newCodecError("write_data", ErrCodeShortRead, err)
	}
	var zero [4]byte
	pad := zero[:padLen(len(data))]
	if len(pad) > 0 {
		if _, err := w.Write(pad); err != nil {
			return newCodecError("write_data_pad", ErrCodeShortRead, err)
		}
	}
	if c.DataDigest {
		var trailer [DigestLen]byte
		binary.BigEndian.PutUint32(trailer[:], ChecksumParts(data, pad))
		if _, err := w.Write(trailer[:]); err != nil {
			return newCodecError("write_data_digest", ErrCodeShortRead, err)
		}
	}
	return nil
}
