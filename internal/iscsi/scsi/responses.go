package scsi

// BuildStandardInquiry renders the standard INQUIRY response: peripheral
// device type 0x00 (direct-access block device), a fixed vendor/product
// identification, and SPC-3 version byte.
func BuildStandardInquiry() []byte {
	b := make([]byte, 36)
	b[0] = 0x00 // peripheral qualifier 0, device type 0 (direct access block device)
	b[1] = 0x00 // not removable
	b[2] = 0x05 // VERSION: SPC-3
	b[3] = 0x02 // response data format 2
	b[4] = byte(len(b) - 5) // additional length
	copy(b[8:16], []byte("ISTGTD  "))
	copy(b[16:32], []byte("VIRTUAL-DISK    "))
	copy(b[32:36], []byte("1.0 "))
	return b
}

// BuildVPD00 renders VPD page 0x00 (Supported VPD Pages).
func BuildVPD00() []byte {
	pages := []byte{0x00, 0x80, 0x83}
	b := make([]byte, 4+len(pages))
	b[1] = 0x00
	b[3] = byte(len(pages))
	copy(b[4:], pages)
	return b
}

// BuildVPD80 renders VPD page 0x80 (Unit Serial Number).
func BuildVPD80(serial string) []byte {
	b := make([]byte, 4+len(serial))
	b[1] = 0x80
	b[3] = byte(len(serial))
	copy(b[4:], serial)
	return b
}

// BuildVPD83 renders VPD page 0x83 (Device Identification) with a single
// T10 vendor-ID-based designator built from the target name.
func BuildVPD83(targetName string) []byte {
	id := []byte(targetName)
	desc := make([]byte, 4+len(id))
	desc[0] = 0x02 // ASCII, vendor-specific association
	desc[1] = 0x01 // T10 vendor ID designator type
	desc[3] = byte(len(id))
	copy(desc[4:], id)

	b := make([]byte, 4+len(desc))
	b[1] = 0x83
	putBE16(b[2:4], uint16(len(desc)))
	copy(b[4:], desc)
	return b
}

func putBE16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

// BuildReadCapacity10 renders the 8-byte READ CAPACITY(10) response:
// last addressable LBA (not block count) and block size, both 32-bit BE.
func BuildReadCapacity10(lastLBA uint32, blockSize uint32) []byte {
	b := make([]byte, 8)
	putBE32(b[0:4], lastLBA)
	putBE32(b[4:8], blockSize)
	return b
}

// BuildReadCapacity16 renders the 32-byte SERVICE ACTION IN(16) / READ
// CAPACITY(16) response.
func BuildReadCapacity16(lastLBA uint64, blockSize uint32) []byte {
	b := make([]byte, 32)
	putBE64(b[0:8], lastLBA)
	putBE32(b[8:12], blockSize)
	return b
}

// BuildModeSense6 renders a minimal MODE SENSE(6) response: a 4-byte
// header plus the caching (0x08) and control (0x0a) mode pages, enough
// for initiators that request either explicitly or page code 0x3f (all).
func BuildModeSense6() []byte {
	cachingPage := []byte{0x08, 0x12, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	controlPage := []byte{0x0a, 0x0a, 0x02, 0, 0, 0, 0, 0, 0, 0, 0, 0}

	pages := append(append([]byte{}, cachingPage...), controlPage...)
	header := make([]byte, 4)
	header[0] = byte(3 + len(pages)) // mode data length, excluding itself
	b := append(header, pages...)
	return b
}

// BuildReportLUNs renders a REPORT LUNS response listing LUN 0 only,
// per spec.md section 4.7 ("single LUN 0").
func BuildReportLUNs() []byte {
	b := make([]byte, 16)
	putBE32(b[0:4], 8) // LUN list length: one 8-byte entry
	// bytes 8-15 are the LUN 0 entry, already zero.
	return b
}
