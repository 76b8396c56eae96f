package zipstream

import (
	"encoding/binary"
	"time"
)

// ZIP record signatures and constants, per APPNOTE.TXT.
const (
	sigLocalHeader    = 0x04034b50
	sigDataDescriptor = 0x08074b50
	sigCentralHeader  = 0x02014b50
	sigZip64EOCD      = 0x06064b50
	sigZip64Locator   = 0x07064b50
	sigEOCD           = 0x06054b50

	// Version 4.5 is the minimum for ZIP64 extensions.
	zipVersion = 45

	// Bit 3: CRC and sizes follow the data in a data descriptor.
	flagDeferredSizes = 0x0008

	// Store only. Compression would force buffering or a second pass.
	methodStore = 0

	zip64ExtraID = 0x0001

	sentinel16 = 0xFFFF
	sentinel32 = 0xFFFFFFFF
)

// record builds one ZIP record as little-endian fields.
type record struct {
	buf []byte
}

func newRecord(capacity int) *record {
	return &record{buf: make([]byte, 0, capacity)}
}

func (r *record) u16(v uint16) {
	r.buf = binary.LittleEndian.AppendUint16(r.buf, v)
}

func (r *record) u32(v uint32) {
	r.buf = binary.LittleEndian.AppendUint32(r.buf, v)
}

func (r *record) u64(v uint64) {
	r.buf = binary.LittleEndian.AppendUint64(r.buf, v)
}

func (r *record) str(s string) {
	r.buf = append(r.buf, s...)
}

// dosTime converts t to the MS-DOS time and date fields used by ZIP headers.
func dosTime(t time.Time) (timeField, dateField uint16) {
	timeField = uint16(t.Hour()<<11 | t.Minute()<<5 | t.Second()/2)
	dateField = uint16((t.Year()-1980)<<9 | int(t.Month())<<5 | t.Day())
	return timeField, dateField
}

// localHeader renders the local file header for an entry whose CRC and
// sizes are deferred to a data descriptor. The 32-bit size fields carry the
// ZIP64 sentinel and the declared sizes ride in a ZIP64 extra field.
func localHeader(name string, declaredSize uint64, mod time.Time) []byte {
	timeField, dateField := dosTime(mod)

	r := newRecord(30 + len(name) + 20)
	r.u32(sigLocalHeader)
	r.u16(zipVersion)
	r.u16(flagDeferredSizes)
	r.u16(methodStore)
	r.u16(timeField)
	r.u16(dateField)
	r.u32(0) // CRC deferred
	r.u32(sentinel32)
	r.u32(sentinel32)
	r.u16(uint16(len(name)))
	r.u16(20) // ZIP64 extra length

	r.str(name)

	r.u16(zip64ExtraID)
	r.u16(16)
	r.u64(declaredSize) // uncompressed
	r.u64(declaredSize) // compressed == uncompressed under store
	return r.buf
}

// dataDescriptor renders the 64-bit data descriptor written after the
// entry's bytes.
func dataDescriptor(crc uint32, size uint64) []byte {
	r := newRecord(24)
	r.u32(sigDataDescriptor)
	r.u32(crc)
	r.u64(size)
	r.u64(size)
	return r.buf
}

// centralHeader renders the central directory record for a finished entry.
// Sizes and the local header offset live in the ZIP64 extra field.
func centralHeader(e *entry) []byte {
	timeField, dateField := dosTime(e.modified)

	r := newRecord(46 + len(e.name) + 28)
	r.u32(sigCentralHeader)
	r.u16(zipVersion) // version made by
	r.u16(zipVersion) // version needed
	r.u16(flagDeferredSizes)
	r.u16(methodStore)
	r.u16(timeField)
	r.u16(dateField)
	r.u32(e.crc)
	r.u32(sentinel32)
	r.u32(sentinel32)
	r.u16(uint16(len(e.name)))
	r.u16(28) // ZIP64 extra length
	r.u16(0)  // comment length
	r.u16(0)  // disk number start
	r.u16(0)  // internal attributes
	r.u32(0)  // external attributes
	r.u32(sentinel32)

	r.str(e.name)

	r.u16(zip64ExtraID)
	r.u16(24)
	r.u64(e.size)
	r.u64(e.size)
	r.u64(e.offset)
	return r.buf
}

// endOfArchive renders the ZIP64 end-of-central-directory record, its
// locator, and the standard end record with all counts and offsets pushed
// to sentinel values.
func endOfArchive(entries uint64, cdOffset, cdSize uint64) []byte {
	r := newRecord(56 + 20 + 22)

	r.u32(sigZip64EOCD)
	r.u64(44) // size of the remainder of this record
	r.u16(zipVersion)
	r.u16(zipVersion)
	r.u32(0) // this disk
	r.u32(0) // disk with central directory
	r.u64(entries)
	r.u64(entries)
	r.u64(cdSize)
	r.u64(cdOffset)

	r.u32(sigZip64Locator)
	r.u32(0)                 // disk with the ZIP64 end record
	r.u64(cdOffset + cdSize) // its offset
	r.u32(1)                 // total disks

	r.u32(sigEOCD)
	r.u16(sentinel16)
	r.u16(sentinel16)
	r.u16(sentinel16)
	r.u16(sentinel16)
	r.u32(sentinel32)
	r.u32(sentinel32)
	r.u16(0) // comment length
	return r.buf
}
