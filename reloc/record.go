package reloc

import (
	"bytes"
	"encoding/binary"

	"github.com/nativewasm/codemanager/errors"
)

// Record is one decoded relocation entry. Offset is the byte offset,
// within the code buffer the relocation section accompanies, of the
// site the record describes. Address and StubID are populated
// depending on Mode: address-rewrite modes other than RuntimeStubCall
// use Address for the site's source-buffer address (Rewrite adds the
// delta to the copy embedded in the code, not to this field); ConstPool
// and VeneerPool use Address for the pool size; RuntimeStubCall
// uses StubID (the resolved stub address replaces, rather than shifts,
// the site's contents); Comment uses Text.
type Record struct {
	Mode    Mode
	Offset  uint32
	Address uint64
	StubID  uint32
	Text    string
}

// Writer builds a relocation byte stream one record at a time, in the
// order the records will be walked at install time.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Emit appends rec to the stream.
func (w *Writer) Emit(rec Record) error {
	if !rec.Mode.valid() {
		return errors.InvalidInput(errors.PhaseRelocate, "unknown relocation mode")
	}
	w.buf.WriteByte(byte(rec.Mode))
	putUvarint(&w.buf, uint64(rec.Offset))

	switch rec.Mode {
	case RuntimeStubCall:
		putUvarint(&w.buf, uint64(rec.StubID))
	case Comment:
		putUvarint(&w.buf, uint64(len(rec.Text)))
		w.buf.WriteString(rec.Text)
	case ConstPool, VeneerPool:
		putUvarint(&w.buf, rec.Address) // pool size, reusing the Address field
	default:
		// InterWasmCall, InternalReference, InternalReferenceEncoded,
		// ExternalReference, OffHeapTarget, CodeTableEntry.
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], rec.Address)
		w.buf.Write(b[:])
	}
	return nil
}

// Bytes returns the encoded stream built so far.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Iterator walks a relocation byte stream one record at a time, the way
// the architecture's relocation iterator walks a compiler-produced
// relocation section.
type Iterator struct {
	data []byte
	pos  int
}

// NewIterator returns an Iterator positioned at the start of data.
func NewIterator(data []byte) *Iterator {
	return &Iterator{data: data}
}

// Next decodes the next record. ok is false once the stream is
// exhausted, with err == nil.
func (it *Iterator) Next() (rec Record, ok bool, err error) {
	if it.pos >= len(it.data) {
		return Record{}, false, nil
	}

	mode := Mode(it.data[it.pos])
	it.pos++
	if !mode.valid() {
		return Record{}, false, errors.InvalidInput(errors.PhaseRelocate, "corrupt relocation stream: unknown mode tag")
	}

	offset, n, err := getUvarint(it.data[it.pos:])
	if err != nil {
		return Record{}, false, err
	}
	it.pos += n

	rec = Record{Mode: mode, Offset: uint32(offset)}

	switch mode {
	case RuntimeStubCall:
		id, n, err := getUvarint(it.data[it.pos:])
		if err != nil {
			return Record{}, false, err
		}
		it.pos += n
		rec.StubID = uint32(id)
	case Comment:
		l, n, err := getUvarint(it.data[it.pos:])
		if err != nil {
			return Record{}, false, err
		}
		it.pos += n
		if it.pos+int(l) > len(it.data) {
			return Record{}, false, errors.InvalidInput(errors.PhaseRelocate, "corrupt relocation stream: truncated comment")
		}
		rec.Text = string(it.data[it.pos : it.pos+int(l)])
		it.pos += int(l)
	case ConstPool, VeneerPool:
		size, n, err := getUvarint(it.data[it.pos:])
		if err != nil {
			return Record{}, false, err
		}
		it.pos += n
		rec.Address = size
	default:
		if it.pos+8 > len(it.data) {
			return Record{}, false, errors.InvalidInput(errors.PhaseRelocate, "corrupt relocation stream: truncated address")
		}
		rec.Address = binary.LittleEndian.Uint64(it.data[it.pos : it.pos+8])
		it.pos += 8
	}
	return rec, true, nil
}

func putUvarint(buf *bytes.Buffer, v uint64) {
	var b [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(b[:], v)
	buf.Write(b[:n])
}

func getUvarint(data []byte) (uint64, int, error) {
	v, n := binary.Uvarint(data)
	if n <= 0 {
		return 0, 0, errors.InvalidInput(errors.PhaseRelocate, "corrupt relocation stream: bad varint")
	}
	return v, n, nil
}
