package reloc

import (
	"encoding/binary"
	"testing"
)

func encodedCode(sites map[uint32]uint64, size int) []byte {
	code := make([]byte, size)
	for off, addr := range sites {
		binary.LittleEndian.PutUint64(code[off:], addr)
	}
	return code
}

func TestWriterIteratorRoundTrip(t *testing.T) {
	w := NewWriter()
	records := []Record{
		{Mode: InterWasmCall, Offset: 4, Address: 0x1000},
		{Mode: RuntimeStubCall, Offset: 16, StubID: 7},
		{Mode: InternalReference, Offset: 24, Address: 0x2000},
		{Mode: InternalReferenceEncoded, Offset: 32, Address: 0x3000},
		{Mode: ExternalReference, Offset: 40, Address: 0x4000},
		{Mode: OffHeapTarget, Offset: 48, Address: 0x5000},
		{Mode: CodeTableEntry, Offset: 56, Address: 0x6000},
		{Mode: Comment, Offset: 0, Text: "inline frame"},
		{Mode: ConstPool, Address: 64},
		{Mode: VeneerPool, Address: 8},
	}
	for _, r := range records {
		if err := w.Emit(r); err != nil {
			t.Fatalf("Emit(%v): %v", r.Mode, err)
		}
	}

	it := NewIterator(w.Bytes())
	for i, want := range records {
		got, ok, err := it.Next()
		if err != nil {
			t.Fatalf("record %d: Next: %v", i, err)
		}
		if !ok {
			t.Fatalf("record %d: expected more records", i)
		}
		if got != want {
			t.Fatalf("record %d = %+v, want %+v", i, got, want)
		}
	}
	if _, ok, err := it.Next(); ok || err != nil {
		t.Fatalf("expected exhausted iterator, got ok=%v err=%v", ok, err)
	}
}

func TestMode_RewritesAddress(t *testing.T) {
	rewrites := []Mode{InterWasmCall, RuntimeStubCall, InternalReference, InternalReferenceEncoded, CodeTableEntry}
	for _, m := range rewrites {
		if !m.RewritesAddress() {
			t.Errorf("%v: expected RewritesAddress() == true", m)
		}
	}
	noRewrite := []Mode{ExternalReference, OffHeapTarget, Comment, ConstPool, VeneerPool}
	for _, m := range noRewrite {
		if m.RewritesAddress() {
			t.Errorf("%v: expected RewritesAddress() == false", m)
		}
	}
}

func TestRewrite_ShiftsAddressBearingSites(t *testing.T) {
	code := encodedCode(map[uint32]uint64{
		8:  0x1000, // InterWasmCall
		24: 0x2000, // InternalReference
	}, 64)

	w := NewWriter()
	w.Emit(Record{Mode: InterWasmCall, Offset: 8, Address: 0x1000})
	w.Emit(Record{Mode: InternalReference, Offset: 24, Address: 0x2000})

	const delta = 0x500
	if err := Rewrite(code, w.Bytes(), delta, nil); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	if got := binary.LittleEndian.Uint64(code[8:]); got != 0x1000+delta {
		t.Fatalf("InterWasmCall site = 0x%x, want 0x%x", got, 0x1000+delta)
	}
	if got := binary.LittleEndian.Uint64(code[24:]); got != 0x2000+delta {
		t.Fatalf("InternalReference site = 0x%x, want 0x%x", got, 0x2000+delta)
	}
}

func TestRewrite_RuntimeStubCallUsesResolverNotDelta(t *testing.T) {
	code := encodedCode(map[uint32]uint64{0: 0xdead}, 16)

	w := NewWriter()
	w.Emit(Record{Mode: RuntimeStubCall, Offset: 0, StubID: 3})

	resolver := func(id uint32) (uintptr, error) {
		if id != 3 {
			t.Fatalf("resolver called with stub id %d, want 3", id)
		}
		return 0xcafe, nil
	}

	if err := Rewrite(code, w.Bytes(), 0x999, resolver); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if got := binary.LittleEndian.Uint64(code[0:]); got != 0xcafe {
		t.Fatalf("stub call site = 0x%x, want 0xcafe (unaffected by delta)", got)
	}
}

func TestRewrite_NonRewriteModesUntouched(t *testing.T) {
	code := encodedCode(map[uint32]uint64{0: 0x1234}, 16)
	original := append([]byte(nil), code...)

	w := NewWriter()
	w.Emit(Record{Mode: ExternalReference, Offset: 0, Address: 0x1234})
	w.Emit(Record{Mode: Comment, Text: "note"})

	if err := Rewrite(code, w.Bytes(), 0x1000, nil); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	for i := range code {
		if code[i] != original[i] {
			t.Fatalf("code byte %d changed for a non-rewrite-mode relocation", i)
		}
	}
}

func TestRewrite_SiteOutsideCodeBufferIsError(t *testing.T) {
	w := NewWriter()
	w.Emit(Record{Mode: InterWasmCall, Offset: 100, Address: 0x1000})

	code := make([]byte, 16)
	if err := Rewrite(code, w.Bytes(), 1, nil); err == nil {
		t.Fatal("expected an error for an out-of-range relocation site")
	}
}

func TestIterator_CorruptModeTagIsError(t *testing.T) {
	it := NewIterator([]byte{0xff, 0x00})
	if _, _, err := it.Next(); err == nil {
		t.Fatal("expected an error for an unknown mode tag")
	}
}
