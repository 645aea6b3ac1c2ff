package reloc

import (
	"encoding/binary"
	"fmt"

	"github.com/nativewasm/codemanager/errors"
)

// StubResolver maps a RuntimeStubCall's stub-id tag to the absolute
// address of that stub's first instruction.
type StubResolver func(stubID uint32) (uintptr, error)

// Rewrite walks relocStream and patches every address-rewrite site it
// names directly in code, the targets of InterWasmCall, InternalReference,
// InternalReferenceEncoded, and CodeTableEntry by adding delta to the
// 8-byte little-endian address already embedded at the record's offset;
// RuntimeStubCall sites are overwritten outright with resolveStub's
// result rather than shifted, since a stub's address does not move with
// the newly installed code.
//
// code must be the destination buffer the instructions were just copied
// into; offsets in relocStream are relative to its start.
func Rewrite(code []byte, relocStream []byte, delta uintptr, resolveStub StubResolver) error {
	it := NewIterator(relocStream)
	for {
		rec, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if !rec.Mode.RewritesAddress() {
			continue
		}
		if int64(rec.Offset)+8 > int64(len(code)) {
			return errors.InvalidInput(errors.PhaseRelocate, fmt.Sprintf("relocation site at offset %d lies outside the %d-byte code buffer", rec.Offset, len(code)))
		}

		site := code[rec.Offset : rec.Offset+8]
		if rec.Mode == RuntimeStubCall {
			target, err := resolveStub(rec.StubID)
			if err != nil {
				return err
			}
			binary.LittleEndian.PutUint64(site, uint64(target))
			continue
		}

		cur := binary.LittleEndian.Uint64(site)
		binary.LittleEndian.PutUint64(site, cur+uint64(delta))
	}
}
