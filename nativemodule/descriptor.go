package nativemodule

import (
	"github.com/nativewasm/codemanager/codeobj"
	"github.com/nativewasm/codemanager/traphandler"
)

// CodeDescriptor is the opaque code-description a compiler hands the
// module: a source buffer, an instruction-size prefix, a relocation
// section suffix, and metadata about the code it describes.
//
// buffer[0:InstrSize] is the machine code at its original
// (SourceBufferStart-relative) address. buffer[RelocOffset:RelocOffset+
// RelocSize] is the relocation section, decoded with reloc.Iterator.
type CodeDescriptor struct {
	Buffer            []byte
	InstrSize         uint32
	RelocOffset       uint32
	RelocSize         uint32
	ConstantPoolSize  uint32
	SourceBufferStart uintptr

	SafepointTableOffset  uint32
	HandlerTableOffset    uint32
	StackSlots            uint32
	ProtectedInstructions []traphandler.ProtectedInstruction
	SourcePositionTable   []byte
	Tier                  codeobj.Tier
}

// RuntimeStubId names one of the module's resolve-once runtime stubs:
// small trampolines into host-provided functionality that compiled
// code calls into directly rather than through the jump table.
// RuntimeStubCall relocation records carry one of these as their
// stub-id tag. The six ids are original_source's
// WASM_RUNTIME_STUB_LIST verbatim (minus the FOREACH_WASM_TRAPREASON
// trap-reason ids it prepends, which original_source's own macro
// defines elsewhere and this module has no text for).
type RuntimeStubId int

const (
	WasmAllocateHeapNumber RuntimeStubId = iota
	WasmArgumentsAdaptor
	WasmCallJavaScript
	WasmStackGuard
	WasmToNumber
	DoubleToI

	numRuntimeStubs
)

func (id RuntimeStubId) String() string {
	switch id {
	case WasmAllocateHeapNumber:
		return "WasmAllocateHeapNumber"
	case WasmArgumentsAdaptor:
		return "WasmArgumentsAdaptor"
	case WasmCallJavaScript:
		return "WasmCallJavaScript"
	case WasmStackGuard:
		return "WasmStackGuard"
	case WasmToNumber:
		return "WasmToNumber"
	case DoubleToI:
		return "DoubleToI"
	default:
		return "Unknown"
	}
}

// Valid reports whether id is one of the known runtime stub ids.
func (id RuntimeStubId) Valid() bool {
	return id >= 0 && id < numRuntimeStubs
}
