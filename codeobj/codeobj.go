package codeobj

import (
	"sync"

	"github.com/nativewasm/codemanager/errors"
	"github.com/nativewasm/codemanager/traphandler"
)

// Index names the declared function a CodeObject was compiled for, or
// reports that the CodeObject is anonymous (a runtime stub, the jump
// table, or another module-internal artifact with no function index).
type Index struct {
	FuncIndex uint32
	valid     bool
}

// AnonymousIndex is the Index held by CodeObjects with no function
// index.
var AnonymousIndex = Index{}

// FunctionIndex returns the Index of a CodeObject compiled for the
// given declared function.
func FunctionIndex(i uint32) Index {
	return Index{FuncIndex: i, valid: true}
}

// Valid reports whether the Index names a real function.
func (i Index) Valid() bool { return i.valid }

// Config describes one CodeObject at construction time. The owning
// NativeModule fills this in after copying instructions and applying
// relocations.
type Config struct {
	InstrStart             uintptr
	InstrEnd               uintptr
	RelocInfo              []byte
	SourcePositions        []byte
	Kind                   Kind
	Tier                   Tier
	Index                  Index
	ConstantPoolOffset     uint32
	SafepointTableOffset   uint32
	HandlerTableOffset     uint32
	StackSlots             uint32
	ProtectedInstructions  []traphandler.ProtectedInstruction
	// Owner is the owning NativeModule, stored as an opaque back-pointer
	// (codeobj never imports nativemodule, to avoid a cycle between a
	// module and the objects it owns).
	Owner any
}

// CodeObject is one installed machine-code artifact: an instruction
// range inside some NativeModule's reservations, together with the
// relocation and source-position tables that accompanied it and the
// metadata the install pipeline recorded.
type CodeObject struct {
	instrStart uintptr
	instrEnd   uintptr

	relocInfo       []byte
	sourcePositions []byte

	kind  Kind
	tier  Tier
	index Index

	constantPoolOffset   uint32
	safepointTableOffset uint32
	handlerTableOffset   uint32
	stackSlots           uint32

	protected []traphandler.ProtectedInstruction

	owner any

	mu             sync.Mutex
	trapHandler    traphandler.Handle
	trapHandlerSet bool
}

// New constructs a CodeObject. Callers outside this package should only
// ever be a NativeModule's install pipeline.
func New(cfg Config) *CodeObject {
	return &CodeObject{
		instrStart:           cfg.InstrStart,
		instrEnd:             cfg.InstrEnd,
		relocInfo:            cfg.RelocInfo,
		sourcePositions:      cfg.SourcePositions,
		kind:                 cfg.Kind,
		tier:                 cfg.Tier,
		index:                cfg.Index,
		constantPoolOffset:   cfg.ConstantPoolOffset,
		safepointTableOffset: cfg.SafepointTableOffset,
		handlerTableOffset:   cfg.HandlerTableOffset,
		stackSlots:           cfg.StackSlots,
		protected:            cfg.ProtectedInstructions,
		owner:                cfg.Owner,
		trapHandler:          traphandler.NoHandle,
	}
}

// InstructionStart returns the start address of this CodeObject's
// instructions within the owning NativeModule's reservations.
func (c *CodeObject) InstructionStart() uintptr { return c.instrStart }

// InstructionEnd returns the end address (exclusive).
func (c *CodeObject) InstructionEnd() uintptr { return c.instrEnd }

// Size returns InstructionEnd() - InstructionStart().
func (c *CodeObject) Size() uintptr { return c.instrEnd - c.instrStart }

// Contains reports whether pc falls within [InstructionStart(), InstructionEnd()).
func (c *CodeObject) Contains(pc uintptr) bool {
	return pc >= c.instrStart && pc < c.instrEnd
}

// RelocInfo returns the owned relocation byte array, already rewritten
// in place at copy time. Callers must not mutate the returned slice.
func (c *CodeObject) RelocInfo() []byte { return c.relocInfo }

// SourcePositions returns the owned source-position byte array.
// Callers must not mutate the returned slice.
func (c *CodeObject) SourcePositions() []byte { return c.sourcePositions }

// Kind returns the CodeObject's role.
func (c *CodeObject) Kind() Kind { return c.kind }

// Tier returns the CodeObject's optimization tier.
func (c *CodeObject) Tier() Tier { return c.tier }

// Index returns the declared function index, or AnonymousIndex.
func (c *CodeObject) Index() Index { return c.index }

// ConstantPoolOffset returns the offset of the constant pool within
// instructions, or zero if absent.
func (c *CodeObject) ConstantPoolOffset() uint32 { return c.constantPoolOffset }

// SafepointTableOffset returns the offset of the safepoint table within
// instructions, or zero if absent.
func (c *CodeObject) SafepointTableOffset() uint32 { return c.safepointTableOffset }

// HandlerTableOffset returns the offset of the exception handler table
// within instructions, or zero if absent.
func (c *CodeObject) HandlerTableOffset() uint32 { return c.handlerTableOffset }

// StackSlots returns the declared stack-slot count.
func (c *CodeObject) StackSlots() uint32 { return c.stackSlots }

// ProtectedInstructions returns the protected-instruction table used to
// register this CodeObject's trap handler, if any.
func (c *CodeObject) ProtectedInstructions() []traphandler.ProtectedInstruction {
	return c.protected
}

// Owner returns the opaque back-pointer to the owning NativeModule.
func (c *CodeObject) Owner() any { return c.owner }

// TrapHandler returns the registered trap-handler handle, or
// traphandler.NoHandle if none was ever set.
func (c *CodeObject) TrapHandler() traphandler.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trapHandler
}

// SetTrapHandler records h as this CodeObject's trap-handler handle. It
// may be called at most once, and only for Kind == Function; any other
// call returns an error and leaves the CodeObject unchanged.
func (c *CodeObject) SetTrapHandler(h traphandler.Handle) error {
	if c.kind != Function {
		return errors.InvalidInput(errors.PhaseTrapHandler, "trap handler handle may only be set on a Function CodeObject")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.trapHandlerSet {
		return errors.InvalidInput(errors.PhaseTrapHandler, "trap handler handle already set")
	}
	c.trapHandler = h
	c.trapHandlerSet = true
	return nil
}

// Release returns this CodeObject's trap-handler handle, if any, to reg
// and clears it. Neither NativeModule nor CodeManager calls Release:
// freeing a NativeModule leaves its CodeObjects' handles registered.
func (c *CodeObject) Release(reg *traphandler.Registry) {
	c.mu.Lock()
	h := c.trapHandler
	c.trapHandler = traphandler.NoHandle
	c.trapHandlerSet = false
	c.mu.Unlock()

	if h != traphandler.NoHandle {
		reg.Release(h)
	}
}
