package nativemodule

import (
	"go.uber.org/zap"

	"github.com/nativewasm/codemanager/traphandler"
)

// Default tunables, overridden per Config field when non-zero.
const (
	DefaultCodeAlignment uintptr = 16
	DefaultSlotSize      uintptr = 8
)

// Config parameterizes a NativeModule the way engine.CompileConfig and
// engine.InstanceConfig parameterize their respective constructors:
// tunables supplied once at construction, never mutated afterward.
type Config struct {
	NumImports           uint32
	NumDeclaredFunctions uint32

	// CodeAlignment rounds every code allocation up to a multiple of
	// this many bytes. Zero defaults to DefaultCodeAlignment.
	CodeAlignment uintptr
	// SlotSize is the fixed size of one jump-table entry. Zero defaults
	// to DefaultSlotSize.
	SlotSize uintptr

	// CanGrow allows the module to request additional reservations from
	// the CodeManager when its free pool runs dry. False means a single
	// fixed-size reservation, used on platforms with a bounded call
	// displacement budget.
	CanGrow bool

	// UseTrapHandler enables implicit-bounds-check trap registration for
	// Function CodeObjects that carry a protected-instruction table.
	UseTrapHandler bool

	// WriteProtectCode selects RW (true) or RWX (false) for newly
	// committed code pages before the first W^X transition to RX.
	WriteProtectCode bool

	// TrapRegistry is the process-wide (or test-local) trap-handler
	// registry. Nil defaults to traphandler.Global.
	TrapRegistry *traphandler.Registry

	// Logger receives per-module install/commit/permission diagnostics.
	// Nil defaults to zap.NewNop().
	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.CodeAlignment == 0 {
		c.CodeAlignment = DefaultCodeAlignment
	}
	if c.SlotSize == 0 {
		c.SlotSize = DefaultSlotSize
	}
	if c.TrapRegistry == nil {
		c.TrapRegistry = traphandler.Global
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}
