package manager

import "go.uber.org/zap"

// Default tunables, overridden per Config field when non-zero.
const (
	DefaultCodeAlignment  uintptr = 16
	DefaultSlotSize       uintptr = 8
	DefaultImportOverhead uintptr = 32
	DefaultFixedOverhead  uintptr = 4096
	DefaultCodeExpansion  uintptr = 4
	DefaultCriticalThresh uintptr = 32 << 20 // 32 MiB
	DefaultMaxWasmCode    uintptr = 2 << 30  // 2 GiB
)

// Config parameterizes a CodeManager.
type Config struct {
	// MaxCommittedBytes initializes remaining_uncommitted: the
	// process-wide cap on bytes of executable code the manager will
	// ever commit.
	MaxCommittedBytes uintptr

	CodeAlignment       uintptr
	SlotSize            uintptr
	ImportOverheadBytes uintptr
	FixedOverheadBytes  uintptr
	CodeExpansionFactor uintptr

	// CriticalThreshold triggers OnCriticalMemoryPressure when
	// remaining_uncommitted drops below it and more than one module is
	// active. Zero defaults to 32 MiB.
	CriticalThreshold uintptr

	// SingleContiguousCodeRange forces NewNativeModule to reserve
	// MaxWasmCode up front instead of an incremental estimate, for
	// platforms with a fixed call-displacement budget.
	SingleContiguousCodeRange bool
	MaxWasmCode               uintptr

	// OnCriticalMemoryPressure, if set, is invoked (synchronously, on
	// the calling thread) just before NewNativeModule reserves a region
	// while the budget is critically low and more than one module is
	// already active.
	OnCriticalMemoryPressure func()

	// Logger receives structured diagnostics and backs Fatal. Nil
	// defaults to zap.NewNop().
	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.CodeAlignment == 0 {
		c.CodeAlignment = DefaultCodeAlignment
	}
	if c.SlotSize == 0 {
		c.SlotSize = DefaultSlotSize
	}
	if c.ImportOverheadBytes == 0 {
		c.ImportOverheadBytes = DefaultImportOverhead
	}
	if c.FixedOverheadBytes == 0 {
		c.FixedOverheadBytes = DefaultFixedOverhead
	}
	if c.CodeExpansionFactor == 0 {
		c.CodeExpansionFactor = DefaultCodeExpansion
	}
	if c.CriticalThreshold == 0 {
		c.CriticalThreshold = DefaultCriticalThresh
	}
	if c.MaxWasmCode == 0 {
		c.MaxWasmCode = DefaultMaxWasmCode
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}
