package nativemodule

import (
	"encoding/binary"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/nativewasm/codemanager/addrspace"
	"github.com/nativewasm/codemanager/codeobj"
	"github.com/nativewasm/codemanager/errors"
	"github.com/nativewasm/codemanager/icache"
	"github.com/nativewasm/codemanager/reloc"
	"github.com/nativewasm/codemanager/vmem"
)

var nextID uint64

// NativeModule owns every byte of machine code belonging to one loaded
// WebAssembly module.
type NativeModule struct {
	id     uint64
	mgr    Manager
	cfg    Config
	logger *zap.Logger

	mu sync.Mutex // allocation_mutex

	reservations       []*vmem.Region
	freeCodeSpace      *addrspace.Pool
	allocatedCodeSpace *addrspace.Pool

	ownedCode []*codeobj.CodeObject // sorted by InstructionStart

	codeTable    map[uint32]*codeobj.CodeObject
	runtimeStubs map[RuntimeStubId]*codeobj.CodeObject

	jumpTable *codeobj.CodeObject

	committedBytes    uintptr
	modificationDepth int
	isExecutable      bool
	useTrapHandler    bool
	lazyCompileFrozen bool
}

// New constructs a NativeModule that owns the given initial reservation
// and installs its (initially empty) jump table. Called only from
// manager.CodeManager.NewNativeModule.
func New(mgr Manager, initial *vmem.Region, cfg Config) (*NativeModule, error) {
	cfg = cfg.withDefaults()

	m := &NativeModule{
		id:                 atomic.AddUint64(&nextID, 1),
		mgr:                mgr,
		cfg:                cfg,
		logger:             cfg.Logger,
		reservations:       []*vmem.Region{initial},
		freeCodeSpace:      addrspace.NewPool(),
		allocatedCodeSpace: addrspace.NewPool(),
		codeTable:          make(map[uint32]*codeobj.CodeObject),
		runtimeStubs:       make(map[RuntimeStubId]*codeobj.CodeObject),
		useTrapHandler:     cfg.UseTrapHandler,
	}
	m.freeCodeSpace.Merge(addrspace.Range{Start: initial.Base(), End: initial.End()})
	m.mgr.RegisterReservation(initial.Base(), initial.End(), m)

	if cfg.NumDeclaredFunctions > 0 {
		if err := m.createEmptyJumpTable(cfg.NumDeclaredFunctions); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ID returns a process-unique, monotonically increasing instance id,
// useful only for diagnostics.
func (m *NativeModule) ID() uint64 { return m.id }

// SetLogger replaces the logger diagnostics are written to.
func (m *NativeModule) SetLogger(l *zap.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = l
}

// CommittedBytes returns the number of bytes this module has committed,
// for CodeManager.FreeNativeModule to credit back to the global budget.
func (m *NativeModule) CommittedBytes() uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committedBytes
}

// Reservations returns a copy of the list of OS reservations this
// module owns, for CodeManager.FreeNativeModule to release and
// unregister.
func (m *NativeModule) Reservations() []*vmem.Region {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*vmem.Region, len(m.reservations))
	copy(out, m.reservations)
	return out
}

// ---- Installation pipeline (spec 4.4 "Installation pipeline") ----

// InstallFromDescriptor copies desc's instructions into a fresh
// allocation, rewrites its relocation table for the new load address,
// optionally registers a trap handler, and adds the result to the
// PC-sorted owned-code list. A Function CodeObject with a valid index is
// also published as code_table[index] and in the matching jump-table
// slot, unless the object already there has a higher Tier rank. An
// InterpreterEntry with a valid index only patches the jump-table slot.
// LazyStub installs are rejected once FreezeLazyCompile has been called.
func (m *NativeModule) InstallFromDescriptor(desc CodeDescriptor, index codeobj.Index, kind codeobj.Kind) (*codeobj.CodeObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if kind == codeobj.LazyStub && m.lazyCompileFrozen {
		return nil, errors.InvalidInput(errors.PhaseInstall, "lazy compilation is frozen for this module")
	}

	if err := m.enterModificationScopeLocked(); err != nil {
		return nil, err
	}
	defer m.exitModificationScopeLocked()

	alignedSize := roundUp(uintptr(desc.InstrSize), m.cfg.CodeAlignment)
	dst, err := m.allocateForCodeLocked(alignedSize)
	if err != nil {
		return nil, err
	}

	region := m.regionContainingLocked(dst)
	if region == nil {
		return nil, errors.InvalidInput(errors.PhaseInstall, "allocated address does not belong to any owned reservation")
	}
	code, err := region.Slice(dst, uintptr(desc.InstrSize))
	if err != nil {
		return nil, err
	}
	copy(code, desc.Buffer[:desc.InstrSize])

	relocInfo := append([]byte(nil), desc.Buffer[desc.RelocOffset:desc.RelocOffset+desc.RelocSize]...)
	sourcePositions := append([]byte(nil), desc.SourcePositionTable...)

	delta := dst - desc.SourceBufferStart
	if err := reloc.Rewrite(code, relocInfo, delta, m.resolveStubLocked); err != nil {
		return nil, err
	}

	// The constant pool occupies the tail of the instructions; zero
	// means the descriptor has none.
	var constantPoolOffset uint32
	if desc.ConstantPoolSize > 0 && desc.ConstantPoolSize <= desc.InstrSize {
		constantPoolOffset = desc.InstrSize - desc.ConstantPoolSize
	}

	obj := codeobj.New(codeobj.Config{
		InstrStart:            dst,
		InstrEnd:              dst + uintptr(desc.InstrSize),
		RelocInfo:             relocInfo,
		SourcePositions:       sourcePositions,
		Kind:                  kind,
		Tier:                  desc.Tier,
		Index:                 index,
		ConstantPoolOffset:    constantPoolOffset,
		SafepointTableOffset:  desc.SafepointTableOffset,
		HandlerTableOffset:    desc.HandlerTableOffset,
		StackSlots:            desc.StackSlots,
		ProtectedInstructions: desc.ProtectedInstructions,
		Owner:                 m,
	})

	m.insertOwnedCodeLocked(obj)

	if m.useTrapHandler && kind == codeobj.Function && len(desc.ProtectedInstructions) > 0 {
		h, err := m.cfg.TrapRegistry.Register(desc.ProtectedInstructions)
		if err != nil {
			return nil, err
		}
		if err := obj.SetTrapHandler(h); err != nil {
			return nil, err
		}
	}

	switch {
	case kind == codeobj.Function && index.Valid():
		if existing, ok := m.codeTable[index.FuncIndex]; !ok || existing.Tier().Rank() <= obj.Tier().Rank() {
			m.codeTable[index.FuncIndex] = obj
			if err := m.patchJumpTableSlotLocked(index.FuncIndex, dst); err != nil {
				return nil, err
			}
		}
	case kind == codeobj.InterpreterEntry && index.Valid():
		// Self-identifies with a function index, but never published
		// into code_table: the jump table alone points callers at it.
		if err := m.patchJumpTableSlotLocked(index.FuncIndex, dst); err != nil {
			return nil, err
		}
	}

	icache.Flush(dst, uintptr(desc.InstrSize))
	m.logger.Debug("installed code object",
		zap.Uint64("module_id", m.id), zap.Uintptr("addr", dst),
		zap.Uint32("size", desc.InstrSize), zap.Stringer("kind", kind))
	return obj, nil
}

// InstallAnonymous installs desc the same way InstallFromDescriptor
// does but with no function index, so the result never touches
// code_table or the jump table: a lazy-compile stub, a runtime stub, or
// another artifact with no function index. Interpreter entries, which
// need a jump-table slot, go through InstallInterpreterEntry instead.
func (m *NativeModule) InstallAnonymous(desc CodeDescriptor, kind codeobj.Kind) (*codeobj.CodeObject, error) {
	return m.InstallFromDescriptor(desc, codeobj.AnonymousIndex, kind)
}

// InstallInterpreterEntry installs desc as the interpreter-entry
// CodeObject for index: the jump-table slot for that function is
// patched to point at it, but code_table[index] is left untouched, so
// the compiler still sees the function as needing real compilation.
func (m *NativeModule) InstallInterpreterEntry(desc CodeDescriptor, index codeobj.Index) (*codeobj.CodeObject, error) {
	if !index.Valid() {
		return nil, errors.InvalidInput(errors.PhaseInstall, "interpreter-entry objects must self-identify with a real function index")
	}
	return m.InstallFromDescriptor(desc, index, codeobj.InterpreterEntry)
}

// InstallRuntimeStub installs desc as the module's resolved instance of
// stub id. Each id is resolved at most once per module.
func (m *NativeModule) InstallRuntimeStub(id RuntimeStubId, desc CodeDescriptor) (*codeobj.CodeObject, error) {
	if !id.Valid() {
		return nil, errors.InvalidInput(errors.PhaseInstall, "unknown runtime stub id")
	}
	m.mu.Lock()
	if _, ok := m.runtimeStubs[id]; ok {
		m.mu.Unlock()
		return nil, errors.InvalidInput(errors.PhaseInstall, "runtime stub already resolved for this module")
	}
	m.mu.Unlock()

	obj, err := m.InstallAnonymous(desc, codeobj.RuntimeStub)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runtimeStubs[id]; ok {
		return nil, errors.InvalidInput(errors.PhaseInstall, "runtime stub already resolved for this module")
	}
	m.runtimeStubs[id] = obj
	return obj, nil
}

func (m *NativeModule) resolveStubLocked(stubID uint32) (uintptr, error) {
	id := RuntimeStubId(stubID)
	obj, ok := m.runtimeStubs[id]
	if !ok {
		return 0, errors.NotFound(errors.PhaseRelocate, "runtime stub "+id.String())
	}
	return obj.InstructionStart(), nil
}

func (m *NativeModule) insertOwnedCodeLocked(obj *codeobj.CodeObject) {
	i := sort.Search(len(m.ownedCode), func(i int) bool {
		return m.ownedCode[i].InstructionStart() > obj.InstructionStart()
	})
	m.ownedCode = append(m.ownedCode, nil)
	copy(m.ownedCode[i+1:], m.ownedCode[i:])
	m.ownedCode[i] = obj
}

func (m *NativeModule) regionContainingLocked(addr uintptr) *vmem.Region {
	for _, r := range m.reservations {
		if addr >= r.Base() && addr < r.End() {
			return r
		}
	}
	return nil
}

// ---- allocate_for_code (spec 4.4) ----

func (m *NativeModule) allocateForCodeLocked(size uintptr) (uintptr, error) {
	size = roundUp(size, m.cfg.CodeAlignment)

	r, ok := m.freeCodeSpace.Allocate(size)
	if !ok {
		if !m.cfg.CanGrow {
			return 0, errors.OutOfCodeSpace(size)
		}
		hint := uintptr(0)
		if n := len(m.reservations); n > 0 {
			hint = m.reservations[n-1].End()
		}
		region, err := m.mgr.TryAllocate(size, hint)
		if err != nil {
			return 0, err
		}
		m.reservations = append(m.reservations, region)
		m.mgr.RegisterReservation(region.Base(), region.End(), m)
		m.freeCodeSpace.Merge(addrspace.Range{Start: region.Base(), End: region.End()})

		r, ok = m.freeCodeSpace.Allocate(size)
		if !ok {
			return 0, errors.OutOfCodeSpace(size)
		}
	}

	commitStart := vmem.RoundUpPage(r.Start)
	commitEnd := vmem.RoundUpPage(r.End)
	if commitStart < commitEnd {
		if err := m.commitRangeLocked(commitStart, commitEnd); err != nil {
			m.freeCodeSpace.Merge(r)
			return 0, err
		}
	}

	m.allocatedCodeSpace.Merge(r)
	return r.Start, nil
}

// commitRangeLocked commits [start, end) one reservation-bounded slice
// at a time, newest reservation first, since some platforms (Windows'
// VirtualProtect family) forbid a single call straddling two distinct
// OS allocations. m.committedBytes is only updated once every slice
// has committed; if a later slice fails, the bytes already committed
// by earlier slices in this call are credited back to the global
// budget (via CreditUncommitted, not a real decommit) rather than left
// silently spent, since the caller is about to merge the whole range
// back into free_code_space for reuse.
func (m *NativeModule) commitRangeLocked(start, end uintptr) error {
	var committed uintptr
	for i := len(m.reservations) - 1; i >= 0; i-- {
		region := m.reservations[i]
		lo, hi := max(start, region.Base()), min(end, region.End())
		if lo >= hi {
			continue
		}
		if err := m.mgr.Commit(lo, hi-lo, m.cfg.WriteProtectCode); err != nil {
			if committed > 0 {
				m.mgr.CreditUncommitted(committed)
			}
			return err
		}
		committed += hi - lo
		m.logger.Debug("committed code pages",
			zap.Uint64("module_id", m.id), zap.Uintptr("addr", lo), zap.Uintptr("size", hi-lo))
	}
	m.committedBytes += committed
	return nil
}

// ---- Lookup (spec 4.4 "Lookup(pc)") ----

// Lookup returns the CodeObject containing pc, or nil.
func (m *NativeModule) Lookup(pc uintptr) *codeobj.CodeObject {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookupLocked(pc)
}

func (m *NativeModule) lookupLocked(pc uintptr) *codeobj.CodeObject {
	i := sort.Search(len(m.ownedCode), func(i int) bool {
		return m.ownedCode[i].InstructionStart() > pc
	})
	if i == 0 {
		return nil
	}
	candidate := m.ownedCode[i-1]
	if candidate.Contains(pc) {
		return candidate
	}
	return nil
}

// GetCodeFromStartAddress returns the CodeObject whose instructions
// start exactly at pc. Callers that pass a pc not exactly at an
// instruction start get an error, not a best-effort match.
func (m *NativeModule) GetCodeFromStartAddress(pc uintptr) (*codeobj.CodeObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj := m.lookupLocked(pc)
	if obj == nil || obj.InstructionStart() != pc {
		return nil, errors.InvalidLookup(pc)
	}
	return obj, nil
}

// ---- W^X latch (spec 4.6) ----

func (m *NativeModule) enterModificationScopeLocked() error {
	m.modificationDepth++
	if m.modificationDepth == 1 {
		return m.setExecutableLocked(false)
	}
	return nil
}

func (m *NativeModule) exitModificationScopeLocked() error {
	m.modificationDepth--
	if m.modificationDepth == 0 {
		return m.setExecutableLocked(true)
	}
	return nil
}

// SetExecutable toggles every committed page this module owns between
// RW (writable, for installation) and RX (executable). It is the
// mechanism ModificationScope drives on its 0→1 and 1→0 transitions; it
// is also exported for callers (DisableTrapHandler's caller, or a host
// pausing a module) that need the same transition outside an install.
func (m *NativeModule) SetExecutable(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setExecutableLocked(on)
}

func (m *NativeModule) setExecutableLocked(on bool) error {
	if m.isExecutable == on {
		return nil
	}
	perm := vmem.RW
	if on {
		perm = vmem.RX
	}
	for _, rng := range m.allocatedCodeSpace.Ranges() {
		start, end := vmem.RoundDownPage(rng.Start), vmem.RoundUpPage(rng.End)
		for _, region := range m.reservations {
			lo, hi := max(start, region.Base()), min(end, region.End())
			if lo >= hi {
				continue
			}
			if err := vmem.SetPermissionsAt(lo, hi-lo, perm); err != nil {
				return err
			}
		}
	}
	m.isExecutable = on
	m.logger.Debug("toggled W^X state", zap.Uint64("module_id", m.id), zap.Bool("executable", on))
	return nil
}

// IsExecutable reports the module's current W^X state.
func (m *NativeModule) IsExecutable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isExecutable
}

// ---- Jump table (spec 4.4 "Jump table") ----

func (m *NativeModule) createEmptyJumpTable(n uint32) error {
	size := uintptr(n) * m.cfg.SlotSize
	dst, err := m.allocateForCodeLocked(roundUp(size, m.cfg.CodeAlignment))
	if err != nil {
		return err
	}
	m.jumpTable = codeobj.New(codeobj.Config{
		InstrStart: dst,
		InstrEnd:   dst + size,
		Kind:       codeobj.JumpTable,
		Owner:      m,
	})
	m.insertOwnedCodeLocked(m.jumpTable)
	return nil
}

// GetCallTargetForFunction returns the address of function index's
// jump-table slot. Stable for the life of the NativeModule.
func (m *NativeModule) GetCallTargetForFunction(funcIndex uint32) (uintptr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.jumpTable == nil {
		return 0, errors.NotFound(errors.PhaseLookup, "jump table")
	}
	slot, err := m.slotAddressLocked(funcIndex)
	if err != nil {
		return 0, err
	}
	return slot, nil
}

// GetFunctionIndexFromJumpTableSlot is the inverse of
// GetCallTargetForFunction. addr must be exactly a slot start.
func (m *NativeModule) GetFunctionIndexFromJumpTableSlot(addr uintptr) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.jumpTable == nil || !m.jumpTable.Contains(addr) {
		return 0, errors.InvalidLookup(addr)
	}
	rel := addr - m.jumpTable.InstructionStart()
	if rel%m.cfg.SlotSize != 0 {
		return 0, errors.InvalidLookup(addr)
	}
	return m.cfg.NumImports + uint32(rel/m.cfg.SlotSize), nil
}

func (m *NativeModule) slotAddressLocked(funcIndex uint32) (uintptr, error) {
	if funcIndex < m.cfg.NumImports {
		return 0, errors.InvalidInput(errors.PhaseLookup, "funcIndex names an imported function, which has no jump-table slot")
	}
	i := funcIndex - m.cfg.NumImports
	if uintptr(i)*m.cfg.SlotSize >= m.jumpTable.Size() {
		return 0, errors.InvalidInput(errors.PhaseLookup, "funcIndex out of the declared-function range")
	}
	return m.jumpTable.InstructionStart() + uintptr(i)*m.cfg.SlotSize, nil
}

// PatchJumpTableSlot rewrites the slot for funcIndex to jump to target.
// Every caller of funcIndex that indirects through the jump table sees
// target on its very next call once this returns.
func (m *NativeModule) PatchJumpTableSlot(funcIndex uint32, target uintptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enterModificationScopeLocked(); err != nil {
		return err
	}
	defer m.exitModificationScopeLocked()

	return m.patchJumpTableSlotLocked(funcIndex, target)
}

func (m *NativeModule) patchJumpTableSlotLocked(funcIndex uint32, target uintptr) error {
	slot, err := m.slotAddressLocked(funcIndex)
	if err != nil {
		return err
	}
	region := m.regionContainingLocked(slot)
	if region == nil {
		return errors.InvalidInput(errors.PhaseInstall, "jump table slot does not belong to any owned reservation")
	}
	b, err := region.Slice(slot, m.cfg.SlotSize)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, uint64(target))
	icache.Flush(slot, m.cfg.SlotSize)
	return nil
}

// ---- DisableTrapHandler (spec 4.4) ----

// DisableTrapHandler transitions the module from implicit memory-bounds
// trap handlers to explicit bounds checks. It clears code_table (owned
// code, and the PC index built from it, are left intact so in-flight
// stack walks keep working) and requires every still-reachable function
// to be re-installed afterward.
func (m *NativeModule) DisableTrapHandler() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codeTable = make(map[uint32]*codeobj.CodeObject)
	m.useTrapHandler = false
}

// UsesTrapHandler reports whether the module still relies on implicit
// trap handlers.
func (m *NativeModule) UsesTrapHandler() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.useTrapHandler
}

// FreezeLazyCompile stops further lazy-compile stub installation; used
// once a module's tier-up budget is exhausted and the host wants to
// stop spending compiler threads on it.
func (m *NativeModule) FreezeLazyCompile() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lazyCompileFrozen = true
}

// LazyCompileFrozen reports whether FreezeLazyCompile has been called.
func (m *NativeModule) LazyCompileFrozen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lazyCompileFrozen
}

// CodeAt returns the currently installed CodeObject for a declared
// function, or nil if none has been installed (or DisableTrapHandler
// cleared it) yet.
func (m *NativeModule) CodeAt(funcIndex uint32) *codeobj.CodeObject {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codeTable[funcIndex]
}

func roundUp(x, align uintptr) uintptr {
	return (x + align - 1) &^ (align - 1)
}
