package manager

import (
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nativewasm/codemanager/codeobj"
	"github.com/nativewasm/codemanager/errors"
	"github.com/nativewasm/codemanager/nativemodule"
	"github.com/nativewasm/codemanager/vmem"
)

var (
	codeObjectSize = unsafe.Sizeof(codeobj.CodeObject{})
	pointerSize    = unsafe.Sizeof(uintptr(0))
)

// NewModuleDescriptor carries the shape information NewNativeModule
// needs to estimate a module's reservation size, mirroring what the
// module loader would read off a decoded WebAssembly module.
type NewModuleDescriptor struct {
	NumImports              uint32
	NumDeclaredFunctions    uint32
	SourceFunctionBodyBytes []uint32

	CanGrow          bool
	UseTrapHandler   bool
	WriteProtectCode bool
}

type mapping struct {
	base, end uintptr
	module    *nativemodule.NativeModule
}

// CodeManager is the process-wide owner of NativeModules.
type CodeManager struct {
	cfg Config

	remainingUncommitted atomic.Uintptr
	active               atomic.Int64

	mu        sync.Mutex
	lookupMap []mapping

	logger *zap.Logger
}

// New returns a CodeManager with remaining_uncommitted initialized to
// cfg.MaxCommittedBytes.
func New(cfg Config) *CodeManager {
	cfg = cfg.withDefaults()
	m := &CodeManager{cfg: cfg, logger: cfg.Logger}
	m.remainingUncommitted.Store(cfg.MaxCommittedBytes)
	return m
}

// RemainingUncommitted returns the current value of the committed-bytes
// budget counter.
func (m *CodeManager) RemainingUncommitted() uintptr {
	return m.remainingUncommitted.Load()
}

// Active returns the number of live NativeModules.
func (m *CodeManager) Active() int64 {
	return m.active.Load()
}

// SetLogger replaces the logger diagnostics and Fatal are written to.
func (m *CodeManager) SetLogger(l *zap.Logger) {
	m.logger = l
}

// Commit implements nativemodule.Manager. It CAS-debits size bytes from
// the global budget, then performs the OS-level commit at addr;
// concurrent compilation threads race on the debit, so the loop retries
// until it either wins or observes insufficient budget.
func (m *CodeManager) Commit(addr, size uintptr, writeProtect bool) error {
	for {
		old := m.remainingUncommitted.Load()
		if old < size {
			m.logger.Warn("commit budget exhausted",
				zap.Uintptr("requested", size), zap.Uintptr("remaining", old))
			return errors.BudgetExhausted(size, old)
		}
		if m.remainingUncommitted.CompareAndSwap(old, old-size) {
			break
		}
	}

	perm := vmem.RWX
	if writeProtect {
		perm = vmem.RW
	}
	if err := vmem.CommitAt(addr, size, perm); err != nil {
		m.remainingUncommitted.Add(size)
		return err
	}
	return nil
}

// CreditUncommitted implements nativemodule.Manager.
func (m *CodeManager) CreditUncommitted(size uintptr) {
	m.remainingUncommitted.Add(size)
}

// TryAllocate implements nativemodule.Manager: one contiguous OS
// reservation of at least size bytes. A zero hint is replaced with a
// randomized page-aligned address to avoid every module's reservations
// clustering at the same address (poor-man's ASLR at the Go level; the
// OS is still free to ignore it, and the unix platform layer does not
// pass the hint to mmap as an address, so there it has no effect).
func (m *CodeManager) TryAllocate(size, hint uintptr) (*vmem.Region, error) {
	size = vmem.RoundUpPage(size)
	if hint == 0 {
		hint = randomizedCodeHint()
	}
	return vmem.Reserve(hint, size, vmem.PageSize())
}

func randomizedCodeHint() uintptr {
	const low, high = uintptr(0x0000_2000_0000_0000), uintptr(0x0000_6000_0000_0000)
	span := uint64(high - low)
	hint := low + uintptr(rand.Uint64()%span)
	return vmem.RoundDownPage(hint)
}

// RegisterReservation implements nativemodule.Manager.
func (m *CodeManager) RegisterReservation(base, end uintptr, owner *nativemodule.NativeModule) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := sort.Search(len(m.lookupMap), func(i int) bool { return m.lookupMap[i].base > base })
	m.lookupMap = append(m.lookupMap, mapping{})
	copy(m.lookupMap[i+1:], m.lookupMap[i:])
	m.lookupMap[i] = mapping{base: base, end: end, module: owner}
}

// UnregisterReservation implements nativemodule.Manager.
func (m *CodeManager) UnregisterReservation(base uintptr) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := sort.Search(len(m.lookupMap), func(i int) bool { return m.lookupMap[i].base >= base })
	if i < len(m.lookupMap) && m.lookupMap[i].base == base {
		m.lookupMap = append(m.lookupMap[:i], m.lookupMap[i+1:]...)
	}
}

// LookupNativeModule returns the NativeModule owning pc, or nil.
func (m *CodeManager) LookupNativeModule(pc uintptr) *nativemodule.NativeModule {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := sort.Search(len(m.lookupMap), func(i int) bool { return m.lookupMap[i].base > pc })
	if i == 0 {
		return nil
	}
	cand := m.lookupMap[i-1]
	if pc >= cand.base && pc < cand.end {
		return cand.module
	}
	return nil
}

// LookupCode delegates to LookupNativeModule(pc).Lookup(pc).
func (m *CodeManager) LookupCode(pc uintptr) *codeobj.CodeObject {
	mod := m.LookupNativeModule(pc)
	if mod == nil {
		return nil
	}
	return mod.Lookup(pc)
}

// NewNativeModule estimates the reservation a module of this shape
// needs, reserves it, and constructs the owning NativeModule.
func (m *CodeManager) NewNativeModule(desc NewModuleDescriptor) (*nativemodule.NativeModule, error) {
	size := estimateMemory(desc, m.cfg)
	if m.cfg.SingleContiguousCodeRange {
		size = m.cfg.MaxWasmCode
	}

	if m.active.Load() > 1 && m.remainingUncommitted.Load() < m.cfg.CriticalThreshold {
		if m.cfg.OnCriticalMemoryPressure != nil {
			m.cfg.OnCriticalMemoryPressure()
		}
	}

	region, err := m.TryAllocate(size, 0)
	if err != nil {
		return nil, err
	}

	mod, err := nativemodule.New(m, region, nativemodule.Config{
		NumImports:           desc.NumImports,
		NumDeclaredFunctions: desc.NumDeclaredFunctions,
		CodeAlignment:        m.cfg.CodeAlignment,
		SlotSize:             m.cfg.SlotSize,
		CanGrow:              desc.CanGrow && !m.cfg.SingleContiguousCodeRange,
		UseTrapHandler:       desc.UseTrapHandler,
		WriteProtectCode:     desc.WriteProtectCode,
		Logger:               m.logger,
	})
	if err != nil {
		region.Release()
		return nil, err
	}

	m.active.Add(1)
	m.logger.Debug("new native module",
		zap.Uint64("module_id", mod.ID()), zap.Uintptr("reservation_size", size))
	return mod, nil
}

// FreeNativeModule releases every reservation mod owns, removes them
// from the lookup map, decrements the active count, and credits mod's
// committed bytes back to the global budget.
func (m *CodeManager) FreeNativeModule(mod *nativemodule.NativeModule) error {
	m.active.Add(-1)

	var errs error
	for _, r := range mod.Reservations() {
		m.UnregisterReservation(r.Base())
		if err := r.Release(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	m.remainingUncommitted.Add(mod.CommittedBytes())
	m.logger.Debug("freed native module", zap.Uint64("module_id", mod.ID()))
	return errs
}

// LiveModules returns every distinct NativeModule currently registered
// in the lookup map, for diagnostics and the operational inspector. A
// module with several reservations appears once.
func (m *CodeManager) LiveModules() []*nativemodule.NativeModule {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[*nativemodule.NativeModule]bool)
	var out []*nativemodule.NativeModule
	for _, e := range m.lookupMap {
		if !seen[e.module] {
			seen[e.module] = true
			out = append(out, e.module)
		}
	}
	return out
}

// Fatal logs err as unrecoverable and aborts the process, mirroring the
// design's fatal-abort policy for every error Kind except
// KindBudgetExhausted (see errors.Error.Recoverable).
func (m *CodeManager) Fatal(err error) {
	m.logger.Fatal("code manager: unrecoverable error", zap.Error(err))
	panic(err) // unreachable once Logger.Fatal calls os.Exit; kept for a nil/no-op logger
}

func estimateMemory(desc NewModuleDescriptor, cfg Config) uintptr {
	n := uintptr(desc.NumDeclaredFunctions)

	total := vmem.PageSize() + cfg.FixedOverheadBytes
	total += pointerSize * n
	total += codeObjectSize * n
	total += cfg.ImportOverheadBytes * uintptr(desc.NumImports)
	total += cfg.SlotSize * n

	var bodyBytes uintptr
	for _, b := range desc.SourceFunctionBodyBytes {
		bodyBytes += uintptr(b)
	}
	total += cfg.CodeExpansionFactor * bodyBytes

	return total
}
