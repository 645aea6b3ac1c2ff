package vmem

import (
	"unsafe"

	"github.com/nativewasm/codemanager/errors"
	"github.com/nativewasm/codemanager/vmem/internal/platform"
)

// Permission is one of the three page-permission states the manager
// requests: RW, RX, or RWX.
type Permission = platform.Permission

const (
	RW  = platform.RW
	RX  = platform.RX
	RWX = platform.RWX
)

// PageSize returns the OS page size.
func PageSize() uintptr {
	return platform.PageSize()
}

// RoundUpPage rounds size up to the next multiple of the page size.
func RoundUpPage(size uintptr) uintptr {
	return roundUp(size, platform.PageSize())
}

// RoundDownPage rounds addr down to the previous multiple of the page
// size.
func RoundDownPage(addr uintptr) uintptr {
	pageSize := platform.PageSize()
	return addr &^ (pageSize - 1)
}

// CommitAt transitions the page-aligned range [addr, addr+size) from
// reserved to committed with the given permission, without requiring a
// *Region. Used by the CodeManager, which tracks committed-byte budget
// process-wide rather than per-reservation.
func CommitAt(addr, size uintptr, perm Permission) error {
	if err := platform.CommitAt(addr, size, perm); err != nil {
		return errors.PermissionFailed(addr, size, err)
	}
	return nil
}

// SetPermissionsAt changes the permission of an already-committed,
// page-aligned range without requiring a *Region.
func SetPermissionsAt(addr, size uintptr, perm Permission) error {
	if err := platform.SetPermissionsAt(addr, size, perm); err != nil {
		return errors.PermissionFailed(addr, size, err)
	}
	return nil
}

// Region owns one OS virtual-memory reservation. The zero Region is
// released; it becomes reserved only via Reserve.
type Region struct {
	mem    []byte // full over-reservation backing the aligned window
	base   uintptr
	offset uintptr // mem[offset:offset+size] is the usable, aligned window
	size   uintptr
}

// Reserve attempts one contiguous OS reservation of at least size bytes,
// aligned to alignment. A non-zero hint is handed to the platform layer
// as a preferred base address; the unix layer does not pass it to mmap as
// an address, so on unix the OS always chooses the base. hint may be zero
// to let the OS choose. On failure the returned error is *errors.Error with
// Kind == errors.KindReservationFailed and no Region is returned.
func Reserve(hint uintptr, size uintptr, alignment uintptr) (*Region, error) {
	pageSize := platform.PageSize()
	size = roundUp(size, pageSize)
	if alignment < pageSize {
		alignment = pageSize
	}

	reserveSize := size
	if alignment > pageSize {
		// Over-reserve so an aligned window of exactly `size` bytes is
		// guaranteed to fit somewhere inside it; the slack on either side
		// stays mapped PROT_NONE/reserved for the region's lifetime rather
		// than being split off with a second munmap call.
		reserveSize = size + alignment - pageSize
	}

	mem, err := platform.Reserve(reserveSize, hint)
	if err != nil {
		return nil, errors.ReservationFailed(reserveSize, err)
	}

	base := addressOf(mem)
	aligned := roundUp(base, alignment)
	return &Region{
		mem:    mem,
		base:   aligned,
		offset: aligned - base,
		size:   size,
	}, nil
}

// Base returns the start address of the usable, aligned window.
func (r *Region) Base() uintptr { return r.base }

// Size returns the size in bytes of the usable, aligned window.
func (r *Region) Size() uintptr { return r.size }

// End returns Base() + Size().
func (r *Region) End() uintptr { return r.base + r.size }

// Reserved reports whether the region still owns a live OS reservation.
func (r *Region) Reserved() bool { return r.mem != nil }

// contains reports whether [addr, addr+size) lies entirely within the
// region's usable window.
func (r *Region) contains(addr, size uintptr) bool {
	return addr >= r.base && addr+size <= r.base+r.size
}

// Commit transitions pages [addr, addr+size) from reserved to committed
// with the given permission. addr and size must be page-aligned and the
// range must lie within the region.
func (r *Region) Commit(addr, size uintptr, perm Permission) error {
	if !r.contains(addr, size) {
		return errors.InvalidInput(errors.PhaseCommit, "commit range lies outside the region")
	}
	idx := r.offset + (addr - r.base)
	if err := platform.Commit(r.mem, idx, size, perm); err != nil {
		return errors.PermissionFailed(addr, size, err)
	}
	return nil
}

// SetPermissions changes the permission of an already-committed
// sub-range. addr and size must be page-aligned and lie within the
// region.
func (r *Region) SetPermissions(addr, size uintptr, perm Permission) error {
	if !r.contains(addr, size) {
		return errors.InvalidInput(errors.PhaseProtect, "permission range lies outside the region")
	}
	idx := r.offset + (addr - r.base)
	if err := platform.SetPermissions(r.mem, idx, size, perm); err != nil {
		return errors.PermissionFailed(addr, size, err)
	}
	return nil
}

// Slice returns a byte slice viewing [addr, addr+size) of the region's
// committed memory. The slice aliases the region's backing storage;
// callers must not retain it past Release.
func (r *Region) Slice(addr, size uintptr) ([]byte, error) {
	if !r.contains(addr, size) {
		return nil, errors.InvalidInput(errors.PhaseInstall, "slice range lies outside the region")
	}
	idx := r.offset + (addr - r.base)
	return r.mem[idx : idx+size : idx+size], nil
}

// Release undoes the reservation. After Release, the region is in the
// released state and Base/Size/Commit/SetPermissions must not be used.
// Calling Release on an already-released region is a no-op.
func (r *Region) Release() error {
	if r.mem == nil {
		return nil
	}
	mem := r.mem
	r.mem = nil
	r.base, r.offset, r.size = 0, 0, 0
	if err := platform.Release(mem); err != nil {
		return errors.PermissionFailed(0, uintptr(len(mem)), err)
	}
	return nil
}

func addressOf(mem []byte) uintptr {
	if len(mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&mem[0]))
}

func roundUp(x, align uintptr) uintptr {
	return (x + align - 1) &^ (align - 1)
}
