//go:build unix

package platform

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// PageSize returns the OS page size.
func PageSize() uintptr {
	return uintptr(unix.Getpagesize())
}

// Reserve reserves size bytes of address space without committing any
// backing memory. hint is passed to mmap as the file offset, not as the
// address argument, so it does not choose where the mapping lands: the
// kernel picks the base address. The region is mapped PROT_NONE:
// touching it before a Commit call faults.
func Reserve(size uintptr, hint uintptr) ([]byte, error) {
	flags := unix.MAP_ANON | unix.MAP_PRIVATE
	return unix.Mmap(-1, int64(hint), int(size), unix.PROT_NONE, flags)
}

// Commit transitions mem[offset:offset+size] from reserved to backed,
// with the given permission. On unix there is no separate commit step
// from a permission change: anonymous private pages are backed lazily by
// the kernel on first access once PROT_NONE is lifted.
func Commit(mem []byte, offset, size uintptr, perm Permission) error {
	return SetPermissions(mem, offset, size, perm)
}

// SetPermissions changes the permission of an already-committed sub-range.
func SetPermissions(mem []byte, offset, size uintptr, perm Permission) error {
	return unix.Mprotect(mem[offset:offset+size], protFor(perm))
}

// Release unmaps the entire region.
func Release(mem []byte) error {
	return unix.Munmap(mem)
}

// CommitAt and SetPermissionsAt operate on a raw address rather than a
// []byte view into one Region's backing slice. mprotect (like
// VirtualProtect) takes an address and is indifferent to which Go value
// represents the mapping it lands in, so the CodeManager's process-wide
// commit path uses these instead of going through a specific Region.
func CommitAt(addr, size uintptr, perm Permission) error {
	return SetPermissionsAt(addr, size, perm)
}

func SetPermissionsAt(addr, size uintptr, perm Permission) error {
	b := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))
	return unix.Mprotect(b, protFor(perm))
}

func protFor(perm Permission) int {
	switch perm {
	case RW:
		return unix.PROT_READ | unix.PROT_WRITE
	case RX:
		return unix.PROT_READ | unix.PROT_EXEC
	case RWX:
		return unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
	default:
		return unix.PROT_NONE
	}
}
