//go:build windows

package platform

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// PageSize returns the OS page size.
func PageSize() uintptr {
	return uintptr(windows.Getpagesize())
}

// Reserve reserves size bytes of address space without committing any
// backing memory. hint, if non-zero, is a preferred base address.
func Reserve(size uintptr, hint uintptr) ([]byte, error) {
	addr, err := windows.VirtualAlloc(hint, size, windows.MEM_RESERVE, windows.PAGE_NOACCESS)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size)), nil
}

// Commit transitions mem[offset:offset+size] from reserved to backed,
// with the given permission. Unlike unix, Windows requires the explicit
// MEM_COMMIT allocation type: VirtualProtect alone cannot back pages.
func Commit(mem []byte, offset, size uintptr, perm Permission) error {
	addr := uintptr(unsafe.Pointer(&mem[offset]))
	_, err := windows.VirtualAlloc(addr, size, windows.MEM_COMMIT, protectFor(perm))
	return err
}

// SetPermissions changes the permission of an already-committed sub-range.
func SetPermissions(mem []byte, offset, size uintptr, perm Permission) error {
	addr := uintptr(unsafe.Pointer(&mem[offset]))
	var old uint32
	return windows.VirtualProtect(addr, size, protectFor(perm), &old)
}

// Release releases the entire reservation.
func Release(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&mem[0]))
	return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
}

// CommitAt and SetPermissionsAt operate on a raw address rather than a
// []byte view into one Region's backing slice, mirroring the unix
// variants used by the CodeManager's process-wide commit path.
func CommitAt(addr, size uintptr, perm Permission) error {
	_, err := windows.VirtualAlloc(addr, size, windows.MEM_COMMIT, protectFor(perm))
	return err
}

func SetPermissionsAt(addr, size uintptr, perm Permission) error {
	var old uint32
	return windows.VirtualProtect(addr, size, protectFor(perm), &old)
}

func protectFor(perm Permission) uint32 {
	switch perm {
	case RW:
		return windows.PAGE_READWRITE
	case RX:
		return windows.PAGE_EXECUTE_READ
	case RWX:
		return windows.PAGE_EXECUTE_READWRITE
	default:
		return windows.PAGE_NOACCESS
	}
}
