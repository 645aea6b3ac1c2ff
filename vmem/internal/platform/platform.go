// Package platform implements the OS-specific half of VirtualMemoryRegion:
// reserving address space, committing pages, and toggling permissions.
//
// The unix build uses golang.org/x/sys/unix (mmap/mprotect/munmap); the
// windows build uses golang.org/x/sys/windows (VirtualAlloc/VirtualProtect
// /VirtualFree). Both expose the same set of functions so vmem.Region never
// needs a build tag of its own.
package platform

// Permission is one of the three page-permission states the manager ever
// requests. There is intentionally no write-only or no-access state: the
// manager only ever needs RW (to write code), RX (to execute it), and
// RWX (for platforms, notably amd64, where giving up write access isn't
// required to execute).
type Permission int

const (
	RW Permission = iota
	RX
	RWX
)

func (p Permission) String() string {
	switch p {
	case RW:
		return "RW"
	case RX:
		return "RX"
	case RWX:
		return "RWX"
	default:
		return "unknown"
	}
}
