// Package vmem implements VirtualMemoryRegion: the owner of one OS
// virtual-memory reservation.
//
// A Region is move-only in spirit — always held and passed by
// *Region — because dropping the last reference without calling
// Release leaks the reservation; calling Release on an already-released
// Region is a no-op. "Released" and "reserved" are the only two
// lifecycle states; the zero Region is released.
//
// The OS-specific reserve/commit/protect/release calls live in
// vmem/internal/platform, split by build tag the way the reference
// mmap implementations in the ecosystem split them: one file for
// unix (golang.org/x/sys/unix), one for windows
// (golang.org/x/sys/windows).
package vmem
