package nativemodule

import "github.com/nativewasm/codemanager/vmem"

// Manager is the slice of CodeManager a NativeModule needs: another OS
// reservation when its free pool runs dry, the global committed-bytes
// budget debited through one call, and the process-wide PC interval map
// kept in sync as reservations come and go. manager.CodeManager
// implements this interface; NativeModule never imports that package
// directly.
type Manager interface {
	// TryAllocate reserves a new region of at least size bytes, hinted
	// at hint.
	TryAllocate(size, hint uintptr) (*vmem.Region, error)

	// Commit debits size bytes from the global committed budget and
	// performs the OS-level commit at addr. writeProtect selects RW vs
	// RWX for the newly committed pages.
	Commit(addr, size uintptr, writeProtect bool) error

	// CreditUncommitted returns size bytes to the global committed
	// budget without touching OS page state, used when rolling back a
	// partially completed allocation.
	CreditUncommitted(size uintptr)

	// RegisterReservation and UnregisterReservation keep the process-
	// wide PC interval map in sync with a module's reservation list.
	RegisterReservation(base, end uintptr, owner *NativeModule)
	UnregisterReservation(base uintptr)
}
