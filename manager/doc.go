// Package manager implements CodeManager: the process-wide owner of
// every NativeModule in the host process.
//
// CodeManager enforces the global committed-bytes cap with an atomic
// CAS-debit/credit counter, hands out OS reservations on a NativeModule's
// behalf, and maintains the PC→NativeModule interval map stack unwinding
// and diagnostics walk. It implements nativemodule.Manager so the two
// packages can depend on each other's capabilities without an import
// cycle: manager imports nativemodule directly, nativemodule depends
// only on the small interface declared in its own package.
package manager
