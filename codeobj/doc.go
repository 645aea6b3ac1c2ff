// Package codeobj implements CodeObject: one installed machine-code
// artifact inside a NativeModule's reservations.
//
// A CodeObject is immutable after construction except for its trap-
// handler handle, which may be set at most once, after construction,
// once the trap table for a Function has been registered. Everything
// else — the instruction range, the owned relocation and source-
// position byte arrays, kind, tier, and index — is fixed at
// construction and never mutated again. Construction is the
// responsibility of the owning NativeModule; this package only
// enforces the CodeObject's own invariants, not who may call New.
package codeobj
