// Package errors provides structured error types for the code manager.
//
// Errors are categorized by Phase (which pipeline stage failed) and Kind
// (the error category within the taxonomy the manager recognizes). The
// Error type carries enough context — the range or address involved, a
// human detail string, and an optional cause — to make a fatal abort
// diagnosable without a debugger attached.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseCommit, errors.KindBudgetExhausted).
//		Detail("requested %d bytes, %d remaining", size, remaining).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.BudgetExhausted(size, remaining)
//	err := errors.InvalidLookup(pc)
//
// All errors implement the standard error interface and support errors.Is/As.
//
// Of the six kinds in the taxonomy, only KindBudgetExhausted is meant to
// be recovered by a caller (see Recoverable). Every other kind is
// reported to the caller only so it can be logged before the process
// aborts — the manager is infrastructure, and most of its failures leave
// process state indeterminate.
package errors
