// Package errors provides structured error types for the code manager.
package errors

import (
	"fmt"
	"strings"
)

// Phase indicates which pipeline stage produced the error.
type Phase string

const (
	PhaseReserve     Phase = "reserve"      // OS reservation of virtual address space
	PhaseCommit      Phase = "commit"       // committing pages / debiting the budget
	PhaseInstall     Phase = "install"      // copying code into a reservation
	PhaseRelocate    Phase = "relocate"     // rewriting relocation entries
	PhaseProtect     Phase = "protect"      // permission (W^X) transitions
	PhaseTrapHandler Phase = "trap_handler" // trap-handler registration
	PhaseLookup      Phase = "lookup"       // PC to code / module lookup
	PhaseRuntime     Phase = "runtime"      // generic runtime operations
	PhaseValidate    Phase = "validate"     // input/invariant validation
)

// Kind categorizes the error within Phase. The first six kinds below are
// the taxonomy named by the manager's error handling design: each maps to
// exactly one recognized failure mode, and only KindBudgetExhausted is
// recoverable by the caller. KindInvalidInput and KindNotFound report
// rejected arguments and missing entries.
type Kind string

const (
	KindOutOfCodeSpace    Kind = "out_of_code_space"
	KindReservationFailed Kind = "reservation_failed"
	KindBudgetExhausted   Kind = "budget_exhausted"
	KindPermissionFailed  Kind = "permission_failed"
	KindTrapHandlerFailed Kind = "trap_handler_failed"
	KindInvalidLookup     Kind = "invalid_lookup"
	KindInvalidInput      Kind = "invalid_input"
	KindNotFound          Kind = "not_found"
)

// Error is the structured error type used throughout the code manager.
type Error struct {
	Cause   error
	Phase   Phase
	Kind    Kind
	Detail  string
	Address uintptr
	Size    uintptr
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Address != 0 || e.Size != 0 {
		fmt.Fprintf(&b, " (addr=0x%x size=%d)", e.Address, e.Size)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error's Phase and Kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Recoverable reports whether a caller may treat this error as a
// non-fatal signal (retry, free a module, fall back) rather than abort
// the process. Only commit-budget exhaustion is recoverable; every other
// kind in the taxonomy leaves state indeterminate enough that the only
// safe response is a diagnosed abort.
func (e *Error) Recoverable() bool {
	return e.Kind == KindBudgetExhausted
}

// Builder provides structured error construction.
type Builder struct {
	err Error
}

// New creates a new error builder.
func New(phase Phase, kind Kind) *Builder {
	return &Builder{err: Error{Phase: phase, Kind: kind}}
}

// Detail sets the human-readable detail message.
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// At sets the address/size the error refers to.
func (b *Builder) At(addr, size uintptr) *Builder {
	b.err.Address = addr
	b.err.Size = size
	return b
}

// Cause sets the underlying error.
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Build returns the constructed error.
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common patterns.

// OutOfCodeSpace creates an allocator-exhaustion error: the module's free
// pool could not satisfy size and the module is not allowed to grow.
func OutOfCodeSpace(size uintptr) *Error {
	return &Error{
		Phase:  PhaseInstall,
		Kind:   KindOutOfCodeSpace,
		Size:   size,
		Detail: fmt.Sprintf("no %d contiguous bytes available and module cannot grow", size),
	}
}

// ReservationFailed creates an OS-reservation error.
func ReservationFailed(size uintptr, cause error) *Error {
	return &Error{
		Phase:  PhaseReserve,
		Kind:   KindReservationFailed,
		Size:   size,
		Detail: fmt.Sprintf("OS refused a %d byte reservation", size),
		Cause:  cause,
	}
}

// BudgetExhausted creates a commit-budget error. This is the one kind in
// the taxonomy a caller is expected to recover from.
func BudgetExhausted(size, remaining uintptr) *Error {
	return &Error{
		Phase:  PhaseCommit,
		Kind:   KindBudgetExhausted,
		Size:   size,
		Detail: fmt.Sprintf("requested %d bytes, %d remaining in the global budget", size, remaining),
	}
}

// PermissionFailed creates a permission-change (mprotect/VirtualProtect)
// error.
func PermissionFailed(addr, size uintptr, cause error) *Error {
	return &Error{
		Phase:  PhaseProtect,
		Kind:   KindPermissionFailed,
		Address: addr,
		Size:   size,
		Cause:  cause,
	}
}

// TrapHandlerFailed creates a trap-handler registration error.
func TrapHandlerFailed(addr, size uintptr, cause error) *Error {
	return &Error{
		Phase:  PhaseTrapHandler,
		Kind:   KindTrapHandlerFailed,
		Address: addr,
		Size:   size,
		Detail: "trap handler registration returned a negative index",
		Cause:  cause,
	}
}

// InvalidLookup creates a programmer-error assertion failure: the caller
// claimed pc was exactly an instruction start, and it was not.
func InvalidLookup(pc uintptr) *Error {
	return &Error{
		Phase:   PhaseLookup,
		Kind:    KindInvalidLookup,
		Address: pc,
		Detail:  "pc is not the start address of any installed code object",
	}
}

// NotFound creates a not-found error.
func NotFound(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s not found", what),
	}
}

// InvalidInput creates an invalid-input error.
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}
