// Package traphandler implements the process-global trap-handler
// registry.
//
// Generated WebAssembly code that relies on implicit bounds checks
// (rather than explicit comparisons before every memory access) marks
// the instructions that may fault with a table of (code offset, landing
// offset) pairs. Registering that table with the OS-level signal handler
// returns an integer handle; a later fault in one of the protected
// instructions is mapped back to the WebAssembly trap at the
// corresponding landing offset.
//
// Each CodeObject holds at most one handle, which CodeObject.Release
// returns to the registry; freeing a NativeModule does not call Release,
// so its CodeObjects' handles stay registered. The table follows the
// Component Model resource handle table's create/drop discipline, but
// specialized to a single payload type instead of arbitrary typed values.
package traphandler
