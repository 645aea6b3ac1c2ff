// Package codemanager is the native code manager for a WebAssembly
// execution engine: the subsystem that owns every byte of executable
// machine code generated for WebAssembly modules loaded into the host
// process.
//
// It reserves virtual address space, commits pages on demand, copies
// generated machine code into executable regions, maintains a PC→code
// reverse index for stack walking and trap handling, and exposes an
// indirect-call jump table so function calls can be redirected (lazy
// compilation → compiled stub → optimized code) without rewriting call
// sites.
//
// The package is organized leaves-first, the way the design that
// produced it is organized:
//
//	addrspace/     AddressRange and the coalescing DisjointPool allocator
//	vmem/          VirtualMemoryRegion: one OS reservation, commit/protect/release
//	reloc/         relocation record grammar and the post-copy rewrite pass
//	traphandler/   the process-wide trap-handler registry
//	codeobj/       CodeObject: one installed machine-code artifact
//	nativemodule/  NativeModule: all the code for one loaded module
//	manager/       CodeManager: the process-wide owner of NativeModules
//	errors/        structured error types shared by every package above
//
// This root package wires the pieces together and adapts a compiled
// wazero module's shape into the estimate NewNativeModule uses to size
// its first reservation.
package codemanager
