// Package nativemodule implements NativeModule: all the machine code
// belonging to one loaded WebAssembly module.
//
// A NativeModule owns a growing list of VirtualMemoryRegion reservations,
// a free/allocated DisjointPool pair carved out of them, an address-
// sorted list of installed CodeObjects, a per-function code table, a
// jump table used for indirect calls, and the W^X executable-state
// latch every write to installed code must go through.
//
// NativeModule never imports the package that owns it (nativemodule's
// sibling "manager" package, the process-wide CodeManager) to avoid an
// import cycle; instead it depends on the small Manager interface
// declared in this package, which manager.CodeManager implements.
package nativemodule
