// Package addrspace implements a disjoint, coalescing set of half-open
// address ranges.
//
// Pool is the free-space and allocated-space bookkeeping structure used
// by every code-holding region in the manager: a NativeModule tracks its
// free bytes and its handed-out bytes each as a Pool, and recomputes
// permission domains by walking one of them.
//
// Allocation is address-ordered first-fit: the first range large enough
// to satisfy a request is used, splitting off the remainder. Freeing a
// range merges it with any adjacent ranges so the pool never accumulates
// fragments that a later free could have coalesced.
package addrspace
