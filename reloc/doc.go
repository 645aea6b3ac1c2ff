// Package reloc implements the relocation record grammar carried in the
// suffix of every compiler code descriptor, and the rewrite pass that
// applies it once machine code has been copied to its load address.
//
// A relocation section is an opaque byte stream: a sequence of variable-
// length records, each tagged with a Mode. Five modes carry an address
// embedded in the code buffer that must be corrected once the code
// moves — InterWasmCall, RuntimeStubCall, InternalReference,
// InternalReferenceEncoded, and CodeTableEntry. The rest (
// ExternalReference, OffHeapTarget, Comment, ConstPool, VeneerPool)
// describe the layout for diagnostics or downstream consumers but name
// nothing that needs rewriting when code moves.
package reloc
