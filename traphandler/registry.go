package traphandler

import (
	"sync"

	"github.com/nativewasm/codemanager/errors"
)

// Handle identifies one registered protected-instruction table. Handles
// are never reused while still live and are always non-negative;
// NoHandle is the sentinel for "nothing registered."
type Handle int32

// NoHandle is returned by Register on failure and is the value held by a
// CodeObject that never registered a trap table.
const NoHandle Handle = -1

// ProtectedInstruction pairs the offset, relative to the start of a code
// range, of an instruction that may fault with the offset of the
// landing pad the OS signal handler should transfer control to when it
// does.
type ProtectedInstruction struct {
	CodeOffset    uint32
	LandingOffset uint32
}

type entry struct {
	protected []ProtectedInstruction
	live      bool
}

// Registry is a process-wide table mapping Handle to a protected-
// instruction list. It is the trap-handler analogue of a resource
// handle table: integer handles in, typed payload out, free-list reuse
// of retired slots.
type Registry struct {
	mu       sync.Mutex
	entries  []entry
	freeList []Handle
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Global is the process-wide registry NativeModule installation uses by
// default.
var Global = NewRegistry()

// Register installs protected's table under a new handle and returns
// it. The slice is copied; later mutation of protected has no effect on
// the registered table. An empty table is rejected with (NoHandle, err);
// that is the only failure in this local implementation, and it uses the
// same return shape a handler backed by a real OS trap facility would use
// on registration failure, so callers must always check the error.
func (r *Registry) Register(protected []ProtectedInstruction) (Handle, error) {
	if len(protected) == 0 {
		return NoHandle, errors.InvalidInput(errors.PhaseTrapHandler, "protected instruction table must be non-empty")
	}
	cp := make([]ProtectedInstruction, len(protected))
	copy(cp, protected)

	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.freeList); n > 0 {
		h := r.freeList[n-1]
		r.freeList = r.freeList[:n-1]
		r.entries[h] = entry{protected: cp, live: true}
		return h, nil
	}
	h := Handle(len(r.entries))
	r.entries = append(r.entries, entry{protected: cp, live: true})
	return h, nil
}

// Lookup returns the protected-instruction table registered under h.
func (r *Registry) Lookup(h Handle) ([]ProtectedInstruction, bool) {
	if h < 0 {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if int(h) >= len(r.entries) || !r.entries[h].live {
		return nil, false
	}
	return r.entries[h].protected, true
}

// Release retires h. Releasing NoHandle is a no-op. Releasing an
// already-released or unknown handle returns false; every other call
// returns true. A CodeObject must call Release at most once per handle
// it was issued.
func (r *Registry) Release(h Handle) bool {
	if h == NoHandle {
		return true
	}
	if h < 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if int(h) >= len(r.entries) || !r.entries[h].live {
		return false
	}
	r.entries[h] = entry{}
	r.freeList = append(r.freeList, h)
	return true
}

// Len reports the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.entries {
		if e.live {
			n++
		}
	}
	return n
}
