package codeobj

import (
	"testing"

	"github.com/nativewasm/codemanager/traphandler"
)

func TestCodeObject_Contains(t *testing.T) {
	c := New(Config{InstrStart: 0x1000, InstrEnd: 0x1040, Kind: Function})

	cases := []struct {
		pc   uintptr
		want bool
	}{
		{0x0fff, false},
		{0x1000, true},
		{0x1020, true},
		{0x103f, true},
		{0x1040, false},
	}
	for _, tc := range cases {
		if got := c.Contains(tc.pc); got != tc.want {
			t.Errorf("Contains(0x%x) = %v, want %v", tc.pc, got, tc.want)
		}
	}
}

func TestCodeObject_TrapHandlerSetOnce(t *testing.T) {
	reg := traphandler.NewRegistry()
	h, err := reg.Register([]traphandler.ProtectedInstruction{{CodeOffset: 0, LandingOffset: 16}})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	c := New(Config{InstrStart: 0x2000, InstrEnd: 0x2100, Kind: Function})
	if got := c.TrapHandler(); got != traphandler.NoHandle {
		t.Fatalf("new CodeObject TrapHandler() = %v, want NoHandle", got)
	}

	if err := c.SetTrapHandler(h); err != nil {
		t.Fatalf("SetTrapHandler: %v", err)
	}
	if got := c.TrapHandler(); got != h {
		t.Fatalf("TrapHandler() = %v, want %v", got, h)
	}

	if err := c.SetTrapHandler(h); err == nil {
		t.Fatal("expected an error setting the trap handler a second time")
	}
}

func TestCodeObject_TrapHandlerOnlyOnFunction(t *testing.T) {
	c := New(Config{InstrStart: 0x3000, InstrEnd: 0x3040, Kind: RuntimeStub})
	if err := c.SetTrapHandler(traphandler.Handle(0)); err == nil {
		t.Fatal("expected an error setting a trap handler on a non-Function CodeObject")
	}
}

func TestCodeObject_ReleaseReturnsHandleToRegistry(t *testing.T) {
	reg := traphandler.NewRegistry()
	h, _ := reg.Register([]traphandler.ProtectedInstruction{{CodeOffset: 0, LandingOffset: 16}})

	c := New(Config{InstrStart: 0x4000, InstrEnd: 0x4040, Kind: Function})
	if err := c.SetTrapHandler(h); err != nil {
		t.Fatalf("SetTrapHandler: %v", err)
	}

	c.Release(reg)

	if _, ok := reg.Lookup(h); ok {
		t.Fatal("expected the trap handler handle to be released")
	}
	if got := c.TrapHandler(); got != traphandler.NoHandle {
		t.Fatalf("TrapHandler() after Release = %v, want NoHandle", got)
	}
}

func TestCodeObject_ReleaseWithoutTrapHandlerIsNoop(t *testing.T) {
	reg := traphandler.NewRegistry()
	c := New(Config{InstrStart: 0x5000, InstrEnd: 0x5040, Kind: JumpTable})
	c.Release(reg) // must not panic or touch reg
	if reg.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", reg.Len())
	}
}

func TestIndex(t *testing.T) {
	if AnonymousIndex.Valid() {
		t.Fatal("AnonymousIndex should not be valid")
	}
	fi := FunctionIndex(42)
	if !fi.Valid() || fi.FuncIndex != 42 {
		t.Fatalf("FunctionIndex(42) = %+v", fi)
	}
}

func TestCodeObject_Accessors(t *testing.T) {
	reloc := []byte{1, 2, 3}
	srcPos := []byte{4, 5}
	owner := "module-owner-placeholder"

	c := New(Config{
		InstrStart:            0x1000,
		InstrEnd:              0x1080,
		RelocInfo:             reloc,
		SourcePositions:       srcPos,
		Kind:                  Function,
		Tier:                  Optimizing,
		Index:                 FunctionIndex(7),
		ConstantPoolOffset:    0x40,
		SafepointTableOffset:  0x50,
		HandlerTableOffset:    0x60,
		StackSlots:            12,
		ProtectedInstructions: []traphandler.ProtectedInstruction{{CodeOffset: 8, LandingOffset: 32}},
		Owner:                 owner,
	})

	if c.Size() != 0x80 {
		t.Errorf("Size() = %d, want 0x80", c.Size())
	}
	if string(c.RelocInfo()) != string(reloc) {
		t.Errorf("RelocInfo() = %v, want %v", c.RelocInfo(), reloc)
	}
	if string(c.SourcePositions()) != string(srcPos) {
		t.Errorf("SourcePositions() = %v, want %v", c.SourcePositions(), srcPos)
	}
	if c.Kind() != Function || c.Tier() != Optimizing {
		t.Errorf("Kind()/Tier() = %v/%v", c.Kind(), c.Tier())
	}
	if c.Index() != FunctionIndex(7) {
		t.Errorf("Index() = %+v", c.Index())
	}
	if c.ConstantPoolOffset() != 0x40 || c.SafepointTableOffset() != 0x50 || c.HandlerTableOffset() != 0x60 || c.StackSlots() != 12 {
		t.Errorf("offset/slot accessors wrong: %+v", c)
	}
	if len(c.ProtectedInstructions()) != 1 {
		t.Errorf("ProtectedInstructions() length = %d, want 1", len(c.ProtectedInstructions()))
	}
	if c.Owner().(string) != owner {
		t.Errorf("Owner() = %v, want %v", c.Owner(), owner)
	}
}
