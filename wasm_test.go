package codemanager

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero"
)

// emptyModule is the minimal valid WebAssembly binary: just the magic
// number and version, no sections.
var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func TestFromCompiledModule(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	cm, err := rt.CompileModule(ctx, emptyModule)
	if err != nil {
		t.Fatalf("CompileModule: %v", err)
	}

	desc := FromCompiledModule(cm)
	if desc.NumImports != 0 {
		t.Fatalf("NumImports = %d, want 0", desc.NumImports)
	}
	if desc.NumDeclaredFunctions != 0 {
		t.Fatalf("NumDeclaredFunctions = %d, want 0", desc.NumDeclaredFunctions)
	}
	if !desc.CanGrow || !desc.UseTrapHandler {
		t.Fatalf("desc = %+v, want CanGrow and UseTrapHandler set", desc)
	}
}
