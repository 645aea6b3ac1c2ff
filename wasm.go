package codemanager

import (
	"github.com/tetratelabs/wazero"

	"github.com/nativewasm/codemanager/manager"
)

// FromCompiledModule adapts a wazero.CompiledModule's shape into the
// NewModuleDescriptor a CodeManager needs to size a module's first
// reservation. wazero's public CompiledModule interface only exposes
// the imported/exported function partitions, not the full declared-
// function count or per-function body sizes the compiler saw, so
// NumDeclaredFunctions is approximated from exports and
// SourceFunctionBodyBytes is left empty — estimateMemory's expansion
// term degrades gracefully to zero rather than guessing.
func FromCompiledModule(cm wazero.CompiledModule) manager.NewModuleDescriptor {
	return manager.NewModuleDescriptor{
		NumImports:           uint32(len(cm.ImportedFunctions())),
		NumDeclaredFunctions: uint32(len(cm.ExportedFunctions())),
		CanGrow:              true,
		UseTrapHandler:       true,
	}
}

// New returns a CodeManager ready to host NativeModules.
func New(cfg manager.Config) *manager.CodeManager {
	return manager.New(cfg)
}
