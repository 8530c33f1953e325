// Package pow solves DeepSeekHashV1 proof-of-work challenges with the
// platform's WASM hashing module.
package pow

import (
	"context"
	"fmt"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Exported names of the hashing module (wasm-bindgen output).
const (
	exportMemory       = "memory"
	exportAddToStack   = "__wbindgen_add_to_stack_pointer"
	exportAlloc        = "__wbindgen_export_0"
	exportSolve        = "wasm_solve"
	scratchSize        = 16 // int32 status @0, float64 answer @8
	scratchValueOffset = 8
)

// Solver runs the hashing module. The compiled module is shared; every
// Solve gets its own instance, so Solve is safe for concurrent use.
type Solver struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
}

// Load reads and compiles the module at path.
func Load(ctx context.Context, path string) (*Solver, error) {
	wasm, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wasm %s: %w", path, err)
	}
	return New(ctx, wasm)
}

// New compiles wasm and checks that it carries the expected exports.
func New(ctx context.Context, wasm []byte) (*Solver, error) {
	rt := wazero.NewRuntime(ctx)
	compiled, err := rt.CompileModule(ctx, wasm)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("compile wasm: %w", err)
	}
	exports := compiled.ExportedFunctions()
	for _, name := range []string{exportAddToStack, exportAlloc, exportSolve} {
		if _, ok := exports[name]; !ok {
			rt.Close(ctx)
			return nil, fmt.Errorf("wasm module missing export %q", name)
		}
	}
	if _, ok := compiled.ExportedMemories()[exportMemory]; !ok {
		rt.Close(ctx)
		return nil, fmt.Errorf("wasm module missing export %q", exportMemory)
	}
	return &Solver{runtime: rt, compiled: compiled}, nil
}

// Solve returns the answer for challenge/prefix at the given difficulty.
// ok is false when the module reports that no answer exists.
func (s *Solver) Solve(ctx context.Context, challenge, prefix []byte, difficulty float64) (answer int64, ok bool, err error) {
	mod, err := s.runtime.InstantiateModule(ctx, s.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return 0, false, fmt.Errorf("instantiate wasm: %w", err)
	}
	defer mod.Close(ctx)

	mem := mod.Memory()
	addToStack := mod.ExportedFunction(exportAddToStack)
	alloc := mod.ExportedFunction(exportAlloc)
	solve := mod.ExportedFunction(exportSolve)

	res, err := addToStack.Call(ctx, api.EncodeI32(-scratchSize))
	if err != nil {
		return 0, false, fmt.Errorf("reserve scratch: %w", err)
	}
	retptr := uint32(api.DecodeI32(res[0]))
	defer addToStack.Call(ctx, api.EncodeI32(scratchSize))

	cPtr, err := writeBytes(ctx, alloc, mem, challenge)
	if err != nil {
		return 0, false, fmt.Errorf("write challenge: %w", err)
	}
	pPtr, err := writeBytes(ctx, alloc, mem, prefix)
	if err != nil {
		return 0, false, fmt.Errorf("write prefix: %w", err)
	}

	_, err = solve.Call(ctx,
		uint64(retptr),
		uint64(cPtr), uint64(len(challenge)),
		uint64(pPtr), uint64(len(prefix)),
		api.EncodeF64(difficulty),
	)
	if err != nil {
		return 0, false, fmt.Errorf("wasm_solve: %w", err)
	}

	status, okStatus := mem.ReadUint32Le(retptr)
	value, okValue := mem.ReadFloat64Le(retptr + scratchValueOffset)
	if !okStatus || !okValue {
		return 0, false, fmt.Errorf("read result at %d: out of range", retptr)
	}
	if int32(status) == 0 {
		return 0, false, nil
	}
	return int64(value), true, nil
}

// Close releases the runtime.
func (s *Solver) Close(ctx context.Context) error {
	return s.runtime.Close(ctx)
}

func writeBytes(ctx context.Context, alloc api.Function, mem api.Memory, data []byte) (uint32, error) {
	res, err := alloc.Call(ctx, uint64(len(data)), 1)
	if err != nil {
		return 0, err
	}
	ptr := uint32(api.DecodeI32(res[0]))
	if !mem.Write(ptr, data) {
		return 0, fmt.Errorf("%d bytes at %d out of range", len(data), ptr)
	}
	return ptr, nil
}
