// Package pipeline implements C3, the IR optimization pipeline: a
// fixed, per-function pass sequence run once after a function's body
// has been generated and verified. Grounded on
// original_source/include/xo/jit/IrPipeline.hpp and .cpp -- that file
// documents itself as adapted from LLVM's Kaleidoscope tutorial, and
// this package keeps the same adaptation at one further remove, onto
// go-llvm's legacy (non-ORC) FunctionPassManagerForModule API, the one
// the teacher's own module builds against (see src/ir/llvm/transform.go).
package pipeline

import (
	"fmt"

	"tinygo.org/x/go-llvm"

	"github.com/Rconybea/xo-jit/src/xjerr"
)

// Pipeline wraps a function-level pass manager configured with the
// fixed sequence: instruction combining, mem-to-register promotion,
// reassociation, global value numbering, control-flow simplification.
// One Pipeline is created per module and reused across every function
// generated into that module.
type Pipeline struct {
	fpm llvm.PassManager
}

// New builds a Pipeline bound to mod, with the pass sequence already
// configured. Dispose must be called once the owning module is
// finalized.
func New(mod llvm.Module) *Pipeline {
	fpm := llvm.NewFunctionPassManagerForModule(mod)

	fpm.AddInstructionCombiningPass()
	fpm.AddPromoteMemoryToRegisterPass()
	fpm.AddReassociatePass()
	fpm.AddGVNPass()
	fpm.AddCFGSimplificationPass()

	fpm.InitializeFunc()

	return &Pipeline{fpm: fpm}
}

// Run verifies fn, then runs the configured pass sequence over it.
// Verification happens here (not in src/codegen) so that every
// generated function is optimized only once it is known well-formed --
// matching IrPipeline::run_pipeline, which is always called
// immediately after llvm::verifyFunction in MachPipeline.cpp.
func (p *Pipeline) Run(fn llvm.Value) error {
	if err := llvm.VerifyFunction(fn, llvm.PrintMessageAction); err != nil {
		return fmt.Errorf("pipeline.Run: %s: %w: %v", fn.Name(), xjerr.ErrIRVerificationFailure, err)
	}

	p.fpm.RunFunc(fn)
	return nil
}

// Dispose finalizes the pass manager and releases its resources. Call
// once, after every function in the owning module has been run through
// the pipeline.
func (p *Pipeline) Dispose() {
	p.fpm.FinalizeFunc()
	p.fpm.Dispose()
}
