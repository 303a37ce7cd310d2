//go:build llvm_jit

// This file exercises the full façade lifecycle against the real native
// target and MCJIT execution engine. It is excluded from ordinary `go
// test` runs because it links the full LLVM native-target/asm-printer
// libraries; run it explicitly with -tags=llvm_jit on a machine that has
// them built.
package jit

import (
	"testing"
	"unsafe"

	"tinygo.org/x/go-llvm"

	"github.com/Rconybea/xo-jit/src/ast"
	"github.com/Rconybea/xo-jit/src/reflect"
	"github.com/Rconybea/xo-jit/src/util"
)

func meanProgram() ast.Node {
	f64fn2 := &reflect.FuncType{FuncName: "fn(f64,f64)->f64", Args: []reflect.TypeDescr{reflect.F64, reflect.F64}, Ret: reflect.F64}

	addPrim := &ast.Primitive{Name: "xojit.fadd", Hint: ast.HintFPAdd, FnType: f64fn2}
	divPrim := &ast.Primitive{Name: "xojit.fdiv", Hint: ast.HintFPDiv, FnType: f64fn2}

	x := &ast.Variable{Name: "x", Typ: reflect.F64}
	y := &ast.Variable{Name: "y", Typ: reflect.F64}

	sum := &ast.Apply{Callee: addPrim, Args: []ast.Node{x, y}, Typ: reflect.F64}
	two := &ast.Constant{Typ: reflect.F64, Value: float64(2)}
	body := &ast.Apply{Callee: divPrim, Args: []ast.Node{sum, two}, Typ: reflect.F64}

	return &ast.Lambda{
		LambdaName: "mean",
		Formals:    []*ast.Variable{x, y},
		Body:       body,
		FnType:     f64fn2,
	}
}

func TestFacadeCommitAndInvoke(t *testing.T) {
	f, err := NewFacade(util.Options{})
	if err != nil {
		t.Fatalf("NewFacade: %v", err)
	}
	defer f.Dispose()

	root := meanProgram()
	if _, err := f.Generator().CodegenToplevel(root); err != nil {
		t.Fatalf("CodegenToplevel: %v", err)
	}

	if err := f.CommitModule(); err != nil {
		t.Fatalf("CommitModule: %v", err)
	}

	result, err := f.Invoke("mean", []llvm.GenericValue{
		llvm.NewGenericValueFromFloat(llvm.DoubleType(), 3),
		llvm.NewGenericValueFromFloat(llvm.DoubleType(), 7),
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	if got, want := result.Float(llvm.DoubleType()), 5.0; got != want {
		t.Errorf("mean(3, 7) = %v, want %v", got, want)
	}
}

// TestFacadeInternBeforeCommit exercises the call order codegenPrimitive
// actually uses: Intern runs against a primitive's declaration while the
// module is still open, strictly before CommitModule ever creates an
// execution engine. It regresses the ordering bug CommitModule's pending
// buffer fixes -- the fake interner in codegen_test.go can't catch this,
// since it never drives a real execution engine.
func TestFacadeInternBeforeCommit(t *testing.T) {
	f, err := NewFacade(util.Options{})
	if err != nil {
		t.Fatalf("NewFacade: %v", err)
	}
	defer f.Dispose()

	sqrtPrim := &ast.Primitive{
		Name:           "host.sqrt",
		Hint:           ast.HintNone,
		ExplicitSymbol: true,
		NativeAddr:     unsafe.Pointer(uintptr(1)),
		FnType: &reflect.FuncType{
			FuncName: "fn(f64)->f64",
			Args:     []reflect.TypeDescr{reflect.F64},
			Ret:      reflect.F64,
		},
	}

	if _, err := f.Generator().CodegenToplevel(sqrtPrim); err != nil {
		t.Fatalf("CodegenToplevel: %v", err)
	}
	if len(f.pending) != 1 || f.pending[0].symbol != "host.sqrt" {
		t.Fatalf("pending interns = %v, want exactly one entry for host.sqrt", f.pending)
	}

	if err := f.CommitModule(); err != nil {
		t.Fatalf("CommitModule: %v", err)
	}
	if f.pending != nil {
		t.Errorf("pending interns not cleared after CommitModule: %v", f.pending)
	}

	if _, err := f.Lookup("host.sqrt"); err != nil {
		t.Errorf("Lookup(host.sqrt) after interning before commit: %v", err)
	}
}
