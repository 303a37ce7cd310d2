// Command xojit drives one compile-and-run cycle through the façade:
// parse flags, build a façade for the requested target, generate IR
// for a toplevel expression, commit the module, and invoke the result.
// Adapted from the teacher's (hhramberg-go-vslc) src/main.go run()/main()
// shape -- parse args, drive compiler stages, report errors -- with the
// lex/parse/optimise/validate/backend stages replaced by this
// repository's own façade/codegen pipeline, since source parsing is out
// of scope here and the AST is built directly.
package main

import (
	"fmt"
	"os"
	"sync"

	"tinygo.org/x/go-llvm"

	"github.com/Rconybea/xo-jit/src/ast"
	"github.com/Rconybea/xo-jit/src/jit"
	"github.com/Rconybea/xo-jit/src/reflect"
	"github.com/Rconybea/xo-jit/src/util"
)

// demoProgram builds a small AST exercising every node kind except
// IfExpr: a lambda mean(x, y) = (x + y) / 2, applied to two literal
// arguments.
func demoProgram() ast.Node {
	f64fn2 := &reflect.FuncType{FuncName: "fn(f64,f64)->f64", Args: []reflect.TypeDescr{reflect.F64, reflect.F64}, Ret: reflect.F64}

	addPrim := &ast.Primitive{Name: "xojit.fadd", Hint: ast.HintFPAdd, FnType: f64fn2}
	divPrim := &ast.Primitive{Name: "xojit.fdiv", Hint: ast.HintFPDiv, FnType: f64fn2}

	x := &ast.Variable{Name: "x", Typ: reflect.F64}
	y := &ast.Variable{Name: "y", Typ: reflect.F64}

	sum := &ast.Apply{Callee: addPrim, Args: []ast.Node{x, y}, Typ: reflect.F64}
	two := &ast.Constant{Typ: reflect.F64, Value: float64(2)}
	body := &ast.Apply{Callee: divPrim, Args: []ast.Node{sum, two}, Typ: reflect.F64}

	mean := &ast.Lambda{
		LambdaName: "mean",
		Formals:    []*ast.Variable{x, y},
		Body:       body,
		FnType:     &reflect.FuncType{FuncName: "fn(f64,f64)->f64", Args: []reflect.TypeDescr{reflect.F64, reflect.F64}, Ret: reflect.F64},
	}

	call := &ast.Apply{
		Callee: mean,
		Args: []ast.Node{
			&ast.Constant{Typ: reflect.F64, Value: float64(3)},
			&ast.Constant{Typ: reflect.F64, Value: float64(7)},
		},
		Typ: reflect.F64,
	}

	return call
}

func run(opt util.Options) error {
	f, err := jit.NewFacade(opt)
	if err != nil {
		return fmt.Errorf("could not create jit facade: %w", err)
	}
	defer f.Dispose()

	root := demoProgram()

	if _, err := f.Generator().CodegenToplevel(root); err != nil {
		return fmt.Errorf("codegen error: %w", err)
	}

	if opt.Verbose {
		fmt.Println(f.CurrentModule().String())
	}

	if opt.Out != "" {
		if err := f.EmitObjectFile(opt.Out); err != nil {
			return fmt.Errorf("object emission error: %w", err)
		}
		fmt.Printf("wrote %s\n", opt.Out)
	}

	if err := f.CommitModule(); err != nil {
		return fmt.Errorf("commit error: %w", err)
	}

	result, err := f.Invoke("mean", []llvm.GenericValue{
		llvm.NewGenericValueFromFloat(llvm.DoubleType(), 3),
		llvm.NewGenericValueFromFloat(llvm.DoubleType(), 7),
	})
	if err != nil {
		return fmt.Errorf("invoke error: %w", err)
	}

	fmt.Printf("mean(3, 7) = %v\n", result.Float(llvm.DoubleType()))
	return nil
}

func main() {
	opt, err := util.ParseArgs()
	if err != nil {
		fmt.Printf("command line argument error: %s\n", err)
		os.Exit(1)
	}

	wg := sync.WaitGroup{}
	util.ListenLog(&wg)

	if err := run(opt); err != nil {
		fmt.Printf("error: %s\n", err)
		os.Exit(1)
	}

	// CloseLog must run before Wait: it is the only thing that unblocks
	// the listener goroutine Wait is waiting on.
	util.CloseLog()
	wg.Wait()
}
