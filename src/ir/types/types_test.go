package types

import (
	"testing"

	"tinygo.org/x/go-llvm"

	"github.com/Rconybea/xo-jit/src/reflect"
)

func newLowerer(t *testing.T) (*Lowerer, func()) {
	t.Helper()
	ctx := llvm.NewContext()
	return NewLowerer(ctx), func() { ctx.Dispose() }
}

func TestLowerScalars(t *testing.T) {
	lw, done := newLowerer(t)
	defer done()

	cases := []struct {
		td   reflect.TypeDescr
		kind llvm.TypeKind
	}{
		{reflect.Bool, llvm.IntegerTypeKind},
		{reflect.I8, llvm.IntegerTypeKind},
		{reflect.I32, llvm.IntegerTypeKind},
		{reflect.I64, llvm.IntegerTypeKind},
		{reflect.F32, llvm.FloatTypeKind},
		{reflect.F64, llvm.DoubleTypeKind},
	}
	for _, c := range cases {
		ty, err := lw.Lower(c.td)
		if err != nil {
			t.Fatalf("Lower(%s): %v", c.td.Name(), err)
		}
		if ty.TypeKind() != c.kind {
			t.Errorf("Lower(%s): got kind %v, want %v", c.td.Name(), ty.TypeKind(), c.kind)
		}
	}
}

func TestLowerIsCached(t *testing.T) {
	lw, done := newLowerer(t)
	defer done()

	a, err := lw.Lower(reflect.F64)
	if err != nil {
		t.Fatal(err)
	}
	b, err := lw.Lower(reflect.F64)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("Lower(F64) returned distinct types on repeated calls")
	}
}

func TestLowerPointer(t *testing.T) {
	lw, done := newLowerer(t)
	defer done()

	pt := &reflect.PointerType{Pointee: reflect.I32}
	ty, err := lw.Lower(pt)
	if err != nil {
		t.Fatal(err)
	}
	if ty.TypeKind() != llvm.PointerTypeKind {
		t.Errorf("Lower(pointer): got kind %v, want pointer", ty.TypeKind())
	}
}

func TestLowerStruct(t *testing.T) {
	lw, done := newLowerer(t)
	defer done()

	st := &reflect.StructType{
		StructName: "point",
		Members: []reflect.StructMember{
			{MemberName: "x", MemberType: reflect.F64},
			{MemberName: "y", MemberType: reflect.F64},
		},
	}
	ty, err := lw.Lower(st)
	if err != nil {
		t.Fatal(err)
	}
	if ty.TypeKind() != llvm.StructTypeKind {
		t.Fatalf("Lower(struct): got kind %v, want struct", ty.TypeKind())
	}
	if n := ty.StructElementTypesCount(); n != 2 {
		t.Errorf("Lower(struct): got %d members, want 2", n)
	}
}

// TestLowerFunctionSharesClosureLayout exercises the central invariant
// of the closure representation: two distinct FuncType values carrying
// the same FuncName must lower to the identical closure struct type, so
// a lambda and a variable declared at that type can share storage.
func TestLowerFunctionSharesClosureLayout(t *testing.T) {
	lw, done := newLowerer(t)
	defer done()

	f1 := &reflect.FuncType{FuncName: "fn(f64,f64)->f64", Args: []reflect.TypeDescr{reflect.F64, reflect.F64}, Ret: reflect.F64}
	f2 := &reflect.FuncType{FuncName: "fn(f64,f64)->f64", Args: []reflect.TypeDescr{reflect.F64, reflect.F64}, Ret: reflect.F64}

	ty1, err := lw.Lower(f1)
	if err != nil {
		t.Fatal(err)
	}
	ty2, err := lw.Lower(f2)
	if err != nil {
		t.Fatal(err)
	}
	if ty1 != ty2 {
		t.Errorf("two FuncTypes sharing a FuncName lowered to distinct closure types")
	}
	if ty1.TypeKind() != llvm.StructTypeKind || ty1.StructElementTypesCount() != 2 {
		t.Errorf("closure type shape: got %v, want a two-member struct", ty1)
	}
}

func TestLowerFunctionDistinctNamesDiffer(t *testing.T) {
	lw, done := newLowerer(t)
	defer done()

	f1 := &reflect.FuncType{FuncName: "fn(f64)->f64", Args: []reflect.TypeDescr{reflect.F64}, Ret: reflect.F64}
	f2 := &reflect.FuncType{FuncName: "fn(i32)->i32", Args: []reflect.TypeDescr{reflect.I32}, Ret: reflect.I32}

	ty1, err := lw.Lower(f1)
	if err != nil {
		t.Fatal(err)
	}
	ty2, err := lw.Lower(f2)
	if err != nil {
		t.Fatal(err)
	}
	if ty1 == ty2 {
		t.Errorf("distinct FuncNames lowered to the same closure type")
	}
}

func TestLocalEnvTypeLayout(t *testing.T) {
	lw, done := newLowerer(t)
	defer done()

	captured := []CapturedFormal{
		{Name: "x", Typ: reflect.F64},
		{Name: "y", Typ: reflect.I32},
	}
	ty, err := lw.LocalEnvType("adder", captured)
	if err != nil {
		t.Fatal(err)
	}
	if got := ty.StructElementTypesCount(); got != 4 {
		t.Fatalf("LocalEnvType: got %d members, want 4 (2 header + 2 captured)", got)
	}

	again, err := lw.LocalEnvType("adder", captured)
	if err != nil {
		t.Fatal(err)
	}
	if ty != again {
		t.Errorf("LocalEnvType not idempotent for the same lambda name")
	}
}

func TestUnknownTypeError(t *testing.T) {
	lw, done := newLowerer(t)
	defer done()

	if _, err := lw.Lower(nil); err == nil {
		t.Fatal("Lower(nil): expected error, got nil")
	}
}
