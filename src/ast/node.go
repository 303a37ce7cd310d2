// Package ast defines the typed intermediate syntax tree that
// src/codegen lowers to LLVM IR. Nodes are constructed by an external
// parser/builder (out of scope for this repository) and are immutable
// once built; ast only carries the sum-type shape described in the
// specification's data model.
package ast

import (
	"unsafe"

	"github.com/Rconybea/xo-jit/src/reflect"
)

// Node is the tagged-variant AST node. Every concrete node type below
// implements it; the set is closed (a type switch in src/codegen
// dispatches on the concrete type).
type Node interface {
	// ValueType returns the type this node evaluates to.
	ValueType() reflect.TypeDescr

	node()
}

// Constant is a literal value of scalar type.
type Constant struct {
	Typ   reflect.TypeDescr
	Value interface{} // int64, uint64, float32 or float64, matching Typ
}

func (c *Constant) ValueType() reflect.TypeDescr { return c.Typ }
func (*Constant) node()                          {}

// IntrinsicHint tags a Primitive for native-instruction lowering at an
// application site.
type IntrinsicHint int

const (
	HintNone IntrinsicHint = iota
	HintINeg
	HintIAdd
	HintISub
	HintIMul
	HintISDiv
	HintIUDiv
	HintFPAdd
	HintFPSub
	HintFPMul
	HintFPDiv
	HintFPSqrt
	HintFPSin
	HintFPCos
	HintFPTan
	HintFPPow
)

// Primitive references a native function: either a compiler intrinsic
// (non-none Hint) or an externally-linked function whose address is
// interned into the JIT's execution session when ExplicitSymbol is set.
type Primitive struct {
	Name           string
	NativeAddr     unsafe.Pointer
	ExplicitSymbol bool
	Hint           IntrinsicHint
	FnType         *reflect.FuncType
}

func (p *Primitive) ValueType() reflect.TypeDescr { return p.FnType }
func (*Primitive) node()                          {}

// Variable is a reference to a lambda formal (or, at the AST level, to
// any named binding visible in the enclosing scope).
type Variable struct {
	Name string
	Typ  reflect.TypeDescr
}

func (v *Variable) ValueType() reflect.TypeDescr { return v.Typ }
func (*Variable) node()                          {}

// Apply is a function application: callee applied to args.
type Apply struct {
	Callee Node
	Args   []Node
	Typ    reflect.TypeDescr
}

func (a *Apply) ValueType() reflect.TypeDescr { return a.Typ }
func (*Apply) node()                          {}

// IfExpr is a three-armed conditional expression; both arms must share
// value type Typ.
type IfExpr struct {
	Test      Node
	WhenTrue  Node
	WhenFalse Node
	Typ       reflect.TypeDescr
}

func (e *IfExpr) ValueType() reflect.TypeDescr { return e.Typ }
func (*IfExpr) node()                          {}

// CaptureInfo records, per formal, whether the formal is captured by a
// nested lambda, and whether the lambda's own body needs a closure at
// all (captures something, or has at least one captured formal).
type CaptureInfo struct {
	// Captured[i] is true iff Formals[i] appears free in some nested
	// lambda.
	Captured []bool
	// NeedsClosure is true iff any formal is captured, or the body
	// itself contains a free variable.
	NeedsClosure bool
}

// IsCaptured reports whether the i'th formal is captured.
func (c CaptureInfo) IsCaptured(i int) bool {
	return i >= 0 && i < len(c.Captured) && c.Captured[i]
}

// Lambda is a user-defined function: a name, ordered formals, a body
// expression, and the function's overall type.
type Lambda struct {
	LambdaName string
	Formals    []*Variable
	Body       Node
	FnType     *reflect.FuncType
	Capture    CaptureInfo
}

func (l *Lambda) ValueType() reflect.TypeDescr { return l.FnType }
func (*Lambda) node()                          {}

// Name returns the lambda's declared name.
func (l *Lambda) Name() string { return l.LambdaName }

// Arity returns the number of source-level formals.
func (l *Lambda) Arity() int { return len(l.Formals) }

// NeedsClosure reports whether the lambda requires a non-null runtime
// environment.
func (l *Lambda) NeedsClosure() bool { return l.Capture.NeedsClosure }
