// Package reflect stands in for the reflection collaborator the
// specification treats as external: it supplies type descriptors for
// source-language types so that src/ir/types can lower them to LLVM IR
// types. It is deliberately thin; a production front-end would source
// these descriptors from a real reflection system.
package reflect

import "fmt"

// Kind differentiates the four alternatives a TypeDescr can be.
type Kind int

const (
	KindBool Kind = iota
	KindI8
	KindI16
	KindI32
	KindI64
	KindF32
	KindF64
	KindPointer
	KindStruct
	KindFunction
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindI8:
		return "i8"
	case KindI16:
		return "i16"
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	case KindPointer:
		return "pointer"
	case KindStruct:
		return "struct"
	case KindFunction:
		return "function"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// TypeDescr describes either a native scalar, a pointer to a type, a
// struct with named typed members, or a function with an argument list
// and return type.
type TypeDescr interface {
	Kind() Kind
	// Name returns a short, print-friendly identifier for the type.
	Name() string
}

// native implements TypeDescr for the scalar kinds. Instances are
// interned below so that pointer equality can stand in for type
// equality, per the spec's open question on type-descriptor identity.
type native struct {
	kind Kind
}

func (n *native) Kind() Kind   { return n.kind }
func (n *native) Name() string { return n.kind.String() }

// Interned native scalar descriptors. Two calls that want "f64" always
// get the same pointer.
var (
	Bool = &native{KindBool}
	I8   = &native{KindI8}
	I16  = &native{KindI16}
	I32  = &native{KindI32}
	I64  = &native{KindI64}
	F32  = &native{KindF32}
	F64  = &native{KindF64}
)

// PointerType describes a pointer to Pointee.
type PointerType struct {
	Pointee TypeDescr
}

func (p *PointerType) Kind() Kind   { return KindPointer }
func (p *PointerType) Name() string { return fmt.Sprintf("%s*", p.Pointee.Name()) }

// StructMember is one named, typed field of a StructType.
type StructMember struct {
	MemberName string
	MemberType TypeDescr
}

// StructType describes a struct with an ordered sequence of named typed
// members.
type StructType struct {
	StructName string
	Members    []StructMember
}

func (s *StructType) Kind() Kind   { return KindStruct }
func (s *StructType) Name() string { return s.StructName }

// FuncType describes a function with an ordered argument list and a
// return type. FuncName also keys the lowered closure struct type (see
// ir/types.Lower and ir/types.ClosureType): two FuncTypes meant to
// share storage layout -- e.g. a formal's declared type and the type of
// a lambda passed to it -- must use the same FuncName.
type FuncType struct {
	FuncName string
	Args     []TypeDescr
	Ret      TypeDescr
}

func (f *FuncType) Kind() Kind { return KindFunction }
func (f *FuncType) Name() string {
	if f.FuncName != "" {
		return f.FuncName
	}
	return "fn"
}

// NArgs returns the number of formal arguments described by f.
func (f *FuncType) NArgs() int { return len(f.Args) }
