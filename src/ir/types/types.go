// Package types implements C1, the type-lowering component: pure
// constructors mapping source type descriptors to LLVM IR types, plus
// the handful of composite types every callable value in this system
// shares (the environment API, the closure struct, and per-lambda local
// environments). Grounded on original_source/include/xo/jit/type2llvm.hpp
// and .cpp, translated method-for-method; idempotent caching follows
// the teacher's (hhramberg-go-vslc) package-level type-variable pattern
// in src/ir/llvm/transform.go, generalized from two hardcoded scalar
// types to the full reflect.TypeDescr alternative set.
package types

import (
	"fmt"

	"tinygo.org/x/go-llvm"

	"github.com/Rconybea/xo-jit/src/reflect"
	"github.com/Rconybea/xo-jit/src/xjerr"
)

// Lowerer owns the per-context cache of already-lowered types. One
// Lowerer is created per jit.Facade and kept across CommitModule, since
// the façade's context outlives each module; it must not be reused after
// the owning LLVM context is disposed.
type Lowerer struct {
	ctx llvm.Context

	cache map[reflect.TypeDescr]llvm.Type

	envAPI      llvm.Type // the e.abstract env_api struct, header-only.
	envAPIPtr   llvm.Type
	unwindFnPtr llvm.Type

	localEnvCache map[string]llvm.Type // keyed by "e.<lambda>"
	closureCache  map[string]llvm.Type // keyed by "c.<key>", key usually a FuncName
}

// NewLowerer returns a Lowerer bound to ctx. ctx must outlive the
// returned Lowerer.
func NewLowerer(ctx llvm.Context) *Lowerer {
	return &Lowerer{
		ctx:           ctx,
		cache:         make(map[reflect.TypeDescr]llvm.Type),
		localEnvCache: make(map[string]llvm.Type),
		closureCache:  make(map[string]llvm.Type),
	}
}

// Lower maps a type descriptor to an IR type. For native scalars it
// returns the matching IR integer/float type; for a struct descriptor
// it returns an IR struct with members lowered in order (non-packed);
// for a pointer descriptor it returns a pointer to the lowered pointee;
// for a function descriptor it returns the closure struct type keyed
// on the descriptor's own FuncName, since every callable value --
// lambda or primitive -- is represented uniformly by a {fn_ptr, env_ptr}
// closure rather than a bare function pointer, and two function
// descriptors sharing a FuncName must share storage layout wherever a
// value of that type is held (a formal, a variable, a return slot).
func (lw *Lowerer) Lower(td reflect.TypeDescr) (llvm.Type, error) {
	if td == nil {
		return llvm.Type{}, fmt.Errorf("types.Lower: %w: <nil> type descriptor", xjerr.ErrUnknownType)
	}
	if cached, ok := lw.cache[td]; ok {
		return cached, nil
	}

	var result llvm.Type
	var err error

	switch td.Kind() {
	case reflect.KindBool:
		result = lw.ctx.Int1Type()
	case reflect.KindI8:
		result = lw.ctx.Int8Type()
	case reflect.KindI16:
		result = lw.ctx.Int16Type()
	case reflect.KindI32:
		result = lw.ctx.Int32Type()
	case reflect.KindI64:
		result = lw.ctx.Int64Type()
	case reflect.KindF32:
		result = lw.ctx.FloatType()
	case reflect.KindF64:
		result = lw.ctx.DoubleType()
	case reflect.KindPointer:
		pt := td.(*reflect.PointerType)
		pointee, perr := lw.Lower(pt.Pointee)
		if perr != nil {
			return llvm.Type{}, perr
		}
		result = llvm.PointerType(pointee, 0)
	case reflect.KindStruct:
		result, err = lw.lowerStruct(td.(*reflect.StructType))
	case reflect.KindFunction:
		fnTd := td.(*reflect.FuncType)
		wrappedFnTy, ferr := lw.FunctionType(fnTd, true)
		if ferr != nil {
			return llvm.Type{}, ferr
		}
		result = lw.ClosureType(fnTd.FuncName, wrappedFnTy)
	default:
		return llvm.Type{}, fmt.Errorf("types.Lower: %w: %s", xjerr.ErrUnknownType, td.Name())
	}

	if err != nil {
		return llvm.Type{}, err
	}

	lw.cache[td] = result
	return result, nil
}

func (lw *Lowerer) lowerStruct(st *reflect.StructType) (llvm.Type, error) {
	members := make([]llvm.Type, 0, len(st.Members))
	for _, m := range st.Members {
		mt, err := lw.Lower(m.MemberType)
		if err != nil {
			return llvm.Type{}, fmt.Errorf("types.Lower: struct %q member %q: %w", st.StructName, m.MemberName, err)
		}
		members = append(members, mt)
	}

	named := lw.ctx.StructCreateNamed(st.StructName)
	named.StructSetBody(members, false /*!packed*/)
	return named, nil
}

// FunctionType builds the IR function type for fnTd. When wrapperFlag is
// set, an env_api* parameter is prepended -- the "wrapped signature"
// used uniformly for every callable value in this system.
func (lw *Lowerer) FunctionType(fnTd *reflect.FuncType, wrapperFlag bool) (llvm.Type, error) {
	argTypes := make([]llvm.Type, 0, len(fnTd.Args)+1)
	if wrapperFlag {
		argTypes = append(argTypes, lw.EnvAPIPtrType())
	}
	for i, argTd := range fnTd.Args {
		at, err := lw.Lower(argTd)
		if err != nil {
			return llvm.Type{}, fmt.Errorf("types.FunctionType: arg %d: %w", i, err)
		}
		argTypes = append(argTypes, at)
	}

	retTy, err := lw.Lower(fnTd.Ret)
	if err != nil {
		return llvm.Type{}, fmt.Errorf("types.FunctionType: return type: %w", err)
	}

	return llvm.FunctionType(retTy, argTypes, false /*!varargs*/), nil
}

// EnvAPIType constructs (once) the two-slot abstract environment
// struct: { parent: env_api*, unwind: env_api* (env_api*, i32) }.
func (lw *Lowerer) EnvAPIType() llvm.Type {
	lw.ensureEnvAPI()
	return lw.envAPI
}

// EnvAPIPtrType constructs (once) a pointer to the abstract env_api
// struct.
func (lw *Lowerer) EnvAPIPtrType() llvm.Type {
	lw.ensureEnvAPI()
	return lw.envAPIPtr
}

// UnwindFnPtrType constructs (once) the IR pointer type
// env_api* (env_api*, i32), reserved for a future copy-to-heap/finalize
// protocol; current emission never invokes it.
func (lw *Lowerer) UnwindFnPtrType() llvm.Type {
	lw.ensureEnvAPI()
	return lw.unwindFnPtr
}

func (lw *Lowerer) ensureEnvAPI() {
	if !lw.envAPI.IsNil() {
		return
	}

	opaque := lw.ctx.StructCreateNamed("env_api")
	ptr := llvm.PointerType(opaque, 0)

	unwindFnTy := llvm.FunctionType(ptr, []llvm.Type{ptr, lw.ctx.Int32Type()}, false)
	unwindPtr := llvm.PointerType(unwindFnTy, 0)

	opaque.StructSetBody([]llvm.Type{ptr, unwindPtr}, false)

	lw.envAPI = opaque
	lw.envAPIPtr = ptr
	lw.unwindFnPtr = unwindPtr
}

// CapturedFormal is one formal of a lambda that BindLocals will place in
// the lambda's local environment struct, in declaration order.
type CapturedFormal struct {
	Name string
	Typ  reflect.TypeDescr
}

// LocalEnvType produces the concrete e.<lambdaName> struct: the env_api
// header followed by one slot per captured formal, in the order those
// formals appear in the lambda's signature. Idempotent per lambda name.
func (lw *Lowerer) LocalEnvType(lambdaName string, captured []CapturedFormal) (llvm.Type, error) {
	sname := "e." + lambdaName
	if cached, ok := lw.localEnvCache[sname]; ok {
		return cached, nil
	}

	lw.ensureEnvAPI()

	members := make([]llvm.Type, 0, 2+len(captured))
	members = append(members, lw.envAPIPtr, lw.unwindFnPtr)

	for _, c := range captured {
		mt, err := lw.Lower(c.Typ)
		if err != nil {
			return llvm.Type{}, fmt.Errorf("types.LocalEnvType: %s: captured formal %q: %w", sname, c.Name, err)
		}
		members = append(members, mt)
	}

	named := lw.ctx.StructCreateNamed(sname)
	named.StructSetBody(members, false)

	lw.localEnvCache[sname] = named
	return named, nil
}

// ClosureType produces the canonical { fn_ptr, env_ptr } struct keyed
// on key -- ordinarily a function type descriptor's FuncName, so that
// every lambda or primitive sharing that signature, and every variable
// declared at that type, resolve to the identical IR struct. fn_ptr's
// pointee is wrappedFnType, the wrapped function type. Idempotent per
// key.
func (lw *Lowerer) ClosureType(key string, wrappedFnType llvm.Type) llvm.Type {
	sname := "c." + key
	if cached, ok := lw.closureCache[sname]; ok {
		return cached
	}

	lw.ensureEnvAPI()

	fnPtr := llvm.PointerType(wrappedFnType, 0)
	named := lw.ctx.StructCreateNamed(sname)
	named.StructSetBody([]llvm.Type{fnPtr, lw.envAPIPtr}, false)

	lw.closureCache[sname] = named
	return named
}
