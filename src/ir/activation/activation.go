// Package activation implements C2, the activation-record component:
// per-lambda bookkeeping that decides where each formal parameter lives
// (a plain stack slot, or a slot in an explicit heap-shaped environment
// struct) and emits the entry-block instructions that establish those
// locations. Grounded on
// original_source/include/xo/jit/activation_record.hpp and the paired
// .cpp, translated field-for-field; the two-pass bind_locals structure
// (stack-only formals first, then the environment struct) is kept
// exactly, since it is what lets captured formals reference each other
// positionally inside the struct literal.
package activation

import (
	"fmt"

	"tinygo.org/x/go-llvm"

	"github.com/Rconybea/xo-jit/src/ast"
	"github.com/Rconybea/xo-jit/src/ir/types"
	"github.com/Rconybea/xo-jit/src/xjerr"
)

// RuntimeBindingPath locates a variable relative to the activation
// record currently in scope. ILink counts parent-environment links to
// traverse (-2 sentinel/uninitialized, -1 global, 0 this frame, >0 an
// ancestor frame); JSlot is the slot within the target environment, or
// -1 for a stack-only (uncaptured) formal.
type RuntimeBindingPath struct {
	ILink int
	JSlot int
}

// StackOnly returns the path for a formal with no explicit environment
// storage.
func StackOnly() RuntimeBindingPath { return RuntimeBindingPath{ILink: 0, JSlot: -1} }

// Local returns the path for a formal captured into this frame's own
// environment struct, at slot.
func Local(slot int) RuntimeBindingPath { return RuntimeBindingPath{ILink: 0, JSlot: slot} }

// IsStackOnly reports whether p refers to plain stack storage.
func (p RuntimeBindingPath) IsStackOnly() bool { return p.ILink == 0 && p.JSlot == -1 }

// IsCaptured reports whether p refers to an environment slot.
func (p RuntimeBindingPath) IsCaptured() bool { return !p.IsStackOnly() }

// RuntimeBindingDetail is the resolved address and type for one bound
// variable: the formal's source position, the header-relative slot it
// occupies in its frame's local environment struct (-1 if stack-only),
// the IR value giving its address in the *current* frame (an AllocaInst
// for stack-only formals, or a GEP result for captured ones), and the
// IR type stored there.
type RuntimeBindingDetail struct {
	ArgNo int
	Slot  int
	Addr  llvm.Value
	Type  llvm.Type
}

// Record is the activation record for one call to Lambda: the decided
// binding path and resolved address/type for each formal, plus the
// stack location of the explicit environment struct when Lambda needs
// one.
type Record struct {
	Lambda *ast.Lambda

	bindingV       []RuntimeBindingPath
	localEnvAlloca llvm.Value
	localEnvType   llvm.Type
	frame          map[string]RuntimeBindingDetail
}

// New returns an empty activation record for lm, with a binding path
// slot reserved per formal. BindLocals must be called before LookupVar
// returns useful results.
func New(lm *ast.Lambda) *Record {
	bindingV := make([]RuntimeBindingPath, lm.Arity())
	for i := range bindingV {
		if lm.Capture.IsCaptured(i) {
			bindingV[i] = Local(i) // slot numbers reassigned below once captured-only count is known.
		} else {
			bindingV[i] = StackOnly()
		}
	}
	return &Record{
		Lambda:   lm,
		bindingV: bindingV,
		frame:    make(map[string]RuntimeBindingDetail),
	}
}

// LookupVar retrieves the resolved address/type for a formal previously
// bound via BindLocals.
func (r *Record) LookupVar(name string) (RuntimeBindingDetail, bool) {
	d, ok := r.frame[name]
	return d, ok
}

// allocVar records binding for var_name; returns ErrDuplicateBinding if
// called twice for the same name.
func (r *Record) allocVar(name string, detail RuntimeBindingDetail) error {
	if _, exists := r.frame[name]; exists {
		return fmt.Errorf("activation.Record.allocVar: %w: %q", xjerr.ErrDuplicateBinding, name)
	}
	r.frame[name] = detail
	return nil
}

// EntryBlockAlloca emits a stack-only alloca for one formal at the
// entry block insertion point, and stores the incoming argument value
// into it.
func EntryBlockAlloca(builder llvm.Builder, fn llvm.Value, argNo int, name string, argType llvm.Type) llvm.Value {
	alloca := builder.CreateAlloca(argType, name)
	builder.CreateStore(fn.Param(argNo), alloca)
	return alloca
}

// LocalEnvSlotAddr computes the address of slot i within the local
// environment struct allocated at localEnvAlloca (the struct's element
// type is recovered from the alloca itself). Slot 0 is the env_api's
// parent link; slot 1 is its unwind function pointer; slots 2.. are
// captured formals in declaration order, so callers pass i+2 for the
// i'th captured formal.
func LocalEnvSlotAddr(builder llvm.Builder, localEnvAlloca llvm.Value, slot int) llvm.Value {
	return builder.CreateStructGEP(localEnvAlloca, slot, fmt.Sprintf("slot%d.addr", slot))
}

// headerSlotOffset is the number of env_api header members preceding
// the first captured-formal slot in a local environment struct.
const headerSlotOffset = 2

// BindLocals establishes storage for every formal of r.Lambda against
// the already-declared, still-empty llvm function fn, emitting
// instructions at builder's current insertion point (the function's
// entry block).
//
// Two passes, in this order:
//  1. stack-only formals each get an individual AllocaInst.
//  2. if the lambda needs a closure, a single local-environment struct
//     is stack-allocated, its env_api header initialized from the
//     incoming env_api* argument, and each captured formal is copied
//     into its struct slot.
//
// Splitting the passes this way means the environment struct's slot
// layout is fixed (and every captured formal's address computable)
// before any captured formal's value is stored -- needed because
// mutually-referential closures may need to see their own environment
// pointer while being initialized.
func (r *Record) BindLocals(lw *types.Lowerer, builder llvm.Builder, fn llvm.Value, parentEnvArg llvm.Value) error {
	lm := r.Lambda

	// Pass 1: stack-only formals. Wrapped signature puts env_api* at
	// argument 0, so source argument i is wrapped argument i+1.
	for i, formal := range lm.Formals {
		if r.bindingV[i].IsCaptured() {
			continue
		}
		argTy, err := lw.Lower(formal.Typ)
		if err != nil {
			return fmt.Errorf("activation.BindLocals: %s: formal %q: %w", lm.Name(), formal.Name, err)
		}
		addr := EntryBlockAlloca(builder, fn, i+1, formal.Name, argTy)
		if err := r.allocVar(formal.Name, RuntimeBindingDetail{ArgNo: i, Slot: -1, Addr: addr, Type: argTy}); err != nil {
			return err
		}
	}

	if !lm.NeedsClosure() {
		return nil
	}

	// Pass 2: explicit environment for captured formals.
	var captured []types.CapturedFormal
	capturedIdx := make([]int, 0, lm.Arity())
	for i, formal := range lm.Formals {
		if !r.bindingV[i].IsCaptured() {
			continue
		}
		captured = append(captured, types.CapturedFormal{Name: formal.Name, Typ: formal.Typ})
		capturedIdx = append(capturedIdx, i)
	}

	envTy, err := lw.LocalEnvType(lm.Name(), captured)
	if err != nil {
		return fmt.Errorf("activation.BindLocals: %s: %w", lm.Name(), err)
	}

	envAlloca := builder.CreateAlloca(envTy, "e."+lm.Name()+".addr")
	r.localEnvAlloca = envAlloca
	r.localEnvType = envTy

	parentSlot := LocalEnvSlotAddr(builder, envAlloca, 0)
	builder.CreateStore(parentEnvArg, parentSlot)

	unwindSlot := LocalEnvSlotAddr(builder, envAlloca, 1)
	builder.CreateStore(llvm.ConstNull(lw.UnwindFnPtrType()), unwindSlot)

	for k, i := range capturedIdx {
		formal := lm.Formals[i]
		argTy, err := lw.Lower(formal.Typ)
		if err != nil {
			return fmt.Errorf("activation.BindLocals: %s: captured formal %q: %w", lm.Name(), formal.Name, err)
		}
		slotAddr := LocalEnvSlotAddr(builder, envAlloca, headerSlotOffset+k)
		builder.CreateStore(fn.Param(i+1), slotAddr)
		r.bindingV[i] = Local(headerSlotOffset + k)
		if err := r.allocVar(formal.Name, RuntimeBindingDetail{ArgNo: i, Slot: headerSlotOffset + k, Addr: slotAddr, Type: argTy}); err != nil {
			return err
		}
	}

	return nil
}

// LocalEnvAlloca returns the stack address of r's environment struct,
// and whether r.Lambda needed one at all.
func (r *Record) LocalEnvAlloca() (llvm.Value, llvm.Type, bool) {
	if r.localEnvAlloca.IsNil() {
		return llvm.Value{}, llvm.Type{}, false
	}
	return r.localEnvAlloca, r.localEnvType, true
}

// Path returns the decided binding path for the i'th formal.
func (r *Record) Path(i int) RuntimeBindingPath {
	if i < 0 || i >= len(r.bindingV) {
		return RuntimeBindingPath{ILink: -2, JSlot: 0}
	}
	return r.bindingV[i]
}
