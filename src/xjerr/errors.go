// Package xjerr collects the sentinel error values named in the
// specification's error-handling design, so callers can test for a
// particular failure kind with errors.Is instead of string matching --
// the one piece of structure this repo adds on top of the teacher's
// plain fmt.Errorf propagation style.
package xjerr

import "errors"

var (
	// ErrUnknownType: a type descriptor cannot be lowered.
	ErrUnknownType = errors.New("unknown type")
	// ErrArityMismatch: an application's argument count disagrees with
	// its callee's arity.
	ErrArityMismatch = errors.New("arity mismatch")
	// ErrTypeMismatch: an application's argument type disagrees with the
	// callee's formal type.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrUnboundVariable: a variable reference has no entry in the
	// current activation record.
	ErrUnboundVariable = errors.New("unbound variable")
	// ErrDuplicateBinding: alloc_var called twice for the same name
	// within one activation record.
	ErrDuplicateBinding = errors.New("duplicate binding")
	// ErrIRVerificationFailure: a generated function fails the IR
	// verifier.
	ErrIRVerificationFailure = errors.New("ir verification failure")
	// ErrSymbolNotFound: lookup could not resolve a committed symbol.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrRedeclaredFunction: a lambda's name collides with an existing
	// module function of incompatible signature.
	ErrRedeclaredFunction = errors.New("redeclared function")
)
