// internal/errors/errors.go
package errors

import "fmt"

// SentraError is the host-side Go error a parse failure becomes on its way
// to the CLI. It is deliberately not the kind set spec.md §7 defines for
// runtime error values (type_error, invalid_argument, apply_error, ...) —
// those are language-level exceptions, carried as *value.Exception and
// pattern-matched by a script's own try/catch, never by Go code. The only
// host-side failure this package needs to represent is "the lexer/parser
// rejected the source before any IR/SSA/bytecode stage ran," which is what
// NewSyntaxError's one caller (internal/parser) needs: a location-carrying
// error, nothing more. internal/ir, internal/ssa, and internal/bytecode
// each report their own build-time failures (unresolved identifier, pattern
// incompatibility, multi-match arity mismatch, ...) through their own
// BuildError types rather than through this package, since those failures
// carry IR/SSA-specific context this type has no fields for.
type SentraError struct {
	Message string
	File    string
	Line    int
	Column  int
}

func (e *SentraError) Error() string {
	return fmt.Sprintf("%s:%d:%d: syntax error: %s", e.File, e.Line, e.Column, e.Message)
}

// NewSyntaxError creates a new syntax error at the given source location.
func NewSyntaxError(message string, file string, line, column int) *SentraError {
	return &SentraError{Message: message, File: file, Line: line, Column: column}
}
