package definition

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Validation error codes (E200-E299)
const (
	ErrUnknownKey      = "E200" // key not allowed for this definition kind
	ErrWrongType       = "E201" // value has the wrong type
	ErrEmptyValue      = "E202" // value must not be empty
	ErrInvalidAction   = "E203" // action shape or resolver is invalid
	ErrInvalidOnly     = "E204" // onlyActions is neither a list nor a mapping
	ErrMissingAnchor   = "E205" // dataset has neither store nor parent
	ErrUnknownRef      = "E206" // store, parent or include names nothing
	ErrDuplicateName   = "E207" // name defined twice
	ErrParentCycle     = "E208" // parent/include references form a cycle
	ErrConflictingRoot = "E209" // dataset names both store and parent
)

// ValidationError represents one problem found in a definition.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// DecodeError collects every ValidationError found while decoding one
// definition. Decoding does not stop at the first problem.
type DecodeError struct {
	Kind   string            `json:"kind"`
	Errors []ValidationError `json:"errors"`
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("invalid %s definition: %s", e.Kind, strings.Join(msgs, "; "))
}

// CompileError reports a catalog that CUE could not evaluate, or a value
// whose shape does not fit a definition. Pos is zero when CUE gave no
// position.
type CompileError struct {
	Field   string
	Code    string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	var b strings.Builder
	if e.Pos.IsValid() {
		fmt.Fprintf(&b, "%s:%d:%d: ", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column())
	}
	if e.Code != "" {
		fmt.Fprintf(&b, "[%s] ", e.Code)
	}
	fmt.Fprintf(&b, "%s: %s", e.Field, e.Message)
	return b.String()
}

// fromCUE turns err into a CompileError at the first positioned CUE error.
// Errors without any position are returned unchanged.
func fromCUE(err error) error {
	if err == nil {
		return nil
	}
	for _, ce := range errors.Errors(err) {
		if pos := errors.Positions(ce); len(pos) > 0 {
			return &CompileError{Field: "cue", Message: ce.Error(), Pos: pos[0]}
		}
	}
	return err
}
