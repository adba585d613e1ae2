package reduce

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ResolutionError is raised while folding a stack into a descriptor. No
// cache state has been touched when it is returned.
type ResolutionError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Details contains additional context, e.g. the template and the
	// parameters that were available.
	Details map[string]string
}

// ErrorCode categorizes resolution errors.
type ErrorCode string

const (
	// ErrCodeMissingParam indicates a URI token had no usable value.
	ErrCodeMissingParam ErrorCode = "MISSING_PARAM"

	// ErrCodeInvalidActions indicates an actions or onlyActions value of
	// the wrong shape.
	ErrCodeInvalidActions ErrorCode = "INVALID_ACTIONS"

	// ErrCodeUnknownAction indicates an onlyActions name that is not in the
	// action set established so far.
	ErrCodeUnknownAction ErrorCode = "UNKNOWN_ACTION"
)

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+e.Details[k])
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(parts, ", "))
}

// IsMissingParam returns true if the error is a missing path parameter.
// Uses errors.As to handle wrapped errors.
func IsMissingParam(err error) bool {
	return hasCode(err, ErrCodeMissingParam)
}

// IsInvalidActions returns true if the error is a malformed action option.
func IsInvalidActions(err error) bool {
	return hasCode(err, ErrCodeInvalidActions) || hasCode(err, ErrCodeUnknownAction)
}

func hasCode(err error, code ErrorCode) bool {
	var re *ResolutionError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}
