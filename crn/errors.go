package crn

import (
	"errors"
	"strings"
)

// ErrorCode is a compressor error code.
type ErrorCode uint32

const (
	// Success means no error.
	Success ErrorCode = 0

	// ErrInvalidFormat reports an unknown or unsupported block format.
	ErrInvalidFormat ErrorCode = 1

	// ErrDimensionOutOfRange reports texture dimensions, level or face counts
	// outside the supported range.
	ErrDimensionOutOfRange ErrorCode = 2

	// ErrPoolInitFailed reports that the worker pool could not be created.
	ErrPoolInitFailed ErrorCode = 3

	// ErrUserCanceled reports that the progress callback requested cancellation.
	ErrUserCanceled ErrorCode = 4

	// ErrModelBuildFailed reports that a Huffman data model could not be built
	// or transmitted.
	ErrModelBuildFailed ErrorCode = 5

	// ErrBadParam reports malformed compression parameters.
	ErrBadParam ErrorCode = 6

	// ErrBadHeader reports a malformed or corrupted container header.
	ErrBadHeader ErrorCode = 7
)

// ErrorString returns the symbolic name of code, or "" when code is unknown.
func ErrorString(code ErrorCode) string {
	switch code {
	case Success:
		return "SUCCESS"
	case ErrInvalidFormat:
		return "INVALID_FORMAT"
	case ErrDimensionOutOfRange:
		return "DIMENSION_OUT_OF_RANGE"
	case ErrPoolInitFailed:
		return "POOL_INIT_FAILED"
	case ErrUserCanceled:
		return "USER_CANCELED"
	case ErrModelBuildFailed:
		return "MODEL_BUILD_FAILED"
	case ErrBadParam:
		return "BAD_PARAM"
	case ErrBadHeader:
		return "BAD_HEADER"
	default:
		return ""
	}
}

// Error is returned by every failing crn operation. Err, when set, is the
// lower-level failure (a Huffman model or the worker pool) that caused it.
type Error struct {
	Code ErrorCode
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Msg
	if msg == "" {
		msg = "crn: " + strings.ToLower(ErrorString(e.Code))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorCodeOf extracts the code of the first *Error in err's chain. A nil err
// is Success; anything that never passed through this package is treated as
// ErrBadParam.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrBadParam
}

func newError(code ErrorCode, msg string) error {
	return &Error{Code: code, Msg: msg}
}

func wrapError(code ErrorCode, msg string, err error) error {
	return &Error{Code: code, Msg: msg, Err: err}
}
