package predict

import (
	"errors"
	"fmt"
)

// Kind classifies a prediction failure so callers can tell a bad upload
// from a server or model problem.
type Kind int

const (
	InferenceFailure Kind = iota
	UnsupportedImageFormat
	InvalidContentType
	ModelUnavailable
	BatchSizeExceeded
	EmptyBatch
)

func (k Kind) String() string {
	switch k {
	case UnsupportedImageFormat:
		return "UnsupportedImageFormat"
	case InvalidContentType:
		return "InvalidContentType"
	case ModelUnavailable:
		return "ModelUnavailable"
	case BatchSizeExceeded:
		return "BatchSizeExceeded"
	case EmptyBatch:
		return "EmptyBatch"
	default:
		return "InferenceFailure"
	}
}

// ClientError reports whether the failure was caused by the request.
func (k Kind) ClientError() bool {
	switch k {
	case UnsupportedImageFormat, InvalidContentType, BatchSizeExceeded, EmptyBatch:
		return true
	}
	return false
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Msg == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of err, InferenceFailure for foreign errors.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return InferenceFailure
}

// Detail is the message reported to API callers.
func (e *Error) Detail() string {
	if e.Kind == ModelUnavailable && e.Msg != "" {
		return e.Msg
	}
	return e.Error()
}
