package model

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrNotReady   = errors.New("result not ready")
	ErrValidation = errors.New("invalid parameters")
	ErrSynthesis  = errors.New("synthesis failed")
	ErrFormat     = errors.New("frame format mismatch")
	ErrEncoding   = errors.New("encoding failed")
	ErrCanceled   = errors.New("canceled")
	ErrConflict   = errors.New("job already finished")
)

// ErrorKind classifies err into a short, stable label used for status mapping
// and structured logs. Unclassified errors are "internal".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	case errors.Is(err, ErrSynthesis):
		return "synthesis"
	case errors.Is(err, ErrFormat):
		return "format"
	case errors.Is(err, ErrEncoding):
		return "encoding"
	case errors.Is(err, ErrCanceled):
		return "canceled"
	case errors.Is(err, ErrConflict):
		return "conflict"
	}
	return "internal"
}
