package ble

import "github.com/pkg/errors"

// Error kinds shared by the GAP and Security Manager engines. Engines wrap
// these with context; use Kind (or errors.Cause) to classify.
var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidState     = errors.New("invalid state")
	ErrNotPermitted     = errors.New("operation not permitted")
	ErrNotImplemented   = errors.New("not implemented")
	ErrNoMemory         = errors.New("out of memory")
	ErrUnspecified      = errors.New("internal stack failure")
	ErrBusy             = errors.New("stack busy")
)

// Kind reports whether err is, or wraps, the given error kind.
func Kind(err, kind error) bool {
	return errors.Cause(err) == kind
}
