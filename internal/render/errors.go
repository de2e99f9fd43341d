package render

import (
	"errors"
	"fmt"
)

// ErrorKind classifies render failures.
type ErrorKind int

const (
	UnsupportedAsset ErrorKind = iota
	DimensionMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case UnsupportedAsset:
		return "unsupported asset"
	case DimensionMismatch:
		return "dimension mismatch"
	default:
		return "unknown"
	}
}

// Error is returned alongside a placeholder sequence when a source could
// not be rendered.
type Error struct {
	Kind  ErrorKind
	Asset string
	Err   error
}

func (e *Error) Error() string {
	if e.Asset != "" {
		return fmt.Sprintf("render %s: %s: %v", e.Asset, e.Kind, e.Err)
	}
	return fmt.Sprintf("render: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a render Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == kind
}
