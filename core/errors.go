package core

import "errors"

var (
	ErrBridgeClosed  = errors.New("bridge closed")
	ErrMissingOrigin = errors.New("origin is required")
)
