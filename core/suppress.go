package core

import (
	"errors"
	"fmt"
	"strings"
)

// transientErrorPatterns match failures caused by a callback racing a
// stale view state. The list is fixed; do not add generic patterns.
var transientErrorPatterns = []string{
	"Cannot read properties of undefined",
	"is not iterable",
	"is not a function",
	"reading 'map'",
	"reading 'find'",
	"reading 'push'",
	"reading 'filter'",
	"reading 'length'",
}

// ErrorSuppressor swallows known-transient callback failures.
//
// It is a noise filter only. A message that matches none of the patterns is
// always passed through.
type ErrorSuppressor struct {
	enabled bool
}

func NewErrorSuppressor(enabled bool) *ErrorSuppressor {
	return &ErrorSuppressor{enabled: enabled}
}

// IsTransient reports whether msg contains one of the fixed patterns.
func IsTransient(msg string) bool {
	for _, p := range transientErrorPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Suppress reports whether err should be swallowed.
func (s *ErrorSuppressor) Suppress(err error) bool {
	if s == nil || !s.enabled || err == nil {
		return false
	}
	return IsTransient(err.Error())
}

// CallbackPanic wraps a value recovered from a panicking callback.
type CallbackPanic struct {
	Value any
}

func (p *CallbackPanic) Error() string {
	if err, ok := p.Value.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(p.Value)
}

func (p *CallbackPanic) Unwrap() error {
	if err, ok := p.Value.(error); ok {
		return err
	}
	return nil
}

// Recover runs fn and converts a panic into an error. Transient failures
// are swallowed and reported as nil.
func (s *ErrorSuppressor) Recover(fn func()) error {
	err := recoverCallback(fn)
	if s.Suppress(err) {
		return nil
	}
	return err
}

func recoverCallback(fn func()) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &CallbackPanic{Value: v}
		}
	}()
	fn()
	return nil
}

// IsCallbackPanic reports whether err came from a recovered panic.
func IsCallbackPanic(err error) bool {
	var p *CallbackPanic
	return errors.As(err, &p)
}
