// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package try turns panics raised by user callbacks and failed deferred
// closes into errors.
package try

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
)

// PanicError is a value recovered from a panicking route, hook,
// socket callback or app, along with the stack it was raised on.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the [builtin.error] interface.
func (e PanicError) Error() string {
	return fmt.Sprintf("recovered from panic: %v", e.Value)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// LogValue implements the [slog.LogValuer] interface.
func (e PanicError) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("value", fmt.Sprint(e.Value)),
		slog.String("stack", string(e.Stack)),
	)
}

// AsPanic reports whether err wraps a [PanicError].
func AsPanic(err error) (PanicError, bool) {
	var pe PanicError
	ok := errors.As(err, &pe)
	return pe, ok
}

// Recover must be deferred directly. Any recovered value is joined onto *err.
func Recover(err *error) {
	r := recover()
	if r == nil {
		return
	}
	join(err, PanicError{
		Value: r,
		Stack: debug.Stack(),
	})
}

// Call invokes f and converts a panic raised by it into a [PanicError].
func Call(f func() error) (err error) {
	defer Recover(&err)

	return f()
}

// CloseError is joined onto an error by [Close].
type CloseError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e CloseError) Error() string {
	return fmt.Sprintf("failed to close: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e CloseError) Unwrap() error {
	return e.Cause
}

// Close closes v when it implements [io.Closer] and joins any
// failure onto *err as a [CloseError]. Request bodies and config
// readers are passed as plain readers so only closable ones are closed.
func Close(err *error, v any) {
	c, ok := v.(io.Closer)
	if !ok || c == nil {
		return
	}

	cerr := c.Close()
	if cerr == nil {
		return
	}
	join(err, CloseError{Cause: cerr})
}

func join(dst *error, err error) {
	if *dst == nil {
		*dst = err
		return
	}
	*dst = errors.Join(*dst, err)
}
