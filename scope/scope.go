// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package scope models the lifetime of a plugin. Resources acquired
// through a [Scope] are released, in reverse acquisition order, when
// the [Scope] (or one of its ancestors) is disposed.
package scope

import (
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/z5labs/relay/internal/noop"
	"github.com/z5labs/relay/internal/slogfield"
	"github.com/z5labs/relay/internal/try"
)

// ErrDisposed is returned when acquiring through a disposed [Scope].
var ErrDisposed = errors.New("scope: disposed")

// Release undoes whatever an acquire func did.
type Release func() error

// ReleaseError
type ReleaseError struct {
	Scope string
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ReleaseError) Error() string {
	return "scope " + e.Scope + ": failed to release resource: " + e.Cause.Error()
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ReleaseError) Unwrap() error {
	return e.Cause
}

type effect struct {
	once    sync.Once
	release Release
	err     error
}

func (e *effect) run() error {
	e.once.Do(func() {
		e.err = try.Call(func() error {
			return e.release()
		})
	})
	return e.err
}

// Option configures a [Scope].
type Option func(*Scope)

// Name sets the name used when logging and reporting errors.
func Name(name string) Option {
	return func(s *Scope) {
		s.name = name
	}
}

// Logger sets the logger used to report release failures.
func Logger(log *slog.Logger) Option {
	return func(s *Scope) {
		s.log = log
	}
}

// Scope is the lifetime boundary of everything registered through it.
type Scope struct {
	name string
	log  *slog.Logger

	mu       sync.Mutex
	effects  []*effect
	disposed bool
	done     chan struct{}

	// detach removes this scope from its parent.
	detach func()
}

// New returns a root [Scope].
func New(opts ...Option) *Scope {
	s := &Scope{
		name: "root",
		log:  noop.Logger(),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the scope name.
func (s *Scope) Name() string {
	return s.name
}

// Done is closed once the scope starts disposing.
func (s *Scope) Done() <-chan struct{} {
	return s.done
}

// Disposed reports whether [Scope.Dispose] has been called.
func (s *Scope) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// Effect runs acquire and ties the returned [Release] to this scope.
//
// The returned dispose func releases the resource early and is safe to
// call more than once; the release itself runs exactly once whether
// triggered by dispose or by the scope. If the scope is disposed while
// acquire runs, the resource is released immediately and [ErrDisposed]
// is returned.
func (s *Scope) Effect(acquire func() (Release, error)) (dispose func() error, err error) {
	if s.Disposed() {
		return nil, ErrDisposed
	}

	release, err := acquire()
	if err != nil {
		return nil, err
	}
	if release == nil {
		release = func() error { return nil }
	}
	e := &effect{release: release}

	remove, ok := s.add(e)
	if !ok {
		return nil, errors.Join(ErrDisposed, e.run())
	}

	dispose = func() error {
		remove()
		return e.run()
	}
	return dispose, nil
}

func (s *Scope) add(e *effect) (remove func(), ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil, false
	}
	s.effects = append(s.effects, e)

	remove = func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.effects = slices.DeleteFunc(s.effects, func(x *effect) bool { return x == e })
	}
	return remove, true
}

// Child returns a new scope whose lifetime is bounded by s. Disposing
// the child does not affect s; disposing s disposes the child.
func (s *Scope) Child(opts ...Option) (*Scope, error) {
	child := New(append([]Option{Logger(s.log)}, opts...)...)

	remove, ok := s.add(&effect{release: child.Dispose})
	if !ok {
		return nil, ErrDisposed
	}
	child.detach = remove
	return child, nil
}

// Dispose releases every resource acquired through s, newest first.
// Every release runs even if earlier ones fail or panic; all failures
// are joined into the returned error. Calling Dispose again is a no-op.
func (s *Scope) Dispose() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	effects := s.effects
	s.effects = nil
	close(s.done)
	s.mu.Unlock()

	var errs []error
	for i := len(effects) - 1; i >= 0; i-- {
		err := effects[i].run()
		if err == nil {
			continue
		}
		s.log.Error(
			"failed to release resource",
			slogfield.String("scope", s.name),
			slogfield.Error(err),
		)
		errs = append(errs, ReleaseError{Scope: s.name, Cause: err})
	}

	if s.detach != nil {
		s.detach()
	}
	return errors.Join(errs...)
}
