// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package hook provides an ordered registration list whose entries can be
// added and removed while readers iterate over stable snapshots.
package hook

import (
	"slices"
	"sync"
)

type options struct {
	prepend bool
}

// Option configures how a value is added to a [Chain].
type Option func(*options)

// Prepend places the value ahead of every value already in the [Chain].
func Prepend() Option {
	return func(o *options) {
		o.prepend = true
	}
}

type entry[T any] struct {
	v T
}

// Chain is an ordered list of values. Insertion order is iteration
// order and removal is stable, i.e. the relative order of the remaining
// values never changes.
//
// The zero value is ready to use.
type Chain[T any] struct {
	mu      sync.RWMutex
	entries []*entry[T]
}

// Add registers v and returns a func which removes it again.
// The remove func is idempotent.
func (c *Chain[T]) Add(v T, opts ...Option) (remove func()) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	e := &entry[T]{v: v}

	c.mu.Lock()
	if o.prepend {
		c.entries = slices.Insert(c.entries, 0, e)
	} else {
		c.entries = append(c.entries, e)
	}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()

			c.entries = slices.DeleteFunc(c.entries, func(x *entry[T]) bool {
				return x == e
			})
		})
	}
}

// Snapshot returns the current values in order. Later additions and
// removals do not affect the returned slice.
func (c *Chain[T]) Snapshot() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	vs := make([]T, len(c.entries))
	for i, e := range c.entries {
		vs[i] = e.v
	}
	return vs
}

// Len returns the number of registered values.
func (c *Chain[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
