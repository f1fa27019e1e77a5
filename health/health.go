// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package health composes health signals reported by plugins.
package health

import (
	"context"
	"sync/atomic"
)

// Metric represents anything that can report its health status.
type Metric interface {
	Healthy(context.Context) bool
}

// MetricFunc adapts a func into a [Metric].
type MetricFunc func(context.Context) bool

// Healthy implements the [Metric] interface.
func (f MetricFunc) Healthy(ctx context.Context) bool {
	return f(ctx)
}

// Binary is a [Metric] which is either healthy or not.
// The zero value is healthy.
type Binary struct {
	unhealthy atomic.Bool
}

// Toggle flips the state.
func (m *Binary) Toggle() {
	for {
		old := m.unhealthy.Load()
		if m.unhealthy.CompareAndSwap(old, !old) {
			return
		}
	}
}

// Set sets the state.
func (m *Binary) Set(healthy bool) {
	m.unhealthy.Store(!healthy)
}

// Healthy implements the [Metric] interface.
func (m *Binary) Healthy(context.Context) bool {
	return !m.unhealthy.Load()
}

// Closed returns a [Metric] which becomes healthy once ch is closed.
func Closed(ch <-chan struct{}) Metric {
	return MetricFunc(func(context.Context) bool {
		select {
		case <-ch:
			return true
		default:
			return false
		}
	})
}

// And is healthy when every metric is healthy.
func And(metrics ...Metric) Metric {
	return MetricFunc(func(ctx context.Context) bool {
		for _, m := range metrics {
			if !m.Healthy(ctx) {
				return false
			}
		}
		return true
	})
}

// Or is healthy when at least one metric is healthy.
func Or(metrics ...Metric) Metric {
	return MetricFunc(func(ctx context.Context) bool {
		for _, m := range metrics {
			if m.Healthy(ctx) {
				return true
			}
		}
		return false
	})
}

// Not negates m.
func Not(m Metric) Metric {
	return MetricFunc(func(ctx context.Context) bool {
		return !m.Healthy(ctx)
	})
}
