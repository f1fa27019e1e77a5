// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package fixedpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/z5labs/relay/internal/try"
)

func TestWait(t *testing.T) {
	t.Run("will run every task", func(t *testing.T) {
		t.Run("if all of them succeed", func(t *testing.T) {
			var n atomic.Int32
			task := func(context.Context) error {
				n.Add(1)
				return nil
			}

			err := Wait(context.Background(), task, task, task)
			if !assert.Nil(t, err) {
				return
			}
			assert.Equal(t, int32(3), n.Load())
		})

		t.Run("if there are none", func(t *testing.T) {
			err := Wait(context.Background())
			assert.Nil(t, err)
		})
	})

	t.Run("will cancel the remaining tasks", func(t *testing.T) {
		t.Run("if one task fails", func(t *testing.T) {
			failErr := errors.New("failed")

			err := Wait(
				context.Background(),
				func(context.Context) error {
					return failErr
				},
				func(ctx context.Context) error {
					<-ctx.Done()
					return context.Cause(ctx)
				},
			)
			if !assert.ErrorIs(t, err, failErr) {
				return
			}
		})
	})

	t.Run("will return a PanicError", func(t *testing.T) {
		t.Run("if a task panics", func(t *testing.T) {
			err := Wait(context.Background(), func(context.Context) error {
				panic("boom")
			})

			var pe try.PanicError
			if !assert.ErrorAs(t, err, &pe) {
				return
			}
			assert.Equal(t, "boom", pe.Value)
		})
	})

	t.Run("will join every failure", func(t *testing.T) {
		t.Run("if more than one task fails", func(t *testing.T) {
			a := errors.New("a")
			b := errors.New("b")

			err := Wait(
				context.Background(),
				func(context.Context) error { return a },
				func(context.Context) error { return b },
			)
			assert.ErrorIs(t, err, a)
			assert.ErrorIs(t, err, b)
		})
	})
}
