// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package hook

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChain_Add(t *testing.T) {
	t.Run("will keep registration order", func(t *testing.T) {
		t.Run("if values are appended", func(t *testing.T) {
			var c Chain[string]
			c.Add("a")
			c.Add("b")
			c.Add("c")

			if !assert.Equal(t, []string{"a", "b", "c"}, c.Snapshot()) {
				return
			}
		})

		t.Run("if a value is prepended", func(t *testing.T) {
			var c Chain[string]
			c.Add("a")
			c.Add("b")
			c.Add("first", Prepend())

			if !assert.Equal(t, []string{"first", "a", "b"}, c.Snapshot()) {
				return
			}
		})
	})

	t.Run("will remove values stably", func(t *testing.T) {
		t.Run("if a middle value is removed", func(t *testing.T) {
			var c Chain[string]
			c.Add("a")
			remove := c.Add("b")
			c.Add("c")
			c.Add("d")

			remove()
			remove()

			if !assert.Equal(t, []string{"a", "c", "d"}, c.Snapshot()) {
				return
			}
			if !assert.Equal(t, 3, c.Len()) {
				return
			}
		})

		t.Run("if equal values are registered twice", func(t *testing.T) {
			var c Chain[string]
			c.Add("x")
			remove := c.Add("x")

			remove()

			if !assert.Equal(t, []string{"x"}, c.Snapshot()) {
				return
			}
		})
	})
}

func TestChain_Snapshot(t *testing.T) {
	t.Run("will not observe later mutations", func(t *testing.T) {
		t.Run("if values are added and removed after the snapshot", func(t *testing.T) {
			var c Chain[int]
			remove := c.Add(1)
			c.Add(2)

			snap := c.Snapshot()
			remove()
			c.Add(3)

			if !assert.Equal(t, []int{1, 2}, snap) {
				return
			}
			if !assert.Equal(t, []int{2, 3}, c.Snapshot()) {
				return
			}
		})
	})

	t.Run("will be safe for concurrent use", func(t *testing.T) {
		t.Run("if values are added, removed and read concurrently", func(t *testing.T) {
			var c Chain[int]

			var wg sync.WaitGroup
			for i := range 50 {
				wg.Add(2)
				go func() {
					defer wg.Done()
					remove := c.Add(i)
					remove()
				}()
				go func() {
					defer wg.Done()
					_ = c.Snapshot()
				}()
			}
			wg.Wait()

			if !assert.Zero(t, c.Len()) {
				return
			}
		})
	})
}
