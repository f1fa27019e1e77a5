// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package fixedpool runs a fixed set of tasks, one goroutine each.
package fixedpool

import (
	"context"
	"errors"
	"sync"

	"github.com/z5labs/relay/internal/try"
)

// Task
type Task func(context.Context) error

// Wait runs every task concurrently and waits for all of them. The
// first failure cancels the context passed to the remaining tasks.
// Panics are recovered as [try.PanicError]s. Every failure is joined
// into the returned error.
func Wait(ctx context.Context, tasks ...Task) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var wg sync.WaitGroup
	errs := make([]error, len(tasks))
	for i, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := try.Call(func() error {
				return task(ctx)
			})
			if err != nil {
				errs[i] = err
				cancel(err)
			}
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}
