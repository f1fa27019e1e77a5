// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package relay

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/z5labs/relay/internal/try"
	"github.com/z5labs/relay/scope"
)

// Recover wraps app with panic recovery. A recovered panic is
// returned as a [try.PanicError].
func Recover(app App) App {
	return AppFunc(func(ctx context.Context) (err error) {
		defer try.Recover(&err)

		return app.Run(ctx)
	})
}

// WithSignalNotifications cancels the context passed to app.Run when
// the process receives one of signals.
func WithSignalNotifications(app App, signals ...os.Signal) App {
	return AppFunc(func(ctx context.Context) error {
		sigCtx, cancel := signal.NotifyContext(ctx, signals...)
		defer cancel()

		return app.Run(sigCtx)
	})
}

// WithScope disposes sc once app.Run returns, even if it panics.
// Dispose failures are joined with the error returned by app.
func WithScope(app App, sc *scope.Scope) App {
	return AppFunc(func(ctx context.Context) (err error) {
		defer func() {
			err = errors.Join(err, sc.Dispose())
		}()
		defer try.Recover(&err)

		return app.Run(ctx)
	})
}
