// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package relay

import (
	"context"
	"errors"
	"log/slog"

	"github.com/z5labs/relay/config"
	"github.com/z5labs/relay/internal/noop"
	"github.com/z5labs/relay/internal/try"
	"github.com/z5labs/relay/scope"
)

// App represents the entry point for user specific code.
type App interface {
	Run(context.Context) error
}

// AppFunc adapts a func into an [App].
type AppFunc func(context.Context) error

// Run implements the [App] interface.
func (f AppFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// AppBuilder initializes an [App] from its config. Servers, plugins and
// anything else acquired while building should be tied to sc, the root
// scope of the app, which [Run] disposes once the app is done.
type AppBuilder[T any] interface {
	Build(ctx context.Context, sc *scope.Scope, cfg T) (App, error)
}

// AppBuilderFunc is a functional implementation of
// the AppBuilder interface.
type AppBuilderFunc[T any] func(context.Context, *scope.Scope, T) (App, error)

// Build implements the [AppBuilder] interface.
func (f AppBuilderFunc[T]) Build(ctx context.Context, sc *scope.Scope, cfg T) (App, error) {
	return f(ctx, sc, cfg)
}

// Stage names the step of [Run] which failed.
type Stage string

const (
	StageConfig Stage = "config"
	StageBuild  Stage = "build"
	StageRun    Stage = "run"
)

// Error is returned by [Run]. Once the root scope exists, Cause also
// carries any failure releasing it.
type Error struct {
	Stage Stage
	Scope string
	Cause error
}

// Error implements the [builtin.error] interface.
func (e Error) Error() string {
	return e.Scope + ": " + string(e.Stage) + " failed: " + e.Cause.Error()
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e Error) Unwrap() error {
	return e.Cause
}

type options struct {
	name   string
	log    *slog.Logger
	srcs   []config.Source
	decode []config.DecodeOption
}

// Option configures [Run].
type Option func(*options)

// Name names the root scope. The default is "relay".
func Name(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// Logger sets the logger of the root scope.
func Logger(log *slog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// Config appends config sources. Later sources override earlier ones.
func Config(srcs ...config.Source) Option {
	return func(o *options) {
		o.srcs = append(o.srcs, srcs...)
	}
}

// StrictConfig fails the config stage when a config value has no
// field in the app's config type.
func StrictConfig() Option {
	return func(o *options) {
		o.decode = append(o.decode, config.Strict())
	}
}

// Run decodes the config sources into T, builds the [App] within a
// fresh root scope and runs it. The root scope is disposed when the
// build fails or the app returns.
func Run[T any](ctx context.Context, builder AppBuilder[T], opts ...Option) error {
	o := &options{
		name: "relay",
		log:  noop.Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}

	var cfg T
	err := decodeConfig(&cfg, o)
	if err != nil {
		return Error{Stage: StageConfig, Scope: o.name, Cause: err}
	}

	sc := scope.New(scope.Name(o.name), scope.Logger(o.log))

	var app App
	err = try.Call(func() (err error) {
		app, err = builder.Build(ctx, sc, cfg)
		return err
	})
	if err != nil {
		return Error{Stage: StageBuild, Scope: o.name, Cause: errors.Join(err, sc.Dispose())}
	}

	err = WithScope(app, sc).Run(ctx)
	if err != nil {
		return Error{Stage: StageRun, Scope: o.name, Cause: err}
	}
	return nil
}

func decodeConfig(v any, o *options) error {
	vs, err := config.Read(o.srcs...)
	if err != nil {
		return err
	}
	return vs.Decode(v, o.decode...)
}
