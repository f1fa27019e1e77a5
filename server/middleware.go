// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrNextCalledTwice is returned by a [Next] func invoked more than once.
var ErrNextCalledTwice = errors.New("server: next called more than once")

// Next continues a waterfall with the following middleware, or with
// the terminal handler once every middleware has run.
type Next func(ctx context.Context) error

// Middleware handles one step of a waterfall. Returning without calling
// next short-circuits every middleware after it.
type Middleware func(ctx context.Context, req *Request, resp *Response, next Next) error

// MiddlewareFunc adapts a func which never delegates into a [Middleware].
func MiddlewareFunc(f func(ctx context.Context, req *Request, resp *Response) error) Middleware {
	return func(ctx context.Context, req *Request, resp *Response, _ Next) error {
		return f(ctx, req, resp)
	}
}

type terminal func(ctx context.Context, req *Request, resp *Response) error

func noopTerminal(context.Context, *Request, *Response) error {
	return nil
}

// waterfall runs mws in order. Each middleware receives a continuation
// bound to its own index, so a later middleware can never re-run an
// earlier one.
func waterfall(ctx context.Context, mws []Middleware, req *Request, resp *Response, end terminal) error {
	var step func(ctx context.Context, i int) error
	step = func(ctx context.Context, i int) error {
		if i >= len(mws) {
			return end(ctx, req, resp)
		}

		var called atomic.Bool
		next := func(ctx context.Context) error {
			if called.Swap(true) {
				return ErrNextCalledTwice
			}
			return step(ctx, i+1)
		}
		return mws[i](ctx, req, resp, next)
	}
	return step(ctx, 0)
}
