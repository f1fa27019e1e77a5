// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package server is an embeddable HTTP and WebSocket server whose routes
// are contributed by plugins.
//
// Plugins register through a [Registrar] bound to their [scope.Scope]:
//
//	srv := server.New()
//	sc := scope.New()
//	p := srv.Plugin(sc)
//	p.Get("/echo/:name", server.MiddlewareFunc(func(ctx context.Context, req *server.Request, resp *server.Response) error {
//		return resp.SetBody("Hello, " + req.Param("name"))
//	}))
//
// Disposing the scope removes every route and hook the plugin added and
// closes every socket its WebSocket routes accepted.
package server
