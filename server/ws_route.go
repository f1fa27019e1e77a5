// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"context"
	"errors"
	"sync"

	"github.com/z5labs/relay/internal/fixedpool"
)

// ErrDecline may be returned by a [WSHandler] to pass the socket on to
// the next matching route without logging an error.
var ErrDecline = errors.New("server: websocket route declined")

// WSHandler decides whether a route accepts an upgraded socket. Returning
// nil accepts it; any error declines it. Handlers typically register
// [Socket.OnMessage] and [Socket.OnClose] callbacks before accepting.
//
// The socket handed to a declining handler is closed for that handler
// only. Its context is cancelled and its close callbacks run with close
// code 1008 and text "declined". The connection moves on to the next
// matching route.
type WSHandler func(ctx context.Context, sock *Socket) error

// WSRoute is a [Route] owning the sockets it accepted.
type WSRoute struct {
	Route

	handler WSHandler
	dispose func() error

	mu      sync.Mutex
	clients map[*Socket]struct{}
	closed  bool
}

// accept runs the handler. A nil handler accepts every socket.
func (r *WSRoute) accept(ctx context.Context, sock *Socket) error {
	if r.handler == nil {
		return nil
	}
	return r.handler(ctx, sock)
}

// join adds sock to the clients until it closes. It reports false if
// the route has been disposed.
func (r *WSRoute) join(sock *Socket) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.clients[sock] = struct{}{}
	r.mu.Unlock()

	sock.OnClose(func(int, string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.clients, sock)
	})
	return true
}

// Clients returns the currently connected sockets.
func (r *WSRoute) Clients() []*Socket {
	r.mu.Lock()
	defer r.mu.Unlock()

	socks := make([]*Socket, 0, len(r.clients))
	for sock := range r.clients {
		socks = append(socks, sock)
	}
	return socks
}

// Broadcast sends a message to every connected socket concurrently.
// Failures are joined into the returned error.
func (r *WSRoute) Broadcast(ctx context.Context, messageType int, data []byte) error {
	socks := r.Clients()
	tasks := make([]fixedpool.Task, len(socks))
	for i, sock := range socks {
		tasks[i] = func(context.Context) error {
			return sock.Send(messageType, data)
		}
	}
	return fixedpool.Wait(ctx, tasks...)
}

// closeClients closes every client with code and stops accepting new ones.
func (r *WSRoute) closeClients(code int, text string) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	var errs []error
	for _, sock := range r.Clients() {
		errs = append(errs, sock.CloseWithCode(code, text))
	}
	return errors.Join(errs...)
}

// Dispose unregisters the route and closes every client. It is safe to
// call more than once.
func (r *WSRoute) Dispose() error {
	return r.dispose()
}
