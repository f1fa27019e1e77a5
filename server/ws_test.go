// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/z5labs/relay/scope"
)

func dial(t *testing.T, ts *httptest.Server, path string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	u := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func echo(prefix string) WSHandler {
	return func(ctx context.Context, sock *Socket) error {
		sock.OnMessage(func(messageType int, data []byte) {
			sock.Send(messageType, append([]byte(prefix), data...))
		})
		return nil
	}
}

func TestServer_WebSocket(t *testing.T) {
	t.Run("will hand the socket to the first accepting route", func(t *testing.T) {
		t.Run("if earlier matching routes decline", func(t *testing.T) {
			srv := New()
			p := srv.Plugin(scope.New())

			_, err := p.WS("/ws/:room", func(context.Context, *Socket) error {
				return ErrDecline
			})
			require.NoError(t, err)
			_, err = p.WS("/ws/*rest", func(context.Context, *Socket) error {
				panic("boom")
			})
			require.NoError(t, err)
			_, err = p.WS("/ws/:room", func(context.Context, *Socket) error {
				return errors.New("not this one")
			})
			require.NoError(t, err)
			third, err := p.WS("/ws/:room", func(ctx context.Context, sock *Socket) error {
				room := sock.Request().Param("room")
				return echo(room + ": ")(ctx, sock)
			})
			require.NoError(t, err)

			ts := httptest.NewServer(srv)
			defer ts.Close()

			conn, _, err := dial(t, ts, "/ws/lobby")
			if !assert.Nil(t, err) {
				return
			}

			err = conn.WriteMessage(websocket.TextMessage, []byte("hi"))
			if !assert.Nil(t, err) {
				return
			}

			_, msg, err := conn.ReadMessage()
			if !assert.Nil(t, err) {
				return
			}
			assert.Equal(t, "lobby: hi", string(msg))
			assert.Len(t, third.Clients(), 1)
		})
	})

	t.Run("will run the close callbacks of a declining route", func(t *testing.T) {
		t.Run("if it registered them before declining", func(t *testing.T) {
			srv := New()
			p := srv.Plugin(scope.New())

			type closed struct {
				code int
				text string
			}
			closedCh := make(chan closed, 1)
			_, err := p.WS("/ws", func(ctx context.Context, sock *Socket) error {
				sock.OnClose(func(code int, text string) {
					closedCh <- closed{code: code, text: text}
				})
				return ErrDecline
			})
			require.NoError(t, err)
			_, err = p.WS("/ws", echo(""))
			require.NoError(t, err)

			ts := httptest.NewServer(srv)
			defer ts.Close()

			conn, _, err := dial(t, ts, "/ws")
			if !assert.Nil(t, err) {
				return
			}

			select {
			case c := <-closedCh:
				assert.Equal(t, websocket.ClosePolicyViolation, c.code)
				assert.Equal(t, "declined", c.text)
			case <-time.After(time.Second):
				t.Fatal("close callback of the declining route never ran")
			}

			err = conn.WriteMessage(websocket.TextMessage, []byte("still open"))
			if !assert.Nil(t, err) {
				return
			}
			_, msg, err := conn.ReadMessage()
			if !assert.Nil(t, err) {
				return
			}
			assert.Equal(t, "still open", string(msg))
		})
	})

	t.Run("will close the socket with a policy violation", func(t *testing.T) {
		t.Run("if every matching route declines", func(t *testing.T) {
			srv := New()
			p := srv.Plugin(scope.New())

			for range 2 {
				_, err := p.WS("/ws", func(context.Context, *Socket) error {
					return ErrDecline
				})
				require.NoError(t, err)
			}

			ts := httptest.NewServer(srv)
			defer ts.Close()

			conn, _, err := dial(t, ts, "/ws")
			if !assert.Nil(t, err) {
				return
			}

			_, _, err = conn.ReadMessage()
			assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "unexpected error: %v", err)
		})
	})

	t.Run("will respond 404 without upgrading", func(t *testing.T) {
		t.Run("if no websocket route matches the path", func(t *testing.T) {
			srv := New()
			_, err := srv.Plugin(scope.New()).WS("/ws", nil)
			require.NoError(t, err)

			ts := httptest.NewServer(srv)
			defer ts.Close()

			_, resp, err := dial(t, ts, "/other")
			if !assert.ErrorIs(t, err, websocket.ErrBadHandshake) {
				return
			}
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		})
	})

	t.Run("will accept every socket", func(t *testing.T) {
		t.Run("if the route has no handler", func(t *testing.T) {
			srv := New()
			route, err := srv.Plugin(scope.New()).WS("/ws", nil)
			require.NoError(t, err)

			ts := httptest.NewServer(srv)
			defer ts.Close()

			_, _, err = dial(t, ts, "/ws")
			if !assert.Nil(t, err) {
				return
			}

			assert.Eventually(t, func() bool {
				return len(route.Clients()) == 1
			}, time.Second, 10*time.Millisecond)
		})
	})

	t.Run("will close every client going away", func(t *testing.T) {
		t.Run("if the route scope is disposed", func(t *testing.T) {
			srv := New()
			sc := scope.New()
			route, err := srv.Plugin(sc).WS("/ws", echo(""))
			require.NoError(t, err)

			ts := httptest.NewServer(srv)
			defer ts.Close()

			conn, _, err := dial(t, ts, "/ws")
			if !assert.Nil(t, err) {
				return
			}
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
			_, _, err = conn.ReadMessage()
			require.NoError(t, err)

			var closed sync.WaitGroup
			closed.Add(1)
			route.Clients()[0].OnClose(func(code int, text string) {
				defer closed.Done()
				assert.Equal(t, websocket.CloseGoingAway, code)
			})

			require.NoError(t, sc.Dispose())
			closed.Wait()

			_, _, err = conn.ReadMessage()
			assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
			assert.Empty(t, route.Clients())

			_, resp, err := dial(t, ts, "/ws")
			if !assert.Error(t, err) {
				return
			}
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		})
	})

	t.Run("will remove the client", func(t *testing.T) {
		t.Run("if the client closes the connection", func(t *testing.T) {
			srv := New()
			route, err := srv.Plugin(scope.New()).WS("/ws", echo(""))
			require.NoError(t, err)

			ts := httptest.NewServer(srv)
			defer ts.Close()

			conn, _, err := dial(t, ts, "/ws")
			if !assert.Nil(t, err) {
				return
			}
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
			_, _, err = conn.ReadMessage()
			require.NoError(t, err)

			sock := route.Clients()[0]
			err = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
			require.NoError(t, err)

			select {
			case <-sock.Done():
			case <-time.After(time.Second):
				t.Fatal("socket was not closed")
			}
			assert.Empty(t, route.Clients())
			assert.Error(t, sock.Context().Err())
		})
	})

	t.Run("will broadcast to every client", func(t *testing.T) {
		t.Run("if several clients are connected", func(t *testing.T) {
			srv := New()
			route, err := srv.Plugin(scope.New()).WS("/ws", nil)
			require.NoError(t, err)

			ts := httptest.NewServer(srv)
			defer ts.Close()

			var conns []*websocket.Conn
			for range 3 {
				conn, _, err := dial(t, ts, "/ws")
				require.NoError(t, err)
				conns = append(conns, conn)
			}
			require.Eventually(t, func() bool {
				return len(route.Clients()) == 3
			}, time.Second, 10*time.Millisecond)

			err = route.Broadcast(context.Background(), websocket.TextMessage, []byte("all"))
			if !assert.Nil(t, err) {
				return
			}

			for _, conn := range conns {
				_, msg, err := conn.ReadMessage()
				if !assert.Nil(t, err) {
					return
				}
				assert.Equal(t, "all", string(msg))
			}
		})
	})
}

func TestSocket_OnClose(t *testing.T) {
	t.Run("will run the handler immediately", func(t *testing.T) {
		t.Run("if the socket is already closed", func(t *testing.T) {
			srv := New()
			accepted := make(chan *Socket, 1)
			_, err := srv.Plugin(scope.New()).WS("/ws", func(ctx context.Context, sock *Socket) error {
				accepted <- sock
				return nil
			})
			require.NoError(t, err)

			ts := httptest.NewServer(srv)
			defer ts.Close()

			_, _, err = dial(t, ts, "/ws")
			require.NoError(t, err)

			sock := <-accepted
			require.NoError(t, sock.CloseWithCode(websocket.CloseNormalClosure, "done"))
			assert.Nil(t, sock.Close())

			var code int
			sock.OnClose(func(c int, _ string) {
				code = c
			})
			assert.Equal(t, websocket.CloseNormalClosure, code)
		})
	})
}
