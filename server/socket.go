// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/z5labs/relay/internal/slogfield"
	"github.com/z5labs/relay/internal/try"
)

// CloseTimeout bounds how long writing a close frame may take.
var CloseTimeout = time.Second

// MessageHandler receives every data message read from a [Socket].
// messageType is [websocket.TextMessage] or [websocket.BinaryMessage].
type MessageHandler func(messageType int, data []byte)

// CloseHandler is called once when a [Socket] closes.
type CloseHandler func(code int, text string)

// Socket is an upgraded WebSocket connection. Writes are serialised so
// it is safe to send from multiple goroutines.
type Socket struct {
	conn *websocket.Conn
	req  *Request
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu        sync.Mutex
	onMessage []MessageHandler
	onClose   []CloseHandler
	closed    bool
	code      int
	text      string
	done      chan struct{}
}

func newSocket(conn *websocket.Conn, req *Request, log *slog.Logger) *Socket {
	ctx, cancel := context.WithCancel(req.Context())
	return &Socket{
		conn:   conn,
		req:    req,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Request returns the request which was upgraded, with the params of
// the accepting route.
func (s *Socket) Request() *Request {
	return s.req
}

// Context is cancelled when the socket closes.
func (s *Socket) Context() context.Context {
	return s.ctx
}

// Done is closed when the socket closes.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// Send writes a single message.
func (s *Socket) Send(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

// SendText writes a text message.
func (s *Socket) SendText(text string) error {
	return s.Send(websocket.TextMessage, []byte(text))
}

// SendJSON writes v as a JSON encoded text message.
func (s *Socket) SendJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// OnMessage registers h for every subsequent data message.
func (s *Socket) OnMessage(h MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = append(s.onMessage, h)
}

// OnClose registers h to run when the socket closes. If the socket is
// already closed h runs immediately.
func (s *Socket) OnClose(h CloseHandler) {
	s.mu.Lock()
	if !s.closed {
		s.onClose = append(s.onClose, h)
		s.mu.Unlock()
		return
	}
	code, text := s.code, s.text
	s.mu.Unlock()

	s.runCloseHandler(h, code, text)
}

// Close closes the socket with a normal closure.
func (s *Socket) Close() error {
	return s.CloseWithCode(websocket.CloseNormalClosure, "")
}

// CloseWithCode sends a close frame with code and text then closes the
// connection. Only the first close has any effect.
func (s *Socket) CloseWithCode(code int, text string) error {
	return s.shutdown(code, text, true)
}

func (s *Socket) shutdown(code int, text string, sendFrame bool) error {
	return s.finish(code, text, func() error {
		var errs []error
		if sendFrame {
			msg := websocket.FormatCloseMessage(code, text)
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(CloseTimeout))
			s.writeMu.Unlock()
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				errs = append(errs, err)
			}
		}
		errs = append(errs, s.conn.Close())
		return errors.Join(errs...)
	})
}

// detach closes s for the route which declined it. The connection is
// left open for the next candidate route.
func (s *Socket) detach() {
	s.finish(websocket.ClosePolicyViolation, "declined", nil)
}

func (s *Socket) finish(code int, text string, release func() error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.code = code
	s.text = text
	handlers := s.onClose
	s.onClose = nil
	s.mu.Unlock()

	var err error
	if release != nil {
		err = release()
	}

	s.cancel()
	close(s.done)

	for _, h := range handlers {
		s.runCloseHandler(h, code, text)
	}
	return err
}

func (s *Socket) runCloseHandler(h CloseHandler, code int, text string) {
	err := try.Call(func() error {
		h(code, text)
		return nil
	})
	if err != nil {
		s.log.ErrorContext(s.ctx, "socket close handler failed", slogfield.Error(err))
	}
}

// readLoop delivers messages until the connection fails or closes.
func (s *Socket) readLoop() {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.closeFromRead(err)
			return
		}

		s.mu.Lock()
		handlers := append([]MessageHandler(nil), s.onMessage...)
		s.mu.Unlock()

		for _, h := range handlers {
			err := try.Call(func() error {
				h(messageType, data)
				return nil
			})
			if err != nil {
				s.log.ErrorContext(s.ctx, "socket message handler failed", slogfield.Error(err))
			}
		}
	}
}

func (s *Socket) closeFromRead(err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		// gorilla has already echoed the close frame
		s.shutdown(closeErr.Code, closeErr.Text, false)
		return
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if !closed {
		s.log.DebugContext(s.ctx, "socket read failed", slogfield.Error(err))
	}
	s.shutdown(websocket.CloseAbnormalClosure, "", false)
}
