// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/z5labs/relay/internal/try"
)

// ErrResponseFlushed is returned when mutating the body of a [Response]
// which has already been written to the client.
var ErrResponseFlushed = errors.New("server: response already flushed")

// EncodeBodyError is returned by [Response.Flush] when a body value
// could not be encoded as JSON.
type EncodeBodyError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e EncodeBodyError) Error() string {
	return "server: failed to encode response body: " + e.Cause.Error()
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e EncodeBodyError) Unwrap() error {
	return e.Cause
}

// Response is the mutable outcome of a dispatch. It is written to the
// client exactly once, by [Response.Flush].
//
// The status is 404 until set. Setting a non-nil body before any
// explicit status promotes the status to 200.
type Response struct {
	mu         sync.Mutex
	status     int
	statusSet  bool
	statusText string
	header     http.Header
	body       any
	flushed    bool

	once     sync.Once
	flushErr error
}

// NewResponse returns an unflushed [Response] with status 404.
func NewResponse() *Response {
	return &Response{
		status: http.StatusNotFound,
		header: make(http.Header),
	}
}

// Status returns the current status code.
func (r *Response) Status() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// SetStatus sets the status code.
func (r *Response) SetStatus(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = code
	r.statusSet = true
}

// StatusText returns the reason phrase, if one was set.
func (r *Response) StatusText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statusText == "" {
		return http.StatusText(r.status)
	}
	return r.statusText
}

// SetStatusText sets the reason phrase. net/http always writes the
// canonical phrase, so this is informational only.
func (r *Response) SetStatusText(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusText = text
}

// Header returns the response headers. Mutations after the flush have no effect.
func (r *Response) Header() http.Header {
	return r.header
}

// Body returns the current body value.
func (r *Response) Body() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body
}

// SetBody sets the body. Supported values are nil, string, []byte and
// [io.Reader]; anything else is encoded as JSON on flush.
func (r *Response) SetBody(body any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flushed {
		return ErrResponseFlushed
	}
	r.body = body
	if body != nil && !r.statusSet {
		r.status = http.StatusOK
	}
	return nil
}

// Flushed reports whether the response has been written.
func (r *Response) Flushed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushed
}

// Flush writes the response to w. Only the first call writes anything;
// later calls return the result of the first.
func (r *Response) Flush(w http.ResponseWriter) error {
	r.once.Do(func() {
		r.mu.Lock()
		r.flushed = true
		status := r.status
		body := r.body
		r.mu.Unlock()

		r.flushErr = writeResponse(w, status, r.header, body)
	})
	return r.flushErr
}

func writeResponse(w http.ResponseWriter, status int, header http.Header, body any) (err error) {
	h := w.Header()
	for k, vs := range header {
		h[k] = append([]string(nil), vs...)
	}

	var b []byte
	var rd io.Reader
	contentType := ""
	switch v := body.(type) {
	case nil:
	case string:
		b = []byte(v)
		contentType = "text/plain; charset=utf-8"
	case []byte:
		b = v
		contentType = "application/octet-stream"
	case io.Reader:
		rd = v
		contentType = "application/octet-stream"
		if c, ok := v.(io.Closer); ok {
			defer try.Close(&err, c)
		}
	default:
		var buf bytes.Buffer
		if encErr := json.NewEncoder(&buf).Encode(v); encErr != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return EncodeBodyError{Cause: encErr}
		}
		b = buf.Bytes()
		contentType = "application/json"
	}

	if contentType != "" && h.Get("Content-Type") == "" {
		h.Set("Content-Type", contentType)
	}
	if rd == nil && body != nil {
		h.Set("Content-Length", strconv.Itoa(len(b)))
	}
	w.WriteHeader(status)

	if rd != nil {
		_, err = io.Copy(w, rd)
		return err
	}
	if len(b) > 0 {
		_, err = w.Write(b)
	}
	return err
}
