// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type countingWriter struct {
	*httptest.ResponseRecorder
	writeHeaders int
}

func (w *countingWriter) WriteHeader(code int) {
	w.writeHeaders++
	w.ResponseRecorder.WriteHeader(code)
}

type trackedReader struct {
	io.Reader
	closed bool
}

func (r *trackedReader) Close() error {
	r.closed = true
	return nil
}

func TestResponse_SetBody(t *testing.T) {
	t.Run("will default the status to 404", func(t *testing.T) {
		t.Run("if nothing was set", func(t *testing.T) {
			resp := NewResponse()
			assert.Equal(t, http.StatusNotFound, resp.Status())
			assert.Nil(t, resp.Body())
		})
	})

	t.Run("will promote the status to 200", func(t *testing.T) {
		t.Run("if a body is set before any status", func(t *testing.T) {
			resp := NewResponse()

			err := resp.SetBody("hello")
			if !assert.Nil(t, err) {
				return
			}
			assert.Equal(t, http.StatusOK, resp.Status())
		})
	})

	t.Run("will keep the explicit status", func(t *testing.T) {
		t.Run("if the status was set before the body", func(t *testing.T) {
			resp := NewResponse()
			resp.SetStatus(http.StatusCreated)

			err := resp.SetBody("created")
			if !assert.Nil(t, err) {
				return
			}
			assert.Equal(t, http.StatusCreated, resp.Status())
		})

		t.Run("if the explicit status is 404", func(t *testing.T) {
			resp := NewResponse()
			resp.SetStatus(http.StatusNotFound)

			err := resp.SetBody("missing")
			if !assert.Nil(t, err) {
				return
			}
			assert.Equal(t, http.StatusNotFound, resp.Status())
		})
	})

	t.Run("will not promote the status", func(t *testing.T) {
		t.Run("if the body is nil", func(t *testing.T) {
			resp := NewResponse()

			err := resp.SetBody(nil)
			if !assert.Nil(t, err) {
				return
			}
			assert.Equal(t, http.StatusNotFound, resp.Status())
		})
	})

	t.Run("will return ErrResponseFlushed", func(t *testing.T) {
		t.Run("if the response was already flushed", func(t *testing.T) {
			resp := NewResponse()
			err := resp.SetBody("first")
			if !assert.Nil(t, err) {
				return
			}

			w := httptest.NewRecorder()
			err = resp.Flush(w)
			if !assert.Nil(t, err) {
				return
			}

			err = resp.SetBody("second")
			if !assert.ErrorIs(t, err, ErrResponseFlushed) {
				return
			}
			assert.Equal(t, "first", resp.Body())
			assert.Equal(t, "first", w.Body.String())
		})
	})
}

func TestResponse_Flush(t *testing.T) {
	t.Run("will write exactly once", func(t *testing.T) {
		t.Run("if flush is called more than once", func(t *testing.T) {
			resp := NewResponse()
			resp.SetBody("once")

			w := &countingWriter{ResponseRecorder: httptest.NewRecorder()}
			for range 3 {
				err := resp.Flush(w)
				if !assert.Nil(t, err) {
					return
				}
			}

			assert.Equal(t, 1, w.writeHeaders)
			assert.Equal(t, "once", w.Body.String())
			assert.True(t, resp.Flushed())
		})
	})

	t.Run("will only send the status and headers", func(t *testing.T) {
		t.Run("if no body was set", func(t *testing.T) {
			resp := NewResponse()
			resp.SetStatus(http.StatusNoContent)
			resp.Header().Set("Allow", "GET")

			w := httptest.NewRecorder()
			err := resp.Flush(w)
			if !assert.Nil(t, err) {
				return
			}

			assert.Equal(t, http.StatusNoContent, w.Code)
			assert.Equal(t, "GET", w.Header().Get("Allow"))
			assert.Empty(t, w.Body.String())
			assert.Empty(t, w.Header().Get("Content-Type"))
		})
	})

	t.Run("will encode the body as json", func(t *testing.T) {
		t.Run("if the body is not a string, bytes or reader", func(t *testing.T) {
			resp := NewResponse()
			resp.SetBody(map[string]int{"n": 1})

			w := httptest.NewRecorder()
			err := resp.Flush(w)
			if !assert.Nil(t, err) {
				return
			}

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.JSONEq(t, `{"n":1}`, w.Body.String())
		})
	})

	t.Run("will return an EncodeBodyError", func(t *testing.T) {
		t.Run("if the body cannot be encoded", func(t *testing.T) {
			resp := NewResponse()
			resp.SetBody(func() {})

			w := httptest.NewRecorder()
			err := resp.Flush(w)

			var ee EncodeBodyError
			if !assert.ErrorAs(t, err, &ee) {
				return
			}
			assert.Equal(t, http.StatusInternalServerError, w.Code)
		})
	})

	t.Run("will copy and close the reader", func(t *testing.T) {
		t.Run("if the body is an io.ReadCloser", func(t *testing.T) {
			rc := &trackedReader{Reader: strings.NewReader("streamed")}
			resp := NewResponse()
			resp.SetBody(rc)

			w := httptest.NewRecorder()
			err := resp.Flush(w)
			if !assert.Nil(t, err) {
				return
			}

			assert.Equal(t, "streamed", w.Body.String())
			assert.True(t, rc.closed)
		})
	})

	t.Run("will keep the content type", func(t *testing.T) {
		t.Run("if it was set by a middleware", func(t *testing.T) {
			resp := NewResponse()
			resp.Header().Set("Content-Type", "text/html")
			resp.SetBody("<p>hi</p>")

			w := httptest.NewRecorder()
			err := resp.Flush(w)
			if !assert.Nil(t, err) {
				return
			}

			assert.Equal(t, "text/html", w.Header().Get("Content-Type"))
			assert.Equal(t, "9", w.Header().Get("Content-Length"))
		})
	})
}
