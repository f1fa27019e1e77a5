// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/z5labs/relay/scope"
)

func TestRequest_Body(t *testing.T) {
	t.Run("will return ErrBodyUsed", func(t *testing.T) {
		accessors := map[string]func(*Request) error{
			"Bytes": func(r *Request) error {
				_, err := r.Bytes()
				return err
			},
			"Text": func(r *Request) error {
				_, err := r.Text()
				return err
			},
			"JSON": func(r *Request) error {
				var v any
				return r.JSON(&v)
			},
			"Stream": func(r *Request) error {
				rc, err := r.Stream()
				if err == nil {
					rc.Close()
				}
				return err
			},
			"FormData": func(r *Request) error {
				_, err := r.FormData()
				return err
			},
		}

		for name, access := range accessors {
			t.Run("if "+name+" is called after the body was read", func(t *testing.T) {
				r := httptest.NewRequest("POST", "/", strings.NewReader(`{}`))
				r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				req := NewRequest(r)

				_, err := req.Text()
				if !assert.Nil(t, err) {
					return
				}

				err = access(req)
				assert.ErrorIs(t, err, ErrBodyUsed)
			})
		}

		t.Run("if the body was read through a params view", func(t *testing.T) {
			req := NewRequest(httptest.NewRequest("POST", "/", strings.NewReader("hello")))
			view := req.WithParams(Params{"id": "1"})

			s, err := view.Text()
			if !assert.Nil(t, err) {
				return
			}
			assert.Equal(t, "hello", s)

			_, err = req.Bytes()
			assert.ErrorIs(t, err, ErrBodyUsed)
		})
	})

	t.Run("will decode the body as json", func(t *testing.T) {
		t.Run("if the body is valid json", func(t *testing.T) {
			req := NewRequest(httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"relay"}`)))

			var v struct {
				Name string `json:"name"`
			}
			err := req.JSON(&v)
			if !assert.Nil(t, err) {
				return
			}
			assert.Equal(t, "relay", v.Name)
		})
	})
}

func TestRequest_WithParams(t *testing.T) {
	t.Run("will not modify the original request", func(t *testing.T) {
		t.Run("if params are attached", func(t *testing.T) {
			req := NewRequest(httptest.NewRequest("GET", "/users/42?id=q", nil))
			view := req.WithParams(Params{"id": "42"})

			assert.Equal(t, "42", view.Param("id"))
			assert.Equal(t, "", req.Param("id"))
			assert.Equal(t, "q", view.Query().Get("id"))
			assert.Same(t, req.Raw(), view.Raw())
		})
	})

	t.Run("will return a copy of the params", func(t *testing.T) {
		t.Run("if the caller modifies them", func(t *testing.T) {
			req := NewRequest(httptest.NewRequest("GET", "/", nil)).WithParams(Params{"a": "1"})

			ps := req.Params()
			ps["a"] = "2"

			assert.Equal(t, "1", req.Param("a"))
		})
	})
}

func TestRequest_Path(t *testing.T) {
	t.Run("will return the escaped path", func(t *testing.T) {
		t.Run("if the path contains escapes", func(t *testing.T) {
			req := NewRequest(httptest.NewRequest("GET", "/users/42%20a", nil))
			assert.Equal(t, "/users/42%20a", req.Path())
		})
	})
}

func TestRequest_FormData(t *testing.T) {
	t.Run("will decode the form", func(t *testing.T) {
		t.Run("if the body is url encoded", func(t *testing.T) {
			r := httptest.NewRequest("POST", "/", strings.NewReader("a=1&a=2&b=x+y"))
			r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			form, err := NewRequest(r).FormData()
			if !assert.Nil(t, err) {
				return
			}
			assert.Equal(t, []string{"1", "2"}, form.Values["a"])
			assert.Equal(t, "x y", form.Values.Get("b"))
			assert.Nil(t, form.Files)
		})

		t.Run("if the body is multipart", func(t *testing.T) {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			require.NoError(t, mw.WriteField("name", "relay"))
			fw, err := mw.CreateFormFile("file", "a.txt")
			require.NoError(t, err)
			_, err = fw.Write([]byte("contents"))
			require.NoError(t, err)
			require.NoError(t, mw.Close())

			r := httptest.NewRequest("POST", "/", &buf)
			r.Header.Set("Content-Type", mw.FormDataContentType())

			form, err := NewRequest(r).FormData()
			if !assert.Nil(t, err) {
				return
			}
			assert.Equal(t, "relay", form.Values["name"][0])
			if !assert.Len(t, form.Files["file"], 1) {
				return
			}

			f, err := form.Files["file"][0].Open()
			if !assert.Nil(t, err) {
				return
			}
			defer f.Close()

			b, err := io.ReadAll(f)
			if !assert.Nil(t, err) {
				return
			}
			assert.Equal(t, "contents", string(b))
		})
	})

	t.Run("will remove temporary files", func(t *testing.T) {
		t.Run("if the form is removed by the caller", func(t *testing.T) {
			tmp := useTempDir(t)

			form, err := NewRequest(largeUpload(t)).FormData()
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Len(t, readDir(t, tmp), 1) {
				return
			}

			err = form.RemoveAll()
			if !assert.Nil(t, err) {
				return
			}
			assert.Empty(t, readDir(t, tmp))
		})

		t.Run("if the server finished dispatching the request", func(t *testing.T) {
			tmp := useTempDir(t)

			srv := New()
			_, err := srv.Plugin(scope.New()).Post("/upload", MiddlewareFunc(func(ctx context.Context, req *Request, resp *Response) error {
				form, err := req.FormData()
				if err != nil {
					return err
				}
				assert.Len(t, readDir(t, tmp), 1)
				return resp.SetBody(form.Files["file"][0].Filename)
			}))
			require.NoError(t, err)

			w := httptest.NewRecorder()
			srv.ServeHTTP(w, largeUpload(t))

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "large.bin", w.Body.String())
			assert.Empty(t, readDir(t, tmp))
		})
	})

	t.Run("will return an UnsupportedMediaTypeError", func(t *testing.T) {
		t.Run("if the body is not a form", func(t *testing.T) {
			r := httptest.NewRequest("POST", "/", strings.NewReader("{}"))
			r.Header.Set("Content-Type", "application/json")

			_, err := NewRequest(r).FormData()

			var ue UnsupportedMediaTypeError
			if !assert.ErrorAs(t, err, &ue) {
				return
			}
			assert.Equal(t, "application/json", ue.ContentType)
		})
	})
}

// useTempDir points multipart temporary files at a fresh directory.
func useTempDir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("TMPDIR", dir)
	return dir
}

func readDir(t *testing.T, dir string) []os.DirEntry {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return entries
}

// largeUpload returns a multipart request whose file part does not fit
// in MaxFormMemory.
func largeUpload(t *testing.T) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "large.bin")
	require.NoError(t, err)
	_, err = fw.Write(bytes.Repeat([]byte{'x'}, MaxFormMemory+1<<20))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}
