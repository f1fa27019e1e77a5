// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/z5labs/relay/pathmatch"
)

// Params are the values captured from the request path by a route pattern.
type Params = pathmatch.Params

// ErrBodyUsed is returned by every body accessor after the first one.
var ErrBodyUsed = errors.New("server: request body already used")

// MaxFormMemory bounds the bytes of a multipart form kept in memory;
// the remainder of file parts is stored in temporary files.
const MaxFormMemory = 32 << 20

// UnsupportedMediaTypeError is returned by [Request.FormData] when
// the request body is not a form.
type UnsupportedMediaTypeError struct {
	ContentType string
}

// Error implements the [builtin.error] interface.
func (e UnsupportedMediaTypeError) Error() string {
	return "server: unsupported form media type: " + e.ContentType
}

type body struct {
	rc   io.ReadCloser
	used atomic.Bool
	form atomic.Pointer[multipart.Form]
}

func (b *body) take() (io.ReadCloser, error) {
	if b.used.Swap(true) {
		return nil, ErrBodyUsed
	}
	if b.rc == nil {
		return http.NoBody, nil
	}
	return b.rc, nil
}

// Request is a read-only view of an incoming HTTP request.
//
// A Request returned by [Request.WithParams] shares the underlying
// request and body with its origin, so the body can still be read
// only once across all of them.
type Request struct {
	raw    *http.Request
	body   *body
	params Params
}

// NewRequest wraps r. The body of r must not be read elsewhere afterwards.
func NewRequest(r *http.Request) *Request {
	return &Request{
		raw:  r,
		body: &body{rc: r.Body},
	}
}

// WithParams returns a view of r carrying params. r is left untouched.
func (r *Request) WithParams(params Params) *Request {
	return &Request{
		raw:    r.raw,
		body:   r.body,
		params: params,
	}
}

// Context returns the request context. It is cancelled when the client
// goes away or the dispatch completes.
func (r *Request) Context() context.Context {
	return r.raw.Context()
}

// Method returns the request method.
func (r *Request) Method() string {
	return r.raw.Method
}

// URL returns the request URL.
func (r *Request) URL() *url.URL {
	return r.raw.URL
}

// Path returns the escaped URL path, the form route patterns match against.
func (r *Request) Path() string {
	return r.raw.URL.EscapedPath()
}

// Header returns the request headers. Repeated headers keep their order.
// Callers must not modify it.
func (r *Request) Header() http.Header {
	return r.raw.Header
}

// Query returns the parsed query string. Query values and path params
// are separate namespaces.
func (r *Request) Query() url.Values {
	return r.raw.URL.Query()
}

// Param returns the path param captured for name, or "".
func (r *Request) Param(name string) string {
	return r.params[name]
}

// Params returns a copy of every captured path param.
func (r *Request) Params() Params {
	ps := make(Params, len(r.params))
	for k, v := range r.params {
		ps[k] = v
	}
	return ps
}

// Raw returns the underlying *http.Request.
func (r *Request) Raw() *http.Request {
	return r.raw
}

// Stream hands over the body for streaming. The caller must close it.
func (r *Request) Stream() (io.ReadCloser, error) {
	return r.body.take()
}

// Bytes reads the whole body.
func (r *Request) Bytes() ([]byte, error) {
	rc, err := r.body.take()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Text reads the whole body as a string.
func (r *Request) Text() (string, error) {
	b, err := r.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// JSON decodes the body into v.
func (r *Request) JSON(v any) error {
	rc, err := r.body.take()
	if err != nil {
		return err
	}
	defer rc.Close()
	return json.NewDecoder(rc).Decode(v)
}

// Form is a decoded form body. Files is only populated for
// multipart forms.
type Form struct {
	Values url.Values
	Files  map[string][]*multipart.FileHeader

	mf *multipart.Form
}

// RemoveAll deletes the temporary files backing large file parts.
// A [Server] does this once dispatch returns.
func (f *Form) RemoveAll() error {
	if f.mf == nil {
		return nil
	}
	return f.mf.RemoveAll()
}

// removeForm deletes the temporary files of a multipart form read
// from r, if any.
func (r *Request) removeForm() error {
	mf := r.body.form.Swap(nil)
	if mf == nil {
		return nil
	}
	return mf.RemoveAll()
}

// FormData decodes an application/x-www-form-urlencoded or
// multipart/form-data body.
func (r *Request) FormData() (*Form, error) {
	ct := r.raw.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return nil, UnsupportedMediaTypeError{ContentType: ct}
	}

	switch mediaType {
	case "application/x-www-form-urlencoded":
		b, err := r.Bytes()
		if err != nil {
			return nil, err
		}
		vs, err := url.ParseQuery(string(b))
		if err != nil {
			return nil, err
		}
		return &Form{Values: vs}, nil
	case "multipart/form-data":
		rc, err := r.body.take()
		if err != nil {
			return nil, err
		}
		defer rc.Close()

		mf, err := multipart.NewReader(rc, params["boundary"]).ReadForm(MaxFormMemory)
		if err != nil {
			return nil, err
		}
		r.body.form.Store(mf)
		return &Form{Values: mf.Value, Files: mf.File, mf: mf}, nil
	default:
		return nil, UnsupportedMediaTypeError{ContentType: ct}
	}
}
