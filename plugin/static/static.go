// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package static serves files from an fs.FS ahead of route matching.
package static

import (
	"context"
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/z5labs/relay/hook"
	"github.com/z5labs/relay/server"
)

// Config
type Config struct {
	Prefix string `config:"prefix"`
	Dir    string `config:"dir"`
}

type options struct {
	index  string
	append bool
}

// Option
type Option func(*options)

// Index sets the file served for directories. The default is index.html.
func Index(name string) Option {
	return func(o *options) {
		o.index = name
	}
}

// AfterRoutes serves files only for paths no route matched, instead of
// ahead of every route.
func AfterRoutes() Option {
	return func(o *options) {
		o.append = true
	}
}

// Register serves GET and HEAD requests under prefix from fsys.
// Requests for missing files are passed on unchanged.
func Register(p *server.Registrar, prefix string, fsys fs.FS, opts ...Option) error {
	o := &options{index: "index.html"}
	for _, opt := range opts {
		opt(o)
	}

	h := &handler{
		prefix: strings.TrimSuffix(prefix, "/"),
		fsys:   fsys,
		index:  o.index,
	}
	if o.append {
		return p.OnRequest(h.serve)
	}
	return p.OnRequest(h.serve, hook.Prepend())
}

type handler struct {
	prefix string
	fsys   fs.FS
	index  string
}

func (h *handler) serve(ctx context.Context, req *server.Request, resp *server.Response, next server.Next) error {
	if req.Method() != http.MethodGet && req.Method() != http.MethodHead {
		return next(ctx)
	}

	name, ok := h.resolve(req.Path())
	if !ok {
		return next(ctx)
	}

	f, info, err := h.open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return next(ctx)
	}
	if err != nil {
		return err
	}

	header := resp.Header()
	if ct := mime.TypeByExtension(path.Ext(info.Name())); ct != "" {
		header.Set("Content-Type", ct)
	}
	header.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	header.Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))

	resp.SetStatus(http.StatusOK)
	return resp.SetBody(f)
}

// resolve maps an escaped request path to a file name in fsys.
func (h *handler) resolve(p string) (string, bool) {
	rel, ok := strings.CutPrefix(p, h.prefix)
	if !ok || (rel != "" && !strings.HasPrefix(rel, "/")) {
		return "", false
	}

	rel, err := url.PathUnescape(rel)
	if err != nil {
		return "", false
	}

	name := strings.TrimPrefix(path.Clean("/"+rel), "/")
	if name == "" {
		name = "."
	}
	if !fs.ValidPath(name) {
		return "", false
	}
	return name, true
}

func (h *handler) open(name string) (fs.File, fs.FileInfo, error) {
	info, err := fs.Stat(h.fsys, name)
	if err != nil {
		return nil, nil, err
	}
	if info.IsDir() {
		name = path.Join(name, h.index)
		info, err = fs.Stat(h.fsys, name)
		if err != nil {
			return nil, nil, err
		}
		if info.IsDir() {
			return nil, nil, fs.ErrNotExist
		}
	}

	f, err := h.fsys.Open(name)
	if err != nil {
		return nil, nil, err
	}
	return f, info, nil
}
