// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package slogfield provides consistently named slog attributes.
package slogfield

import (
	"log/slog"
	"time"
)

// Any returns an slog.Attr for the supplied value.
func Any(key string, value any) slog.Attr {
	return slog.Any(key, value)
}

// Bool returns an slog.Attr for a bool.
func Bool(key string, value bool) slog.Attr {
	return slog.Bool(key, value)
}

// Duration returns an slog.Attr for a time.Duration.
func Duration(key string, d time.Duration) slog.Attr {
	return slog.Duration(key, d)
}

// Error returns an slog.Attr for a error.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// String returns an slog.Attr for a string.
func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

// Strings returns an slog.Attr for a slice of strings.
func Strings(key string, values []string) slog.Attr {
	return slog.Any(key, values)
}

// Int returns an slog.Attr for a int.
func Int(key string, n int) slog.Attr {
	return slog.Int(key, n)
}

// Uint32 returns an slog.Attr for a uint32.
func Uint32(key string, n uint32) slog.Attr {
	return slog.Uint64(key, uint64(n))
}

// Method returns the slog.Attr used for HTTP methods.
func Method(method string) slog.Attr {
	return slog.String("http_method", method)
}

// Path returns the slog.Attr used for URL paths.
func Path(path string) slog.Attr {
	return slog.String("http_path", path)
}

// Pattern returns the slog.Attr used for route patterns.
func Pattern(pattern string) slog.Attr {
	return slog.String("route_pattern", pattern)
}

// StatusCode returns the slog.Attr used for HTTP status codes.
func StatusCode(code int) slog.Attr {
	return slog.Int("http_status_code", code)
}
