// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"net/http"
	"strings"
)

// Method is an HTTP method a route can be registered for.
type Method string

const (
	MethodGet    Method = http.MethodGet
	MethodHead   Method = http.MethodHead
	MethodPost   Method = http.MethodPost
	MethodPut    Method = http.MethodPut
	MethodPatch  Method = http.MethodPatch
	MethodDelete Method = http.MethodDelete

	// MethodAny matches every request method.
	MethodAny Method = "*"
)

// Valid reports whether m is one of the methods routes can be registered for.
func (m Method) Valid() bool {
	switch m {
	case MethodGet, MethodHead, MethodPost, MethodPut, MethodPatch, MethodDelete, MethodAny:
		return true
	default:
		return false
	}
}

// accepts reports whether a route registered for m handles a request
// with the given method.
func (m Method) accepts(method string) bool {
	return m == MethodAny || string(m) == method
}

// UnmarshalText implements [encoding.TextUnmarshaler] so methods can be
// read from config. Names are case-insensitive.
func (m *Method) UnmarshalText(b []byte) error {
	method := Method(strings.ToUpper(strings.TrimSpace(string(b))))
	if !method.Valid() {
		return InvalidMethodError{Method: method}
	}
	*m = method
	return nil
}
