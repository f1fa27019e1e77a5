// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"strings"
)

// Key is the path to a value, outermost name first.
type Key []string

// ParseKey splits s on sep, dropping empty names, e.g.
// ParseKey("server__port", "__") is Key{"server", "port"}.
func ParseKey(s, sep string) Key {
	var k Key
	for _, name := range strings.Split(s, sep) {
		if name != "" {
			k = append(k, name)
		}
	}
	return k
}

// String joins the names of k with periods.
func (k Key) String() string {
	return strings.Join(k, ".")
}

// EmptyKeyError is returned when a value is set without a key.
type EmptyKeyError struct {
	Value any
}

// Error implements the error interface.
func (e EmptyKeyError) Error() string {
	return "config: value set with an empty key"
}

// KeyConflictError is returned when a source nests a value under a key
// which already holds a scalar.
type KeyConflictError struct {
	Key string
}

// Error implements the error interface.
func (e KeyConflictError) Error() string {
	return "config: cannot nest values under scalar key: " + e.Key
}

// Values is the merged tree of every applied [Source]. Names are
// lowercased so sources disagreeing on case, e.g. YAML "maxPort" and
// env "MAXPORT", set the same value.
type Values struct {
	tree map[string]any
}

// Set implements the [Store] interface. A scalar replaces whatever was
// at k, including a nested tree.
func (vs *Values) Set(k Key, v any) error {
	if len(k) == 0 {
		return EmptyKeyError{Value: v}
	}

	node := vs.tree
	for i, name := range k[:len(k)-1] {
		name = strings.ToLower(name)
		next, ok := node[name]
		if !ok {
			child := make(map[string]any)
			node[name] = child
			node = child
			continue
		}

		child, ok := next.(map[string]any)
		if !ok {
			return KeyConflictError{Key: k[:i+1].String()}
		}
		node = child
	}
	node[strings.ToLower(k[len(k)-1])] = v
	return nil
}
