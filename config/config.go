// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package config provides layered configuration sources which are
// merged into a single tree of values and decoded into user types.
//
// Struct fields are matched with the "config" tag, case-insensitively.
// Besides the usual weak conversions, strings decode into
// [time.Duration], into any [encoding.TextUnmarshaler] (for example
// [log/slog.Level] or a route method) and, split on commas, into slices.
package config

import (
	"slices"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// Store receives the values of a [Source].
type Store interface {
	Set(Key, any) error
}

// Source applies its values to a [Store].
type Source interface {
	Apply(Store) error
}

// Read applies every [Source] in order to a fresh [Values].
// Later sources override earlier ones.
func Read(srcs ...Source) (*Values, error) {
	vs := &Values{tree: make(map[string]any)}
	for _, src := range srcs {
		err := src.Apply(vs)
		if err != nil {
			return nil, err
		}
	}
	return vs, nil
}

type decodeOptions struct {
	strict bool
}

// DecodeOption configures [Values.Decode].
type DecodeOption func(*decodeOptions)

// Strict makes [Values.Decode] fail with an [UnknownKeysError] when a
// value has no field to decode into.
func Strict() DecodeOption {
	return func(o *decodeOptions) {
		o.strict = true
	}
}

// UnknownKeysError lists the keys a strict decode found no field for.
type UnknownKeysError struct {
	Keys []string
}

// Error implements the error interface.
func (e UnknownKeysError) Error() string {
	return "config: unknown keys: " + strings.Join(e.Keys, ", ")
}

// Decode decodes the merged values into v, which must be a pointer.
func (vs *Values) Decode(v any, opts ...DecodeOption) error {
	o := &decodeOptions{}
	for _, opt := range opts {
		opt(o)
	}

	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "config",
		Result:           v,
		Metadata:         &md,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.TextUnmarshallerHookFunc(),
		),
	})
	if err != nil {
		return err
	}

	err = dec.Decode(vs.tree)
	if err != nil {
		return err
	}
	if o.strict && len(md.Unused) > 0 {
		keys := slices.Clone(md.Unused)
		slices.Sort(keys)
		return UnknownKeysError{Keys: keys}
	}
	return nil
}
