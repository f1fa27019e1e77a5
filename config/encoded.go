// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"encoding/json"
	"io"

	"github.com/z5labs/relay/internal/try"

	"gopkg.in/yaml.v3"
)

// Format names an encoding a [Source] can be read from.
type Format string

const (
	FormatJson Format = "json"
	FormatYaml Format = "yaml"
)

// DecodeError is returned when a source's bytes are not a valid
// document in its [Format].
type DecodeError struct {
	Format Format
	Cause  error
}

// Error implements the error interface.
func (e DecodeError) Error() string {
	return "invalid " + string(e.Format) + ": " + e.Cause.Error()
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e DecodeError) Unwrap() error {
	return e.Cause
}

// Encoded is a [Source] whose values are decoded from a reader as a
// single JSON or YAML object. The reader is closed after Apply when it
// implements io.Closer.
type Encoded struct {
	format    Format
	r         io.Reader
	unmarshal func([]byte, any) error
}

// FromJson reads a JSON object from r.
func FromJson(r io.Reader) Encoded {
	return Encoded{format: FormatJson, r: r, unmarshal: json.Unmarshal}
}

// FromYaml reads a YAML mapping from r.
func FromYaml(r io.Reader) Encoded {
	return Encoded{format: FormatYaml, r: r, unmarshal: yaml.Unmarshal}
}

// Apply implements the Source interface.
func (src Encoded) Apply(store Store) (err error) {
	defer try.Close(&err, src.r)

	b, err := io.ReadAll(src.r)
	if err != nil {
		return err
	}

	var m map[string]any
	err = src.unmarshal(b, &m)
	if err != nil {
		return DecodeError{Format: src.format, Cause: err}
	}
	return Map(m).Apply(store)
}
