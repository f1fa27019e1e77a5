// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"os"
	"strings"
)

// Env represents a Source where its underlying values
// are extracted from environment variables.
//
// Only variables starting with the configured prefix are applied.
// The remainder of the name is lowercased and split on "__" to
// form nested keys, e.g. RELAY_SERVER__PORT becomes server.port
// for the prefix "RELAY_".
type Env struct {
	prefix  string
	environ func() []string
}

// FromEnv returns a Source which will apply its config
// from the environment variables available to the
// current process.
func FromEnv(prefix string) Env {
	return Env{
		prefix:  prefix,
		environ: os.Environ,
	}
}

// Apply implements the Source interface.
func (src Env) Apply(store Store) error {
	for _, pair := range src.environ() {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		name, ok := strings.CutPrefix(k, src.prefix)
		if !ok || name == "" {
			continue
		}

		key := ParseKey(name, "__")
		if len(key) == 0 {
			continue
		}
		err := store.Set(key, v)
		if err != nil {
			return err
		}
	}
	return nil
}
