// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"slices"
)

// Map is a Source of nested values. Nested maps, of type Map or
// map[string]any, become nested keys; every other value is set as is.
type Map map[string]any

// Apply implements the Source interface. Keys are applied in sorted
// order so conflicts are reported deterministically.
func (m Map) Apply(store Store) error {
	return m.apply(store, nil)
}

func (m Map) apply(store Store, parent Key) error {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		k := append(slices.Clip(parent), name)

		var err error
		switch v := m[name].(type) {
		case Map:
			err = v.apply(store, k)
		case map[string]any:
			err = Map(v).apply(store, k)
		default:
			err = store.Set(k, v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
