// Package secrets reads API credentials from a local YAML file, the fallback
// when they are not in the environment.
package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when RADIOLENS_SECRETS_FILE is unset.
const DefaultPath = ".secrets.yaml"

// Store is an immutable key/value view of the secrets file. Nested sections
// are flattened with dots: {gemini: {api_key: x}} becomes "gemini.api_key".
type Store struct {
	values map[string]string
}

// Load reads path. A missing file yields an empty store so that a deployment
// relying only on environment variables needs no file at all.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Store{values: map[string]string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("secrets: read %s: %w", path, err)
	}

	raw := make(map[string]any)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("secrets: parse %s: %w", path, err)
	}
	values := make(map[string]string)
	flatten("", raw, values)
	return &Store{values: values}, nil
}

// FromMap builds a store from literal values.
func FromMap(values map[string]string) *Store {
	s := &Store{values: make(map[string]string, len(values))}
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

// Lookup returns the value for key and whether it was present and non-empty.
func (s *Store) Lookup(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s.values[key]
	return v, ok && v != ""
}

// Len reports how many keys the store holds.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}

func flatten(prefix string, in map[string]any, out map[string]string) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case nil:
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}
