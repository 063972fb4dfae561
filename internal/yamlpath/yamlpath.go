// Package yamlpath extracts values from YAML documents by dotted path, e.g.
// "metadata.createTime" from a described operation.
package yamlpath

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a path element does not exist.
var ErrNotFound = errors.New("field not found")

// Lookup parses doc and walks path. Map keys are matched exactly; a numeric
// element indexes into a list.
func Lookup(doc []byte, path string) (interface{}, error) {
	var data interface{}
	if err := yaml.Unmarshal(doc, &data); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if path == "" {
		return data, nil
	}
	curr := data
	for _, key := range strings.Split(path, ".") {
		switch v := curr.(type) {
		case map[string]interface{}:
			next, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
			}
			curr = next
		case []interface{}:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(v) {
				return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
			}
			curr = v[i]
		default:
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
	}
	return curr, nil
}

// Format renders a looked-up value: scalars as plain text, collections as YAML.
func Format(v interface{}) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case map[string]interface{}, []interface{}:
		out, err := yaml.Marshal(t)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(out), "\n"), nil
	default:
		return fmt.Sprint(t), nil
	}
}
