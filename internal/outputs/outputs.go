// Package outputs finds object paths inside decoded operation payloads.
package outputs

import (
	"sort"
	"strings"
)

// Matching walks value, which is a string, slice or map as produced by
// decoding JSON or YAML, and returns every string leaf starting with prefix.
// Slices keep their order; map entries are visited in key order.
func Matching(value interface{}, prefix string) []string {
	var out []string
	switch v := value.(type) {
	case string:
		if strings.HasPrefix(v, prefix) {
			out = append(out, v)
		}
	case []interface{}:
		for _, e := range v {
			out = append(out, Matching(e, prefix)...)
		}
	case []string:
		for _, e := range v {
			out = append(out, Matching(e, prefix)...)
		}
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, Matching(v[k], prefix)...)
		}
	case map[string]string:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, Matching(v[k], prefix)...)
		}
	}
	return out
}
