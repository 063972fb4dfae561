package zones

import (
	"fmt"
	"strings"
)

// Wildcard is the trailing marker that turns a zone into a prefix pattern.
const Wildcard = "*"

// Static is the built-in reference list of Compute Engine zones.
var Static = []string{
	"asia-east1-a", "asia-east1-b", "asia-east1-c",
	"europe-west1-b", "europe-west1-c", "europe-west1-d",
	"us-central1-a", "us-central1-b", "us-central1-c", "us-central1-f",
	"us-east1-b", "us-east1-c", "us-east1-d",
	"us-west1-a", "us-west1-b",
}

// InvalidPatternError reports a wildcard that is repeated or not trailing.
type InvalidPatternError struct {
	Pattern string
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid zone pattern %q: %q is only allowed once, at the end", e.Pattern, Wildcard)
}

// Expander expands zone patterns against a fixed reference list.
type Expander struct {
	reference []string
}

// NewExpander returns an Expander over reference. The slice is copied.
func NewExpander(reference []string) *Expander {
	ref := make([]string, len(reference))
	copy(ref, reference)
	return &Expander{reference: ref}
}

// Expand replaces each pattern ending in "*" by every reference zone sharing
// its prefix, in reference order. Other entries pass through unchanged.
// Duplicates from overlapping patterns are kept.
func (e *Expander) Expand(patterns []string) []string {
	out := []string{}
	for _, p := range patterns {
		if !strings.HasSuffix(p, Wildcard) {
			out = append(out, p)
			continue
		}
		prefix := strings.TrimSuffix(p, Wildcard)
		for _, z := range e.reference {
			if strings.HasPrefix(z, prefix) {
				out = append(out, z)
			}
		}
	}
	return out
}

// ExpandStrict is Expand but rejects patterns holding more than one wildcard
// or a wildcard anywhere but the end.
func (e *Expander) ExpandStrict(patterns []string) ([]string, error) {
	for _, p := range patterns {
		if err := ValidatePattern(p); err != nil {
			return nil, err
		}
	}
	return e.Expand(patterns), nil
}

// ValidatePattern checks that p holds at most one trailing wildcard.
func ValidatePattern(p string) error {
	n := strings.Count(p, Wildcard)
	if n == 0 {
		return nil
	}
	if n > 1 || !strings.HasSuffix(p, Wildcard) {
		return &InvalidPatternError{Pattern: p}
	}
	return nil
}
