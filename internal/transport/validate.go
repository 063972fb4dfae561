package transport

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// ValidationError represents a validation error for a pipeline request
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s=%s: %s", e.Field, e.Value, e.Message)
}

// Validator collects validation errors; Err returns nil when there are none.
type Validator struct {
	errs *multierror.Error
}

func (v *Validator) add(field, value, msg string) {
	v.errs = multierror.Append(v.errs, ValidationError{Field: field, Value: value, Message: msg})
}

// Required flags an empty value.
func (v *Validator) Required(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.add(field, value, "is required")
	}
}

// Positive flags n <= 0.
func (v *Validator) Positive(field string, n int) {
	if n <= 0 {
		v.add(field, fmt.Sprintf("%d", n), "must be greater than zero")
	}
}

// NonEmpty flags an empty list.
func (v *Validator) NonEmpty(field string, values []string) {
	if len(values) == 0 {
		v.add(field, "", "at least one value is required")
	}
}

// OneOf flags a value outside choices.
func (v *Validator) OneOf(field, value string, choices ...string) {
	for _, c := range choices {
		if value == c {
			return
		}
	}
	v.add(field, value, fmt.Sprintf("must be one of %v", choices))
}

// GCSPath flags a value that is not a gs:// URL.
func (v *Validator) GCSPath(field, value string) {
	if !strings.HasPrefix(value, "gs://") || len(value) <= len("gs://") {
		v.add(field, value, "must be a Cloud Storage path (gs://bucket/...)")
	}
}

// Err returns the accumulated errors, or nil.
func (v *Validator) Err() error {
	return v.errs.ErrorOrNil()
}

// Exactly flags a list whose length is not n.
func (v *Validator) Exactly(field string, values []string, n int) {
	if len(values) != n {
		v.add(field, strings.Join(values, " "), fmt.Sprintf("exactly %d value(s) required", n))
	}
}
