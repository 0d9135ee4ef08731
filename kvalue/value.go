// Package kvalue is the value model shared by every DAG entity.
//
// A Value has a closed, ordered set of fields fixed at construction time.
// Values are never mutated after construction, which makes them safe to share
// between goroutines. Equality and hashing are structural: two values of the
// same type are equal iff all of their fields are equal, and ordered sequences
// are compared and hashed by their elements rather than by identity.
package kvalue

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Field is a single named field of a Value.
type Field struct {
	Name  string
	Value any
}

// Value is implemented by immutable, structurally comparable entities.
type Value interface {
	// TypeName identifies the concrete schema of the value.
	TypeName() string
	// Fields returns all declared fields in declaration order. Absent
	// optional fields are reported with a nil Value.
	Fields() []Field
}

// Hasher is implemented by Values that cache the result of HashFields. Equal
// and Hash use the cached hash instead of walking the fields again.
type Hasher interface {
	Value
	StructuralHash() uint64
}

// Sentinel errors wrapped by ValidationError.
var (
	ErrUnknownField = errors.New("unknown field")
	ErrInvalidField = errors.New("invalid field value")
)

// ValidationError is returned when a value cannot be constructed from the
// given fields. Field names the offending field.
type ValidationError struct {
	Type  string
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Type, e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Invalid builds a ValidationError wrapping ErrInvalidField.
func Invalid(typeName, field string, format string, args ...any) *ValidationError {
	return &ValidationError{
		Type:  typeName,
		Field: field,
		Err:   fmt.Errorf("%w: %s", ErrInvalidField, fmt.Sprintf(format, args...)),
	}
}

// CheckFields rejects any key of given that is not in allowed. The first
// unknown field in sorted order is reported so errors are deterministic.
func CheckFields(typeName string, allowed []string, given map[string]any) error {
	known := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		known[name] = struct{}{}
	}

	var unknown []string
	for name := range given {
		if _, ok := known[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return &ValidationError{
		Type:  typeName,
		Field: unknown[0],
		Err:   fmt.Errorf("%w (allowed: %s)", ErrUnknownField, strings.Join(allowed, ", ")),
	}
}
