// Package values contains domain value objects that encapsulate
// primitive types with validation and such.
package values

import (
	"fmt"
	"strings"
)

// CapabilityType names one class of effect a sandboxed program may be
// granted, as a dotted identifier ("file.read", "network.https", "exec").
// The vocabulary is open: the gate only requires that the grant and the
// call site agree on the string.
type CapabilityType struct {
	value string
}

// NewCapabilityType creates a CapabilityType with validation.
// Identifiers must be non-empty dotted segments of lowercase
// letters, digits, hyphen and underscore.
func NewCapabilityType(s string) (CapabilityType, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CapabilityType{}, fmt.Errorf("capability type cannot be empty")
	}
	for _, seg := range strings.Split(s, ".") {
		if seg == "" {
			return CapabilityType{}, fmt.Errorf("capability type %q has an empty segment", s)
		}
		for _, ch := range seg {
			ok := (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') || ch == '-' || ch == '_'
			if !ok {
				return CapabilityType{}, fmt.Errorf("capability type %q contains invalid character %q", s, ch)
			}
		}
	}
	return CapabilityType{value: s}, nil
}

// MustNewCapabilityType creates a CapabilityType or panics (for tests/constants)
func MustNewCapabilityType(s string) CapabilityType {
	ct, err := NewCapabilityType(s)
	if err != nil {
		panic(err)
	}
	return ct
}

// String returns the string representation
func (c CapabilityType) String() string {
	return c.value
}

// Domain returns the first dotted segment ("file.read" -> "file").
// Used for grouping grants when presenting them to an operator.
func (c CapabilityType) Domain() string {
	if i := strings.IndexByte(c.value, '.'); i >= 0 {
		return c.value[:i]
	}
	return c.value
}

// IsEmpty returns true if this is the zero value
func (c CapabilityType) IsEmpty() bool {
	return c.value == ""
}

// Equals checks if two CapabilityTypes are equal
func (c CapabilityType) Equals(other CapabilityType) bool {
	return c.value == other.value
}

// MarshalJSON implements json.Marshaler
func (c CapabilityType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.value + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (c *CapabilityType) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) < 2 {
		return fmt.Errorf("invalid capability type JSON")
	}
	s = s[1 : len(s)-1]

	ct, err := NewCapabilityType(s)
	if err != nil {
		return err
	}
	*c = ct
	return nil
}
