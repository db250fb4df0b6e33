package values

import (
	"fmt"
	"strings"
)

// Weakness is a stable classification code for the vulnerability class of
// a finding ("CWE-95", "CWE-798"). Codes survive rule renames so downstream
// tooling can suppress or track by class rather than by rule.
type Weakness struct {
	value string
}

// NewWeakness creates a Weakness with validation.
// Accepted form: "CWE-<digits>".
func NewWeakness(s string) (Weakness, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Weakness{}, fmt.Errorf("weakness code cannot be empty")
	}
	rest, ok := strings.CutPrefix(s, "CWE-")
	if !ok || rest == "" {
		return Weakness{}, fmt.Errorf("invalid weakness code: %s", s)
	}
	for _, ch := range rest {
		if ch < '0' || ch > '9' {
			return Weakness{}, fmt.Errorf("invalid weakness code: %s", s)
		}
	}
	return Weakness{value: s}, nil
}

// MustNewWeakness creates a Weakness or panics (for tests/constants)
func MustNewWeakness(s string) Weakness {
	w, err := NewWeakness(s)
	if err != nil {
		panic(err)
	}
	return w
}

// String returns the string representation
func (w Weakness) String() string {
	return w.value
}

// IsEmpty returns true if this is the zero value
func (w Weakness) IsEmpty() bool {
	return w.value == ""
}

// Equals checks if two Weakness codes are equal
func (w Weakness) Equals(other Weakness) bool {
	return w.value == other.value
}

// MarshalJSON implements json.Marshaler
func (w Weakness) MarshalJSON() ([]byte, error) {
	return []byte(`"` + w.value + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (w *Weakness) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) < 2 {
		return fmt.Errorf("invalid weakness JSON")
	}
	s = s[1 : len(s)-1]

	parsed, err := NewWeakness(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}
