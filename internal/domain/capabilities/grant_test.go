package capabilities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_GrantSpec_Mint(t *testing.T) {
	spec := GrantSpec{
		Type:        "file.read",
		Constraint:  Constraint{ResourcePatterns: []string{"/data/*"}},
		Description: "data directory access",
	}

	tok, err := spec.Mint("operator")
	require.NoError(t, err)
	assert.Equal(t, "file.read", tok.Type().String())
	assert.Equal(t, "operator", tok.CreatedBy())
	assert.True(t, tok.Valid(time.Now()))
}

func Test_GrantSpec_Mint_Invalid(t *testing.T) {
	tests := []struct {
		name string
		spec GrantSpec
	}{
		{
			name: "bad capability type",
			spec: GrantSpec{Type: "File Read"},
		},
		{
			name: "already expired",
			spec: GrantSpec{
				Type:       "file.read",
				Constraint: Constraint{ExpiresAt: time.Now().Add(-time.Hour)},
			},
		},
		{
			name: "port out of range",
			spec: GrantSpec{
				Type:       "network.tcp",
				Constraint: Constraint{AllowedPorts: []int{70000}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.spec.Mint("operator")
			assert.Error(t, err)
		})
	}
}

func Test_GrantSet_AddContainsRemove(t *testing.T) {
	a := GrantSpec{Type: "file.read", Constraint: Constraint{ResourcePatterns: []string{"/data/*"}}}
	b := GrantSpec{Type: "network.https", Constraint: Constraint{AllowedHosts: []string{"api.example.com"}}}

	set := NewGrantSet()
	set.Add(a)
	set.Add(a) // duplicate ignored
	set.Add(b)

	assert.Len(t, set, 2)
	assert.True(t, set.Contains(a))

	set.Remove(a)
	assert.False(t, set.Contains(a))
	assert.True(t, set.Contains(b))
}

func Test_GrantSet_Missing(t *testing.T) {
	a := GrantSpec{Type: "file.read", Constraint: Constraint{ResourcePatterns: []string{"/data/*"}}}
	b := GrantSpec{Type: "exec", Constraint: Constraint{ResourcePatterns: []string{"/usr/bin/jq"}}}

	required := GrantSet{a, b}
	granted := GrantSet{a}

	missing := required.Missing(granted)
	require.Len(t, missing, 1)
	assert.Equal(t, "exec", missing[0].Type)
}

func Test_GrantSpec_Risk(t *testing.T) {
	tests := []struct {
		name     string
		spec     GrantSpec
		broad    bool
		expected RiskLevel
	}{
		{
			name:     "narrow file read",
			spec:     GrantSpec{Type: "file.read", Constraint: Constraint{ResourcePatterns: []string{"/data/*.csv"}}},
			broad:    false,
			expected: RiskLevelLow,
		},
		{
			name:     "recursive root",
			spec:     GrantSpec{Type: "file.read", Constraint: Constraint{ResourcePatterns: []string{"/**"}}},
			broad:    true,
			expected: RiskLevelHigh,
		},
		{
			name:     "unrestricted file grant",
			spec:     GrantSpec{Type: "file.write"},
			broad:    true,
			expected: RiskLevelHigh,
		},
		{
			name:     "etc read",
			spec:     GrantSpec{Type: "file.read", Constraint: Constraint{ResourcePatterns: []string{"/etc/hosts"}}},
			broad:    false,
			expected: RiskLevelMedium,
		},
		{
			name:     "shell execution",
			spec:     GrantSpec{Type: "exec", Constraint: Constraint{ResourcePatterns: []string{"/bin/sh"}}},
			broad:    true,
			expected: RiskLevelHigh,
		},
		{
			name:     "specific binary",
			spec:     GrantSpec{Type: "exec", Constraint: Constraint{ResourcePatterns: []string{"/usr/bin/jq"}}},
			broad:    false,
			expected: RiskLevelMedium,
		},
		{
			name:     "scoped network",
			spec:     GrantSpec{Type: "network.https", Constraint: Constraint{AllowedHosts: []string{"api.example.com"}}},
			broad:    false,
			expected: RiskLevelMedium,
		},
		{
			name:     "any host",
			spec:     GrantSpec{Type: "network.https", Constraint: Constraint{AllowedHosts: []string{"*"}}},
			broad:    true,
			expected: RiskLevelHigh,
		},
		// The shim's own vocabulary must classify exactly like the short
		// spellings above.
		{
			name:     "filesystem recursive root",
			spec:     GrantSpec{Type: "filesystem.read", Constraint: Constraint{ResourcePatterns: []string{"/**"}}},
			broad:    true,
			expected: RiskLevelHigh,
		},
		{
			name:     "filesystem narrow read",
			spec:     GrantSpec{Type: "filesystem.read", Constraint: Constraint{ResourcePatterns: []string{"/data/*.csv"}}},
			broad:    false,
			expected: RiskLevelLow,
		},
		{
			name:     "process shell execution",
			spec:     GrantSpec{Type: "process.exec", Constraint: Constraint{ResourcePatterns: []string{"/bin/sh"}}},
			broad:    true,
			expected: RiskLevelHigh,
		},
		{
			name:     "process specific binary",
			spec:     GrantSpec{Type: "process.exec", Constraint: Constraint{ResourcePatterns: []string{"/usr/bin/jq"}}},
			broad:    false,
			expected: RiskLevelMedium,
		},
		{
			name:     "unrestricted env read",
			spec:     GrantSpec{Type: "env.read"},
			broad:    true,
			expected: RiskLevelHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.broad, tt.spec.IsBroad())
			assert.Equal(t, tt.expected, tt.spec.Risk())
			assert.NotEmpty(t, tt.spec.RiskDescription())
		})
	}
}
