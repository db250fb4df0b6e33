package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rill-lang/rillsec/internal/domain/values"
	"github.com/rill-lang/rillsec/internal/engine"
)

const validPolicy = `
version: "1"
engine: ">= 1.0.0, < 2.0.0"
mode: strict
threshold: high
grants:
  - type: filesystem.read
    resources: ["/data/**"]
    operations: [read]
    max_uses: 100
    description: read project data
  - type: network.https
    hosts: ["*.example.com"]
    ports: [443]
`

func Test_LoadPolicy_Valid(t *testing.T) {
	policy, err := LoadPolicyFromReader(strings.NewReader(validPolicy))
	require.NoError(t, err)

	assert.Equal(t, engine.ModeStrict, policy.Mode)
	assert.True(t, policy.SeverityThreshold().Equals(values.SevHigh))
	require.Len(t, policy.Grants, 2)
	assert.Equal(t, "filesystem.read", policy.Grants[0].Type)
	assert.Equal(t, []string{"/data/**"}, policy.Grants[0].Constraint.ResourcePatterns)
	assert.Equal(t, uint64(100), policy.Grants[0].Constraint.MaxUsageCount)
	assert.Equal(t, []int{443}, policy.Grants[1].Constraint.AllowedPorts)
}

func Test_LoadPolicy_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validPolicy), 0o600))

	policy, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, engine.ModeStrict, policy.Mode)
}

func Test_LoadPolicy_SingleSegmentType(t *testing.T) {
	// The capability vocabulary is open and allows bare domain names, so
	// the schema must accept them too.
	doc := `
mode: strict
grants:
  - type: exec
    resources: ["/usr/bin/jq"]
`
	policy, err := LoadPolicyFromReader(strings.NewReader(doc))
	require.NoError(t, err)

	require.Len(t, policy.Grants, 1)
	assert.Equal(t, "exec", policy.Grants[0].Type)

	tokens, err := policy.MintGrants("policy-loader")
	require.NoError(t, err)
	assert.Equal(t, "exec", tokens[0].Type().String())
}

func Test_LoadPolicy_SchemaRejectsUnknownField(t *testing.T) {
	doc := `
mode: strict
surprise: true
`
	_, err := LoadPolicyFromReader(strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation failed")
}

func Test_LoadPolicy_SchemaRejectsBadMode(t *testing.T) {
	doc := `
mode: lenient
`
	_, err := LoadPolicyFromReader(strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation failed")
}

func Test_LoadPolicy_SchemaRejectsBadPort(t *testing.T) {
	doc := `
mode: strict
grants:
  - type: network.tcp
    ports: [70000]
`
	_, err := LoadPolicyFromReader(strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation failed")
}

func Test_LoadPolicy_RejectsBadEngineRange(t *testing.T) {
	doc := `
mode: strict
engine: "not a range"
`
	_, err := LoadPolicyFromReader(strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine constraint")
}

func Test_LoadPolicy_MalformedYAML(t *testing.T) {
	_, err := LoadPolicyFromReader(strings.NewReader("mode: [strict"))
	assert.Error(t, err)
}

func Test_Policy_EngineSupported(t *testing.T) {
	policy := &Policy{Engine: ">= 1.2.0, < 2.0.0"}

	ok, err := policy.EngineSupported("1.3.5")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = policy.EngineSupported("2.0.0")
	require.NoError(t, err)
	assert.False(t, ok)

	// Empty range accepts anything.
	open := &Policy{}
	ok, err = open.EngineSupported("0.0.1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func Test_Policy_ThresholdDefault(t *testing.T) {
	policy := &Policy{}
	assert.True(t, policy.SeverityThreshold().Equals(values.SevHigh))

	policy.Threshold = "critical"
	assert.True(t, policy.SeverityThreshold().Equals(values.SevCritical))
}

func Test_Policy_MintGrants(t *testing.T) {
	policy, err := LoadPolicyFromReader(strings.NewReader(validPolicy))
	require.NoError(t, err)

	tokens, err := policy.MintGrants("policy-loader")
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, "filesystem.read", tokens[0].Type().String())
	assert.Equal(t, "policy-loader", tokens[0].CreatedBy())
}

func Test_Policy_MintGrants_RejectsExpired(t *testing.T) {
	doc := `
mode: strict
grants:
  - type: filesystem.read
    resources: ["/data/**"]
    expires_at: "2020-01-01T00:00:00Z"
`
	policy, err := LoadPolicyFromReader(strings.NewReader(doc))
	require.NoError(t, err)

	_, err = policy.MintGrants("policy-loader")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func Test_LoadPolicy_DurationAndExpiry(t *testing.T) {
	doc := `
mode: permissive
grants:
  - type: process.exec
    resources: ["/usr/bin/git"]
    max_cpu_time: 30s
    expires_at: "2099-01-01T00:00:00Z"
`
	policy, err := LoadPolicyFromReader(strings.NewReader(doc))
	require.NoError(t, err)

	require.Len(t, policy.Grants, 1)
	assert.Equal(t, 30*time.Second, policy.Grants[0].Constraint.MaxCPUTime)
	assert.Equal(t, 2099, policy.Grants[0].Constraint.ExpiresAt.Year())
}
