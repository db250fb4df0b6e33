package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rill-lang/rillsec/internal/domain/capabilities"
	"github.com/rill-lang/rillsec/internal/domain/sandbox"
	"github.com/rill-lang/rillsec/internal/domain/values"
)

func grantedCtx(t *testing.T, capType values.CapabilityType, c capabilities.Constraint) context.Context {
	t.Helper()
	sbx := sandbox.NewContext("test", "tester")
	tok := capabilities.MintToken(capType, c, "tester", "test grant")
	require.NoError(t, sbx.Grant(tok))
	return sandbox.Bind(context.Background(), sbx)
}

func Test_Shim_ReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o600))

	shim := NewShim()
	ctx := grantedCtx(t, CapFilesystemRead, capabilities.Constraint{
		ResourcePatterns:  []string{dir + "/**"},
		AllowedOperations: []string{"read"},
	})

	data, err := shim.ReadFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func Test_Shim_ReadFile_DefaultDeny(t *testing.T) {
	shim := NewShim()

	// Unbound context resolves to the default-deny sandbox.
	_, err := shim.ReadFile(context.Background(), "/tmp/anything")

	var notFound *capabilities.NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.True(t, notFound.CapabilityType.Equals(CapFilesystemRead))
}

func Test_Shim_ReadFile_PatternDenied(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o600))

	shim := NewShim()
	ctx := grantedCtx(t, CapFilesystemRead, capabilities.Constraint{
		ResourcePatterns: []string{"/some/other/place/**"},
	})

	_, err := shim.ReadFile(ctx, path)

	var violation *capabilities.Violation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, capabilities.ReasonPattern, violation.Reason)
}

func Test_Shim_ReadFile_SizeCeiling(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.txt")
	require.NoError(t, os.WriteFile(path, make([]byte, 64), 0o600))

	shim := NewShim()
	ctx := grantedCtx(t, CapFilesystemRead, capabilities.Constraint{
		ResourcePatterns: []string{dir + "/**"},
		MaxFileSize:      16,
	})

	_, err := shim.ReadFile(ctx, path)

	var violation *capabilities.Violation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, capabilities.ReasonLimit, violation.Reason)
}

func Test_Shim_WriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	shim := NewShim()
	ctx := grantedCtx(t, CapFilesystemWrite, capabilities.Constraint{
		ResourcePatterns:  []string{dir + "/**"},
		AllowedOperations: []string{"write"},
		MaxFileSize:       16,
	})

	require.NoError(t, shim.WriteFile(ctx, path, []byte("small")))

	err := shim.WriteFile(ctx, path, make([]byte, 64))
	var violation *capabilities.Violation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, capabilities.ReasonLimit, violation.Reason)
}

func Test_Shim_ReadFile_CeilingDoesNotConsumeUse(t *testing.T) {
	dir := t.TempDir()
	big := filepath.Join(dir, "big.txt")
	small := filepath.Join(dir, "small.txt")
	require.NoError(t, os.WriteFile(big, make([]byte, 64), 0o600))
	require.NoError(t, os.WriteFile(small, []byte("ok"), 0o600))

	sbx := sandbox.NewContext("test", "tester")
	tok := capabilities.MintToken(CapFilesystemRead, capabilities.Constraint{
		ResourcePatterns: []string{dir + "/**"},
		MaxFileSize:      16,
		MaxUsageCount:    1,
	}, "tester", "single read")
	require.NoError(t, sbx.Grant(tok))
	ctx := sandbox.Bind(context.Background(), sbx)

	shim := NewShim()

	_, err := shim.ReadFile(ctx, big)
	var violation *capabilities.Violation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, capabilities.ReasonLimit, violation.Reason)
	assert.Zero(t, tok.UsageCount())

	// The single use is still available for a permitted read.
	data, err := shim.ReadFile(ctx, small)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), data)
}

func Test_Shim_WriteFile_CeilingDoesNotConsumeUse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	sbx := sandbox.NewContext("test", "tester")
	tok := capabilities.MintToken(CapFilesystemWrite, capabilities.Constraint{
		ResourcePatterns: []string{dir + "/**"},
		MaxFileSize:      16,
		MaxUsageCount:    1,
	}, "tester", "single write")
	require.NoError(t, sbx.Grant(tok))
	ctx := sandbox.Bind(context.Background(), sbx)

	shim := NewShim()

	err := shim.WriteFile(ctx, path, make([]byte, 64))
	var violation *capabilities.Violation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, capabilities.ReasonLimit, violation.Reason)
	assert.Zero(t, tok.UsageCount())

	require.NoError(t, shim.WriteFile(ctx, path, []byte("small")))
}

func Test_Shim_WriteFile_OperationDenied(t *testing.T) {
	dir := t.TempDir()

	shim := NewShim()
	ctx := grantedCtx(t, CapFilesystemWrite, capabilities.Constraint{
		ResourcePatterns:  []string{dir + "/**"},
		AllowedOperations: []string{"read"},
	})

	err := shim.WriteFile(ctx, filepath.Join(dir, "out.txt"), []byte("x"))

	var violation *capabilities.Violation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, capabilities.ReasonOperation, violation.Reason)
}

func Test_Shim_OpenHost_Denied(t *testing.T) {
	shim := NewShim()
	ctx := grantedCtx(t, CapNetworkTCP, capabilities.Constraint{
		AllowedHosts: []string{"*.example.com"},
		AllowedPorts: []int{443},
	})

	_, err := shim.OpenHost(ctx, "tcp", "evil.com", 443)
	var violation *capabilities.Violation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, capabilities.ReasonHost, violation.Reason)

	_, err = shim.OpenHost(ctx, "tcp", "api.example.com", 80)
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, capabilities.ReasonPort, violation.Reason)
}

func Test_Shim_OpenHost_UnknownScheme(t *testing.T) {
	shim := NewShim()
	_, err := shim.OpenHost(context.Background(), "gopher", "example.com", 70)
	assert.ErrorContains(t, err, "unsupported scheme")
}

func Test_Shim_OpenHost_TypeSeparation(t *testing.T) {
	shim := NewShim()

	// A tcp grant does not satisfy an https dial.
	ctx := grantedCtx(t, CapNetworkTCP, capabilities.Constraint{})

	_, err := shim.OpenHost(ctx, "https", "example.com", 443)
	var notFound *capabilities.NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.True(t, notFound.CapabilityType.Equals(CapNetworkHTTPS))
}

func Test_Shim_Getenv(t *testing.T) {
	t.Setenv("RILLSEC_TEST_VAR", "value")

	shim := NewShim()
	ctx := grantedCtx(t, CapEnvRead, capabilities.Constraint{
		ResourcePatterns: []string{"RILLSEC_*"},
	})

	got, err := shim.Getenv(ctx, "RILLSEC_TEST_VAR")
	require.NoError(t, err)
	assert.Equal(t, "value", got)

	_, err = shim.Getenv(ctx, "PATH")
	var violation *capabilities.Violation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, capabilities.ReasonPattern, violation.Reason)
}

func Test_Shim_Exec_Gated(t *testing.T) {
	shim := NewShim()
	ctx := grantedCtx(t, CapProcessExec, capabilities.Constraint{
		ResourcePatterns: []string{"/usr/bin/true"},
	})

	_, err := shim.Exec(ctx, "/bin/sh", "-c", "exit 0")
	var violation *capabilities.Violation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, capabilities.ReasonPattern, violation.Reason)
}

func Test_Shim_Exec_NoArgv(t *testing.T) {
	shim := NewShim()
	_, err := shim.Exec(context.Background())
	assert.ErrorContains(t, err, "program name")
}

func Test_Shim_UsageExhaustionAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "once.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	shim := NewShim()
	ctx := grantedCtx(t, CapFilesystemRead, capabilities.Constraint{
		ResourcePatterns: []string{dir + "/**"},
		MaxUsageCount:    1,
	})

	_, err := shim.ReadFile(ctx, path)
	require.NoError(t, err)

	_, err = shim.ReadFile(ctx, path)
	var violation *capabilities.Violation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, capabilities.ReasonExhausted, violation.Reason)
	assert.True(t, violation.Permanent())
}
