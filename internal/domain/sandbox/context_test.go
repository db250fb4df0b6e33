package sandbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rill-lang/rillsec/internal/domain/capabilities"
	"github.com/rill-lang/rillsec/internal/domain/values"
)

func fileRead(t *testing.T, patterns ...string) *capabilities.Token {
	t.Helper()
	return capabilities.MintToken(
		values.MustNewCapabilityType("file.read"),
		capabilities.Constraint{ResourcePatterns: patterns},
		"test", "",
	)
}

func Test_Context_GrantAndLookup(t *testing.T) {
	ctx := NewContext("session", "operator")
	tok := fileRead(t, "/data/*")

	require.NoError(t, ctx.Grant(tok))

	got, ok := ctx.Capability(values.MustNewCapabilityType("file.read"))
	require.True(t, ok)
	assert.Equal(t, tok.ID(), got.ID())

	_, ok = ctx.Capability(values.MustNewCapabilityType("network.https"))
	assert.False(t, ok)
}

func Test_Context_GrantReplacesByType(t *testing.T) {
	ctx := NewContext("session", "operator")
	first := fileRead(t, "/data/*")
	second := fileRead(t, "/tmp/*")

	require.NoError(t, ctx.Grant(first))
	require.NoError(t, ctx.Grant(second))

	got, ok := ctx.Capability(values.MustNewCapabilityType("file.read"))
	require.True(t, ok)
	assert.Equal(t, second.ID(), got.ID(), "re-adding a type replaces the token")
}

func Test_Context_GrantRejectsInvalidToken(t *testing.T) {
	ctx := NewContext("session", "operator")
	expired := capabilities.MintToken(
		values.MustNewCapabilityType("file.read"),
		capabilities.Constraint{ExpiresAt: time.Now().Add(-time.Hour)},
		"test", "",
	)

	assert.Error(t, ctx.Grant(expired))
	assert.False(t, ctx.Has(values.MustNewCapabilityType("file.read"), false))
}

func Test_Context_EvictsInvalidOnLookup(t *testing.T) {
	ctx := NewContext("session", "operator")
	tok := capabilities.MintToken(
		values.MustNewCapabilityType("file.read"),
		capabilities.Constraint{MaxUsageCount: 1},
		"test", "",
	)
	require.NoError(t, ctx.Grant(tok))

	// Exhaust the token after granting; the next lookup notices and evicts.
	require.NoError(t, tok.Use("/a", "read"))

	_, ok := ctx.Capability(values.MustNewCapabilityType("file.read"))
	assert.False(t, ok)

	// Eviction is permanent for this grant.
	_, ok = ctx.Capability(values.MustNewCapabilityType("file.read"))
	assert.False(t, ok)
}

func Test_Context_ReadThroughInheritance(t *testing.T) {
	capType := values.MustNewCapabilityType("file.read")

	parent := NewContext("parent", "operator")
	child := parent.NewChild("child")
	tok := fileRead(t, "/data/*")
	require.NoError(t, parent.Grant(tok))

	// Child sees the parent's token without holding a copy.
	got, ok := child.CapabilityInChain(capType)
	require.True(t, ok)
	assert.Equal(t, tok.ID(), got.ID())
	assert.True(t, child.Has(capType, true))
	assert.False(t, child.Has(capType, false))

	// Parent revocation is immediately visible to the child.
	assert.True(t, parent.Revoke(capType))
	assert.False(t, child.Has(capType, true))
}

func Test_Context_ChildOverrideDoesNotLeak(t *testing.T) {
	capType := values.MustNewCapabilityType("file.read")

	parent := NewContext("parent", "operator")
	childA := parent.NewChild("a")
	childB := parent.NewChild("b")

	parentTok := fileRead(t, "/data/*")
	override := fileRead(t, "/tmp/*")
	require.NoError(t, parent.Grant(parentTok))
	require.NoError(t, childA.Grant(override))

	gotA, _ := childA.CapabilityInChain(capType)
	gotB, _ := childB.CapabilityInChain(capType)
	gotP, _ := parent.CapabilityInChain(capType)

	assert.Equal(t, override.ID(), gotA.ID())
	assert.Equal(t, parentTok.ID(), gotB.ID(), "sibling unaffected by override")
	assert.Equal(t, parentTok.ID(), gotP.ID(), "parent unaffected by override")

	// Revoking the override falls through to the parent again.
	childA.Revoke(capType)
	gotA, _ = childA.CapabilityInChain(capType)
	assert.Equal(t, parentTok.ID(), gotA.ID())
}

func Test_Context_Require_NotFound(t *testing.T) {
	ctx := NewContext("session", "operator")

	_, err := ctx.Require(values.MustNewCapabilityType("network.https"))
	require.Error(t, err)

	var notFound *capabilities.NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "network.https", notFound.CapabilityType.String())
	assert.Equal(t, "session", notFound.ContextName)
}

func Test_Context_WithTemporary(t *testing.T) {
	capType := values.MustNewCapabilityType("file.read")
	ctx := NewContext("session", "operator")

	err := ctx.WithTemporary(fileRead(t, "/data/*"), func() error {
		assert.True(t, ctx.Has(capType, false))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ctx.Has(capType, false), "removed on normal exit")

	wantErr := errors.New("boom")
	err = ctx.WithTemporary(fileRead(t, "/data/*"), func() error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.False(t, ctx.Has(capType, false), "removed on error exit")

	assert.Panics(t, func() {
		_ = ctx.WithTemporary(fileRead(t, "/data/*"), func() error {
			panic("boom")
		})
	})
	assert.False(t, ctx.Has(capType, false), "removed on panic exit")
}

func Test_Context_ConcurrentChainUse(t *testing.T) {
	capType := values.MustNewCapabilityType("file.read")

	parent := NewContext("parent", "operator")
	tok := capabilities.MintToken(capType, capabilities.Constraint{MaxUsageCount: 1}, "test", "")
	require.NoError(t, parent.Grant(tok))

	// Two children share the parent's token through inheritance; only one
	// concurrent use may succeed.
	childA := parent.NewChild("a")
	childB := parent.NewChild("b")

	var successes atomic.Int64
	var wg sync.WaitGroup
	for _, ctx := range []*Context{childA, childB} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got, ok := ctx.CapabilityInChain(capType); ok {
				if err := got.Use("/data/a.txt", "read"); err == nil {
					successes.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), successes.Load())
}

func Test_Binding(t *testing.T) {
	sbx := NewContext("session", "operator")

	ctx := Bind(context.Background(), sbx)
	assert.True(t, IsBound(ctx))
	assert.Equal(t, sbx, FromContext(ctx))

	// Unbound chains resolve to a default-deny context.
	unbound := context.Background()
	assert.False(t, IsBound(unbound))
	deny := FromContext(unbound)
	require.NotNil(t, deny)
	assert.False(t, deny.Has(values.MustNewCapabilityType("file.read"), true))
}
