package capabilities

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rill-lang/rillsec/internal/domain/values"
)

func mintTestToken(t *testing.T, capType string, c Constraint) *Token {
	t.Helper()
	return MintToken(values.MustNewCapabilityType(capType), c, "test", "test token")
}

func Test_Token_Use_Success(t *testing.T) {
	tok := mintTestToken(t, "file.read", Constraint{
		ResourcePatterns:  []string{"/data/*"},
		AllowedOperations: []string{"read"},
	})

	require.NoError(t, tok.Use("/data/a.txt", "read"))
	assert.Equal(t, uint64(1), tok.UsageCount())
	assert.False(t, tok.LastUsedAt().IsZero())
}

func Test_Token_Use_Violations(t *testing.T) {
	tests := []struct {
		name       string
		constraint Constraint
		resource   string
		op         string
		reason     Reason
	}{
		{
			name:       "pattern mismatch",
			constraint: Constraint{ResourcePatterns: []string{"/data/*"}},
			resource:   "/etc/passwd",
			op:         "read",
			reason:     ReasonPattern,
		},
		{
			name:       "operation mismatch",
			constraint: Constraint{AllowedOperations: []string{"read"}},
			resource:   "/data/a.txt",
			op:         "write",
			reason:     ReasonOperation,
		},
		{
			name:       "expired",
			constraint: Constraint{ExpiresAt: time.Now().Add(-time.Hour)},
			resource:   "/data/a.txt",
			op:         "read",
			reason:     ReasonExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := mintTestToken(t, "file.read", tt.constraint)

			err := tok.Use(tt.resource, tt.op)
			require.Error(t, err)

			var violation *Violation
			require.True(t, errors.As(err, &violation))
			assert.Equal(t, tt.reason, violation.Reason)
			assert.Equal(t, tt.resource, violation.Resource)
			assert.Equal(t, "file.read", violation.CapabilityType.String())
			assert.Equal(t, uint64(0), tok.UsageCount(), "denied use must not consume")
		})
	}
}

func Test_Token_Check_DoesNotConsume(t *testing.T) {
	tok := mintTestToken(t, "file.read", Constraint{
		ResourcePatterns: []string{"/data/*"},
		MaxUsageCount:    1,
	})

	require.NoError(t, tok.Check("/data/a.txt", "read"))
	require.NoError(t, tok.Check("/data/a.txt", "read"))
	assert.Equal(t, uint64(0), tok.UsageCount())

	// Denials carry the same violation Use would report.
	err := tok.Check("/etc/passwd", "read")
	var violation *Violation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, ReasonPattern, violation.Reason)

	// The use is still available after any number of checks.
	require.NoError(t, tok.Use("/data/a.txt", "read"))
	assert.Equal(t, uint64(1), tok.UsageCount())
}

func Test_Token_Exhaustion(t *testing.T) {
	tok := mintTestToken(t, "file.read", Constraint{MaxUsageCount: 2})

	require.NoError(t, tok.Use("/a", "read"))
	require.NoError(t, tok.Use("/b", "read"))

	err := tok.Use("/c", "read")
	var violation *Violation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, ReasonExhausted, violation.Reason)
	assert.True(t, violation.Permanent())
	assert.Equal(t, uint64(2), tok.UsageCount())
}

// With a cap of n, exactly n concurrent uses succeed regardless of
// interleaving.
func Test_Token_NoOverAdmissionUnderConcurrency(t *testing.T) {
	const maxUses = 5
	const callers = 50

	tok := mintTestToken(t, "file.read", Constraint{MaxUsageCount: maxUses})

	var successes atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tok.Use("/data/a.txt", "read"); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(maxUses), successes.Load())
	assert.Equal(t, uint64(maxUses), tok.UsageCount())
}

func Test_Token_TamperIsPermanent(t *testing.T) {
	tok := mintTestToken(t, "file.read", Constraint{ResourcePatterns: []string{"/data/*"}})
	require.True(t, tok.Valid(time.Now()))

	// Mutate a checksummed identity field; the recorded digest no longer
	// matches.
	tok.identity.Description = "widened after mint"

	assert.False(t, tok.IntegrityOK())
	assert.False(t, tok.Valid(time.Now()))

	err := tok.Use("/data/a.txt", "read")
	var violation *Violation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, ReasonIntegrity, violation.Reason)
	assert.True(t, violation.Permanent())

	// Tampering is never repaired, even after the field is restored to a
	// different-but-plausible value and more uses are attempted.
	tok.identity.Description = "restored"
	assert.False(t, tok.Valid(time.Now()))
	assert.Error(t, tok.Use("/data/a.txt", "read"))
}

func Test_Token_ConstraintIsolation(t *testing.T) {
	patterns := []string{"/data/*"}
	tok := mintTestToken(t, "file.read", Constraint{ResourcePatterns: patterns})

	// Mutating the caller's slice after mint must not widen the token.
	patterns[0] = "/**"
	assert.False(t, tok.CanAccess("/etc/passwd", "read"))
	assert.True(t, tok.CanAccess("/data/a.txt", "read"))

	// Same for the copy handed back by Constraint().
	got := tok.Constraint()
	got.ResourcePatterns[0] = "/**"
	assert.False(t, tok.CanAccess("/etc/passwd", "read"))
}

func Test_Token_UseNetwork(t *testing.T) {
	tok := mintTestToken(t, "network.tcp", Constraint{
		AllowedHosts: []string{"*.example.com"},
		AllowedPorts: []int{443, 8443},
	})

	require.NoError(t, tok.UseNetwork("api.example.com", 443))
	assert.Equal(t, uint64(1), tok.UsageCount())

	err := tok.UseNetwork("evil.com", 443)
	var violation *Violation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, ReasonHost, violation.Reason)

	err = tok.UseNetwork("api.example.com", 80)
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, ReasonPort, violation.Reason)

	// Denied attempts consume nothing.
	assert.Equal(t, uint64(1), tok.UsageCount())
}
