package capabilities

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rill-lang/rillsec/internal/domain/values"
)

// Token is a tamper-evident grant of one capability type under a
// constraint. The identity record (ID, type, constraint, audit metadata)
// is hashed once at mint and never changes; the usage state (count, last
// use) lives in a separate cell that is deliberately outside the hash, so
// incrementing the counter does not require re-hashing and cannot mask
// tampering with the grant itself.
type Token struct {
	identity identity
	checksum [sha256.Size]byte

	// Serializes check-then-increment so concurrent users sharing one
	// token cannot exceed MaxUsageCount. Independent of any context lock:
	// the same token may be reachable from several contexts.
	mu         sync.Mutex
	usageCount uint64
	lastUsedAt time.Time
}

// identity holds the immutable, checksummed part of a token.
type identity struct {
	ID             uuid.UUID
	CapabilityType values.CapabilityType
	Constraint     Constraint
	CreatedAt      time.Time
	CreatedBy      string
	Description    string
}

// MintToken creates a token granting capType under the given constraint.
// createdBy and description are audit metadata carried into every
// violation report and grant listing.
func MintToken(capType values.CapabilityType, constraint Constraint, createdBy, description string) *Token {
	id := identity{
		ID:             uuid.New(),
		CapabilityType: capType,
		Constraint:     constraint.clone(),
		CreatedAt:      time.Now().UTC(),
		CreatedBy:      createdBy,
		Description:    description,
	}
	return &Token{
		identity: id,
		checksum: id.digest(),
	}
}

// ID returns the token's unique identity.
func (t *Token) ID() uuid.UUID { return t.identity.ID }

// Type returns the capability type this token grants.
func (t *Token) Type() values.CapabilityType { return t.identity.CapabilityType }

// Constraint returns a copy of the token's constraint.
func (t *Token) Constraint() Constraint { return t.identity.Constraint.clone() }

// CreatedAt returns when the token was minted.
func (t *Token) CreatedAt() time.Time { return t.identity.CreatedAt }

// CreatedBy returns the minting principal recorded at grant time.
func (t *Token) CreatedBy() string { return t.identity.CreatedBy }

// Description returns the operator-supplied grant description.
func (t *Token) Description() string { return t.identity.Description }

// UsageCount returns the number of successful uses so far.
func (t *Token) UsageCount() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usageCount
}

// LastUsedAt returns the time of the most recent successful use, or the
// zero time if the token has never been used.
func (t *Token) LastUsedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastUsedAt
}

// IntegrityOK recomputes the identity digest and compares it against the
// checksum recorded at mint. A mismatch is permanent: the token is never
// auto-repaired and every later check keeps failing.
func (t *Token) IntegrityOK() bool {
	return t.identity.digest() == t.checksum
}

// Valid reports whether the token can still authorize anything at all:
// integrity intact, not expired, usage cap not reached. Validity is
// checked lazily on each access; there is no background sweep.
func (t *Token) Valid(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.validLocked(now) == Reason("")
}

// CanAccess reports whether the token would permit op on resource right
// now, without consuming a use.
func (t *Token) CanAccess(resource, op string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checkLocked(resource, op, time.Now()) == Reason("")
}

// Check authorizes op on resource like Use, but without consuming a
// use. Callers that must refuse before the effect's own preconditions
// (size ceilings, handle opening) use it as a pre-flight; the Use that
// follows re-checks atomically with the counter.
func (t *Token) Check(resource, op string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if reason := t.checkLocked(resource, op, time.Now()); reason != Reason("") {
		return t.newViolation(resource, op, reason)
	}
	return nil
}

// Use authorizes op on resource and consumes one use. The entire
// check-then-increment runs under the token's own lock, so with
// MaxUsageCount = n exactly n concurrent calls succeed. On denial it
// returns a *Violation naming the failing predicate.
func (t *Token) Use(resource, op string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if reason := t.checkLocked(resource, op, now); reason != Reason("") {
		return t.newViolation(resource, op, reason)
	}

	t.usageCount++
	t.lastUsedAt = now
	return nil
}

// UseNetwork authorizes a connection to host:port and consumes one use.
// Same locking discipline as Use; host patterns match with "." as the
// segment separator.
func (t *Token) UseNetwork(host string, port int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	reason := t.validLocked(now)
	if reason == Reason("") && !t.identity.Constraint.AllowsHost(host) {
		reason = ReasonHost
	}
	if reason == Reason("") && !t.identity.Constraint.AllowsPort(port) {
		reason = ReasonPort
	}
	if reason != Reason("") {
		return t.newViolation(fmt.Sprintf("%s:%d", host, port), "connect", reason)
	}

	t.usageCount++
	t.lastUsedAt = now
	return nil
}

func (t *Token) newViolation(resource, op string, reason Reason) *Violation {
	return &Violation{
		TokenID:        t.identity.ID.String(),
		CapabilityType: t.identity.CapabilityType,
		Resource:       resource,
		Operation:      op,
		Reason:         reason,
	}
}

// validLocked checks the token-level predicates. Callers hold t.mu.
func (t *Token) validLocked(now time.Time) Reason {
	if !t.IntegrityOK() {
		return ReasonIntegrity
	}
	if t.identity.Constraint.Expired(now) {
		return ReasonExpired
	}
	if max := t.identity.Constraint.MaxUsageCount; max > 0 && t.usageCount >= max {
		return ReasonExhausted
	}
	return Reason("")
}

// checkLocked checks token validity plus resource/operation coverage.
// Predicate order is fixed so violations always report the most
// fundamental failure first. Callers hold t.mu.
func (t *Token) checkLocked(resource, op string, now time.Time) Reason {
	if reason := t.validLocked(now); reason != Reason("") {
		return reason
	}
	if !t.identity.Constraint.MatchesResource(resource) {
		return ReasonPattern
	}
	if !t.identity.Constraint.AllowsOperation(op) {
		return ReasonOperation
	}
	return Reason("")
}

// digest hashes every identity field in a fixed order.
func (id identity) digest() [sha256.Size]byte {
	h := sha256.New()
	h.Write(id.ID[:])
	writeField(h, id.CapabilityType.String())
	for _, p := range id.Constraint.ResourcePatterns {
		writeField(h, p)
	}
	for _, op := range id.Constraint.AllowedOperations {
		writeField(h, op)
	}
	writeField(h, id.Constraint.ExpiresAt.UTC().Format(time.RFC3339Nano))
	writeInt(h, int64(id.Constraint.MaxUsageCount))
	writeInt(h, id.Constraint.MaxFileSize)
	writeInt(h, id.Constraint.MaxMemory)
	writeInt(h, int64(id.Constraint.MaxCPUTime))
	for _, host := range id.Constraint.AllowedHosts {
		writeField(h, host)
	}
	for _, port := range id.Constraint.AllowedPorts {
		writeField(h, strconv.Itoa(port))
	}
	writeField(h, id.CreatedAt.UTC().Format(time.RFC3339Nano))
	writeField(h, id.CreatedBy)
	writeField(h, id.Description)

	var sum [sha256.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// writeField writes a length-prefixed string so field boundaries cannot
// be confused ("ab"+"c" vs "a"+"bc").
func writeField(h interface{ Write([]byte) (int, error) }, s string) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(s)))
	h.Write(lenBuf[:])
	h.Write([]byte(s))
}

func writeInt(h interface{ Write([]byte) (int, error) }, v int64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	h.Write(buf[:])
}
