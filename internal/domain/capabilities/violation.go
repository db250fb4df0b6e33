package capabilities

import (
	"fmt"

	"github.com/rill-lang/rillsec/internal/domain/values"
)

// Reason identifies which predicate failed when a capability check denied
// an operation. Integrity faults are permanent; every other reason is
// recoverable by granting a fresh or broader token.
type Reason string

const (
	ReasonIntegrity Reason = "integrity" // checksum mismatch, never retried
	ReasonExpired   Reason = "expired"   // constraint expiry passed
	ReasonExhausted Reason = "exhausted" // usage count reached its cap
	ReasonPattern   Reason = "pattern"   // resource not covered by any pattern
	ReasonOperation Reason = "operation" // operation not in the allow-list
	ReasonHost      Reason = "host"      // host not covered
	ReasonPort      Reason = "port"      // port not covered
	ReasonLimit     Reason = "limit"     // size/memory/cpu ceiling exceeded
)

// Violation is the structured denial raised when a token refuses an
// operation. It names the capability type, the concrete resource and
// operation requested, and the specific failing predicate so callers can
// distinguish "grant something broader" from "this token is dead".
type Violation struct {
	TokenID        string                `json:"token_id"`
	CapabilityType values.CapabilityType `json:"capability_type"`
	Resource       string                `json:"resource"`
	Operation      string                `json:"operation"`
	Reason         Reason                `json:"reason"`

	// Detail is optional extra context, such as the observed size
	// against a ceiling.
	Detail string `json:"detail,omitempty"`
}

func (v *Violation) Error() string {
	msg := fmt.Sprintf("capability violation: %s denied for %s on %q (op %q): %s",
		v.CapabilityType, v.Reason, v.Resource, v.Operation, v.reasonDetail())
	if v.Detail != "" {
		msg += " (" + v.Detail + ")"
	}
	return msg
}

func (v *Violation) reasonDetail() string {
	switch v.Reason {
	case ReasonIntegrity:
		return "token failed integrity verification"
	case ReasonExpired:
		return "token has expired"
	case ReasonExhausted:
		return "token usage count exhausted"
	case ReasonPattern:
		return "resource does not match any granted pattern"
	case ReasonOperation:
		return "operation is not in the allowed set"
	case ReasonHost:
		return "host is not in the allowed set"
	case ReasonPort:
		return "port is not in the allowed set"
	case ReasonLimit:
		return "resource ceiling exceeded"
	default:
		return string(v.Reason)
	}
}

// Permanent reports whether the denial can never succeed for this token,
// no matter what the caller requests next.
func (v *Violation) Permanent() bool {
	switch v.Reason {
	case ReasonIntegrity, ReasonExpired, ReasonExhausted:
		return true
	default:
		return false
	}
}

// NotFoundError is returned when no token of the required type exists
// anywhere in a context chain. It is a distinct type from Violation so the
// hot-path lookup stays exception-free and callers can branch on it.
type NotFoundError struct {
	CapabilityType values.CapabilityType
	ContextName    string
}

func (e *NotFoundError) Error() string {
	if e.ContextName != "" {
		return fmt.Sprintf("no capability %q granted in context %q or its ancestors", e.CapabilityType, e.ContextName)
	}
	return fmt.Sprintf("no capability %q granted", e.CapabilityType)
}
