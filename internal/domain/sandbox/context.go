// Package sandbox holds the runtime authorization state of a sandboxed
// program: named, hierarchical capability contexts and the binding that
// makes one of them ambient for a call chain.
package sandbox

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rill-lang/rillsec/internal/domain/capabilities"
	"github.com/rill-lang/rillsec/internal/domain/values"
)

// Context is a named, thread-safe container of capability tokens.
// Contexts nest parent to child: a lookup that misses locally falls
// through to the parent, so a parent revocation is immediately visible to
// children while a child override never affects siblings or the parent.
//
// The lock guards only this context's own map. Chain traversal takes one
// lock at a time and the parent pointer is assigned at creation and never
// reassigned, so the parent graph is acyclic and the walk cannot deadlock.
type Context struct {
	id        uuid.UUID
	name      string
	parent    *Context
	createdAt time.Time
	createdBy string

	mu       sync.Mutex
	tokens   map[values.CapabilityType]*capabilities.Token
	children []*Context
}

// NewContext creates a root context with no parent.
func NewContext(name, createdBy string) *Context {
	return &Context{
		id:        uuid.New(),
		name:      name,
		createdAt: time.Now().UTC(),
		createdBy: createdBy,
		tokens:    make(map[values.CapabilityType]*capabilities.Token),
	}
}

// NewChild creates a context that inherits from c. The child is recorded
// in c's children list for introspection only; inheritance is read-through
// at lookup time, never a copy.
func (c *Context) NewChild(name string) *Context {
	child := &Context{
		id:        uuid.New(),
		name:      name,
		parent:    c,
		createdAt: time.Now().UTC(),
		createdBy: c.createdBy,
		tokens:    make(map[values.CapabilityType]*capabilities.Token),
	}

	c.mu.Lock()
	c.children = append(c.children, child)
	c.mu.Unlock()

	return child
}

// ID returns the context's unique identity.
func (c *Context) ID() uuid.UUID { return c.id }

// Name returns the context's operator-visible name.
func (c *Context) Name() string { return c.name }

// Parent returns the parent context, or nil for a root.
func (c *Context) Parent() *Context { return c.parent }

// CreatedAt returns when the context was created.
func (c *Context) CreatedAt() time.Time { return c.createdAt }

// Children returns a snapshot of the child contexts.
func (c *Context) Children() []*Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Context(nil), c.children...)
}

// Grant attaches a token, replacing any existing token of the same type.
// Tokens that are not currently valid are rejected outright so a dead
// grant cannot sit in a context masking the parent's live one.
func (c *Context) Grant(token *capabilities.Token) error {
	if token == nil {
		return fmt.Errorf("cannot grant a nil token")
	}
	if !token.Valid(time.Now()) {
		return fmt.Errorf("cannot grant invalid token %s (%s)", token.ID(), token.Type())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[token.Type()] = token
	return nil
}

// Revoke removes the local token of the given type and reports whether
// one was present. It never touches the parent: revocation is local, and
// a child that was overriding simply falls through to the parent again.
func (c *Context) Revoke(capType values.CapabilityType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.tokens[capType]
	if ok {
		delete(c.tokens, capType)
	}
	return ok
}

// Capability looks up a token locally only. A token found invalid is
// evicted and treated as absent — validity is checked lazily on access,
// there is no background sweep.
func (c *Context) Capability(capType values.CapabilityType) (*capabilities.Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	token, ok := c.tokens[capType]
	if !ok {
		return nil, false
	}
	if !token.Valid(time.Now()) {
		delete(c.tokens, capType)
		return nil, false
	}
	return token, true
}

// CapabilityInChain looks up a token here, then in each ancestor in turn.
// This is the hot-path lookup for every effectful call, so it returns an
// explicit miss instead of an error; callers that need a structured
// denial use Require.
func (c *Context) CapabilityInChain(capType values.CapabilityType) (*capabilities.Token, bool) {
	for ctx := c; ctx != nil; ctx = ctx.parent {
		if token, ok := ctx.Capability(capType); ok {
			return token, true
		}
	}
	return nil, false
}

// Require is CapabilityInChain returning a *capabilities.NotFoundError on
// a miss, for callers that propagate the denial directly.
func (c *Context) Require(capType values.CapabilityType) (*capabilities.Token, error) {
	if token, ok := c.CapabilityInChain(capType); ok {
		return token, nil
	}
	return nil, &capabilities.NotFoundError{CapabilityType: capType, ContextName: c.name}
}

// Has reports whether a capability of the given type is live in this
// context, optionally consulting ancestors.
func (c *Context) Has(capType values.CapabilityType, checkParents bool) bool {
	if checkParents {
		_, ok := c.CapabilityInChain(capType)
		return ok
	}
	_, ok := c.Capability(capType)
	return ok
}

// WithTemporary grants a token for the duration of fn and guarantees
// removal on every exit path, including panic. The removal deletes
// whatever token of that type is then present locally, so fn cannot leak
// an elevated grant by re-adding one.
func (c *Context) WithTemporary(token *capabilities.Token, fn func() error) error {
	if err := c.Grant(token); err != nil {
		return err
	}
	defer c.Revoke(token.Type())
	return fn()
}

// Types returns the capability types granted locally, for introspection.
func (c *Context) Types() []values.CapabilityType {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]values.CapabilityType, 0, len(c.tokens))
	for capType := range c.tokens {
		out = append(out, capType)
	}
	return out
}
