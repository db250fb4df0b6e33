package sandbox

import "context"

type bindingKey struct{}

// defaultDeny is the context resolved when nothing is bound. It is never
// granted into, so every check against it fails with not-found.
var defaultDeny = NewContext("default-deny", "system")

// Bind returns a context.Context carrying sbx as the ambient capability
// context for the call chain. Each sandboxed execution binds its own, so
// independent sandboxes never observe each other's grants; there is
// deliberately no process-wide current context.
func Bind(ctx context.Context, sbx *Context) context.Context {
	return context.WithValue(ctx, bindingKey{}, sbx)
}

// FromContext resolves the bound capability context. An unbound chain
// resolves to the shared default-deny context, so code that forgot to
// bind fails closed rather than open.
func FromContext(ctx context.Context) *Context {
	if sbx, ok := ctx.Value(bindingKey{}).(*Context); ok && sbx != nil {
		return sbx
	}
	return defaultDeny
}

// IsBound reports whether ctx carries an explicit capability context.
func IsBound(ctx context.Context) bool {
	sbx, ok := ctx.Value(bindingKey{}).(*Context)
	return ok && sbx != nil
}
