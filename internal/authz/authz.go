// Package authz defines the pluggable permission check consulted before
// every mutating coordination operation.
package authz

import "context"

// Policy decides whether a caller may perform an operation on a resource.
// The coordination core consults it before executing any mutation and
// otherwise assumes every call is already authorized; the trust layer behind
// the decision lives outside the core.
type Policy interface {
	IsPermitted(ctx context.Context, operation, callerID, resource string) bool
}

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc func(ctx context.Context, operation, callerID, resource string) bool

// IsPermitted calls f.
func (f PolicyFunc) IsPermitted(ctx context.Context, operation, callerID, resource string) bool {
	return f(ctx, operation, callerID, resource)
}

// AllowAll permits every operation. It is the default when no policy is
// configured.
var AllowAll Policy = PolicyFunc(func(context.Context, string, string, string) bool {
	return true
})
