package sessions

import "context"

// RoleAnonymous is the role of every handle unless a RoleResolver says
// otherwise.
const RoleAnonymous = "anonymous"

// RoleResolver decides the role of a new handle created for token.
type RoleResolver interface {
	ResolveRole(ctx context.Context, token []byte) (string, error)
}

// RoleResolverFunc adapts a function to RoleResolver.
type RoleResolverFunc func(ctx context.Context, token []byte) (string, error)

func (f RoleResolverFunc) ResolveRole(ctx context.Context, token []byte) (string, error) {
	return f(ctx, token)
}

// AnonymousRoles assigns RoleAnonymous to every token.
var AnonymousRoles RoleResolver = RoleResolverFunc(func(context.Context, []byte) (string, error) {
	return RoleAnonymous, nil
})
