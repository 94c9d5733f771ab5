package middleware

import "context"

type principalKey struct{}

// principal is the authenticated caller attached by Auth.
type principal struct {
	accountID string
	role      string
}

func principalFrom(ctx context.Context) principal {
	if ctx == nil {
		return principal{}
	}
	p, _ := ctx.Value(principalKey{}).(principal)
	return p
}

func withPrincipal(ctx context.Context, p principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, principalKey{}, p)
}

func AccountIDFromContext(ctx context.Context) string { return principalFrom(ctx).accountID }

func RoleFromContext(ctx context.Context) string { return principalFrom(ctx).role }

// WithAccountID sets the caller's account, keeping any role already present.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	p := principalFrom(ctx)
	p.accountID = accountID
	return withPrincipal(ctx, p)
}

// WithRole sets the caller's role, keeping any account already present.
func WithRole(ctx context.Context, role string) context.Context {
	p := principalFrom(ctx)
	p.role = role
	return withPrincipal(ctx, p)
}
