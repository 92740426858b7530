// Package authctx carries the authenticated principal in a request context.
package authctx

import (
	"context"

	"github.com/and161185/forum-auth/internal/model"
)

type ctxKey string

const principalKey ctxKey = "forum.principal"

// WithPrincipal stores the authenticated principal in context.
func WithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromCtx fetches the principal from context.
func PrincipalFromCtx(ctx context.Context) (*model.Principal, bool) {
	p, ok := ctx.Value(principalKey).(*model.Principal)
	return p, ok && p != nil
}
