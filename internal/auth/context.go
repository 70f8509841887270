package auth

import (
	"context"

	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
)

type callerKey struct{}

func WithCaller(ctx context.Context, c ledger.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the authenticated caller, or the zero Caller, which
// every ledger operation rejects as unauthenticated.
func CallerFrom(ctx context.Context) ledger.Caller {
	c, _ := ctx.Value(callerKey{}).(ledger.Caller)
	return c
}
