package api

import "context"

type contextKey string

const (
	identityKey  contextKey = "identity"
	requestIDKey contextKey = "requestID"
)

func withIdentity(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, identityKey, email)
}

// identityFrom returns the authenticated email for the request, or "" when
// the request skipped the auth middleware.
func identityFrom(ctx context.Context) string {
	email, _ := ctx.Value(identityKey).(string)
	return email
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
