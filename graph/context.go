package graph

import "context"

type userKey struct{}

// ContextWithUser tags ctx with the user on whose behalf threads run. The
// user id is recorded on sessions created under ctx.
func ContextWithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext returns the user id set by ContextWithUser.
func UserFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}
