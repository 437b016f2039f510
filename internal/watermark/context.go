package watermark

import "context"

type runIDKey struct{}

// WithRunID tags ctx with the id of the sync run performing the write.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
