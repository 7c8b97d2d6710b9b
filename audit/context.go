package audit

import "context"

type actorKey struct{}
type requestKey struct{}

type actorInfo struct {
	id   string
	role string
}

type requestInfo struct {
	ip        string
	userAgent string
}

// WithActor stores the acting user for entries recorded with ctx.
func WithActor(ctx context.Context, actorID, role string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorInfo{id: actorID, role: role})
}

// WithRequest stores the client address and user agent for entries recorded with ctx.
func WithRequest(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, requestKey{}, requestInfo{ip: ip, userAgent: userAgent})
}

func actorFrom(ctx context.Context) actorInfo {
	v, _ := ctx.Value(actorKey{}).(actorInfo)
	return v
}

func requestFrom(ctx context.Context) requestInfo {
	v, _ := ctx.Value(requestKey{}).(requestInfo)
	return v
}
