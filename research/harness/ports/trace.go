package harnessports

import "context"

// Tracer records pipeline stages and tool attempts. finish is called once
// with the error that ended the span, or nil.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs map[string]any) (spanCtx context.Context, finish func(err error))
	Event(ctx context.Context, name string, attrs map[string]any)
}
