package fiddle

import "context"

// Observer receives fire-and-forget analytics events around chat, clone,
// and deploy actions. Implementations must never block or fail loudly;
// the observer package provides an OTEL-backed implementation. When no
// Observer is configured the nop implementation is used.
type Observer interface {
	// Event records a named counter event with optional properties.
	Event(ctx context.Context, name string, value int64, props map[string]string)
	// PageView records one page view.
	PageView(ctx context.Context)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) Event(context.Context, string, int64, map[string]string) {}
func (NopObserver) PageView(context.Context)                               {}
