// File: internal/browser/context.go
package browser

import (
	"context"
	"time"
)

// CombineContext creates a context derived from ctx1 (the master context,
// which carries the CDP connection information) that is canceled when
// either ctx1 or ctx2 (the operational context carrying the deadline) is
// canceled. chromedp actions must run on a context descending from the tab
// context, so operational deadlines are attached this way instead of by
// deriving from ctx2.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(ctx1)

	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}

// valueOnlyContext inherits values (CDP target information) from its
// parent but ignores the parent's deadline and cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach returns a context that inherits values from ctx but is not
// canceled when ctx is. Used for cleanup actions that must outlive the
// operation that triggered them.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
