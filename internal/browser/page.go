// File: internal/browser/page.go
package browser

import (
	"context"
	"time"
)

// ElementInfo is a snapshot of one element matched by a Page query.
// ContainerID is the id of the nearest ancestor carrying an id attribute,
// used to address elements for clicks when the element itself has none.
type ElementInfo struct {
	Index       int               `json:"index"`
	Visible     bool              `json:"visible"`
	Text        string            `json:"text"`
	Attrs       map[string]string `json:"attrs"`
	ContainerID string            `json:"containerId"`
}

// Attr returns the named attribute, or "" when absent.
func (e ElementInfo) Attr(name string) string {
	if e.Attrs == nil {
		return ""
	}
	return e.Attrs[name]
}

// Page is the capability surface the monitor's core logic sees over the
// live browser tab. Every state transition in the authenticator, the
// detector, the resolver and the form workflow goes through this interface,
// so each of them is testable against a fake page instead of a browser.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	// HTML returns the serialized main-document markup.
	HTML(ctx context.Context) (string, error)

	// Query returns a snapshot of every element matching the selector in
	// the main document, in document order.
	Query(ctx context.Context, selector string) ([]ElementInfo, error)

	// Click and Type address the index-th match of the selector.
	Click(ctx context.Context, selector string, index int) error
	Type(ctx context.Context, selector string, index int, text string) error

	// SelectByText picks the option whose text equals optionText on the
	// index-th matching select element, falling back to a partial text
	// match, and dispatches a change event.
	SelectByText(ctx context.Context, selector string, index int, optionText string) error

	// SetValue assigns value directly to every element matching the
	// selector and dispatches input/change events. Used for
	// framework-managed hidden fields that are not meant for user input.
	SetValue(ctx context.Context, selector, value string) error

	// Eval runs a JavaScript expression in the page, discarding the result.
	Eval(ctx context.Context, js string) error

	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	WaitURLContains(ctx context.Context, substr string, timeout time.Duration) error

	// Screenshot captures the full page as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)

	// Frames enumerates the same-origin child frames of the page. Frame
	// handles go stale across navigation; callers must re-enumerate after
	// every navigation.
	Frames(ctx context.Context) ([]Frame, error)
}

// Frame is the reduced capability surface over one child frame.
type Frame interface {
	URL() string
	Query(ctx context.Context, selector string) ([]ElementInfo, error)
	Click(ctx context.Context, selector string, index int) error
}

// PopupOpener opens a secondary navigable surface. The grid captcha is
// sometimes delivered on its own page rather than in a frame; the
// authenticator uses this to reach it.
type PopupOpener interface {
	// OpenPage navigates a fresh tab to url and returns it along with a
	// close function releasing the tab.
	OpenPage(ctx context.Context, url string) (Page, func(ctx context.Context) error, error)
}
