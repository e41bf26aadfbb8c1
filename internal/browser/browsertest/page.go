// File: internal/browser/browsertest/page.go

// Package browsertest provides hand-rolled fakes for the browser.Page
// capability surface so core logic can be exercised without a browser.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/blswatch/internal/browser"
)

// Target records one addressed element interaction.
type Target struct {
	Selector string
	Index    int
}

// TypedEntry records one Type call.
type TypedEntry struct {
	Selector string
	Index    int
	Text     string
}

// Selection records one SelectByText call.
type Selection struct {
	Selector string
	Index    int
	Option   string
}

// FakePage is a scriptable in-memory Page. Zero value is usable; populate
// the exported fields to stage page state and inspect them afterwards.
type FakePage struct {
	mu sync.Mutex

	CurrentURL string
	PageTitle  string
	Markup     string

	// Elements maps a selector to the snapshots a Query returns.
	Elements map[string][]browser.ElementInfo
	// ChildFrames is returned by Frames.
	ChildFrames []browser.Frame
	// Visible marks selectors that WaitVisible resolves immediately.
	Visible map[string]bool
	// Shot is returned by Screenshot.
	Shot []byte

	Navigations []string
	Reloads     int
	Clicks      []Target
	Typed       []TypedEntry
	Selections  []Selection
	ValuesSet   map[string]string
	Evaled      []string

	// Optional hooks for behavior beyond recording.
	OnNavigate func(url string)
	OnClick    func(tgt Target) error
	OnEval     func(js string) error
	SelectErr  error
}

var _ browser.Page = (*FakePage)(nil)

func (p *FakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	p.Navigations = append(p.Navigations, url)
	p.CurrentURL = url
	hook := p.OnNavigate
	p.mu.Unlock()
	if hook != nil {
		hook(url)
	}
	return nil
}

func (p *FakePage) Reload(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Reloads++
	return nil
}

func (p *FakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CurrentURL, nil
}

func (p *FakePage) Title(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.PageTitle, nil
}

func (p *FakePage) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Markup, nil
}

func (p *FakePage) Query(ctx context.Context, selector string) ([]browser.ElementInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Elements[selector], nil
}

func (p *FakePage) Click(ctx context.Context, selector string, index int) error {
	tgt := Target{Selector: selector, Index: index}
	p.mu.Lock()
	p.Clicks = append(p.Clicks, tgt)
	hook := p.OnClick
	p.mu.Unlock()
	if hook != nil {
		return hook(tgt)
	}
	return nil
}

func (p *FakePage) Type(ctx context.Context, selector string, index int, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Typed = append(p.Typed, TypedEntry{Selector: selector, Index: index, Text: text})
	return nil
}

func (p *FakePage) SelectByText(ctx context.Context, selector string, index int, optionText string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SelectErr != nil {
		return p.SelectErr
	}
	p.Selections = append(p.Selections, Selection{Selector: selector, Index: index, Option: optionText})
	return nil
}

func (p *FakePage) SetValue(ctx context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ValuesSet == nil {
		p.ValuesSet = make(map[string]string)
	}
	p.ValuesSet[selector] = value
	return nil
}

func (p *FakePage) Eval(ctx context.Context, js string) error {
	p.mu.Lock()
	p.Evaled = append(p.Evaled, js)
	hook := p.OnEval
	p.mu.Unlock()
	if hook != nil {
		return hook(js)
	}
	return nil
}

func (p *FakePage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Visible[selector] {
		return nil
	}
	return fmt.Errorf("element %q not visible within %s", selector, timeout)
}

func (p *FakePage) WaitURLContains(ctx context.Context, substr string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if strings.Contains(strings.ToLower(p.CurrentURL), strings.ToLower(substr)) {
		return nil
	}
	return fmt.Errorf("url %q did not contain %q within %s", p.CurrentURL, substr, timeout)
}

func (p *FakePage) Screenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Shot != nil {
		return p.Shot, nil
	}
	return []byte("png"), nil
}

func (p *FakePage) Frames(ctx context.Context) ([]browser.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ChildFrames, nil
}

// FakeFrame is a scriptable in-memory Frame.
type FakeFrame struct {
	mu       sync.Mutex
	FrameURL string
	Elements map[string][]browser.ElementInfo
	Clicks   []Target
}

var _ browser.Frame = (*FakeFrame)(nil)

func (f *FakeFrame) URL() string { return f.FrameURL }

func (f *FakeFrame) Query(ctx context.Context, selector string) ([]browser.ElementInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Elements[selector], nil
}

func (f *FakeFrame) Click(ctx context.Context, selector string, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Clicks = append(f.Clicks, Target{Selector: selector, Index: index})
	return nil
}

// FakeOpener serves staged popup pages by URL.
type FakeOpener struct {
	mu     sync.Mutex
	Pages  map[string]*FakePage
	Opened []string
	Closed int
}

var _ browser.PopupOpener = (*FakeOpener)(nil)

func (o *FakeOpener) OpenPage(ctx context.Context, url string) (browser.Page, func(ctx context.Context) error, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Opened = append(o.Opened, url)
	pg, ok := o.Pages[url]
	if !ok {
		return nil, nil, fmt.Errorf("no staged popup for %q", url)
	}
	closer := func(ctx context.Context) error {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.Closed++
		return nil
	}
	return pg, closer, nil
}
