// File: internal/browser/session.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/blswatch/internal/config"
)

// Manager owns the Chrome process via an exec allocator. One Manager
// outlives many tabs; on an unrecoverable cycle failure the monitor tears
// the whole Manager down and builds a fresh one rather than repairing the
// session in place.
type Manager struct {
	cfg         config.BrowserConfig
	logger      *zap.Logger
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

// NewManager prepares the allocator. Chrome itself launches lazily on the
// first tab request.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("lang", cfg.Locale),
	)
	if cfg.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.Proxy))
		logger.Info("Using proxy for browser traffic", zap.String("proxy", cfg.Proxy))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Manager{
		cfg:         cfg,
		logger:      logger.Named("browser"),
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
	}
}

// NewPage opens a fresh tab with the stealth persona applied.
func (m *Manager) NewPage(ctx context.Context) (*Tab, error) {
	tabCtx, tabCancel := chromedp.NewContext(m.allocCtx)

	tab := &Tab{ctx: tabCtx, cancel: tabCancel, logger: m.logger}
	persona := PersonaFromConfig(m.cfg)

	if err := tab.run(ctx, applyStealth(persona, m.logger)); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to initialize browser tab: %w", err)
	}
	m.logger.Info("Browser tab ready", zap.Bool("headless", m.cfg.Headless))
	return tab, nil
}

// Close tears down the Chrome process and every tab with it.
func (m *Manager) Close(ctx context.Context) error {
	m.allocCancel()
	m.logger.Info("Browser closed")
	return nil
}

// Tab is the chromedp-backed implementation of Page and PopupOpener.
type Tab struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

var (
	_ Page        = (*Tab)(nil)
	_ PopupOpener = (*Tab)(nil)
)

// Close releases the tab without touching the browser process.
func (t *Tab) Close(ctx context.Context) error {
	t.cancel()
	return nil
}

// run executes chromedp actions under the combined tab/operational context.
func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := CombineContext(t.ctx, ctx)
	defer cancel()
	return chromedp.Run(opCtx, actions...)
}

// evaluate runs a JS expression and unmarshals its JSON result into out.
func (t *Tab) evaluate(ctx context.Context, js string, out interface{}) error {
	var raw json.RawMessage
	err := t.run(ctx, chromedp.Evaluate(js, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
	}))
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 || string(raw) == "null" || string(raw) == "undefined" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to unmarshal evaluation result: %w", err)
	}
	return nil
}

func (t *Tab) Navigate(ctx context.Context, url string) error {
	return t.run(ctx, chromedp.Navigate(url))
}

func (t *Tab) Reload(ctx context.Context) error {
	return t.run(ctx, chromedp.Reload())
}

func (t *Tab) URL(ctx context.Context) (string, error) {
	var u string
	err := t.run(ctx, chromedp.Location(&u))
	return u, err
}

func (t *Tab) Title(ctx context.Context) (string, error) {
	var title string
	err := t.run(ctx, chromedp.Title(&title))
	return title, err
}

func (t *Tab) HTML(ctx context.Context) (string, error) {
	var html string
	err := t.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (t *Tab) Query(ctx context.Context, selector string) ([]ElementInfo, error) {
	js := fmt.Sprintf(`(() => { %s return __blswCollect(document, %s); })()`,
		collectJS, jsonEncode(selector))
	var infos []ElementInfo
	if err := t.evaluate(ctx, js, &infos); err != nil {
		return nil, fmt.Errorf("query %q failed: %w", selector, err)
	}
	return infos, nil
}

func (t *Tab) Click(ctx context.Context, selector string, index int) error {
	if err := t.tag(ctx, selector, index); err != nil {
		return err
	}
	defer t.untag(ctx)
	return t.run(ctx, chromedp.Click(taggedSelector, chromedp.ByQuery))
}

func (t *Tab) Type(ctx context.Context, selector string, index int, text string) error {
	if err := t.tag(ctx, selector, index); err != nil {
		return err
	}
	defer t.untag(ctx)
	return t.run(ctx,
		chromedp.Click(taggedSelector, chromedp.ByQuery),
		chromedp.SetValue(taggedSelector, "", chromedp.ByQuery),
		chromedp.SendKeys(taggedSelector, text, chromedp.ByQuery),
	)
}

func (t *Tab) SelectByText(ctx context.Context, selector string, index int, optionText string) error {
	js := fmt.Sprintf(`(() => {
		const n = document.querySelectorAll(%s)[%d];
		if (!n || !n.options) return false;
		const want = %s;
		let match = null;
		for (const opt of n.options) { if (opt.text.trim() === want) { match = opt; break; } }
		if (!match) { for (const opt of n.options) { if (opt.text.includes(want)) { match = opt; break; } } }
		if (!match) return false;
		n.value = match.value;
		n.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	})()`, jsonEncode(selector), index, jsonEncode(optionText))

	var ok bool
	if err := t.evaluate(ctx, js, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no option matching %q in select %q[%d]", optionText, selector, index)
	}
	return nil
}

func (t *Tab) SetValue(ctx context.Context, selector, value string) error {
	js := fmt.Sprintf(`(() => {
		let count = 0;
		for (const n of document.querySelectorAll(%s)) {
			n.value = %s;
			n.dispatchEvent(new Event('input', { bubbles: true }));
			n.dispatchEvent(new Event('change', { bubbles: true }));
			count++;
		}
		return count;
	})()`, jsonEncode(selector), jsonEncode(value))
	var count int
	return t.evaluate(ctx, js, &count)
}

func (t *Tab) Eval(ctx context.Context, js string) error {
	return t.evaluate(ctx, js, nil)
}

func (t *Tab) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := t.run(opCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("element %q not visible within %s: %w", selector, timeout, err)
	}
	return nil
}

func (t *Tab) WaitURLContains(ctx context.Context, substr string, timeout time.Duration) error {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		u, err := t.URL(opCtx)
		if err == nil && strings.Contains(strings.ToLower(u), strings.ToLower(substr)) {
			return nil
		}
		select {
		case <-opCtx.Done():
			return fmt.Errorf("url did not contain %q within %s: %w", substr, timeout, opCtx.Err())
		case <-ticker.C:
		}
	}
}

func (t *Tab) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := t.run(ctx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

func (t *Tab) Frames(ctx context.Context) ([]Frame, error) {
	infos, err := t.Query(ctx, "iframe")
	if err != nil {
		return nil, err
	}
	frames := make([]Frame, 0, len(infos))
	for i, info := range infos {
		frames = append(frames, &tabFrame{tab: t, index: i, url: info.Attr("src")})
	}
	return frames, nil
}

// OpenPage opens a new tab in the same browser and navigates it to url.
func (t *Tab) OpenPage(ctx context.Context, url string) (Page, func(ctx context.Context) error, error) {
	popupCtx, popupCancel := chromedp.NewContext(t.ctx)
	popup := &Tab{ctx: popupCtx, cancel: popupCancel, logger: t.logger}

	if err := popup.Navigate(ctx, url); err != nil {
		popupCancel()
		return nil, nil, fmt.Errorf("failed to open popup %q: %w", url, err)
	}
	closer := func(ctx context.Context) error { return popup.Close(ctx) }
	return popup, closer, nil
}

const taggedSelector = `[data-blsw-target="1"]`

// tag marks the index-th match of selector so chromedp's single-element
// actions (which always address the first match) can reach it.
func (t *Tab) tag(ctx context.Context, selector string, index int) error {
	js := fmt.Sprintf(`(() => {
		document.querySelectorAll('[data-blsw-target]').forEach(n => n.removeAttribute('data-blsw-target'));
		const n = document.querySelectorAll(%s)[%d];
		if (!n) return false;
		n.setAttribute('data-blsw-target', '1');
		return true;
	})()`, jsonEncode(selector), index)

	var ok bool
	if err := t.evaluate(ctx, js, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no element at %q[%d]", selector, index)
	}
	return nil
}

func (t *Tab) untag(ctx context.Context) {
	// Best effort; runs detached so a canceled operation still cleans up.
	_ = t.evaluate(Detach(ctx),
		`document.querySelectorAll('[data-blsw-target]').forEach(n => n.removeAttribute('data-blsw-target'))`, nil)
}

// tabFrame addresses one same-origin child iframe by its position in the
// main document. Handles go stale on navigation; callers re-enumerate.
type tabFrame struct {
	tab   *Tab
	index int
	url   string
}

var _ Frame = (*tabFrame)(nil)

func (f *tabFrame) URL() string { return f.url }

func (f *tabFrame) Query(ctx context.Context, selector string) ([]ElementInfo, error) {
	js := fmt.Sprintf(`(() => { %s
		const frame = document.querySelectorAll('iframe')[%d];
		if (!frame) return null;
		let doc = null;
		try { doc = frame.contentDocument; } catch (e) {}
		if (!doc) return null;
		return __blswCollect(doc, %s);
	})()`, collectJS, f.index, jsonEncode(selector))

	var infos []ElementInfo
	if err := f.tab.evaluate(ctx, js, &infos); err != nil {
		return nil, fmt.Errorf("frame query %q failed: %w", selector, err)
	}
	// Cross-origin frames yield null; report no matches rather than error,
	// since detection falls back to the raw-markup scan anyway.
	return infos, nil
}

func (f *tabFrame) Click(ctx context.Context, selector string, index int) error {
	js := fmt.Sprintf(`(() => {
		const frame = document.querySelectorAll('iframe')[%d];
		if (!frame) return false;
		let doc = null;
		try { doc = frame.contentDocument; } catch (e) {}
		if (!doc) return false;
		const n = doc.querySelectorAll(%s)[%d];
		if (!n) return false;
		n.click();
		return true;
	})()`, f.index, jsonEncode(selector), index)

	var ok bool
	if err := f.tab.evaluate(ctx, js, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no element at %q[%d] in frame %d", selector, index, f.index)
	}
	return nil
}

// collectJS defines the element-snapshot helper shared by main-document
// and frame queries. Visibility mirrors what the portal's honeypots try to
// exploit: zero-sized or display:none elements count as hidden.
const collectJS = `
function __blswCollect(root, sel) {
	const out = [];
	let i = 0;
	for (const n of root.querySelectorAll(sel)) {
		const rect = n.getBoundingClientRect();
		const win = (n.ownerDocument && n.ownerDocument.defaultView) || window;
		const style = win.getComputedStyle(n);
		const visible = rect.width > 0 && rect.height > 0 &&
			style.display !== 'none' && style.visibility !== 'hidden';
		const attrs = {};
		for (const a of n.attributes) { attrs[a.name] = a.value; }
		const container = n.closest('[id]');
		out.push({
			index: i++,
			visible: visible,
			text: (n.innerText || n.textContent || '').trim(),
			attrs: attrs,
			containerId: container ? container.id : '',
		});
	}
	return out;
}
`

// jsonEncode safely embeds a value into a JS expression.
func jsonEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}
