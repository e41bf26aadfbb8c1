// File: internal/captcha/resolver.go
package captcha

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/blswatch/internal/browser"
	"github.com/xkilldash9x/blswatch/internal/challenge"
	"github.com/xkilldash9x/blswatch/internal/config"
)

// SolverClient is the remote-service surface the resolver needs.
type SolverClient interface {
	SolveWidget(ctx context.Context, family challenge.Family, siteKey, pageURL string) (string, error)
	RecognizeDigits(ctx context.Context, b64 string) (string, error)
	Balance(ctx context.Context) (float64, error)
}

// responseFields maps each widget family to the hidden inputs its token is
// written into. hCaptcha deployments often mirror the token into the
// reCAPTCHA-named field as well, so both get set.
var responseFields = map[challenge.Family][]string{
	challenge.FamilyHCaptcha:  {"h-captcha-response", "g-recaptcha-response"},
	challenge.FamilyTurnstile: {"cf-turnstile-response"},
	challenge.FamilyReCaptcha: {"g-recaptcha-response"},
}

// Grid captcha anatomy.
const (
	gridLabelSelector  = ".box-label"
	gridCellSelector   = ".captcha-img"
	gridCellClickDelay = 300 * time.Millisecond
)

// gridTargetPattern pulls the target number out of the instruction label.
var gridTargetPattern = regexp.MustCompile(`number\s+(\d+)`)

// gridSubmitScript clicks the grid's submit control by its visible text.
// It throws when the control is absent so the caller can fall back.
const gridSubmitScript = `
(() => {
  const candidates = document.querySelectorAll('a, button, input[type="button"], input[type="submit"], div, span');
  for (const el of candidates) {
    const text = (el.innerText || el.value || '').trim();
    if (text === 'Submit Selection') { el.click(); return; }
  }
  throw new Error('submit control not found');
})();
`

// gridCallbackScript is the fallback completion path: some portal builds
// wire the grid to a page-level callback instead of a submit control.
const gridCallbackScript = `
(() => {
  if (typeof window.onCaptchaSubmit === 'function') { window.onCaptchaSubmit(); return; }
  throw new Error('no captcha submit callback');
})();
`

// Resolver turns a classified challenge into a resolved page. Widget
// challenges are solved remotely for a token; grid challenges are solved
// by recognizing each cell and clicking the matches.
type Resolver struct {
	client SolverClient
	cfg    config.SolverConfig
	logger *zap.Logger

	// sleep is swapped in tests to keep them instant.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewResolver(client SolverClient, cfg config.SolverConfig, logger *zap.Logger) *Resolver {
	return &Resolver{
		client: client,
		cfg:    cfg,
		logger: logger.Named("resolver"),
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ResolveWidget solves the widget remotely and injects the token into the
// page's hidden response fields. Transient service failures are retried;
// an unknown family is not.
func (r *Resolver) ResolveWidget(ctx context.Context, pg browser.Page, ch challenge.Challenge) error {
	fields, ok := responseFields[ch.Family]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedCaptcha, ch.Family)
	}

	pageURL, err := pg.URL(ctx)
	if err != nil {
		return fmt.Errorf("failed to read page url: %w", err)
	}

	var token string
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		token, lastErr = r.client.SolveWidget(ctx, ch.Family, ch.SiteKey, pageURL)
		if lastErr == nil {
			break
		}
		r.logger.Warn("Widget solve attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", r.cfg.MaxAttempts),
			zap.Error(lastErr),
		)
		if attempt < r.cfg.MaxAttempts {
			if err := r.sleep(ctx, r.cfg.RetryDelay); err != nil {
				return err
			}
		}
	}
	if lastErr != nil {
		return fmt.Errorf("%w: %s", ErrSolveFailed, lastErr)
	}

	for _, field := range fields {
		sel := fmt.Sprintf(`[name=%q]`, field)
		if err := pg.SetValue(ctx, sel, token); err != nil {
			return fmt.Errorf("failed to inject token into %q: %w", field, err)
		}
	}
	r.logger.Info("Captcha token injected",
		zap.String("family", string(ch.Family)),
		zap.Int("tokenLength", len(token)),
	)
	return nil
}

// gridCell is one visible candidate image on the grid.
type gridCell struct {
	containerID string
	payload     string
}

// ResolveGrid solves the numeric grid: read the target number from the
// instruction label, recognize every visible cell, click the matches, and
// complete the selection.
func (r *Resolver) ResolveGrid(ctx context.Context, pg browser.Page) error {
	target, err := r.gridTarget(ctx, pg)
	if err != nil {
		return err
	}
	r.logger.Info("Grid captcha target number", zap.String("target", target))

	cells, err := r.gridCells(ctx, pg)
	if err != nil {
		return err
	}
	if len(cells) == 0 {
		return fmt.Errorf("no visible grid cells found")
	}
	r.logger.Debug("Recognizing grid cells", zap.Int("cells", len(cells)))

	var matches []string
	for i, cell := range cells {
		digits, err := r.client.RecognizeDigits(ctx, cell.payload)
		if err != nil {
			// One unreadable cell must not sink the whole grid.
			r.logger.Warn("Cell recognition failed", zap.Int("cell", i), zap.Error(err))
			continue
		}
		r.logger.Debug("Cell recognized",
			zap.Int("cell", i),
			zap.String("recognized", digits),
			zap.String("target", target),
		)
		if digits == target {
			matches = append(matches, cell.containerID)
		}
	}
	if len(matches) == 0 {
		return fmt.Errorf("%w: target %s across %d cells", ErrNoMatchingCells, target, len(cells))
	}

	r.logger.Info("Clicking matching grid cells", zap.Int("matches", len(matches)))
	for _, id := range matches {
		if err := pg.Click(ctx, fmt.Sprintf("#%s img", id), 0); err != nil {
			return fmt.Errorf("failed to click grid cell %q: %w", id, err)
		}
		if err := r.sleep(ctx, gridCellClickDelay); err != nil {
			return err
		}
	}

	return r.completeGrid(ctx, pg)
}

// completeGrid finishes the selection: click the submit control if one is
// rendered, otherwise invoke the page's completion callback.
func (r *Resolver) completeGrid(ctx context.Context, pg browser.Page) error {
	if err := pg.Eval(ctx, gridSubmitScript); err == nil {
		r.logger.Debug("Grid selection submitted via control")
		return nil
	}
	if err := pg.Eval(ctx, gridCallbackScript); err != nil {
		return fmt.Errorf("grid completion failed: %w", err)
	}
	r.logger.Debug("Grid selection submitted via page callback")
	return nil
}

// gridTarget extracts the target number, preferring visible labels. The
// grid renders decoy labels that stay hidden.
func (r *Resolver) gridTarget(ctx context.Context, pg browser.Page) (string, error) {
	labels, err := pg.Query(ctx, gridLabelSelector)
	if err != nil {
		return "", fmt.Errorf("failed to query grid labels: %w", err)
	}

	for _, label := range labels {
		if !label.Visible {
			continue
		}
		if m := gridTargetPattern.FindStringSubmatch(label.Text); m != nil {
			return m[1], nil
		}
	}
	// Fallback: any label at all, visible or not.
	for _, label := range labels {
		if m := gridTargetPattern.FindStringSubmatch(label.Text); m != nil {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("could not extract target number from grid label")
}

// gridCells returns the clickable candidates: visible cells with an
// addressable container and an inline base64 payload. Hidden cells are
// honeypots and must never be touched.
func (r *Resolver) gridCells(ctx context.Context, pg browser.Page) ([]gridCell, error) {
	infos, err := pg.Query(ctx, gridCellSelector)
	if err != nil {
		return nil, fmt.Errorf("failed to query grid cells: %w", err)
	}

	var cells []gridCell
	for _, info := range infos {
		if !info.Visible || info.ContainerID == "" {
			continue
		}
		src := info.Attr("src")
		if !strings.HasPrefix(src, "data:") {
			continue
		}
		payload := src
		if idx := strings.Index(src, ","); idx >= 0 {
			payload = src[idx+1:]
		}
		cells = append(cells, gridCell{containerID: info.ContainerID, payload: payload})
	}
	return cells, nil
}
