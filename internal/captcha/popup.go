// File: internal/captcha/popup.go
package captcha

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/blswatch/internal/browser"
)

// popupPattern finds the grid captcha popup URL inside the inline script
// that opens it.
var popupPattern = regexp.MustCompile(`window\.open\(['"]([^'"]*[Cc]aptcha[^'"]*)['"]`)

// GridSolver is the slice of the resolver popup solving needs.
type GridSolver interface {
	ResolveGrid(ctx context.Context, pg browser.Page) error
}

// SolvePopupGrid handles portal builds that open the grid captcha in a
// separate window: the popup URL is scraped from the inline script, opened
// on a secondary tab, and the grid is solved there. It reports whether a
// popup was found; a page that opens no popup is not an error.
func SolvePopupGrid(ctx context.Context, pg browser.Page, opener browser.PopupOpener, baseURL string, solver GridSolver, logger *zap.Logger) (bool, error) {
	if opener == nil {
		return false, nil
	}
	html, err := pg.HTML(ctx)
	if err != nil {
		return false, err
	}
	m := popupPattern.FindStringSubmatch(html)
	if m == nil {
		return false, nil
	}

	popupURL := m[1]
	if strings.HasPrefix(popupURL, "/") {
		popupURL = strings.TrimSuffix(baseURL, "/") + popupURL
	}
	logger.Info("Opening grid captcha popup", zap.String("url", popupURL))

	popup, closePopup, err := opener.OpenPage(ctx, popupURL)
	if err != nil {
		return false, fmt.Errorf("failed to open captcha popup: %w", err)
	}
	defer func() {
		if err := closePopup(ctx); err != nil {
			logger.Warn("Failed to close captcha popup", zap.Error(err))
		}
	}()
	return true, solver.ResolveGrid(ctx, popup)
}
