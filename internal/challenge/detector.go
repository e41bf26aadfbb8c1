// File: internal/challenge/detector.go
package challenge

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/blswatch/internal/browser"
)

// edgePhrases are the fixed indicators of the edge-network verification
// interstitial, checked against both the page title and the raw markup.
var edgePhrases = []string{
	"Just a moment",
	"Checking your browser",
	"cf-browser-verification",
	"challenge-platform",
	"Attention Required",
}

// widgetMarkers maps structural selectors to captcha families, probed in
// order. The generic [data-sitekey] probe runs after these.
var widgetMarkers = []struct {
	selector string
	family   Family
}{
	{".h-captcha[data-sitekey]", FamilyHCaptcha},
	{".cf-turnstile[data-sitekey]", FamilyTurnstile},
	{".g-recaptcha[data-sitekey]", FamilyReCaptcha},
}

// Grid captcha markers: the instruction label and the candidate cells.
const (
	gridLabelSelector = ".box-label"
	gridCellSelector  = ".captcha-img"
)

// sitekeyPattern extracts a sitekey-shaped token from raw markup when
// structured lookup fails. Anti-bot vendors restructure their DOM faster
// than selectors can be updated; this is the resilience layer.
var sitekeyPattern = regexp.MustCompile(`data-sitekey=["']([a-zA-Z0-9_-]{20,})["']`)

// Detector classifies the current page obstacle. It is read-only: no
// clicks, no navigation, no mutation.
type Detector struct {
	logger *zap.Logger
}

func NewDetector(logger *zap.Logger) *Detector {
	return &Detector{logger: logger.Named("detector")}
}

// Classify scans the main document, then every child frame, then the raw
// markup, and returns the first positive match. The edge challenge check
// runs separately via DetectEdge since it gates the whole page rather
// than a single widget.
func (d *Detector) Classify(ctx context.Context, pg browser.Page) (Challenge, error) {
	// Grid captcha first: when the custom popup is up, its cells are the
	// obstacle even if widget markup is also present underneath.
	if ok, err := d.hasGrid(ctx, pg); err != nil {
		return None, err
	} else if ok {
		d.logger.Debug("Grid captcha detected in main document")
		return Challenge{Kind: KindGrid}, nil
	}

	// Main document widget markers.
	if ch, ok, err := d.classifyScope(ctx, pg.Query, nil); err != nil {
		return None, err
	} else if ok {
		return ch, nil
	}

	// Child frames: widgets frequently render inside their vendor iframe.
	frames, err := pg.Frames(ctx)
	if err != nil {
		return None, fmt.Errorf("frame enumeration failed: %w", err)
	}
	for _, fr := range frames {
		if ch, ok, err := d.classifyScope(ctx, fr.Query, fr); err != nil {
			return None, err
		} else if ok {
			return ch, nil
		}
	}

	// Raw-markup fallback.
	html, err := pg.HTML(ctx)
	if err != nil {
		return None, fmt.Errorf("failed to read page markup: %w", err)
	}
	return d.classifyMarkup(html), nil
}

// DetectEdge reports whether the edge-network JS challenge interstitial is
// currently displayed.
func (d *Detector) DetectEdge(ctx context.Context, pg browser.Page) (bool, error) {
	title, err := pg.Title(ctx)
	if err != nil {
		return false, err
	}
	for _, phrase := range edgePhrases {
		if strings.Contains(title, phrase) {
			d.logger.Debug("Edge challenge indicator in title", zap.String("phrase", phrase))
			return true, nil
		}
	}

	html, err := pg.HTML(ctx)
	if err != nil {
		return false, err
	}
	for _, phrase := range edgePhrases {
		if strings.Contains(html, phrase) {
			d.logger.Debug("Edge challenge indicator in markup", zap.String("phrase", phrase))
			return true, nil
		}
	}
	return false, nil
}

type queryFunc func(ctx context.Context, selector string) ([]browser.ElementInfo, error)

// classifyScope runs the structural widget probes against one document
// scope (main document or a frame).
func (d *Detector) classifyScope(ctx context.Context, query queryFunc, frame browser.Frame) (Challenge, bool, error) {
	for _, marker := range widgetMarkers {
		infos, err := query(ctx, marker.selector)
		if err != nil {
			return None, false, fmt.Errorf("widget probe %q failed: %w", marker.selector, err)
		}
		if len(infos) > 0 {
			key := infos[0].Attr("data-sitekey")
			d.logger.Debug("Widget captcha detected",
				zap.String("family", string(marker.family)), zap.String("sitekey", truncateKey(key)))
			return Challenge{Kind: KindWidget, Family: marker.family, SiteKey: key, Frame: frame}, true, nil
		}
	}

	// Generic probe: any element carrying a sitekey. Family is inferred
	// from its class list, defaulting to hCaptcha, the portal's usual.
	infos, err := query(ctx, "[data-sitekey]")
	if err != nil {
		return None, false, fmt.Errorf("generic sitekey probe failed: %w", err)
	}
	if len(infos) > 0 {
		info := infos[0]
		return Challenge{
			Kind:    KindWidget,
			Family:  familyFromClass(info.Attr("class")),
			SiteKey: info.Attr("data-sitekey"),
			Frame:   frame,
		}, true, nil
	}
	return None, false, nil
}

// classifyMarkup is the regex fallback over raw page markup.
func (d *Detector) classifyMarkup(html string) Challenge {
	m := sitekeyPattern.FindStringSubmatch(html)
	if m == nil {
		return None
	}
	family := FamilyHCaptcha
	switch {
	case strings.Contains(html, "h-captcha"):
		family = FamilyHCaptcha
	case strings.Contains(html, "cf-turnstile"):
		family = FamilyTurnstile
	case strings.Contains(html, "g-recaptcha"):
		family = FamilyReCaptcha
	}
	d.logger.Debug("Widget captcha detected via markup fallback",
		zap.String("family", string(family)), zap.String("sitekey", truncateKey(m[1])))
	return Challenge{Kind: KindWidget, Family: family, SiteKey: m[1]}
}

// hasGrid reports whether the custom grid captcha surface is present:
// an instruction label plus at least one candidate cell image.
func (d *Detector) hasGrid(ctx context.Context, pg browser.Page) (bool, error) {
	labels, err := pg.Query(ctx, gridLabelSelector)
	if err != nil {
		return false, err
	}
	if len(labels) == 0 {
		return false, nil
	}
	cells, err := pg.Query(ctx, gridCellSelector)
	if err != nil {
		return false, err
	}
	return len(cells) > 0, nil
}

// familyFromClass infers the widget vendor from an element's class list.
// hCaptcha is the default: it is what the portal deploys today.
func familyFromClass(class string) Family {
	switch {
	case strings.Contains(class, "cf-turnstile"):
		return FamilyTurnstile
	case strings.Contains(class, "g-recaptcha"):
		return FamilyReCaptcha
	default:
		return FamilyHCaptcha
	}
}

func truncateKey(key string) string {
	if len(key) > 12 {
		return key[:12] + "..."
	}
	return key
}
