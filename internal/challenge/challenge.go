// File: internal/challenge/challenge.go

// Package challenge classifies the obstacle currently standing between the
// monitor and the portal: nothing, an edge-network JS challenge, one of the
// known sitekey-addressed captcha widgets, or the portal's custom grid
// captcha. A classification is a snapshot of one detection pass; the frame
// reference inside it goes stale on the next navigation and must not be
// retained.
package challenge

import "github.com/xkilldash9x/blswatch/internal/browser"

// Kind enumerates the obstacle classes.
type Kind int

const (
	KindNone Kind = iota
	KindEdgeJS
	KindWidget
	KindGrid
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindEdgeJS:
		return "edge-js"
	case KindWidget:
		return "widget"
	case KindGrid:
		return "grid"
	default:
		return "unknown"
	}
}

// Family identifies which widget captcha vendor is present.
type Family string

const (
	FamilyHCaptcha  Family = "hcaptcha"
	FamilyTurnstile Family = "turnstile"
	FamilyReCaptcha Family = "recaptcha"
)

// Challenge is the result of one detection pass.
type Challenge struct {
	Kind    Kind
	Family  Family
	SiteKey string
	// Frame is non-nil when the obstacle was found inside a child frame.
	Frame browser.Frame
}

// None is the absent-obstacle classification.
var None = Challenge{Kind: KindNone}
