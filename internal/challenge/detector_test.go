// File: internal/challenge/detector_test.go
package challenge

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/blswatch/internal/browser"
	"github.com/xkilldash9x/blswatch/internal/browser/browsertest"
)

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	return NewDetector(zap.NewNop())
}

func widgetEl(class, sitekey string) browser.ElementInfo {
	return browser.ElementInfo{
		Visible: true,
		Attrs:   map[string]string{"class": class, "data-sitekey": sitekey},
	}
}

func TestClassifyMainDocumentWidget(t *testing.T) {
	tests := []struct {
		name     string
		selector string
		class    string
		want     Family
	}{
		{"hcaptcha", ".h-captcha[data-sitekey]", "h-captcha", FamilyHCaptcha},
		{"turnstile", ".cf-turnstile[data-sitekey]", "cf-turnstile", FamilyTurnstile},
		{"recaptcha", ".g-recaptcha[data-sitekey]", "g-recaptcha", FamilyReCaptcha},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pg := &browsertest.FakePage{
				Elements: map[string][]browser.ElementInfo{
					tc.selector: {widgetEl(tc.class, "10000000-ffff-ffff-ffff-000000000001")},
				},
			}

			ch, err := newTestDetector(t).Classify(context.Background(), pg)
			require.NoError(t, err)
			assert.Equal(t, KindWidget, ch.Kind)
			assert.Equal(t, tc.want, ch.Family)
			assert.Equal(t, "10000000-ffff-ffff-ffff-000000000001", ch.SiteKey)
			assert.Nil(t, ch.Frame, "main-document match must not carry a frame")
		})
	}
}

func TestClassifyFindsWidgetInsideFrame(t *testing.T) {
	fr := &browsertest.FakeFrame{
		FrameURL: "https://newassets.hcaptcha.com/captcha/v1/frame",
		Elements: map[string][]browser.ElementInfo{
			".h-captcha[data-sitekey]": {widgetEl("h-captcha", "20000000-ffff-ffff-ffff-000000000002")},
		},
	}
	pg := &browsertest.FakePage{ChildFrames: []browser.Frame{fr}}

	ch, err := newTestDetector(t).Classify(context.Background(), pg)
	require.NoError(t, err)
	assert.Equal(t, KindWidget, ch.Kind)
	assert.Equal(t, FamilyHCaptcha, ch.Family)
	require.NotNil(t, ch.Frame)
	assert.Equal(t, fr.FrameURL, ch.Frame.URL())
}

func TestClassifyGenericSitekeyInfersFamilyFromClass(t *testing.T) {
	tests := []struct {
		class string
		want  Family
	}{
		{"widget cf-turnstile loaded", FamilyTurnstile},
		{"widget g-recaptcha", FamilyReCaptcha},
		{"totally-custom-wrapper", FamilyHCaptcha},
	}

	for _, tc := range tests {
		t.Run(tc.class, func(t *testing.T) {
			pg := &browsertest.FakePage{
				Elements: map[string][]browser.ElementInfo{
					"[data-sitekey]": {widgetEl(tc.class, "30000000-ffff-ffff-ffff-000000000003")},
				},
			}

			ch, err := newTestDetector(t).Classify(context.Background(), pg)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ch.Family)
		})
	}
}

func TestClassifyMarkupFallback(t *testing.T) {
	pg := &browsertest.FakePage{
		Markup: `<div class="cf-turnstile" data-sitekey="0x4AAAAAAABkMYinukE8nzYd"></div>`,
	}

	ch, err := newTestDetector(t).Classify(context.Background(), pg)
	require.NoError(t, err)

	want := Challenge{Kind: KindWidget, Family: FamilyTurnstile, SiteKey: "0x4AAAAAAABkMYinukE8nzYd"}
	if diff := cmp.Diff(want, ch, cmpopts.IgnoreFields(Challenge{}, "Frame")); diff != "" {
		t.Errorf("challenge mismatch (-want +got):\n%s", diff)
	}
}

func TestClassifyGridTakesPrecedenceOverWidget(t *testing.T) {
	pg := &browsertest.FakePage{
		Elements: map[string][]browser.ElementInfo{
			".box-label":               {{Visible: true, Text: "Please select all boxes with number 123"}},
			".captcha-img":             {{Visible: true}, {Visible: true}},
			".h-captcha[data-sitekey]": {widgetEl("h-captcha", "40000000-ffff-ffff-ffff-000000000004")},
		},
	}

	ch, err := newTestDetector(t).Classify(context.Background(), pg)
	require.NoError(t, err)
	assert.Equal(t, KindGrid, ch.Kind)
}

func TestClassifyGridRequiresCells(t *testing.T) {
	pg := &browsertest.FakePage{
		Elements: map[string][]browser.ElementInfo{
			".box-label": {{Visible: true, Text: "Please select all boxes with number 55"}},
		},
	}

	ch, err := newTestDetector(t).Classify(context.Background(), pg)
	require.NoError(t, err)
	assert.Equal(t, KindNone, ch.Kind, "label without cells is not a grid captcha")
}

func TestClassifyCleanPage(t *testing.T) {
	pg := &browsertest.FakePage{
		Markup: "<html><body><h1>Appointment Booking</h1></body></html>",
	}

	ch, err := newTestDetector(t).Classify(context.Background(), pg)
	require.NoError(t, err)
	assert.Equal(t, None, ch)
}

func TestDetectEdge(t *testing.T) {
	tests := []struct {
		name   string
		title  string
		markup string
		want   bool
	}{
		{"title phrase", "Just a moment...", "<html></html>", true},
		{"attention required", "Attention Required! | Cloudflare", "", true},
		{"markup phrase", "Portal", `<div id="cf-browser-verification"></div>`, true},
		{"challenge platform script", "Portal", `<script src="/cdn-cgi/challenge-platform/orchestrate.js"></script>`, true},
		{"clean page", "Visa Appointment", "<html><body>Login</body></html>", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pg := &browsertest.FakePage{PageTitle: tc.title, Markup: tc.markup}
			got, err := newTestDetector(t).DetectEdge(context.Background(), pg)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
