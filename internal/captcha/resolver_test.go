// File: internal/captcha/resolver_test.go
package captcha

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/blswatch/internal/browser"
	"github.com/xkilldash9x/blswatch/internal/browser/browsertest"
	"github.com/xkilldash9x/blswatch/internal/challenge"
	"github.com/xkilldash9x/blswatch/internal/config"
)

// fakeSolver is a scriptable SolverClient.
type fakeSolver struct {
	mu sync.Mutex

	widgetCalls int
	// widgetErrs[i] is returned on call i; past the end, widgetToken wins.
	widgetErrs  []error
	widgetToken string

	// digits maps a base64 payload to the recognized answer.
	digits    map[string]string
	digitErrs map[string]error

	balance float64
}

func (f *fakeSolver) SolveWidget(ctx context.Context, family challenge.Family, siteKey, pageURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.widgetCalls
	f.widgetCalls++
	if call < len(f.widgetErrs) && f.widgetErrs[call] != nil {
		return "", f.widgetErrs[call]
	}
	return f.widgetToken, nil
}

func (f *fakeSolver) RecognizeDigits(ctx context.Context, b64 string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.digitErrs[b64]; err != nil {
		return "", err
	}
	d, ok := f.digits[b64]
	if !ok {
		return "", fmt.Errorf("unrecognizable payload %q", b64)
	}
	return d, nil
}

func (f *fakeSolver) Balance(ctx context.Context) (float64, error) {
	return f.balance, nil
}

func newTestResolver(solver SolverClient) *Resolver {
	cfg := config.SolverConfig{MaxAttempts: 3, RetryDelay: time.Millisecond}
	r := NewResolver(solver, cfg, zap.NewNop())
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return r
}

func TestResolveWidgetInjectsTokenIntoFamilyFields(t *testing.T) {
	tests := []struct {
		family challenge.Family
		fields []string
	}{
		{challenge.FamilyHCaptcha, []string{"h-captcha-response", "g-recaptcha-response"}},
		{challenge.FamilyTurnstile, []string{"cf-turnstile-response"}},
		{challenge.FamilyReCaptcha, []string{"g-recaptcha-response"}},
	}

	for _, tc := range tests {
		t.Run(string(tc.family), func(t *testing.T) {
			solver := &fakeSolver{widgetToken: "tok-abc"}
			pg := &browsertest.FakePage{CurrentURL: "https://portal.example/login"}
			r := newTestResolver(solver)

			err := r.ResolveWidget(context.Background(), pg, challenge.Challenge{
				Kind: challenge.KindWidget, Family: tc.family, SiteKey: "sk",
			})
			require.NoError(t, err)

			require.Len(t, pg.ValuesSet, len(tc.fields))
			for _, field := range tc.fields {
				sel := fmt.Sprintf(`[name=%q]`, field)
				assert.Equal(t, "tok-abc", pg.ValuesSet[sel])
			}
		})
	}
}

func TestResolveWidgetRetriesThenSucceeds(t *testing.T) {
	solver := &fakeSolver{
		widgetErrs:  []error{errors.New("service hiccup"), errors.New("another hiccup")},
		widgetToken: "tok-third-try",
	}
	pg := &browsertest.FakePage{CurrentURL: "https://portal.example/login"}

	err := newTestResolver(solver).ResolveWidget(context.Background(), pg, challenge.Challenge{
		Kind: challenge.KindWidget, Family: challenge.FamilyHCaptcha, SiteKey: "sk",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, solver.widgetCalls)
	assert.Equal(t, "tok-third-try", pg.ValuesSet[`[name="h-captcha-response"]`])
}

func TestResolveWidgetExhaustsAttempts(t *testing.T) {
	boom := errors.New("service down")
	solver := &fakeSolver{widgetErrs: []error{boom, boom, boom}}
	pg := &browsertest.FakePage{CurrentURL: "https://portal.example/login"}

	err := newTestResolver(solver).ResolveWidget(context.Background(), pg, challenge.Challenge{
		Kind: challenge.KindWidget, Family: challenge.FamilyHCaptcha, SiteKey: "sk",
	})
	assert.ErrorIs(t, err, ErrSolveFailed)
	assert.Equal(t, 3, solver.widgetCalls)
	assert.Empty(t, pg.ValuesSet, "no token injected on failure")
}

func TestResolveWidgetUnsupportedFamily(t *testing.T) {
	solver := &fakeSolver{}
	pg := &browsertest.FakePage{}

	err := newTestResolver(solver).ResolveWidget(context.Background(), pg, challenge.Challenge{
		Kind: challenge.KindWidget, Family: challenge.Family("funcaptcha"),
	})
	assert.ErrorIs(t, err, ErrUnsupportedCaptcha)
	assert.Zero(t, solver.widgetCalls)
}

func gridCellInfo(id, payload string, visible bool) browser.ElementInfo {
	return browser.ElementInfo{
		Visible:     visible,
		ContainerID: id,
		Attrs:       map[string]string{"src": "data:image/png;base64," + payload},
	}
}

func TestResolveGridClicksMatchesAndSubmits(t *testing.T) {
	solver := &fakeSolver{
		digits: map[string]string{
			"AAA": "123",
			"BBB": "456",
			"CCC": "123",
		},
	}
	pg := &browsertest.FakePage{
		Elements: map[string][]browser.ElementInfo{
			gridLabelSelector: {
				{Visible: false, Text: "Please select all boxes with number 999"},
				{Visible: true, Text: "Please select all boxes with number 123"},
			},
			gridCellSelector: {
				gridCellInfo("cell-a", "AAA", true),
				gridCellInfo("cell-b", "BBB", true),
				gridCellInfo("cell-c", "CCC", true),
			},
		},
	}

	err := newTestResolver(solver).ResolveGrid(context.Background(), pg)
	require.NoError(t, err)

	require.Len(t, pg.Clicks, 2)
	assert.Equal(t, "#cell-a img", pg.Clicks[0].Selector)
	assert.Equal(t, "#cell-c img", pg.Clicks[1].Selector)
	require.NotEmpty(t, pg.Evaled, "grid completion script must run")
}

func TestResolveGridIgnoresHoneypotCells(t *testing.T) {
	solver := &fakeSolver{digits: map[string]string{"VIS": "55"}}
	pg := &browsertest.FakePage{
		Elements: map[string][]browser.ElementInfo{
			gridLabelSelector: {{Visible: true, Text: "select all boxes with number 55"}},
			gridCellSelector: {
				gridCellInfo("trap-1", "HIDDEN", false),
				gridCellInfo("cell-v", "VIS", true),
				// No container id: unaddressable, skipped.
				{Visible: true, Attrs: map[string]string{"src": "data:image/png;base64,ORPHAN"}},
				// External src: not an inline payload, skipped.
				{Visible: true, ContainerID: "cell-x", Attrs: map[string]string{"src": "https://cdn.example/x.png"}},
			},
		},
	}

	err := newTestResolver(solver).ResolveGrid(context.Background(), pg)
	require.NoError(t, err)
	require.Len(t, pg.Clicks, 1)
	assert.Equal(t, "#cell-v img", pg.Clicks[0].Selector)
}

func TestResolveGridToleratesPerCellFailures(t *testing.T) {
	solver := &fakeSolver{
		digits:    map[string]string{"GOOD": "77"},
		digitErrs: map[string]error{"BAD": errors.New("recognition failed")},
	}
	pg := &browsertest.FakePage{
		Elements: map[string][]browser.ElementInfo{
			gridLabelSelector: {{Visible: true, Text: "boxes with number 77"}},
			gridCellSelector: {
				gridCellInfo("cell-bad", "BAD", true),
				gridCellInfo("cell-good", "GOOD", true),
			},
		},
	}

	err := newTestResolver(solver).ResolveGrid(context.Background(), pg)
	require.NoError(t, err)
	require.Len(t, pg.Clicks, 1)
	assert.Equal(t, "#cell-good img", pg.Clicks[0].Selector)
}

func TestResolveGridNoMatches(t *testing.T) {
	solver := &fakeSolver{digits: map[string]string{"AAA": "111", "BBB": "222"}}
	pg := &browsertest.FakePage{
		Elements: map[string][]browser.ElementInfo{
			gridLabelSelector: {{Visible: true, Text: "boxes with number 999"}},
			gridCellSelector: {
				gridCellInfo("cell-a", "AAA", true),
				gridCellInfo("cell-b", "BBB", true),
			},
		},
	}

	err := newTestResolver(solver).ResolveGrid(context.Background(), pg)
	assert.ErrorIs(t, err, ErrNoMatchingCells)
	assert.Empty(t, pg.Clicks)
}

func TestResolveGridFallsBackToCallback(t *testing.T) {
	solver := &fakeSolver{digits: map[string]string{"AAA": "33"}}
	pg := &browsertest.FakePage{
		Elements: map[string][]browser.ElementInfo{
			gridLabelSelector: {{Visible: true, Text: "boxes with number 33"}},
			gridCellSelector:  {gridCellInfo("cell-a", "AAA", true)},
		},
	}
	// First Eval (submit control) fails, second (callback) succeeds.
	calls := 0
	pg.OnEval = func(js string) error {
		calls++
		if calls == 1 {
			return errors.New("submit control not found")
		}
		return nil
	}

	err := newTestResolver(solver).ResolveGrid(context.Background(), pg)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
