// File: internal/auth/authenticator.go

// Package auth establishes and maintains the portal session: the login
// flow itself, the edge-network challenge in front of it, and the
// client-side session lifetime.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/blswatch/internal/browser"
	"github.com/xkilldash9x/blswatch/internal/captcha"
	"github.com/xkilldash9x/blswatch/internal/challenge"
	"github.com/xkilldash9x/blswatch/internal/config"
	"github.com/xkilldash9x/blswatch/internal/human"
)

// The login form hides decoy credential inputs among the real ones; only
// the visible pair may be touched.
const (
	emailSelector    = `input[name^="UserId"]`
	passwordSelector = `input[name^="Password"]`
	consentSelector  = `input[type="checkbox"]`
)

const (
	landingURLFragment = "/home"
	landingWait        = 20 * time.Second
	edgeWaitPolls      = 15
	edgeWaitStep       = time.Second
)

// After a captcha solve the portal re-enables the submit control; popup
// builds only render it once their callback has fired.
const (
	submitControlSelector = `button[type="submit"], input[type="submit"]`
	submitControlWait     = 10 * time.Second
)

// loginSubmitScript clicks the login form's submit control. The portal
// labels it "Verify"; standard submit inputs are the fallback.
const loginSubmitScript = `
(() => {
  const byText = (tag, text) => {
    for (const el of document.querySelectorAll(tag)) {
      if ((el.innerText || '').includes(text)) return el;
    }
    return null;
  };
  const el = byText('button', 'Verify')
    || document.querySelector('button[type="submit"]')
    || document.querySelector('input[type="submit"]')
    || byText('a', 'Verify');
  if (!el) throw new Error('login submit control not found');
  el.click();
})();
`

// edgeSubmitScript submits the edge challenge form after a widget solve.
const edgeSubmitScript = `
(() => {
  const el = document.querySelector('input[type="submit"], button[type="submit"]');
  if (el) el.click();
})();
`

// loginCallbackScript is the submit fallback for builds that never show a
// submit control and complete the login through the captcha callback.
const loginCallbackScript = `
(() => {
  if (typeof window.onCaptchaSubmit === 'function') { window.onCaptchaSubmit(); return; }
  throw new Error('no captcha submit callback');
})();
`

// ChallengeResolver is the captcha-solving surface the login flow needs.
type ChallengeResolver interface {
	ResolveWidget(ctx context.Context, pg browser.Page, ch challenge.Challenge) error
	ResolveGrid(ctx context.Context, pg browser.Page) error
}

// loginState enumerates the login flow's phases. Transitions are linear;
// the enum exists so failures report exactly where the flow died.
type loginState int

const (
	stateNavigate loginState = iota
	stateEdge
	stateCredentials
	stateConsent
	stateCaptcha
	stateSubmit
	stateVerify
	stateDone
)

func (s loginState) String() string {
	switch s {
	case stateNavigate:
		return "navigate"
	case stateEdge:
		return "edge-check"
	case stateCredentials:
		return "credentials"
	case stateConsent:
		return "consent"
	case stateCaptcha:
		return "captcha"
	case stateSubmit:
		return "submit"
	case stateVerify:
		return "verify"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Authenticator drives the portal login flow.
type Authenticator struct {
	portal   config.PortalConfig
	detector *challenge.Detector
	resolver ChallengeResolver
	opener   browser.PopupOpener
	pacer    *human.Pacer
	session  *Session
	logger   *zap.Logger

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewAuthenticator(
	portal config.PortalConfig,
	sessionTTL time.Duration,
	detector *challenge.Detector,
	resolver ChallengeResolver,
	opener browser.PopupOpener,
	pacer *human.Pacer,
	logger *zap.Logger,
) *Authenticator {
	return &Authenticator{
		portal:   portal,
		detector: detector,
		resolver: resolver,
		opener:   opener,
		pacer:    pacer,
		session:  NewSession(sessionTTL),
		logger:   logger.Named("auth"),
		sleep:    sleepCtx,
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

// Session exposes the tracked session, mainly so callers can invalidate
// it when the browser is rebuilt.
func (a *Authenticator) Session() *Session {
	return a.session
}

// EnsureAuthenticated makes sure the page holds a live portal session.
// Within the TTL it probes the home page and only re-logs-in when the
// portal redirects back to login.
func (a *Authenticator) EnsureAuthenticated(ctx context.Context, pg browser.Page) error {
	if !a.session.Valid() {
		return a.Login(ctx, pg)
	}

	if err := pg.Navigate(ctx, a.portal.HomeURL); err != nil {
		return fmt.Errorf("home probe failed: %w", err)
	}
	current, err := pg.URL(ctx)
	if err != nil {
		return err
	}
	if strings.Contains(strings.ToLower(current), "login") {
		a.logger.Info("Session expired, portal redirected to login")
		a.session.Invalidate()
		return a.Login(ctx, pg)
	}
	return nil
}

// Login runs the full login flow from a cold page.
func (a *Authenticator) Login(ctx context.Context, pg browser.Page) error {
	a.logger.Info("Starting login flow")

	state := stateNavigate
	for state != stateDone {
		next, err := a.step(ctx, pg, state)
		if err != nil {
			return fmt.Errorf("login %s: %w", state, err)
		}
		state = next
	}

	a.session.MarkEstablished()
	a.logger.Info("Login successful")
	return nil
}

func (a *Authenticator) step(ctx context.Context, pg browser.Page, state loginState) (loginState, error) {
	switch state {
	case stateNavigate:
		if err := pg.Navigate(ctx, a.portal.LoginURL); err != nil {
			return state, err
		}
		if err := a.pacer.Delay(ctx, 2*time.Second, 4*time.Second); err != nil {
			return state, err
		}
		return stateEdge, nil

	case stateEdge:
		blocked, err := a.detector.DetectEdge(ctx, pg)
		if err != nil {
			return state, err
		}
		if blocked {
			if err := a.clearEdge(ctx, pg); err != nil {
				return state, err
			}
		}
		return stateCredentials, nil

	case stateCredentials:
		if err := a.typeVisible(ctx, pg, emailSelector, a.portal.Email); err != nil {
			return state, err
		}
		if err := a.pacer.Delay(ctx, 300*time.Millisecond, 800*time.Millisecond); err != nil {
			return state, err
		}
		if err := a.typeVisible(ctx, pg, passwordSelector, a.portal.Password); err != nil {
			return state, err
		}
		if err := a.pacer.Delay(ctx, time.Second, 2*time.Second); err != nil {
			return state, err
		}
		return stateConsent, nil

	case stateConsent:
		if err := a.checkConsent(ctx, pg); err != nil {
			return state, err
		}
		return stateCaptcha, nil

	case stateCaptcha:
		if err := a.resolveObstacle(ctx, pg); err != nil {
			return state, err
		}
		if err := a.pacer.Delay(ctx, 500*time.Millisecond, time.Second); err != nil {
			return state, err
		}
		return stateSubmit, nil

	case stateSubmit:
		if err := a.pacer.Delay(ctx, 200*time.Millisecond, 600*time.Millisecond); err != nil {
			return state, err
		}
		if waitErr := pg.WaitVisible(ctx, submitControlSelector, submitControlWait); waitErr != nil {
			a.logger.Debug("Submit control not visible, invoking page callback", zap.Error(waitErr))
			if err := pg.Eval(ctx, loginCallbackScript); err != nil {
				return state, fmt.Errorf("submit control never appeared: %w", waitErr)
			}
			return stateVerify, nil
		}
		if err := pg.Eval(ctx, loginSubmitScript); err != nil {
			return state, err
		}
		return stateVerify, nil

	case stateVerify:
		if err := a.verifyLanding(ctx, pg); err != nil {
			return state, err
		}
		return stateDone, nil

	default:
		return state, fmt.Errorf("unexpected login state %d", state)
	}
}

// typeVisible types into the single visible input matching the selector,
// skipping the hidden decoys.
func (a *Authenticator) typeVisible(ctx context.Context, pg browser.Page, selector, text string) error {
	infos, err := pg.Query(ctx, selector)
	if err != nil {
		return err
	}
	for _, info := range infos {
		if info.Visible {
			return pg.Type(ctx, selector, info.Index, text)
		}
	}
	return fmt.Errorf("no visible input matches %q", selector)
}

// checkConsent ticks the privacy consent checkbox when one is shown.
func (a *Authenticator) checkConsent(ctx context.Context, pg browser.Page) error {
	infos, err := pg.Query(ctx, consentSelector)
	if err != nil {
		return err
	}
	for _, info := range infos {
		if !info.Visible {
			continue
		}
		if err := pg.Click(ctx, consentSelector, info.Index); err != nil {
			return err
		}
		return a.pacer.Delay(ctx, 300*time.Millisecond, 600*time.Millisecond)
	}
	return nil
}

// resolveObstacle classifies and clears whatever captcha the login form
// carries: an in-page widget or grid, or a grid the page opens in a
// separate popup window. An unobstructed page is not an error.
func (a *Authenticator) resolveObstacle(ctx context.Context, pg browser.Page) error {
	ch, err := a.detector.Classify(ctx, pg)
	if err != nil {
		return err
	}
	switch ch.Kind {
	case challenge.KindNone:
		found, err := captcha.SolvePopupGrid(ctx, pg, a.opener, a.portal.BaseURL, a.resolver, a.logger)
		if err != nil {
			return err
		}
		if !found {
			a.logger.Debug("No captcha on login form")
		}
		return nil
	case challenge.KindWidget:
		return a.resolver.ResolveWidget(ctx, pg, ch)
	case challenge.KindGrid:
		return a.resolver.ResolveGrid(ctx, pg)
	default:
		return fmt.Errorf("unexpected challenge kind %s", ch.Kind)
	}
}

// verifyLanding waits for the post-login redirect. An unexpected landing
// URL that is not the login page is treated as a soft success: portal
// builds differ in where they drop the user.
func (a *Authenticator) verifyLanding(ctx context.Context, pg browser.Page) error {
	if err := pg.WaitURLContains(ctx, landingURLFragment, landingWait); err == nil {
		return nil
	}
	current, err := pg.URL(ctx)
	if err != nil {
		return err
	}
	if strings.Contains(strings.ToLower(current), "login") {
		return fmt.Errorf("%w: %s", ErrLoginFailed, current)
	}
	a.logger.Warn("Unexpected post-login URL", zap.String("url", current))
	return nil
}

// edgeStrategy is one way to get past the edge interstitial. Strategies
// run in order; the first one that reports cleared wins.
type edgeStrategy struct {
	name string
	run  func(ctx context.Context, pg browser.Page) (bool, error)
}

func (a *Authenticator) clearEdge(ctx context.Context, pg browser.Page) error {
	a.logger.Info("Edge challenge detected")

	strategies := []edgeStrategy{
		{"wait-for-clearance", a.edgeWait},
		{"solve-widget", a.edgeSolveWidget},
		{"reload", a.edgeReload},
	}
	for _, s := range strategies {
		cleared, err := s.run(ctx, pg)
		if err != nil {
			return err
		}
		if cleared {
			a.logger.Info("Edge challenge cleared", zap.String("strategy", s.name))
			return nil
		}
		a.logger.Debug("Edge strategy did not clear the challenge", zap.String("strategy", s.name))
	}
	return ErrChallengeUnresolved
}

// edgeWait gives the automatic JS challenge time to clear on its own.
func (a *Authenticator) edgeWait(ctx context.Context, pg browser.Page) (bool, error) {
	for i := 0; i < edgeWaitPolls; i++ {
		blocked, err := a.detector.DetectEdge(ctx, pg)
		if err != nil {
			return false, err
		}
		if !blocked {
			return true, nil
		}
		if err := a.sleep(ctx, edgeWaitStep); err != nil {
			return false, err
		}
	}
	return false, nil
}

// edgeSolveWidget solves an interactive widget embedded in the
// interstitial, if one is present, and resubmits.
func (a *Authenticator) edgeSolveWidget(ctx context.Context, pg browser.Page) (bool, error) {
	ch, err := a.detector.Classify(ctx, pg)
	if err != nil {
		return false, err
	}
	if ch.Kind != challenge.KindWidget {
		return false, nil
	}
	if err := a.resolver.ResolveWidget(ctx, pg, ch); err != nil {
		return false, err
	}
	if err := pg.Eval(ctx, edgeSubmitScript); err != nil {
		return false, err
	}
	if err := a.sleep(ctx, 2*time.Second); err != nil {
		return false, err
	}
	blocked, err := a.detector.DetectEdge(ctx, pg)
	return !blocked, err
}

// edgeReload is the last resort: reload and hope the clearance cookie
// stuck.
func (a *Authenticator) edgeReload(ctx context.Context, pg browser.Page) (bool, error) {
	if err := pg.Reload(ctx); err != nil {
		return false, err
	}
	if err := a.sleep(ctx, 5*time.Second); err != nil {
		return false, err
	}
	blocked, err := a.detector.DetectEdge(ctx, pg)
	return !blocked, err
}
