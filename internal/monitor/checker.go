// File: internal/monitor/checker.go

// Package monitor runs the long-lived check loop: one full portal check
// per cycle, randomized pacing between cycles, and failure containment
// around everything.
package monitor

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/blswatch/internal/browser"
)

// Result is the outcome of one check cycle.
type Result struct {
	Available    bool
	Screenshot   []byte
	EvidencePath string
}

// Checker runs one full check cycle.
type Checker interface {
	CheckOnce(ctx context.Context) (Result, error)
}

// sessionManager is the slice of the authenticator the checker needs.
type sessionManager interface {
	EnsureAuthenticated(ctx context.Context, pg browser.Page) error
}

// formDriver is the slice of the form workflow the checker needs.
type formDriver interface {
	NavigateToForm(ctx context.Context, pg browser.Page) error
	Fill(ctx context.Context, pg browser.Page) error
	SubmitAndCheck(ctx context.Context, pg browser.Page) (bool, error)
}

// screenshotStore persists check evidence.
type screenshotStore interface {
	Save(data []byte) (string, error)
}

// SlotChecker composes session management, the form workflow, and the
// evidence store into one check cycle against a single page.
type SlotChecker struct {
	pg     browser.Page
	auth   sessionManager
	form   formDriver
	store  screenshotStore
	logger *zap.Logger
}

var _ Checker = (*SlotChecker)(nil)

func NewSlotChecker(pg browser.Page, auth sessionManager, form formDriver, store screenshotStore, logger *zap.Logger) *SlotChecker {
	return &SlotChecker{
		pg:     pg,
		auth:   auth,
		form:   form,
		store:  store,
		logger: logger.Named("checker"),
	}
}

// CheckOnce runs login (if needed), the verification gate, the form, and
// the availability verdict. Evidence capture is best-effort: a failed
// screenshot never fails the check.
func (c *SlotChecker) CheckOnce(ctx context.Context) (Result, error) {
	if err := c.auth.EnsureAuthenticated(ctx, c.pg); err != nil {
		return Result{}, err
	}
	if err := c.form.NavigateToForm(ctx, c.pg); err != nil {
		return Result{}, err
	}
	if err := c.form.Fill(ctx, c.pg); err != nil {
		return Result{}, err
	}
	available, err := c.form.SubmitAndCheck(ctx, c.pg)
	if err != nil {
		return Result{}, err
	}

	res := Result{Available: available}
	shot, err := c.pg.Screenshot(ctx)
	if err != nil {
		c.logger.Warn("Screenshot capture failed", zap.Error(err))
		return res, nil
	}
	res.Screenshot = shot
	if c.store != nil {
		path, err := c.store.Save(shot)
		if err != nil {
			c.logger.Warn("Evidence save failed", zap.Error(err))
		} else {
			res.EvidencePath = path
		}
	}
	return res, nil
}
