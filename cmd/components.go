// File: cmd/components.go
package cmd

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/blswatch/internal/auth"
	"github.com/xkilldash9x/blswatch/internal/browser"
	"github.com/xkilldash9x/blswatch/internal/captcha"
	"github.com/xkilldash9x/blswatch/internal/challenge"
	"github.com/xkilldash9x/blswatch/internal/config"
	"github.com/xkilldash9x/blswatch/internal/evidence"
	"github.com/xkilldash9x/blswatch/internal/form"
	"github.com/xkilldash9x/blswatch/internal/human"
	"github.com/xkilldash9x/blswatch/internal/monitor"
	"github.com/xkilldash9x/blswatch/internal/notify"
)

// slotDetails derives the alert payload from the monitored selection.
func slotDetails(cfg *config.Config) notify.SlotDetails {
	return notify.SlotDetails{
		Location:        cfg.Form.Location,
		VisaType:        cfg.Form.VisaType,
		VisaSubType:     cfg.Form.VisaSubType,
		AppointmentFor:  cfg.Form.AppointmentFor,
		NumberOfMembers: cfg.Form.NumberOfMembers,
		BookingURL:      cfg.Portal.VerificationURL,
	}
}

// checkerFactory builds a complete checker stack on top of a fresh
// browser. The monitor loop calls it again after every failed cycle.
func checkerFactory(cfg *config.Config, logger *zap.Logger) monitor.Factory {
	return func(ctx context.Context) (monitor.Checker, func(), error) {
		mgr := browser.NewManager(cfg.Browser, logger)
		pg, err := mgr.NewPage(ctx)
		if err != nil {
			teardown(mgr, nil)
			return nil, nil, err
		}

		detector := challenge.NewDetector(logger)
		client := captcha.NewClient(cfg.Solver, logger)
		resolver := captcha.NewResolver(client, cfg.Solver, logger)
		pacer := human.NewPacer()

		authn := auth.NewAuthenticator(cfg.Portal, cfg.Monitor.SessionTTL, detector, resolver, pg, pacer, logger)
		workflow := form.NewWorkflow(cfg.Form, cfg.Portal, detector, resolver, pg, pacer, logger)
		store := evidence.NewStore(cfg.Evidence, logger)

		checker := monitor.NewSlotChecker(pg, authn, workflow, store, logger)
		return checker, func() { teardown(mgr, pg) }, nil
	}
}

func teardown(mgr *browser.Manager, pg *browser.Tab) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if pg != nil {
		_ = pg.Close(ctx)
	}
	_ = mgr.Close(ctx)
}
