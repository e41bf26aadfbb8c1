// File: internal/form/workflow.go

// Package form drives the appointment form: the verification gate in
// front of it, label-driven field filling, and the availability verdict
// after submission. The portal renders fields in randomized order with
// randomized ids, so everything is located through label text.
package form

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

// FieldKind distinguishes how a form field is operated.
type FieldKind int

const (
	FieldDropdown FieldKind = iota
	FieldRadio
)

// FieldSpec binds a label substring to the configured value and the input
// kind behind it. HasPopup marks selections that trigger a confirmation
// modal.
type FieldSpec struct {
	Label    string
	Kind     FieldKind
	HasPopup bool
	Value    func(cfg config.FormConfig) string
}

// fieldSpecs is the canonical field table, matched case-insensitively
// against label text. Order here is irrelevant: fields are filled in the
// order they appear on the page.
var fieldSpecs = []FieldSpec{
	{Label: "appointment category", Kind: FieldDropdown, Value: func(c config.FormConfig) string { return c.AppointmentCategory }},
	{Label: "appointment for", Kind: FieldRadio, HasPopup: true, Value: func(c config.FormConfig) string { return c.AppointmentFor }},
	{Label: "number of members", Kind: FieldDropdown, Value: func(c config.FormConfig) string { return c.NumberOfMembers }},
	{Label: "location", Kind: FieldDropdown, Value: func(c config.FormConfig) string { return c.Location }},
	{Label: "visa type", Kind: FieldDropdown, Value: func(c config.FormConfig) string { return c.VisaType }},
	{Label: "visa sub type", Kind: FieldDropdown, Value: func(c config.FormConfig) string { return c.VisaSubType }},
}

// No-slot phrases are checked before slot phrases: a page saying
// "no appointments available" must never alert.
var (
	noSlotPhrases = []string{
		"no appointments available",
		"no slots available",
		"currently, no slots",
		"no available dates",
		"currently unavailable",
	}
	slotPhrases = []string{
		"select date",
		"select time",
		"available dates",
		"book appointment",
		"appointment date",
		"calendar",
	}
)

// verifySelectionScript clicks the "Verify Selection" control on the
// verification gate.
const verifySelectionScript = `
(() => {
  const byText = (tag, text) => {
    for (const el of document.querySelectorAll(tag)) {
      if ((el.innerText || '').includes(text)) return el;
    }
    return null;
  };
  const el = byText('button', 'Verify Selection')
    || document.querySelector('input[value*="Verify"]')
    || byText('a', 'Verify Selection');
  if (!el) throw new Error('verify selection control not found');
  el.click();
})();
`

// genericSubmitScript clicks the first visible submit control.
const genericSubmitScript = `
(() => {
  const candidates = document.querySelectorAll('button[type="submit"], input[type="submit"], button');
  for (const el of candidates) {
    const rect = el.getBoundingClientRect();
    if (rect.width === 0 || rect.height === 0) continue;
    const text = (el.innerText || el.value || '').trim();
    if (el.type === 'submit' || text.includes('Submit')) { el.click(); return; }
  }
  throw new Error('submit control not found');
})();
`

// confirmPopupScript dismisses the confirmation modal some selections
// raise. Absence of a modal is not an error.
const confirmPopupScript = `
(() => {
  const selectors = ['.modal .btn-primary', '.swal2-confirm'];
  for (const sel of selectors) {
    const el = document.querySelector(sel);
    if (el) { el.click(); return; }
  }
  for (const el of document.querySelectorAll('button')) {
    const text = (el.innerText || '').trim();
    if (text === 'Confirm' || text === 'OK') { el.click(); return; }
  }
  throw new Error('no confirmation modal');
})();
`

// partialSelectScript is the dropdown fallback: pick the first option
// whose text contains the value, across every select on the page.
const partialSelectScript = `
((val) => {
  for (const sel of document.querySelectorAll('select')) {
    for (const opt of sel.options) {
      if (opt.text.includes(val)) {
        sel.value = opt.value;
        sel.dispatchEvent(new Event('change', { bubbles: true }));
        return;
      }
    }
  }
  throw new Error('no option contains ' + val);
})(%s);
`

// CaptchaResolver is the solving surface the workflow needs.
type CaptchaResolver interface {
	ResolveWidget(ctx context.Context, pg browser.Page, ch challenge.Challenge) error
	ResolveGrid(ctx context.Context, pg browser.Page) error
}

// Workflow drives the verification gate and the appointment form.
type Workflow struct {
	form     config.FormConfig
	portal   config.PortalConfig
	detector *challenge.Detector
	resolver CaptchaResolver
	opener   browser.PopupOpener
	pacer    *human.Pacer
	logger   *zap.Logger
}

func NewWorkflow(
	formCfg config.FormConfig,
	portal config.PortalConfig,
	detector *challenge.Detector,
	resolver CaptchaResolver,
	opener browser.PopupOpener,
	pacer *human.Pacer,
	logger *zap.Logger,
) *Workflow {
	return &Workflow{
		form:     formCfg,
		portal:   portal,
		detector: detector,
		resolver: resolver,
		opener:   opener,
		pacer:    pacer,
		logger:   logger.Named("form"),
	}
}

// NavigateToForm passes the verification gate: open the verification
// page, click through, clear the captcha behind it, and submit.
func (w *Workflow) NavigateToForm(ctx context.Context, pg browser.Page) error {
	w.logger.Info("Navigating to visa type verification")
	if err := pg.Navigate(ctx, w.portal.VerificationURL); err != nil {
		return err
	}
	if err := w.pacer.Delay(ctx, 2*time.Second, 4*time.Second); err != nil {
		return err
	}

	if err := pg.Eval(ctx, verifySelectionScript); err != nil {
		return fmt.Errorf("verify selection failed: %w", err)
	}
	if err := w.pacer.Delay(ctx, 2*time.Second, 3*time.Second); err != nil {
		return err
	}

	if err := w.resolveObstacle(ctx, pg); err != nil {
		return err
	}
	if err := w.pacer.Delay(ctx, 500*time.Millisecond, time.Second); err != nil {
		return err
	}

	if err := pg.Eval(ctx, genericSubmitScript); err != nil {
		return fmt.Errorf("verification submit failed: %w", err)
	}
	if err := w.pacer.Delay(ctx, 2*time.Second, 3*time.Second); err != nil {
		return err
	}

	current, err := pg.URL(ctx)
	if err != nil {
		return err
	}
	w.logger.Info("On form page", zap.String("url", current))
	return nil
}

// resolveObstacle clears whatever captcha guards the verification gate:
// an in-page widget or grid, or a grid rendered in a separate popup.
func (w *Workflow) resolveObstacle(ctx context.Context, pg browser.Page) error {
	ch, err := w.detector.Classify(ctx, pg)
	if err != nil {
		return err
	}
	switch ch.Kind {
	case challenge.KindWidget:
		return w.resolver.ResolveWidget(ctx, pg, ch)
	case challenge.KindGrid:
		return w.resolver.ResolveGrid(ctx, pg)
	}
	return w.resolvePopupGrid(ctx, pg)
}

// resolvePopupGrid handles portal builds that open the grid captcha in a
// separate window.
func (w *Workflow) resolvePopupGrid(ctx context.Context, pg browser.Page) error {
	_, err := captcha.SolvePopupGrid(ctx, pg, w.opener, w.portal.BaseURL, w.resolver, w.logger)
	return err
}

// Fill identifies every expected field by its label and fills it with the
// configured value, in the order the page presents them.
func (w *Workflow) Fill(ctx context.Context, pg browser.Page) error {
	labels, err := pg.Query(ctx, "label")
	if err != nil {
		return fmt.Errorf("failed to query form labels: %w", err)
	}

	filled := make(map[string]bool, len(fieldSpecs))
	for _, label := range labels {
		spec, ok := matchSpec(label.Text)
		if !ok || filled[spec.Label] {
			continue
		}
		value := spec.Value(w.form)
		filled[spec.Label] = true
		if value == "" {
			// Optional fields (visa sub type) may be left unset.
			w.logger.Debug("Skipping field with no configured value", zap.String("field", spec.Label))
			continue
		}

		w.logger.Info("Filling field", zap.String("field", spec.Label), zap.String("value", value))
		if err := w.pacer.Delay(ctx, 500*time.Millisecond, 1500*time.Millisecond); err != nil {
			return err
		}

		switch spec.Kind {
		case FieldDropdown:
			err = w.fillDropdown(ctx, pg, label, value)
		case FieldRadio:
			err = w.fillRadio(ctx, pg, labels, value, spec.HasPopup)
		}
		if err != nil {
			return fmt.Errorf("failed to fill %q: %w", spec.Label, err)
		}

		if err := w.pacer.Delay(ctx, 800*time.Millisecond, 1800*time.Millisecond); err != nil {
			return err
		}
	}

	var missing []string
	for _, spec := range fieldSpecs {
		if !filled[spec.Label] {
			missing = append(missing, spec.Label)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(missing, ", "))
	}
	w.logger.Info("All form fields filled")
	return nil
}

func matchSpec(labelText string) (FieldSpec, bool) {
	text := strings.ToLower(strings.TrimSpace(labelText))
	for _, spec := range fieldSpecs {
		if strings.Contains(text, spec.Label) {
			return spec, true
		}
	}
	return FieldSpec{}, false
}

// fillDropdown selects by visible option text on the select the label
// points at, falling back to a partial match across all selects.
func (w *Workflow) fillDropdown(ctx context.Context, pg browser.Page, label browser.ElementInfo, value string) error {
	selector := "select"
	if forAttr := label.Attr("for"); forAttr != "" {
		selector = "#" + forAttr
	}
	if err := pg.SelectByText(ctx, selector, 0, value); err == nil {
		return nil
	}
	// Dependent dropdowns sometimes re-render under a different id.
	return pg.Eval(ctx, fmt.Sprintf(partialSelectScript, jsString(value)))
}

// fillRadio clicks the label carrying the desired option text, then
// dismisses the confirmation modal if the selection raises one.
func (w *Workflow) fillRadio(ctx context.Context, pg browser.Page, labels []browser.ElementInfo, value string, hasPopup bool) error {
	target := -1
	for _, info := range labels {
		if strings.Contains(info.Text, value) {
			target = info.Index
			break
		}
	}
	if target < 0 {
		return fmt.Errorf("no radio label contains %q", value)
	}
	if err := pg.Click(ctx, "label", target); err != nil {
		return err
	}

	if hasPopup {
		if err := w.pacer.Delay(ctx, time.Second, 2*time.Second); err != nil {
			return err
		}
		if err := pg.Eval(ctx, confirmPopupScript); err != nil {
			w.logger.Warn("No confirmation modal appeared", zap.String("value", value))
		}
	}
	return nil
}

// SubmitAndCheck submits the form and classifies the response. The bias
// is deliberate: an unrecognized page reads as availability, because a
// missed slot costs far more than a false alert.
func (w *Workflow) SubmitAndCheck(ctx context.Context, pg browser.Page) (bool, error) {
	if err := w.pacer.Delay(ctx, 200*time.Millisecond, 600*time.Millisecond); err != nil {
		return false, err
	}
	if err := pg.Eval(ctx, genericSubmitScript); err != nil {
		return false, fmt.Errorf("form submit failed: %w", err)
	}
	if err := w.pacer.Delay(ctx, 3*time.Second, 5*time.Second); err != nil {
		return false, err
	}
	return w.checkAvailability(ctx, pg)
}

func (w *Workflow) checkAvailability(ctx context.Context, pg browser.Page) (bool, error) {
	bodies, err := pg.Query(ctx, "body")
	if err != nil {
		return false, fmt.Errorf("failed to read page body: %w", err)
	}
	var text string
	if len(bodies) > 0 {
		text = strings.ToLower(bodies[0].Text)
	}

	for _, phrase := range noSlotPhrases {
		if strings.Contains(text, phrase) {
			w.logger.Info("No slots", zap.String("matched", phrase))
			return false, nil
		}
	}
	for _, phrase := range slotPhrases {
		if strings.Contains(text, phrase) {
			w.logger.Info("Slots possibly available", zap.String("matched", phrase))
			return true, nil
		}
	}
	w.logger.Warn("Ambiguous page state, treating as potential availability")
	return true, nil
}

// jsString encodes a Go string as a JS string literal.
func jsString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`)
	return "'" + r.Replace(s) + "'"
}
