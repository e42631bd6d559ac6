package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/ppsr/models"
	"github.com/use-agent/ppsr/pacing"
	"github.com/use-agent/ppsr/portal"
)

// extractPollInterval is how often the results page is re-read while
// waiting for the plate to render.
const extractPollInterval = 250 * time.Millisecond

// openPortal loads the login page and waits for the login form.
func (l *lookup) openPortal(ctx context.Context, p *rod.Page) error {
	prof := l.runner.profile

	if err := l.navigate(p, prof.LoginURL); err != nil {
		return models.NewAutomationError(models.ErrCodeNavigation, StepInit,
			"portal login page could not be opened", err)
	}
	if _, err := l.find(p, prof.Login.Form, "", false); err != nil {
		return models.NewAutomationError(models.ErrCodeNavigation, StepInit,
			"login form did not appear", err)
	}
	return l.runner.pacer.PauseDelay(ctx)
}

// authenticate types the credentials, ticks the login declaration when the
// portal has one and submits the form.
func (l *lookup) authenticate(ctx context.Context, p *rod.Page) error {
	login := l.runner.profile.Login

	user, err := l.find(p, login.Username, "", true)
	if err != nil {
		return models.NewAutomationError(models.ErrCodeAuthentication, StepAuthenticate,
			"username field not found", err)
	}
	if err := l.typeHuman(ctx, p, user, l.req.Username); err != nil {
		return models.NewAutomationError(models.ErrCodeAuthentication, StepAuthenticate,
			"username could not be entered", err)
	}
	l.trace.Event("action", "typed username")

	pass, err := l.find(p, login.Password, "", true)
	if err != nil {
		return models.NewAutomationError(models.ErrCodeAuthentication, StepAuthenticate,
			"password field not found", err)
	}
	if err := l.typeHuman(ctx, p, pass, l.req.Password); err != nil {
		return models.NewAutomationError(models.ErrCodeAuthentication, StepAuthenticate,
			"password could not be entered", err)
	}
	l.trace.Event("action", "typed password")

	if login.Declaration != "" {
		box, err := l.find(p, login.Declaration, "", false)
		if err != nil {
			return models.NewAutomationError(models.ErrCodeAuthentication, StepAuthenticate,
				"login declaration checkbox not found", err)
		}
		if err := l.tick(box); err != nil {
			return models.NewAutomationError(models.ErrCodeAuthentication, StepAuthenticate,
				"login declaration checkbox could not be ticked", err)
		}
		l.trace.Event("action", "ticked login declaration")
	}

	if err := l.runner.pacer.PauseDelay(ctx); err != nil {
		return err
	}
	return l.submitLogin(p)
}

// submitLogin tries the explicit login button, then any submit control,
// then Enter in the focused field.
func (l *lookup) submitLogin(p *rod.Page) error {
	login := l.runner.profile.Login

	for _, sel := range []string{login.Submit, login.FallbackSubmit} {
		if sel == "" {
			continue
		}
		has, btn, err := p.Has(sel)
		if err != nil {
			return err
		}
		if !has {
			continue
		}
		l.log.Info("submitting login", "via", sel)
		l.trace.Event("action", "click "+sel)
		if err := l.clickAndSettle(p, btn); err != nil {
			return models.NewAutomationError(models.ErrCodeAuthentication, StepAuthenticate,
				"login button could not be clicked", err)
		}
		return nil
	}

	// implicit submission fires from a text field, not the declaration box
	if has, pass, err := p.Has(login.Password); err == nil && has {
		if err := pass.Focus(); err != nil {
			l.log.Debug("could not focus password field", "error", err)
		}
	}
	l.log.Info("submitting login", "via", "enter")
	l.trace.Event("action", "press Enter")
	wait := l.waitNavigation(p)
	defer wait.cancel()
	if err := p.Keyboard.Press(input.Enter); err != nil {
		return models.NewAutomationError(models.ErrCodeAuthentication, StepAuthenticate,
			"login form could not be submitted", err)
	}
	wait.wait()
	return nil
}

// confirmLogin waits for the post-login marker. Its absence means the
// portal did not accept the credentials.
func (l *lookup) confirmLogin(ctx context.Context, p *rod.Page) error {
	login := l.runner.profile.Login

	if _, err := l.find(p, login.SuccessMarker, "", false); err != nil {
		msg := "login was not accepted"
		if login.ErrorMarker != "" {
			if has, el, herr := p.Has(login.ErrorMarker); herr == nil && has {
				if text, terr := el.Text(); terr == nil && text != "" {
					msg = fmt.Sprintf("login was not accepted: %s", collapse(text))
				}
			}
		}
		return models.NewAutomationError(models.ErrCodeAuthentication, StepPostLogin, msg, err)
	}
	l.log.Info("logged in")
	return l.runner.pacer.PauseDelay(ctx)
}

// navigateSearch opens the serial number search, directly or through the
// profile's menu path.
func (l *lookup) navigateSearch(ctx context.Context, p *rod.Page) error {
	search := l.runner.profile.Search

	if search.URL != "" {
		if err := l.navigate(p, search.URL); err != nil {
			return models.NewAutomationError(models.ErrCodeNavigation, StepNavigateSearch,
				"search page could not be opened", err)
		}
	} else {
		for i, m := range search.Menu {
			if err := l.menuStep(ctx, p, m); err != nil {
				return models.NewAutomationError(models.ErrCodeNavigation, StepNavigateSearch,
					fmt.Sprintf("menu item %d (%s) not reachable", i+1, m.Action), err)
			}
		}
	}

	if _, err := l.find(p, search.VINInput, "", false); err != nil {
		return models.NewAutomationError(models.ErrCodeNavigation, StepNavigateSearch,
			"search form did not appear", err)
	}
	return nil
}

func (l *lookup) menuStep(ctx context.Context, p *rod.Page, m portal.MenuStep) error {
	el, err := l.find(p, m.Selector, m.Text, true)
	if err != nil {
		return err
	}
	l.trace.Event("action", m.Action+" "+m.Selector)

	switch m.Action {
	case portal.ActionHover:
		if err := el.Hover(); err != nil {
			return err
		}
		return l.runner.pacer.PauseDelay(ctx)
	default:
		return l.clickAndSettle(p, el)
	}
}

// enterVIN types the VIN and ticks the search declaration. A declaration
// that stays unticked is a failure, not a warning.
func (l *lookup) enterVIN(ctx context.Context, p *rod.Page) error {
	search := l.runner.profile.Search

	vin, err := l.find(p, search.VINInput, "", true)
	if err != nil {
		return models.NewAutomationError(models.ErrCodeFormInteraction, StepEnterVIN,
			"VIN field not found", err)
	}

	l.runScript(p, search.FocusScript)
	if err := l.typeHuman(ctx, p, vin, l.req.VINNumber); err != nil {
		return models.NewAutomationError(models.ErrCodeFormInteraction, StepEnterVIN,
			"VIN could not be entered", err)
	}
	l.runScript(p, search.BlurScript)
	l.log.Info("VIN entered", "vin", l.req.MaskedVIN())
	l.trace.Event("action", "typed VIN "+l.req.MaskedVIN())

	box, err := l.find(p, search.Declaration, "", false)
	if err != nil {
		return models.NewAutomationError(models.ErrCodeFormInteraction, StepEnterVIN,
			"search declaration checkbox not found", err)
	}
	if err := l.tick(box); err != nil {
		return models.NewAutomationError(models.ErrCodeFormInteraction, StepEnterVIN,
			"search declaration checkbox could not be ticked", err)
	}
	l.trace.Event("action", "ticked search declaration")

	return l.runner.pacer.PauseDelay(ctx)
}

// submitSearch clicks search and waits for the results to render.
func (l *lookup) submitSearch(ctx context.Context, p *rod.Page) error {
	search := l.runner.profile.Search

	btn, err := l.find(p, search.Submit, "", true)
	if err != nil {
		return models.NewAutomationError(models.ErrCodeFormInteraction, StepSubmit,
			"search button not found", err)
	}
	l.trace.Event("action", "click "+search.Submit)
	if err := l.clickAndSettle(p, btn); err != nil {
		return models.NewAutomationError(models.ErrCodeFormInteraction, StepSubmit,
			"search button could not be clicked", err)
	}

	if ready := l.runner.profile.Results.Ready; ready != "" {
		if _, err := l.find(p, ready, "", false); err != nil {
			return models.NewAutomationError(models.ErrCodeFormInteraction, StepSubmit,
				"search results did not appear", err)
		}
	} else if err := p.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		l.log.Debug("WaitDOMStable did not converge, proceeding with current DOM", "error", err)
	}

	return l.runner.pacer.SettleDelay(ctx)
}

// extractPlate re-reads the results page until the plate strategy finds a
// value or the element timeout passes.
func (l *lookup) extractPlate(ctx context.Context, p *rod.Page) error {
	strategy := l.runner.profile.Results.Plate
	deadline := time.Now().Add(l.runner.cfg.ElementTimeout)

	for {
		html, err := p.HTML()
		if err != nil {
			return models.NewAutomationError(models.ErrCodeExtraction, StepExtract,
				"results page could not be read", err)
		}

		m, err := strategy.Extract(html)
		if err == nil {
			l.plate = m.Plate
			l.log.Info("registration plate found", "plate", m.Plate, "source", m.Source)
			return nil
		}
		if !errors.Is(err, portal.ErrNoPlate) || time.Now().After(deadline) {
			return models.NewAutomationError(models.ErrCodeExtraction, StepExtract,
				"registration plate not found on results page", err)
		}
		if err := pacing.Sleep(ctx, extractPollInterval); err != nil {
			return models.NewAutomationError(models.ErrCodeExtraction, StepExtract,
				"registration plate not found on results page", err)
		}
	}
}
