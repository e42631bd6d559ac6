package workflow

import (
	"context"
	"errors"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

var errNotTicked = errors.New("checkbox is still unticked")

// find waits up to the element timeout for selector, optionally narrowed to
// elements whose text matches the regular expression text, and optionally
// for the element to become visible. The returned element is bound to p's
// context, not the element deadline.
func (l *lookup) find(p *rod.Page, selector, text string, visible bool) (*rod.Element, error) {
	ctx, cancel := context.WithTimeout(p.GetContext(), l.runner.cfg.ElementTimeout)
	defer cancel()
	pt := p.Context(ctx)

	var (
		el  *rod.Element
		err error
	)
	if text != "" {
		el, err = pt.ElementR(selector, text)
	} else {
		el, err = pt.Element(selector)
	}
	if err != nil {
		l.log.Debug("element did not appear", "selector", selector, "text", text, "error", err)
		return nil, err
	}
	if visible {
		if err := el.WaitVisible(); err != nil {
			l.log.Debug("element did not become visible", "selector", selector, "error", err)
			return nil, err
		}
	}
	return el.Context(p.GetContext()), nil
}

// navigate loads url and waits for the load event, bounded by the
// navigation timeout.
func (l *lookup) navigate(p *rod.Page, url string) error {
	ctx, cancel := context.WithTimeout(p.GetContext(), l.runner.cfg.NavigationTimeout)
	defer cancel()
	pn := p.Context(ctx)

	l.trace.Event("navigate", url)
	if err := pn.Navigate(url); err != nil {
		return err
	}
	return pn.WaitLoad()
}

type navigationWait struct {
	wait   func()
	cancel context.CancelFunc
}

// waitNavigation must be armed before the action that navigates. wait
// returns once the new document is almost network-idle, or when the
// navigation timeout passes; actions that do not navigate only cost the
// timeout.
func (l *lookup) waitNavigation(p *rod.Page) navigationWait {
	ctx, cancel := context.WithTimeout(p.GetContext(), l.runner.cfg.NavigationTimeout)
	return navigationWait{
		wait:   p.Context(ctx).WaitNavigation(proto.PageLifecycleEventNameNetworkAlmostIdle),
		cancel: cancel,
	}
}

// clickAndSettle clicks el and waits for the navigation it triggers.
func (l *lookup) clickAndSettle(p *rod.Page, el *rod.Element) error {
	nav := l.waitNavigation(p)
	defer nav.cancel()

	if err := l.click(el); err != nil {
		// covered or zero-sized controls still take a DOM click
		l.log.Debug("mouse click failed, clicking through the DOM", "error", err)
		if _, jerr := el.Eval(`() => this.click()`); jerr != nil {
			return err
		}
	}
	nav.wait()
	return nil
}

// click is a mouse click that gives up after the element timeout. rod keeps
// retrying a covered element until its context ends.
func (l *lookup) click(el *rod.Element) error {
	et := el.Timeout(l.runner.cfg.ElementTimeout)
	defer et.CancelTimeout()
	return et.Click(proto.InputMouseButtonLeft, 1)
}

// typeHuman clears el and types text one character at a time with the
// pacer's keystroke delay.
func (l *lookup) typeHuman(ctx context.Context, p *rod.Page, el *rod.Element, text string) error {
	if err := el.Focus(); err != nil {
		return err
	}
	if _, err := el.Eval(`() => { this.value = '' }`); err != nil {
		return err
	}
	for _, r := range text {
		if err := p.InsertText(string(r)); err != nil {
			return err
		}
		if err := l.runner.pacer.KeystrokeDelay(ctx); err != nil {
			return err
		}
	}
	return nil
}

// tick makes sure a checkbox ends up checked: a real click first, then
// setting the property directly. Anything short of checked is an error.
func (l *lookup) tick(el *rod.Element) error {
	if ok, err := isChecked(el); err != nil {
		return err
	} else if ok {
		l.log.Debug("checkbox already ticked")
		return nil
	}

	if err := l.click(el); err != nil {
		l.log.Debug("checkbox click failed, setting it directly", "error", err)
	}
	if ok, err := isChecked(el); err != nil {
		return err
	} else if ok {
		return nil
	}

	if _, err := el.Eval(`() => {
		this.checked = true;
		this.dispatchEvent(new Event('change', { bubbles: true }));
	}`); err != nil {
		return err
	}
	ok, err := isChecked(el)
	if err != nil {
		return err
	}
	if !ok {
		return errNotTicked
	}
	return nil
}

func isChecked(el *rod.Element) (bool, error) {
	v, err := el.Property("checked")
	if err != nil {
		return false, err
	}
	return v.Bool(), nil
}

// runScript evaluates an optional portal hook. Hooks are best-effort: a
// missing handler on the page is logged and ignored.
func (l *lookup) runScript(p *rod.Page, script string) {
	if script == "" {
		return
	}
	if _, err := p.Eval("() => { " + script + " }"); err != nil {
		l.log.Debug("portal script failed", "script", script, "error", err)
	}
}

// collapse squeezes whitespace runs to single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
