package acquire

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/etfwatch/horosafe"
	"github.com/hazyhaar/etfwatch/mapping"
)

// Download is a captured file.
type Download struct {
	Filename string
	Data     []byte
}

// Land navigates to the script URL and plays its events. Any wait or
// event failure is returned wrapped in ErrTransient.
func (s *Session) Land(ctx context.Context, script mapping.Script) error {
	if s.closed {
		return ErrClosed
	}
	if err := script.Validate(); err != nil {
		return err
	}
	log := s.log.With("url", script.URL)

	if err := s.navigate(ctx, script.URL); err != nil {
		return err
	}
	if script.WaitPre != "" {
		if _, err := s.visible(ctx, script.WaitPre, s.cfg.PreWaitTimeout); err != nil {
			return err
		}
	}
	if err := s.cfg.Sleep(ctx, time.Second); err != nil {
		return err
	}
	for i, ev := range script.Events {
		log.Debug("acquire: event", "index", i, "event", ev.Name())
		if err := s.dispatch(ctx, ev); err != nil {
			return fmt.Errorf("%w: event %d (%s): %v", ErrTransient, i, ev.Name(), err)
		}
		if err := s.cfg.Sleep(ctx, s.cfg.EventPause); err != nil {
			return err
		}
	}
	if err := s.cfg.Sleep(ctx, s.cfg.Settle); err != nil {
		return err
	}
	if script.WaitPost != "" {
		if _, err := s.visible(ctx, script.WaitPost, s.cfg.PostWaitTimeout); err != nil {
			return err
		}
	}
	log.Debug("acquire: landed", "events", len(script.Events))
	return nil
}

// navigate loads url and waits for DOM content loaded. A browser error
// page is reloaded once.
func (s *Session) navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()
	page := s.page.Context(navCtx)

	wait := page.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("%w: navigate %s: %v", ErrTransient, url, err)
	}
	wait()

	info, err := page.Info()
	if err == nil && strings.HasPrefix(info.URL, "chrome-error://") {
		s.log.Info("acquire: error page, reloading", "url", url)
		if err := page.Reload(); err != nil {
			return fmt.Errorf("%w: reload %s: %v", ErrTransient, url, err)
		}
		if err := s.cfg.Sleep(ctx, s.cfg.ErrorPagePause); err != nil {
			return err
		}
	}
	return nil
}

// visible waits until selector matches a visible element.
func (s *Session) visible(ctx context.Context, selector string, timeout time.Duration) (*rod.Element, error) {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	el, err := s.page.Context(wctx).Element(selector)
	if err == nil {
		err = el.WaitVisible()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: wait %q: %v", ErrTransient, selector, err)
	}
	return el.Context(ctx), nil
}

func (s *Session) element(ctx context.Context, selector string) (*rod.Element, context.CancelFunc, error) {
	actx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
	el, err := s.page.Context(actx).Element(selector)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("element %q: %w", selector, err)
	}
	return el, cancel, nil
}

func (s *Session) dispatch(ctx context.Context, ev mapping.Event) error {
	switch e := ev.(type) {
	case mapping.Navigate:
		return s.navigate(ctx, e.URL)

	case mapping.Wheel:
		actx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
		defer cancel()
		return s.page.Context(actx).Mouse.Scroll(e.X, e.Y, 1)

	case mapping.Click:
		el, cancel, err := s.element(ctx, e.Selector)
		if err != nil {
			return err
		}
		defer cancel()
		return click(el, e.WithDefaults())

	case mapping.Check:
		el, cancel, err := s.element(ctx, e.Selector)
		if err != nil {
			return err
		}
		defer cancel()
		checked, err := el.Property("checked")
		if err != nil {
			return err
		}
		if checked.Bool() {
			return nil
		}
		return click(el, mapping.Click{Force: e.Force}.WithDefaults())

	case mapping.Fill:
		el, cancel, err := s.element(ctx, e.Selector)
		if err != nil {
			return err
		}
		defer cancel()
		if err := click(el, mapping.Click{Force: e.Force}.WithDefaults()); err != nil {
			return err
		}
		if err := el.SelectAllText(); err != nil {
			return err
		}
		return el.Input(e.Text)

	case mapping.Select:
		el, cancel, err := s.element(ctx, e.Selector)
		if err != nil {
			return err
		}
		defer cancel()
		if err := el.Select(e.Options, true, rod.SelectorTypeText); err == nil {
			return nil
		}
		byValue := make([]string, len(e.Options))
		for i, v := range e.Options {
			byValue[i] = fmt.Sprintf("option[value=%q]", v)
		}
		return el.Select(byValue, true, rod.SelectorTypeCSSSector)

	case mapping.ScrollIntoView:
		el, cancel, err := s.element(ctx, e.Selector)
		if err != nil {
			return err
		}
		defer cancel()
		return el.ScrollIntoView()
	}
	return fmt.Errorf("%w: %T", mapping.ErrUnknownEvent, ev)
}

// click performs a native click, or a DOM click when forced.
func click(el *rod.Element, c mapping.Click) error {
	if c.Force {
		_, err := el.Eval(`() => this.click()`)
		return err
	}
	return el.Click(mouseButton(c.Button), c.ClickCount)
}

func mouseButton(b string) proto.InputMouseButton {
	switch strings.ToLower(b) {
	case "right":
		return proto.InputMouseButtonRight
	case "middle":
		return proto.InputMouseButtonMiddle
	}
	return proto.InputMouseButtonLeft
}

// Capture clicks the trigger and intercepts the resulting download. It
// returns nil and no error when the click produced no file.
func (s *Session) Capture(ctx context.Context, trigger mapping.Trigger) (*Download, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if err := trigger.Validate(); err != nil {
		return nil, err
	}
	if err := s.cfg.Sleep(ctx, s.cfg.Settle); err != nil {
		return nil, err
	}
	el, err := s.visible(ctx, trigger.Selector, s.cfg.TriggerTimeout)
	if err != nil {
		return nil, err
	}
	if err := el.ScrollIntoView(); err != nil {
		return nil, fmt.Errorf("%w: scroll to trigger: %v", ErrTransient, err)
	}
	if err := s.cfg.Sleep(ctx, s.cfg.Settle); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(s.cfg.TempDir, "etfwatch-dl-")
	if err != nil {
		return nil, fmt.Errorf("acquire: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	dctx, cancel := context.WithTimeout(ctx, s.cfg.DownloadTimeout)
	defer cancel()
	wait := s.browser.Context(dctx).WaitDownload(dir)

	actx, acancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
	err = click(el.Context(actx), trigger.Click())
	acancel()
	if err != nil {
		cancel()
		wait()
		return nil, fmt.Errorf("%w: click trigger: %v", ErrTransient, err)
	}

	info := wait()
	if info == nil || dctx.Err() != nil {
		s.log.Info("acquire: no download", "trigger", trigger.Selector)
		return nil, nil
	}
	f, err := os.Open(filepath.Join(dir, info.GUID))
	if errors.Is(err, os.ErrNotExist) {
		s.log.Info("acquire: download vanished", "trigger", trigger.Selector)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("acquire: open download: %w", err)
	}
	data, err := horosafe.LimitedReadAll(f, horosafe.MaxDownload)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("acquire: read download: %w", err)
	}
	name := horosafe.SafeFilename(info.SuggestedFilename)
	s.log.Info("acquire: downloaded", "file", name, "bytes", len(data))
	return &Download{Filename: name, Data: data}, nil
}

// DateOnPage reads the trade date from the landing page.
func (s *Session) DateOnPage(ctx context.Context, pd mapping.PageDate, format string) (time.Time, error) {
	if s.closed {
		return time.Time{}, ErrClosed
	}
	el, err := s.visible(ctx, pd.Location, s.cfg.TriggerTimeout)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrNoPageDate, err)
	}
	html, err := el.HTML()
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrNoPageDate, err)
	}
	return ParsePageDate(html, pd.TextBefore, format)
}
