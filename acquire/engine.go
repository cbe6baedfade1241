// Package acquire drives a headless Chrome session through a provider's
// landing page script and captures the holdings file it downloads.
//
// One Session owns one browser process. Sub-pages of a provider reuse the
// session sequentially: Land, then Capture, once per sub-page.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

var (
	// ErrTransient marks navigation and selector failures that skip one
	// source for this cycle only.
	ErrTransient = errors.New("acquire: transient failure")
	// ErrNoPageDate is returned when the landing page carries no
	// parseable trade date.
	ErrNoPageDate = errors.New("acquire: no date on page")
	// ErrClosed is returned by a Session used after Close.
	ErrClosed = errors.New("acquire: session closed")
)

// DefaultUserAgent is a desktop Chrome user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Mode selects how Chrome is run.
type Mode int

const (
	ModeHeadless Mode = iota
	// ModeHeadful runs a visible Chrome inside an Xvfb display.
	ModeHeadful
)

// Config configures the Engine.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty launches a local Chrome per session.
	RemoteURL string `yaml:"remote_url"`
	Mode      Mode   `yaml:"mode"`
	// XvfbDisplay is used in ModeHeadful. Default ":99".
	XvfbDisplay string `yaml:"xvfb_display"`

	UserAgent      string `yaml:"user_agent"`
	ViewportWidth  int    `yaml:"viewport_width"`
	ViewportHeight int    `yaml:"viewport_height"`

	// ResourceBlocking lists resource types never fetched: images, fonts,
	// media, stylesheets.
	ResourceBlocking []string `yaml:"resource_blocking"`

	NavTimeout      time.Duration `yaml:"nav_timeout"`
	PreWaitTimeout  time.Duration `yaml:"pre_wait_timeout"`
	PostWaitTimeout time.Duration `yaml:"post_wait_timeout"`
	ActionTimeout   time.Duration `yaml:"action_timeout"`
	TriggerTimeout  time.Duration `yaml:"trigger_timeout"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`

	// Settle is the pause after landing and around the trigger click.
	Settle time.Duration `yaml:"settle"`
	// EventPause is the pause after each scripted event.
	EventPause time.Duration `yaml:"event_pause"`
	// ErrorPagePause follows the reload of a browser error page.
	ErrorPagePause time.Duration `yaml:"error_page_pause"`

	// TempDir is the parent of per-capture download directories.
	// Empty uses os.TempDir.
	TempDir string `yaml:"temp_dir"`

	Logger *slog.Logger `yaml:"-"`
	// Sleep replaces the context-aware pause, for tests.
	Sleep func(ctx context.Context, d time.Duration) error `yaml:"-"`
}

func (c *Config) defaults() {
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1920
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 1080
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.PreWaitTimeout <= 0 {
		c.PreWaitTimeout = 30 * time.Second
	}
	if c.PostWaitTimeout <= 0 {
		c.PostWaitTimeout = 10 * time.Second
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 5 * time.Second
	}
	if c.TriggerTimeout <= 0 {
		c.TriggerTimeout = 15 * time.Second
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = 2 * time.Minute
	}
	if c.Settle <= 0 {
		c.Settle = 2 * time.Second
	}
	if c.EventPause <= 0 {
		c.EventPause = 2 * time.Second
	}
	if c.ErrorPagePause <= 0 {
		c.ErrorPagePause = 3 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Sleep == nil {
		c.Sleep = sleepCtx
	}
}

// Engine opens isolated browser sessions.
type Engine struct {
	cfg Config
}

// NewEngine creates an Engine. No browser is started until Open.
func NewEngine(cfg Config) *Engine {
	cfg.defaults()
	return &Engine{cfg: cfg}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Open starts a browser and a stealth page. The caller must Close the
// session on every path.
func (e *Engine) Open(ctx context.Context, name string) (*Session, error) {
	s := &Session{cfg: e.cfg, log: e.cfg.Logger.With("session", name)}
	if err := s.start(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// launcherFor builds the local Chrome launcher.
func launcherFor(cfg Config) *launcher.Launcher {
	l := launcher.New()
	if cfg.Mode == ModeHeadful {
		l = l.Headless(false).Env("DISPLAY="+cfg.XvfbDisplay)
	} else {
		l = l.Headless(true)
	}
	l = l.Set("disable-blink-features", "AutomationControlled").
		NoSandbox(true)
	for _, f := range []string{
		"disable-infobars",
		"disable-web-security",
		"disable-site-isolation-trials",
		"disable-dev-shm-usage",
		"ignore-certificate-errors",
	} {
		l = l.Set(flags.Flag(f))
	}
	return l
}

func (s *Session) start(ctx context.Context) error {
	cfg := s.cfg
	if cfg.Mode == ModeHeadful {
		if err := s.startXvfb(); err != nil {
			return fmt.Errorf("acquire: xvfb: %w", err)
		}
	}

	wsURL := cfg.RemoteURL
	if wsURL == "" {
		l := launcherFor(cfg).Context(ctx)
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("acquire: launch: %w", err)
		}
		s.lnch = l
		wsURL = u
		s.log.Debug("acquire: launched chrome", "url", wsURL)
	} else {
		s.log.Debug("acquire: connecting to remote", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("acquire: connect: %w", err)
	}
	s.browser = b
	if err := b.IgnoreCertErrors(true); err != nil {
		s.log.Warn("acquire: ignore cert errors failed", "error", err)
	}

	page, err := stealth.Page(b)
	if err != nil {
		return fmt.Errorf("acquire: create page: %w", err)
	}
	s.page = page
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: cfg.UserAgent}); err != nil {
		return fmt.Errorf("acquire: user agent: %w", err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             cfg.ViewportWidth,
		Height:            cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		return fmt.Errorf("acquire: viewport: %w", err)
	}
	if len(cfg.ResourceBlocking) > 0 {
		s.router = applyResourceBlocking(page, cfg.ResourceBlocking)
	}
	return nil
}

// Session is one browser with one page.
type Session struct {
	cfg     Config
	log     *slog.Logger
	browser *rod.Browser
	page    *rod.Page
	lnch    *launcher.Launcher
	router  *rod.HijackRouter
	xvfb    *exec.Cmd
	closed  bool
}

// Close tears down the page, the browser and any launched process.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.router != nil {
		_ = s.router.Stop()
	}
	if s.page != nil {
		_ = s.page.Close()
	}
	if s.browser != nil {
		_ = s.browser.Close()
	}
	if s.lnch != nil {
		s.lnch.Cleanup()
	}
	s.stopXvfb()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
