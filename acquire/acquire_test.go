package acquire

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/etfwatch/mapping"
)

func TestParsePageDate(t *testing.T) {
	cases := []struct {
		name, html, anchor, format string
		want                       time.Time
	}{
		{
			name:   "anchor in sibling span",
			html:   `<div id="asof"><span>Holdings as of</span><span> Mar 5,&nbsp;2024</span></div>`,
			anchor: "as of",
			format: "%b %d, %Y",
			want:   time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "no anchor",
			html:   "<p>\n  Data 03/04/2024\n</p>",
			format: "%m/%d/%Y",
			want:   time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "text after anchor only",
			html:   `<p>Inception 01/02/2010 &amp; NAV date 02/28/2026</p>`,
			anchor: "NAV date",
			format: "%m/%d/%Y",
			want:   time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := ParsePageDate(c.html, c.anchor, c.format)
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestParsePageDate_Failures(t *testing.T) {
	_, err := ParsePageDate(`<p>As of Mar 5, 2024</p>`, "Effective", "%b %d, %Y")
	assert.ErrorIs(t, err, ErrNoPageDate)

	_, err = ParsePageDate(`<p>As of soon</p>`, "As of", "%b %d, %Y")
	assert.ErrorIs(t, err, ErrNoPageDate)
}

func TestPageText_DropsScripts(t *testing.T) {
	got := PageText("<div>As of <script>var d='1999-01-01'</script><b>today</b></div>")
	assert.Equal(t, "As of today", got)
}

func TestConfigDefaults(t *testing.T) {
	e := NewEngine(Config{})
	cfg := e.Config()
	assert.Equal(t, DefaultUserAgent, cfg.UserAgent)
	assert.Equal(t, 1920, cfg.ViewportWidth)
	assert.Equal(t, 1080, cfg.ViewportHeight)
	assert.Equal(t, 30*time.Second, cfg.NavTimeout)
	assert.Equal(t, 30*time.Second, cfg.PreWaitTimeout)
	assert.Equal(t, 10*time.Second, cfg.PostWaitTimeout)
	assert.Equal(t, 5*time.Second, cfg.ActionTimeout)
	assert.Equal(t, 15*time.Second, cfg.TriggerTimeout)
	assert.Equal(t, 3*time.Second, cfg.ErrorPagePause)
	assert.NotNil(t, cfg.Logger)
	assert.NotNil(t, cfg.Sleep)
}

func TestLauncherFlags(t *testing.T) {
	l := launcherFor(Config{})
	assert.Equal(t, "AutomationControlled", l.Get("disable-blink-features"))
	for _, f := range []string{"no-sandbox", "disable-infobars", "disable-dev-shm-usage", "ignore-certificate-errors"} {
		assert.True(t, l.Has(flags.Flag(f)), f)
	}
}

func TestShouldBlock(t *testing.T) {
	block := map[string]bool{"images": true, "fonts": true}
	assert.True(t, shouldBlock(block, proto.NetworkResourceTypeImage))
	assert.True(t, shouldBlock(block, proto.NetworkResourceTypeFont))
	assert.False(t, shouldBlock(block, proto.NetworkResourceTypeStylesheet))
	assert.False(t, shouldBlock(block, proto.NetworkResourceTypeDocument))
}

func TestMouseButton(t *testing.T) {
	assert.Equal(t, proto.InputMouseButtonLeft, mouseButton(""))
	assert.Equal(t, proto.InputMouseButtonRight, mouseButton("Right"))
	assert.Equal(t, proto.InputMouseButtonMiddle, mouseButton("middle"))
}

func TestClosedSession(t *testing.T) {
	// WHAT: a closed session refuses work without touching the browser.
	s := &Session{cfg: NewEngine(Config{}).Config(), closed: true}
	ctx := context.Background()

	assert.ErrorIs(t, s.Land(ctx, mapping.Script{URL: "https://example.com"}), ErrClosed)
	_, err := s.Capture(ctx, mapping.Trigger{Selector: "#dl"})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.DateOnPage(ctx, mapping.PageDate{Location: "#d"}, "%Y")
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, s.Close())
}

func TestSleepCtx(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sleepCtx(ctx, time.Hour)
	assert.True(t, errors.Is(err, context.Canceled))
}
