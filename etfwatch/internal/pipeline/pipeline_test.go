package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/etfwatch/acquire"
	"github.com/hazyhaar/etfwatch/dbopen"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/dump"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/store"
	"github.com/hazyhaar/etfwatch/extract"
	"github.com/hazyhaar/etfwatch/mapping"
	"github.com/hazyhaar/etfwatch/observability"

	_ "modernc.org/sqlite"
)

var runAt = time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)

const csvMapping = `{
  "columns": {"trade_date": null, "ticker": "Ticker", "shares": "Shares", "weight": "Weight"},
  "date": {"strategy": "run_date"}
}`

const pageDateMapping = `{
  "columns": {"ticker": "Ticker", "shares": "Shares", "weight": "Weight"},
  "date": {"strategy": "page", "format": "%b %d, %Y", "page": {"location": "#asof", "text_before": "As of"}}
}`

const holdingsCSV = "Ticker,Shares,Weight\nAAPL,100,0.6\nMSFT,50,0.4\n"

// fakeBrowser serves pages by URL. Sessions are recorded for inspection.
type fakeBrowser struct {
	mu       sync.Mutex
	files    map[string]*acquire.Download // by URL landed last
	landErr  map[string]error
	pageDate map[string]time.Time
	opened   []string
	closed   int
}

func (b *fakeBrowser) Open(ctx context.Context, name string) (Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened = append(b.opened, name)
	return &fakeSession{b: b}, nil
}

type fakeSession struct {
	b   *fakeBrowser
	url string
}

func (s *fakeSession) Land(ctx context.Context, script mapping.Script) error {
	s.url = script.URL
	if err, ok := s.b.landErr[script.URL]; ok {
		return err
	}
	return nil
}

func (s *fakeSession) Capture(ctx context.Context, trigger mapping.Trigger) (*acquire.Download, error) {
	return s.b.files[s.url], nil
}

func (s *fakeSession) DateOnPage(ctx context.Context, pd mapping.PageDate, format string) (time.Time, error) {
	if d, ok := s.b.pageDate[s.url]; ok {
		return d, nil
	}
	return time.Time{}, acquire.ErrNoPageDate
}

func (s *fakeSession) Close() error {
	s.b.mu.Lock()
	s.b.closed++
	s.b.mu.Unlock()
	return nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	subjects []string
}

func (n *recordingNotifier) Admin(ctx context.Context, subject, text string) {
	n.mu.Lock()
	n.subjects = append(n.subjects, subject)
	n.mu.Unlock()
}

type fixture struct {
	st      *store.Store
	rec     *observability.Recorder
	browser *fakeBrowser
	notify  *recordingNotifier
	pl      *Pipeline
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newFixture(t *testing.T, dumpDir string) *fixture {
	t.Helper()
	db := dbopen.OpenMemory(t)
	require.NoError(t, store.ApplySchema(db))
	require.NoError(t, observability.Init(db))
	f := &fixture{
		st:  store.NewStore(db).WithClock(func() time.Time { return runAt }),
		rec: observability.NewRecorder(db, observability.WithLogger(quiet()), observability.WithFlushInterval(time.Hour)),
		browser: &fakeBrowser{
			files:    map[string]*acquire.Download{},
			landErr:  map[string]error{},
			pageDate: map[string]time.Time{},
		},
		notify: &recordingNotifier{},
	}
	t.Cleanup(func() { f.rec.Close() })
	f.pl = New(Config{}, Deps{
		Store:    f.st,
		Browser:  f.browser,
		Dump:     dump.NewWriter(dumpDir),
		Recorder: f.rec,
		Notifier: f.notify,
		Logger:   quiet(),
	}).WithClock(func() time.Time { return runAt })
	return f
}

func (f *fixture) provider(t *testing.T, name, url string) *store.Provider {
	t.Helper()
	p := &store.Provider{Name: name, Script: store.Script{
		URL:        url,
		Trigger:    `{"selector": "#download"}`,
		Mapping:    csvMapping,
		FileFormat: "csv",
	}}
	require.NoError(t, f.st.InsertProvider(context.Background(), p))
	return p
}

func (f *fixture) etf(t *testing.T, p *store.Provider, name, url string) *store.ProviderEtf {
	t.Helper()
	e := &store.ProviderEtf{ProviderID: p.ID, Name: name, Script: store.Script{URL: url}}
	require.NoError(t, f.st.InsertProviderEtf(context.Background(), e))
	return e
}

func TestDomain(t *testing.T) {
	cases := map[string]string{
		"https://www.ishares.com/us/products/etf": "ishares.com",
		"www.example.co.uk/funds":                 "example.co.uk",
		"HTTPS://Funds.Vanguard.COM":              "vanguard.com",
	}
	for in, want := range cases {
		got, err := Domain(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := Domain("")
	assert.ErrorIs(t, err, ErrNoDomain)
}

func TestResolveSource_InheritsFromParent(t *testing.T) {
	parent := &store.Script{Trigger: `{"selector":"#dl"}`, Mapping: csvMapping, FileFormat: "CSV"}
	src, err := ResolveSource(store.Script{URL: "https://a.example/etf", Events: `[{"name":"click","selector":"#tab"}]`}, parent)
	require.NoError(t, err)
	assert.Equal(t, "#dl", src.Trigger.Selector)
	assert.Equal(t, extract.FormatCSV, src.Format)
	require.Len(t, src.Script.Events, 1)
	assert.Equal(t, "click", src.Script.Events[0].Name())

	// own values win
	own, err := ResolveSource(store.Script{URL: "https://a.example/etf", Trigger: `{"selector":"#own"}`, FileFormat: "xlsx"}, parent)
	require.NoError(t, err)
	assert.Equal(t, "#own", own.Trigger.Selector)
	assert.Equal(t, extract.FormatXLSX, own.Format)
}

func TestResolveSource_Errors(t *testing.T) {
	_, err := ResolveSource(store.Script{URL: "https://a.example"}, nil)
	assert.ErrorIs(t, err, extract.ErrMissingConfig)

	_, err = ResolveSource(store.Script{URL: "https://a.example", Events: `[{"name":"hover","selector":"x"}]`}, nil)
	assert.ErrorIs(t, err, mapping.ErrUnknownEvent)

	_, err = ResolveSource(store.Script{URL: "https://a.example", Trigger: `{"selector":"#d","delay":3}`, Mapping: csvMapping, FileFormat: "csv"}, nil)
	assert.ErrorIs(t, err, mapping.ErrInvalid)

	_, err = ResolveSource(store.Script{}, nil)
	assert.ErrorIs(t, err, mapping.ErrInvalid)
}

func TestDownloadProvider_StoresHoldingsAndReusesSession(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	f := newFixture(t, dir)
	p := f.provider(t, "Acme Funds", "https://www.acme.example/etfs")
	a := f.etf(t, p, "Acme Growth", "https://www.acme.example/growth")
	b := f.etf(t, p, "Acme Value", "https://www.acme.example/value")
	f.browser.files[a.Script.URL] = &acquire.Download{Filename: "growth.csv", Data: []byte(holdingsCSV)}
	f.browser.files[b.Script.URL] = &acquire.Download{Filename: "value.csv", Data: []byte(holdingsCSV)}

	res, err := f.pl.DownloadProvider(ctx, p, runAt)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Etfs)
	assert.Equal(t, 2, res.Downloaded)
	assert.Equal(t, 4, res.Holdings)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, []string{fmt.Sprintf("provider-%d", p.ID)}, f.browser.opened, "one session per provider")
	assert.Equal(t, 1, f.browser.closed)

	got, err := f.st.GetProvider(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme.example", got.Domain)
	require.NotNil(t, got.LastRunAt)

	hs, err := f.st.Holdings(ctx, a.ID, runAt)
	require.NoError(t, err)
	require.Len(t, hs, 2)
	assert.Equal(t, "AAPL", hs[0].Ticker)

	etf, err := f.st.GetProviderEtf(ctx, a.ID)
	require.NoError(t, err)
	assert.NotNil(t, etf.LastDownloaded)

	path := fmt.Sprintf("%s/2026-03-10/%d-%d-growth.csv", dir, p.ID, a.ID)
	meta, err := dump.ReadMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, "Acme Growth", meta.EtfName)
}

func TestDownloadProvider_IsolatesEtfFailures(t *testing.T) {
	// WHAT: a timed-out page and a page without date are skipped, the
	// third page is stored.
	ctx := context.Background()
	f := newFixture(t, "")
	p := f.provider(t, "Acme Funds", "https://www.acme.example/etfs")
	slow := f.etf(t, p, "Slow", "https://www.acme.example/slow")
	undated := &store.ProviderEtf{ProviderID: p.ID, Name: "Undated", Script: store.Script{
		URL: "https://www.acme.example/undated", Mapping: pageDateMapping,
	}}
	require.NoError(t, f.st.InsertProviderEtf(ctx, undated))
	ok := f.etf(t, p, "Fine", "https://www.acme.example/fine")

	f.browser.landErr[slow.Script.URL] = fmt.Errorf("%w: wait #table", acquire.ErrTransient)
	f.browser.files[undated.Script.URL] = &acquire.Download{Filename: "u.csv", Data: []byte(holdingsCSV)}
	f.browser.files[ok.Script.URL] = &acquire.Download{Filename: "f.csv", Data: []byte(holdingsCSV)}

	res, err := f.pl.DownloadProvider(ctx, p, runAt)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Downloaded)
	require.Len(t, res.Skipped, 2)
	assert.ErrorIs(t, res.Skipped[slow.ID], acquire.ErrTransient)
	assert.ErrorIs(t, res.Skipped[undated.ID], acquire.ErrNoPageDate)

	require.NoError(t, f.rec.Close())
	errs, err := f.rec.Logs(ctx, observability.LogFilter{Type: observability.TypeError})
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Msg, fmt.Sprintf("[Provider: 'Acme Funds' (%d), ETF: 'Undated' (%d)]\t", p.ID, undated.ID))
}

func TestDownloadProvider_PageDateOverridesRunDate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	p := f.provider(t, "Acme Funds", "https://www.acme.example/etfs")
	e := &store.ProviderEtf{ProviderID: p.ID, Name: "Dated", Script: store.Script{
		URL: "https://www.acme.example/dated", Mapping: pageDateMapping,
	}}
	require.NoError(t, f.st.InsertProviderEtf(ctx, e))
	asOf := time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)
	f.browser.pageDate[e.Script.URL] = asOf
	f.browser.files[e.Script.URL] = &acquire.Download{Filename: "d.csv", Data: []byte(holdingsCSV)}

	_, err := f.pl.DownloadProvider(ctx, p, runAt)
	require.NoError(t, err)
	dates, err := f.st.HoldingDates(ctx, e.ID, asOf.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Len(t, dates, 1)
	assert.True(t, asOf.Equal(dates[0]), dates[0].String())
}

func TestDownloadProvider_NoFileIsNotAnError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	p := f.provider(t, "Acme Funds", "https://www.acme.example/etfs")
	e := f.etf(t, p, "Empty", "https://www.acme.example/empty")

	res, err := f.pl.DownloadProvider(ctx, p, runAt)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Downloaded)
	assert.Empty(t, res.Skipped)
	etf, err := f.st.GetProviderEtf(ctx, e.ID)
	require.NoError(t, err)
	assert.Nil(t, etf.LastDownloaded)
}

func (f *fixture) weeklyProvider(t *testing.T, name, url string) *store.Provider {
	t.Helper()
	p := &store.Provider{Name: name, Cadence: "weekly", Script: store.Script{
		URL:        url,
		Trigger:    `{"selector": "#download"}`,
		Mapping:    csvMapping,
		FileFormat: "csv",
	}}
	require.NoError(t, f.st.InsertProvider(context.Background(), p))
	return p
}

func TestDownloadProvider_LandingFailureSkipsProvider(t *testing.T) {
	// WHAT: a transient landing failure leaves the provider unstamped.
	// WHY: a weekly provider stamped on failure would wait three days
	// before its next attempt.
	ctx := context.Background()
	f := newFixture(t, "")
	p := f.weeklyProvider(t, "Acme Funds", "https://www.acme.example/etfs")
	f.etf(t, p, "Growth", "https://www.acme.example/growth")
	f.browser.landErr[p.Script.URL] = fmt.Errorf("%w: navigate", acquire.ErrTransient)

	res, err := f.pl.DownloadProvider(ctx, p, runAt)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Downloaded)
	got, err := f.st.GetProvider(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastRunAt)

	due, err := f.st.DueProviders(ctx, runAt.Add(24*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, p.ID, due[0].ID)
}

func TestDownloadProvider_AllPagesFailedStaysDue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	p := f.weeklyProvider(t, "Acme Funds", "https://www.acme.example/etfs")
	slow := f.etf(t, p, "Slow", "https://www.acme.example/slow")
	f.browser.landErr[slow.Script.URL] = fmt.Errorf("%w: wait #table", acquire.ErrTransient)

	res, err := f.pl.DownloadProvider(ctx, p, runAt)
	require.NoError(t, err)
	require.Len(t, res.Skipped, 1)

	due, err := f.st.DueProviders(ctx, runAt.Add(24*time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestDownloadProvider_SuccessWaitsForCadence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	p := f.weeklyProvider(t, "Acme Funds", "https://www.acme.example/etfs")
	e := f.etf(t, p, "Growth", "https://www.acme.example/growth")
	f.browser.files[e.Script.URL] = &acquire.Download{Filename: "g.csv", Data: []byte(holdingsCSV)}

	_, err := f.pl.DownloadProvider(ctx, p, runAt)
	require.NoError(t, err)

	due, err := f.st.DueProviders(ctx, runAt.Add(24*time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestDownloadProvider_BadDomainNotifies(t *testing.T) {
	f := newFixture(t, "")
	p := f.provider(t, "Local", "http://localhost:8080/etfs")

	_, err := f.pl.DownloadProvider(context.Background(), p, runAt)
	require.Error(t, err)
	assert.Equal(t, []string{"Failed to get Domain from URL"}, f.notify.subjects)
}

func TestDownload_BatchStatsAndSync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	good := f.provider(t, "Good Funds", "https://www.good.example")
	g1 := f.etf(t, good, "G1", "https://www.good.example/1")
	f.browser.files[g1.Script.URL] = &acquire.Download{Filename: "g1.csv", Data: []byte(holdingsCSV)}

	half := f.provider(t, "Half Funds", "https://www.half.example")
	h1 := f.etf(t, half, "H1", "https://www.half.example/1")
	f.etf(t, half, "H2", "https://www.half.example/2")
	f.browser.files[h1.Script.URL] = &acquire.Download{Filename: "h1.csv", Data: []byte(holdingsCSV)}

	bad := f.provider(t, "Bad Funds", "localhost")

	rep, err := f.pl.Download(ctx, "manual")
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Providers)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 2, rep.Total)
	assert.Contains(t, f.notify.subjects, "Failed holdings collection")

	text := rep.StatsText()
	assert.Contains(t, text, fmt.Sprintf("%-8d%-20s%s\n", good.ID, "All (1)", "Good Funds"))
	assert.Contains(t, text, fmt.Sprintf("%-8d%-20s%s\n", half.ID, "1 out of 2", "Half Funds"))
	assert.Contains(t, text, fmt.Sprintf("%-8d%-20s%s\n", bad.ID, "All (0)", "Bad Funds"))

	tk, err := f.st.GetTicker(ctx, "MSFT")
	require.NoError(t, err)
	require.NotNil(t, tk, "tickers synced from holdings")

	runs, err := f.rec.BatchRuns(ctx, ProcessDownload, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.NotNil(t, runs[0].CompletedAt)
	notes, err := f.rec.BatchLogs(ctx, runs[0].ID)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "page 1 done: 3 providers", notes[0].Note)
}

func TestCategorize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	c := &store.CategorizeEtf{Name: "Russell 1000 Growth", CapType: "large", StyleType: "growth", Script: store.Script{
		URL: "https://www.index.example/r1g", Trigger: `{"selector":"#dl"}`, Mapping: csvMapping, FileFormat: "csv",
	}}
	require.NoError(t, f.st.InsertCategorizeEtf(ctx, c))
	broken := &store.CategorizeEtf{Name: "Broken", CapType: "small", StyleType: "value", Script: store.Script{
		URL: "https://www.index.example/broken",
	}}
	require.NoError(t, f.st.InsertCategorizeEtf(ctx, broken))
	f.browser.files[c.Script.URL] = &acquire.Download{Filename: "r1g.csv", Data: []byte(holdingsCSV)}

	rep, err := f.pl.Categorize(ctx, "auto")
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Etfs)
	assert.Equal(t, 1, rep.Done)
	assert.Equal(t, 2, rep.Symbols)

	tk, err := f.st.GetTicker(ctx, "AAPL")
	require.NoError(t, err)
	require.NotNil(t, tk)
	assert.Equal(t, "growth", tk.StyleType)
	assert.Equal(t, "large", tk.CapType)

	// categorized now, so not due again
	rep, err = f.pl.Categorize(ctx, "auto")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Etfs)
}

func TestEngineBrowser_ImplementsBrowser(t *testing.T) {
	var _ Browser = EngineBrowser{}
	var _ Session = (*acquire.Session)(nil)
	assert.True(t, errors.Is(fmt.Errorf("x: %w", acquire.ErrTransient), acquire.ErrTransient))
}
