package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/etfwatch/etfwatch/internal/scheduler"
)

const providerColumns = `id, created_at, name, domain, url_start, wait_pre_events,
	wait_post_events, events, trigger_download, mapping, file_format, cadence,
	disabled, disabled_reason, last_run_at`

// InsertProvider adds a provider. A zero ID lets SQLite assign one.
func (s *Store) InsertProvider(ctx context.Context, p *Provider) error {
	cadence, err := scheduler.ParseCadence(p.Cadence)
	if err != nil {
		return err
	}
	p.Cadence = string(cadence)
	if p.CreatedAt == 0 {
		p.CreatedAt = s.now().UnixMilli()
	}
	if p.Script.Events == "" {
		p.Script.Events = "[]"
	}
	var id any
	if p.ID != 0 {
		id = p.ID
	}
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO provider (id, created_at, name, domain, url_start, wait_pre_events,
		wait_post_events, events, trigger_download, mapping, file_format, cadence,
		disabled, disabled_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, p.CreatedAt, p.Name, p.Domain, p.Script.URL, p.Script.WaitPre,
		p.Script.WaitPost, p.Script.Events, p.Script.Trigger, p.Script.Mapping,
		p.Script.FileFormat, p.Cadence, boolInt(p.Disabled), p.DisabledReason,
	)
	if err != nil {
		return fmt.Errorf("store: insert provider: %w", err)
	}
	if p.ID == 0 {
		p.ID, err = res.LastInsertId()
	}
	return err
}

// GetProvider retrieves a provider by ID. Returns nil, nil when absent.
func (s *Store) GetProvider(ctx context.Context, id int64) (*Provider, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+providerColumns+` FROM provider WHERE id = ?`, id)
	p, err := scanProvider(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// ListProviders returns every provider, disabled ones included.
func (s *Store) ListProviders(ctx context.Context) ([]*Provider, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+providerColumns+` FROM provider ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return collectProviders(rows)
}

// ActiveProviders returns the enabled providers in ID order.
func (s *Store) ActiveProviders(ctx context.Context) ([]*Provider, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+providerColumns+` FROM provider WHERE disabled = 0 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return collectProviders(rows)
}

// DueProviders returns enabled providers whose cadence window has elapsed
// at now, never-run providers first. limit <= 0 means no limit.
func (s *Store) DueProviders(ctx context.Context, now time.Time, limit int) ([]*Provider, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+providerColumns+` FROM provider
		WHERE disabled = 0
		  AND (last_run_at IS NULL OR last_run_at + `+cadenceWindowSQL+` <= ?)
		ORDER BY last_run_at ASC NULLS FIRST, id
		LIMIT ?`, now.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	return collectProviders(rows)
}

// cadenceWindowSQL maps the cadence column to its window in milliseconds.
var cadenceWindowSQL = func() string {
	var b strings.Builder
	b.WriteString("CASE cadence")
	for _, c := range scheduler.Cadences {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", c, c.Window().Milliseconds())
	}
	fmt.Fprintf(&b, " ELSE %d END", scheduler.Daily.Window().Milliseconds())
	return b.String()
}()

// SetProviderDomain persists the registrable domain derived for a provider.
func (s *Store) SetProviderDomain(ctx context.Context, id int64, domain string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE provider SET domain = ? WHERE id = ?`, domain, id)
	return err
}

// MarkProviderRun stamps the provider's last scrape time.
func (s *Store) MarkProviderRun(ctx context.Context, id int64, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE provider SET last_run_at = ? WHERE id = ?`, at.UnixMilli(), id)
	return err
}

// DisableProvider takes a provider out of every batch.
func (s *Store) DisableProvider(ctx context.Context, id int64, reason string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE provider SET disabled = 1, disabled_reason = ? WHERE id = ?`, reason, id)
	return err
}

// CollectionStats counts, per provider, the enabled ETF pages downloaded at
// or after since against all enabled pages.
func (s *Store) CollectionStats(ctx context.Context, providerIDs []int64, since time.Time) ([]CollectionStat, error) {
	if len(providerIDs) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(providerIDs)+1)
	args = append(args, since.UnixMilli())
	for _, id := range providerIDs {
		args = append(args, id)
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT p.id, p.name,
		    COALESCE(SUM(CASE WHEN e.last_downloaded >= ? THEN 1 ELSE 0 END), 0),
		    COUNT(e.id)
		FROM provider p
		LEFT JOIN provider_etf e ON e.provider_id = p.id AND e.disabled = 0
		WHERE p.id IN (`+placeholders(len(providerIDs))+`)
		GROUP BY p.id, p.name
		ORDER BY p.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CollectionStat
	for rows.Next() {
		var st CollectionStat
		if err := rows.Scan(&st.ProviderID, &st.Name, &st.Downloaded, &st.Available); err != nil {
			return nil, fmt.Errorf("scan collection stat: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func collectProviders(rows *sql.Rows) ([]*Provider, error) {
	defer rows.Close()
	var out []*Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProvider(row scanner) (*Provider, error) {
	var p Provider
	var disabled int
	var lastRun sql.NullInt64
	err := row.Scan(
		&p.ID, &p.CreatedAt, &p.Name, &p.Domain, &p.Script.URL, &p.Script.WaitPre,
		&p.Script.WaitPost, &p.Script.Events, &p.Script.Trigger, &p.Script.Mapping,
		&p.Script.FileFormat, &p.Cadence, &disabled, &p.DisabledReason, &lastRun,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan provider: %w", err)
	}
	p.Disabled = disabled != 0
	p.LastRunAt = msPtr(lastRun)
	return &p, nil
}
