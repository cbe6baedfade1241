package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/etfwatch/etfwatch/internal/scheduler"
)

const providerEtfColumns = `id, created_at, provider_id, name, isin, cap_type, style_type,
	benchmark, trading_since, number_of_managers, url, wait_pre_events,
	wait_post_events, events, trigger_download, mapping, file_format,
	disabled, disabled_reason, last_downloaded`

// InsertProviderEtf adds a fund page to a provider.
func (s *Store) InsertProviderEtf(ctx context.Context, e *ProviderEtf) error {
	if e.CreatedAt == 0 {
		e.CreatedAt = s.now().UnixMilli()
	}
	if e.Script.Events == "" {
		e.Script.Events = "[]"
	}
	var id any
	if e.ID != 0 {
		id = e.ID
	}
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO provider_etf (id, created_at, provider_id, name, isin, cap_type,
		style_type, benchmark, trading_since, number_of_managers, url, wait_pre_events,
		wait_post_events, events, trigger_download, mapping, file_format,
		disabled, disabled_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, e.CreatedAt, e.ProviderID, e.Name, e.ISIN, e.CapType,
		e.StyleType, e.Benchmark, e.TradingSince, e.NumberOfManagers, e.Script.URL,
		e.Script.WaitPre, e.Script.WaitPost, e.Script.Events, e.Script.Trigger,
		e.Script.Mapping, e.Script.FileFormat, boolInt(e.Disabled), e.DisabledReason,
	)
	if err != nil {
		return fmt.Errorf("store: insert provider etf: %w", err)
	}
	if e.ID == 0 {
		e.ID, err = res.LastInsertId()
	}
	return err
}

// GetProviderEtf retrieves a fund page by ID. Returns nil, nil when absent.
func (s *Store) GetProviderEtf(ctx context.Context, id int64) (*ProviderEtf, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+providerEtfColumns+` FROM provider_etf WHERE id = ?`, id)
	e, err := scanProviderEtf(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// ProviderEtfs returns the enabled fund pages of a provider in ID order.
func (s *Store) ProviderEtfs(ctx context.Context, providerID int64) ([]*ProviderEtf, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+providerEtfColumns+` FROM provider_etf
		WHERE provider_id = ? AND disabled = 0 ORDER BY id`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ProviderEtf
	for rows.Next() {
		e, err := scanProviderEtf(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkEtfDownloaded stamps a fund page's last successful download.
func (s *Store) MarkEtfDownloaded(ctx context.Context, id int64, at time.Time) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE provider_etf SET last_downloaded = ? WHERE id = ?`, at.UnixMilli(), id)
	return err
}

func scanProviderEtf(row scanner) (*ProviderEtf, error) {
	var e ProviderEtf
	var disabled int
	var last sql.NullInt64
	err := row.Scan(
		&e.ID, &e.CreatedAt, &e.ProviderID, &e.Name, &e.ISIN, &e.CapType, &e.StyleType,
		&e.Benchmark, &e.TradingSince, &e.NumberOfManagers, &e.Script.URL, &e.Script.WaitPre,
		&e.Script.WaitPost, &e.Script.Events, &e.Script.Trigger, &e.Script.Mapping,
		&e.Script.FileFormat, &disabled, &e.DisabledReason, &last,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan provider etf: %w", err)
	}
	e.Disabled = disabled != 0
	e.LastDownloaded = msPtr(last)
	return &e, nil
}

const categorizeEtfColumns = `id, created_at, name, cap_type, style_type, url,
	wait_pre_events, wait_post_events, events, trigger_download, mapping,
	file_format, cadence, disabled, last_downloaded`

// InsertCategorizeEtf adds a categorizer source.
func (s *Store) InsertCategorizeEtf(ctx context.Context, c *CategorizeEtf) error {
	if c.Cadence == "" {
		c.Cadence = string(scheduler.Monthly)
	}
	cadence, err := scheduler.ParseCadence(c.Cadence)
	if err != nil {
		return err
	}
	c.Cadence = string(cadence)
	if c.CreatedAt == 0 {
		c.CreatedAt = s.now().UnixMilli()
	}
	if c.Script.Events == "" {
		c.Script.Events = "[]"
	}
	var id any
	if c.ID != 0 {
		id = c.ID
	}
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO categorize_etf (id, created_at, name, cap_type, style_type, url,
		wait_pre_events, wait_post_events, events, trigger_download, mapping,
		file_format, cadence, disabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, c.CreatedAt, c.Name, c.CapType, c.StyleType, c.Script.URL,
		c.Script.WaitPre, c.Script.WaitPost, c.Script.Events, c.Script.Trigger,
		c.Script.Mapping, c.Script.FileFormat, c.Cadence, boolInt(c.Disabled),
	)
	if err != nil {
		return fmt.Errorf("store: insert categorize etf: %w", err)
	}
	if c.ID == 0 {
		c.ID, err = res.LastInsertId()
	}
	return err
}

// DueCategorizeEtfs returns enabled categorizers whose cadence window has
// elapsed at now.
func (s *Store) DueCategorizeEtfs(ctx context.Context, now time.Time) ([]*CategorizeEtf, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+categorizeEtfColumns+` FROM categorize_etf
		WHERE disabled = 0
		  AND (last_downloaded IS NULL OR last_downloaded + `+cadenceWindowSQL+` <= ?)
		ORDER BY last_downloaded ASC NULLS FIRST, id`, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CategorizeEtf
	for rows.Next() {
		var c CategorizeEtf
		var disabled int
		var last sql.NullInt64
		if err := rows.Scan(
			&c.ID, &c.CreatedAt, &c.Name, &c.CapType, &c.StyleType, &c.Script.URL,
			&c.Script.WaitPre, &c.Script.WaitPost, &c.Script.Events, &c.Script.Trigger,
			&c.Script.Mapping, &c.Script.FileFormat, &c.Cadence, &disabled, &last,
		); err != nil {
			return nil, fmt.Errorf("scan categorize etf: %w", err)
		}
		c.Disabled = disabled != 0
		c.LastDownloaded = msPtr(last)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// MarkCategorizeDownloaded stamps a categorizer's last successful download.
func (s *Store) MarkCategorizeDownloaded(ctx context.Context, id int64, at time.Time) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE categorize_etf SET last_downloaded = ? WHERE id = ?`, at.UnixMilli(), id)
	return err
}
