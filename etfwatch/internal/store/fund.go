package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/etfwatch/dbopen"
)

// InsertFund adds a model fund.
func (s *Store) InsertFund(ctx context.Context, f *Fund) error {
	if f.CreatedAt == 0 {
		f.CreatedAt = s.now().UnixMilli()
	}
	var id any
	if f.ID != 0 {
		id = f.ID
	}
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO fund (id, created_at, name, style_type, cap_type) VALUES (?, ?, ?, ?, ?)`,
		id, f.CreatedAt, f.Name, f.StyleType, f.CapType)
	if err != nil {
		return fmt.Errorf("store: insert fund: %w", err)
	}
	if f.ID == 0 {
		f.ID, err = res.LastInsertId()
	}
	return err
}

// Funds returns every model fund in ID order.
func (s *Store) Funds(ctx context.Context) ([]*Fund, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, created_at, name, style_type, cap_type, last_updated FROM fund ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Fund
	for rows.Next() {
		f, err := scanFund(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetFund retrieves a fund. Returns nil, nil when absent.
func (s *Store) GetFund(ctx context.Context, id int64) (*Fund, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, created_at, name, style_type, cap_type, last_updated FROM fund WHERE id = ?`, id)
	f, err := scanFund(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return f, err
}

func scanFund(row scanner) (*Fund, error) {
	var f Fund
	var last sql.NullInt64
	if err := row.Scan(&f.ID, &f.CreatedAt, &f.Name, &f.StyleType, &f.CapType, &last); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan fund: %w", err)
	}
	f.LastUpdated = msPtr(last)
	return &f, nil
}

// FundHoldingsBefore returns a fund's composition on its latest holding
// date strictly before day: the state a rebalance on day starts from.
func (s *Store) FundHoldingsBefore(ctx context.Context, fundID int64, day time.Time) ([]FundHolding, error) {
	return s.fundHoldings(ctx,
		`SELECT fund_id, symbol, holding_date, ranking FROM fund_holding
		WHERE fund_id = ? AND holding_date = (
		    SELECT MAX(holding_date) FROM fund_holding WHERE fund_id = ? AND holding_date < ?
		)
		ORDER BY ranking, symbol`, fundID, fundID, dateKey(day))
}

// LatestFundHoldings returns a fund's most recent composition.
func (s *Store) LatestFundHoldings(ctx context.Context, fundID int64) ([]FundHolding, error) {
	return s.fundHoldings(ctx,
		`SELECT fund_id, symbol, holding_date, ranking FROM fund_holding
		WHERE fund_id = ? AND holding_date = (
		    SELECT MAX(holding_date) FROM fund_holding WHERE fund_id = ?
		)
		ORDER BY ranking, symbol`, fundID, fundID)
}

func (s *Store) fundHoldings(ctx context.Context, query string, args ...any) ([]FundHolding, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FundHolding
	for rows.Next() {
		var h FundHolding
		var day string
		if err := rows.Scan(&h.FundID, &h.Symbol, &day, &h.Ranking); err != nil {
			return nil, fmt.Errorf("scan fund holding: %w", err)
		}
		if h.HoldingDate, err = parseDateKey(day); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// WriteFundDay replaces a fund's composition and change list for day and
// stamps the fund as updated, all in one transaction.
func (s *Store) WriteFundDay(ctx context.Context, fundID int64, day time.Time, holdings []FundHolding, changes []FundHoldingChange) error {
	key := dateKey(day)
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM fund_holding WHERE fund_id = ? AND holding_date = ?`, fundID, key); err != nil {
			return fmt.Errorf("delete fund holdings: %w", err)
		}
		for _, h := range holdings {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO fund_holding (fund_id, symbol, holding_date, ranking) VALUES (?, ?, ?, ?)`,
				fundID, h.Symbol, key, h.Ranking); err != nil {
				return fmt.Errorf("insert fund holding %s: %w", h.Symbol, err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM fund_holding_change WHERE fund_id = ? AND change_date = ?`, fundID, key); err != nil {
			return fmt.Errorf("delete fund changes: %w", err)
		}
		for _, c := range changes {
			ids, err := json.Marshal(c.AllProviderEtfIDs)
			if err != nil {
				return err
			}
			if c.AllProviderEtfIDs == nil {
				ids = []byte("[]")
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO fund_holding_change (fund_id, symbol, change_date, direction, ranking,
				appearances, max_delta, top_delta_provider_etf_id, all_provider_etf_ids)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				fundID, c.Symbol, key, string(c.Direction), nullInt(int64(c.Ranking)),
				nullInt(int64(c.Appearances)), c.MaxDelta, nullInt(c.TopDeltaProviderEtfID),
				string(ids)); err != nil {
				return fmt.Errorf("insert fund change %s: %w", c.Symbol, err)
			}
		}

		_, err := tx.ExecContext(ctx,
			`UPDATE fund SET last_updated = ? WHERE id = ?`, s.now().UnixMilli(), fundID)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: write fund %d day %s: %w", fundID, key, err)
	}
	return nil
}

// FundChanges returns a fund's buys and sells on or after since, newest
// day first.
func (s *Store) FundChanges(ctx context.Context, fundID int64, since time.Time) ([]FundHoldingChange, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT fund_id, symbol, change_date, direction, ranking, appearances, max_delta,
		    top_delta_provider_etf_id, all_provider_etf_ids
		FROM fund_holding_change
		WHERE fund_id = ? AND change_date >= ?
		ORDER BY change_date DESC, direction DESC, symbol`, fundID, dateKey(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FundHoldingChange
	for rows.Next() {
		var c FundHoldingChange
		var day, dir, ids string
		var ranking, appearances, top sql.NullInt64
		if err := rows.Scan(&c.FundID, &c.Symbol, &day, &dir, &ranking, &appearances,
			&c.MaxDelta, &top, &ids); err != nil {
			return nil, fmt.Errorf("scan fund change: %w", err)
		}
		if c.ChangeDate, err = parseDateKey(day); err != nil {
			return nil, err
		}
		c.Direction = Direction(dir)
		c.Ranking = int(ranking.Int64)
		c.Appearances = int(appearances.Int64)
		c.TopDeltaProviderEtfID = top.Int64
		if err := json.Unmarshal([]byte(ids), &c.AllProviderEtfIDs); err != nil {
			return nil, fmt.Errorf("decode provider etf ids of %s: %w", c.Symbol, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
