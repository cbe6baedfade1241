package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/etfwatch/dbopen"
)

// ReplaceHoldings writes the holdings of one provider ETF. Every trade date
// present in holdings is fully replaced; the deletes and inserts share one
// transaction so a reader never sees a half-written date. It returns the
// number of rows inserted.
func (s *Store) ReplaceHoldings(ctx context.Context, providerEtfID int64, holdings []Holding) (int, error) {
	if len(holdings) == 0 {
		return 0, nil
	}
	dates := make(map[string]struct{})
	for _, h := range holdings {
		dates[dateKey(h.TradeDate)] = struct{}{}
	}
	now := s.now().UnixMilli()

	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		for d := range dates {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM provider_etf_holding WHERE provider_etf_id = ? AND trade_date = ?`,
				providerEtfID, d); err != nil {
				return fmt.Errorf("delete holdings: %w", err)
			}
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO provider_etf_holding (created_at, provider_etf_id, trade_date,
			ticker, shares, market_value, weight, extra)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare holdings insert: %w", err)
		}
		defer stmt.Close()

		for _, h := range holdings {
			extra := "{}"
			if len(h.Extra) > 0 {
				b, err := json.Marshal(h.Extra)
				if err != nil {
					return fmt.Errorf("encode extra for %s: %w", h.Ticker, err)
				}
				extra = string(b)
			}
			if _, err := stmt.ExecContext(ctx, now, providerEtfID, dateKey(h.TradeDate),
				h.Ticker, h.Shares, h.MarketValue, h.Weight, extra); err != nil {
				return fmt.Errorf("insert holding %s: %w", h.Ticker, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: replace holdings of etf %d: %w", providerEtfID, err)
	}
	return len(holdings), nil
}

// HoldingDates returns the distinct trade dates of a provider ETF on or
// after since, ascending.
func (s *Store) HoldingDates(ctx context.Context, providerEtfID int64, since time.Time) ([]time.Time, error) {
	return s.queryDates(ctx,
		`SELECT DISTINCT trade_date FROM provider_etf_holding
		WHERE provider_etf_id = ? AND trade_date >= ? ORDER BY trade_date`,
		providerEtfID, dateKey(since))
}

// Holdings returns a provider ETF's holdings on a date, excluding tickers
// flagged invalid. Tickers never seen by the ticker table are kept.
func (s *Store) Holdings(ctx context.Context, providerEtfID int64, date time.Time) ([]Holding, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT h.provider_etf_id, h.trade_date, h.ticker, h.shares, h.market_value, h.weight, h.extra
		FROM provider_etf_holding h
		LEFT JOIN ticker t ON t.symbol = h.ticker
		WHERE h.provider_etf_id = ? AND h.trade_date = ? AND COALESCE(t.invalid, '') = ''
		ORDER BY h.id`, providerEtfID, dateKey(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Holding
	for rows.Next() {
		var h Holding
		var day, extra string
		if err := rows.Scan(&h.ProviderEtfID, &day, &h.Ticker, &h.Shares, &h.MarketValue, &h.Weight, &extra); err != nil {
			return nil, fmt.Errorf("scan holding: %w", err)
		}
		if h.TradeDate, err = parseDateKey(day); err != nil {
			return nil, err
		}
		if extra != "" && extra != "{}" {
			if err := json.Unmarshal([]byte(extra), &h.Extra); err != nil {
				return nil, fmt.Errorf("decode extra of %s: %w", h.Ticker, err)
			}
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// HoldingSymbols returns every distinct ticker held by any provider ETF.
func (s *Store) HoldingSymbols(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `SELECT DISTINCT ticker FROM provider_etf_holding ORDER BY ticker`)
}

func (s *Store) queryDates(ctx context.Context, query string, args ...any) ([]time.Time, error) {
	keys, err := s.queryStrings(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(keys))
	for _, k := range keys {
		d, err := parseDateKey(k)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Store) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
