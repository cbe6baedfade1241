package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/etfwatch/dbopen"
)

const tickerColumns = `symbol, created_at, source, style_type, cap_type, type_from,
	isin, cik, exchange, name, industry, sector, invalid`

// SyncTickers adds a ticker row for every held symbol that has none. It
// returns the number of tickers added.
func (s *Store) SyncTickers(ctx context.Context) (int, error) {
	res, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO ticker (symbol, created_at, source)
		SELECT DISTINCT ticker, ?, 'holding' FROM provider_etf_holding WHERE true
		ON CONFLICT (symbol) DO NOTHING`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("store: sync tickers: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CategorizeTickers tags symbols with a cap and style type, creating missing
// tickers. Rows already carrying both types are left untouched. It returns
// the number of rows written.
func (s *Store) CategorizeTickers(ctx context.Context, symbols []string, capType, styleType string) (int, error) {
	if len(symbols) == 0 {
		return 0, nil
	}
	now := s.now().UnixMilli()
	written := 0
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		written = 0
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO ticker (symbol, created_at, cap_type, style_type, source, type_from)
			VALUES (?, ?, ?, ?, 'cat_etf', 'cat_etf')
			ON CONFLICT (symbol) DO UPDATE SET
			    cap_type = excluded.cap_type,
			    style_type = excluded.style_type,
			    type_from = 'cat_etf'
			WHERE ticker.cap_type IS NOT excluded.cap_type
			   OR ticker.style_type IS NOT excluded.style_type`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, sym := range symbols {
			res, err := stmt.ExecContext(ctx, sym, now, capType, styleType)
			if err != nil {
				return fmt.Errorf("categorize %s: %w", sym, err)
			}
			n, _ := res.RowsAffected()
			written += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: categorize tickers: %w", err)
	}
	return written, nil
}

// GetTicker retrieves a ticker. Returns nil, nil when absent.
func (s *Store) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+tickerColumns+` FROM ticker WHERE symbol = ?`, symbol)
	t, err := scanTicker(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// Tickers returns the known tickers among symbols, keyed by symbol.
func (s *Store) Tickers(ctx context.Context, symbols []string) (map[string]*Ticker, error) {
	out := make(map[string]*Ticker, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}
	args := make([]any, len(symbols))
	for i, sym := range symbols {
		args[i] = sym
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+tickerColumns+` FROM ticker WHERE symbol IN (`+placeholders(len(symbols))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		t, err := scanTicker(rows)
		if err != nil {
			return nil, err
		}
		out[t.Symbol] = t
	}
	return out, rows.Err()
}

// ValidHeldSymbols returns the held symbols whose ticker is not flagged
// invalid, in symbol order.
func (s *Store) ValidHeldSymbols(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx,
		`SELECT DISTINCT h.ticker FROM provider_etf_holding h
		JOIN ticker t ON t.symbol = h.ticker
		WHERE t.invalid = '' ORDER BY h.ticker`)
}

// UpdateTickerInfo overwrites the identity fields of a ticker.
func (s *Store) UpdateTickerInfo(ctx context.Context, t *Ticker) error {
	_, err := dbopen.Exec(ctx, s.DB,
		`UPDATE ticker SET isin = ?, cik = ?, exchange = ?, name = ?, industry = ?, sector = ?
		WHERE symbol = ?`,
		t.ISIN, t.CIK, t.Exchange, t.Name, t.Industry, t.Sector, t.Symbol)
	return err
}

// MarkTickerInvalid excludes a symbol from rankings with a reason.
func (s *Store) MarkTickerInvalid(ctx context.Context, symbol, reason string) error {
	_, err := dbopen.Exec(ctx, s.DB, `UPDATE ticker SET invalid = ? WHERE symbol = ?`, reason, symbol)
	return err
}

func scanTicker(row scanner) (*Ticker, error) {
	var t Ticker
	err := row.Scan(&t.Symbol, &t.CreatedAt, &t.Source, &t.StyleType, &t.CapType, &t.TypeFrom,
		&t.ISIN, &t.CIK, &t.Exchange, &t.Name, &t.Industry, &t.Sector, &t.Invalid)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan ticker: %w", err)
	}
	return &t, nil
}

// UpsertTickerValue writes the price and market cap of a symbol on a date.
// Writing the values already stored is a no-op: no column, updated_at
// included, is rewritten. It reports whether a row was written.
func (s *Store) UpsertTickerValue(ctx context.Context, v TickerValue) (bool, error) {
	res, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO ticker_value (symbol, value_date, stock_price, market_cap, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (symbol, value_date) DO UPDATE SET
		    stock_price = excluded.stock_price,
		    market_cap = excluded.market_cap,
		    updated_at = excluded.updated_at
		WHERE ticker_value.stock_price IS NOT excluded.stock_price
		   OR ticker_value.market_cap IS NOT excluded.market_cap`,
		v.Symbol, dateKey(v.ValueDate), v.StockPrice, v.MarketCap, s.now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("store: upsert ticker value %s: %w", v.Symbol, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// TickerValues returns the values of symbols on a date.
func (s *Store) TickerValues(ctx context.Context, symbols []string, date time.Time) ([]TickerValue, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(symbols)+1)
	args = append(args, dateKey(date))
	for _, sym := range symbols {
		args = append(args, sym)
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT symbol, value_date, stock_price, market_cap FROM ticker_value
		WHERE value_date = ? AND symbol IN (`+placeholders(len(symbols))+`)
		ORDER BY symbol`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TickerValue
	for rows.Next() {
		var v TickerValue
		var day string
		if err := rows.Scan(&v.Symbol, &day, &v.StockPrice, &v.MarketCap); err != nil {
			return nil, fmt.Errorf("scan ticker value: %w", err)
		}
		if v.ValueDate, err = parseDateKey(day); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// PriceDates returns the distinct dates with market values on or after
// since, ascending.
func (s *Store) PriceDates(ctx context.Context, since time.Time) ([]time.Time, error) {
	return s.queryDates(ctx,
		`SELECT DISTINCT value_date FROM ticker_value WHERE value_date >= ? ORDER BY value_date`,
		dateKey(since))
}
