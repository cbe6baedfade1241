package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/etfwatch/dbopen"
)

// UpsertBestIdeas writes ranked ideas in one transaction. A row whose
// weights, delta and ranking are unchanged is not rewritten. It returns the
// number of rows written.
func (s *Store) UpsertBestIdeas(ctx context.Context, ideas []BestIdea) (int, error) {
	if len(ideas) == 0 {
		return 0, nil
	}
	now := s.now().UnixMilli()
	written := 0
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		written = 0
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO best_idea (provider_etf_id, symbol, value_date, etf_weight,
			benchmark_weight, delta, ranking, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (provider_etf_id, symbol, value_date) DO UPDATE SET
			    etf_weight = excluded.etf_weight,
			    benchmark_weight = excluded.benchmark_weight,
			    delta = excluded.delta,
			    ranking = excluded.ranking,
			    updated_at = excluded.updated_at
			WHERE best_idea.etf_weight IS NOT excluded.etf_weight
			   OR best_idea.benchmark_weight IS NOT excluded.benchmark_weight
			   OR best_idea.delta IS NOT excluded.delta
			   OR best_idea.ranking IS NOT excluded.ranking`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, b := range ideas {
			res, err := stmt.ExecContext(ctx, b.ProviderEtfID, b.Symbol, dateKey(b.ValueDate),
				b.EtfWeight, b.BenchmarkWeight, b.Delta, b.Ranking, now)
			if err != nil {
				return fmt.Errorf("upsert best idea %s: %w", b.Symbol, err)
			}
			n, _ := res.RowsAffected()
			written += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: upsert best ideas: %w", err)
	}
	return written, nil
}

// LatestBestIdeas returns, for each provider ETF, its ideas on its most
// recent value date on or after since. providerEtfID 0 selects every ETF.
func (s *Store) LatestBestIdeas(ctx context.Context, since time.Time, providerEtfID int64) ([]BestIdea, error) {
	rows, err := s.DB.QueryContext(ctx,
		`WITH latest AS (
		    SELECT provider_etf_id, MAX(value_date) AS value_date FROM best_idea
		    WHERE value_date >= ? AND (? = 0 OR provider_etf_id = ?)
		    GROUP BY provider_etf_id
		)
		SELECT b.provider_etf_id, b.symbol, b.value_date, b.etf_weight,
		    b.benchmark_weight, b.delta, b.ranking
		FROM best_idea b
		JOIN latest l ON l.provider_etf_id = b.provider_etf_id AND l.value_date = b.value_date
		ORDER BY b.provider_etf_id, b.ranking`,
		dateKey(since), providerEtfID, providerEtfID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BestIdea
	for rows.Next() {
		var b BestIdea
		var day string
		if err := rows.Scan(&b.ProviderEtfID, &b.Symbol, &day, &b.EtfWeight,
			&b.BenchmarkWeight, &b.Delta, &b.Ranking); err != nil {
			return nil, fmt.Errorf("scan best idea: %w", err)
		}
		if b.ValueDate, err = parseDateKey(day); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// IdeaCandidates returns the ideas ranked maxRank or better from each
// provider ETF's latest value date on or after since, restricted to valid
// tickers of one style and cap type.
func (s *Store) IdeaCandidates(ctx context.Context, since time.Time, maxRank int, styleType, capType string) ([]IdeaCandidate, error) {
	rows, err := s.DB.QueryContext(ctx,
		`WITH latest AS (
		    SELECT provider_etf_id, MAX(value_date) AS value_date FROM best_idea
		    WHERE value_date >= ?
		    GROUP BY provider_etf_id
		)
		SELECT b.symbol, t.name, b.provider_etf_id, b.delta, b.ranking
		FROM best_idea b
		JOIN latest l ON l.provider_etf_id = b.provider_etf_id AND l.value_date = b.value_date
		JOIN provider_etf e ON e.id = b.provider_etf_id AND e.disabled = 0
		JOIN ticker t ON t.symbol = b.symbol
		WHERE b.ranking <= ? AND t.invalid = '' AND t.style_type = ? AND t.cap_type = ?
		ORDER BY b.provider_etf_id, b.ranking`,
		dateKey(since), maxRank, styleType, capType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IdeaCandidate
	for rows.Next() {
		var c IdeaCandidate
		if err := rows.Scan(&c.Symbol, &c.Name, &c.ProviderEtfID, &c.Delta, &c.Ranking); err != nil {
			return nil, fmt.Errorf("scan idea candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
