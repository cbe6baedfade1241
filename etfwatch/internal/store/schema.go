package store

import "database/sql"

// Schema is the complete etfwatch schema.
const Schema = `
-- ETF issuers. Event scripts, trigger and mapping are JSON documents.
CREATE TABLE IF NOT EXISTS provider (
    id                INTEGER PRIMARY KEY,
    created_at        INTEGER NOT NULL,
    name              TEXT NOT NULL,
    domain            TEXT NOT NULL DEFAULT '',
    url_start         TEXT NOT NULL,
    wait_pre_events   TEXT NOT NULL DEFAULT '',
    wait_post_events  TEXT NOT NULL DEFAULT '',
    events            TEXT NOT NULL DEFAULT '[]',
    trigger_download  TEXT NOT NULL DEFAULT '',
    mapping           TEXT NOT NULL DEFAULT '',
    file_format       TEXT NOT NULL DEFAULT '',
    cadence           TEXT NOT NULL DEFAULT 'daily',
    disabled          INTEGER NOT NULL DEFAULT 0,
    disabled_reason   TEXT NOT NULL DEFAULT ''
);

-- One fund page per row. Empty script fields fall back to the provider's.
CREATE TABLE IF NOT EXISTS provider_etf (
    id                 INTEGER PRIMARY KEY,
    created_at         INTEGER NOT NULL,
    provider_id        INTEGER NOT NULL REFERENCES provider(id) ON DELETE CASCADE,
    name               TEXT NOT NULL,
    isin               TEXT NOT NULL DEFAULT '',
    cap_type           TEXT NOT NULL DEFAULT '',
    style_type         TEXT NOT NULL DEFAULT '',
    benchmark          TEXT NOT NULL DEFAULT '',
    trading_since      TEXT NOT NULL DEFAULT '',
    number_of_managers INTEGER NOT NULL DEFAULT 0,
    url                TEXT NOT NULL DEFAULT '',
    wait_pre_events    TEXT NOT NULL DEFAULT '',
    wait_post_events   TEXT NOT NULL DEFAULT '',
    events             TEXT NOT NULL DEFAULT '[]',
    trigger_download   TEXT NOT NULL DEFAULT '',
    mapping            TEXT NOT NULL DEFAULT '',
    file_format        TEXT NOT NULL DEFAULT '',
    disabled           INTEGER NOT NULL DEFAULT 0,
    disabled_reason    TEXT NOT NULL DEFAULT '',
    last_downloaded    INTEGER
);
CREATE INDEX IF NOT EXISTS idx_provider_etf_provider ON provider_etf(provider_id);

-- Index funds whose constituents define a style/cap bucket.
CREATE TABLE IF NOT EXISTS categorize_etf (
    id                INTEGER PRIMARY KEY,
    created_at        INTEGER NOT NULL,
    name              TEXT NOT NULL,
    cap_type          TEXT NOT NULL,
    style_type        TEXT NOT NULL,
    url               TEXT NOT NULL,
    wait_pre_events   TEXT NOT NULL DEFAULT '',
    wait_post_events  TEXT NOT NULL DEFAULT '',
    events            TEXT NOT NULL DEFAULT '[]',
    trigger_download  TEXT NOT NULL DEFAULT '',
    mapping           TEXT NOT NULL DEFAULT '',
    file_format       TEXT NOT NULL DEFAULT '',
    cadence           TEXT NOT NULL DEFAULT 'monthly',
    disabled          INTEGER NOT NULL DEFAULT 0,
    last_downloaded   INTEGER
);

CREATE TABLE IF NOT EXISTS provider_etf_holding (
    id               INTEGER PRIMARY KEY,
    created_at       INTEGER NOT NULL,
    provider_etf_id  INTEGER NOT NULL REFERENCES provider_etf(id) ON DELETE CASCADE,
    trade_date       TEXT NOT NULL,
    ticker           TEXT NOT NULL,
    shares           REAL NOT NULL,
    market_value     REAL,
    weight           REAL NOT NULL,
    extra            TEXT NOT NULL DEFAULT '{}',
    UNIQUE (provider_etf_id, trade_date, ticker)
);
CREATE INDEX IF NOT EXISTS idx_holding_ticker ON provider_etf_holding(ticker);

CREATE TABLE IF NOT EXISTS ticker (
    symbol      TEXT PRIMARY KEY,
    created_at  INTEGER NOT NULL,
    source      TEXT NOT NULL DEFAULT '',
    style_type  TEXT NOT NULL DEFAULT '',
    cap_type    TEXT NOT NULL DEFAULT '',
    type_from   TEXT NOT NULL DEFAULT '',
    isin        TEXT NOT NULL DEFAULT '',
    cik         TEXT NOT NULL DEFAULT '',
    exchange    TEXT NOT NULL DEFAULT '',
    name        TEXT NOT NULL DEFAULT '',
    industry    TEXT NOT NULL DEFAULT '',
    sector      TEXT NOT NULL DEFAULT '',
    invalid     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_ticker_bucket ON ticker(style_type, cap_type);

CREATE TABLE IF NOT EXISTS ticker_value (
    symbol       TEXT NOT NULL,
    value_date   TEXT NOT NULL,
    stock_price  REAL,
    market_cap   REAL,
    updated_at   INTEGER NOT NULL,
    PRIMARY KEY (symbol, value_date)
);
CREATE INDEX IF NOT EXISTS idx_ticker_value_date ON ticker_value(value_date);

CREATE TABLE IF NOT EXISTS best_idea (
    provider_etf_id   INTEGER NOT NULL REFERENCES provider_etf(id) ON DELETE CASCADE,
    symbol            TEXT NOT NULL,
    value_date        TEXT NOT NULL,
    etf_weight        REAL NOT NULL,
    benchmark_weight  REAL NOT NULL,
    delta             REAL NOT NULL,
    ranking           INTEGER NOT NULL,
    updated_at        INTEGER NOT NULL,
    PRIMARY KEY (provider_etf_id, symbol, value_date)
);
CREATE INDEX IF NOT EXISTS idx_best_idea_date ON best_idea(value_date, ranking);

CREATE TABLE IF NOT EXISTS fund (
    id            INTEGER PRIMARY KEY,
    created_at    INTEGER NOT NULL,
    name          TEXT NOT NULL,
    style_type    TEXT NOT NULL,
    cap_type      TEXT NOT NULL,
    last_updated  INTEGER
);

CREATE TABLE IF NOT EXISTS fund_holding (
    fund_id       INTEGER NOT NULL REFERENCES fund(id) ON DELETE CASCADE,
    symbol        TEXT NOT NULL,
    holding_date  TEXT NOT NULL,
    ranking       INTEGER NOT NULL,
    PRIMARY KEY (fund_id, symbol, holding_date)
);

CREATE TABLE IF NOT EXISTS fund_holding_change (
    fund_id                    INTEGER NOT NULL REFERENCES fund(id) ON DELETE CASCADE,
    symbol                     TEXT NOT NULL,
    change_date                TEXT NOT NULL,
    direction                  TEXT NOT NULL CHECK (direction IN ('buy', 'sell')),
    ranking                    INTEGER,
    appearances                INTEGER,
    max_delta                  REAL,
    top_delta_provider_etf_id  INTEGER,
    all_provider_etf_ids       TEXT NOT NULL DEFAULT '[]',
    PRIMARY KEY (fund_id, symbol, change_date)
);
`

// Migration001ProviderLastRun adds the provider-level scrape stamp that
// cadence is measured from.
const Migration001ProviderLastRun = `ALTER TABLE provider ADD COLUMN last_run_at INTEGER`

// ApplySchema creates all tables and applies column migrations.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return err
	}
	applyColumnMigration(db, "provider", "last_run_at", Migration001ProviderLastRun)
	return nil
}

// applyColumnMigration adds a column if it doesn't exist (idempotent).
func applyColumnMigration(db *sql.DB, table, column, ddl string) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&count)
	if err != nil || count > 0 {
		return
	}
	db.Exec(ddl)
}
