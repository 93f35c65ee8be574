// Package store persists markets, price snapshots, and precise price rows
// in SQLite. Markets are insert-if-absent (static attributes never change
// once written), snapshots and prices are append-only.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database.
type Store struct {
	sql    *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path and runs migrations.
// Use ":memory:" for an ephemeral store.
func Open(path string, logger *slog.Logger) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s := &Store{sql: sqlDB, logger: logger.With("component", "store")}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	s.logger.Info("store opened", "path", path)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sql.Close()
}

func (s *Store) migrate() error {
	version := 0
	s.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := s.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS markets (
				condition_id               TEXT PRIMARY KEY,
				question                   TEXT NOT NULL,
				slug                       TEXT NOT NULL DEFAULT '',
				category                   TEXT NOT NULL DEFAULT '',
				outcomes                   TEXT NOT NULL DEFAULT '[]',
				clob_token_ids             TEXT NOT NULL DEFAULT '[]',
				end_date                   TEXT NOT NULL DEFAULT '',
				active                     INTEGER NOT NULL DEFAULT 0,
				closed                     INTEGER NOT NULL DEFAULT 0,
				restricted                 INTEGER NOT NULL DEFAULT 0,
				enable_order_book          INTEGER NOT NULL DEFAULT 0,
				approved                   INTEGER NOT NULL DEFAULT 0,
				ready                      INTEGER NOT NULL DEFAULT 0,
				funded                     INTEGER NOT NULL DEFAULT 0,
				featured                   INTEGER NOT NULL DEFAULT 0,
				is_new                     INTEGER NOT NULL DEFAULT 0,
				neg_risk                   INTEGER NOT NULL DEFAULT 0,
				order_min_size             REAL NOT NULL DEFAULT 0,
				order_price_min_tick_size  REAL NOT NULL DEFAULT 0,
				accepting_orders           INTEGER NOT NULL DEFAULT 0,
				accepting_orders_timestamp TEXT NOT NULL DEFAULT '',
				uma_bond                   REAL NOT NULL DEFAULT 0,
				uma_reward                 REAL NOT NULL DEFAULT 0,
				resolved_by                TEXT NOT NULL DEFAULT '',
				resolution_source          TEXT NOT NULL DEFAULT '',
				submitted_by               TEXT NOT NULL DEFAULT '',
				group_item_title           TEXT NOT NULL DEFAULT '',
				group_item_threshold       REAL NOT NULL DEFAULT 0,
				custom_liveness            INTEGER NOT NULL DEFAULT 0,
				image                      TEXT NOT NULL DEFAULT '',
				created_at                 TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_markets_active ON markets(active, closed);
			CREATE INDEX IF NOT EXISTS idx_markets_category ON markets(category);
			CREATE INDEX IF NOT EXISTS idx_markets_end_date ON markets(end_date);

			CREATE TABLE IF NOT EXISTS price_snapshots (
				id                     INTEGER PRIMARY KEY AUTOINCREMENT,
				condition_id           TEXT NOT NULL REFERENCES markets(condition_id),
				outcome_prices         TEXT NOT NULL DEFAULT '[]',
				best_bid               REAL NOT NULL DEFAULT 0,
				best_ask               REAL NOT NULL DEFAULT 0,
				spread                 REAL NOT NULL DEFAULT 0,
				last_trade_price       REAL NOT NULL DEFAULT 0,
				price_change_1h        REAL NOT NULL DEFAULT 0,
				price_change_1d        REAL NOT NULL DEFAULT 0,
				price_change_1wk       REAL NOT NULL DEFAULT 0,
				price_change_1mo      REAL NOT NULL DEFAULT 0,
				price_change_1y        REAL NOT NULL DEFAULT 0,
				volume_num             REAL NOT NULL DEFAULT 0,
				volume_24hr            REAL NOT NULL DEFAULT 0,
				volume_1wk             REAL NOT NULL DEFAULT 0,
				volume_1mo             REAL NOT NULL DEFAULT 0,
				volume_1yr             REAL NOT NULL DEFAULT 0,
				volume_amm             REAL NOT NULL DEFAULT 0,
				volume_24hr_amm        REAL NOT NULL DEFAULT 0,
				volume_clob            REAL NOT NULL DEFAULT 0,
				volume_24hr_clob       REAL NOT NULL DEFAULT 0,
				liquidity_num          REAL NOT NULL DEFAULT 0,
				liquidity_amm          REAL NOT NULL DEFAULT 0,
				liquidity_clob         REAL NOT NULL DEFAULT 0,
				competitive            REAL NOT NULL DEFAULT 0,
				comment_count          INTEGER NOT NULL DEFAULT 0,
				recorded_at            TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_snapshots_condition ON price_snapshots(condition_id, recorded_at);

			CREATE TABLE IF NOT EXISTS market_prices (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				condition_id  TEXT NOT NULL,
				token_id      TEXT NOT NULL,
				outcome       TEXT NOT NULL DEFAULT '',
				outcome_index INTEGER NOT NULL DEFAULT 0,
				buy_price     REAL,
				sell_price    REAL,
				mid_price     REAL,
				spread        REAL,
				spread_pct    REAL,
				fetched_at    TEXT NOT NULL,
				UNIQUE(condition_id, token_id, fetched_at)
			);
			CREATE INDEX IF NOT EXISTS idx_prices_token ON market_prices(token_id, fetched_at);

			INSERT INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
	}
	return nil
}
