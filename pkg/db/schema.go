package db

import "fmt"

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS trade_records (
    id TEXT PRIMARY KEY,
    action TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL DEFAULT '',
    volume REAL NOT NULL DEFAULT 0,
    stop_loss REAL NOT NULL DEFAULT 0,
    take_profit REAL NOT NULL DEFAULT 0,
    position_id TEXT NOT NULL DEFAULT '',
    success INTEGER NOT NULL,
    order_id TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL DEFAULT '',
    profit REAL NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trade_records_created ON trade_records(created_at);
`

// ApplyMigrations creates the journal tables. It is safe to run on every start.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("trade journal is not open")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply journal schema: %w", err)
	}
	return nil
}
