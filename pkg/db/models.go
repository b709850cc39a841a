package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// TradeRecord is one row of the trade journal.
type TradeRecord struct {
	ID         string
	Action     string
	Symbol     string
	Side       string
	Volume     float64
	StopLoss   float64
	TakeProfit float64
	PositionID string
	Success    bool
	OrderID    string
	Reason     string
	Profit     float64
	CreatedAt  time.Time
}

const insertTradeRecord = `
	INSERT OR IGNORE INTO trade_records (
		id, action, symbol, side, volume, stop_loss, take_profit, position_id,
		success, order_id, reason, profit, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// InsertTradeRecordArgs returns the insert statement and its arguments so
// callers can batch rows into their own transaction.
func InsertTradeRecordArgs(r TradeRecord) (string, []any) {
	return insertTradeRecord, []any{
		r.ID, r.Action, r.Symbol, r.Side, r.Volume, r.StopLoss, r.TakeProfit, r.PositionID,
		boolToInt(r.Success), r.OrderID, r.Reason, r.Profit, r.CreatedAt.UnixNano(),
	}
}

// CreateTradeRecord inserts a single record. Duplicate ids are ignored.
func (d *Database) CreateTradeRecord(ctx context.Context, r TradeRecord) error {
	q, args := InsertTradeRecordArgs(r)
	if _, err := d.DB.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert trade record: %w", err)
	}
	return nil
}

// ListTradeRecords returns the journal oldest first. limit <= 0 returns every row;
// otherwise the newest limit rows.
func (d *Database) ListTradeRecords(ctx context.Context, limit int) ([]TradeRecord, error) {
	var (
		rows *sql.Rows
		err  error
	)
	const cols = `id, action, symbol, side, volume, stop_loss, take_profit, position_id,
		success, order_id, reason, profit, created_at`
	if limit > 0 {
		rows, err = d.DB.QueryContext(ctx, `
			SELECT `+cols+` FROM (
				SELECT `+cols+`, rowid AS rid FROM trade_records
				ORDER BY created_at DESC, rowid DESC LIMIT ?
			) ORDER BY created_at ASC, rid ASC`, limit)
	} else {
		rows, err = d.DB.QueryContext(ctx, `
			SELECT `+cols+` FROM trade_records
			ORDER BY created_at ASC, rowid ASC`)
	}
	if err != nil {
		return nil, fmt.Errorf("query trade records: %w", err)
	}
	defer rows.Close()

	var res []TradeRecord
	for rows.Next() {
		var (
			r       TradeRecord
			success int
			created int64
		)
		if err := rows.Scan(&r.ID, &r.Action, &r.Symbol, &r.Side, &r.Volume, &r.StopLoss, &r.TakeProfit,
			&r.PositionID, &success, &r.OrderID, &r.Reason, &r.Profit, &created); err != nil {
			return nil, fmt.Errorf("scan trade record: %w", err)
		}
		r.Success = success != 0
		r.CreatedAt = time.Unix(0, created).UTC()
		res = append(res, r)
	}
	return res, rows.Err()
}

// CountTradeRecords returns the journal size.
func (d *Database) CountTradeRecords(ctx context.Context) (int, error) {
	var n int
	if err := d.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM trade_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count trade records: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
