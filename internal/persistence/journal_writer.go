// Package persistence batches trade journal writes into SQLite transactions.
package persistence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"trading-assistant/internal/performance"
	"trading-assistant/internal/transport"
	"trading-assistant/pkg/db"
)

// ErrWriterClosed is returned by Append after Close.
var ErrWriterClosed = errors.New("journal writer closed")

// JournalWriter buffers trade records and flushes them in one transaction when
// the buffer fills or the interval elapses. It implements performance.Journal.
type JournalWriter struct {
	db          *db.Database
	buffer      []db.TradeRecord
	mu          sync.Mutex
	maxSize     int
	flushIntval time.Duration
	done        chan struct{}
	closeOnce   sync.Once
	closed      atomic.Bool
	wg          sync.WaitGroup
	metrics     WriterMetrics
	log         zerolog.Logger
}

// WriterMetrics provides statistics about batch operations.
type WriterMetrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// NewJournalWriter starts the background flusher.
// maxSize: max records before auto-flush
// interval: time-based flush interval
func NewJournalWriter(database *db.Database, maxSize int, interval time.Duration, log zerolog.Logger) *JournalWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	w := &JournalWriter{
		db:          database,
		buffer:      make([]db.TradeRecord, 0, maxSize),
		maxSize:     maxSize,
		flushIntval: interval,
		done:        make(chan struct{}),
		log:         log.With().Str("component", "journal").Logger(),
	}

	w.wg.Add(1)
	go w.backgroundFlush()

	return w
}

// Append queues rec. A full buffer is flushed synchronously.
func (w *JournalWriter) Append(rec performance.TradeRecord) error {
	if w.closed.Load() {
		return ErrWriterClosed
	}
	w.mu.Lock()
	w.buffer = append(w.buffer, toRow(rec))
	shouldFlush := len(w.buffer) >= w.maxSize
	w.mu.Unlock()

	if shouldFlush {
		return w.Flush()
	}
	return nil
}

// Load flushes pending records and reads the whole journal, oldest first.
func (w *JournalWriter) Load(ctx context.Context) ([]performance.TradeRecord, error) {
	if err := w.Flush(); err != nil {
		return nil, err
	}
	rows, err := w.db.ListTradeRecords(ctx, 0)
	if err != nil {
		return nil, err
	}
	out := make([]performance.TradeRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

// Flush immediately writes all buffered records.
func (w *JournalWriter) Flush() error {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return nil
	}

	batch := w.buffer
	w.buffer = make([]db.TradeRecord, 0, w.maxSize)
	w.mu.Unlock()

	return w.executeBatch(batch)
}

// executeBatch writes a batch in a transaction. A failed batch is requeued
// ahead of newer records so ordering survives a transient error.
func (w *JournalWriter) executeBatch(batch []db.TradeRecord) error {
	atomic.AddUint64(&w.metrics.TotalWrites, uint64(len(batch)))
	atomic.AddUint64(&w.metrics.TotalBatches, 1)

	err := w.writeTx(batch)
	if err != nil {
		atomic.AddUint64(&w.metrics.TotalErrors, 1)
		w.mu.Lock()
		w.buffer = append(batch, w.buffer...)
		w.mu.Unlock()
		return err
	}

	w.mu.Lock()
	w.metrics.LastBatchSize = len(batch)
	w.metrics.LastFlushTime = time.Now()
	w.mu.Unlock()

	w.log.Debug().Int("records", len(batch)).Msg("journal flushed")
	return nil
}

func (w *JournalWriter) writeTx(batch []db.TradeRecord) error {
	tx, err := w.db.DB.Begin()
	if err != nil {
		w.log.Error().Err(err).Msg("begin transaction failed")
		return err
	}
	for _, r := range batch {
		q, args := db.InsertTradeRecordArgs(r)
		if _, err := tx.Exec(q, args...); err != nil {
			tx.Rollback()
			w.log.Error().Err(err).Str("record_id", r.ID).Msg("insert failed, rolling back")
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		w.log.Error().Err(err).Msg("commit failed")
		return err
	}
	return nil
}

// backgroundFlush periodically flushes the buffer.
func (w *JournalWriter) backgroundFlush() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.flushIntval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.Flush(); err != nil {
				w.log.Warn().Err(err).Msg("background flush error")
			}
		case <-w.done:
			if err := w.Flush(); err != nil {
				w.log.Warn().Err(err).Msg("final flush error")
			}
			return
		}
	}
}

// Pending returns the number of unflushed records.
func (w *JournalWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

// Metrics returns the current writer statistics.
func (w *JournalWriter) Metrics() WriterMetrics {
	w.mu.Lock()
	size, at := w.metrics.LastBatchSize, w.metrics.LastFlushTime
	w.mu.Unlock()
	return WriterMetrics{
		TotalWrites:   atomic.LoadUint64(&w.metrics.TotalWrites),
		TotalBatches:  atomic.LoadUint64(&w.metrics.TotalBatches),
		TotalErrors:   atomic.LoadUint64(&w.metrics.TotalErrors),
		LastBatchSize: size,
		LastFlushTime: at,
	}
}

// Close flushes what is left and stops the flusher. Safe to call twice.
func (w *JournalWriter) Close() error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		close(w.done)
		w.wg.Wait()
	})
	return nil
}

func toRow(r performance.TradeRecord) db.TradeRecord {
	return db.TradeRecord{
		ID:         r.ID,
		Action:     string(r.Action),
		Symbol:     r.Params.Symbol,
		Side:       string(r.Params.Side),
		Volume:     r.Params.Volume,
		StopLoss:   r.Params.StopLoss,
		TakeProfit: r.Params.TakeProfit,
		PositionID: r.Params.PositionID,
		Success:    r.Result.Success,
		OrderID:    r.Result.OrderID,
		Reason:     r.Result.Reason,
		Profit:     r.Result.Profit,
		CreatedAt:  r.Timestamp,
	}
}

func fromRow(r db.TradeRecord) performance.TradeRecord {
	return performance.TradeRecord{
		ID:     r.ID,
		Action: performance.Action(r.Action),
		Params: performance.Params{
			Symbol:     r.Symbol,
			Side:       transport.Side(r.Side),
			Volume:     r.Volume,
			StopLoss:   r.StopLoss,
			TakeProfit: r.TakeProfit,
			PositionID: r.PositionID,
		},
		Result: performance.Result{
			Success: r.Success,
			OrderID: r.OrderID,
			Reason:  r.Reason,
			Profit:  r.Profit,
		},
		Timestamp: r.CreatedAt,
	}
}
