package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"safety-monitoring/internal/pipeline"
	"safety-monitoring/pkg/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id BIGINT NOT NULL,
	ts DATETIME NOT NULL,
	source VARCHAR(32) NOT NULL,
	event_type VARCHAR(64) NOT NULL,
	payload JSON NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (id),
	KEY idx_created_at (created_at),
	KEY idx_source (source)
)`

// MySQLBackend is the primary durable event log.
type MySQLBackend struct {
	db *sql.DB
}

func NewMySQLBackend(dsn string) (*MySQLBackend, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}
	// tune pool
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)

	if _, err := db.Exec(schema); err != nil {
		// Schema creation failing is not fatal: the store starts
		// degraded and falls back until the database comes back.
		logger.Get().Warnw("mysql schema init failed", "error", err)
	} else {
		logger.Get().Infow("mysql backend initialized")
	}
	return &MySQLBackend{db: db}, nil
}

func (b *MySQLBackend) DB() *sql.DB {
	return b.db
}

func (b *MySQLBackend) Close() error {
	return b.db.Close()
}

func (b *MySQLBackend) InsertBatch(ctx context.Context, events []pipeline.Event) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (id, ts, source, event_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("marshal payload for event %d: %w", e.ID, err)
		}
		_, err = stmt.ExecContext(ctx,
			e.ID,
			e.Timestamp.UTC(),
			string(e.Source),
			string(e.Type),
			string(payload),
			e.CreatedAt.UTC(),
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert event %d: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (b *MySQLBackend) Recent(ctx context.Context, limit int) ([]pipeline.Event, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, ts, source, event_type, payload, created_at
		FROM events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("select recent events: %w", err)
	}
	defer rows.Close()

	var events []pipeline.Event
	for rows.Next() {
		var ev pipeline.Event
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Source, &ev.Type, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		p, err := pipeline.DecodePayload(ev.Source, ev.Type, payload)
		if err != nil {
			logger.Get().Warnw("skipping undecodable payload", "event_id", ev.ID, "error", err)
			continue
		}
		ev.Payload = p
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (b *MySQLBackend) Summary(ctx context.Context) (Summary, error) {
	sum := Summary{
		BySource: map[string]int64{},
		ByType:   map[string]int64{},
	}

	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&sum.TotalEvents); err != nil {
		return sum, fmt.Errorf("count events: %w", err)
	}

	if err := b.groupCount(ctx, `SELECT source, COUNT(*) FROM events GROUP BY source`, sum.BySource); err != nil {
		return sum, err
	}
	if err := b.groupCount(ctx, `SELECT event_type, COUNT(*) FROM events GROUP BY event_type`, sum.ByType); err != nil {
		return sum, err
	}

	err := b.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM events
		WHERE event_type = ?
		AND payload LIKE '%"accident_detected":true%'
		AND created_at > NOW() - INTERVAL 1 DAY
	`, string(pipeline.TypeCameraDetection)).Scan(&sum.RecentAccidents)
	if err != nil {
		return sum, fmt.Errorf("count recent accidents: %w", err)
	}
	return sum, nil
}

func (b *MySQLBackend) groupCount(ctx context.Context, query string, into map[string]int64) error {
	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("group count: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan group count: %w", err)
		}
		into[key] = n
	}
	return rows.Err()
}

func (b *MySQLBackend) MaxID(ctx context.Context) (int64, error) {
	var max int64
	err := b.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM events`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("select max id: %w", err)
	}
	return max, nil
}
