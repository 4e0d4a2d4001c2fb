package core

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Failure is a journal entry for one record that reached a terminal failure
type Failure struct {
	ID          uuid.UUID
	Topic       string
	Partition   int32
	Offset      int64
	Destination string
	Attempts    int
	StatusCode  int // zero when no response was received
	Error       string
	CreatedAt   time.Time
}

// NewFailure builds the journal entry for rec from its outcome
func NewFailure(rec Record, o Outcome, now time.Time) Failure {
	f := Failure{
		ID:          uuid.New(),
		Topic:       rec.Topic,
		Partition:   rec.Partition,
		Offset:      rec.Offset,
		Destination: o.Destination,
		Attempts:    o.Attempts,
		CreatedAt:   now.UTC(),
	}
	if o.Err != nil {
		f.Error = o.Err.Error()
	}
	var derr *DeliveryError
	if errors.As(o.Err, &derr) {
		f.StatusCode = derr.StatusCode
	}
	return f
}

func MigrateDB(ctx context.Context, db *sql.DB) error {

	// Create the failures table if not exists
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS failures (
			id TEXT PRIMARY KEY,
			record_topic TEXT NOT NULL,
			record_partition INTEGER NOT NULL,
			record_offset INTEGER NOT NULL,
			destination TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			status_code INTEGER NOT NULL,
			error TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func InsertFailure(ctx context.Context, db *sql.DB, f Failure) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO failures (id, record_topic, record_partition, record_offset, destination, attempts, status_code, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.Topic, f.Partition, f.Offset, f.Destination, f.Attempts, f.StatusCode, f.Error, f.CreatedAt)
	return err
}

// GetFailures returns a page of the journal, oldest first
func GetFailures(ctx context.Context, db *sql.DB, offset, limit int) ([]Failure, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, record_topic, record_partition, record_offset, destination, attempts, status_code, error, created_at
		FROM failures ORDER BY created_at, rowid LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return mapRows(rows)
}

func CountFailures(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failures`).Scan(&n)
	return n, err
}

func mapRows(rows *sql.Rows) ([]Failure, error) {
	failures := []Failure{}
	for rows.Next() {
		f := Failure{}
		err := rows.Scan(&f.ID, &f.Topic, &f.Partition, &f.Offset, &f.Destination, &f.Attempts, &f.StatusCode, &f.Error, &f.CreatedAt)
		if err != nil {
			return nil, err
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// Journal is a RecordSender that writes every failed record to the failures table
type Journal struct {
	next   RecordSender
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewJournal(db *sql.DB, next RecordSender) *Journal {
	return &Journal{next: next, db: db, logger: slog.Default(), now: time.Now}
}

func (j *Journal) WithLogger(logger *slog.Logger) *Journal {
	j.logger = logger
	return j
}

func (j *Journal) Send(ctx context.Context, records []Record) Report {
	report := j.next.Send(ctx, records)

	// Failures are journaled even when ctx is done
	wctx := context.WithoutCancel(ctx)
	for i, o := range report.Outcomes {
		if o.Status != OutcomeFailed {
			continue
		}
		f := NewFailure(records[i], o, j.now())
		if err := InsertFailure(wctx, j.db, f); err != nil {
			j.logger.Error("failed to journal failure", slog.String("topic", f.Topic), slog.Int64("offset", f.Offset), slog.Any("error", err))
		}
	}
	return report
}
