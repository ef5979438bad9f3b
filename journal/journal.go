// Package journal persists an audit trail of disk management operations in a
// local SQLite database.
//
// Every mount, unmount, power change, and network-share operation gets one
// row, recorded after the fact. The journal is advisory: recording failures
// are logged and never fail the operation they describe.
//
// The database runs in WAL mode so the admin API can read recent history
// while operations are being recorded.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // SQLite driver

	diskman "github.com/mingyue/diskman"
)

// Entry is one recorded operation.
type Entry struct {
	ID         string    `json:"id"`
	RecordedAt time.Time `json:"recorded_at"`
	Operation  string    `json:"operation"`
	Target     string    `json:"target"`
	Success    bool      `json:"success"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	Warning    string    `json:"warning,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

// Config holds journal database configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns the standard journal configuration.
func DefaultConfig() Config {
	return Config{
		Path:            "/var/lib/mingyue/diskman.db",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// Journal wraps the SQLite connection.
type Journal struct {
	db     *sql.DB
	path   string
	logger logrus.FieldLogger
}

// New opens the journal database and initializes the schema. WAL mode keeps
// reads available during writes; the busy timeout plus the retry in Record
// absorb lock contention from overlapping requests.
func New(cfg Config) (*Journal, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	j := &Journal{db: db, path: cfg.Path, logger: logrus.StandardLogger()}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return j, nil
}

// SetLogger sets a custom logger.
func (j *Journal) SetLogger(logger logrus.FieldLogger) { j.logger = logger }

// Close closes the database connection.
func (j *Journal) Close() error { return j.db.Close() }

// Ping verifies the database connection is alive.
func (j *Journal) Ping(ctx context.Context) error { return j.db.PingContext(ctx) }

// Path returns the database file path.
func (j *Journal) Path() string { return j.path }

// Record inserts one entry, retrying briefly when the database is locked by a
// concurrent writer. The entry ID is assigned here when empty.
func (j *Journal) Record(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}

	insert := func() error {
		_, err := j.db.ExecContext(ctx,
			`INSERT INTO operations (id, recorded_at, operation, target, success, message, detail, warning, duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, entry.RecordedAt.Format(time.RFC3339Nano), entry.Operation, entry.Target,
			entry.Success, entry.Message, entry.Detail, entry.Warning, entry.DurationMS,
		)
		if err != nil && !isBusy(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	if err := backoff.Retry(insert, policy); err != nil {
		return fmt.Errorf("failed to record journal entry: %w", err)
	}
	return nil
}

// RecordResult is the convenience path used by the API and CLI layers: it
// derives an Entry from an OperationResult and logs instead of failing when
// the journal itself is unavailable.
func (j *Journal) RecordResult(ctx context.Context, operation, target string, res diskman.OperationResult, duration time.Duration) {
	entry := Entry{
		Operation:  operation,
		Target:     target,
		Success:    res.Success,
		Message:    res.Message,
		Detail:     res.Detail,
		Warning:    res.Warning,
		DurationMS: duration.Milliseconds(),
	}
	if err := j.Record(ctx, entry); err != nil {
		j.logger.WithError(err).WithFields(logrus.Fields{
			"operation": operation,
			"target":    target,
		}).Warn("failed to record operation in journal")
	}
}

// Recent returns the newest entries, most recent first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, recorded_at, operation, target, success, message, detail, warning, duration_ms
		 FROM operations ORDER BY recorded_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var recordedAt string
		if err := rows.Scan(&e.ID, &recordedAt, &e.Operation, &e.Target, &e.Success, &e.Message, &e.Detail, &e.Warning, &e.DurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, recordedAt); err == nil {
			e.RecordedAt = t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
