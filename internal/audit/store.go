package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLiteStore is an append-only alarm log. Triggers reject updates and
// deletes.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initializeSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Log(ctx context.Context, alarm Alarm) error {
	if err := validateAlarm(alarm); err != nil {
		return err
	}

	return s.insertAlarm(ctx, alarm)
}

func (s *SQLiteStore) GetAll(ctx context.Context) ([]Entry, error) {
	return s.query(ctx, querySelectAll)
}

// ForRequest returns the alarms of one request in the order they were
// raised.
func (s *SQLiteStore) ForRequest(ctx context.Context, requestID string) ([]Entry, error) {
	return s.query(ctx, querySelectByRequest, requestID)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initializeSchema() error {
	for _, stmt := range schemaStatements() {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("execute schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) insertAlarm(ctx context.Context, a Alarm) error {
	const maxRetries = 3
	var err error

	params := string(a.Params)
	if params == "" {
		params = "{}"
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err = s.db.ExecContext(ctx, queryInsertAlarm,
			a.RequestID, string(a.Kind), a.CheckType, a.PolicyID, a.Action,
			a.Plugin, a.Message, a.Confidence, a.URL, a.Source, params)
		if err == nil {
			return nil
		}

		if isBusy(err) {
			time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
			continue
		}

		return fmt.Errorf("insert alarm: %w", err)
	}

	return fmt.Errorf("insert alarm after %d retries: %w", maxRetries, err)
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alarms: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
