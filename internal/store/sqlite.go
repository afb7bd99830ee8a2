package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/amma-stories/amma/internal/domain"
	"github.com/amma-stories/amma/internal/shared"
)

const (
	maxRetries     = 3
	retryBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite opens (creating if needed) the archive at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		user_text TEXT NOT NULL,
		reply TEXT NOT NULL,
		path_json TEXT NOT NULL,
		error TEXT,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, started_at);

	CREATE TABLE IF NOT EXISTS stories (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		turn_id TEXT NOT NULL,
		child_name TEXT,
		theme TEXT,
		story TEXT NOT NULL,
		revision_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_stories_session ON stories(session_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// withRetry runs op, retrying with exponential backoff while SQLite reports
// lock contention.
func withRetry(ctx context.Context, name string, op func() error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		if err = op(); err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}
		delay := retryBaseDelay * time.Duration(1<<i)
		slog.Debug("Database locked, retrying", "op", name, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", name, ctx.Err())
		}
	}
	return fmt.Errorf("%s: %w", name, err)
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RecordTurn stores one graph turn.
func (s *SQLiteStore) RecordTurn(ctx context.Context, rec domain.TurnRecord) error {
	path, err := json.Marshal(rec.Path)
	if err != nil {
		return fmt.Errorf("marshal turn path: %w", err)
	}

	var turnErr any
	if rec.Error != "" {
		turnErr = rec.Error
	}

	return withRetry(ctx, "insert turn", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO turns (id, session_id, user_text, reply, path_json, error, started_at, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.SessionID, rec.UserText, rec.Reply, string(path), turnErr,
			rec.StartedAt.UnixMilli(), rec.Duration.Milliseconds(),
		)
		return err
	})
}

// RecordStory stores a story delivered by the presenter.
func (s *SQLiteStore) RecordStory(ctx context.Context, rec domain.StoryRecord) error {
	return withRetry(ctx, "insert story", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO stories (id, session_id, turn_id, child_name, theme, story, revision_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.SessionID, rec.TurnID, rec.ChildName, rec.Theme, rec.Story,
			rec.RevisionCount, rec.CreatedAt.UnixMilli(),
		)
		return err
	})
}

// ListStories returns a session's stories, oldest first.
func (s *SQLiteStore) ListStories(ctx context.Context, sessionID string) ([]domain.StoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, turn_id, child_name, theme, story, revision_count, created_at
		FROM stories WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query stories: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("Failed to close story rows", "error", closeErr)
		}
	}()

	stories := []domain.StoryRecord{}
	for rows.Next() {
		var rec domain.StoryRecord
		var childName, theme sql.NullString
		var createdAt int64
		if err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.TurnID, &childName, &theme,
			&rec.Story, &rec.RevisionCount, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan story row: %w", err)
		}
		rec.ChildName = childName.String
		rec.Theme = theme.String
		rec.CreatedAt = time.UnixMilli(createdAt).UTC()
		stories = append(stories, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stories: %w", err)
	}
	return stories, nil
}

// ListTurns returns a session's turns, oldest first.
func (s *SQLiteStore) ListTurns(ctx context.Context, sessionID string) ([]domain.TurnRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, user_text, reply, path_json, error, started_at, duration_ms
		FROM turns WHERE session_id = ? ORDER BY started_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("Failed to close turn rows", "error", closeErr)
		}
	}()

	var turns []domain.TurnRecord
	for rows.Next() {
		var rec domain.TurnRecord
		var pathJSON string
		var turnErr sql.NullString
		var startedAt, durationMS int64
		if err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.UserText, &rec.Reply,
			&pathJSON, &turnErr, &startedAt, &durationMS,
		); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		if err := json.Unmarshal([]byte(pathJSON), &rec.Path); err != nil {
			return nil, fmt.Errorf("decode turn path: %w", err)
		}
		rec.Error = turnErr.String
		rec.StartedAt = time.UnixMilli(startedAt).UTC()
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		turns = append(turns, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

// DeleteSession removes every record of a session.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	return withRetry(ctx, "delete session", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM stories WHERE session_id = ?`, sessionID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
