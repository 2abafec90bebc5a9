package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/duynguyendang/lexa/pkg/common/errors"
	"github.com/duynguyendang/lexa/pkg/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	file_name      TEXT NOT NULL,
	file_size      INTEGER NOT NULL,
	mime_type      TEXT NOT NULL,
	artifact_key   TEXT NOT NULL DEFAULT '',
	artifact_type  TEXT NOT NULL DEFAULT '',
	uploaded_at    INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL,
	status         TEXT NOT NULL,
	stage          TEXT NOT NULL DEFAULT '',
	progress       INTEGER NOT NULL DEFAULT 0,
	last_error     TEXT NOT NULL DEFAULT '',
	extracted_text TEXT,
	metadata       TEXT,
	extraction_ns  INTEGER NOT NULL DEFAULT 0,
	analysis       TEXT
);
CREATE INDEX IF NOT EXISTS idx_sessions_uploaded_at ON sessions(uploaded_at);
`

const selectColumns = `id, file_name, file_size, mime_type, artifact_key, artifact_type,
	uploaded_at, updated_at, status, stage, progress, last_error,
	extracted_text, metadata, extraction_ns, analysis`

// SQLiteStore persists one row per session so state survives restarts and
// can be shared with the MCP tool process.
type SQLiteStore struct {
	conn *sql.DB
	now  func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL keeps status polling readers off the writer's back
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{conn: conn, now: time.Now}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, sess *model.Session) error {
	row, err := toRow(sess)
	if err != nil {
		return err
	}
	_, err = s.conn.ExecContext(ctx, `INSERT INTO sessions (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.FileName, sess.FileSize, sess.MimeType, sess.Artifact.Key, sess.Artifact.ContentType,
		sess.UploadedAt.UnixNano(), s.now().UnixNano(), string(sess.Status), sess.Stage, sess.Progress, sess.LastError,
		row.text, row.metadata, int64(sess.ExtractionTime), row.analysis)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("session %s: %w", sess.ID, errors.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (model.Session, bool, error) {
	return s.get(ctx, s.conn, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) get(ctx context.Context, q queryRower, id string) (model.Session, bool, error) {
	var (
		sess                     model.Session
		status                   string
		uploadedAt, updatedAt    int64
		extractionNs             int64
		text, metadata, analysis sql.NullString
	)
	err := q.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM sessions WHERE id = ?`, id).Scan(
		&sess.ID, &sess.FileName, &sess.FileSize, &sess.MimeType, &sess.Artifact.Key, &sess.Artifact.ContentType,
		&uploadedAt, &updatedAt, &status, &sess.Stage, &sess.Progress, &sess.LastError,
		&text, &metadata, &extractionNs, &analysis)
	if err == sql.ErrNoRows {
		return model.Session{}, false, nil
	}
	if err != nil {
		return model.Session{}, false, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	sess.Status = model.Status(status)
	sess.UploadedAt = time.Unix(0, uploadedAt).UTC()
	sess.UpdatedAt = time.Unix(0, updatedAt).UTC()
	sess.ExtractionTime = time.Duration(extractionNs)
	if text.Valid {
		sess.ExtractedText = &text.String
	}
	if metadata.Valid {
		var meta model.DocumentMetadata
		if err := json.Unmarshal([]byte(metadata.String), &meta); err != nil {
			return model.Session{}, false, fmt.Errorf("failed to decode metadata of %s: %w", id, err)
		}
		sess.Metadata = &meta
	}
	if analysis.Valid {
		var result model.AnalysisResult
		if err := json.Unmarshal([]byte(analysis.String), &result); err != nil {
			return model.Session{}, false, fmt.Errorf("failed to decode analysis of %s: %w", id, err)
		}
		sess.Analysis = &result
	}
	return sess, true, nil
}

func (s *SQLiteStore) Merge(ctx context.Context, id string, p Patch) (model.Session, bool, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return model.Session{}, false, fmt.Errorf("failed to begin merge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sess, ok, err := s.get(ctx, tx, id)
	if err != nil || !ok {
		return model.Session{}, false, err
	}
	p.Apply(&sess)
	sess.UpdatedAt = s.now()

	row, err := toRow(&sess)
	if err != nil {
		return model.Session{}, false, err
	}
	_, err = tx.ExecContext(ctx, `UPDATE sessions SET
		artifact_key = ?, artifact_type = ?, updated_at = ?, status = ?, stage = ?, progress = ?,
		last_error = ?, extracted_text = ?, metadata = ?, extraction_ns = ?, analysis = ?
		WHERE id = ?`,
		sess.Artifact.Key, sess.Artifact.ContentType, sess.UpdatedAt.UnixNano(), string(sess.Status), sess.Stage, sess.Progress,
		sess.LastError, row.text, row.metadata, int64(sess.ExtractionTime), row.analysis, id)
	if err != nil {
		return model.Session{}, false, fmt.Errorf("failed to update session %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return model.Session{}, false, fmt.Errorf("failed to commit merge: %w", err)
	}
	return sess, true, nil
}

func (s *SQLiteStore) CompareAndSwapStatus(ctx context.Context, id string, from, to model.Status) (bool, error) {
	res, err := s.conn.ExecContext(ctx, `UPDATE sessions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), s.now().UnixNano(), id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to swap status of %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT id FROM sessions ORDER BY uploaded_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *SQLiteStore) EvictOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge).UnixNano()
	res, err := s.conn.ExecContext(ctx, `DELETE FROM sessions WHERE uploaded_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to evict sessions: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

type encodedRow struct {
	text     sql.NullString
	metadata sql.NullString
	analysis sql.NullString
}

func toRow(sess *model.Session) (encodedRow, error) {
	var row encodedRow
	if sess.ExtractedText != nil {
		row.text = sql.NullString{String: *sess.ExtractedText, Valid: true}
	}
	if sess.Metadata != nil {
		b, err := json.Marshal(sess.Metadata)
		if err != nil {
			return row, fmt.Errorf("failed to encode metadata: %w", err)
		}
		row.metadata = sql.NullString{String: string(b), Valid: true}
	}
	if sess.Analysis != nil {
		b, err := json.Marshal(sess.Analysis)
		if err != nil {
			return row, fmt.Errorf("failed to encode analysis: %w", err)
		}
		row.analysis = sql.NullString{String: string(b), Valid: true}
	}
	return row, nil
}
