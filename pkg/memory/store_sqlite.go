package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// MaxGlobalSTM caps the cross-session STM slice returned by GetGlobalContext.
const MaxGlobalSTM = 50

// SQLiteStore is the canonical persistent memory storage.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates/opens the memory database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create memory db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One shared connection keeps SQLite writers from contending on the
	// database lock.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS sessions_user_idx ON sessions(user_id, updated_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS stm_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS stm_session_idx ON stm_entries(user_id, session_id, created_at_ms, id);`,
		`CREATE INDEX IF NOT EXISTS stm_user_recent_idx ON stm_entries(user_id, created_at_ms DESC, id DESC);`,
		`CREATE TABLE IF NOT EXISTS ltm_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			memory_text TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS ltm_session_idx ON ltm_entries(user_id, session_id, created_at_ms, id);`,
		`CREATE TABLE IF NOT EXISTS memory_metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			metric TEXT NOT NULL,
			value REAL NOT NULL,
			labels_json TEXT NOT NULL DEFAULT '{}',
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS memory_metrics_metric_idx ON memory_metrics(metric, created_at_ms DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

func trimSQL(sql string) string {
	line := strings.TrimSpace(sql)
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}

func nowMS() int64 { return time.Now().UnixMilli() }

func encodeMap(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func (s *SQLiteStore) GetOrCreateSession(ctx context.Context, userID, sessionID string) (SessionState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SessionState{}, storeErr("get or create session begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := nowMS()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO sessions(session_id, user_id, message_count, created_at_ms, updated_at_ms)
VALUES(?, ?, 0, ?, ?)
ON CONFLICT(session_id) DO NOTHING`, sessionID, userID, now, now); err != nil {
		return SessionState{}, storeErr("get or create session insert", err)
	}

	state, err := loadSessionState(ctx, tx, userID, sessionID)
	if err != nil {
		return SessionState{}, fmt.Errorf("get or create session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return SessionState{}, storeErr("get or create session commit", err)
	}
	return state, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, userID, sessionID string) (SessionState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SessionState{}, storeErr("get session begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	state, err := loadSessionState(ctx, tx, userID, sessionID)
	if err != nil {
		return SessionState{}, fmt.Errorf("get session: %w", err)
	}
	return state, nil
}

func loadSessionState(ctx context.Context, tx *sql.Tx, userID, sessionID string) (SessionState, error) {
	row := tx.QueryRowContext(ctx, `
SELECT session_id, user_id, message_count, created_at_ms, updated_at_ms
FROM sessions WHERE session_id = ?`, sessionID)
	var (
		out                  SessionState
		createdMS, updatedMS int64
	)
	if err := row.Scan(&out.Session.SessionID, &out.Session.UserID, &out.Session.MessageCount, &createdMS, &updatedMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionState{}, ErrSessionNotFound
		}
		return SessionState{}, storeErr("scan session", err)
	}
	if out.Session.UserID != userID {
		return SessionState{}, ErrSessionOwnership
	}
	out.Session.CreatedAt = time.UnixMilli(createdMS)
	out.Session.UpdatedAt = time.UnixMilli(updatedMS)

	stmRows, err := tx.QueryContext(ctx, `
SELECT id, session_id, user_id, role, content, created_at_ms
FROM stm_entries
WHERE user_id = ? AND session_id = ?
ORDER BY created_at_ms ASC, id ASC`, userID, sessionID)
	if err != nil {
		return SessionState{}, storeErr("list session stm", err)
	}
	out.STM, err = scanSTM(stmRows)
	if err != nil {
		return SessionState{}, err
	}

	ltmRows, err := tx.QueryContext(ctx, `
SELECT id, session_id, user_id, memory_text, created_at_ms
FROM ltm_entries
WHERE user_id = ? AND session_id = ?
ORDER BY created_at_ms ASC, id ASC`, userID, sessionID)
	if err != nil {
		return SessionState{}, storeErr("list session ltm", err)
	}
	out.LTM, err = scanLTM(ltmRows)
	if err != nil {
		return SessionState{}, err
	}
	return out, nil
}

func scanSTM(rows *sql.Rows) ([]STMEntry, error) {
	defer rows.Close()
	out := make([]STMEntry, 0)
	for rows.Next() {
		var (
			e         STMEntry
			role      string
			createdMS int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.UserID, &role, &e.Content, &createdMS); err != nil {
			return nil, storeErr("scan stm", err)
		}
		e.Role = Role(role)
		e.CreatedAt = time.UnixMilli(createdMS)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate stm", err)
	}
	return out, nil
}

func scanLTM(rows *sql.Rows) ([]LTMEntry, error) {
	defer rows.Close()
	out := make([]LTMEntry, 0)
	for rows.Next() {
		var (
			e         LTMEntry
			createdMS int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.UserID, &e.MemoryText, &createdMS); err != nil {
			return nil, storeErr("scan ltm", err)
		}
		e.CreatedAt = time.UnixMilli(createdMS)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate ltm", err)
	}
	return out, nil
}

// touchSessionTx bumps updated_at_ms and fails with ErrSessionNotFound when
// the session does not exist for userID.
func touchSessionTx(ctx context.Context, tx *sql.Tx, userID, sessionID string, atMS int64) error {
	res, err := tx.ExecContext(ctx, `
UPDATE sessions SET updated_at_ms = ?
WHERE session_id = ? AND user_id = ?`, atMS, sessionID, userID)
	if err != nil {
		return storeErr("touch session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("touch session rows", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteStore) SetMessageCount(ctx context.Context, userID, sessionID string, count int) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE sessions SET message_count = ?, updated_at_ms = ?
WHERE session_id = ? AND user_id = ?`, count, nowMS(), sessionID, userID)
	if err != nil {
		return storeErr("set message count", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("set message count rows", err)
	}
	if n == 0 {
		return fmt.Errorf("set message count: %w", ErrSessionNotFound)
	}
	return nil
}

func (s *SQLiteStore) AppendSTM(ctx context.Context, userID, sessionID string, role Role, content string) (STMEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return STMEntry{}, storeErr("append stm begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := nowMS()
	if err := touchSessionTx(ctx, tx, userID, sessionID, now); err != nil {
		return STMEntry{}, fmt.Errorf("append stm: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
INSERT INTO stm_entries(session_id, user_id, role, content, created_at_ms)
VALUES(?, ?, ?, ?, ?)`, sessionID, userID, string(role), content, now)
	if err != nil {
		return STMEntry{}, storeErr("append stm insert", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return STMEntry{}, storeErr("append stm id", err)
	}
	if err := tx.Commit(); err != nil {
		return STMEntry{}, storeErr("append stm commit", err)
	}
	return STMEntry{
		ID:        id,
		SessionID: sessionID,
		UserID:    userID,
		Role:      role,
		Content:   content,
		CreatedAt: time.UnixMilli(now),
	}, nil
}

func (s *SQLiteStore) ClearSTM(ctx context.Context, userID, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM stm_entries WHERE user_id = ? AND session_id = ?`, userID, sessionID)
	if err != nil {
		return storeErr("clear stm", err)
	}
	return nil
}

func (s *SQLiteStore) AppendLTM(ctx context.Context, userID, sessionID string, memoryTexts []string) ([]LTMEntry, error) {
	return s.commitFacts(ctx, "append ltm", userID, sessionID, memoryTexts, 0)
}

func (s *SQLiteStore) CommitSummary(ctx context.Context, userID, sessionID string, memoryTexts []string, throughSTMID int64) ([]LTMEntry, error) {
	return s.commitFacts(ctx, "commit summary", userID, sessionID, memoryTexts, throughSTMID)
}

// commitFacts inserts one LTM row per text and, when throughSTMID > 0,
// deletes the summarized STM prefix in the same transaction.
func (s *SQLiteStore) commitFacts(ctx context.Context, op, userID, sessionID string, memoryTexts []string, throughSTMID int64) ([]LTMEntry, error) {
	if len(memoryTexts) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr(op+" begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := nowMS()
	if err := touchSessionTx(ctx, tx, userID, sessionID, now); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO ltm_entries(session_id, user_id, memory_text, created_at_ms)
VALUES(?, ?, ?, ?)`)
	if err != nil {
		return nil, storeErr(op+" prepare", err)
	}
	defer stmt.Close()

	out := make([]LTMEntry, 0, len(memoryTexts))
	for _, text := range memoryTexts {
		res, err := stmt.ExecContext(ctx, sessionID, userID, text, now)
		if err != nil {
			return nil, storeErr(op+" insert ltm", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, storeErr(op+" ltm id", err)
		}
		out = append(out, LTMEntry{ID: id, SessionID: sessionID, UserID: userID, MemoryText: text, CreatedAt: time.UnixMilli(now)})
	}

	if throughSTMID > 0 {
		if _, err := tx.ExecContext(ctx, `
DELETE FROM stm_entries
WHERE user_id = ? AND session_id = ? AND id <= ?`, userID, sessionID, throughSTMID); err != nil {
			return nil, storeErr(op+" clear stm", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr(op+" commit", err)
	}
	return out, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT s.session_id, s.message_count, s.created_at_ms, s.updated_at_ms,
	COALESCE(
		(SELECT st.content FROM stm_entries st
			WHERE st.user_id = s.user_id AND st.session_id = s.session_id
			ORDER BY st.created_at_ms ASC, st.id ASC LIMIT 1),
		(SELECT l.memory_text FROM ltm_entries l
			WHERE l.user_id = s.user_id AND l.session_id = s.session_id
			ORDER BY l.created_at_ms ASC, l.id ASC LIMIT 1),
		'')
FROM sessions s
WHERE s.user_id = ?
ORDER BY s.updated_at_ms DESC, s.session_id ASC`, userID)
	if err != nil {
		return nil, storeErr("list sessions", err)
	}
	defer rows.Close()

	out := make([]SessionSummary, 0)
	for rows.Next() {
		var (
			sum                  SessionSummary
			createdMS, updatedMS int64
			rawTitle             string
		)
		if err := rows.Scan(&sum.SessionID, &sum.MessageCount, &createdMS, &updatedMS, &rawTitle); err != nil {
			return nil, storeErr("scan session summary", err)
		}
		sum.Title = sessionTitle(rawTitle)
		sum.CreatedAt = time.UnixMilli(createdMS)
		sum.UpdatedAt = time.UnixMilli(updatedMS)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate session summaries", err)
	}
	return out, nil
}

func (s *SQLiteStore) GetGlobalContext(ctx context.Context, userID string, stmLimit int) (GlobalContext, error) {
	if stmLimit <= 0 || stmLimit > MaxGlobalSTM {
		stmLimit = MaxGlobalSTM
	}

	ltmRows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, user_id, memory_text, created_at_ms
FROM ltm_entries
WHERE user_id = ?
ORDER BY created_at_ms ASC, id ASC`, userID)
	if err != nil {
		return GlobalContext{}, storeErr("global ltm", err)
	}
	ltm, err := scanLTM(ltmRows)
	if err != nil {
		return GlobalContext{}, err
	}

	stmRows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, user_id, role, content, created_at_ms
FROM stm_entries
WHERE user_id = ?
ORDER BY created_at_ms DESC, id DESC
LIMIT ?`, userID, stmLimit)
	if err != nil {
		return GlobalContext{}, storeErr("global stm", err)
	}
	stm, err := scanSTM(stmRows)
	if err != nil {
		return GlobalContext{}, err
	}
	for i, j := 0, len(stm)-1; i < j; i, j = i+1, j-1 {
		stm[i], stm[j] = stm[j], stm[i]
	}
	return GlobalContext{LTM: ltm, STM: stm}, nil
}

func (s *SQLiteStore) ListPendingSummaries(ctx context.Context, minSTM, limit int) ([]SessionRef, error) {
	if minSTM <= 0 {
		minSTM = 1
	}
	if limit <= 0 {
		limit = 32
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, user_id, COUNT(*) AS n
FROM stm_entries
GROUP BY session_id, user_id
HAVING n >= ?
ORDER BY MIN(created_at_ms) ASC
LIMIT ?`, minSTM, limit)
	if err != nil {
		return nil, storeErr("list pending summaries", err)
	}
	defer rows.Close()

	out := make([]SessionRef, 0)
	for rows.Next() {
		var ref SessionRef
		if err := rows.Scan(&ref.SessionID, &ref.UserID, &ref.STMCount); err != nil {
			return nil, storeErr("scan pending summary", err)
		}
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate pending summaries", err)
	}
	return out, nil
}

func (s *SQLiteStore) AddMetric(ctx context.Context, metric string, value float64, labels map[string]string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO memory_metrics(metric, value, labels_json, created_at_ms)
VALUES(?, ?, ?, ?)`, metric, value, encodeMap(labels), nowMS())
	if err != nil {
		return fmt.Errorf("add metric: %w", err)
	}
	return nil
}

// MetricTotal sums a metric's recorded values.
func (s *SQLiteStore) MetricTotal(ctx context.Context, metric string) (float64, error) {
	var total sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `SELECT SUM(value) FROM memory_metrics WHERE metric = ?`, metric).Scan(&total); err != nil {
		return 0, fmt.Errorf("metric total: %w", err)
	}
	return total.Float64, nil
}
