// Package store persists correlated sessions to SQLite so matches survive
// restarts.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/marcus/agentboard/internal/registry"
)

// Store handles SQLite operations for session records.
type Store struct {
	db *sql.DB
}

// DefaultDBPath resolves the database location: AGENTBOARD_DB_PATH if set,
// otherwise ~/.agentboard/agentboard.db.
func DefaultDBPath() string {
	if p := os.Getenv("AGENTBOARD_DB_PATH"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "agentboard.db"
	}
	return filepath.Join(home, ".agentboard", "agentboard.db")
}

// New opens (creating if needed) the session database.
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS agent_sessions (
    id TEXT PRIMARY KEY,
    agent_family TEXT NOT NULL,
    log_file_path TEXT NOT NULL,
    project_path TEXT NOT NULL DEFAULT '',
    slug TEXT NOT NULL DEFAULT '',
    display_name TEXT NOT NULL DEFAULT '',
    current_window TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'unknown',
    pinned INTEGER DEFAULT 0,
    codex_exec INTEGER DEFAULT 0,
    subagent INTEGER DEFAULT 0,
    last_user_message TEXT NOT NULL DEFAULT '',
    last_resume_error TEXT NOT NULL DEFAULT '',
    last_known_log_size INTEGER DEFAULT 0,
    token_count INTEGER DEFAULT 0,
    last_activity_at TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_log_path ON agent_sessions(log_file_path);
CREATE INDEX IF NOT EXISTS idx_sessions_window ON agent_sessions(current_window);
CREATE INDEX IF NOT EXISTS idx_sessions_slug ON agent_sessions(slug, project_path);
`
	_, err := s.db.Exec(schema)
	return err
}

const sessionColumns = `id, agent_family, log_file_path, project_path, slug, display_name,
	current_window, status, pinned, codex_exec, subagent, last_user_message,
	last_resume_error, last_known_log_size, token_count, last_activity_at, created_at`

// Upsert inserts or fully replaces a session record.
func (s *Store) Upsert(sess *registry.Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO agent_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_family = excluded.agent_family,
			log_file_path = excluded.log_file_path,
			project_path = excluded.project_path,
			slug = excluded.slug,
			display_name = excluded.display_name,
			current_window = excluded.current_window,
			status = excluded.status,
			pinned = excluded.pinned,
			codex_exec = excluded.codex_exec,
			subagent = excluded.subagent,
			last_user_message = excluded.last_user_message,
			last_resume_error = excluded.last_resume_error,
			last_known_log_size = excluded.last_known_log_size,
			token_count = excluded.token_count,
			last_activity_at = excluded.last_activity_at
	`, sess.ID, sess.AgentFamily, sess.LogFilePath, sess.ProjectPath, sess.Slug,
		sess.DisplayName, sess.CurrentWindow, string(sess.Status),
		boolToInt(sess.IsPinned), boolToInt(sess.IsCodexExec), boolToInt(sess.IsSubagent),
		sess.LastUserMessage, sess.LastResumeError, sess.LastKnownLogSize,
		sess.TokenCount, formatTime(sess.LastActivityAt), formatTime(sess.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// Get retrieves a session by logical ID. Returns nil when absent.
func (s *Store) Get(id string) (*registry.Session, error) {
	return s.queryOne(`SELECT `+sessionColumns+` FROM agent_sessions WHERE id = ?`, id)
}

// GetByLogPath retrieves the session bound to a transcript file.
func (s *Store) GetByLogPath(logPath string) (*registry.Session, error) {
	return s.queryOne(`SELECT `+sessionColumns+` FROM agent_sessions WHERE log_file_path = ?`, logPath)
}

// GetByWindow retrieves the session holding a window claim.
func (s *Store) GetByWindow(window string) (*registry.Session, error) {
	if window == "" {
		return nil, nil
	}
	return s.queryOne(`SELECT `+sessionColumns+` FROM agent_sessions WHERE current_window = ?`, window)
}

// GetBySlugProject retrieves the most recently active session sharing a slug
// within a project. Used for supersede detection on session resume.
func (s *Store) GetBySlugProject(slug, projectPath string) (*registry.Session, error) {
	if slug == "" {
		return nil, nil
	}
	return s.queryOne(`
		SELECT `+sessionColumns+` FROM agent_sessions
		WHERE slug = ? AND project_path = ?
		ORDER BY last_activity_at DESC LIMIT 1`, slug, projectPath)
}

// All returns every stored session, most recently active first.
func (s *Store) All() ([]registry.Session, error) {
	return s.queryMany(`SELECT ` + sessionColumns + ` FROM agent_sessions ORDER BY last_activity_at DESC`)
}

// Attached returns sessions currently claiming a window.
func (s *Store) Attached() ([]registry.Session, error) {
	return s.queryMany(`SELECT ` + sessionColumns + ` FROM agent_sessions WHERE current_window != '' ORDER BY last_activity_at DESC`)
}

// Orphaned returns sessions with no window claim.
func (s *Store) Orphaned() ([]registry.Session, error) {
	return s.queryMany(`SELECT ` + sessionColumns + ` FROM agent_sessions WHERE current_window = '' ORDER BY last_activity_at DESC`)
}

// ClaimWindow binds a window to a session, releasing any other session that
// held the same window. At most one session may claim a window.
func (s *Store) ClaimWindow(id, window string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if window != "" {
		if _, err := tx.Exec(`UPDATE agent_sessions SET current_window = '' WHERE current_window = ? AND id != ?`, window, id); err != nil {
			return fmt.Errorf("release window: %w", err)
		}
	}
	if _, err := tx.Exec(`UPDATE agent_sessions SET current_window = ? WHERE id = ?`, window, id); err != nil {
		return fmt.Errorf("claim window: %w", err)
	}
	return tx.Commit()
}

// ReleaseWindow clears a session's window claim.
func (s *Store) ReleaseWindow(id string) error {
	_, err := s.db.Exec(`UPDATE agent_sessions SET current_window = '' WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("release window: %w", err)
	}
	return nil
}

// Delete removes a session record.
func (s *Store) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM agent_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DisplayNameTaken reports whether another session already uses a name.
func (s *Store) DisplayNameTaken(name, excludeID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM agent_sessions WHERE display_name = ? AND id != ?`, name, excludeID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check display name: %w", err)
	}
	return n > 0, nil
}

func (s *Store) queryOne(query string, args ...interface{}) (*registry.Session, error) {
	row := s.db.QueryRow(query, args...)
	sess, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	return sess, nil
}

func (s *Store) queryMany(query string, args ...interface{}) ([]registry.Session, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []registry.Session
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

func scanSession(scan func(...interface{}) error) (*registry.Session, error) {
	var sess registry.Session
	var status, lastActivity, createdAt string
	var pinned, codexExec, subagent int

	err := scan(&sess.ID, &sess.AgentFamily, &sess.LogFilePath, &sess.ProjectPath,
		&sess.Slug, &sess.DisplayName, &sess.CurrentWindow, &status,
		&pinned, &codexExec, &subagent, &sess.LastUserMessage,
		&sess.LastResumeError, &sess.LastKnownLogSize, &sess.TokenCount,
		&lastActivity, &createdAt)
	if err != nil {
		return nil, err
	}

	sess.Status = registry.Status(status)
	sess.IsPinned = pinned == 1
	sess.IsCodexExec = codexExec == 1
	sess.IsSubagent = subagent == 1
	sess.LastActivityAt = parseTime(lastActivity)
	sess.CreatedAt = parseTime(createdAt)
	return &sess, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
