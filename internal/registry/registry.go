package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/ccm-sh/ccm/internal/models"
)

// Registry persists session and message rows so sessions survive server
// restarts. Writes are serialized by SQLite; reads are plain snapshots.
type Registry struct {
	db *sql.DB
}

// SessionRow mirrors one row of the sessions table.
type SessionRow struct {
	ID           string
	WorktreeID   string
	WorktreePath string
	Status       models.SessionStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Open creates (or opens) the registry database and applies migrations.
func Open(path string) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc's driver needs a single writer; cascading deletes need the
	// pragma on every connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	r := &Registry{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return r, nil
}

func (r *Registry) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		worktree_id TEXT NOT NULL,
		worktree_path TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_worktree_path ON sessions(worktree_path);
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		type TEXT NOT NULL,
		timestamp DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id);
	`
	_, err := r.db.Exec(query)
	return err
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Create inserts a new session row. A duplicate worktree path fails with
// Conflict; the caller decides between UpdateStatus and a read-and-return.
func (r *Registry) Create(id, worktreeID, worktreePath string, status models.SessionStatus) (*SessionRow, error) {
	now := time.Now().UTC()
	_, err := r.db.Exec(
		`INSERT INTO sessions (id, worktree_id, worktree_path, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, worktreeID, worktreePath, string(status), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, models.Errorf(models.ErrConflict, "session already exists for %s", worktreePath)
		}
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}
	return &SessionRow{
		ID: id, WorktreeID: worktreeID, WorktreePath: worktreePath,
		Status: status, CreatedAt: now, UpdatedAt: now,
	}, nil
}

// GetByID fetches one session row, or nil when absent.
func (r *Registry) GetByID(id string) (*SessionRow, error) {
	return r.scanOne(`SELECT id, worktree_id, worktree_path, status, created_at, updated_at FROM sessions WHERE id = ?`, id)
}

// GetByWorktreePath is the restart-recovery pivot: one row per path.
func (r *Registry) GetByWorktreePath(path string) (*SessionRow, error) {
	return r.scanOne(`SELECT id, worktree_id, worktree_path, status, created_at, updated_at FROM sessions WHERE worktree_path = ?`, path)
}

// UpdateStatus flips the status column and bumps updated_at.
func (r *Registry) UpdateStatus(id string, status models.SessionStatus) error {
	res, err := r.db.Exec(`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Errorf(models.ErrNotFound, "session not found: %s", id)
	}
	return nil
}

// Delete removes the session row; messages cascade.
func (r *Registry) Delete(id string) error {
	_, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// ListAll returns every session row ordered by creation time.
func (r *Registry) ListAll() ([]SessionRow, error) {
	rows, err := r.db.Query(`SELECT id, worktree_id, worktree_path, status, created_at, updated_at FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SessionRow
	for rows.Next() {
		var s SessionRow
		var status string
		if err := rows.Scan(&s.ID, &s.WorktreeID, &s.WorktreePath, &status, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Status = models.SessionStatus(status)
		result = append(result, s)
	}
	return result, rows.Err()
}

// AddMessage appends a transcript entry for a session.
func (r *Registry) AddMessage(sessionID string, role models.MessageRole, msgType models.MessageType, content string) (*models.Message, error) {
	msg := &models.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		Type:      msgType,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	_, err := r.db.Exec(
		`INSERT INTO messages (id, session_id, role, content, type, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, string(msg.Type), msg.Timestamp,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, models.Errorf(models.ErrNotFound, "session not found: %s", sessionID)
		}
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	return msg, nil
}

// MessagesOf returns a session's transcript ordered by timestamp.
func (r *Registry) MessagesOf(sessionID string) ([]models.Message, error) {
	rows, err := r.db.Query(
		`SELECT id, session_id, role, content, type, timestamp FROM messages WHERE session_id = ? ORDER BY timestamp`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.Message
	for rows.Next() {
		var m models.Message
		var role, msgType string
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &msgType, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Role = models.MessageRole(role)
		m.Type = models.MessageType(msgType)
		result = append(result, m)
	}
	return result, rows.Err()
}

// ClearMessages drops a session's transcript.
func (r *Registry) ClearMessages(sessionID string) error {
	_, err := r.db.Exec(`DELETE FROM messages WHERE session_id = ?`, sessionID)
	return err
}

func (r *Registry) scanOne(query string, arg any) (*SessionRow, error) {
	var s SessionRow
	var status string
	err := r.db.QueryRow(query, arg).Scan(&s.ID, &s.WorktreeID, &s.WorktreePath, &status, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Status = models.SessionStatus(status)
	return &s, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
