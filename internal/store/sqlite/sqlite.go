package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/jobchat-server/internal/store"
	"github.com/vovakirdan/jobchat-server/internal/utils"
)

//go:embed schema.sql
var schema string

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the embedded schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, ApplySchema)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema without migrations.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with single connection; also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// ApplySchema creates the tables used by the store if they are missing.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	query := `
		SELECT id, name, email, role, created_at
		FROM users
		WHERE id = ?
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Role,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// UpsertUser creates or replaces a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *store.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO users (id, name, email, role, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email, role = excluded.role
	`
	if _, err := s.db.ExecContext(ctx, query, user.ID, user.Name, user.Email, user.Role, user.CreatedAt); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// ==== JobStore implementation ====

// GetJobByID retrieves a job by ID.
func (s *SQLiteStore) GetJobByID(ctx context.Context, id string) (*store.Job, error) {
	query := `
		SELECT id, poster_id, title, created_at
		FROM jobs
		WHERE id = ?
	`
	var job store.Job
	err := s.db.QueryRowContext(ctx, query, id).Scan(&job.ID, &job.PosterID, &job.Title, &job.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query job: %w", err)
	}

	return &job, nil
}

// CreateJob persists a job.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *store.Job) error {
	if job.ID == "" {
		job.ID = utils.NewID()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO jobs (id, poster_id, title, created_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, job.ID, job.PosterID, job.Title, job.CreatedAt); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// ==== MessageStore implementation ====

// CreateMessage inserts a message, assigning ID and timestamps.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *store.Message) error {
	now := time.Now().UTC()
	msg.ID = utils.NewID()
	msg.IsRead = false
	msg.CreatedAt = now
	msg.UpdatedAt = now

	query := `
		INSERT INTO messages (id, content, sender_id, receiver_id, job_id, is_read, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.Content,
		msg.SenderID,
		msg.ReceiverID,
		msg.JobID,
		msg.CreatedAt,
		msg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	return nil
}

// GetMessage retrieves a single message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	query := `
		SELECT id, content, sender_id, receiver_id, job_id, is_read, created_at, updated_at
		FROM messages
		WHERE id = ?
	`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	return msg, nil
}

// ListMessages returns the job's messages visible to userID, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, jobID, userID string) ([]*store.Message, error) {
	query := `
		SELECT id, content, sender_id, receiver_id, job_id, is_read, created_at, updated_at
		FROM messages
		WHERE job_id = ? AND (sender_id = ? OR receiver_id = ?)
		ORDER BY created_at ASC, rowid ASC
	`
	rows, err := s.db.QueryContext(ctx, query, jobID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*store.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// MarkRead flags every unread message in the job addressed to receiverID as
// read. RETURNING ties the sender set to exactly the rows this statement updated.
func (s *SQLiteStore) MarkRead(ctx context.Context, jobID, receiverID string) (store.ReadResult, error) {
	query := `
		UPDATE messages
		SET is_read = 1, updated_at = ?
		WHERE job_id = ? AND receiver_id = ? AND is_read = 0
		RETURNING sender_id
	`
	rows, err := s.db.QueryContext(ctx, query, time.Now().UTC(), jobID, receiverID)
	if err != nil {
		return store.ReadResult{}, fmt.Errorf("mark read: %w", err)
	}
	defer rows.Close()

	var senders []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return store.ReadResult{}, fmt.Errorf("scan sender: %w", err)
		}
		senders = append(senders, id)
	}
	if err := rows.Err(); err != nil {
		return store.ReadResult{}, fmt.Errorf("mark read: %w", err)
	}
	return store.NewReadResult(senders), nil
}

// MarkMessageRead flags a single message addressed to receiverID as read.
func (s *SQLiteStore) MarkMessageRead(ctx context.Context, id, receiverID string) (*store.Message, error) {
	query := `
		UPDATE messages
		SET is_read = 1, updated_at = ?
		WHERE id = ? AND receiver_id = ? AND is_read = 0
	`
	if _, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id, receiverID); err != nil {
		return nil, fmt.Errorf("mark message read: %w", err)
	}

	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.ReceiverID != receiverID {
		return nil, fmt.Errorf("message %s for receiver %s: %w", id, receiverID, store.ErrNotFound)
	}
	return msg, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*store.Message, error) {
	var msg store.Message
	if err := row.Scan(
		&msg.ID,
		&msg.Content,
		&msg.SenderID,
		&msg.ReceiverID,
		&msg.JobID,
		&msg.IsRead,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &msg, nil
}
