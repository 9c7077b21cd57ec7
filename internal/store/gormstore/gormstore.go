package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/vovakirdan/jobchat-server/internal/store"
	"github.com/vovakirdan/jobchat-server/internal/utils"
)

// GormStore implements store.Store on top of gorm.
type GormStore struct {
	db *gorm.DB
	// insertOrder is the column that breaks created_at ties in insertion order.
	insertOrder string
}

// insertOrderColumn picks a column that grows with every insert. SQLite has
// rowid; postgres gets a bigserial added by Migrate.
func insertOrderColumn(dialect string) string {
	if dialect == "postgres" {
		return "seq"
	}
	return "rowid"
}

// OpenPostgres connects to PostgreSQL and tunes the connection pool.
func OpenPostgres(dsn string, maxOpenConns int) (*GormStore, error) {
	s, err := New(postgres.Open(dsn))
	if err != nil {
		return nil, err
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if maxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(maxOpenConns)
		sqlDB.SetMaxIdleConns(maxOpenConns / 2)
	}
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return s, nil
}

// New opens a store with any gorm dialector.
func New(dialector gorm.Dialector) (*GormStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &GormStore{db: db, insertOrder: insertOrderColumn(db.Dialector.Name())}, nil
}

// Migrate creates or updates the tables used by the store.
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&userRow{}, &jobRow{}, &messageRow{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if s.insertOrder == "seq" {
		if err := s.db.WithContext(ctx).Exec("ALTER TABLE messages ADD COLUMN IF NOT EXISTS seq BIGSERIAL").Error; err != nil {
			return fmt.Errorf("add message sequence: %w", err)
		}
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, store.ErrNotFound)
	}
	return fmt.Errorf("query %s: %w", what, err)
}

// GetUserByID retrieves a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "user", id)
	}
	return row.toStore(), nil
}

// UpsertUser creates or replaces a user record.
func (s *GormStore) UpsertUser(ctx context.Context, user *store.User) error {
	row := userRow{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Role:      string(user.Role),
		CreatedAt: user.CreatedAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "role"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	user.CreatedAt = row.CreatedAt
	return nil
}

// GetJobByID retrieves a job by ID.
func (s *GormStore) GetJobByID(ctx context.Context, id string) (*store.Job, error) {
	var row jobRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "job", id)
	}
	return row.toStore(), nil
}

// CreateJob persists a job.
func (s *GormStore) CreateJob(ctx context.Context, job *store.Job) error {
	if job.ID == "" {
		job.ID = utils.NewID()
	}
	row := jobRow{ID: job.ID, PosterID: job.PosterID, Title: job.Title, CreatedAt: job.CreatedAt}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	job.CreatedAt = row.CreatedAt
	return nil
}

// CreateMessage inserts a message, assigning ID and timestamps.
func (s *GormStore) CreateMessage(ctx context.Context, msg *store.Message) error {
	now := time.Now().UTC()
	row := messageRow{
		ID:         utils.NewID(),
		Content:    msg.Content,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		JobID:      msg.JobID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	*msg = *row.toStore()
	return nil
}

// GetMessage retrieves a single message by ID.
func (s *GormStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	var row messageRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "message", id)
	}
	return row.toStore(), nil
}

// ListMessages returns the job's messages visible to userID, oldest first.
func (s *GormStore) ListMessages(ctx context.Context, jobID, userID string) ([]*store.Message, error) {
	var rows []messageRow
	err := s.db.WithContext(ctx).
		Where("job_id = ? AND (sender_id = ? OR receiver_id = ?)", jobID, userID, userID).
		Order("created_at ASC").
		Order(s.insertOrder + " ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	messages := make([]*store.Message, 0, len(rows))
	for i := range rows {
		messages = append(messages, rows[i].toStore())
	}
	return messages, nil
}

// MarkRead flags every unread message in the job addressed to receiverID as
// read. RETURNING ties the sender set to exactly the rows this statement updated.
func (s *GormStore) MarkRead(ctx context.Context, jobID, receiverID string) (store.ReadResult, error) {
	var updated []messageRow
	err := s.db.WithContext(ctx).
		Model(&updated).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "sender_id"}}}).
		Where("job_id = ? AND receiver_id = ? AND is_read = ?", jobID, receiverID, false).
		Updates(map[string]any{"is_read": true, "updated_at": time.Now().UTC()}).Error
	if err != nil {
		return store.ReadResult{}, fmt.Errorf("mark read: %w", err)
	}

	senders := make([]string, 0, len(updated))
	for _, row := range updated {
		senders = append(senders, row.SenderID)
	}
	return store.NewReadResult(senders), nil
}

// MarkMessageRead flags a single message addressed to receiverID as read.
func (s *GormStore) MarkMessageRead(ctx context.Context, id, receiverID string) (*store.Message, error) {
	err := s.db.WithContext(ctx).
		Model(&messageRow{}).
		Where("id = ? AND receiver_id = ? AND is_read = ?", id, receiverID, false).
		Updates(map[string]any{"is_read": true, "updated_at": time.Now().UTC()}).Error
	if err != nil {
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
