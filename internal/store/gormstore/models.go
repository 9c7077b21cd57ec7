package gormstore

import (
	"time"

	"github.com/vovakirdan/jobchat-server/internal/store"
)

type userRow struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	Email     string `gorm:"not null"`
	Role      string `gorm:"not null;default:poster"`
	CreatedAt time.Time
}

func (userRow) TableName() string { return "users" }

type jobRow struct {
	ID        string `gorm:"primaryKey"`
	PosterID  string `gorm:"not null;index"`
	Title     string
	CreatedAt time.Time
}

func (jobRow) TableName() string { return "jobs" }

type messageRow struct {
	ID         string `gorm:"primaryKey"`
	Content    string `gorm:"not null;check:chk_messages_content,length(content) > 0"`
	SenderID   string `gorm:"not null;index;check:chk_messages_parties,sender_id <> receiver_id"`
	ReceiverID string `gorm:"not null;index:idx_messages_unread,priority:2"`
	JobID      string `gorm:"not null;index:idx_messages_unread,priority:1"`
	IsRead     bool   `gorm:"not null;default:false"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (messageRow) TableName() string { return "messages" }

func (r *userRow) toStore() *store.User {
	return &store.User{
		ID:        r.ID,
		Name:      r.Name,
		Email:     r.Email,
		Role:      store.Role(r.Role),
		CreatedAt: r.CreatedAt,
	}
}

func (r *jobRow) toStore() *store.Job {
	return &store.Job{
		ID:        r.ID,
		PosterID:  r.PosterID,
		Title:     r.Title,
		CreatedAt: r.CreatedAt,
	}
}

func (r *messageRow) toStore() *store.Message {
	return &store.Message{
		ID:         r.ID,
		Content:    r.Content,
		SenderID:   r.SenderID,
		ReceiverID: r.ReceiverID,
		JobID:      r.JobID,
		IsRead:     r.IsRead,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}
