package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type AccountModel struct {
	ID              string         `gorm:"primaryKey"`
	Username        string         `gorm:"uniqueIndex;not null"`
	Email           string         `gorm:"uniqueIndex;not null"`
	PasswordHash    string         `gorm:"not null"`
	UseCase         string         `gorm:"not null"`
	Experience      string         `gorm:"not null"`
	Preferences     datatypes.JSON `gorm:"type:jsonb"`
	Active          bool           `gorm:"not null;default:true"`
	EmailVerified   bool           `gorm:"not null;default:false"`
	LoginAttempts   int            `gorm:"not null;default:0"`
	LockUntil       *time.Time
	ResetOTPHash    string
	ResetOTPExpires *time.Time
	LastLoginAt     *time.Time
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

// ConversationModel stores messages as one JSONB array so an append and the
// updated_at refresh land in a single row write.
type ConversationModel struct {
	ID           string         `gorm:"primaryKey"`
	AccountID    string         `gorm:"not null;index:idx_conversation_account_recent,priority:1"`
	Title        string         `gorm:"not null;size:100"`
	Messages     datatypes.JSON `gorm:"type:jsonb;not null"`
	MessageCount int            `gorm:"not null;default:0"`
	CreatedAt    time.Time      `gorm:"not null"`
	UpdatedAt    time.Time      `gorm:"not null;index:idx_conversation_account_recent,priority:2,sort:desc"`
}

type messageRecord struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
