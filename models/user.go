package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents a learner account. Passwords are stored as bcrypt hashes only.
type User struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Username        string         `gorm:"size:64;not null;uniqueIndex" json:"username"`
	Email           string         `gorm:"size:255" json:"email"`
	PasswordHash    string         `gorm:"size:255" json:"-"`
	Provider        string         `gorm:"size:32" json:"provider"`
	ProviderID      string         `gorm:"size:255;index" json:"provider_id"`
	DisplayName     string         `gorm:"size:64" json:"display_name"`
	NativeLanguage  string         `gorm:"size:16" json:"native_language"`
	TargetLanguage  string         `gorm:"size:16" json:"target_language"`
	TotalWorkPoints int64          `gorm:"not null;default:0" json:"total_work_points"`
	LastSyncAt      *time.Time     `json:"last_sync_at"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate hook ensures timestamps are set even when not provided.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	return nil
}

// BeforeUpdate ensures the UpdatedAt timestamp is refreshed.
func (u *User) BeforeUpdate(tx *gorm.DB) error {
	u.UpdatedAt = time.Now()
	return nil
}
