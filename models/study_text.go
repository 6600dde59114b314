package models

import "time"

// StudyText is a reading passage a learner keeps for practice.
type StudyText struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Language  string    `gorm:"size:16" json:"language"`
	SourceURL string    `gorm:"size:1024" json:"source_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
