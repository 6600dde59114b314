package models

import "time"

// VocabEntry is one flashcard-style vocabulary item. EntryKey is unique per user.
type VocabEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_vocab_user_key,priority:1" json:"user_id"`
	EntryKey  string    `gorm:"size:255;not null;uniqueIndex:idx_vocab_user_key,priority:2" json:"entry_key"`
	Front     string    `gorm:"size:2048;not null" json:"front"`
	Back      string    `gorm:"size:2048;not null" json:"back"`
	Notes     string    `gorm:"type:text" json:"notes"`
	Tags      string    `gorm:"size:512" json:"tags"` // comma separated
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
