package models

import "time"

// WorkPointsRecord stores the points one device reported for one user and day.
// At most one row exists per (user, date, device); a repeated sync overwrites WorkPoints.
type WorkPointsRecord struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	UserID            uint      `gorm:"not null;uniqueIndex:idx_wp_user_date_device,priority:1;index:idx_wp_user_date,priority:1" json:"user_id"`
	Date              string    `gorm:"column:activity_date;size:10;not null;uniqueIndex:idx_wp_user_date_device,priority:2;index:idx_wp_user_date,priority:2" json:"date"`
	DeviceFingerprint string    `gorm:"size:255;not null;uniqueIndex:idx_wp_user_date_device,priority:3" json:"device_fingerprint"`
	WorkPoints        int64     `gorm:"not null;default:0" json:"work_points"`
	LastSyncTimestamp time.Time `json:"last_sync_timestamp"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (WorkPointsRecord) TableName() string {
	return "work_points_records"
}

// WorkPointsCredit records, per user and day, the highest cross-device sum already
// added to the user's lifetime total. Syncs only credit growth above this mark.
type WorkPointsCredit struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"not null;uniqueIndex:idx_wpc_user_date,priority:1" json:"user_id"`
	Date           string    `gorm:"column:activity_date;size:10;not null;uniqueIndex:idx_wpc_user_date,priority:2" json:"date"`
	CreditedPoints int64     `gorm:"not null;default:0" json:"credited_points"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (WorkPointsCredit) TableName() string {
	return "work_points_credits"
}
