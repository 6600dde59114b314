package services

import (
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/vocabnest/vocabnest/config"
	"github.com/vocabnest/vocabnest/models"
	"github.com/vocabnest/vocabnest/utils"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := config.OpenDatabase(config.AppConfig{
		DBDriver:    "sqlite",
		DatabaseURI: filepath.Join(t.TempDir(), "test.db"),
		LogLevel:    "silent",
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := config.Migrate(db, &models.User{}, &models.WorkPointsRecord{}, &models.WorkPointsCredit{}, &models.VocabEntry{}, &models.StudyText{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func createUser(t *testing.T, db *gorm.DB, name string) models.User {
	t.Helper()
	u := models.User{Username: name}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func newTestWorkPoints(t *testing.T, db *gorm.DB, now time.Time) *WorkPointsService {
	t.Helper()
	svc := NewWorkPointsService(db, utils.NewMemoryCache(), config.AppConfig{})
	svc.now = func() time.Time { return now }
	return svc
}
