package controllers

import (
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/vocabnest/vocabnest/models"
	"github.com/vocabnest/vocabnest/utils"
	"github.com/vocabnest/vocabnest/workpoints"
)

// StatsController provides site statistics such as counts and today's active learners.
type StatsController struct {
	db *gorm.DB
}

// NewStatsController creates a new StatsController instance.
func NewStatsController(db *gorm.DB) *StatsController {
	return &StatsController{db: db}
}

// GetStats returns aggregate statistics.
func (s *StatsController) GetStats(ctx *gin.Context) {
	var userCount int64
	var entryCount int64
	var textCount int64
	var activeToday int64
	db := s.db.WithContext(ctx.Request.Context())

	if err := db.Model(&models.User{}).Count(&userCount).Error; err != nil {
		// Fallback to 0 instead of failing the whole endpoint
		userCount = 0
	}

	if err := db.Model(&models.VocabEntry{}).Count(&entryCount).Error; err != nil {
		entryCount = 0
	}

	if err := db.Model(&models.StudyText{}).Count(&textCount).Error; err != nil {
		textCount = 0
	}

	// Learners who synced points for the current UTC day from any device
	today := workpoints.DateKey(time.Now().UTC())
	if err := db.Model(&models.WorkPointsRecord{}).
		Where("activity_date = ? AND work_points > 0", today).
		Distinct("user_id").
		Count(&activeToday).Error; err != nil {
		activeToday = 0
	}

	utils.Success(ctx, gin.H{
		"user_count":            userCount,
		"vocab_entry_count":     entryCount,
		"study_text_count":      textCount,
		"active_learners_today": activeToday,
	})
}
