package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/vocabnest/vocabnest/models"
	"github.com/vocabnest/vocabnest/utils"
)

// AccountService handles account lifecycle operations that span several tables.
type AccountService struct {
	db     *gorm.DB
	cache  utils.Cache
	lookup *LookupIndex
}

// NewAccountService wires the service.
func NewAccountService(db *gorm.DB, cache utils.Cache, lookup *LookupIndex) *AccountService {
	return &AccountService{db: db, cache: cache, lookup: lookup}
}

// DeleteAccount soft-deletes the user and removes their work points, vocabulary and
// texts. The username is released so it can be registered again.
func (s *AccountService) DeleteAccount(ctx context.Context, userID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Resource: "user", ID: userID}
			}
			return err
		}
		for _, model := range []interface{}{&models.WorkPointsRecord{}, &models.WorkPointsCredit{}, &models.VocabEntry{}, &models.StudyText{}} {
			if err := tx.Where("user_id = ?", userID).Delete(model).Error; err != nil {
				return fmt.Errorf("delete %T: %w", model, err)
			}
		}
		if err := tx.Model(&user).Updates(map[string]interface{}{
			"username":      releasedUsername(user),
			"provider_id":   "",
			"password_hash": "",
		}).Error; err != nil {
			return err
		}
		return tx.Delete(&user).Error
	})
	if err != nil {
		return err
	}
	s.cache.InvalidateByPrefix(ctx, calendarCachePrefix(userID))
	if s.lookup != nil {
		s.lookup.Invalidate(ctx, userID)
	}
	return nil
}

func releasedUsername(u models.User) string {
	name := "deleted_" + strconv.FormatUint(uint64(u.ID), 10) + "_" + u.Username
	for utf8.RuneCountInString(name) > 64 {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}
	return name
}
