package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vocabnest/vocabnest/config"
	"github.com/vocabnest/vocabnest/metrics"
	"github.com/vocabnest/vocabnest/models"
	"github.com/vocabnest/vocabnest/utils"
	"github.com/vocabnest/vocabnest/workpoints"
)

const (
	maxFutureSyncDays = 7
	maxPastSyncDays   = 365
	monthLayout       = "2006-01"
)

var fingerprintPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)

// SyncData describes the stored state after a successful sync.
type SyncData struct {
	Date              string `json:"date"`
	DeviceFingerprint string `json:"deviceFingerprint"`
	WorkPoints        int64  `json:"workPoints"`
	DayTotal          int64  `json:"dayTotal"`
	Credited          int64  `json:"credited"`
	TotalWorkPoints   int64  `json:"totalWorkPoints"`
}

// SyncResult is the uniform envelope returned for every sync attempt.
type SyncResult struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Data    *SyncData `json:"data,omitempty"`
}

// DayTotal is the cross-device sum for one date.
type DayTotal struct {
	Date       string `json:"date"`
	WorkPoints int64  `json:"workPoints"`
}

// WorkPointsStatus summarises a user's server-side work points.
type WorkPointsStatus struct {
	TotalWorkPoints   int64      `json:"totalWorkPoints"`
	LastSyncAt        *time.Time `json:"lastSyncAt"`
	FirstActivityDate *string    `json:"firstActivityDate"`
	Today             string     `json:"today"`
	TodayPoints       int64      `json:"todayPoints"`
	Month             string     `json:"month"`
	Days              []DayTotal `json:"days"`
}

// WorkPointsService is the server side of work-points: the sync endpoint and the calendar.
type WorkPointsService struct {
	db          *gorm.DB
	cache       utils.Cache
	settings    workpoints.Settings
	maxDaily    int64
	calendarTTL time.Duration
	now         func() time.Time
}

// NewWorkPointsService wires the service from configuration.
func NewWorkPointsService(db *gorm.DB, cache utils.Cache, cfg config.AppConfig) *WorkPointsService {
	maxDaily := cfg.MaxDailyWorkPoints
	if maxDaily <= 0 {
		maxDaily = workpoints.MaxDailyWorkPoints
	}
	return &WorkPointsService{
		db:    db,
		cache: cache,
		settings: workpoints.Settings{
			MillisPerPoint:     cfg.MillisPerPoint,
			RetentionPoints:    cfg.RetentionPoints,
			DailyPenaltyPoints: cfg.DailyPenaltyPoints,
		}.Effective(),
		maxDaily:    maxDaily,
		calendarTTL: time.Duration(cfg.CalendarCacheSec) * time.Second,
		now:         time.Now,
	}
}

// SyncWorkPoints stores one device's tally for a day. A repeated sync of the same
// (user, date, device) replaces the earlier value. Only growth of the day's cross-device
// sum above the highest sum already credited for that day is added to the user's
// lifetime total, so lowering and raising a tally again pays nothing twice.
//
// Validation and missing users come back as typed errors. Any other failure still
// yields a failure SyncResult alongside the error.
func (s *WorkPointsService) SyncWorkPoints(ctx context.Context, userID uint, date, device string, points int64) (SyncResult, error) {
	if err := s.validateSync(date, device, points); err != nil {
		metrics.RecordSync("invalid", 0)
		return SyncResult{Success: false, Message: err.Error()}, err
	}

	start := time.Now()
	now := s.now()
	data := SyncData{Date: date, DeviceFingerprint: device, WorkPoints: points}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Select("id").First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Resource: "user", ID: userID}
			}
			return err
		}

		before, err := daySum(tx, userID, date)
		if err != nil {
			return err
		}
		mark, err := creditedMark(tx, userID, date, before)
		if err != nil {
			return err
		}

		rec := models.WorkPointsRecord{
			UserID:            userID,
			Date:              date,
			DeviceFingerprint: device,
			WorkPoints:        points,
			LastSyncTimestamp: now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "activity_date"}, {Name: "device_fingerprint"}},
			DoUpdates: clause.AssignmentColumns([]string{"work_points", "last_sync_timestamp", "updated_at"}),
		}).Create(&rec).Error; err != nil {
			return fmt.Errorf("upsert work points: %w", err)
		}

		after, err := daySum(tx, userID, date)
		if err != nil {
			return err
		}
		data.DayTotal = after

		updates := map[string]interface{}{"last_sync_at": now}
		if delta := after - mark; delta > 0 {
			data.Credited = delta
			updates["total_work_points"] = gorm.Expr("total_work_points + ?", delta)
			credit := models.WorkPointsCredit{UserID: userID, Date: date, CreditedPoints: after, UpdatedAt: now}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "activity_date"}},
				DoUpdates: clause.AssignmentColumns([]string{"credited_points", "updated_at"}),
			}).Create(&credit).Error; err != nil {
				return fmt.Errorf("update credited mark: %w", err)
			}
		}
		if err := tx.Model(&models.User{}).Where("id = ?", userID).Updates(updates).Error; err != nil {
			return fmt.Errorf("update lifetime total: %w", err)
		}
		return tx.Model(&models.User{}).Select("total_work_points").Where("id = ?", userID).Scan(&data.TotalWorkPoints).Error
	})
	metrics.ObserveDBLatency(ctx, "work_points_sync", start)

	if err != nil {
		if IsNotFound(err) {
			metrics.RecordSync("invalid", 0)
			return SyncResult{Success: false, Message: err.Error()}, err
		}
		metrics.RecordSync("error", 0)
		utils.Logger.Error("work points sync failed",
			zap.Uint("user_id", userID), zap.String("date", date), zap.Error(err))
		return SyncResult{Success: false, Message: "failed to sync work points"}, err
	}

	s.cache.InvalidateByPrefix(ctx, calendarCachePrefix(userID))
	metrics.RecordSync("ok", data.Credited)
	return SyncResult{Success: true, Message: "work points synced", Data: &data}, nil
}

func (s *WorkPointsService) validateSync(date, device string, points int64) error {
	day, err := time.Parse(workpoints.DateLayout, date)
	if err != nil {
		return invalid("date", "must be YYYY-MM-DD")
	}
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	diff := int(day.Sub(today).Hours() / 24)
	if diff > maxFutureSyncDays {
		return invalid("date", "more than %d days in the future", maxFutureSyncDays)
	}
	if diff < -maxPastSyncDays {
		return invalid("date", "more than %d days in the past", maxPastSyncDays)
	}
	if points < 0 || points > s.maxDaily {
		return invalid("workPoints", "must be between 0 and %d", s.maxDaily)
	}
	if !fingerprintPattern.MatchString(device) {
		return invalid("deviceFingerprint", "must be 1-255 characters of letters, digits, '-' or '_'")
	}
	return nil
}

// GetCalendarData returns one month of per-day totals, classified in the client's location.
func (s *WorkPointsService) GetCalendarData(ctx context.Context, userID uint, month string, loc *time.Location) (*workpoints.CalendarData, error) {
	first, err := time.ParseInLocation(monthLayout, month, time.UTC)
	if err != nil {
		return nil, invalid("month", "must be YYYY-MM")
	}
	if loc == nil {
		loc = time.UTC
	}
	if err := s.ensureUser(ctx, userID); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s%s:%s", calendarCachePrefix(userID), month, loc.String())
	var cached workpoints.CalendarData
	if utils.CacheGetJSON(ctx, s.cache, key, &cached) {
		return &cached, nil
	}

	start := time.Now()
	last := first.AddDate(0, 1, -1)
	totals, err := s.dayTotals(ctx, userID, workpoints.DateKey(first), workpoints.DateKey(last))
	if err != nil {
		return nil, err
	}
	firstActivity, err := s.firstActivityDate(ctx, userID)
	if err != nil {
		return nil, err
	}
	metrics.ObserveDBLatency(ctx, "work_points_calendar", start)

	today := workpoints.DateKey(s.now().In(loc))
	retention, penalty := s.settings.RetentionPoints, s.settings.DailyPenaltyPoints

	data := &workpoints.CalendarData{
		Month:                 month,
		Timezone:              loc.String(),
		Days:                  make([]workpoints.CalendarDay, 0, last.Day()),
		UserFirstActivityDate: firstActivity,
	}
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		date := workpoints.DateKey(d)
		pts, has := totals[date]
		day := workpoints.CalendarDay{
			Date:             date,
			WorkPointsEarned: pts,
			HasData:          has,
			IsToday:          date == today,
			IsFuture:         date > today,
			StreakMaintained: pts >= retention,
		}
		// no penalty before the user started, nor for a day still in progress
		started := firstActivity != nil && date >= *firstActivity
		if started && date < today && pts < retention {
			day.PenaltyAmount = penalty
		}
		data.Days = append(data.Days, day)
	}

	utils.CacheSetJSON(ctx, s.cache, key, data, s.calendarTTL)
	return data, nil
}

// Status reports the lifetime total and the current month's per-day totals.
func (s *WorkPointsService) Status(ctx context.Context, userID uint, loc *time.Location) (*WorkPointsStatus, error) {
	if loc == nil {
		loc = time.UTC
	}
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "user", ID: userID}
		}
		return nil, err
	}

	now := s.now().In(loc)
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	totals, err := s.dayTotals(ctx, userID, workpoints.DateKey(first), workpoints.DateKey(last))
	if err != nil {
		return nil, err
	}
	firstActivity, err := s.firstActivityDate(ctx, userID)
	if err != nil {
		return nil, err
	}

	st := &WorkPointsStatus{
		TotalWorkPoints:   user.TotalWorkPoints,
		LastSyncAt:        user.LastSyncAt,
		FirstActivityDate: firstActivity,
		Today:             workpoints.DateKey(now),
		Month:             first.Format(monthLayout),
		Days:              []DayTotal{},
	}
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		if pts, ok := totals[workpoints.DateKey(d)]; ok {
			st.Days = append(st.Days, DayTotal{Date: workpoints.DateKey(d), WorkPoints: pts})
		}
	}
	st.TodayPoints = totals[st.Today]
	return st, nil
}

func (s *WorkPointsService) ensureUser(ctx context.Context, userID uint) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return &NotFoundError{Resource: "user", ID: userID}
	}
	return nil
}

func (s *WorkPointsService) dayTotals(ctx context.Context, userID uint, from, to string) (map[string]int64, error) {
	var rows []DayTotal
	err := s.db.WithContext(ctx).Model(&models.WorkPointsRecord{}).
		Select("activity_date AS date, SUM(work_points) AS work_points").
		Where("user_id = ? AND activity_date BETWEEN ? AND ?", userID, from, to).
		Group("activity_date").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load day totals: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Date] = r.WorkPoints
	}
	return out, nil
}

func (s *WorkPointsService) firstActivityDate(ctx context.Context, userID uint) (*string, error) {
	var dates []string
	err := s.db.WithContext(ctx).Model(&models.WorkPointsRecord{}).
		Where("user_id = ?", userID).
		Order("activity_date ASC").
		Limit(1).
		Pluck("activity_date", &dates).Error
	if err != nil {
		return nil, fmt.Errorf("load first activity: %w", err)
	}
	if len(dates) == 0 {
		return nil, nil
	}
	return &dates[0], nil
}

func daySum(tx *gorm.DB, userID uint, date string) (int64, error) {
	var sum int64
	err := tx.Model(&models.WorkPointsRecord{}).
		Select("COALESCE(SUM(work_points), 0)").
		Where("user_id = ? AND activity_date = ?", userID, date).
		Scan(&sum).Error
	if err != nil {
		return 0, fmt.Errorf("sum day points: %w", err)
	}
	return sum, nil
}

// creditedMark returns the highest day sum already credited. Days synced before marks
// were kept fall back to the sum stored so far, which was credited in full.
func creditedMark(tx *gorm.DB, userID uint, date string, fallback int64) (int64, error) {
	var credit models.WorkPointsCredit
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND activity_date = ?", userID, date).
		First(&credit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fallback, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load credited mark: %w", err)
	}
	if credit.CreditedPoints < fallback {
		return fallback, nil
	}
	return credit.CreditedPoints, nil
}

func calendarCachePrefix(userID uint) string {
	return "calendar:" + strconv.FormatUint(uint64(userID), 10) + ":"
}

// ResolveLocation picks the client location from an IANA name or a fixed offset
// in minutes east of UTC. Both empty means UTC.
func ResolveLocation(tz, offset string) (*time.Location, error) {
	if tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, invalid("tz", "unknown timezone %q", tz)
		}
		return loc, nil
	}
	if offset != "" {
		mins, err := strconv.Atoi(offset)
		if err != nil || mins < -14*60 || mins > 14*60 {
			return nil, invalid("offset", "must be minutes east of UTC between -840 and 840")
		}
		sign, m := '+', mins
		if m < 0 {
			sign, m = '-', -m
		}
		return time.FixedZone(fmt.Sprintf("UTC%c%02d:%02d", sign, m/60, m%60), mins*60), nil
	}
	return time.UTC, nil
}
