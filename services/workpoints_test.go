package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vocabnest/vocabnest/models"
)

var syncNow = time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

func TestSyncWorkPointsValidation(t *testing.T) {
	db := newTestDB(t)
	u := createUser(t, db, "ana")
	svc := newTestWorkPoints(t, db, syncNow)

	tests := []struct {
		name   string
		date   string
		device string
		points int64
		field  string
	}{
		{"bad date format", "15/05/2024", "dev1", 1, "date"},
		{"impossible date", "2024-02-30", "dev1", 1, "date"},
		{"too far in future", "2024-05-23", "dev1", 1, "date"},
		{"too far in past", "2023-05-15", "dev1", 1, "date"},
		{"negative points", "2024-05-14", "dev1", -1, "workPoints"},
		{"points above ceiling", "2024-05-14", "dev1", 10001, "workPoints"},
		{"empty fingerprint", "2024-05-14", "", 1, "deviceFingerprint"},
		{"fingerprint with symbols", "2024-05-14", "dev 1!", 1, "deviceFingerprint"},
		{"fingerprint too long", "2024-05-14", strings.Repeat("a", 256), 1, "deviceFingerprint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.SyncWorkPoints(context.Background(), u.ID, tt.date, tt.device, tt.points)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
			if res.Success {
				t.Error("result reports success")
			}
		})
	}
}

func TestSyncWorkPointsDateWindowEdges(t *testing.T) {
	db := newTestDB(t)
	u := createUser(t, db, "ana")
	svc := newTestWorkPoints(t, db, syncNow)

	for _, date := range []string{"2024-05-22", "2023-05-16", "2024-05-15"} {
		if _, err := svc.SyncWorkPoints(context.Background(), u.ID, date, "dev1", 0); err != nil {
			t.Errorf("date %s rejected: %v", date, err)
		}
	}
}

func TestSyncWorkPointsUnknownUser(t *testing.T) {
	db := newTestDB(t)
	svc := newTestWorkPoints(t, db, syncNow)

	res, err := svc.SyncWorkPoints(context.Background(), 999, "2024-05-14", "dev1", 3)
	if !IsNotFound(err) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	if res.Success {
		t.Error("result reports success")
	}
}

func TestSyncWorkPointsReplacesAndCreditsDelta(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	u := createUser(t, db, "ana")
	svc := newTestWorkPoints(t, db, syncNow)

	steps := []struct {
		device   string
		points   int64
		dayTotal int64
		credited int64
		lifetime int64
	}{
		{"dev1", 10, 10, 10, 10},
		{"dev1", 4, 4, 0, 10}, // lower resync replaces, total is never reduced
		{"dev1", 12, 12, 2, 12}, // only growth above the credited 10 counts
		{"dev2", 5, 17, 5, 17},
	}
	for i, st := range steps {
		res, err := svc.SyncWorkPoints(ctx, u.ID, "2024-05-14", st.device, st.points)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if !res.Success || res.Data == nil {
			t.Fatalf("step %d: result = %+v", i, res)
		}
		if res.Data.DayTotal != st.dayTotal || res.Data.Credited != st.credited || res.Data.TotalWorkPoints != st.lifetime {
			t.Errorf("step %d: data = %+v", i, *res.Data)
		}
	}

	var rows []models.WorkPointsRecord
	db.Where("user_id = ?", u.ID).Order("device_fingerprint").Find(&rows)
	if len(rows) != 2 || rows[0].WorkPoints != 12 || rows[1].WorkPoints != 5 {
		t.Errorf("rows = %+v", rows)
	}

	var stored models.User
	db.First(&stored, u.ID)
	if stored.TotalWorkPoints != 17 || stored.LastSyncAt == nil {
		t.Errorf("user = %+v", stored)
	}
}

func TestSyncWorkPointsOscillatingResendsCreditOnce(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	u := createUser(t, db, "ana")
	svc := newTestWorkPoints(t, db, syncNow)

	for round := 0; round < 5; round++ {
		for _, points := range []int64{0, 10000} {
			res, err := svc.SyncWorkPoints(ctx, u.ID, "2024-05-14", "dev1", points)
			if err != nil {
				t.Fatalf("round %d points %d: %v", round, points, err)
			}
			if res.Data.TotalWorkPoints != 10000 {
				t.Fatalf("round %d points %d: lifetime = %d, want 10000", round, points, res.Data.TotalWorkPoints)
			}
		}
	}

	var credit models.WorkPointsCredit
	if err := db.Where("user_id = ? AND activity_date = ?", u.ID, "2024-05-14").First(&credit).Error; err != nil {
		t.Fatalf("credited mark: %v", err)
	}
	if credit.CreditedPoints != 10000 {
		t.Errorf("credited mark = %d, want 10000", credit.CreditedPoints)
	}
}

func TestSyncWorkPointsLegacyDayWithoutMark(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	u := createUser(t, db, "ana")
	svc := newTestWorkPoints(t, db, syncNow)

	// a day synced before credit marks existed: its stored sum was already paid out
	db.Create(&models.WorkPointsRecord{UserID: u.ID, Date: "2024-05-13", DeviceFingerprint: "dev1", WorkPoints: 7})
	db.Model(&models.User{}).Where("id = ?", u.ID).Update("total_work_points", 7)

	res, err := svc.SyncWorkPoints(ctx, u.ID, "2024-05-13", "dev1", 9)
	if err != nil {
		t.Fatal(err)
	}
	if res.Data.Credited != 2 || res.Data.TotalWorkPoints != 9 {
		t.Errorf("data = %+v", *res.Data)
	}
}

func TestGetCalendarDataBeforeFirstActivity(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	u := createUser(t, db, "ana")
	svc := newTestWorkPoints(t, db, syncNow)

	if _, err := svc.SyncWorkPoints(ctx, u.ID, "2024-05-10", "dev1", 1); err != nil {
		t.Fatal(err)
	}

	data, err := svc.GetCalendarData(ctx, u.ID, "2024-04", time.UTC)
	if err != nil {
		t.Fatalf("GetCalendarData: %v", err)
	}
	if len(data.Days) != 30 {
		t.Fatalf("days = %d, want 30", len(data.Days))
	}
	for _, d := range data.Days {
		if d.HasData || d.PenaltyAmount != 0 {
			t.Errorf("day %s = %+v", d.Date, d)
		}
	}
	if data.UserFirstActivityDate == nil || *data.UserFirstActivityDate != "2024-05-10" {
		t.Errorf("first activity = %v", data.UserFirstActivityDate)
	}
}

func TestGetCalendarDataClassifiesDays(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	u := createUser(t, db, "ana")
	svc := newTestWorkPoints(t, db, syncNow)

	mustSync := func(date, device string, pts int64) {
		t.Helper()
		if _, err := svc.SyncWorkPoints(ctx, u.ID, date, device, pts); err != nil {
			t.Fatal(err)
		}
	}
	mustSync("2024-05-10", "dev1", 4)
	mustSync("2024-05-10", "dev2", 2)
	mustSync("2024-05-12", "dev1", 2)

	data, err := svc.GetCalendarData(ctx, u.ID, "2024-05", time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	byDate := map[string]int{}
	for i, d := range data.Days {
		byDate[d.Date] = i
	}
	day := func(date string) (d struct {
		pts, penalty int64
		has, kept, today, future bool
	}) {
		c := data.Days[byDate[date]]
		d.pts, d.penalty, d.has, d.kept, d.today, d.future = c.WorkPointsEarned, c.PenaltyAmount, c.HasData, c.StreakMaintained, c.IsToday, c.IsFuture
		return d
	}

	if d := day("2024-05-09"); d.penalty != 0 || d.has {
		t.Errorf("05-09 (before first activity) = %+v", d)
	}
	if d := day("2024-05-10"); d.pts != 6 || !d.kept || d.penalty != 0 {
		t.Errorf("05-10 = %+v", d)
	}
	if d := day("2024-05-11"); d.has || d.penalty != 10 {
		t.Errorf("05-11 (missed) = %+v", d)
	}
	if d := day("2024-05-12"); d.pts != 2 || d.kept || d.penalty != 10 {
		t.Errorf("05-12 (below retention) = %+v", d)
	}
	if d := day("2024-05-15"); !d.today || d.penalty != 0 {
		t.Errorf("05-15 (today) = %+v", d)
	}
	if d := day("2024-05-16"); !d.future || d.penalty != 0 {
		t.Errorf("05-16 (future) = %+v", d)
	}
}

func TestGetCalendarDataUsesClientTimezone(t *testing.T) {
	db := newTestDB(t)
	u := createUser(t, db, "ana")
	svc := newTestWorkPoints(t, db, time.Date(2024, 5, 15, 23, 30, 0, 0, time.UTC))

	loc, err := ResolveLocation("", "540")
	if err != nil {
		t.Fatal(err)
	}
	data, err := svc.GetCalendarData(context.Background(), u.ID, "2024-05", loc)
	if err != nil {
		t.Fatal(err)
	}
	if !data.Days[15].IsToday || data.Days[14].IsToday {
		t.Errorf("today should be 05-16 in UTC+9: %+v / %+v", data.Days[14], data.Days[15])
	}
	if data.Timezone != "UTC+09:00" {
		t.Errorf("timezone = %q", data.Timezone)
	}
}

func TestGetCalendarDataCacheInvalidatedBySync(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	u := createUser(t, db, "ana")
	svc := newTestWorkPoints(t, db, syncNow)

	if _, err := svc.GetCalendarData(ctx, u.ID, "2024-05", time.UTC); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SyncWorkPoints(ctx, u.ID, "2024-05-14", "dev1", 7); err != nil {
		t.Fatal(err)
	}
	data, err := svc.GetCalendarData(ctx, u.ID, "2024-05", time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if got := data.Days[13]; got.Date != "2024-05-14" || got.WorkPointsEarned != 7 {
		t.Errorf("stale calendar: %+v", got)
	}
}

func TestGetCalendarDataErrors(t *testing.T) {
	db := newTestDB(t)
	u := createUser(t, db, "ana")
	svc := newTestWorkPoints(t, db, syncNow)

	if _, err := svc.GetCalendarData(context.Background(), u.ID, "2024-13", time.UTC); !IsValidation(err) {
		t.Errorf("bad month: err = %v", err)
	}
	if _, err := svc.GetCalendarData(context.Background(), 999, "2024-05", time.UTC); !IsNotFound(err) {
		t.Errorf("missing user: err = %v", err)
	}
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	u := createUser(t, db, "ana")
	svc := newTestWorkPoints(t, db, syncNow)

	for _, d := range []string{"2024-04-30", "2024-05-02", "2024-05-15"} {
		if _, err := svc.SyncWorkPoints(ctx, u.ID, d, "dev1", 3); err != nil {
			t.Fatal(err)
		}
	}
	st, err := svc.Status(ctx, u.ID, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalWorkPoints != 9 || st.TodayPoints != 3 || st.Month != "2024-05" || len(st.Days) != 2 {
		t.Errorf("status = %+v", st)
	}
	if st.FirstActivityDate == nil || *st.FirstActivityDate != "2024-04-30" {
		t.Errorf("first activity = %v", st.FirstActivityDate)
	}
}

func TestResolveLocation(t *testing.T) {
	tests := []struct {
		tz, offset string
		name       string
		wantErr    bool
	}{
		{"", "", "UTC", false},
		{"UTC", "", "UTC", false},
		{"", "330", "UTC+05:30", false},
		{"", "-30", "UTC-00:30", false},
		{"", "abc", "", true},
		{"", "900", "", true},
		{"Not/AZone", "", "", true},
	}
	for _, tt := range tests {
		loc, err := ResolveLocation(tt.tz, tt.offset)
		if tt.wantErr {
			if !IsValidation(err) {
				t.Errorf("ResolveLocation(%q,%q) err = %v", tt.tz, tt.offset, err)
			}
			continue
		}
		if err != nil || loc.String() != tt.name {
			t.Errorf("ResolveLocation(%q,%q) = %v, %v", tt.tz, tt.offset, loc, err)
		}
	}
}
