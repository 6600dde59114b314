package workpoints

import "testing"

func TestPointsFor(t *testing.T) {
	tests := []struct {
		ms   int64
		want int64
	}{
		{0, 0},
		{-5000, 0},
		{29999, 0},
		{30000, 1},
		{60000, 2},
		{150000, 5},
		{179999, 5},
	}
	for _, tt := range tests {
		if got := PointsFor(tt.ms); got != tt.want {
			t.Errorf("PointsFor(%d) = %d, want %d", tt.ms, got, tt.want)
		}
	}
}

func TestPointsForMonotonic(t *testing.T) {
	prev := PointsFor(0)
	for ms := int64(0); ms <= 10*DefaultMillisPerPoint; ms += 997 {
		got := PointsFor(ms)
		if got < prev {
			t.Fatalf("PointsFor(%d) = %d decreased from %d", ms, got, prev)
		}
		prev = got
	}
}

func TestSettingsDefaults(t *testing.T) {
	s := Settings{}.withDefaults()
	if s != DefaultSettings() {
		t.Errorf("zero settings = %+v, want %+v", s, DefaultSettings())
	}

	custom := Settings{MillisPerPoint: 60000}
	if got := custom.Points(150000); got != 2 {
		t.Errorf("Points at 60s rate = %d, want 2", got)
	}

	if got := (Settings{DailyPenaltyPoints: -1}).withDefaults().DailyPenaltyPoints; got != 0 {
		t.Errorf("negative penalty should disable, got %d", got)
	}
}

func TestPreviousDate(t *testing.T) {
	if got := PreviousDate("2024-03-01"); got != "2024-02-29" {
		t.Errorf("PreviousDate = %q", got)
	}
	if got := PreviousDate("garbage"); got != "" {
		t.Errorf("PreviousDate(garbage) = %q, want empty", got)
	}
}
