// Package workpoints implements the client side of the work-points system:
// converting active time into points, keeping a per-user local record,
// reconciling that record when a calendar day ends, and pushing daily
// tallies to the server.
package workpoints

const (
	// DefaultMillisPerPoint is the canonical accrual rate: one point per 30s of activity.
	DefaultMillisPerPoint int64 = 30000
	// DefaultRetentionPoints is the number of points a day needs to keep a streak alive.
	DefaultRetentionPoints int64 = 5
	// DefaultDailyPenaltyPoints is subtracted from the lifetime total for a day below retention.
	DefaultDailyPenaltyPoints int64 = 10
	// MaxDailyWorkPoints is the business ceiling for one device's daily tally.
	MaxDailyWorkPoints int64 = 10000
)

// Settings carries the tunable business constants. Zero fields take defaults;
// a negative DailyPenaltyPoints disables the penalty.
type Settings struct {
	MillisPerPoint     int64
	RetentionPoints    int64
	DailyPenaltyPoints int64
}

// DefaultSettings returns the canonical constants.
func DefaultSettings() Settings {
	return Settings{
		MillisPerPoint:     DefaultMillisPerPoint,
		RetentionPoints:    DefaultRetentionPoints,
		DailyPenaltyPoints: DefaultDailyPenaltyPoints,
	}
}

func (s Settings) withDefaults() Settings {
	if s.MillisPerPoint <= 0 {
		s.MillisPerPoint = DefaultMillisPerPoint
	}
	if s.RetentionPoints <= 0 {
		s.RetentionPoints = DefaultRetentionPoints
	}
	if s.DailyPenaltyPoints < 0 {
		s.DailyPenaltyPoints = 0
	} else if s.DailyPenaltyPoints == 0 {
		s.DailyPenaltyPoints = DefaultDailyPenaltyPoints
	}
	return s
}

// Effective returns the settings with defaults applied.
func (s Settings) Effective() Settings {
	return s.withDefaults()
}

// Points converts accumulated active milliseconds into whole points.
func (s Settings) Points(ms int64) int64 {
	if ms <= 0 {
		return 0
	}
	return ms / s.withDefaults().MillisPerPoint
}

// PointsFor converts milliseconds into points at the canonical rate.
func PointsFor(ms int64) int64 {
	return DefaultSettings().Points(ms)
}
