package workpoints

import "time"

// Phase says whether a calendar day ended since the last recorded activity.
type Phase int

const (
	SameDay Phase = iota
	DayBoundaryCrossed
)

func (p Phase) String() string {
	if p == DayBoundaryCrossed {
		return "day_boundary_crossed"
	}
	return "same_day"
}

// StreakChange describes what a reconciliation did to the streak.
type StreakChange string

const (
	StreakUnchanged StreakChange = "unchanged"
	StreakStarted   StreakChange = "started"
	StreakExtended  StreakChange = "extended"
	StreakRestarted StreakChange = "restarted"
	StreakBroken    StreakChange = "broken"
)

// Outcome reports a single reconciliation.
type Outcome struct {
	Phase Phase `json:"phase"`
	// Date is the day that was closed out (the day of the previous activity).
	Date            string       `json:"date,omitempty"`
	Points          int64        `json:"points"`
	ThresholdMet    bool         `json:"thresholdMet"`
	Streak          StreakChange `json:"streak"`
	PenaltyApplied  int64        `json:"penaltyApplied"`
	StreakLost      bool         `json:"streakLost"`
	PreviousStreak  int          `json:"previousStreak"`
	CurrentStreak   int          `json:"currentStreak"`
	TotalWorkPoints int64        `json:"totalWorkPoints"`
}

// Reconcile closes out the day of st.LastActivity if now falls on a later
// calendar day in loc. It returns the new state; st itself is not modified.
// Points of the closed day are already part of TotalWorkPoints (they are
// credited as they accrue), so only the penalty touches the total here.
func Reconcile(st State, now time.Time, loc *time.Location, settings Settings) (State, Outcome) {
	settings = settings.withDefaults()
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	out := Outcome{Phase: SameDay, Streak: StreakUnchanged, PreviousStreak: st.CurrentStreak}

	if st.LastActivity.IsZero() {
		st.LastActivity = now
		out.CurrentStreak = st.CurrentStreak
		out.TotalWorkPoints = st.TotalWorkPoints
		return st, out
	}

	day := DateKey(st.LastActivity.In(loc))
	today := DateKey(now)
	// a last activity on or after today (clock moved backwards) is not a boundary
	if day >= today {
		out.CurrentStreak = st.CurrentStreak
		out.TotalWorkPoints = st.TotalWorkPoints
		return st, out
	}

	out.Phase = DayBoundaryCrossed
	out.Date = day
	out.Points = settings.Points(st.MillisecondsAccumulated)

	if out.Points >= settings.RetentionPoints {
		out.ThresholdMet = true
		switch {
		case st.CurrentStreak == 0 || st.LastStreakDate == "":
			st.CurrentStreak = 1
			out.Streak = StreakStarted
		case st.LastStreakDate == day:
			// already credited
		case st.LastStreakDate == PreviousDate(day):
			st.CurrentStreak++
			out.Streak = StreakExtended
		default:
			st.CurrentStreak = 1
			out.Streak = StreakRestarted
		}
		st.LastStreakDate = day
	} else {
		penalty := settings.DailyPenaltyPoints
		if penalty > st.TotalWorkPoints {
			penalty = st.TotalWorkPoints
		}
		st.TotalWorkPoints -= penalty
		out.PenaltyApplied = penalty
		if st.CurrentStreak > 0 {
			st.CurrentStreak = 0
			st.LastStreakDate = ""
			out.StreakLost = true
			out.Streak = StreakBroken
		}
	}

	if st.LongestStreak < st.CurrentStreak {
		st.LongestStreak = st.CurrentStreak
	}

	st.MillisecondsAccumulated = 0
	st.LastActivity = now

	out.CurrentStreak = st.CurrentStreak
	out.TotalWorkPoints = st.TotalWorkPoints
	return st, out
}
