package workpoints

import (
	"encoding/json"
	"time"
)

// State is the per-user record kept on the device.
type State struct {
	MillisecondsAccumulated int64     `json:"millisecondsAccumulated"`
	TotalWorkPoints         int64     `json:"totalWorkPoints"`
	LastActivity            time.Time `json:"lastActivity"`
	CurrentStreak           int       `json:"currentStreak"`
	LongestStreak           int       `json:"longestStreak"`
	LastStreakDate          string    `json:"lastStreakDate,omitempty"`

	// Version is the storage version stamp the record was read at.
	Version int64 `json:"-"`
}

// TodayPoints returns the points accrued so far on the current day.
func (s State) TodayPoints(settings Settings) int64 {
	return settings.Points(s.MillisecondsAccumulated)
}

// storedState mirrors State with optional fields so older records decode with defaults.
type storedState struct {
	MillisecondsAccumulated *int64  `json:"millisecondsAccumulated"`
	TotalWorkPoints         *int64  `json:"totalWorkPoints"`
	LastActivity            *string `json:"lastActivity"`
	CurrentStreak           *int    `json:"currentStreak"`
	LongestStreak           *int    `json:"longestStreak"`
	LastStreakDate          *string `json:"lastStreakDate"`
}

func decodeState(b []byte) (State, error) {
	var raw storedState
	if err := json.Unmarshal(b, &raw); err != nil {
		return State{}, err
	}

	var st State
	if raw.MillisecondsAccumulated != nil && *raw.MillisecondsAccumulated > 0 {
		st.MillisecondsAccumulated = *raw.MillisecondsAccumulated
	}
	if raw.TotalWorkPoints != nil && *raw.TotalWorkPoints > 0 {
		st.TotalWorkPoints = *raw.TotalWorkPoints
	}
	if raw.LastActivity != nil && *raw.LastActivity != "" {
		if t, err := time.Parse(time.RFC3339Nano, *raw.LastActivity); err == nil {
			st.LastActivity = t
		}
	}
	if raw.CurrentStreak != nil && *raw.CurrentStreak > 0 {
		st.CurrentStreak = *raw.CurrentStreak
	}
	if raw.LongestStreak != nil {
		st.LongestStreak = *raw.LongestStreak
	}
	if raw.LastStreakDate != nil {
		st.LastStreakDate = *raw.LastStreakDate
	}
	// records written before longestStreak existed
	if st.LongestStreak < st.CurrentStreak {
		st.LongestStreak = st.CurrentStreak
	}
	return st, nil
}

func encodeState(st State) ([]byte, error) {
	return json.Marshal(st)
}
