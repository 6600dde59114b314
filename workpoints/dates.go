package workpoints

import "time"

// DateLayout is the calendar-date format used for storage keys and the sync API.
const DateLayout = "2006-01-02"

// DateKey formats t as YYYY-MM-DD in its own location.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD string as midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(DateLayout, s, loc)
}

// PreviousDate returns the calendar day before key, or "" if key is not a date.
func PreviousDate(key string) string {
	d, err := time.Parse(DateLayout, key)
	if err != nil {
		return ""
	}
	return d.AddDate(0, 0, -1).Format(DateLayout)
}
