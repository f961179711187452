package energy

import "time"

// MinValidTime is the lower bound of the timestamp validity window.
var MinValidTime = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// MaxClockSkew is how far past "now" a chain timestamp may lie.
const MaxClockSkew = 24 * time.Hour

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ResolveTimestamp returns the display time of an event in milliseconds
// since the epoch. The ISO string wins over unix seconds; anything outside
// [MinValidTime, now+MaxClockSkew) is treated as corrupt, and when nothing
// usable remains the event is pinned to now.
func ResolveTimestamp(blockTimeISO string, blockTime *int64, now time.Time) int64 {
	if blockTimeISO != "" {
		if t, ok := parseISO(blockTimeISO); ok && inWindow(t, now) {
			return t.UnixMilli()
		}
	}

	if blockTime != nil {
		t := time.Unix(*blockTime, 0)
		if inWindow(t, now) {
			return t.UnixMilli()
		}
	}

	return now.UnixMilli()
}

func parseISO(s string) (time.Time, bool) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func inWindow(t, now time.Time) bool {
	return !t.Before(MinValidTime) && t.Before(now.Add(MaxClockSkew))
}
