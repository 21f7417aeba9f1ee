package normalizer

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var countdownPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(days?|d|hours?|hrs?|h|minutes?|mins?|m)`)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// ParseTimestamp accepts RFC 3339 and "YYYY-MM-DD HH:MM:SS" with an optional
// zone; zone-less values are UTC.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseCountdown reads strings such as "15 hours", "2 days", "30 min",
// "15h30m" or "1 day 3 hours". A bare number is taken as hours. Signed
// values are rejected.
func ParseCountdown(raw string) (time.Duration, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" || strings.ContainsAny(s, "-+") {
		return 0, false
	}
	var matches [][]string
	for _, loc := range countdownPattern.FindAllStringSubmatchIndex(s, -1) {
		// the unit must end the word or be followed by the next number
		if loc[1] < len(s) && isLetter(s[loc[1]]) {
			continue
		}
		matches = append(matches, []string{s[loc[0]:loc[1]], s[loc[2]:loc[3]], s[loc[4]:loc[5]]})
	}
	if len(matches) == 0 {
		hours, err := strconv.ParseFloat(s, 64)
		if err != nil || hours < 0 || math.IsNaN(hours) || math.IsInf(hours, 0) {
			return 0, false
		}
		return time.Duration(hours * float64(time.Hour)), true
	}

	var total time.Duration
	for _, m := range matches {
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, false
		}
		total += time.Duration(n * float64(unitOf(m[2])))
	}
	return total, true
}

func isLetter(b byte) bool {
	return b >= 'a' && b <= 'z'
}

func unitOf(unit string) time.Duration {
	switch {
	case strings.HasPrefix(unit, "d"):
		return 24 * time.Hour
	case strings.HasPrefix(unit, "h"):
		return time.Hour
	default:
		return time.Minute
	}
}

// ResolveForecastAt picks the explicit timestamp, then sensor time plus countdown,
// then the sensor time itself.
func ResolveForecastAt(timestampRaw, countdownRaw string, sensorAt time.Time) time.Time {
	if t, ok := ParseTimestamp(timestampRaw); ok {
		return t
	}
	if d, ok := ParseCountdown(countdownRaw); ok {
		return sensorAt.Add(d)
	}
	return sensorAt
}
