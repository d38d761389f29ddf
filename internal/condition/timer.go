package condition

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var hhmmssPattern = regexp.MustCompile(`(?:[01]\d|2[0-3]):(?:[0-5]\d):(?:[0-5]\d)`)

// TargetDate computes the RFC 3339 moment a timer value points at, offset
// from now. The value is either "HH:MM:SS" or a bare number of minutes.
func TargetDate(value string, now time.Time) (string, bool) {
	if value == "" {
		return "", false
	}
	if now.IsZero() {
		now = time.Now()
	}

	var offset time.Duration
	if hhmmssPattern.MatchString(value) {
		sections := strings.Split(value, ":")
		if len(sections) != 3 {
			return "", false
		}
		hours, _ := strconv.Atoi(sections[0])
		minutes, _ := strconv.Atoi(sections[1])
		seconds, _ := strconv.Atoi(sections[2])
		offset = time.Duration(hours)*time.Hour +
			time.Duration(minutes)*time.Minute +
			time.Duration(seconds)*time.Second
	} else {
		minutes, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return "", false
		}
		offset = time.Duration(minutes * float64(time.Minute))
	}

	return now.Add(offset).UTC().Format(time.RFC3339), true
}
