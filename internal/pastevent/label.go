// Package pastevent decides which displayed events have already happened
// and retires them from the page.
package pastevent

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var (
	// ErrNoDate means the label has no "Month D, YYYY" date in it.
	ErrNoDate = errors.New("pastevent: label has no date")
	// ErrUnknownMonth means the month word is not one of the twelve English
	// month names.
	ErrUnknownMonth = errors.New("pastevent: unknown month")
)

var labelPattern = regexp.MustCompile(`(\w+)\s+(\d{1,2}),\s+(\d{4})`)

var monthNames = map[string]time.Month{
	"January":   time.January,
	"February":  time.February,
	"March":     time.March,
	"April":     time.April,
	"May":       time.May,
	"June":      time.June,
	"July":      time.July,
	"August":    time.August,
	"September": time.September,
	"October":   time.October,
	"November":  time.November,
	"December":  time.December,
}

// ParseLabel extracts the first "Month D, YYYY" date from label and returns
// midnight of that day in loc. Month names are matched exactly. Days past
// the end of the month roll over ("February 30, 2025" is March 2).
func ParseLabel(label string, loc *time.Location) (time.Time, error) {
	m := labelPattern.FindStringSubmatch(label)
	if m == nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrNoDate, label)
	}

	month, ok := monthNames[m[1]]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownMonth, m[1])
	}

	// Both groups are all digits and short, Atoi cannot fail.
	day, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])

	if loc == nil {
		loc = time.Local
	}
	return time.Date(year, month, day, 0, 0, 0, 0, loc), nil
}

// Midnight truncates t to the start of its day in t's location.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// IsPast reports whether eventDate lies strictly before the day containing
// now. "Today" is taken in eventDate's location.
func IsPast(eventDate, now time.Time) bool {
	today := Midnight(now.In(eventDate.Location()))
	return eventDate.Before(today)
}
