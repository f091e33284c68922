package occurrence

import (
	"strings"
	"time"
)

// Accepted date-of-birth layouts, tried in order.
var dobLayouts = []string{
	"2006-01-02",      // ISO
	"1/2/2006",        // US slash, padded or not
	"January 2, 2006", // long form
	"Jan 2, 2006",
}

// ParseDateOfBirth parses a free-text date of birth. The first layout that
// parses wins; ok is false when none does.
func ParseDateOfBirth(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dobLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
