// Package holiday recognizes the fixed set of holidays that trigger client
// touchpoints.
package holiday

import "time"

// Holiday is a recognized holiday with the message sent to clients.
type Holiday struct {
	ID    string
	Name  string
	Title string
	Body  string
}

var (
	NewYear = Holiday{
		ID:    "new_years",
		Name:  "New Year's Day",
		Title: "Happy New Year!",
		Body:  "Wishing you a healthy and prosperous new year, %s. Your agent %s is here whenever you need us.",
	}
	Valentines = Holiday{
		ID:    "valentines",
		Name:  "Valentine's Day",
		Title: "Happy Valentine's Day!",
		Body:  "Thinking of you and the people you love today, %s. Warm wishes from %s.",
	}
	Independence = Holiday{
		ID:    "independence_day",
		Name:  "Independence Day",
		Title: "Happy 4th of July!",
		Body:  "Enjoy the celebrations and stay safe, %s. Best wishes from %s.",
	}
	Thanksgiving = Holiday{
		ID:    "thanksgiving",
		Name:  "Thanksgiving",
		Title: "Happy Thanksgiving!",
		Body:  "We're grateful for you, %s. Have a wonderful Thanksgiving. From %s.",
	}
	Christmas = Holiday{
		ID:    "christmas",
		Name:  "Christmas",
		Title: "Merry Christmas!",
		Body:  "Wishing you and your family a joyful holiday season, %s. From %s.",
	}
)

type fixedDate struct {
	month time.Month
	day   int
}

var fixed = map[fixedDate]Holiday{
	{time.January, 1}:   NewYear,
	{time.February, 14}: Valentines,
	{time.July, 4}:      Independence,
	{time.December, 25}: Christmas,
}

// For returns the holiday falling on the calendar date of t, if any. Only the
// year, month and day of t are considered.
func For(t time.Time) (Holiday, bool) {
	if h, ok := fixed[fixedDate{t.Month(), t.Day()}]; ok {
		return h, true
	}
	if isThanksgiving(t) {
		return Thanksgiving, true
	}
	return Holiday{}, false
}

// isThanksgiving matches the fourth Thursday of November, which always falls
// on day 22 through 28.
func isThanksgiving(t time.Time) bool {
	return t.Month() == time.November &&
		t.Weekday() == time.Thursday &&
		t.Day() >= 22 && t.Day() <= 28
}
