package actionitems

import (
	"regexp"
	"strings"
	"time"
)

// sentinels are the due-date strings meaning "no due date".
var sentinels = []string{"not specified", "none", "unspecified", ""}

// isoLayouts are tried against the whole input, in order.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var (
	todayRE     = regexp.MustCompile(`(?i)\btoday\b`)
	tomorrowRE  = regexp.MustCompile(`(?i)\btomorrow\b`)
	nextWeekRE  = regexp.MustCompile(`(?i)\bnext\s+week\b`)
	nextMonthRE = regexp.MustCompile(`(?i)\bnext\s+month\b`)

	// dateLikeRE finds numeric, "15 March 2024", and "March 15, 2024"
	// shaped substrings.
	dateLikeRE = regexp.MustCompile(`\d{1,4}[-/]\d{1,2}[-/]\d{1,4}|\d{1,2} [A-Za-z]{3,9} \d{2,4}|[A-Za-z]{3,9} \d{1,2},? \d{2,4}`)
)

// weekdays in the order time.Weekday numbers them.
var weekdayRE = func() [7]*regexp.Regexp {
	var out [7]*regexp.Regexp
	for d := time.Sunday; d <= time.Saturday; d++ {
		out[d] = regexp.MustCompile(`(?i)\b` + d.String() + `\b`)
	}
	return out
}()

// dateLayouts are tried in order against the first date-like substring.
// Day-first wins over month-first for ambiguous numeric dates.
var dateLayouts = []string{
	"2006-1-2",
	"2/1/2006",
	"1/2/2006",
	"January 2, 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"2 Jan 2006",
	"January 2 2006",
	"Jan 2 2006",
}

// ParseDueDate resolves a free-text due date relative to now. The first rule
// that matches wins:
//
//  1. "Not specified", "None", "Unspecified", or empty: no date.
//  2. An ISO-8601 date or date-time.
//  3. "today": today at 23:59:59.
//  4. "tomorrow": tomorrow at 23:59:59.
//  5. "next week": now plus 7 days.
//  6. "next month": now plus 30 days.
//  7. A weekday name: its next occurrence at 23:59:59, a week out when it
//     names the current day.
//  8. The first date-like substring parsed by the first matching layout.
//
// Word literals match case-insensitively on word boundaries. Results are in
// now's location.
func ParseDueDate(raw string, now time.Time) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	for _, sen := range sentinels {
		if strings.EqualFold(s, sen) {
			return time.Time{}, false
		}
	}

	loc := now.Location()
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}

	switch {
	case todayRE.MatchString(s):
		return endOfDay(now, 0), true
	case tomorrowRE.MatchString(s):
		return endOfDay(now, 1), true
	case nextWeekRE.MatchString(s):
		return now.AddDate(0, 0, 7), true
	case nextMonthRE.MatchString(s):
		return now.AddDate(0, 0, 30), true
	}

	for d := time.Monday; ; d = (d + 1) % 7 {
		if weekdayRE[d].MatchString(s) {
			ahead := (int(d) - int(now.Weekday()) + 7) % 7
			if ahead == 0 {
				ahead = 7
			}
			return endOfDay(now, ahead), true
		}
		if d == time.Sunday {
			break
		}
	}

	if m := dateLikeRE.FindString(s); m != "" {
		for _, layout := range dateLayouts {
			if t, err := time.ParseInLocation(layout, m, loc); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// endOfDay returns 23:59:59 on the calendar day days after now.
func endOfDay(now time.Time, days int) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+days, 23, 59, 59, 0, now.Location())
}
