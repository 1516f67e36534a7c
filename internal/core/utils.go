package core

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/colthorp/bookingsync-go/internal/logging"
)

var (
	mdRegex      = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})$`)
	relRegex     = regexp.MustCompile(`^([dwmy])-(\d+)$`)
	weekNumRegex = regexp.MustCompile(`^\d{1,2}$`)
	isoWeekRegex = regexp.MustCompile(`^(\d{4})-W(\d{2})$`)
)

// ProgressPrint writes msg to stderr unless quiet is true.
func ProgressPrint(msg string, quiet bool) {
	if !quiet {
		fmt.Fprintln(os.Stderr, msg)
	}
}

// GetTZ returns a *time.Location for the given timezone name.
// Falls back to UTC if the timezone is not found.
func GetTZ(name string) *time.Location {
	if name == "" {
		name = DefaultTZ
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		logging.Warn().Str("timezone", name).Msg("timezone not found; falling back to UTC")
		return time.UTC
	}
	return loc
}

// ParseDate parses a YYYY-MM-DD string into a time.Time (date only, at midnight UTC).
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(APIDateFmt, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date '%s' (expected YYYY-MM-DD)", s)
	}
	return t, nil
}

// ParseDateSpec returns a calendar day for flexible spec strings, relative to now.
// Supports:
// 1. today, yesterday, tomorrow
// 2. Exact YYYY-MM-DD
// 3. M/D or MM/DD (most recent past occurrence)
// 4. Relative forms like d-7 (days), w-2 (weeks), m-3 (months), y-1 (years)
func ParseDateSpec(spec string, now time.Time) (time.Time, error) {
	today := DateOnly(now)

	switch strings.ToLower(spec) {
	case "today":
		return today, nil
	case "yesterday":
		return today.AddDate(0, 0, -1), nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), nil
	}

	if t, err := time.Parse(APIDateFmt, spec); err == nil {
		return t, nil
	}

	if matches := mdRegex.FindStringSubmatch(spec); matches != nil {
		month, _ := strconv.Atoi(matches[1])
		day, _ := strconv.Atoi(matches[2])
		if month < 1 || month > 12 || day < 1 || day > 31 {
			return time.Time{}, fmt.Errorf("invalid date specification: '%s'", spec)
		}
		// Feb 29 may need to look back several years.
		for year := today.Year(); year > today.Year()-8; year-- {
			target := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
			if target.Month() == time.Month(month) && target.Day() == day && !target.After(today) {
				return target, nil
			}
		}
		return time.Time{}, fmt.Errorf("invalid date specification: '%s'", spec)
	}

	if matches := relRegex.FindStringSubmatch(strings.ToLower(spec)); matches != nil {
		unit := matches[1]
		num, _ := strconv.Atoi(matches[2])

		switch unit {
		case "d":
			return today.AddDate(0, 0, -num), nil
		case "w":
			return today.AddDate(0, 0, -num*7), nil
		case "m":
			return today.AddDate(0, -num, 0), nil
		case "y":
			return today.AddDate(-num, 0, 0), nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid date specification: '%s'", spec)
}

// ParseWeekSpec converts a week spec (N or YYYY-WNN) into (start_date, end_date).
// A bare week number is taken from the year of now.
func ParseWeekSpec(spec string, now time.Time) (time.Time, time.Time, error) {
	if weekNumRegex.MatchString(spec) {
		weekNum, _ := strconv.Atoi(spec)
		if weekNum < 1 || weekNum > 53 {
			return time.Time{}, time.Time{}, fmt.Errorf("week number out of range (1-53)")
		}
		start, end := weekDates(now.Year(), weekNum)
		return start, end, nil
	}

	if matches := isoWeekRegex.FindStringSubmatch(spec); matches != nil {
		year, _ := strconv.Atoi(matches[1])
		weekNum, _ := strconv.Atoi(matches[2])
		if weekNum < 1 || weekNum > 53 {
			return time.Time{}, time.Time{}, fmt.Errorf("week number out of range (1-53) in ISO format")
		}
		start, end := weekDates(year, weekNum)
		return start, end, nil
	}

	return time.Time{}, time.Time{}, fmt.Errorf("invalid week specification format: '%s'", spec)
}

// weekDates returns the start (Monday) and end (Sunday) dates for a given ISO week.
func weekDates(year, week int) (time.Time, time.Time) {
	// January 4th is always in ISO week 1
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	weekday := int(jan4.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	mondayWeek1 := jan4.AddDate(0, 0, -(weekday - 1))
	startDate := mondayWeek1.AddDate(0, 0, (week-1)*7)
	return startDate, startDate.AddDate(0, 0, 6)
}

// GetDateRange returns the first and last calendar day of a named period
// relative to now. Supported periods: today, yesterday, this-week, last-week,
// this-month, last-month.
func GetDateRange(period string, now time.Time) (time.Time, time.Time, error) {
	today := DateOnly(now)

	switch period {
	case "today":
		return today, today, nil

	case "yesterday":
		d := today.AddDate(0, 0, -1)
		return d, d, nil

	case "this-week", "last-week":
		// Weeks start on Monday
		weekday := int(today.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		start := today.AddDate(0, 0, -(weekday - 1))
		if period == "last-week" {
			start = start.AddDate(0, 0, -7)
		}
		return start, start.AddDate(0, 0, 6), nil

	case "this-month":
		first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
		return first, first.AddDate(0, 1, -1), nil

	case "last-month":
		first := time.Date(today.Year(), today.Month()-1, 1, 0, 0, 0, 0, time.UTC)
		return first, first.AddDate(0, 1, -1), nil
	}

	return time.Time{}, time.Time{}, fmt.Errorf("unknown period: %s", period)
}

// DateOnly returns a time.Time with only the date portion (midnight UTC).
// The calendar day is taken in t's own location.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatDate formats a time.Time as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(APIDateFmt)
}
