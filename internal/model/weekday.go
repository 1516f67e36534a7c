package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// WeekdaySet is a bitset over time.Weekday (bit 0 = Sunday). The zero value
// is the empty set.
type WeekdaySet uint8

const allWeekdays WeekdaySet = 1<<7 - 1

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// NewWeekdaySet builds a set from the given days.
func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s = s.Add(d)
	}
	return s
}

// Add returns s with d included. Out-of-range days are ignored.
func (s WeekdaySet) Add(d time.Weekday) WeekdaySet {
	if d < time.Sunday || d > time.Saturday {
		return s
	}
	return s | 1<<uint(d)
}

// Has reports whether d is in the set.
func (s WeekdaySet) Has(d time.Weekday) bool {
	if d < time.Sunday || d > time.Saturday {
		return false
	}
	return s&(1<<uint(d)) != 0
}

// Empty reports whether no weekday is set.
func (s WeekdaySet) Empty() bool {
	return s&allWeekdays == 0
}

// Days returns the members in Sunday-first order.
func (s WeekdaySet) Days() []time.Weekday {
	days := make([]time.Weekday, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			days = append(days, d)
		}
	}
	return days
}

func (s WeekdaySet) String() string {
	if s.Empty() {
		return "none"
	}
	parts := make([]string, 0, 7)
	for _, d := range s.Days() {
		parts = append(parts, d.String()[:3])
	}
	return strings.Join(parts, ",")
}

// ParseWeekdays parses a comma-separated list of weekday names or numbers
// (0=Sunday..6=Saturday), e.g. "mon,wed,fri" or "1,3,5".
func ParseWeekdays(s string) (WeekdaySet, error) {
	var set WeekdaySet
	for _, field := range strings.Split(s, ",") {
		field = strings.ToLower(strings.TrimSpace(field))
		if field == "" {
			continue
		}
		if n, err := strconv.Atoi(field); err == nil {
			if n < 0 || n > 6 {
				return 0, fmt.Errorf("weekday %d out of range 0-6", n)
			}
			set = set.Add(time.Weekday(n))
			continue
		}
		d, ok := weekdayNames[field]
		if !ok {
			return 0, fmt.Errorf("unknown weekday %q", field)
		}
		set = set.Add(d)
	}
	return set, nil
}

// MarshalJSON encodes the set as a sorted array of weekday numbers.
func (s WeekdaySet) MarshalJSON() ([]byte, error) {
	nums := make([]int, 0, 7)
	for _, d := range s.Days() {
		nums = append(nums, int(d))
	}
	return json.Marshal(nums)
}

// UnmarshalJSON decodes an array of weekday numbers.
func (s *WeekdaySet) UnmarshalJSON(data []byte) error {
	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return err
	}
	var set WeekdaySet
	for _, n := range nums {
		if n < 0 || n > 6 {
			return fmt.Errorf("weekday %d out of range 0-6", n)
		}
		set = set.Add(time.Weekday(n))
	}
	*s = set
	return nil
}

// MarshalYAML renders the set as its short string form.
func (s WeekdaySet) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}
