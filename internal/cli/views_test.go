package cli

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/facebookgo/clock"

	"github.com/colthorp/bookingsync-go/internal/attendance"
	"github.com/colthorp/bookingsync-go/internal/config"
	"github.com/colthorp/bookingsync-go/internal/core"
	"github.com/colthorp/bookingsync-go/internal/model"
)

func TestCalendarWindow(t *testing.T) {
	mock := clock.NewMock()
	mock.Add(mustDate(t, "2024-01-20").Add(12 * time.Hour).Sub(mock.Now()))
	engine := attendance.NewEngine(mock, time.UTC)

	tests := []struct {
		name    string
		spec    windowSpec
		want    [2]string
		wantErr bool
	}{
		{"default window", windowSpec{Days: 14}, [2]string{"2024-01-07", "2024-01-20"}, false},
		{"single day", windowSpec{}, [2]string{"2024-01-20", "2024-01-20"}, false},
		{"from only runs to today", windowSpec{Days: 14, From: "2024-01-15"}, [2]string{"2024-01-15", "2024-01-20"}, false},
		{"to only counts back", windowSpec{Days: 3, To: "2024-01-10"}, [2]string{"2024-01-08", "2024-01-10"}, false},
		{"both", windowSpec{Days: 14, From: "d-10", To: "yesterday"}, [2]string{"2024-01-10", "2024-01-19"}, false},
		{"iso week", windowSpec{Week: "2024-W02"}, [2]string{"2024-01-08", "2024-01-14"}, false},
		{"bare week number", windowSpec{Week: "1"}, [2]string{"2024-01-01", "2024-01-07"}, false},
		{"last week", windowSpec{Period: "last-week"}, [2]string{"2024-01-08", "2024-01-14"}, false},
		{"this month", windowSpec{Period: "this-month"}, [2]string{"2024-01-01", "2024-01-31"}, false},
		{"reversed", windowSpec{From: "2024-01-18", To: "2024-01-12"}, [2]string{}, true},
		{"bad spec", windowSpec{From: "someday"}, [2]string{}, true},
		{"bad period", windowSpec{Period: "fortnight"}, [2]string{}, true},
		{"week and range", windowSpec{Week: "3", From: "d-1"}, [2]string{}, true},
		{"full year", windowSpec{Days: 366}, [2]string{"2023-01-20", "2024-01-20"}, false},
		{"too many days", windowSpec{Days: 100000000}, [2]string{}, true},
		{"range too long", windowSpec{From: "1900-01-01"}, [2]string{}, true},
		{"to counts back too far", windowSpec{Days: 400, To: "2024-01-10"}, [2]string{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to, err := calendarWindow(engine, tt.spec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("calendarWindow error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			got := [2]string{core.FormatDate(from), core.FormatDate(to)}
			if got != tt.want {
				t.Errorf("calendarWindow = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildCalendar(t *testing.T) {
	s, _, _ := newTestServer(t, "2024-01-08")
	from, to := s.manager.Engine().RecentWindow(8)

	view, st, err := buildCalendar(context.Background(), s.manager, "bk-1", from, to)
	if err != nil {
		t.Fatalf("buildCalendar failed: %v", err)
	}
	if st.Stale {
		t.Error("Expected a fresh view")
	}
	if len(view.Days) != 8 {
		t.Fatalf("Expected 8 days, got %d", len(view.Days))
	}
	if view.Days[0].State != attendance.Markable || view.Days[1].State != attendance.OutOfSchedule {
		t.Errorf("Expected Mon markable and Tue out of schedule, got %s and %s", view.Days[0].State, view.Days[1].State)
	}
	if view.PresentDays != 1 || view.AbsentDays != 0 {
		t.Errorf("Expected 1 present, 0 absent, got %d/%d", view.PresentDays, view.AbsentDays)
	}
	if len(view.Markable) != 3 || core.FormatDate(view.Markable[0]) != "2024-01-01" {
		t.Errorf("Unexpected markable days %v", view.Markable)
	}

	if _, _, err := buildCalendar(context.Background(), s.manager, "bk-missing", from, to); err == nil {
		t.Error("Expected an error for an unknown booking")
	}
}

func TestWithFallbackPassesThroughOtherErrors(t *testing.T) {
	s, _, _ := newTestServer(t, "2024-01-08")
	_, _, err := loadBookings(context.Background(), s.manager)
	if err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	_, st, err := withFallback(context.Background(), s.manager, "bookings",
		func(context.Context) ([]model.Booking, error) { return nil, boom },
		s.manager.PeekMyBookings)
	if !errors.Is(err, boom) || st.Stale {
		t.Errorf("Expected a non-fetch error to pass through, got %v (stale=%v)", err, st.Stale)
	}
}

func TestNewManagerUsesConfig(t *testing.T) {
	c := config.Default()
	c.Timezone = "Asia/Kolkata"
	c.Cache.AttendanceDetailTTL = 15 * time.Second

	mock := clock.NewMock()
	// 20:00 UTC on 2024-01-05 is already the 6th in Kolkata.
	mock.Add(mustDate(t, "2024-01-05").Add(20 * time.Hour).Sub(mock.Now()))

	m := newManager(c, nil, mock)
	if got := m.TTLs().AttendanceDetail; got != 15*time.Second {
		t.Errorf("AttendanceDetail TTL = %v, want 15s", got)
	}
	if got := core.FormatDate(m.Engine().Today()); got != "2024-01-06" {
		t.Errorf("Today = %s, want 2024-01-06", got)
	}
}

func TestActor(t *testing.T) {
	c := config.Default()
	c.Role = "admin"
	actorName = "ops"
	defer func() { actorName = "" }()

	by, err := actor(c)
	if err != nil {
		t.Fatal(err)
	}
	if by.Role != model.RoleAdmin || by.Name != "ops" {
		t.Errorf("actor = %+v", by)
	}

	c.Role = "guest"
	if _, err := actor(c); err == nil {
		t.Error("Expected an error for an unknown role")
	}
}
