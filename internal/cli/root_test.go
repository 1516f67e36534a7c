package cli

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/colthorp/bookingsync-go/internal/api"
	"github.com/colthorp/bookingsync-go/internal/config"
	"github.com/colthorp/bookingsync-go/internal/model"
)

// withBackend points the root command at an in-memory backend seeded with
// a daily booking that never ends, and at an empty config directory.
func withBackend(t *testing.T) (*api.InMemoryTransport, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv(config.ConfigPathEnvVar, "")
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	transport := api.NewInMemoryTransport()
	transport.SeedBookings(model.Booking{
		ID:          "bk-1",
		ServiceType: "cleaning",
		Frequency:   model.Daily,
		StartDate:   mustDate(t, "2024-01-01"),
		IsActive:    true,
	})

	var out bytes.Buffer
	prevTransport, prevStdout := newTransport, stdout
	newTransport = func(*config.Config) api.Transport { return transport }
	stdout = &out

	t.Cleanup(func() {
		newTransport, stdout = prevTransport, prevStdout
		resetFlags()
		os.Chdir(wd)
	})
	return transport, &out
}

// resetFlags restores flag variables, which persist across Execute calls.
func resetFlags() {
	verbose, quiet, raw, noColor = false, false, false, false
	outputFormat, configPath, timezone, role, actorName = "text", "", "", "", ""
}

func run(t *testing.T, out *bytes.Buffer, args ...string) error {
	t.Helper()
	resetFlags()
	out.Reset()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(context.Background())
}

func TestRootCommandFlow(t *testing.T) {
	transport, out := withBackend(t)

	if err := run(t, out, "bookings", "-o", "json", "--quiet", "--timezone", "UTC"); err != nil {
		t.Fatalf("bookings failed: %v", err)
	}
	var bookings []map[string]interface{}
	if err := json.Unmarshal(out.Bytes(), &bookings); err != nil {
		t.Fatalf("bookings output is not JSON: %v\n%s", err, out.String())
	}
	if len(bookings) != 1 || bookings[0]["id"] != "bk-1" {
		t.Errorf("Unexpected bookings %v", bookings)
	}

	if err := run(t, out, "mark", "bk-1", "yesterday", "present", "-o", "json", "--quiet", "--timezone", "UTC", "--as", "tester"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	var rec map[string]interface{}
	if err := json.Unmarshal(out.Bytes(), &rec); err != nil {
		t.Fatalf("mark output is not JSON: %v\n%s", err, out.String())
	}
	if rec["status"] != "present" {
		t.Errorf("Expected a present record, got %v", rec)
	}
	if got := len(transport.Records("bk-1")); got != 1 {
		t.Errorf("Expected 1 stored record, got %d", got)
	}

	if err := run(t, out, "classify", "bk-1", "yesterday", "-o", "json", "--quiet", "--timezone", "UTC"); err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	var c struct {
		BookingID string `json:"bookingId"`
		Result    struct {
			State string `json:"state"`
		} `json:"result"`
	}
	if err := json.Unmarshal(out.Bytes(), &c); err != nil {
		t.Fatalf("classify output is not JSON: %v\n%s", err, out.String())
	}
	if c.BookingID != "bk-1" || c.Result.State != "already_marked" {
		t.Errorf("Expected bk-1 already_marked, got %+v", c)
	}

	tomorrow := time.Now().UTC().AddDate(0, 0, 1).Format("2006-01-02")
	if err := run(t, out, "mark", "bk-1", tomorrow, "absent", "--quiet", "--timezone", "UTC"); err == nil {
		t.Error("Expected a future mark to be refused")
	}
	if got := transport.RequestsTo("POST", "bookings/bk-1/attendance"); got != 1 {
		t.Errorf("Expected 1 POST, got %d", got)
	}
}

func TestRootCommandRejectsBadFlags(t *testing.T) {
	_, out := withBackend(t)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown role", []string{"bookings", "--role", "guest"}},
		{"unknown timezone", []string{"bookings", "--timezone", "Mars/Olympus"}},
		{"unknown format", []string{"bookings", "-o", "xml"}},
		{"bad window", []string{"attendance", "bk-1", "--week", "3", "--from", "d-1", "--quiet"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := run(t, out, tt.args...); err == nil {
				t.Errorf("Expected %s to fail", strings.Join(tt.args, " "))
			}
		})
	}
}
