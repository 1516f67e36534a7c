package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/goccy/go-json"

	"github.com/colthorp/bookingsync-go/internal/api"
	"github.com/colthorp/bookingsync-go/internal/config"
	"github.com/colthorp/bookingsync-go/internal/core"
	"github.com/colthorp/bookingsync-go/internal/model"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := core.ParseDate(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

// newTestServer returns an MCP server over a seeded in-memory backend with
// the clock at noon on today. bk-1 is Mon/Wed/Fri from 2024-01-01 to
// 2024-01-10 with 2024-01-03 marked present.
func newTestServer(t *testing.T, today string) (*mcpServer, *api.InMemoryTransport, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Add(mustDate(t, today).Add(12 * time.Hour).Sub(mock.Now()))

	end := mustDate(t, "2024-01-10")
	transport := api.NewInMemoryTransport()
	transport.Now = mock.Now
	transport.SeedBookings(model.Booking{
		ID:           "bk-1",
		ServiceType:  "cook",
		CustomerName: "Asha",
		Frequency:    model.Weekly,
		WeeklyDays:   model.NewWeekdaySet(time.Monday, time.Wednesday, time.Friday),
		StartDate:    mustDate(t, "2024-01-01"),
		EndDate:      &end,
		IsActive:     true,
	})
	transport.SeedRecords(model.AttendanceRecord{
		BookingID: "bk-1",
		Date:      mustDate(t, "2024-01-03"),
		Status:    model.Present,
		MarkedBy:  model.MarkedBy{Role: model.RoleWorker},
	})
	transport.SeedCatalog(model.ServiceCatalog{Currency: "INR", Services: []model.ServiceOffering{{Type: "cook", Name: "Cook", BasePrice: 500}}})

	m := newManager(config.Default(), transport, mock)
	s := newMCPServer(m, model.MarkedBy{Role: model.RoleWorker, Name: "Ravi"}, nil, nil)
	return s, transport, mock
}

// exchange feeds lines to the server and returns the decoded responses.
func exchange(t *testing.T, s *mcpServer, lines ...string) []map[string]interface{} {
	t.Helper()
	var out bytes.Buffer
	s.in = strings.NewReader(strings.Join(lines, "\n") + "\n")
	s.out = &out
	if err := s.serve(context.Background()); err != nil {
		t.Fatalf("serve failed: %v", err)
	}

	var resps []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var resp map[string]interface{}
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			t.Fatalf("bad response line %q: %v", line, err)
		}
		resps = append(resps, resp)
	}
	return resps
}

func toolCall(id int, name, args string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"tools/call","params":{"name":%q,"arguments":%s}}`, id, name, args)
}

// toolOutput returns the text content of a tool response and whether it was
// flagged as an error.
func toolOutput(t *testing.T, resp map[string]interface{}) (string, bool) {
	t.Helper()
	result, ok := resp["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("response has no result: %v", resp)
	}
	content := result["content"].([]interface{})
	text := content[0].(map[string]interface{})["text"].(string)
	isError, _ := result["isError"].(bool)
	return text, isError
}

// toolJSON decodes a successful tool response.
func toolJSON(t *testing.T, resp map[string]interface{}) map[string]interface{} {
	t.Helper()
	text, isError := toolOutput(t, resp)
	if isError {
		t.Fatalf("tool returned error: %s", text)
	}
	var v map[string]interface{}
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		t.Fatalf("tool output is not JSON: %v\n%s", err, text)
	}
	return v
}

func TestMCPRequestParsing(t *testing.T) {
	callReq := `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"classify_date","arguments":{"booking_id":"bk-1","date_spec":"today"}}}`
	var req MCPRequest
	if err := json.Unmarshal([]byte(callReq), &req); err != nil {
		t.Fatalf("Failed to parse tools/call request: %v", err)
	}
	if req.Method != "tools/call" {
		t.Errorf("Expected method 'tools/call', got %s", req.Method)
	}
	if !strings.Contains(string(req.Params), `"classify_date"`) {
		t.Errorf("Expected params to be kept raw, got %s", req.Params)
	}
}

func TestMCPInitializeAndList(t *testing.T) {
	s, _, _ := newTestServer(t, "2024-01-08")

	resps := exchange(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	)
	if len(resps) != 2 {
		t.Fatalf("Expected 2 responses (notification gets none), got %d", len(resps))
	}

	info := resps[0]["result"].(map[string]interface{})["serverInfo"].(map[string]interface{})
	if info["name"] != "bookingsync" || info["version"] != core.Version {
		t.Errorf("Unexpected serverInfo %v", info)
	}

	tools := resps[1]["result"].(map[string]interface{})["tools"].([]interface{})
	names := map[string]bool{}
	for _, tool := range tools {
		names[tool.(map[string]interface{})["name"].(string)] = true
	}
	for _, want := range []string{"list_bookings", "attendance_calendar", "classify_date", "mark_attendance", "attendance_overview", "analytics", "service_catalog", "cache_stats", "refresh_cache"} {
		if !names[want] {
			t.Errorf("tools/list is missing %s", want)
		}
	}
}

func TestMCPErrors(t *testing.T) {
	s, _, _ := newTestServer(t, "2024-01-08")

	resps := exchange(t, s,
		`not json`,
		`{"jsonrpc":"2.0","id":1,"method":"resources/list"}`,
		`{"jsonrpc":"2.0","method":"unknown/notification"}`,
		toolCall(2, "no_such_tool", `{}`),
		toolCall(3, "classify_date", `{"booking_id":"bk-1"}`),
	)
	if len(resps) != 3 {
		t.Fatalf("Expected 3 responses, got %d: %v", len(resps), resps)
	}

	if code := resps[0]["error"].(map[string]interface{})["code"].(float64); code != -32601 {
		t.Errorf("Expected -32601 for unknown method, got %v", code)
	}
	if code := resps[1]["error"].(map[string]interface{})["code"].(float64); code != -32602 {
		t.Errorf("Expected -32602 for unknown tool, got %v", code)
	}
	text, isError := toolOutput(t, resps[2])
	if !isError || !strings.Contains(text, "required") {
		t.Errorf("Expected a tool error about required arguments, got %q (isError=%v)", text, isError)
	}
}

func TestMCPClassifyDate(t *testing.T) {
	s, _, _ := newTestServer(t, "2024-01-08")

	tests := []struct {
		dateSpec string
		state    string
		actions  int
	}{
		{"2024-01-02", "out_of_schedule", 0},
		{"2024-01-03", "already_marked", 0},
		{"2024-01-05", "markable", 2},
		{"today", "markable", 2},
		{"2024-01-10", "future_date", 0},
	}

	for i, tt := range tests {
		t.Run(tt.dateSpec, func(t *testing.T) {
			resps := exchange(t, s, toolCall(i+1, "classify_date", fmt.Sprintf(`{"booking_id":"bk-1","date_spec":%q}`, tt.dateSpec)))
			got := toolJSON(t, resps[0])
			if got["state"] != tt.state {
				t.Errorf("state = %v, want %s", got["state"], tt.state)
			}
			actions, _ := got["actions"].([]interface{})
			if len(actions) != tt.actions {
				t.Errorf("actions = %v, want %d", got["actions"], tt.actions)
			}
		})
	}
}

func TestMCPMarkAttendanceFlow(t *testing.T) {
	s, transport, _ := newTestServer(t, "2024-01-08")

	resps := exchange(t, s,
		toolCall(1, "attendance_calendar", `{"booking_id":"bk-1"}`),
		toolCall(2, "mark_attendance", `{"booking_id":"bk-1","date_spec":"2024-01-05","status":"absent"}`),
		toolCall(3, "attendance_calendar", `{"booking_id":"bk-1"}`),
		toolCall(4, "mark_attendance", `{"booking_id":"bk-1","date_spec":"2024-01-05","status":"present"}`),
		toolCall(5, "mark_attendance", `{"booking_id":"bk-1","date_spec":"2024-01-10","status":"present"}`),
	)
	if len(resps) != 5 {
		t.Fatalf("Expected 5 responses, got %d", len(resps))
	}

	before := toolJSON(t, resps[0])
	if n := len(before["markable"].([]interface{})); n != 3 {
		t.Errorf("Expected 3 markable days before marking, got %d: %v", n, before["markable"])
	}

	marked := toolJSON(t, resps[1])
	if marked["status"] != "absent" || marked["date"] != "2024-01-05" {
		t.Errorf("Unexpected mark result %v", marked)
	}
	if by := marked["marked_by"].(map[string]interface{}); by["name"] != "Ravi" || by["role"] != "worker" {
		t.Errorf("Unexpected marked_by %v", by)
	}

	after := toolJSON(t, resps[2])
	if after["absent_days"].(float64) != 1 || after["present_days"].(float64) != 1 {
		t.Errorf("Expected 1 present and 1 absent after marking, got %v/%v", after["present_days"], after["absent_days"])
	}
	if n := len(after["markable"].([]interface{})); n != 2 {
		t.Errorf("Expected 2 markable days after marking, got %d", n)
	}

	if text, isError := toolOutput(t, resps[3]); !isError || !strings.Contains(text, "not markable") {
		t.Errorf("Expected second mark to be refused, got %q", text)
	}
	if text, isError := toolOutput(t, resps[4]); !isError || !strings.Contains(text, "future") {
		t.Errorf("Expected future mark to be refused, got %q", text)
	}

	if got := transport.RequestsTo("POST", "bookings/bk-1/attendance"); got != 1 {
		t.Errorf("Expected exactly 1 POST, got %d", got)
	}
	if recs := transport.Records("bk-1"); len(recs) != 2 {
		t.Errorf("Expected 2 stored records, got %d", len(recs))
	}
}

func TestMCPOverrideRequiresAdmin(t *testing.T) {
	s, transport, _ := newTestServer(t, "2024-01-08")

	resps := exchange(t, s, toolCall(1, "mark_attendance", `{"booking_id":"bk-1","date_spec":"2024-01-03","status":"absent","override":true}`))
	if text, isError := toolOutput(t, resps[0]); !isError || !strings.Contains(text, "admin") {
		t.Errorf("Expected override to need admin, got %q", text)
	}

	s.actor = model.MarkedBy{Role: model.RoleAdmin, Name: "ops"}
	resps = exchange(t, s, toolCall(2, "mark_attendance", `{"booking_id":"bk-1","date_spec":"2024-01-03","status":"absent","override":true}`))
	got := toolJSON(t, resps[0])
	if got["status"] != "absent" || got["override"] != true {
		t.Errorf("Unexpected override result %v", got)
	}

	recs := transport.Records("bk-1")
	if len(recs) != 1 || recs[0].Status != model.Absent {
		t.Errorf("Expected the record to be replaced in place, got %+v", recs)
	}
}

func TestMCPServesCachedReads(t *testing.T) {
	s, transport, _ := newTestServer(t, "2024-01-08")

	resps := exchange(t, s,
		toolCall(1, "list_bookings", `{}`),
		toolCall(2, "list_bookings", `{}`),
		toolCall(3, "service_catalog", `{}`),
		toolCall(4, "cache_stats", `{}`),
	)

	list := toolJSON(t, resps[0])
	rows := list["data"].([]interface{})
	if len(rows) != 1 {
		t.Fatalf("Expected 1 booking, got %d", len(rows))
	}
	row := rows[0].(map[string]interface{})
	if row["schedule"] != "Weekly (Mon,Wed,Fri)" || row["end_date"] != "2024-01-10" {
		t.Errorf("Unexpected booking row %v", row)
	}
	if _, stale := list["stale"]; stale {
		t.Error("Fresh read should not be flagged stale")
	}

	if got := transport.RequestsTo("GET", "bookings/mine"); got != 1 {
		t.Errorf("Expected the second list to be served from cache, got %d requests", got)
	}

	stats := toolJSON(t, resps[3])["families"].([]interface{})
	first := stats[0].(map[string]interface{})
	if first["family"] != "my_bookings" || first["hits"].(float64) != 1 || first["misses"].(float64) != 1 {
		t.Errorf("Unexpected my_bookings stats %v", first)
	}
}

func TestMCPServesLastKnownGoodOnFailure(t *testing.T) {
	s, transport, mock := newTestServer(t, "2024-01-08")

	exchange(t, s, toolCall(1, "list_bookings", `{}`))

	mock.Add(3 * time.Minute)
	transport.FailNext("bookings/mine", errors.New("connection refused"))

	resps := exchange(t, s, toolCall(2, "list_bookings", `{}`))
	got := toolJSON(t, resps[0])
	if got["stale"] != true {
		t.Fatalf("Expected stale data after a failed refetch, got %v", got)
	}
	if got["age_seconds"].(float64) != 180 {
		t.Errorf("Expected age 180s, got %v", got["age_seconds"])
	}
	if rows := got["data"].([]interface{}); len(rows) != 1 {
		t.Errorf("Expected the cached booking, got %v", rows)
	}
}

func TestMCPRefreshCache(t *testing.T) {
	s, transport, _ := newTestServer(t, "2024-01-08")

	resps := exchange(t, s,
		toolCall(1, "service_catalog", `{}`),
		toolCall(2, "refresh_cache", `{"family":"service_catalog"}`),
		toolCall(3, "service_catalog", `{}`),
		toolCall(4, "refresh_cache", `{"family":"bogus"}`),
		toolCall(5, "refresh_cache", `{}`),
	)

	if got := transport.RequestsTo("GET", "services"); got != 2 {
		t.Errorf("Expected refresh to force a refetch, got %d requests", got)
	}
	if text, isError := toolOutput(t, resps[3]); !isError || !strings.Contains(text, "unknown cache family") {
		t.Errorf("Expected unknown family error, got %q", text)
	}
	all := toolJSON(t, resps[4])["refreshed"].([]interface{})
	if len(all) != 6 {
		t.Errorf("Expected every family refreshed, got %v", all)
	}
}

func TestMCPResponseFormat(t *testing.T) {
	resp := MCPResponse{
		JSONRPC: "2.0",
		ID:      2,
		Error: &MCPError{
			Code:    -32600,
			Message: "Invalid Request",
		},
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Failed to marshal error response: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Failed to parse error response: %v", err)
	}
	if _, ok := parsed["result"]; ok {
		t.Error("Expected result to be omitted from an error response")
	}
	errorObj := parsed["error"].(map[string]interface{})
	if errorObj["code"].(float64) != -32600 {
		t.Errorf("Expected error code -32600, got %v", errorObj["code"])
	}
}

func TestMCPRunFailsWhenMetricsPortTaken(t *testing.T) {
	s, _, _ := newTestServer(t, "2024-01-08")

	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer taken.Close()

	// stdin that never delivers a line
	in, w := io.Pipe()
	defer w.Close()
	s.in = in
	s.out = io.Discard

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), taken.Addr().String()) }()

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "metrics listener") {
			t.Errorf("Expected a metrics listener error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run kept waiting on stdin after the listener failed")
	}
}

func TestMCPRunWithMetricsListener(t *testing.T) {
	s, _, _ := newTestServer(t, "2024-01-08")
	var out bytes.Buffer
	s.in = strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n")
	s.out = &out

	if err := s.Run(context.Background(), "127.0.0.1:0"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(out.String(), "cache_stats") {
		t.Errorf("Expected a tools/list reply, got %s", out.String())
	}
}

func TestMCPCalendarRejectsLongWindows(t *testing.T) {
	s, transport, _ := newTestServer(t, "2024-01-08")

	resps := exchange(t, s,
		toolCall(1, "attendance_calendar", `{"booking_id":"bk-1","days":100000000}`),
		toolCall(2, "attendance_calendar", `{"booking_id":"bk-1","from":"1900-01-01"}`),
	)
	if len(resps) != 2 {
		t.Fatalf("Expected 2 responses, got %d", len(resps))
	}
	for i, resp := range resps {
		text, isError := toolOutput(t, resp)
		if !isError || !strings.Contains(text, "too long") {
			t.Errorf("call %d: expected a window error, got %q (isError=%v)", i+1, text, isError)
		}
	}
	if got := transport.RequestsTo("GET", "bookings/bk-1/attendance"); got != 0 {
		t.Errorf("Expected no backend reads, got %d", got)
	}
}
