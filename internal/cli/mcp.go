package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/colthorp/bookingsync-go/internal/attendance"
	"github.com/colthorp/bookingsync-go/internal/cache"
	"github.com/colthorp/bookingsync-go/internal/core"
	"github.com/colthorp/bookingsync-go/internal/logging"
	"github.com/colthorp/bookingsync-go/internal/metrics"
	"github.com/colthorp/bookingsync-go/internal/model"
)

// MCP Protocol types
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type MCPToolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type MCPInitializeResult struct {
	ProtocolVersion string        `json:"protocolVersion"`
	ServerInfo      MCPServerInfo `json:"serverInfo"`
	Capabilities    interface{}   `json:"capabilities"`
}

// CalendarParams are the parameters for the attendance_calendar tool
type CalendarParams struct {
	BookingID string `json:"booking_id"`
	Days      int    `json:"days"`
	From      string `json:"from"`
	To        string `json:"to"`
	Week      string `json:"week"`
	Period    string `json:"period"`
}

// ClassifyParams are the parameters for the classify_date tool
type ClassifyParams struct {
	BookingID string `json:"booking_id"`
	DateSpec  string `json:"date_spec"`
}

// MarkParams are the parameters for the mark_attendance tool
type MarkParams struct {
	BookingID string `json:"booking_id"`
	DateSpec  string `json:"date_spec"`
	Status    string `json:"status"`
	Override  bool   `json:"override"`
	Name      string `json:"name"`
}

// RefreshParams are the parameters for the refresh_cache tool
type RefreshParams struct {
	Family string `json:"family"`
}

// mcpServer answers JSON-RPC requests read line by line. One manager is
// shared by every tool call, so reads are cached across calls.
type mcpServer struct {
	manager *cache.Manager
	actor   model.MarkedBy
	in      io.Reader

	mu  sync.Mutex
	out io.Writer
}

func newMCPServer(m *cache.Manager, actor model.MarkedBy, in io.Reader, out io.Writer) *mcpServer {
	return &mcpServer{manager: m, actor: actor, in: in, out: out}
}

// Run serves stdio until EOF. When metricsAddr is set, Prometheus metrics
// are exposed there for the lifetime of the server.
func (s *mcpServer) Run(ctx context.Context, metricsAddr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		// Bind before reading stdin so a taken port fails the command.
		ln, err := net.Listen("tcp", metricsAddr)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}

		g.Go(func() error {
			logging.Info().Str("addr", ln.Addr().String()).Msg("metrics listener started")
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer cancel()
		return s.serve(gctx)
	})

	return g.Wait()
}

// serve reads one request per line until EOF or ctx is done.
func (s *mcpServer) serve(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	// Increase buffer size for large messages
	const maxCapacity = 10 * 1024 * 1024 // 10MB
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, maxCapacity)

	log := logging.Component("mcp")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req MCPRequest
		if err := json.Unmarshal(line, &req); err != nil {
			// Without an ID there is nothing to reply to; a response with
			// id: null confuses clients.
			log.Warn().Err(err).Msg("parse error")
			continue
		}

		s.handle(logging.ContextWithNewCorrelationID(ctx), &req)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}
	return nil
}

func (s *mcpServer) handle(ctx context.Context, req *MCPRequest) {
	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "initialized", "notifications/initialized":
		// Notifications don't get responses
		return
	case "tools/list":
		s.sendResponse(req.ID, map[string]interface{}{"tools": toolList()})
	case "tools/call":
		s.handleToolsCall(ctx, req)
	default:
		// Notifications (no ID) are silently ignored per JSON-RPC
		if req.ID != nil {
			s.sendError(req.ID, -32601, "Method not found", req.Method)
		}
	}
}

func (s *mcpServer) handleInitialize(req *MCPRequest) {
	s.sendResponse(req.ID, MCPInitializeResult{
		ProtocolVersion: "2024-11-05",
		ServerInfo: MCPServerInfo{
			Name:    "bookingsync",
			Version: core.Version,
		},
		Capabilities: map[string]interface{}{
			"tools": map[string]interface{}{},
		},
	})
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

const dateSpecHelp = "Date: YYYY-MM-DD, today, yesterday, M/D, or relative (d-7, w-1)"

func toolList() []MCPToolInfo {
	return []MCPToolInfo{
		{
			Name:        "list_bookings",
			Description: "List the caller's bookings with schedule, dates and assigned worker.",
			InputSchema: objectSchema(map[string]interface{}{}),
		},
		{
			Name:        "attendance_calendar",
			Description: "Classify every day of a window for one booking as out_of_schedule, future_date, already_marked or markable, with present/absent totals and the days still awaiting attendance.",
			InputSchema: objectSchema(map[string]interface{}{
				"booking_id": stringProp("Booking ID"),
				"days": map[string]interface{}{
					"type":        "integer",
					"description": "Window length ending today (or at 'to')",
					"default":     core.CalendarWindowDays,
				},
				"from": stringProp("Window start. " + dateSpecHelp),
				"to":   stringProp("Window end. " + dateSpecHelp),
				"week": stringProp("ISO week instead of from/to: N or YYYY-WNN"),
				"period": map[string]interface{}{
					"type": "string",
					"enum": []string{"today", "yesterday", "this-week", "last-week", "this-month", "last-month"},
				},
			}, "booking_id"),
		},
		{
			Name:        "classify_date",
			Description: "Explain whether attendance can be marked for one booking on one date.",
			InputSchema: objectSchema(map[string]interface{}{
				"booking_id": stringProp("Booking ID"),
				"date_spec":  stringProp(dateSpecHelp),
			}, "booking_id", "date_spec"),
		},
		{
			Name:        "mark_attendance",
			Description: "Mark a day present or absent. Only markable days are accepted unless override is set, which requires the admin role.",
			InputSchema: objectSchema(map[string]interface{}{
				"booking_id": stringProp("Booking ID"),
				"date_spec":  stringProp(dateSpecHelp),
				"status": map[string]interface{}{
					"type": "string",
					"enum": []string{string(model.Present), string(model.Absent)},
				},
				"override": map[string]interface{}{
					"type":        "boolean",
					"description": "Replace an existing mark (admin only)",
					"default":     false,
				},
				"name": stringProp("Name recorded on the mark"),
			}, "booking_id", "date_spec", "status"),
		},
		{
			Name:        "attendance_overview",
			Description: "Present and absent totals for every booking.",
			InputSchema: objectSchema(map[string]interface{}{}),
		},
		{
			Name:        "analytics",
			Description: "Booking counts by service and frequency, attendance totals and revenue.",
			InputSchema: objectSchema(map[string]interface{}{}),
		},
		{
			Name:        "service_catalog",
			Description: "Services offered with base prices and supported frequencies.",
			InputSchema: objectSchema(map[string]interface{}{}),
		},
		{
			Name:        "cache_stats",
			Description: "Entry counts, hits, misses and fetches for each cached entity family.",
			InputSchema: objectSchema(map[string]interface{}{}),
		},
		{
			Name:        "refresh_cache",
			Description: "Drop cached entries so the next read goes to the backend. Without a family every family is cleared.",
			InputSchema: objectSchema(map[string]interface{}{
				"family": map[string]interface{}{
					"type": "string",
					"enum": cache.Families,
				},
			}),
		},
	}
}

func (s *mcpServer) handleToolsCall(ctx context.Context, req *MCPRequest) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(req.ID, -32602, "Invalid params", err.Error())
		return
	}

	logging.Ctx(ctx).Debug().Str("component", "mcp").Str("tool", params.Name).Msg("tool call")

	var (
		result interface{}
		err    error
	)
	switch params.Name {
	case "list_bookings":
		result, err = s.listBookings(ctx)
	case "attendance_calendar":
		result, err = s.calendar(ctx, params.Arguments)
	case "classify_date":
		result, err = s.classify(ctx, params.Arguments)
	case "mark_attendance":
		result, err = s.mark(ctx, params.Arguments)
	case "attendance_overview":
		result, err = staleResult(loadOverview(ctx, s.manager))
	case "analytics":
		result, err = staleResult(loadAnalytics(ctx, s.manager))
	case "service_catalog":
		result, err = staleResult(loadCatalog(ctx, s.manager))
	case "cache_stats":
		result = map[string]interface{}{"families": s.manager.Stats()}
	case "refresh_cache":
		result, err = s.refresh(params.Arguments)
	default:
		s.sendError(req.ID, -32602, "Unknown tool", params.Name)
		return
	}

	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("component", "mcp").Str("tool", params.Name).Msg("tool failed")
		s.sendToolError(req.ID, err.Error())
		return
	}
	s.sendToolResult(req.ID, result)
}

func decodeArgs(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// staleResult wraps a value with its staleness for tool output.
func staleResult[V any](v V, st staleness, err error) (interface{}, error) {
	if err != nil {
		return nil, err
	}
	result := map[string]interface{}{"data": v}
	if st.Stale {
		result["stale"] = true
		result["age_seconds"] = int(st.Age.Seconds())
	}
	return result, nil
}

func (s *mcpServer) listBookings(ctx context.Context) (interface{}, error) {
	bookings, st, err := loadBookings(ctx, s.manager)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]interface{}, 0, len(bookings))
	for _, b := range bookings {
		rows = append(rows, map[string]interface{}{
			"id":            b.ID,
			"service_type":  b.ServiceType,
			"customer_name": b.CustomerName,
			"schedule":      b.Schedule(),
			"start_date":    optionalDate(b.StartDate),
			"end_date":      optionalDatePtr(b.EndDate),
			"is_active":     b.IsActive,
			"worker":        b.WorkerName(),
		})
	}
	return staleResult(rows, st, nil)
}

func (s *mcpServer) calendar(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	args := CalendarParams{Days: core.CalendarWindowDays}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.BookingID == "" {
		return nil, errors.New("booking_id is required")
	}

	from, to, err := calendarWindow(s.manager.Engine(), windowSpec{
		Days:   args.Days,
		From:   args.From,
		To:     args.To,
		Week:   args.Week,
		Period: args.Period,
	})
	if err != nil {
		return nil, err
	}
	view, st, err := buildCalendar(ctx, s.manager, args.BookingID, from, to)
	if err != nil {
		return nil, err
	}

	days := make([]map[string]interface{}, 0, len(view.Days))
	for _, c := range view.Days {
		days = append(days, classificationMap(c))
	}
	markable := make([]string, len(view.Markable))
	for i, d := range view.Markable {
		markable[i] = core.FormatDate(d)
	}

	result := map[string]interface{}{
		"booking_id":   view.Booking.ID,
		"schedule":     view.Booking.Schedule(),
		"today":        core.FormatDate(view.Today),
		"from":         core.FormatDate(from),
		"to":           core.FormatDate(to),
		"days":         days,
		"present_days": view.PresentDays,
		"absent_days":  view.AbsentDays,
		"markable":     markable,
	}
	if st.Stale {
		result["stale"] = true
		result["age_seconds"] = int(st.Age.Seconds())
	}
	return result, nil
}

func (s *mcpServer) classify(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var args ClassifyParams
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.BookingID == "" || args.DateSpec == "" {
		return nil, errors.New("booking_id and date_spec are required")
	}

	date, err := core.ParseDateSpec(args.DateSpec, s.manager.Engine().Today())
	if err != nil {
		return nil, err
	}
	c, _, err := s.manager.Classify(ctx, args.BookingID, date)
	if err != nil {
		return nil, err
	}
	result := classificationMap(c)
	result["booking_id"] = args.BookingID
	return result, nil
}

func (s *mcpServer) mark(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var args MarkParams
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.BookingID == "" || args.DateSpec == "" {
		return nil, errors.New("booking_id and date_spec are required")
	}

	date, err := core.ParseDateSpec(args.DateSpec, s.manager.Engine().Today())
	if err != nil {
		return nil, err
	}
	status, err := model.ParseStatus(args.Status)
	if err != nil {
		return nil, err
	}
	by := s.actor
	if args.Name != "" {
		by.Name = args.Name
	}

	rec, err := writeAttendance(ctx, s.manager, model.AttendanceMark{
		BookingID: args.BookingID,
		Date:      date,
		Status:    status,
		MarkedBy:  by,
	}, args.Override)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"booking_id": rec.BookingID,
		"date":       core.FormatDate(rec.Date),
		"status":     string(rec.Status),
		"marked_by":  rec.MarkedBy,
		"override":   args.Override,
	}, nil
}

func (s *mcpServer) refresh(raw json.RawMessage) (interface{}, error) {
	var args RefreshParams
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Family == "" {
		s.manager.InvalidateAll()
		return map[string]interface{}{"refreshed": cache.Families}, nil
	}
	if err := s.manager.Refresh(args.Family); err != nil {
		return nil, err
	}
	return map[string]interface{}{"refreshed": []string{args.Family}}, nil
}

func classificationMap(c attendance.Classification) map[string]interface{} {
	m := map[string]interface{}{
		"date":        core.FormatDate(c.Date),
		"weekday":     c.Date.Weekday().String()[:3],
		"state":       c.State.String(),
		"description": c.Describe(),
		"actions":     c.Actions(),
	}
	if status, ok := c.Status(); ok {
		m["status"] = string(status)
	}
	return m
}

func optionalDate(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return core.FormatDate(t)
}

func optionalDatePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return core.FormatDate(*t)
}

func (s *mcpServer) write(resp MCPResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		logging.Error().Err(err).Str("component", "mcp").Msg("encode response")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, string(data))
}

func (s *mcpServer) sendResponse(id interface{}, result interface{}) {
	s.write(MCPResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *mcpServer) sendError(id interface{}, code int, message, data string) {
	s.write(MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}

func (s *mcpServer) sendToolResult(id interface{}, result interface{}) {
	s.sendResponse(id, map[string]interface{}{
		"content": []map[string]interface{}{
			{
				"type": "text",
				"text": mustMarshal(result),
			},
		},
	})
}

func (s *mcpServer) sendToolError(id interface{}, message string) {
	s.sendResponse(id, map[string]interface{}{
		"content": []map[string]interface{}{
			{
				"type": "text",
				"text": message,
			},
		},
		"isError": true,
	})
}

func mustMarshal(v interface{}) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return string(data)
}

