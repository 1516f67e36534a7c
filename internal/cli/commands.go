package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/colthorp/bookingsync-go/internal/core"
	"github.com/colthorp/bookingsync-go/internal/model"
	"github.com/colthorp/bookingsync-go/internal/output"
)

func init() {
	// Add all subcommands
	rootCmd.AddCommand(bookingsCmd)
	rootCmd.AddCommand(bookingCmd)
	rootCmd.AddCommand(attendanceCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(markCmd)
	rootCmd.AddCommand(overviewCmd)
	rootCmd.AddCommand(analyticsCmd)
	rootCmd.AddCommand(servicesCmd)
	rootCmd.AddCommand(mcpCmd)

	// Attendance command flags
	attendanceCmd.Flags().IntP("days", "d", core.CalendarWindowDays, "Number of days to show")
	attendanceCmd.Flags().String("from", "", "Window start (date spec)")
	attendanceCmd.Flags().String("to", "", "Window end (date spec)")
	attendanceCmd.Flags().StringP("week", "w", "", "ISO week: N or YYYY-WNN")
	attendanceCmd.Flags().String("period", "", "this-week, last-week, this-month or last-month")

	// Mark command flags
	markCmd.Flags().Bool("override", false, "Replace an existing mark (admin only)")

	// MCP command flags
	mcpCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (host:port)")
}

// bookingsCmd lists the caller's bookings
var bookingsCmd = &cobra.Command{
	Use:   "bookings",
	Short: "List your bookings",
	Args:  cobra.NoArgs,
	RunE:  handleBookings,
}

// bookingCmd shows one booking
var bookingCmd = &cobra.Command{
	Use:   "booking [id]",
	Short: "Show a single booking",
	Args:  cobra.ExactArgs(1),
	RunE:  handleBooking,
}

// attendanceCmd shows the attendance calendar of a booking
var attendanceCmd = &cobra.Command{
	Use:   "attendance [booking_id]",
	Short: "Show a booking's attendance calendar",
	Long: `Show each day of a window classified as not scheduled, future, marked
or awaiting attendance. Dates accept YYYY-MM-DD, today, yesterday, M/D
and relative forms such as d-7 or w-2. --week and --period select a whole
ISO week or calendar period instead.`,
	Args: cobra.ExactArgs(1),
	RunE: handleAttendance,
}

// classifyCmd classifies a single date
var classifyCmd = &cobra.Command{
	Use:   "classify [booking_id] [date_spec]",
	Short: "Explain whether a date can be marked",
	Args:  cobra.ExactArgs(2),
	RunE:  handleClassify,
}

// markCmd records attendance
var markCmd = &cobra.Command{
	Use:       "mark [booking_id] [date_spec] [present|absent]",
	Short:     "Mark attendance for a day",
	Args:      cobra.ExactArgs(3),
	ValidArgs: []string{"present", "absent"},
	RunE:      handleMark,
}

// overviewCmd shows the attendance overview
var overviewCmd = &cobra.Command{
	Use:   "overview",
	Short: "Attendance totals across bookings",
	Args:  cobra.NoArgs,
	RunE:  handleOverview,
}

// analyticsCmd shows the analytics snapshot
var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Booking and attendance analytics",
	Args:  cobra.NoArgs,
	RunE:  handleAnalytics,
}

// servicesCmd lists the service catalog
var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "List the service catalog",
	Args:  cobra.NoArgs,
	RunE:  handleServices,
}

// mcpCmd starts the MCP server
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for AI integration",
	Args:  cobra.NoArgs,
	RunE:  handleMCP,
}

func warnStale(st staleness, what string) {
	if msg := st.notice(what); msg != "" {
		core.ProgressPrint("Warning: "+msg, quiet)
	}
}

func handleBookings(cmd *cobra.Command, args []string) error {
	bookings, st, err := loadBookings(cmd.Context(), manager)
	if err != nil {
		return err
	}
	warnStale(st, "bookings")
	return printer.Bookings(bookings)
}

func handleBooking(cmd *cobra.Command, args []string) error {
	b, err := manager.Booking(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printer.Bookings([]model.Booking{b})
}

func handleAttendance(cmd *cobra.Command, args []string) error {
	var spec windowSpec
	spec.Days, _ = cmd.Flags().GetInt("days")
	spec.From, _ = cmd.Flags().GetString("from")
	spec.To, _ = cmd.Flags().GetString("to")
	spec.Week, _ = cmd.Flags().GetString("week")
	spec.Period, _ = cmd.Flags().GetString("period")

	from, to, err := calendarWindow(manager.Engine(), spec)
	if err != nil {
		return err
	}

	core.ProgressPrint(fmt.Sprintf("Attendance for %s from %s to %s…", args[0], core.FormatDate(from), core.FormatDate(to)), quiet || printer.Format() != output.FormatText)

	view, st, err := buildCalendar(cmd.Context(), manager, args[0], from, to)
	if err != nil {
		return err
	}
	warnStale(st, "attendance")
	return printer.Calendar(view)
}

func handleClassify(cmd *cobra.Command, args []string) error {
	date, err := core.ParseDateSpec(args[1], manager.Engine().Today())
	if err != nil {
		return err
	}
	c, detail, err := manager.Classify(cmd.Context(), args[0], date)
	if err != nil {
		return err
	}
	return printer.Classification(detail.Booking, c)
}

func handleMark(cmd *cobra.Command, args []string) error {
	override, _ := cmd.Flags().GetBool("override")

	date, err := core.ParseDateSpec(args[1], manager.Engine().Today())
	if err != nil {
		return err
	}
	status, err := model.ParseStatus(args[2])
	if err != nil {
		return err
	}
	by, err := actor(cfg)
	if err != nil {
		return err
	}

	rec, err := writeAttendance(cmd.Context(), manager, model.AttendanceMark{
		BookingID: args[0],
		Date:      date,
		Status:    status,
		MarkedBy:  by,
	}, override)
	if err != nil {
		return err
	}
	return printer.Record(rec)
}

func handleOverview(cmd *cobra.Command, args []string) error {
	ov, st, err := loadOverview(cmd.Context(), manager)
	if err != nil {
		return err
	}
	warnStale(st, "attendance overview")
	return printer.Overview(ov)
}

func handleAnalytics(cmd *cobra.Command, args []string) error {
	snap, st, err := loadAnalytics(cmd.Context(), manager)
	if err != nil {
		return err
	}
	warnStale(st, "analytics")
	return printer.Analytics(snap)
}

func handleServices(cmd *cobra.Command, args []string) error {
	catalog, st, err := loadCatalog(cmd.Context(), manager)
	if err != nil {
		return err
	}
	warnStale(st, "service catalog")
	return printer.Catalog(catalog)
}

func handleMCP(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("metrics-addr")
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	by, err := actor(cfg)
	if err != nil {
		return err
	}
	server := newMCPServer(manager, by, os.Stdin, stdout)
	return server.Run(cmd.Context(), addr)
}
