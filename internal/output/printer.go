package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/colthorp/bookingsync-go/internal/attendance"
	"github.com/colthorp/bookingsync-go/internal/core"
	"github.com/colthorp/bookingsync-go/internal/model"
)

type styles struct {
	header    lipgloss.Style
	title     lipgloss.Style
	present   lipgloss.Style
	absent    lipgloss.Style
	markable  lipgloss.Style
	muted     lipgloss.Style
	highlight lipgloss.Style
}

func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{plain, plain, plain, plain, plain, plain, plain}
	}
	return styles{
		header:    lipgloss.NewStyle().Bold(true).Underline(true),
		title:     lipgloss.NewStyle().Bold(true),
		present:   lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		absent:    lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		markable:  lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		muted:     lipgloss.NewStyle().Faint(true),
		highlight: lipgloss.NewStyle().Reverse(true),
	}
}

// Printer renders domain results in one format.
type Printer struct {
	w      io.Writer
	format Format
	st     styles
}

// NewPrinter creates a printer writing to w. color enables lipgloss styling
// of text output; structured formats are never styled.
func NewPrinter(w io.Writer, format Format, color bool) *Printer {
	return &Printer{w: w, format: format, st: newStyles(color && format == FormatText)}
}

// Format returns the printer's format.
func (p *Printer) Format() Format {
	return p.format
}

// Data writes v in the structured format, or as JSON for text.
func (p *Printer) Data(v interface{}) error {
	if p.format == FormatYAML {
		return PrintYAML(p.w, v)
	}
	return PrintJSON(p.w, v)
}

// table writes left-aligned columns sized to their widest cell.
func (p *Printer) table(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	line := func(cells []string, style func(int, string) string) {
		parts := make([]string, len(cells))
		for i, c := range cells {
			rendered := style(i, c)
			if i < len(cells)-1 {
				rendered += strings.Repeat(" ", widths[i]-lipgloss.Width(c)+2)
			}
			parts[i] = rendered
		}
		fmt.Fprintln(p.w, strings.TrimRight(strings.Join(parts, ""), " "))
	}

	line(headers, func(_ int, c string) string { return p.st.header.Render(c) })
	for _, row := range rows {
		line(row, func(_ int, c string) string { return c })
	}
}

// Bookings prints the booking list.
func (p *Printer) Bookings(bookings []model.Booking) error {
	if p.format != FormatText {
		return p.Data(bookings)
	}
	if len(bookings) == 0 {
		fmt.Fprintln(p.w, p.st.muted.Render("No bookings."))
		return nil
	}

	rows := make([][]string, 0, len(bookings))
	for _, b := range bookings {
		rows = append(rows, []string{b.ID, b.ServiceType, b.Schedule(), dateRange(b), b.WorkerName(), activeLabel(b.IsActive)})
	}
	p.table([]string{"ID", "SERVICE", "SCHEDULE", "DATES", "WORKER", "ACTIVE"}, rows)
	return nil
}

// CalendarView is the attendance calendar for one booking.
type CalendarView struct {
	Booking     model.Booking               `json:"booking" yaml:"booking"`
	Today       time.Time                   `json:"today" yaml:"today"`
	Days        []attendance.Classification `json:"days" yaml:"days"`
	PresentDays int                         `json:"presentDays" yaml:"present_days"`
	AbsentDays  int                         `json:"absentDays" yaml:"absent_days"`
	Markable    []time.Time                 `json:"markable" yaml:"markable"`
}

// Calendar prints a classified window of days with tallies.
func (p *Printer) Calendar(v CalendarView) error {
	if p.format != FormatText {
		return p.Data(v)
	}

	b := v.Booking
	fmt.Fprintln(p.w, p.st.title.Render(fmt.Sprintf("Booking %s: %s, %s, %s", b.ID, b.ServiceType, b.Schedule(), dateRange(b))))
	fmt.Fprintf(p.w, "Worker: %s\n\n", b.WorkerName())

	rows := make([][]string, 0, len(v.Days))
	for _, c := range v.Days {
		date := core.FormatDate(c.Date)
		if c.Date.Equal(v.Today) {
			date = p.st.highlight.Render(date)
		}
		rows = append(rows, []string{date, c.Date.Weekday().String()[:3], p.stateLabel(c)})
	}
	p.table([]string{"DATE", "DAY", "STATUS"}, rows)

	fmt.Fprintf(p.w, "\n%s  %s\n",
		p.st.present.Render(fmt.Sprintf("Present: %d", v.PresentDays)),
		p.st.absent.Render(fmt.Sprintf("Absent: %d", v.AbsentDays)))
	if len(v.Markable) > 0 {
		fmt.Fprintf(p.w, "Awaiting attendance: %d day(s), oldest %s\n", len(v.Markable), core.FormatDate(v.Markable[0]))
	}
	return nil
}

func (p *Printer) stateLabel(c attendance.Classification) string {
	switch c.State {
	case attendance.AlreadyMarked:
		if status, _ := c.Status(); status == model.Absent {
			return p.st.absent.Render(c.Describe())
		}
		return p.st.present.Render(c.Describe())
	case attendance.Markable:
		return p.st.markable.Render(c.Describe())
	default:
		return p.st.muted.Render(c.Describe())
	}
}

// Classification prints the verdict for one date.
func (p *Printer) Classification(b model.Booking, c attendance.Classification) error {
	if p.format != FormatText {
		return p.Data(struct {
			BookingID string                    `json:"bookingId" yaml:"booking_id"`
			Result    attendance.Classification `json:"result" yaml:"result"`
			Actions   []model.Status            `json:"actions" yaml:"actions"`
		}{b.ID, c, c.Actions()})
	}

	fmt.Fprintf(p.w, "%s %s: %s\n", b.ID, core.FormatDate(c.Date), p.stateLabel(c))
	if actions := c.Actions(); len(actions) > 0 {
		names := make([]string, len(actions))
		for i, a := range actions {
			names[i] = string(a)
		}
		fmt.Fprintf(p.w, "Available: mark %s\n", strings.Join(names, " | "))
	}
	return nil
}

// Record prints a written attendance record.
func (p *Printer) Record(r model.AttendanceRecord) error {
	if p.format != FormatText {
		return p.Data(r)
	}
	style := p.st.present
	if r.Status == model.Absent {
		style = p.st.absent
	}
	fmt.Fprintf(p.w, "%s %s: %s (by %s)\n", r.BookingID, core.FormatDate(r.Date), style.Render(string(r.Status)), r.MarkedBy.Role)
	return nil
}

// Overview prints the attendance overview.
func (p *Printer) Overview(ov model.AttendanceOverview) error {
	if p.format != FormatText {
		return p.Data(ov)
	}
	rows := make([][]string, 0, len(ov.Rows))
	for _, r := range ov.Rows {
		last := "-"
		if r.LastMarked != nil {
			last = core.FormatDate(*r.LastMarked)
		}
		rows = append(rows, []string{
			r.BookingID, r.CustomerName, r.WorkerName, r.ServiceType, r.Frequency.Label(),
			p.st.present.Render(fmt.Sprint(r.PresentDays)), p.st.absent.Render(fmt.Sprint(r.AbsentDays)), last,
		})
	}
	p.table([]string{"BOOKING", "CUSTOMER", "WORKER", "SERVICE", "FREQUENCY", "PRESENT", "ABSENT", "LAST MARKED"}, rows)
	return nil
}

// Analytics prints the analytics snapshot.
func (p *Printer) Analytics(s model.AnalyticsSnapshot) error {
	if p.format != FormatText {
		return p.Data(s)
	}
	fmt.Fprintln(p.w, p.st.title.Render("Bookings"))
	fmt.Fprintf(p.w, "  total %d, active %d\n", s.TotalBookings, s.ActiveBookings)
	fmt.Fprintf(p.w, "  by service:   %s\n", countsLine(s.ByService))
	fmt.Fprintf(p.w, "  by frequency: %s\n", countsLine(s.ByFrequency))
	fmt.Fprintln(p.w, p.st.title.Render("Attendance"))
	fmt.Fprintf(p.w, "  %s  %s\n", p.st.present.Render(fmt.Sprintf("present %d", s.PresentDays)), p.st.absent.Render(fmt.Sprintf("absent %d", s.AbsentDays)))
	fmt.Fprintln(p.w, p.st.title.Render("Revenue"))
	fmt.Fprintf(p.w, "  %.2f %s\n", s.Revenue, s.Currency)
	return nil
}

// Catalog prints the service catalog.
func (p *Printer) Catalog(c model.ServiceCatalog) error {
	if p.format != FormatText {
		return p.Data(c)
	}
	rows := make([][]string, 0, len(c.Services))
	for _, s := range c.Services {
		freqs := make([]string, len(s.Frequencies))
		for i, f := range s.Frequencies {
			freqs[i] = f.Label()
		}
		rows = append(rows, []string{s.Type, s.Name, fmt.Sprintf("%.2f %s", s.BasePrice, c.Currency), strings.Join(freqs, ", ")})
	}
	p.table([]string{"TYPE", "NAME", "BASE PRICE", "FREQUENCIES"}, rows)
	return nil
}

// StaleNotice describes a last-known-good value served after a failed fetch.
func StaleNotice(what string, age time.Duration) string {
	return fmt.Sprintf("showing cached %s from %s ago", what, age.Truncate(time.Second))
}

func dateRange(b model.Booking) string {
	if !b.HasStartDate() {
		return "no start date"
	}
	end := "open"
	if b.EndDate != nil {
		end = core.FormatDate(*b.EndDate)
	}
	return fmt.Sprintf("%s to %s", core.FormatDate(b.StartDate), end)
}

func activeLabel(active bool) string {
	if active {
		return "yes"
	}
	return "no"
}

func countsLine(m map[string]int) string {
	if len(m) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, m[k])
	}
	return strings.Join(parts, " ")
}
