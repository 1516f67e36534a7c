// Package cli implements the bookingsync command-line interface and its MCP
// tool server.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/facebookgo/clock"
	"github.com/spf13/cobra"

	"github.com/colthorp/bookingsync-go/internal/api"
	"github.com/colthorp/bookingsync-go/internal/attendance"
	"github.com/colthorp/bookingsync-go/internal/cache"
	"github.com/colthorp/bookingsync-go/internal/config"
	"github.com/colthorp/bookingsync-go/internal/core"
	"github.com/colthorp/bookingsync-go/internal/logging"
	"github.com/colthorp/bookingsync-go/internal/model"
	"github.com/colthorp/bookingsync-go/internal/output"
)

// Global flags
var (
	verbose      bool
	quiet        bool
	raw          bool
	noColor      bool
	outputFormat string
	configPath   string
	timezone     string
	role         string
	actorName    string
)

// State built once per invocation by setup.
var (
	cfg     *config.Config
	manager *cache.Manager
	printer *output.Printer
)

// stdout receives command output.
var stdout io.Writer = os.Stdout

// newTransport builds the HTTP transport from configuration. Tests swap it
// for an in-memory backend.
var newTransport = func(c *config.Config) api.Transport {
	return api.NewClient(api.ClientConfig{
		BaseURL:    c.API.BaseURL,
		Token:      c.API.Token,
		Timeout:    c.API.Timeout,
		MaxRetries: c.API.MaxRetries,
		RateLimit:  c.API.RateLimit,
		RateBurst:  c.API.RateBurst,
	})
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bookingsync",
	Short: "bookingsync – bookings and attendance from the terminal",
	Long: `A command-line client for the booking marketplace API.

Reads are served from a per-process cache with per-family TTLs; attendance
writes are checked locally against the booking schedule before they are sent.`,
	Version:           core.Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	// Persistent flags available to all commands
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose debug logging to stderr")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress progress and stale-data notices")
	rootCmd.PersistentFlags().BoolVar(&raw, "raw", false, "Emit raw JSON (same as --output json)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json or yaml")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", fmt.Sprintf("Config file (default: $%s or ./bookingsync.yaml)", config.ConfigPathEnvVar))
	rootCmd.PersistentFlags().StringVar(&timezone, "timezone", "", fmt.Sprintf("Timezone that decides what \"today\" is (default: %s)", core.DefaultTZ))
	rootCmd.PersistentFlags().StringVar(&role, "role", "", "Acting role: worker, customer or admin")
	rootCmd.PersistentFlags().StringVar(&actorName, "as", "", "Name recorded on attendance marks")
}

// setup loads configuration, applies flag overrides and builds the shared
// manager and printer.
func setup(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(c)
	if err := c.Validate(); err != nil {
		return err
	}

	logging.Init(logging.Config{Level: c.Logging.Level, Format: c.Logging.Format})

	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	if raw {
		format = output.FormatJSON
	}

	cfg = c
	manager = newManager(c, newTransport(c), clock.New())
	printer = output.NewPrinter(stdout, format, !noColor)

	ctx := logging.ContextWithNewCorrelationID(cmd.Context())
	cmd.SetContext(ctx)
	logging.Ctx(ctx).Debug().
		Str("command", cmd.Name()).
		Str("config", c.Path).
		Str("role", c.Role).
		Str("timezone", c.Timezone).
		Msg("bookingsync starting")
	return nil
}

func applyFlagOverrides(c *config.Config) {
	if timezone != "" {
		c.Timezone = timezone
	}
	if role != "" {
		c.Role = role
	}
	if verbose {
		c.Logging.Level = "debug"
	} else if quiet {
		c.Logging.Level = "error"
	}
}

// newManager wires the cache over transport with TTLs and timezone from c.
func newManager(c *config.Config, transport api.Transport, clk clock.Clock) *cache.Manager {
	engine := attendance.NewEngine(clk, core.GetTZ(c.Timezone))
	return cache.NewManager(api.NewBookingAPI(transport), cache.Options{
		TTLs: cache.TTLs{
			MyBookings:         c.Cache.MyBookingsTTL,
			AttendanceDetail:   c.Cache.AttendanceDetailTTL,
			AttendanceOverview: c.Cache.AttendanceOverviewTTL,
			Analytics:          c.Cache.AnalyticsTTL,
			ServiceCatalog:     c.Cache.ServiceCatalogTTL,
		},
		Clock:  clk,
		Engine: engine,
	})
}

// actor is who attendance writes are recorded as.
func actor(c *config.Config) (model.MarkedBy, error) {
	r, err := model.ParseRole(c.Role)
	if err != nil {
		return model.MarkedBy{}, err
	}
	name := actorName
	if name == "" {
		name = os.Getenv("USER")
	}
	return model.MarkedBy{Role: r, Name: name}, nil
}
