package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"readinghabits/internal/app"
	"readinghabits/internal/goodreads"
	"readinghabits/internal/models"
	"readinghabits/internal/reconcile"
)

// cli carries the configuration shared by every subcommand
type cli struct {
	v   *viper.Viper
	out io.Writer
}

// newRootCmd builds the command tree around v. Flags are bound to v and
// may also be set through READSTATS_* environment variables.
func newRootCmd(v *viper.Viper) *cobra.Command {
	c := &cli{v: v}

	rootCmd := &cobra.Command{
		Use:   "readstats",
		Short: "Reading statistics from Goodreads exports",
		Long: `readstats computes reading statistics and goal progress from a Goodreads
library export (.csv) or a tracker backup (.json), and can import either
into a local tracker store.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c.out = cmd.OutOrStdout()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("timezone", "Local", "IANA time zone for calendar buckets and CSV dates")
	flags.String("now", "", "evaluate as of this date (YYYY-MM-DD or RFC 3339) instead of the current time")
	flags.Bool("json", false, "print JSON instead of text")
	flags.String("log-level", "warn", "log level: debug, info, warn or error")

	v.SetEnvPrefix("READSTATS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.BindPFlag("timezone", flags.Lookup("timezone"))
	v.BindPFlag("now", flags.Lookup("now"))
	v.BindPFlag("json", flags.Lookup("json"))
	v.BindPFlag("log-level", flags.Lookup("log-level"))

	rootCmd.AddCommand(
		c.statsCmd(),
		c.goalsCmd(),
		c.booksCmd(),
		c.importCmd(),
		c.showCmd(),
	)
	return rootCmd
}

func (c *cli) logger() *zap.Logger {
	logger, err := app.NewLogger(c.v.GetString("log-level"), "console")
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func (c *cli) location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.v.GetString("timezone"))
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}
	return loc, nil
}

// now returns the evaluation time in loc
func (c *cli) now(loc *time.Location) (time.Time, error) {
	value := c.v.GetString("now")
	if value == "" {
		return time.Now().In(loc), nil
	}
	if t, err := time.ParseInLocation("2006-01-02", value, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --now %q: expected YYYY-MM-DD or RFC 3339", value)
	}
	return t.In(loc), nil
}

// loadFile reads a CSV export or a JSON backup
func (c *cli) loadFile(path string, loc *time.Location) ([]models.ReadBook, *models.Targets, error) {
	logger := c.logger()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		imp, err := reconcile.DecodeImport(data, loc, logger)
		if err != nil {
			return nil, nil, err
		}
		return imp.Books, imp.Targets, nil
	}

	result, err := goodreads.ParseFile(path, goodreads.Options{Location: loc, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	if result.Skipped > 0 {
		logger.Warn("Skipped malformed rows", zap.Int("skipped", result.Skipped))
	}
	return result.Books, nil, nil
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
