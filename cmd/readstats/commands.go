package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"readinghabits/internal/goals"
	"readinghabits/internal/models"
	"readinghabits/internal/reconcile"
	"readinghabits/internal/shelf"
	"readinghabits/internal/stats"
	"readinghabits/internal/storage"
	"readinghabits/internal/storage/kv"
	"readinghabits/internal/storage/sqlite"
)

func (c *cli) statsCmd() *cobra.Command {
	var breakdown bool

	cmd := &cobra.Command{
		Use:   "stats <export.csv|backup.json>",
		Short: "Print reading statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := c.location()
			if err != nil {
				return err
			}
			now, err := c.now(loc)
			if err != nil {
				return err
			}
			books, _, err := c.loadFile(args[0], loc)
			if err != nil {
				return err
			}

			st := stats.Compute(books, now)
			if c.v.GetBool("json") {
				if breakdown {
					return c.printJSON(struct {
						Stats     models.ReadingStats `json:"stats"`
						Breakdown models.Breakdown    `json:"breakdown"`
					}{st, stats.Breakdown(books)})
				}
				return c.printJSON(st)
			}

			c.printStats(st)
			if breakdown {
				c.printBreakdown(stats.Breakdown(books))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&breakdown, "breakdown", false, "include publisher, binding, length and decade breakdowns")
	return cmd
}

func (c *cli) goalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goals <export.csv|backup.json>",
		Short: "Print goal progress and a projection for the current year",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := c.location()
			if err != nil {
				return err
			}
			now, err := c.now(loc)
			if err != nil {
				return err
			}
			books, backupTargets, err := c.loadFile(args[0], loc)
			if err != nil {
				return err
			}

			targets := models.Targets{Yearly: c.v.GetInt("yearly"), Monthly: c.v.GetInt("monthly")}
			if backupTargets != nil {
				targets = goals.WithDefaults(targets, *backupTargets)
			}
			targets = goals.WithDefaults(targets, goals.DefaultTargets())

			progress := goals.Compute(books, targets, now)
			projection := goals.Project(stats.Compute(books, now), now)

			if c.v.GetBool("json") {
				return c.printJSON(struct {
					GoalProgress models.GoalProgress `json:"goalProgress"`
					Projection   models.Projection   `json:"projection"`
				}{progress, projection})
			}

			fmt.Fprintf(c.out, "Yearly:  %d/%d (%d%%)\n", progress.Yearly.Current, progress.Yearly.Target, progress.Yearly.Percentage)
			fmt.Fprintf(c.out, "Monthly: %d/%d (%d%%)\n", progress.Monthly.Current, progress.Monthly.Target, progress.Monthly.Percentage)
			fmt.Fprintf(c.out, "On pace for %d books in %d\n", projection.YearlyProjection, now.Year())
			s := projection.Suggested
			fmt.Fprintf(c.out, "Suggested yearly goals: easy %d, moderate %d, challenging %d (monthly %d)\n",
				s.Easy, s.Moderate, s.Challenging, s.Monthly)
			return nil
		},
	}

	cmd.Flags().Int("yearly", 0, "yearly target (default from backup, then 52)")
	cmd.Flags().Int("monthly", 0, "monthly target (default from backup, then 4)")
	c.v.BindPFlag("yearly", cmd.Flags().Lookup("yearly"))
	c.v.BindPFlag("monthly", cmd.Flags().Lookup("monthly"))
	return cmd
}

func (c *cli) booksCmd() *cobra.Command {
	var q shelf.Query

	cmd := &cobra.Command{
		Use:   "books <export.csv|backup.json>",
		Short: "List read books with sorting and filtering",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := c.location()
			if err != nil {
				return err
			}
			books, _, err := c.loadFile(args[0], loc)
			if err != nil {
				return err
			}

			page, err := shelf.Apply(books, q)
			if err != nil {
				return err
			}
			if c.v.GetBool("json") {
				return c.printJSON(page)
			}

			for _, b := range page.Books {
				date := "-"
				if b.IsDated() {
					date = b.DateRead.In(loc).Format("2006-01-02")
				}
				fmt.Fprintf(c.out, "%s  %s by %s  %s  %dp\n", date, b.Title, b.Author, stars(b.MyRating), b.Pages)
			}
			fmt.Fprintf(c.out, "page %d, %d of %d books\n", page.Page, len(page.Books), page.Total)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&q.SortBy, "sort", "", "sort key: dateRead, title, author, rating or pages")
	flags.StringVar(&q.Order, "order", "", "asc or desc")
	flags.StringVar(&q.Search, "search", "", "fuzzy match on title and author")
	flags.StringVar(&q.Author, "author", "", "exact author (case-insensitive)")
	flags.IntVar(&q.MinRating, "min-rating", 0, "minimum rating, 0 to 5")
	flags.IntVar(&q.Page, "page", 1, "page number")
	flags.IntVar(&q.PerPage, "per-page", shelf.DefaultPerPage, "books per page")
	return cmd
}

func (c *cli) importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <export.csv|backup.json>",
		Short: "Import a file into a local tracker store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			session, closeStore, err := c.openSession(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			// Keep the stored targets when the file carries none
			if err := session.Load(ctx); err != nil {
				return err
			}

			payload, err := filePayload(args[0])
			if err != nil {
				return err
			}
			view, err := session.ProcessNewData(ctx, payload)
			if err != nil {
				return err
			}

			if c.v.GetBool("json") {
				return c.printJSON(view)
			}
			fmt.Fprintf(c.out, "Imported %d books into %s (%s)\n",
				len(view.ReadingData), c.v.GetString("store"), session.Identity().Key)
			return nil
		},
	}
	c.storeFlags(cmd)
	return cmd
}

func (c *cli) showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the statistics saved in a local tracker store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			session, closeStore, err := c.openSession(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := session.Load(ctx); err != nil {
				return err
			}
			view := session.View()
			if c.v.GetBool("json") {
				return c.printJSON(view)
			}

			if len(view.ReadingData) == 0 {
				fmt.Fprintln(c.out, "No reading data saved.")
				return nil
			}
			c.printStats(view.Stats)
			g := view.GoalProgress
			fmt.Fprintf(c.out, "Goals: %d/%d this year, %d/%d this month\n",
				g.Yearly.Current, g.Yearly.Target, g.Monthly.Current, g.Monthly.Target)
			return nil
		},
	}
	c.storeFlags(cmd)
	return cmd
}

func (c *cli) storeFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("store", "data/tracker.pebble", "path of the local store")
	flags.String("store-type", "pebble", "local store engine: pebble or sqlite")
	flags.String("identity", storage.LocalIdentity().Key, "identity key the data is stored under")

	// import and show share these keys, so bind the running command's flags
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		return c.v.BindPFlags(cmd.Flags())
	}
}

// openSession opens the configured local store and a session over it
func (c *cli) openSession(ctx context.Context) (*reconcile.Session, func(), error) {
	loc, err := c.location()
	if err != nil {
		return nil, nil, err
	}
	now, err := c.now(loc)
	if err != nil {
		return nil, nil, err
	}

	path := c.v.GetString("store")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	var local storage.Store
	switch c.v.GetString("store-type") {
	case "pebble":
		local, err = kv.NewStore(path)
	case "sqlite":
		local, err = sqlite.NewStore(path)
	default:
		return nil, nil, fmt.Errorf("unknown store type %q: expected pebble or sqlite", c.v.GetString("store-type"))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := local.Initialize(ctx); err != nil {
		local.Close()
		return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger := c.logger()
	persistence := storage.NewPersistence(local, nil, logger)

	identity := storage.Identity{Key: c.v.GetString("identity")}
	session := reconcile.NewSession(identity, persistence,
		reconcile.WithClock(func() time.Time { return now }),
		reconcile.WithLocation(loc),
		reconcile.WithLogger(logger),
	)
	return session, func() { persistence.Close() }, nil
}

func filePayload(path string) (reconcile.Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return reconcile.JSONImport{Data: data}, nil
	}
	return reconcile.CSVUpload{Source: bytes.NewReader(data)}, nil
}

func (c *cli) printStats(st models.ReadingStats) {
	fmt.Fprintf(c.out, "Books read:      %d\n", st.TotalBooks)
	fmt.Fprintf(c.out, "Average rating:  %.2f\n", st.AverageRating)
	fmt.Fprintf(c.out, "Total pages:     %d\n", st.PageStats.TotalPages)
	fmt.Fprintf(c.out, "Average length:  %.0f pages\n", st.PageStats.AverageLength)
	if st.PageStats.LongestBook.Title != "" {
		fmt.Fprintf(c.out, "Longest book:    %s (%d pages)\n", st.PageStats.LongestBook.Title, st.PageStats.LongestBook.Pages)
	}
	fmt.Fprintf(c.out, "Pace:            %.1f books/month, %.1f pages/day\n",
		st.ReadingPace.BooksPerMonth, st.ReadingPace.PagesPerDay)
	if len(st.TopAuthors) > 0 {
		fmt.Fprintln(c.out, "Top authors:")
		for _, a := range st.TopAuthors {
			fmt.Fprintf(c.out, "  %s (%d)\n", a.Author, a.Count)
		}
	}
}

func (c *cli) printBreakdown(b models.Breakdown) {
	section := func(title string, items []models.NameCount) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(c.out, "%s:\n", title)
		for _, item := range items {
			fmt.Fprintf(c.out, "  %s (%d)\n", item.Name, item.Count)
		}
	}
	section("Publishers", b.Publishers)
	section("Bindings", b.Bindings)
	section("Length", b.PageDistribution)
	section("Decades", b.Decades)
}

func stars(rating int) string {
	if rating <= 0 {
		return "unrated"
	}
	return strings.Repeat("★", rating)
}
