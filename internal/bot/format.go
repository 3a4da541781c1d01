package bot

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"readinghabits/internal/goodreads"
	"readinghabits/internal/models"
	"readinghabits/internal/reconcile"
)

const noDataText = "No reading data yet. Send your Goodreads library export (CSV) to get started."

// formatStats renders the statistics part of a view
func formatStats(view reconcile.View, now time.Time) string {
	st := view.Stats
	if st.TotalBooks == 0 {
		return noDataText
	}

	var text strings.Builder
	text.WriteString("📊 Reading statistics\n\n")
	fmt.Fprintf(&text, "Books read: %d\n", st.TotalBooks)
	fmt.Fprintf(&text, "This year: %d\n", st.ReadingByYear[strconv.Itoa(now.Year())])
	fmt.Fprintf(&text, "Average rating: %.1f\n", st.AverageRating)
	fmt.Fprintf(&text, "Pace: %.1f books/month, %.1f pages/day\n",
		st.ReadingPace.BooksPerMonth, st.ReadingPace.PagesPerDay)
	fmt.Fprintf(&text, "Pages read: %d (average %.0f per book)\n",
		st.PageStats.TotalPages, st.PageStats.AverageLength)
	if st.PageStats.LongestBook.Pages > 0 {
		fmt.Fprintf(&text, "Longest: %s (%d pages)\n", st.PageStats.LongestBook.Title, st.PageStats.LongestBook.Pages)
	}

	if len(st.TopAuthors) > 0 {
		text.WriteString("\nTop authors:\n")
		for i, a := range st.TopAuthors {
			fmt.Fprintf(&text, "%d. %s (%d)\n", i+1, a.Author, a.Count)
		}
	}

	if undated := st.TotalBooks - st.ReadingPace.BooksPerYear; undated > 0 {
		fmt.Fprintf(&text, "\n%d books have no read date and are left out of the timeline.\n", undated)
	}
	return text.String()
}

// formatGoals renders goal progress and the year's projection
func formatGoals(progress models.GoalProgress, projection models.Projection) string {
	var text strings.Builder
	text.WriteString("🎯 Goal progress\n\n")
	fmt.Fprintf(&text, "Yearly: %d/%d (%d%%)\n", progress.Yearly.Current, progress.Yearly.Target, progress.Yearly.Percentage)
	fmt.Fprintf(&text, "Monthly: %d/%d (%d%%)\n", progress.Monthly.Current, progress.Monthly.Target, progress.Monthly.Percentage)
	fmt.Fprintf(&text, "\nAt your current pace you will finish %d books this year.\n", projection.YearlyProjection)
	return text.String()
}

// formatAuthors renders an author ranking
func formatAuthors(authors []models.AuthorCount, limit int) string {
	if len(authors) == 0 {
		return noDataText
	}
	if len(authors) > limit {
		authors = authors[:limit]
	}

	var text strings.Builder
	text.WriteString("✍️ Authors by books read\n\n")
	for i, a := range authors {
		fmt.Fprintf(&text, "%d. %s (%d)\n", i+1, a.Author, a.Count)
	}
	return text.String()
}

// formatError turns an operation error into a user-facing message
func formatError(err error) string {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Sprintf("❌ File is too large (limit %d bytes).", tooLarge.Limit)
	}

	var sourceErr *goodreads.SourceReadError
	if errors.As(err, &sourceErr) {
		return fmt.Sprintf("❌ Could not read that file: %v", sourceErr.Err)
	}

	switch reconcile.Classify(err) {
	case reconcile.KindInvalidInput:
		return fmt.Sprintf("❌ %v", err)
	case reconcile.KindPersistence:
		return "❌ Your data could not be saved. Please try again."
	case reconcile.KindCompute:
		return "❌ Statistics could not be computed from this data."
	case reconcile.KindSuperseded:
		return "A newer upload replaced this one."
	default:
		return fmt.Sprintf("❌ Error: %v", err)
	}
}
