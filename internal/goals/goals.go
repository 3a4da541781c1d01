// Package goals tracks progress towards yearly and monthly reading targets.
package goals

import (
	"math"
	"strconv"
	"time"

	"readinghabits/internal/models"
)

// Default targets applied when the user has not configured any
const (
	DefaultYearly  = 52
	DefaultMonthly = 4
)

// DefaultTargets returns the stock reading goals
func DefaultTargets() models.Targets {
	return models.Targets{Yearly: DefaultYearly, Monthly: DefaultMonthly}
}

// WithDefaults replaces unset (non-positive) targets with d
func WithDefaults(t, d models.Targets) models.Targets {
	if t.Yearly <= 0 {
		t.Yearly = d.Yearly
	}
	if t.Monthly <= 0 {
		t.Monthly = d.Monthly
	}
	return t
}

// Percentage returns round(current/target*100), or 0 for a non-positive
// target. The result is not clamped.
func Percentage(current, target int) int {
	if target <= 0 {
		return 0
	}
	return int(math.Round(float64(current) / float64(target) * 100))
}

// Compute counts dated books read in the current year and month of now
func Compute(books []models.ReadBook, targets models.Targets, now time.Time) models.GoalProgress {
	loc := now.Location()

	var yearly, monthly int
	for _, b := range books {
		if !b.IsDated() {
			continue
		}
		read := b.DateRead.In(loc)
		if read.Year() != now.Year() {
			continue
		}
		yearly++
		if read.Month() == now.Month() {
			monthly++
		}
	}

	return models.GoalProgress{
		Yearly:  models.Goal{Current: yearly, Target: targets.Yearly, Percentage: Percentage(yearly, targets.Yearly)},
		Monthly: models.Goal{Current: monthly, Target: targets.Monthly, Percentage: Percentage(monthly, targets.Monthly)},
	}
}

// Project estimates the year's total at the current pace and suggests yearly
// goals around the lifetime count of dated books
func Project(st models.ReadingStats, now time.Time) models.Projection {
	thisYear := st.ReadingByYear[strconv.Itoa(now.Year())]
	remaining := 11 - int(now.Month()-1)

	historical := float64(st.ReadingPace.BooksPerYear)
	moderate := int(math.Round(historical))

	return models.Projection{
		BooksThisYear:    thisYear,
		YearlyProjection: thisYear + int(math.Round(st.ReadingPace.BooksPerMonth*float64(remaining))),
		Suggested: models.SuggestedGoals{
			Easy:        int(math.Round(historical * 0.8)),
			Moderate:    moderate,
			Challenging: int(math.Round(historical * 1.2)),
			Monthly:     int(math.Round(float64(moderate) / 12)),
		},
	}
}
