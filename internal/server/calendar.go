package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mwehrli/carillon/internal/api"
	"github.com/mwehrli/carillon/internal/apperrors"
)

// calendarDay is the classification of one date in the calendar view.
type calendarDay struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// calendarView classifies every date of the requested academic-year range.
// The academic year "2025-2026" runs September 2025 through August 2026.
func (app *App) calendarView(w http.ResponseWriter, r *http.Request) error {
	query := r.URL.Query()

	startYear, err := parseAcademicYear(query.Get("year"))
	if err != nil {
		return apperrors.NewValidationError(err.Error(), nil)
	}
	viewType := query.Get("view_type")
	if viewType == "" {
		viewType = "year"
	}

	from, to, err := viewRange(startYear, viewType, query.Get("month"), query.Get("trimester"), query.Get("semester"))
	if err != nil {
		return apperrors.NewValidationError(err.Error(), nil)
	}

	resolver := app.currentResolver()
	plan := app.store.WeeklyPlan()
	exceptions := app.store.Exceptions()

	days := map[string]calendarDay{}
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		info := resolver.Classify(day, plan, exceptions)
		days[day.Format("2006-01-02")] = calendarDay{Type: info.Type, Description: info.Description}
	}

	return api.WriteJSON(w, http.StatusOK, map[string]any{
		"days":      days,
		"vacations": resolver.VacationPeriods(),
		"holidays":  resolver.Holidays(),
		"debug_params": map[string]any{
			"year":      fmt.Sprintf("%d-%d", startYear, startYear+1),
			"view_type": viewType,
			"from":      from.Format("2006-01-02"),
			"to":        to.Format("2006-01-02"),
		},
	})
}

func parseAcademicYear(raw string) (int, error) {
	if raw == "" {
		return 0, fmt.Errorf("year query parameter is required (YYYY-YYYY)")
	}
	parts := strings.Split(raw, "-")
	if len(parts) != 2 {
		return 0, fmt.Errorf("year must be formatted YYYY-YYYY")
	}
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("year must be formatted YYYY-YYYY")
	}
	end, err := strconv.Atoi(parts[1])
	if err != nil || end != start+1 {
		return 0, fmt.Errorf("academic year must span two consecutive years")
	}
	return start, nil
}

// viewRange returns the inclusive date range of the requested view within
// the academic year.
func viewRange(startYear int, viewType, monthParam, trimesterParam, semesterParam string) (time.Time, time.Time, error) {
	sept1 := time.Date(startYear, time.September, 1, 0, 0, 0, 0, time.Local)
	aug31 := time.Date(startYear+1, time.August, 31, 0, 0, 0, 0, time.Local)

	switch viewType {
	case "year":
		return sept1, aug31, nil

	case "semester":
		n, err := strconv.Atoi(semesterParam)
		if err != nil || n < 1 || n > 2 {
			return time.Time{}, time.Time{}, fmt.Errorf("semester must be 1 or 2")
		}
		if n == 1 {
			return sept1, endOfMonth(startYear+1, time.February), nil
		}
		return time.Date(startYear+1, time.March, 1, 0, 0, 0, 0, time.Local), aug31, nil

	case "trimester":
		n, err := strconv.Atoi(trimesterParam)
		if err != nil || n < 1 || n > 3 {
			return time.Time{}, time.Time{}, fmt.Errorf("trimester must be 1, 2 or 3")
		}
		switch n {
		case 1:
			return sept1, endOfMonth(startYear, time.November), nil
		case 2:
			return time.Date(startYear, time.December, 1, 0, 0, 0, 0, time.Local), endOfMonth(startYear+1, time.February), nil
		default:
			return time.Date(startYear+1, time.March, 1, 0, 0, 0, 0, time.Local), endOfMonth(startYear+1, time.May), nil
		}

	case "month":
		n, err := strconv.Atoi(monthParam)
		if err != nil || n < 1 || n > 12 {
			return time.Time{}, time.Time{}, fmt.Errorf("month must be 1 through 12")
		}
		year := startYear + 1
		if n >= 9 {
			year = startYear
		}
		return time.Date(year, time.Month(n), 1, 0, 0, 0, 0, time.Local), endOfMonth(year, time.Month(n)), nil

	default:
		return time.Time{}, time.Time{}, fmt.Errorf("view_type must be year, semester, trimester or month")
	}
}

func endOfMonth(year int, month time.Month) time.Time {
	return time.Date(year, month+1, 1, 0, 0, 0, 0, time.Local).AddDate(0, 0, -1)
}
