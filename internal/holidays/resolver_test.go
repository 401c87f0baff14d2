package holidays

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mwehrli/carillon/internal/store"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r := NewResolver(t.TempDir(), nil)
	r.now = func() time.Time { return date(2025, time.June, 13) }
	return r
}

const toussaintICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//education//vacances//FR\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:toussaint-2025\r\n" +
	"DTSTAMP:20250601T000000Z\r\n" +
	"SUMMARY:Vacances de la Toussaint\r\n" +
	"DTSTART;VALUE=DATE:20251018\r\n" +
	"DTEND;VALUE=DATE:20251103\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseICS_DTENDBecomesInclusive(t *testing.T) {
	r := newTestResolver(t)
	path := filepath.Join(t.TempDir(), "zone.ics")
	require.NoError(t, os.WriteFile(path, []byte(toussaintICS), 0o644))

	periods, err := r.parseICSFile(path)
	require.NoError(t, err)
	require.Len(t, periods, 1)

	vac := periods[0]
	require.Equal(t, "Vacances de la Toussaint", vac.Description)
	require.Equal(t, "2025-10-18", vac.Start.Format("2006-01-02"))
	require.Equal(t, "2025-11-02", vac.End.Format("2006-01-02"))
}

func TestLoadVacations_LocalFile(t *testing.T) {
	r := newTestResolver(t)
	path := filepath.Join(t.TempDir(), "zone.ics")
	require.NoError(t, os.WriteFile(path, []byte(toussaintICS), 0o644))

	// Invalid zone: no download is attempted, only the local file loads.
	r.LoadVacations("", path, "")

	require.True(t, r.IsVacation(date(2025, time.October, 18)))
	require.True(t, r.IsVacation(date(2025, time.November, 2)))
	require.False(t, r.IsVacation(date(2025, time.November, 3)))

	vac, ok := r.VacationInfo(date(2025, time.October, 25))
	require.True(t, ok)
	require.Equal(t, "Vacances de la Toussaint", vac.Description)
}

func TestLoadVacations_DownloadAndStaleTempFallback(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls++
		if req.URL.Path == "/ZoneA-2024-2025.ics" {
			w.Header().Set("Content-Type", "text/calendar")
			fmt.Fprint(w, toussaintICS)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := newTestResolver(t)
	r.now = func() time.Time { return date(2025, time.March, 10) } // academic year 2024-2025

	r.LoadVacations("A", "", srv.URL)
	require.True(t, r.IsVacation(date(2025, time.October, 20)))
	require.Positive(t, calls)

	// Server gone: the cached temp file keeps serving.
	srv.Close()
	r.LoadVacations("A", "", srv.URL)
	require.True(t, r.IsVacation(date(2025, time.October, 20)))
}

func TestLoadHolidays_ReplacesAndCaches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode([]holidayItem{
			{Date: "2025-11-11", LocalName: "Armistice 1918", Name: "Armistice Day"},
			{Date: "2025-07-14", Name: "Bastille Day"},
			{Date: "", LocalName: "broken"},
		})
	}))
	defer srv.Close()

	cacheDir := t.TempDir()
	r := NewResolver(cacheDir, nil)
	r.now = func() time.Time { return date(2025, time.June, 13) }

	require.True(t, r.LoadHolidays(srv.URL, "FR", true))

	desc, ok := r.HolidayDescription(date(2025, time.November, 11))
	require.True(t, ok)
	require.Equal(t, "Armistice 1918", desc)

	desc, ok = r.HolidayDescription(date(2025, time.July, 14))
	require.True(t, ok)
	require.Equal(t, "Bastille Day", desc)

	// Cache file written and reloadable by a fresh resolver.
	r2 := NewResolver(cacheDir, nil)
	require.True(t, r2.IsHoliday(date(2025, time.November, 11)))
}

func TestLoadHolidays_APIFailureKeepsStaleCache(t *testing.T) {
	cacheDir := t.TempDir()
	cached := map[string]string{}
	for month := 1; month <= 12; month++ {
		cached[fmt.Sprintf("2025-%02d-01", month)] = fmt.Sprintf("Cached holiday %d", month)
	}
	data, err := json.Marshal(cached)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, HolidayCacheFile), data, 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := NewResolver(cacheDir, nil)
	r.now = func() time.Time { return date(2025, time.June, 13) }

	require.True(t, r.LoadHolidays(srv.URL, "FR", true))
	require.Len(t, r.Holidays(), 12)
	require.True(t, r.IsHoliday(date(2025, time.June, 1)))

	info := r.Classify(date(2025, time.June, 1), store.WeeklyPlan{}, nil)
	require.Equal(t, KindHoliday, info.Kind)
}

func TestClassify_PrecedenceOrder(t *testing.T) {
	r := newTestResolver(t)
	r.mu.Lock()
	r.holidays = map[string]string{"2025-11-11": "Armistice 1918"}
	r.vacations = []VacationPeriod{{
		Start:       date(2025, time.October, 18),
		End:         date(2025, time.November, 2),
		Description: "Vacances de la Toussaint",
	}}
	r.mu.Unlock()

	plan := store.WeeklyPlan{
		"Lundi":    "Standard",
		"Mardi":    "Standard",
		"Samedi":   store.NoDayType,
		"Dimanche": "",
	}
	exceptions := map[string]store.Exception{
		"2025-11-11": {Action: store.ExceptionUseDayType, DayType: "HolidayDuty"},
		"2025-10-20": {Action: store.ExceptionSilence, Description: "Travaux"},
	}

	// Exception beats holiday (2025-11-11 is both).
	info := r.Classify(date(2025, time.November, 11), plan, exceptions)
	require.Equal(t, KindExceptionDayType, info.Kind)
	require.Equal(t, "HolidayDuty", info.ScheduleName)

	// Exception beats vacation (2025-10-20 is a Monday inside Toussaint).
	info = r.Classify(date(2025, time.October, 20), plan, exceptions)
	require.Equal(t, KindExceptionSilence, info.Kind)

	// Vacation beats weekly plan (2025-10-21 is a Tuesday inside Toussaint).
	info = r.Classify(date(2025, time.October, 21), plan, exceptions)
	require.Equal(t, KindVacation, info.Kind)
	require.Equal(t, "Vacances de la Toussaint", info.Description)

	// Weekly plan on an ordinary Monday.
	info = r.Classify(date(2025, time.November, 17), plan, exceptions)
	require.Equal(t, KindClass, info.Kind)
	require.Equal(t, "Standard", info.ScheduleName)

	// "Aucune" and empty plan entries are weekends.
	info = r.Classify(date(2025, time.November, 15), plan, exceptions)
	require.Equal(t, KindWeekend, info.Kind)
	info = r.Classify(date(2025, time.November, 16), plan, exceptions)
	require.Equal(t, KindWeekend, info.Kind)

	// Day absent from the plan defaults to weekend.
	info = r.Classify(date(2025, time.November, 19), plan, exceptions)
	require.Equal(t, KindWeekend, info.Kind)
}

func TestAcademicYearStart(t *testing.T) {
	require.Equal(t, 2024, AcademicYearStart(date(2025, time.June, 13)))
	require.Equal(t, 2024, AcademicYearStart(date(2025, time.August, 31)))
	require.Equal(t, 2025, AcademicYearStart(date(2025, time.September, 1)))
	require.Equal(t, 2025, AcademicYearStart(date(2025, time.December, 25)))
}
