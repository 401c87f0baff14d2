package holidays

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// HolidayCacheFile is the on-disk public-holiday cache, keyed by ISO date.
	HolidayCacheFile = "holiday_cache.json"

	// DefaultCacheExpiry gates API refreshes by cache-file age.
	DefaultCacheExpiry = 7 * 24 * time.Hour

	// DefaultICSBaseURL hosts the official school-vacation calendars.
	DefaultICSBaseURL = "https://www.service-public.fr/simulateur/calcul/assets/dsfr-particuliers/fichiers_ics/"
)

// VacationPeriod is a school-vacation interval; End is the last vacation day
// (inclusive, already converted from the half-open iCalendar DTEND).
type VacationPeriod struct {
	Start       time.Time `json:"debut"`
	End         time.Time `json:"fin"`
	Description string    `json:"description"`
}

// Resolver caches public holidays and school vacations and classifies dates.
// It is read-only between Load calls; loads swap the data under the lock.
type Resolver struct {
	logger   *log.Logger
	cacheDir string
	client   *http.Client
	expiry   time.Duration
	now      func() time.Time

	mu        sync.RWMutex
	holidays  map[string]string
	vacations []VacationPeriod
}

// NewResolver creates a resolver and warms it from the disk cache.
func NewResolver(cacheDir string, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.Default()
	}
	r := &Resolver{
		logger:   logger,
		cacheDir: cacheDir,
		client:   &http.Client{Timeout: 20 * time.Second},
		expiry:   DefaultCacheExpiry,
		now:      time.Now,
		holidays: map[string]string{},
	}
	r.loadHolidayCache()
	return r
}

// ==========================================================================
// Public holidays
// ==========================================================================

// LoadHolidays refreshes public holidays from {apiBaseURL}/{year}/{country}
// for years current−1 through current+2. Network or parse failures keep the
// previously-loaded set (stale data beats no data). The refresh is skipped
// while the disk cache is younger than the expiry window unless force is
// set. The return value reports whether any holidays are loaded afterwards.
func (r *Resolver) LoadHolidays(apiBaseURL, countryCode string, force bool) bool {
	if apiBaseURL == "" {
		r.logger.Printf("holidays: no API URL configured")
		return r.hasHolidays()
	}
	if !force && !r.cacheExpired() && r.hasHolidays() {
		r.logger.Printf("holidays: cache is fresh, skipping API refresh")
		return true
	}

	currentYear := r.now().Year()
	fetched := map[string]string{}
	ok := true
	for year := currentYear - 1; year <= currentYear+2; year++ {
		url := fmt.Sprintf("%s/%d/%s", strings.TrimRight(apiBaseURL, "/"), year, countryCode)
		items, err := r.fetchHolidayYear(url)
		if err != nil {
			r.logger.Printf("holidays: %d: %v", year, err)
			ok = false
			continue
		}
		for date, desc := range items {
			fetched[date] = desc
		}
	}

	if ok && len(fetched) > 0 {
		r.mu.Lock()
		r.holidays = fetched
		r.mu.Unlock()
		r.saveHolidayCache()
		r.logger.Printf("holidays: %d entries loaded from API", len(fetched))
		return true
	}
	r.logger.Printf("holidays: API refresh failed, keeping %d cached entries", r.holidayCount())
	return r.hasHolidays()
}

type holidayItem struct {
	Date      string `json:"date"`
	LocalName string `json:"localName"`
	Name      string `json:"name"`
}

func (r *Resolver) fetchHolidayYear(url string) (map[string]string, error) {
	resp, err := r.client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var items []holidayItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	result := make(map[string]string, len(items))
	for _, item := range items {
		desc := item.LocalName
		if desc == "" {
			desc = item.Name
		}
		if item.Date == "" || desc == "" {
			r.logger.Printf("holidays: skipping incomplete item %+v", item)
			continue
		}
		if _, err := time.Parse("2006-01-02", item.Date); err != nil {
			r.logger.Printf("holidays: skipping unparseable date %q", item.Date)
			continue
		}
		result[item.Date] = desc
	}
	return result, nil
}

func (r *Resolver) cachePath() string {
	return filepath.Join(r.cacheDir, HolidayCacheFile)
}

func (r *Resolver) cacheExpired() bool {
	info, err := os.Stat(r.cachePath())
	if err != nil {
		return true
	}
	return r.now().Sub(info.ModTime()) > r.expiry
}

func (r *Resolver) loadHolidayCache() {
	data, err := os.ReadFile(r.cachePath())
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Printf("holidays: cache read failed: %v", err)
		}
		return
	}
	var cached map[string]string
	if err := json.Unmarshal(data, &cached); err != nil {
		r.logger.Printf("holidays: cache corrupt, ignoring: %v", err)
		return
	}
	r.mu.Lock()
	r.holidays = cached
	r.mu.Unlock()
	r.logger.Printf("holidays: %d entries loaded from cache", len(cached))
}

func (r *Resolver) saveHolidayCache() {
	r.mu.RLock()
	data, err := json.MarshalIndent(r.holidays, "", "  ")
	r.mu.RUnlock()
	if err != nil {
		return
	}
	if err := os.WriteFile(r.cachePath(), data, 0o644); err != nil {
		r.logger.Printf("holidays: cache write failed: %v", err)
	}
}

func (r *Resolver) hasHolidays() bool {
	return r.holidayCount() > 0
}

func (r *Resolver) holidayCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.holidays)
}

// ==========================================================================
// Lookups
// ==========================================================================

// IsHoliday reports whether the date is a public holiday.
func (r *Resolver) IsHoliday(date time.Time) bool {
	_, ok := r.HolidayDescription(date)
	return ok
}

// HolidayDescription returns the holiday name for a date.
func (r *Resolver) HolidayDescription(date time.Time) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.holidays[date.Format("2006-01-02")]
	return desc, ok
}

// Holidays returns every cached holiday sorted by date.
func (r *Resolver) Holidays() []Holiday {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]Holiday, 0, len(r.holidays))
	for date, desc := range r.holidays {
		list = append(list, Holiday{Date: date, Description: desc})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Date < list[j].Date })
	return list
}

// Holiday pairs an ISO date with its description.
type Holiday struct {
	Date        string `json:"date"`
	Description string `json:"description"`
}

// IsVacation reports whether the date falls inside a vacation period.
func (r *Resolver) IsVacation(date time.Time) bool {
	_, ok := r.VacationInfo(date)
	return ok
}

// VacationInfo returns the vacation period covering the date.
func (r *Resolver) VacationInfo(date time.Time) (VacationPeriod, bool) {
	day := civilDate(date)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, vac := range r.vacations {
		if !day.Before(civilDate(vac.Start)) && !day.After(civilDate(vac.End)) {
			return vac, true
		}
	}
	return VacationPeriod{}, false
}

// VacationPeriods returns the loaded vacation periods sorted by start date.
func (r *Resolver) VacationPeriods() []VacationPeriod {
	r.mu.RLock()
	defer r.mu.RUnlock()
	periods := make([]VacationPeriod, len(r.vacations))
	copy(periods, r.vacations)
	return periods
}

func civilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
