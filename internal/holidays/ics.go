package holidays

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

const (
	tempICSCurrent = "temp_vacances_current.ics"
	tempICSNext    = "temp_vacances_next.ics"
)

// AcademicYearStart returns the starting civil year of the academic year
// containing the date. The academic year runs September 1 through August 31.
func AcademicYearStart(date time.Time) int {
	if date.Month() >= time.September {
		return date.Year()
	}
	return date.Year() - 1
}

// LoadVacations loads school-vacation periods for the current and next
// academic years of the given zone. For each year it tries, in order, an
// explicit local ICS path (current year only), a download of
// {base}/Zone{zone}-{YYYY}-{YYYY+1}.ics into a cached temp file, and the
// previously-downloaded temp file. Whatever parses is concatenated; a
// missing or invalid zone skips downloads entirely.
func (r *Resolver) LoadVacations(zone, localPath, manualBaseURL string) {
	currentStart := AcademicYearStart(r.now())
	nextStart := currentStart + 1

	var periods []VacationPeriod
	if path := r.resolveAcademicYearICS(zone, localPath, manualBaseURL, currentStart, tempICSCurrent); path != "" {
		parsed, err := r.parseICSFile(path)
		if err != nil {
			r.logger.Printf("vacations: parse %s: %v", filepath.Base(path), err)
		} else {
			periods = append(periods, parsed...)
		}
	}
	if path := r.resolveAcademicYearICS(zone, "", manualBaseURL, nextStart, tempICSNext); path != "" {
		parsed, err := r.parseICSFile(path)
		if err != nil {
			r.logger.Printf("vacations: parse %s: %v", filepath.Base(path), err)
		} else {
			periods = append(periods, parsed...)
		}
	}

	sort.Slice(periods, func(i, j int) bool { return periods[i].Start.Before(periods[j].Start) })

	r.mu.Lock()
	r.vacations = periods
	r.mu.Unlock()

	if len(periods) == 0 {
		r.logger.Printf("vacations: no vacation data loaded")
	} else {
		r.logger.Printf("vacations: %d periods loaded", len(periods))
	}
}

// resolveAcademicYearICS returns the path of an ICS file to parse for one
// academic year, or "" when nothing is available.
func (r *Resolver) resolveAcademicYearICS(zone, localPath, manualBaseURL string, startYear int, tempName string) string {
	if localPath != "" {
		if info, err := os.Stat(localPath); err == nil && !info.IsDir() {
			r.logger.Printf("vacations: using local ICS %s for %d-%d", localPath, startYear, startYear+1)
			return localPath
		}
		r.logger.Printf("vacations: local ICS %s not usable, falling back to download", localPath)
	}

	validZone := zone == "A" || zone == "B" || zone == "C" || zone == "Corse"
	if !validZone {
		r.logger.Printf("vacations: zone %q invalid, skipping download for %d-%d", zone, startYear, startYear+1)
		return ""
	}

	base := manualBaseURL
	if base == "" {
		base = DefaultICSBaseURL
	}
	url := fmt.Sprintf("%s/Zone%s-%d-%d.ics", strings.TrimRight(base, "/"), zone, startYear, startYear+1)
	tempPath := filepath.Join(r.cacheDir, tempName)

	if err := r.downloadICS(url, tempPath); err != nil {
		r.logger.Printf("vacations: download %s: %v", url, err)
		if _, statErr := os.Stat(tempPath); statErr == nil {
			r.logger.Printf("vacations: reusing previously downloaded %s", tempName)
			return tempPath
		}
		return ""
	}
	return tempPath
}

func (r *Resolver) downloadICS(url, savePath string) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "carillon/1.0")
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(contentType, "text/calendar") && !strings.Contains(contentType, "application/octet-stream") {
		r.logger.Printf("vacations: unexpected content type %q for %s", contentType, url)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return os.WriteFile(savePath, data, 0o644)
}

// parseICSFile extracts vacation periods from an iCalendar file. DTEND is
// half-open per RFC 5545, so one day is subtracted to get the inclusive
// last vacation day. Malformed VEVENTs are skipped individually.
func (r *Resolver) parseICSFile(path string) ([]VacationPeriod, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cal, err := ical.NewDecoder(f).Decode()
	if err != nil {
		return nil, err
	}

	var periods []VacationPeriod
	skipped := 0
	for _, child := range cal.Children {
		if child.Name != ical.CompEvent {
			continue
		}
		summaryProp := child.Props.Get(ical.PropSummary)
		if summaryProp == nil || summaryProp.Value == "" {
			skipped++
			continue
		}
		summary := summaryProp.Value
		startProp := child.Props.Get(ical.PropDateTimeStart)
		endProp := child.Props.Get(ical.PropDateTimeEnd)
		if startProp == nil || endProp == nil {
			r.logger.Printf("vacations: VEVENT %q: missing DTSTART or DTEND", summary)
			skipped++
			continue
		}
		start, _, err := parseDateTime(startProp.Value)
		if err != nil {
			r.logger.Printf("vacations: VEVENT %q: bad DTSTART: %v", summary, err)
			skipped++
			continue
		}
		end, _, err := parseDateTime(endProp.Value)
		if err != nil {
			r.logger.Printf("vacations: VEVENT %q: bad DTEND: %v", summary, err)
			skipped++
			continue
		}
		inclusiveEnd := inclusiveEndDate(end)
		if civilDate(inclusiveEnd).Before(civilDate(start)) {
			r.logger.Printf("vacations: VEVENT %q: end %s before start %s, skipping", summary, inclusiveEnd.Format("2006-01-02"), start.Format("2006-01-02"))
			skipped++
			continue
		}
		periods = append(periods, VacationPeriod{
			Start:       civilDate(start),
			End:         civilDate(inclusiveEnd),
			Description: summary,
		})
	}
	if skipped > 0 {
		r.logger.Printf("vacations: %s: %d VEVENTs skipped", filepath.Base(path), skipped)
	}
	return periods, nil
}

// inclusiveEndDate converts a half-open DTEND to the last included day.
// A midnight value (the DATE form, or a datetime at 00:00:00) ends the
// previous day; any other time falls inside its own day.
func inclusiveEndDate(end time.Time) time.Time {
	if end.Hour() == 0 && end.Minute() == 0 && end.Second() == 0 {
		return end.AddDate(0, 0, -1)
	}
	return end
}

// parseDateTime handles the DATE and DATE-TIME property forms.
func parseDateTime(s string) (t time.Time, allDay bool, err error) {
	s = strings.TrimSpace(s)
	if len(s) == 8 {
		t, err = time.ParseInLocation("20060102", s, time.Local)
		return t, true, err
	}
	if len(s) == 15 {
		t, err = time.ParseInLocation("20060102T150405", s, time.Local)
		return t, false, err
	}
	if len(s) == 16 && strings.HasSuffix(s, "Z") {
		t, err = time.Parse("20060102T150405Z", s)
		return t, false, err
	}
	t, err = time.Parse(time.RFC3339, s)
	return t, false, err
}
