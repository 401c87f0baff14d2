package store

import (
	"fmt"
	"sort"
	"time"

	"github.com/mwehrli/carillon/internal/permissions"
)

// Config file names inside the config directory. The JSON shapes (and their
// French keys) are a compatibility contract with existing installations.
const (
	UsersFile    = "users.json"
	RolesFile    = "roles_config.json"
	SettingsFile = "parametres_college.json"
	BellsFile    = "donnees_sonneries.json"
)

// Weekday keys used by the weekly plan, Monday first.
var Weekdays = []string{"Lundi", "Mardi", "Mercredi", "Jeudi", "Vendredi", "Samedi", "Dimanche"}

// NoDayType is the weekly-plan sentinel for "no schedule on this day".
const NoDayType = "Aucune"

// Known role names; role values in users.json are normalized against these.
var KnownRoles = []string{"lecteur", "collaborateur", "administrateur"}

// Exception actions.
const (
	ExceptionSilence    = "silence"
	ExceptionUseDayType = "utiliser_jt"
)

// Period is a timed interval of a day type with optional boundary sounds.
// Times are local wall clock "HH:MM:SS".
type Period struct {
	Name       string `json:"nom"`
	Start      string `json:"heure_debut"`
	End        string `json:"heure_fin"`
	SoundStart string `json:"sonnerie_debut,omitempty"`
	SoundEnd   string `json:"sonnerie_fin,omitempty"`
}

// DayType is a named template of periods applied to a calendar day.
type DayType struct {
	Name    string   `json:"nom"`
	Periods []Period `json:"periodes"`
}

// SortedPeriods returns the periods ordered by start time. Input order is
// preserved for ties.
func (dt DayType) SortedPeriods() []Period {
	sorted := make([]Period, len(dt.Periods))
	copy(sorted, dt.Periods)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})
	return sorted
}

// Validate checks every period has end > start and that no two periods share
// the same (name, start, end). Overlapping periods are tolerated.
func (dt DayType) Validate() error {
	seen := make(map[string]struct{}, len(dt.Periods))
	for _, p := range dt.Periods {
		start, err := time.Parse("15:04:05", p.Start)
		if err != nil {
			return fmt.Errorf("period %q: invalid start time %q", p.Name, p.Start)
		}
		end, err := time.Parse("15:04:05", p.End)
		if err != nil {
			return fmt.Errorf("period %q: invalid end time %q", p.Name, p.End)
		}
		if !end.After(start) {
			return fmt.Errorf("period %q: end %s must be after start %s", p.Name, p.End, p.Start)
		}
		key := p.Name + "|" + p.Start + "|" + p.End
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate period %q (%s-%s)", p.Name, p.Start, p.End)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// WeeklyPlan maps a weekday name to a day-type name or NoDayType.
type WeeklyPlan map[string]string

// Exception is a per-date planning override, keyed by ISO date.
type Exception struct {
	Action      string `json:"action"`
	DayType     string `json:"journee_type,omitempty"`
	Description string `json:"description,omitempty"`
}

// VacationSettings carries the optional local ICS override.
type VacationSettings struct {
	ICSFilePath string `json:"ics_file_path,omitempty"`
}

// BellData is the content of donnees_sonneries.json.
type BellData struct {
	Sounds     map[string]string    `json:"sonneries"`
	DayTypes   map[string]DayType   `json:"journees_types"`
	WeeklyPlan WeeklyPlan           `json:"planning_hebdomadaire"`
	Exceptions map[string]Exception `json:"exceptions_planning"`
	Vacations  VacationSettings     `json:"vacances"`
}

// Settings is the content of parametres_college.json.
type Settings struct {
	Departement              string `json:"departement"`
	Zone                     string `json:"zone"`
	HolidayAPIURL            string `json:"api_holidays_url"`
	HolidayCountryCode       string `json:"country_code_holidays"`
	ManualICSBaseURL         string `json:"vacances_ics_base_url_manuel,omitempty"`
	PPMSSound                string `json:"sonnerie_ppms,omitempty"`
	AttackSound              string `json:"sonnerie_attentat,omitempty"`
	EndAlertSound            string `json:"sonnerie_fin_alerte,omitempty"`
	AudioDeviceName          string `json:"nom_peripherique_audio_sonneries,omitempty"`
	AlertClickMode           string `json:"alert_click_mode"`
	StatusRefreshIntervalSec int    `json:"status_refresh_interval_seconds"`
}

// User is one record of users.json.
type User struct {
	Hash              string           `json:"hash"`
	FullName          string           `json:"full_name"`
	Role              string           `json:"role"`
	CustomPermissions permissions.Tree `json:"custom_permissions,omitempty"`
}

// Role is one record of roles_config.json.
type Role struct {
	Permissions permissions.Tree `json:"permissions"`
}

// DepartementZones maps a French department label to its vacation zone.
// Subset used to validate the configured zone against the department.
var DepartementZones = map[string]string{
	"01 - Ain":              "A",
	"38 - Isère":            "A",
	"69 - Rhône":            "A",
	"73 - Savoie":           "A",
	"14 - Calvados":         "B",
	"35 - Ille-et-Vilaine":  "B",
	"59 - Nord":             "B",
	"67 - Bas-Rhin":         "B",
	"13 - Bouches-du-Rhône": "C",
	"31 - Haute-Garonne":    "C",
	"33 - Gironde":          "C",
	"75 - Paris":            "C",
	"92 - Hauts-de-Seine":   "C",
	"2A - Corse-du-Sud":     "Corse",
	"2B - Haute-Corse":      "Corse",
}

// ValidZones are the vacation zones with published ICS feeds.
var ValidZones = map[string]bool{"A": true, "B": true, "C": true, "Corse": true}
