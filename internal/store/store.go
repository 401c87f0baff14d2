package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/mwehrli/carillon/internal/permissions"
)

// Store is the in-memory snapshot of all configuration files, guarded by a
// single lock. Reads copy out consistent views; writes rewrite the backing
// JSON file atomically and roll back from disk on failure.
type Store struct {
	mu     sync.RWMutex
	dir    string
	logger *log.Logger

	users    map[string]User
	roles    map[string]Role
	settings Settings
	bells    BellData
}

// New creates a store rooted at the given config directory.
func New(dir string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		dir:    dir,
		logger: logger,
		users:  map[string]User{},
		roles:  map[string]Role{},
		bells:  emptyBellData(),
	}
}

func emptyBellData() BellData {
	return BellData{
		Sounds:     map[string]string{},
		DayTypes:   map[string]DayType{},
		WeeklyPlan: WeeklyPlan{},
		Exceptions: map[string]Exception{},
	}
}

func defaultSettings() Settings {
	// HolidayAPIURL stays empty until configured; the resolver serves
	// whatever its cache holds when no API is set.
	return Settings{
		HolidayCountryCode:       "FR",
		AlertClickMode:           "single",
		StatusRefreshIntervalSec: 3,
	}
}

// ==========================================================================
// Loading
// ==========================================================================

// LoadAll reads every configuration file. A missing file yields defaults; a
// malformed file keeps the previous in-memory state for that file and is
// reported in the returned per-file status map (nil means loaded).
func (s *Store) LoadAll() map[string]error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := map[string]error{
		UsersFile:    s.loadUsersLocked(),
		RolesFile:    s.loadRolesLocked(),
		SettingsFile: s.loadSettingsLocked(),
		BellsFile:    s.loadBellsLocked(),
	}
	for file, err := range status {
		if err != nil {
			s.logger.Printf("config load: %s: %v", file, err)
		}
	}
	return status
}

func (s *Store) loadUsersLocked() error {
	path := filepath.Join(s.dir, UsersFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.users = map[string]User{}
			return nil
		}
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	users := make(map[string]User, len(raw))
	migrated := false
	for name, value := range raw {
		var legacyHash string
		if err := json.Unmarshal(value, &legacyHash); err == nil {
			// Legacy record: a bare password-hash string.
			users[name] = User{Hash: legacyHash, FullName: "", Role: "lecteur"}
			migrated = true
			continue
		}
		var user User
		if err := json.Unmarshal(value, &user); err != nil {
			return fmt.Errorf("user %q: %w", name, err)
		}
		normalized := normalizeRole(user.Role)
		if normalized != user.Role {
			user.Role = normalized
			migrated = true
		}
		users[name] = user
	}
	s.users = users

	if migrated {
		s.logger.Printf("users.json: migrated legacy records, rewriting")
		if err := s.writeFileLocked(UsersFile, s.users); err != nil {
			s.logger.Printf("users.json: migration rewrite failed: %v", err)
		}
	}
	return nil
}

func normalizeRole(role string) string {
	lowered := strings.ToLower(strings.TrimSpace(role))
	for _, known := range KnownRoles {
		if lowered == known {
			return known
		}
	}
	return "lecteur"
}

func (s *Store) loadRolesLocked() error {
	path := filepath.Join(s.dir, RolesFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.roles = defaultRoles()
			s.logger.Printf("roles_config.json missing, seeding default roles")
			if werr := s.writeFileLocked(RolesFile, rolesEnvelope{Roles: s.roles}); werr != nil {
				s.logger.Printf("roles_config.json: seed write failed: %v", werr)
			}
			return nil
		}
		return err
	}

	var envelope rolesEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if envelope.Roles == nil {
		envelope.Roles = map[string]Role{}
	}
	s.roles = envelope.Roles
	return nil
}

type rolesEnvelope struct {
	Roles map[string]Role `json:"roles"`
}

func defaultRoles() map[string]Role {
	return map[string]Role{
		"lecteur": {Permissions: permissions.Tree{
			"page:view_control":        permissions.LeafNode(true),
			"page:view_config_general": permissions.LeafNode(true),
		}},
		"collaborateur": {Permissions: permissions.Tree{
			"page:view_control":          permissions.LeafNode(true),
			"page:view_config_general":   permissions.LeafNode(true),
			"page:view_config_weekly":    permissions.LeafNode(true),
			"page:view_config_day_types": permissions.LeafNode(true),
			"control": permissions.BranchNode(permissions.Tree{
				"scheduler_activate":     permissions.LeafNode(true),
				"scheduler_deactivate":   permissions.LeafNode(true),
				"alert_trigger_any":      permissions.LeafNode(true),
				"alert_trigger_ppms":     permissions.LeafNode(true),
				"alert_trigger_attentat": permissions.LeafNode(true),
				"alert_stop":             permissions.LeafNode(true),
				"alert_end":              permissions.LeafNode(true),
			}),
			"config_general": permissions.BranchNode(permissions.Tree{
				"edit_settings":     permissions.LeafNode(true),
				"edit_alert_sounds": permissions.LeafNode(true),
			}),
			"config_weekly": permissions.BranchNode(permissions.Tree{
				"edit_planning": permissions.LeafNode(true),
			}),
			"day_type": permissions.BranchNode(permissions.Tree{
				"create":       permissions.LeafNode(true),
				"rename":       permissions.LeafNode(true),
				"delete":       permissions.LeafNode(true),
				"edit_periods": permissions.LeafNode(true),
			}),
			"exception": permissions.BranchNode(permissions.Tree{
				"create": permissions.LeafNode(true),
				"edit":   permissions.LeafNode(true),
				"delete": permissions.LeafNode(true),
			}),
			"sound": permissions.BranchNode(permissions.Tree{
				"upload":            permissions.LeafNode(true),
				"edit_display_name": permissions.LeafNode(true),
				"disassociate":      permissions.LeafNode(true),
				"delete_file":       permissions.LeafNode(true),
			}),
		}},
		"administrateur": {Permissions: permissions.Tree{
			permissions.AdminAll: permissions.LeafNode(true),
		}},
	}
}

func (s *Store) loadSettingsLocked() error {
	path := filepath.Join(s.dir, SettingsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.settings = defaultSettings()
			return nil
		}
		return err
	}
	settings := defaultSettings()
	if err := json.Unmarshal(data, &settings); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if settings.StatusRefreshIntervalSec < 1 {
		settings.StatusRefreshIntervalSec = 1
	}
	s.settings = settings
	return nil
}

func (s *Store) loadBellsLocked() error {
	path := filepath.Join(s.dir, BellsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.bells = emptyBellData()
			return nil
		}
		return err
	}
	bells := emptyBellData()
	if err := json.Unmarshal(data, &bells); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if bells.Sounds == nil {
		bells.Sounds = map[string]string{}
	}
	if bells.DayTypes == nil {
		bells.DayTypes = map[string]DayType{}
	}
	if bells.WeeklyPlan == nil {
		bells.WeeklyPlan = WeeklyPlan{}
	}
	if bells.Exceptions == nil {
		bells.Exceptions = map[string]Exception{}
	}
	// Referenced day types must exist; dangling references are dropped with
	// a warning rather than failing the load.
	for day, name := range bells.WeeklyPlan {
		if name == "" || strings.EqualFold(name, NoDayType) {
			continue
		}
		if _, ok := bells.DayTypes[name]; !ok {
			s.logger.Printf("donnees_sonneries.json: weekly plan %s references unknown day type %q, resetting to %s", day, name, NoDayType)
			bells.WeeklyPlan[day] = NoDayType
		}
	}
	for date, exc := range bells.Exceptions {
		if exc.Action == ExceptionUseDayType {
			if _, ok := bells.DayTypes[exc.DayType]; !ok {
				s.logger.Printf("donnees_sonneries.json: exception %s references unknown day type %q, skipping", date, exc.DayType)
				delete(bells.Exceptions, date)
			}
		}
	}
	s.bells = bells
	return nil
}

// ==========================================================================
// Persistence
// ==========================================================================

// writeFileLocked pretty-prints v and atomically replaces the target file.
// Caller must hold the write lock.
func (s *Store) writeFileLocked(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return renameio.WriteFile(filepath.Join(s.dir, name), data, 0o644)
}

// saveBellsLocked persists bell data; on failure the in-memory state is
// rolled back from disk.
func (s *Store) saveBellsLocked() error {
	if err := s.writeFileLocked(BellsFile, s.bells); err != nil {
		s.logger.Printf("save %s failed, rolling back: %v", BellsFile, err)
		if lerr := s.loadBellsLocked(); lerr != nil {
			s.logger.Printf("rollback reload failed: %v", lerr)
		}
		return err
	}
	return nil
}

func (s *Store) saveUsersLocked() error {
	if err := s.writeFileLocked(UsersFile, s.users); err != nil {
		s.logger.Printf("save %s failed, rolling back: %v", UsersFile, err)
		if lerr := s.loadUsersLocked(); lerr != nil {
			s.logger.Printf("rollback reload failed: %v", lerr)
		}
		return err
	}
	return nil
}

func (s *Store) saveRolesLocked() error {
	if err := s.writeFileLocked(RolesFile, rolesEnvelope{Roles: s.roles}); err != nil {
		s.logger.Printf("save %s failed, rolling back: %v", RolesFile, err)
		if lerr := s.loadRolesLocked(); lerr != nil {
			s.logger.Printf("rollback reload failed: %v", lerr)
		}
		return err
	}
	return nil
}

func (s *Store) saveSettingsLocked() error {
	if err := s.writeFileLocked(SettingsFile, s.settings); err != nil {
		s.logger.Printf("save %s failed, rolling back: %v", SettingsFile, err)
		if lerr := s.loadSettingsLocked(); lerr != nil {
			s.logger.Printf("rollback reload failed: %v", lerr)
		}
		return err
	}
	return nil
}

// ==========================================================================
// Snapshots
// ==========================================================================

// Snapshot is a consistent, caller-owned copy of the schedule-relevant
// configuration.
type Snapshot struct {
	DayTypes   map[string]DayType
	WeeklyPlan WeeklyPlan
	Exceptions map[string]Exception
	Settings   Settings
}

// ScheduleSnapshot copies out everything the scheduler consumes.
func (s *Store) ScheduleSnapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		DayTypes:   cloneDayTypes(s.bells.DayTypes),
		WeeklyPlan: cloneStringMap(s.bells.WeeklyPlan),
		Exceptions: cloneExceptions(s.bells.Exceptions),
		Settings:   s.settings,
	}
}

func cloneDayTypes(src map[string]DayType) map[string]DayType {
	dst := make(map[string]DayType, len(src))
	for name, dt := range src {
		periods := make([]Period, len(dt.Periods))
		copy(periods, dt.Periods)
		dst[name] = DayType{Name: dt.Name, Periods: periods}
	}
	return dst
}

func cloneStringMap[M ~map[string]string](src M) M {
	dst := make(M, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneExceptions(src map[string]Exception) map[string]Exception {
	dst := make(map[string]Exception, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// ==========================================================================
// Users and roles
// ==========================================================================

// GetUser returns a user record by name.
func (s *Store) GetUser(username string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[username]
	return user, ok
}

// Users returns a copy of all user records.
func (s *Store) Users() map[string]User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make(map[string]User, len(s.users))
	for name, user := range s.users {
		users[name] = user
	}
	return users
}

// PutUser creates or replaces a user record.
func (s *Store) PutUser(username string, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user.Role = normalizeRole(user.Role)
	s.users[username] = user
	return s.saveUsersLocked()
}

// DeleteUser removes a user record.
func (s *Store) DeleteUser(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; !ok {
		return ErrNotFound
	}
	delete(s.users, username)
	return s.saveUsersLocked()
}

// Roles returns a copy of the role map.
func (s *Store) Roles() map[string]Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roles := make(map[string]Role, len(s.roles))
	for name, role := range s.roles {
		roles[name] = role
	}
	return roles
}

// SetRolePermissions replaces a role's permission tree.
func (s *Store) SetRolePermissions(name string, tree permissions.Tree) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[name]; !ok {
		return ErrNotFound
	}
	s.roles[name] = Role{Permissions: tree}
	return s.saveRolesLocked()
}

// EffectivePermissions computes the deep-merged permission tree for a user.
func (s *Store) EffectivePermissions(username string) permissions.Tree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[username]
	if !ok {
		return nil
	}
	role := s.roles[user.Role]
	return permissions.Effective(role.Permissions, user.CustomPermissions)
}

// ==========================================================================
// Settings
// ==========================================================================

// Settings returns a copy of the general settings.
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// UpdateSettings validates and persists the general settings.
func (s *Store) UpdateSettings(settings Settings) error {
	if settings.StatusRefreshIntervalSec < 1 {
		return fmt.Errorf("status_refresh_interval_seconds must be >= 1")
	}
	switch settings.AlertClickMode {
	case "single", "double":
	default:
		return fmt.Errorf("alert_click_mode must be single or double")
	}
	if settings.Zone != "" && !ValidZones[settings.Zone] {
		return fmt.Errorf("unknown zone %q", settings.Zone)
	}
	if settings.Departement != "" {
		if zone, ok := DepartementZones[settings.Departement]; ok && settings.Zone != "" && zone != settings.Zone {
			return fmt.Errorf("departement %s is in zone %s, not %s", settings.Departement, zone, settings.Zone)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return s.saveSettingsLocked()
}

// ==========================================================================
// Bell data
// ==========================================================================

// ErrNotFound reports a missing named entity.
var ErrNotFound = fmt.Errorf("not found")

// ErrInUse reports an entity still referenced elsewhere, or a name that is
// already taken.
var ErrInUse = fmt.Errorf("in use")

// DayTypes returns a copy of the day-type map.
func (s *Store) DayTypes() map[string]DayType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneDayTypes(s.bells.DayTypes)
}

// GetDayType returns one day type by name.
func (s *Store) GetDayType(name string) (DayType, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dt, ok := s.bells.DayTypes[name]
	return dt, ok
}

// PutDayType validates and creates or replaces a day type.
func (s *Store) PutDayType(dt DayType, allowReplace bool) error {
	if dt.Name == "" {
		return fmt.Errorf("day type name is required")
	}
	if err := dt.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bells.DayTypes[dt.Name]; exists && !allowReplace {
		return ErrInUse
	}
	s.bells.DayTypes[dt.Name] = dt
	return s.saveBellsLocked()
}

// RenameDayType renames a day type and rewrites every reference to it.
func (s *Store) RenameDayType(oldName, newName string) error {
	if newName == "" {
		return fmt.Errorf("new name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dt, ok := s.bells.DayTypes[oldName]
	if !ok {
		return ErrNotFound
	}
	if _, taken := s.bells.DayTypes[newName]; taken {
		return ErrInUse
	}
	delete(s.bells.DayTypes, oldName)
	dt.Name = newName
	s.bells.DayTypes[newName] = dt
	for day, name := range s.bells.WeeklyPlan {
		if name == oldName {
			s.bells.WeeklyPlan[day] = newName
		}
	}
	for date, exc := range s.bells.Exceptions {
		if exc.Action == ExceptionUseDayType && exc.DayType == oldName {
			exc.DayType = newName
			s.bells.Exceptions[date] = exc
		}
	}
	return s.saveBellsLocked()
}

// DeleteDayType removes a day type. Deletion is rejected while the weekly
// plan or an exception still references it.
func (s *Store) DeleteDayType(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bells.DayTypes[name]; !ok {
		return ErrNotFound
	}
	for _, planned := range s.bells.WeeklyPlan {
		if planned == name {
			return ErrInUse
		}
	}
	for _, exc := range s.bells.Exceptions {
		if exc.Action == ExceptionUseDayType && exc.DayType == name {
			return ErrInUse
		}
	}
	delete(s.bells.DayTypes, name)
	return s.saveBellsLocked()
}

// WeeklyPlan returns a copy of the weekly plan.
func (s *Store) WeeklyPlan() WeeklyPlan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneStringMap(s.bells.WeeklyPlan)
}

// SetWeeklyPlan validates and replaces the weekly plan.
func (s *Store) SetWeeklyPlan(plan WeeklyPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for day, name := range plan {
		if !isWeekday(day) {
			return fmt.Errorf("unknown weekday %q", day)
		}
		if name == "" || strings.EqualFold(name, NoDayType) {
			continue
		}
		if _, ok := s.bells.DayTypes[name]; !ok {
			return fmt.Errorf("unknown day type %q for %s", name, day)
		}
	}
	s.bells.WeeklyPlan = cloneStringMap(plan)
	return s.saveBellsLocked()
}

func isWeekday(day string) bool {
	for _, known := range Weekdays {
		if day == known {
			return true
		}
	}
	return false
}

// Exceptions returns a copy of the exception map.
func (s *Store) Exceptions() map[string]Exception {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneExceptions(s.bells.Exceptions)
}

// PutException validates and stores a per-date exception.
func (s *Store) PutException(date string, exc Exception) error {
	if !isISODate(date) {
		return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", date)
	}
	switch exc.Action {
	case ExceptionSilence:
	case ExceptionUseDayType:
		s.mu.RLock()
		_, ok := s.bells.DayTypes[exc.DayType]
		s.mu.RUnlock()
		if !ok {
			return fmt.Errorf("unknown day type %q", exc.DayType)
		}
	default:
		return fmt.Errorf("unknown exception action %q", exc.Action)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bells.Exceptions[date] = exc
	return s.saveBellsLocked()
}

// DeleteException removes a per-date exception.
func (s *Store) DeleteException(date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bells.Exceptions[date]; !ok {
		return ErrNotFound
	}
	delete(s.bells.Exceptions, date)
	return s.saveBellsLocked()
}

func isISODate(date string) bool {
	if len(date) != 10 || date[4] != '-' || date[7] != '-' {
		return false
	}
	for i, r := range date {
		if i == 4 || i == 7 {
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Sounds returns a copy of the display-name → filename map.
func (s *Store) Sounds() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneStringMap(s.bells.Sounds)
}

// PutSound associates a display name with a filename.
func (s *Store) PutSound(displayName, filename string) error {
	if displayName == "" || filename == "" {
		return fmt.Errorf("display name and filename are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bells.Sounds[displayName] = filename
	return s.saveBellsLocked()
}

// DeleteSound removes a display-name association. The file itself is not
// touched.
func (s *Store) DeleteSound(displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bells.Sounds[displayName]; !ok {
		return ErrNotFound
	}
	delete(s.bells.Sounds, displayName)
	return s.saveBellsLocked()
}

// VacationSettings returns the local ICS override settings.
func (s *Store) VacationSettings() VacationSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bells.Vacations
}
