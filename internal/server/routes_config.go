package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mwehrli/carillon/internal/api"
	"github.com/mwehrli/carillon/internal/apperrors"
	"github.com/mwehrli/carillon/internal/auth"
	"github.com/mwehrli/carillon/internal/permissions"
	"github.com/mwehrli/carillon/internal/store"
)

// registerConfigRoutes wires the configuration CRUD surface. Every mutation
// of schedule-relevant data ends with a scheduler notification so the next
// dispatched bell always reflects the saved state.
func (app *App) registerConfigRoutes(router chi.Router) {
	// Day types
	router.Method(http.MethodGet, "/api/day_types", api.Handler(app.listDayTypes))
	router.Method(http.MethodPost, "/api/day_types",
		auth.Require(app.store, "day_type:create", app.createDayType))
	router.Method(http.MethodPut, "/api/day_types/{name}",
		auth.Require(app.store, "day_type:edit_periods", app.updateDayType))
	router.Method(http.MethodPost, "/api/day_types/{name}/rename",
		auth.Require(app.store, "day_type:rename", app.renameDayType))
	router.Method(http.MethodDelete, "/api/day_types/{name}",
		auth.Require(app.store, "day_type:delete", app.deleteDayType))

	// Weekly planning
	router.Method(http.MethodGet, "/api/weekly_planning", api.Handler(app.getWeeklyPlan))
	router.Method(http.MethodPut, "/api/weekly_planning",
		auth.Require(app.store, "config_weekly:edit_planning", app.putWeeklyPlan))

	// Exceptions
	router.Method(http.MethodGet, "/api/exceptions", api.Handler(app.listExceptions))
	router.Method(http.MethodPost, "/api/exceptions",
		auth.Require(app.store, "exception:create", app.createException))
	router.Method(http.MethodPut, "/api/exceptions/{date}",
		auth.Require(app.store, "exception:edit", app.updateException))
	router.Method(http.MethodDelete, "/api/exceptions/{date}",
		auth.Require(app.store, "exception:delete", app.deleteException))

	// Sounds
	router.Method(http.MethodGet, "/api/sounds", api.Handler(app.listSounds))
	router.Method(http.MethodPut, "/api/sounds/{display_name}",
		auth.Require(app.store, "sound:edit_display_name", app.putSound))
	router.Method(http.MethodDelete, "/api/sounds/{display_name}",
		auth.Require(app.store, "sound:disassociate", app.deleteSound))

	// General settings
	router.Method(http.MethodGet, "/api/settings", api.Handler(app.getSettings))
	router.Method(http.MethodPut, "/api/settings",
		auth.Require(app.store, "config_general:edit_settings", app.putSettings))

	// Users and roles
	router.Method(http.MethodGet, "/api/users",
		auth.Require(app.store, "user:view_list", app.listUsers))
	router.Method(http.MethodPost, "/api/users",
		auth.Require(app.store, "user:create", app.createUser))
	router.Method(http.MethodPut, "/api/users/{username}",
		auth.Require(app.store, "user:edit_details", app.updateUser))
	router.Method(http.MethodDelete, "/api/users/{username}",
		auth.Require(app.store, "user:delete", app.deleteUser))
	router.Method(http.MethodGet, "/api/roles", api.Handler(app.listRoles))
	router.Method(http.MethodPut, "/api/roles/{name}/permissions",
		auth.Require(app.store, "user_management:edit_role_permissions", app.putRolePermissions))
}

// ==========================================================================
// Day types
// ==========================================================================

func (app *App) listDayTypes(w http.ResponseWriter, r *http.Request) error {
	return api.WriteList(w, "journees_types", app.store.DayTypes())
}

func (app *App) createDayType(w http.ResponseWriter, r *http.Request) error {
	var dt store.DayType
	if err := json.NewDecoder(r.Body).Decode(&dt); err != nil {
		return apperrors.NewValidationError("invalid request body", nil)
	}
	if err := app.store.PutDayType(dt, false); err != nil {
		if errors.Is(err, store.ErrInUse) {
			return apperrors.NewConflictError("day type already exists: "+dt.Name, nil)
		}
		return apperrors.NewValidationError(err.Error(), nil)
	}
	app.notifyScheduler()
	return api.WriteResource(w, http.StatusCreated, dt)
}

func (app *App) updateDayType(w http.ResponseWriter, r *http.Request) error {
	name := chi.URLParam(r, "name")
	if _, ok := app.store.GetDayType(name); !ok {
		return apperrors.NewNotFoundResource(apperrors.ErrorCodeDayTypeNotFound, "day type", name)
	}
	var dt store.DayType
	if err := json.NewDecoder(r.Body).Decode(&dt); err != nil {
		return apperrors.NewValidationError("invalid request body", nil)
	}
	dt.Name = name
	if err := app.store.PutDayType(dt, true); err != nil {
		return apperrors.NewValidationError(err.Error(), nil)
	}
	app.notifyScheduler()
	return api.WriteResource(w, http.StatusOK, dt)
}

func (app *App) renameDayType(w http.ResponseWriter, r *http.Request) error {
	oldName := chi.URLParam(r, "name")
	var req struct {
		NewName string `json:"new_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.NewValidationError("invalid request body", nil)
	}
	if err := app.store.RenameDayType(oldName, req.NewName); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return apperrors.NewNotFoundResource(apperrors.ErrorCodeDayTypeNotFound, "day type", oldName)
		case errors.Is(err, store.ErrInUse):
			return apperrors.NewConflictError("day type already exists: "+req.NewName, nil)
		default:
			return apperrors.NewValidationError(err.Error(), nil)
		}
	}
	app.notifyScheduler()
	return api.WriteOK(w, "day type renamed")
}

func (app *App) deleteDayType(w http.ResponseWriter, r *http.Request) error {
	name := chi.URLParam(r, "name")
	if err := app.store.DeleteDayType(name); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return apperrors.NewNotFoundResource(apperrors.ErrorCodeDayTypeNotFound, "day type", name)
		case errors.Is(err, store.ErrInUse):
			return apperrors.NewAppError(apperrors.ErrorCodeDayTypeInUse,
				"day type is referenced by the weekly plan or an exception", 409, nil)
		default:
			return err
		}
	}
	app.notifyScheduler()
	return api.WriteOK(w, "day type deleted")
}

// ==========================================================================
// Weekly planning and exceptions
// ==========================================================================

func (app *App) getWeeklyPlan(w http.ResponseWriter, r *http.Request) error {
	return api.WriteList(w, "planning_hebdomadaire", app.store.WeeklyPlan())
}

func (app *App) putWeeklyPlan(w http.ResponseWriter, r *http.Request) error {
	var plan store.WeeklyPlan
	if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
		return apperrors.NewValidationError("invalid request body", nil)
	}
	if err := app.store.SetWeeklyPlan(plan); err != nil {
		return apperrors.NewValidationError(err.Error(), nil)
	}
	app.notifyScheduler()
	return api.WriteOK(w, "weekly planning saved")
}

func (app *App) listExceptions(w http.ResponseWriter, r *http.Request) error {
	return api.WriteList(w, "exceptions_planning", app.store.Exceptions())
}

type exceptionRequest struct {
	Date string `json:"date"`
	store.Exception
}

func (app *App) createException(w http.ResponseWriter, r *http.Request) error {
	var req exceptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.NewValidationError("invalid request body", nil)
	}
	if _, exists := app.store.Exceptions()[req.Date]; exists {
		return apperrors.NewConflictError("exception already exists for "+req.Date, nil)
	}
	if err := app.store.PutException(req.Date, req.Exception); err != nil {
		return apperrors.NewValidationError(err.Error(), nil)
	}
	app.notifyScheduler()
	return api.WriteResource(w, http.StatusCreated, req)
}

func (app *App) updateException(w http.ResponseWriter, r *http.Request) error {
	date := chi.URLParam(r, "date")
	if _, exists := app.store.Exceptions()[date]; !exists {
		return apperrors.NewNotFoundResource(apperrors.ErrorCodeExceptionNotFound, "exception", date)
	}
	var exc store.Exception
	if err := json.NewDecoder(r.Body).Decode(&exc); err != nil {
		return apperrors.NewValidationError("invalid request body", nil)
	}
	if err := app.store.PutException(date, exc); err != nil {
		return apperrors.NewValidationError(err.Error(), nil)
	}
	app.notifyScheduler()
	return api.WriteResource(w, http.StatusOK, exc)
}

func (app *App) deleteException(w http.ResponseWriter, r *http.Request) error {
	date := chi.URLParam(r, "date")
	if err := app.store.DeleteException(date); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.NewNotFoundResource(apperrors.ErrorCodeExceptionNotFound, "exception", date)
		}
		return err
	}
	app.notifyScheduler()
	return api.WriteOK(w, "exception deleted")
}

// ==========================================================================
// Sounds and settings
// ==========================================================================

func (app *App) listSounds(w http.ResponseWriter, r *http.Request) error {
	return api.WriteList(w, "sonneries", app.store.Sounds())
}

func (app *App) putSound(w http.ResponseWriter, r *http.Request) error {
	displayName := chi.URLParam(r, "display_name")
	var req struct {
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.NewValidationError("invalid request body", nil)
	}
	if _, err := app.player.ResolveSound(req.Filename); err != nil {
		return apperrors.NewAppError(apperrors.ErrorCodeSoundNotFound, err.Error(), 400, nil)
	}
	if err := app.store.PutSound(displayName, req.Filename); err != nil {
		return apperrors.NewValidationError(err.Error(), nil)
	}
	return api.WriteOK(w, "sound saved")
}

func (app *App) deleteSound(w http.ResponseWriter, r *http.Request) error {
	displayName := chi.URLParam(r, "display_name")
	if err := app.store.DeleteSound(displayName); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.NewNotFoundResource(apperrors.ErrorCodeSoundNotFound, "sound", displayName)
		}
		return err
	}
	return api.WriteOK(w, "sound removed")
}

func (app *App) getSettings(w http.ResponseWriter, r *http.Request) error {
	return api.WriteResource(w, http.StatusOK, app.store.Settings())
}

func (app *App) putSettings(w http.ResponseWriter, r *http.Request) error {
	previous := app.store.Settings()
	settings := previous
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		return apperrors.NewValidationError("invalid request body", nil)
	}
	// The alert sounds carry their own permission on top of the general one.
	alertSoundsChanged := settings.PPMSSound != previous.PPMSSound ||
		settings.AttackSound != previous.AttackSound ||
		settings.EndAlertSound != previous.EndAlertSound
	if alertSoundsChanged {
		if err := auth.Require(app.store, "config_general:edit_alert_sounds", noop)(w, r); err != nil {
			return err
		}
	}
	if err := app.store.UpdateSettings(settings); err != nil {
		return apperrors.NewValidationError(err.Error(), nil)
	}
	// Zone or API changes affect classification; rebuild the resolver too.
	app.refreshCalendars(false)
	return api.WriteResource(w, http.StatusOK, settings)
}

// ==========================================================================
// Users and roles
// ==========================================================================

// userView hides the password hash from list output.
type userView struct {
	Username          string           `json:"username"`
	FullName          string           `json:"full_name"`
	Role              string           `json:"role"`
	CustomPermissions permissions.Tree `json:"custom_permissions,omitempty"`
}

func (app *App) listUsers(w http.ResponseWriter, r *http.Request) error {
	users := app.store.Users()
	views := make([]userView, 0, len(users))
	for name, user := range users {
		views = append(views, userView{
			Username:          name,
			FullName:          user.FullName,
			Role:              user.Role,
			CustomPermissions: user.CustomPermissions,
		})
	}
	return api.WriteList(w, "users", views)
}

type userRequest struct {
	Username          string           `json:"username"`
	Password          string           `json:"password"`
	FullName          string           `json:"full_name"`
	Role              string           `json:"role"`
	CustomPermissions permissions.Tree `json:"custom_permissions,omitempty"`
}

func (app *App) createUser(w http.ResponseWriter, r *http.Request) error {
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.NewValidationError("invalid request body", nil)
	}
	if req.Username == "" || req.Password == "" {
		return apperrors.NewValidationError("username and password are required", nil)
	}
	if _, exists := app.store.GetUser(req.Username); exists {
		return apperrors.NewConflictError("user already exists: "+req.Username, nil)
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return apperrors.NewInternalError("failed to hash password")
	}
	user := store.User{Hash: hash, FullName: req.FullName, Role: req.Role, CustomPermissions: req.CustomPermissions}
	if err := app.store.PutUser(req.Username, user); err != nil {
		return err
	}
	return api.WriteResource(w, http.StatusCreated, userView{
		Username: req.Username, FullName: req.FullName, Role: user.Role,
		CustomPermissions: req.CustomPermissions,
	})
}

func (app *App) updateUser(w http.ResponseWriter, r *http.Request) error {
	username := chi.URLParam(r, "username")
	existing, ok := app.store.GetUser(username)
	if !ok {
		return apperrors.NewNotFoundResource(apperrors.ErrorCodeUserNotFound, "user", username)
	}
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.NewValidationError("invalid request body", nil)
	}
	if req.Password != "" {
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			return apperrors.NewInternalError("failed to hash password")
		}
		existing.Hash = hash
	}
	if req.FullName != "" {
		existing.FullName = req.FullName
	}
	if req.Role != "" {
		existing.Role = req.Role
	}
	if req.CustomPermissions != nil {
		existing.CustomPermissions = req.CustomPermissions
	}
	if err := app.store.PutUser(username, existing); err != nil {
		return err
	}
	return api.WriteResource(w, http.StatusOK, userView{
		Username: username, FullName: existing.FullName, Role: existing.Role,
		CustomPermissions: existing.CustomPermissions,
	})
}

func (app *App) deleteUser(w http.ResponseWriter, r *http.Request) error {
	username := chi.URLParam(r, "username")
	if user, ok := auth.UserFromContext(r.Context()); ok && user.Username == username {
		return apperrors.NewValidationError("cannot delete the logged-in account", nil)
	}
	if err := app.store.DeleteUser(username); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.NewNotFoundResource(apperrors.ErrorCodeUserNotFound, "user", username)
		}
		return err
	}
	return api.WriteOK(w, "user deleted")
}

func (app *App) listRoles(w http.ResponseWriter, r *http.Request) error {
	return api.WriteList(w, "roles", app.store.Roles())
}

func (app *App) putRolePermissions(w http.ResponseWriter, r *http.Request) error {
	name := chi.URLParam(r, "name")
	var req struct {
		Permissions permissions.Tree `json:"permissions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.NewValidationError("invalid request body", nil)
	}
	if err := app.store.SetRolePermissions(name, req.Permissions); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.NewNotFoundResource(apperrors.ErrorCodeRoleNotFound, "role", name)
		}
		return err
	}
	return api.WriteOK(w, "role permissions saved")
}
