package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mwehrli/carillon/internal/auth"
	"github.com/mwehrli/carillon/internal/config"
	"github.com/mwehrli/carillon/internal/store"
)

type testEnv struct {
	server *httptest.Server
	client *http.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	configDir := t.TempDir()
	mp3Dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(mp3Dir, "bell.mp3"), []byte("mp3"), 0o644))

	adminHash, err := auth.HashPassword("admin-pass")
	require.NoError(t, err)
	readerHash, err := auth.HashPassword("reader-pass")
	require.NoError(t, err)
	users := fmt.Sprintf(`{
		"admin": {"hash": %q, "full_name": "Admin", "role": "administrateur"},
		"reader": {"hash": %q, "full_name": "Reader", "role": "lecteur"}
	}`, adminHash, readerHash)
	require.NoError(t, os.WriteFile(filepath.Join(configDir, store.UsersFile), []byte(users), 0o644))

	cfg := config.Config{
		Host:                "127.0.0.1",
		Port:                "0",
		ConfigDir:           configDir,
		MP3Dir:              mp3Dir,
		SessionSecret:       "0123456789abcdef0123456789abcdef",
		SessionExpirySec:    3600,
		HTTPTimeoutSec:      5,
		LookaheadLimitDays:  60,
		HolidayCacheExpiryD: 7,
	}

	handler, shutdown, err := NewHandler(cfg, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		_ = shutdown(context.Background())
	})

	return &testEnv{server: srv, client: srv.Client()}
}

func (env *testEnv) login(t *testing.T, username, password string) *http.Cookie {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := env.client.Post(env.server.URL+"/api/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	for _, cookie := range resp.Cookies() {
		if cookie.Name == auth.SessionCookie {
			return cookie
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func (env *testEnv) do(t *testing.T, method, path string, cookie *http.Cookie, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, env.server.URL+path, reader)
	require.NoError(t, err)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := env.client.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.client.Get(env.server.URL + "/api/status")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = env.client.Get(env.server.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLogin_BadCredentials(t *testing.T) {
	env := newTestEnv(t)

	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "nope"})
	resp, err := env.client.Post(env.server.URL+"/api/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPlanningActivation_PermissionGated(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "admin", "admin-pass")
	reader := env.login(t, "reader", "reader-pass")

	// lecteur has no scheduler permission.
	resp := env.do(t, http.MethodPost, "/api/planning/activate", reader, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// administrateur carries admin:has_all_permissions.
	resp = env.do(t, http.MethodPost, "/api/planning/activate", admin, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status := decodeBody(t, env.do(t, http.MethodGet, "/api/status", admin, nil))
	require.Equal(t, true, status["schedule_active"])

	resp = env.do(t, http.MethodPost, "/api/planning/deactivate", admin, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDayTypeCRUDAndIntegrity(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "admin", "admin-pass")

	dayType := map[string]any{
		"nom": "Standard",
		"periodes": []map[string]any{
			{"nom": "P1", "heure_debut": "08:00:00", "heure_fin": "08:55:00", "sonnerie_debut": "bell.mp3"},
		},
	}
	resp := env.do(t, http.MethodPost, "/api/day_types", admin, dayType)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Duplicate create conflicts.
	resp = env.do(t, http.MethodPost, "/api/day_types", admin, dayType)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	// Reference it from the weekly plan, then deletion must 409.
	resp = env.do(t, http.MethodPut, "/api/weekly_planning", admin, map[string]string{"Lundi": "Standard"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/api/day_types/Standard", admin, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	// Unreference and delete.
	resp = env.do(t, http.MethodPut, "/api/weekly_planning", admin, map[string]string{"Lundi": "Aucune"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/api/day_types/Standard", admin, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDailySchedule(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "admin", "admin-pass")

	resp := env.do(t, http.MethodGet, "/api/daily_schedule?date=2025-06-14", admin, nil)
	payload := decodeBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, payload, "day_type")

	resp = env.do(t, http.MethodGet, "/api/daily_schedule?date=bogus", admin, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCalendarView(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "admin", "admin-pass")

	resp := env.do(t, http.MethodGet, "/api/calendar_view?year=2025-2026&view_type=month&month=9", admin, nil)
	payload := decodeBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	days, ok := payload["days"].(map[string]any)
	require.True(t, ok)
	require.Len(t, days, 30) // September

	resp = env.do(t, http.MethodGet, "/api/calendar_view?year=2025-2027", admin, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAlertTrigger_MissingFileRejected(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "admin", "admin-pass")

	resp := env.do(t, http.MethodPost, "/api/alert/trigger/ghost.mp3", admin, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	status := decodeBody(t, env.do(t, http.MethodGet, "/api/status", admin, nil))
	require.Equal(t, false, status["alert_active"])
}

func TestConfigReload(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "admin", "admin-pass")

	resp := env.do(t, http.MethodPost, "/api/config/reload", admin, nil)
	payload := decodeBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", payload["status"])
}
