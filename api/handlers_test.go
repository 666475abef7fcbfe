package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"racecontrol-api/api"
	"racecontrol-api/api/services"
	"racecontrol-api/db"
	"racecontrol-api/pkg/domain"
	embeddednats "racecontrol-api/pkg/services/embedded-nats"
	"racecontrol-api/pkg/shared"
)

type testAPI struct {
	mux *http.ServeMux
	en  *embeddednats.EmbeddedNATS
}

// newTestAPI boots the full stack: SQLite in a temp dir, embedded NATS
// on a random port, handlers registered behind the real auth middleware.
// Seeds one admin and one racer account.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	dbService, err := db.New(&db.Config{
		DBPath:         filepath.Join(t.TempDir(), "racecontrol.db"),
		MaxOpenConns:   1,
		MaxIdleConns:   1,
		AutoInitialize: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbService.Close() })

	config := embeddednats.DefaultConfig()
	config.Port = -1
	config.DataDir = t.TempDir()

	en, err := embeddednats.New(config)
	require.NoError(t, err)
	require.NoError(t, en.Start())
	require.NoError(t, en.CreateRaceControlStreams())
	t.Cleanup(func() { _ = en.Shutdown(context.Background()) })

	handlers, err := api.NewHandlers(dbService, en, 0.01)
	require.NoError(t, err)
	t.Cleanup(handlers.TrackingManager().Shutdown)

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, en)

	users := services.NewUserService(dbService.GetDB(), nil)
	_, err = users.CreateUser(&domain.CreateUserRequest{Username: "root", Password: "hunter2", Type: "admin"})
	require.NoError(t, err)
	_, err = users.CreateUser(&domain.CreateUserRequest{Username: "alice", Password: "hunter2"})
	require.NoError(t, err)

	return &testAPI{mux: mux, en: en}
}

func (a *testAPI) request(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) login(t *testing.T, username, password string) string {
	t.Helper()

	rec := a.request(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.Token)

	return resp.Data.Token
}

func TestUserManagementRequiresAdmin(t *testing.T) {
	a := newTestAPI(t)
	adminToken := a.login(t, "root", "hunter2")
	racerToken := a.login(t, "alice", "hunter2")

	body := map[string]string{"username": "bob", "password": "hunter2"}

	rec := a.request(t, http.MethodPost, "/api/v1/users", "", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.request(t, http.MethodPost, "/api/v1/users", racerToken, body)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), "FORBIDDEN")

	rec = a.request(t, http.MethodPost, "/api/v1/users", adminToken, body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Data struct {
			UserID string `json:"user_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Data.UserID)

	rec = a.request(t, http.MethodPut, "/api/v1/users?user_id="+created.Data.UserID, racerToken, map[string]string{"username": "bobby"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.request(t, http.MethodDelete, "/api/v1/users?user_id="+created.Data.UserID, racerToken, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Reads stay open to any authenticated user.
	rec = a.request(t, http.MethodGet, "/api/v1/users", racerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.request(t, http.MethodPut, "/api/v1/users?user_id="+created.Data.UserID, adminToken, map[string]string{"username": "bobby"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.request(t, http.MethodDelete, "/api/v1/users?user_id="+created.Data.UserID, adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestTelemetryIngestDeduplicates(t *testing.T) {
	a := newTestAPI(t)
	token := a.login(t, "alice", "hunter2")

	body := map[string]interface{}{
		"race_id":     "race-1",
		"document_id": "doc-1",
		"record": map[string]string{
			"race_id":      "Spring Rally",
			"car_id":       "car1",
			"location":     "[0.10° N, 0.10° E]",
			"acceleration": "1.0",
			"time":         "2024-05-01 10:00:00UTC+0",
		},
	}

	// A provider retry of the same sample collapses inside the stream's
	// duplicate window.
	for i := 0; i < 2; i++ {
		rec := a.request(t, http.MethodPost, "/api/v1/telemetry", token, body)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	info, err := a.en.JetStream().StreamInfo(shared.StreamTelemetry)
	require.NoError(t, err)
	require.EqualValues(t, 1, info.State.Msgs)
}

func TestHealthEndpoint(t *testing.T) {
	a := newTestAPI(t)

	rec := a.request(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"healthy"`)
	require.Contains(t, rec.Body.String(), `"database":"healthy"`)
	require.Contains(t, rec.Body.String(), `"nats":"healthy"`)
}
