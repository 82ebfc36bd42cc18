package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxzi/disparos/internal/config"
	"github.com/foxzi/disparos/internal/db"
	"github.com/foxzi/disparos/internal/dispatch"
	"github.com/foxzi/disparos/internal/models"
	"github.com/foxzi/disparos/internal/ratelimit"
	"github.com/foxzi/disparos/internal/repository"
	"github.com/foxzi/disparos/internal/sheet"
	"github.com/foxzi/disparos/internal/webhook"
)

const testUser = "user-1"

type fakeSheets struct {
	data *models.ParsedData
	err  error
}

func (f *fakeSheets) FetchGoogleSheet(_ context.Context, link string) (*models.ParsedData, error) {
	if _, err := sheet.ExportURL(link); err != nil {
		return nil, err
	}
	return f.data, f.err
}

type testEnv struct {
	server    *Server
	batches   *repository.BatchRepository
	campaigns *repository.CampaignRepository
	settings  *repository.SettingsRepository
	history   *repository.HistoryRepository
	sheets    *fakeSheets
	hook      *httptest.Server
	hookCode  atomic.Int32
	hookHits  atomic.Int32
}

func setupTestServer(t *testing.T, apiKey string) *testEnv {
	t.Helper()

	database, err := db.New(db.DriverSQLite, filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())

	env := &testEnv{
		batches:   repository.NewBatchRepository(database),
		campaigns: repository.NewCampaignRepository(database),
		settings:  repository.NewSettingsRepository(database),
		history:   repository.NewHistoryRepository(database),
		sheets:    &fakeSheets{},
	}
	env.hookCode.Store(http.StatusOK)
	env.hook = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.hookHits.Add(1)
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(int(env.hookCode.Load()))
	}))
	t.Cleanup(env.hook.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiter := ratelimit.NewSQLLimiter(env.settings, ratelimit.Clock{Location: time.UTC})
	client := webhook.NewClient(5 * time.Second)

	worker := dispatch.NewWorker(dispatch.Deps{
		Batches:   env.batches,
		Settings:  env.settings,
		Campaigns: env.campaigns,
		History:   env.history,
		Limiter:   limiter,
		Sender:    client,
	}, dispatch.DefaultConfig(), logger)

	env.server = NewServer(ServerOptions{
		Config:     &config.APIConfig{ListenAddr: ":8080", APIKey: apiKey},
		Import:     &config.ImportConfig{MaxUploadBytes: 1 << 20, DefaultBatchSize: 50},
		Batches:    env.batches,
		Campaigns:  env.campaigns,
		Settings:   env.settings,
		History:    env.history,
		Dispatcher: dispatch.NewDispatcher(env.batches, env.campaigns, worker, logger),
		Limiter:    limiter,
		Webhook:    client,
		Sheets:     env.sheets,
		Logger:     logger,
		Version:    "test",
	})
	return env
}

// do sends a request as testUser and returns the recorder
func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(UserIDHeader, testUser)

	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), "body: %s", w.Body.String())
	return v
}

// setupWebhook stores settings pointing at the test webhook
func (e *testEnv) setupWebhook(t *testing.T, limit int) {
	t.Helper()
	w := e.do("PUT", "/api/v1/settings", SettingsRequest{WebhookURL: e.hook.URL, DailyDispatchLimit: limit})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func (e *testEnv) createCampaign(t *testing.T, name string) models.Campaign {
	t.Helper()
	w := e.do("POST", "/api/v1/campaigns", CampaignRequest{Name: name, Objective: "vendas"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.Campaign](t, w)
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestServer(t, "secret")

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
}

func TestAuthMiddleware(t *testing.T) {
	env := setupTestServer(t, "test-api-key")

	tests := []struct {
		name     string
		header   string
		value    string
		userID   string
		wantCode int
	}{
		{"no key", "", "", testUser, http.StatusUnauthorized},
		{"wrong key", "X-API-Key", "wrong", testUser, http.StatusUnauthorized},
		{"bearer", "Authorization", "Bearer test-api-key", testUser, http.StatusOK},
		{"api key header", "X-API-Key", "test-api-key", testUser, http.StatusOK},
		{"missing user", "X-API-Key", "test-api-key", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/settings", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			if tt.userID != "" {
				req.Header.Set(UserIDHeader, tt.userID)
			}
			w := httptest.NewRecorder()
			env.server.Handler().ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
		})
	}
}

func TestSettingsEndpoints(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do("GET", "/api/v1/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	defaults := decode[models.UserSettings](t, w)
	assert.Equal(t, models.DefaultDailyDispatchLimit, defaults.DailyDispatchLimit)
	assert.Empty(t, defaults.WebhookURL)

	w = env.do("PUT", "/api/v1/settings", SettingsRequest{WebhookURL: "ftp://example.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do("PUT", "/api/v1/settings", SettingsRequest{WebhookURL: "https://hooks.example.com/x", DailyDispatchLimit: -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do("PUT", "/api/v1/settings", SettingsRequest{WebhookURL: "https://hooks.example.com/x", DailyDispatchLimit: 200})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	saved := decode[models.UserSettings](t, w)
	assert.Equal(t, "https://hooks.example.com/x", saved.WebhookURL)
	assert.Equal(t, 200, saved.DailyDispatchLimit)

	w = env.do("GET", "/api/v1/usage", nil)
	require.Equal(t, http.StatusOK, w.Code)
	usage := decode[map[string]int](t, w)
	assert.Equal(t, map[string]int{"limit": 200, "used": 0, "remaining": 200}, usage)
}

func TestUsageWithoutSettings(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do("GET", "/api/v1/usage", nil)
	require.Equal(t, http.StatusOK, w.Code)
	usage := decode[map[string]int](t, w)
	assert.Equal(t, models.DefaultDailyDispatchLimit, usage["remaining"])
}

func TestWebhookTestEndpoint(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do("POST", "/api/v1/settings/webhook/test", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "no stored URL")

	env.setupWebhook(t, 0)
	w = env.do("POST", "/api/v1/settings/webhook/test", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[WebhookTestResponse](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.EqualValues(t, 1, env.hookHits.Load())

	env.hookCode.Store(http.StatusNotFound)
	w = env.do("POST", "/api/v1/settings/webhook/test", WebhookTestRequest{URL: env.hook.URL})
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode[WebhookTestResponse](t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, http.StatusNotFound, resp.Status)
}

func TestHistoryEndpoint(t *testing.T) {
	env := setupTestServer(t, "")
	env.setupWebhook(t, 0)
	c := env.createCampaign(t, "Campanha")

	w := env.do("POST", "/api/v1/imports/example", ExampleImportRequest{CampaignID: c.ID, Count: 20, BatchSize: 10})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	imp := decode[ImportResponse](t, w)

	env.hookCode.Store(http.StatusInternalServerError)
	env.do("POST", "/api/v1/batches/"+imp.Batches[0].ID+"/send", nil)
	env.hookCode.Store(http.StatusOK)
	env.do("POST", "/api/v1/batches/"+imp.Batches[1].ID+"/send", nil)

	w = env.do("GET", "/api/v1/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Items []models.DispatchHistory `json:"items"`
		Total int                      `json:"total"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&page))
	assert.Equal(t, 2, page.Total)

	w = env.do("GET", "/api/v1/history?status=error", nil)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, imp.Batches[0].ID, page.Items[0].BatchID)
	require.NotNil(t, page.Items[0].ResponseStatus)
	assert.Equal(t, 500, *page.Items[0].ResponseStatus)
}
