package apiservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwt "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.ApiService/implementation/jwt"
	config "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Config"
	evaluator "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Evaluator"
	health "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Health"
	logger "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Logger"
	iowmodels "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Models"
	implementation "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Repository/Implementation"
	interfaces "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Repository/Interfaces"
	store "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Store"
)

type testAPI struct {
	router     *gin.Engine
	thresholds *store.ThresholdStore
	token      string
}

func testConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{JWTSecretKey: "test-secret", JWTAudience: "authenticated"},
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		},
	}
}

func setupTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testConfig()
	thresholds := store.NewThresholdStore(implementation.NewMemoryThresholdRepository())
	events := store.NewEventStore(implementation.NewMemoryEventRepository())
	tokens := jwt.NewService(cfg.Auth)

	token, err := tokens.SignAccessToken("operator-1", time.Minute)
	require.NoError(t, err)

	router := NewRouter(cfg, Dependencies{
		Thresholds: thresholds,
		Events:     events,
		Snapshot:   implementation.NewMemoryLatestCache(),
		Evaluator:  evaluator.New(thresholds, events, logger.Nop()),
		Health:     health.NewHealthChecker(),
		Tokens:     tokens,
	}, logger.Nop())

	return &testAPI{router: router, thresholds: thresholds, token: token}
}

func (a *testAPI) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestUnauthenticatedWritesAreRejected(t *testing.T) {
	api := setupTestAPI(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		token  string
	}{
		{name: "replace without token", method: http.MethodPut, path: "/api/thresholds", body: `{"value": 30}`},
		{name: "replace with bad token", method: http.MethodPut, path: "/api/thresholds", body: `{"value": 30}`, token: "forged"},
		{name: "delete without token", method: http.MethodDelete, path: "/api/thresholds/abc"},
		{name: "submit without token", method: http.MethodPost, path: "/api/readings", body: `{"temperature": 30}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(t, tt.method, tt.path, tt.body, tt.token)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, decode[map[string]string](t, w), "error")
		})
	}

	// nothing was written
	w := api.do(t, http.MethodGet, "/api/thresholds/latest", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "null", w.Body.String())
}

func TestNonBearerSchemeIsRejected(t *testing.T) {
	api := setupTestAPI(t)

	req := httptest.NewRequest(http.MethodPut, "/api/thresholds", bytes.NewReader([]byte(`{"value": 30}`)))
	req.Header.Set("Authorization", "Basic "+api.token)
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReplaceThresholdKeepsOnlyNewest(t *testing.T) {
	api := setupTestAPI(t)

	w := api.do(t, http.MethodPut, "/api/thresholds", `{"value": 30}`, api.token)
	require.Equal(t, http.StatusCreated, w.Code)

	w = api.do(t, http.MethodPut, "/api/thresholds", `{"value": 35, "note": "heatwave"}`, api.token)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[iowmodels.Threshold](t, w)
	assert.Equal(t, 35.0, created.Value)
	assert.Equal(t, "heatwave", *created.Note)

	w = api.do(t, http.MethodGet, "/api/thresholds", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[[]iowmodels.Threshold](t, w)
	require.Len(t, history, 1)
	assert.Equal(t, 35.0, history[0].Value)

	w = api.do(t, http.MethodGet, "/api/thresholds/latest", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.ID, decode[iowmodels.Threshold](t, w).ID)
}

func TestReplaceThresholdValidation(t *testing.T) {
	api := setupTestAPI(t)

	for _, body := range []string{`{}`, `{"value": "hot"}`, `{"value": null}`, `not json`} {
		w := api.do(t, http.MethodPut, "/api/thresholds", body, api.token)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}

	for body, want := range map[string]string{
		`{}`:                      "invalid value: is required",
		`{"value": "hot"}`:        "invalid value: must be a number",
		`{"value": 1, "note": 5}`: "invalid note: must be a string",
		`{"value": 1, "note": [`:  "invalid body: must be valid JSON",
	} {
		w := api.do(t, http.MethodPut, "/api/thresholds", body, api.token)
		require.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, want, decode[map[string]string](t, w)["error"], body)
	}

	w := api.do(t, http.MethodPost, "/api/readings", `{"temperature": true}`, api.token)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid temperature: must be a number", decode[map[string]string](t, w)["error"])

	w = api.do(t, http.MethodGet, "/api/thresholds?limit=0", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = api.do(t, http.MethodGet, "/api/thresholds?limit=ten", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = api.do(t, http.MethodGet, "/api/thresholds?limit=500", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDeleteThreshold(t *testing.T) {
	api := setupTestAPI(t)

	created, err := api.thresholds.Replace(context.Background(), 25, nil)
	require.NoError(t, err)

	w := api.do(t, http.MethodDelete, "/api/thresholds/unknown", "", api.token)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(t, http.MethodDelete, "/api/thresholds/"+created.ID, "", api.token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Threshold with ID "+created.ID+" deleted.", decode[map[string]string](t, w)["message"])

	w = api.do(t, http.MethodDelete, "/api/thresholds/"+created.ID, "", api.token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReadingsFlow(t *testing.T) {
	api := setupTestAPI(t)

	// no threshold yet
	w := api.do(t, http.MethodPost, "/api/readings", `{"temperature": 40}`, api.token)
	assert.Equal(t, http.StatusNoContent, w.Code)

	_, err := api.thresholds.Replace(context.Background(), 30, nil)
	require.NoError(t, err)

	w = api.do(t, http.MethodPost, "/api/readings", `{"temperature": 29.5}`, api.token)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = api.do(t, http.MethodPost, "/api/readings", `{"temperature": 30}`, api.token)
	require.Equal(t, http.StatusCreated, w.Code)
	event := decode[iowmodels.TriggeredEvent](t, w)
	assert.Equal(t, 30.0, event.ThresholdValue)

	w = api.do(t, http.MethodPost, "/api/readings", `{"temp": 30}`, api.token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodGet, "/api/readings", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[[]map[string]any](t, w)
	require.Len(t, page, 1)
	assert.Equal(t, 30.0, page[0]["temperature"])
	assert.Equal(t, 30.0, page[0]["threshold_value"])
	assert.Contains(t, page[0], "recorded_at")

	w = api.do(t, http.MethodGet, "/api/readings?page=2", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())

	w = api.do(t, http.MethodGet, "/api/readings/latest", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	snapshot := decode[map[string]any](t, w)
	assert.Equal(t, 30.0, snapshot["temperature"])
	assert.Equal(t, "disconnected", snapshot["connection_state"])
}

func TestReadingsPageValidation(t *testing.T) {
	api := setupTestAPI(t)

	for _, page := range []string{"0", "-1", "abc", "1.5", "-99999999999999999999"} {
		w := api.do(t, http.MethodGet, "/api/readings?page="+page, "", "")
		assert.Equal(t, http.StatusBadRequest, w.Code, page)
	}
}

func TestReadingsPageBeyondIntRangeIsEmpty(t *testing.T) {
	api := setupTestAPI(t)

	_, err := api.thresholds.Replace(context.Background(), 30, nil)
	require.NoError(t, err)
	w := api.do(t, http.MethodPost, "/api/readings", `{"temperature": 31}`, api.token)
	require.Equal(t, http.StatusCreated, w.Code)

	w = api.do(t, http.MethodGet, "/api/readings?page=99999999999999999999", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestRequestIDIsEchoed(t *testing.T) {
	api := setupTestAPI(t)

	w := api.do(t, http.MethodGet, "/health/live", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

type brokenThresholds struct{}

func (brokenThresholds) GetCurrent(context.Context) (*iowmodels.Threshold, error) {
	return nil, interfaces.WrapStorage("get current threshold", errors.New("connection refused"))
}

func (brokenThresholds) Replace(context.Context, float64, *string) (iowmodels.Threshold, error) {
	return iowmodels.Threshold{}, interfaces.WrapStorage("begin threshold transaction", errors.New("connection refused"))
}

func (brokenThresholds) Delete(context.Context, string) error {
	return interfaces.WrapStorage("delete threshold", errors.New("connection refused"))
}

func (brokenThresholds) History(context.Context, int) ([]iowmodels.Threshold, error) {
	return nil, interfaces.WrapStorage("list thresholds", errors.New("connection refused"))
}

func TestStorageFailuresAre500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig()
	tokens := jwt.NewService(cfg.Auth)
	token, err := tokens.SignAccessToken("operator-1", time.Minute)
	require.NoError(t, err)

	checker := health.NewHealthChecker()
	checker.AddCheck("postgres", true, func(context.Context) error { return errors.New("down") })
	var logs bytes.Buffer

	api := &testAPI{router: NewRouter(cfg, Dependencies{
		Thresholds: brokenThresholds{},
		Events:     store.NewEventStore(implementation.NewMemoryEventRepository()),
		Snapshot:   implementation.NewMemoryLatestCache(),
		Evaluator:  evaluator.New(brokenThresholds{}, store.NewEventStore(implementation.NewMemoryEventRepository()), logger.Nop()),
		Health:     checker,
		Tokens:     tokens,
	}, logger.New(&logs))}

	for _, req := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/thresholds", ""},
		{http.MethodGet, "/api/thresholds/latest", ""},
		{http.MethodPut, "/api/thresholds", `{"value": 1}`},
		{http.MethodDelete, "/api/thresholds/x", ""},
		{http.MethodPost, "/api/readings", `{"temperature": 1}`},
	} {
		w := api.do(t, req.method, req.path, req.body, token)
		assert.Equal(t, http.StatusInternalServerError, w.Code, req.path)
		assert.Equal(t, "storage unavailable", decode[map[string]string](t, w)["error"])
	}

	var failures int
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		if entry["message"] == "Request failed" {
			failures++
			assert.NotEmpty(t, entry["request_id"])
			assert.Contains(t, entry["error"], "connection refused")
		}
	}
	assert.Equal(t, 5, failures)

	w := api.do(t, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
