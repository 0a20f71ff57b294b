package controller

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"focusroom-be/internal/pkg/logger"
	"focusroom-be/internal/pkg/serverutils"
	"focusroom-be/internal/repository/memory"
	"focusroom-be/internal/service"
	"focusroom-be/pkg/intervention"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "controller-test-secret"

type readyBackend struct{}

func (readyBackend) Start(context.Context, intervention.GenerationRequest) (intervention.Acceptance, error) {
	return intervention.Acceptance{Done: true, ResultRef: `{"intro":"ok"}`}, nil
}

func (readyBackend) Status(context.Context, string) (intervention.ExternalStatus, error) {
	return intervention.ExternalStatus{Status: intervention.JobReady}, nil
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	t.Setenv("JWT_SECRET", testSecret)

	log := logger.NewNop()
	cfg := intervention.DefaultConfig()
	dispatcher := intervention.NewDispatcher(cfg,
		intervention.WithBackend(intervention.KindReprompt, readyBackend{}),
		intervention.WithBackend(intervention.KindVideo, readyBackend{}),
	)
	sessions := memory.NewSessionRepository(time.Hour)
	scheduler := intervention.NewScheduler(cfg, dispatcher, intervention.WithSessionStore(sessions))
	svc := service.NewInterventionService(scheduler, nil, log)
	t.Cleanup(svc.Shutdown)

	app := fiber.New()
	app.Use(serverutils.ErrorHandlerMiddleware())
	api := app.Group("/api")
	NewInterventionController(svc).RegisterRoutes(api)
	NewAdminController(log, sessions).RegisterRoutes(api)
	return app
}

func token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func do(t *testing.T, app *fiber.App, method, path, tok, body string) (int, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestInterventionRoutesRequireToken(t *testing.T) {
	app := newTestApp(t)

	code, _ := do(t, app, http.MethodGet, "/api/intervention/v1/state", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = do(t, app, http.MethodGet, "/api/intervention/v1/state", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestPostSignalValidation(t *testing.T) {
	app := newTestApp(t)
	tok := token(t, jwt.MapClaims{"user_id": "u1"})

	code, body := do(t, app, http.MethodPost, "/api/intervention/v1/signals", tok, `{"kind":"confusion","level":1.5}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["message"], "level")

	code, _ = do(t, app, http.MethodPost, "/api/intervention/v1/signals", tok, `{"kind":"boredom","level":0.5}`)
	assert.Equal(t, http.StatusBadRequest, code)

	// level 0 is a real observation, not a missing field
	code, _ = do(t, app, http.MethodPost, "/api/intervention/v1/signals", tok, `{"kind":"distraction","level":0}`)
	assert.Equal(t, http.StatusOK, code)
}

func TestSignalContextEvaluateFlow(t *testing.T) {
	app := newTestApp(t)
	tok := token(t, jwt.MapClaims{"user_id": "u1"})

	code, _ := do(t, app, http.MethodPost, "/api/intervention/v1/context", tok, `{"topic":"cells","text":"Mitochondria make ATP."}`)
	require.Equal(t, http.StatusOK, code)

	code, body := do(t, app, http.MethodPost, "/api/intervention/v1/signals", tok, `{"kind":"confusion","level":0.9}`)
	require.Equal(t, http.StatusOK, code)
	state := body["data"].(map[string]interface{})
	assert.InDelta(t, 0.63, state["smoothed_level"], 1e-9)

	code, body = do(t, app, http.MethodPost, "/api/intervention/v1/evaluate", tok, "")
	require.Equal(t, http.StatusOK, code)
	res := body["data"].(map[string]interface{})
	assert.EqualValues(t, 1, res["fired"])

	var jobID string
	for _, d := range res["decisions"].([]interface{}) {
		dm := d.(map[string]interface{})
		if dm["fire"] == true {
			jobID = dm["job"].(map[string]interface{})["id"].(string)
		}
	}
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		code, body := do(t, app, http.MethodGet, "/api/intervention/v1/jobs/"+jobID, tok, "")
		return code == http.StatusOK && body["data"].(map[string]interface{})["status"] == "ready"
	}, 2*time.Second, 10*time.Millisecond)

	code, body = do(t, app, http.MethodGet, "/api/intervention/v1/decisions?limit=5", tok, "")
	require.Equal(t, http.StatusOK, code)
	assert.NotZero(t, body["data"].(map[string]interface{})["count"])
}

func TestJobOwnershipAndMissing(t *testing.T) {
	app := newTestApp(t)
	owner := token(t, jwt.MapClaims{"user_id": "u1"})
	other := token(t, jwt.MapClaims{"user_id": "u2"})

	do(t, app, http.MethodPost, "/api/intervention/v1/context", owner, `{"topic":"cells","text":"ATP"}`)
	do(t, app, http.MethodPost, "/api/intervention/v1/signals", owner, `{"kind":"explicit_request","level":0.9}`)
	_, body := do(t, app, http.MethodPost, "/api/intervention/v1/evaluate", owner, "")

	var jobID string
	for _, d := range body["data"].(map[string]interface{})["decisions"].([]interface{}) {
		dm := d.(map[string]interface{})
		if dm["fire"] == true {
			jobID = dm["job"].(map[string]interface{})["id"].(string)
		}
	}
	require.NotEmpty(t, jobID)

	code, _ := do(t, app, http.MethodGet, "/api/intervention/v1/jobs/"+jobID, other, "")
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = do(t, app, http.MethodGet, "/api/intervention/v1/jobs/missing", owner, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDecisionHistoryWithoutDatabase(t *testing.T) {
	app := newTestApp(t)
	tok := token(t, jwt.MapClaims{"user_id": "u1"})

	code, _ := do(t, app, http.MethodGet, "/api/intervention/v1/decisions/history", tok, "")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, _ = do(t, app, http.MethodGet, "/api/intervention/v1/decisions/history?action=maybe", tok, "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, app, http.MethodGet, "/api/intervention/v1/patterns", tok, "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	app := newTestApp(t)

	code, _ := do(t, app, http.MethodGet, "/api/admin/v1/scheduler", token(t, jwt.MapClaims{"user_id": "u1", "role": "user"}), "")
	assert.Equal(t, http.StatusForbidden, code)

	admin := token(t, jwt.MapClaims{"user_id": "a1", "role": "admin"})
	do(t, app, http.MethodPost, "/api/intervention/v1/signals", token(t, jwt.MapClaims{"user_id": "u1"}), `{"kind":"fatigue","level":0.2}`)

	code, body := do(t, app, http.MethodGet, "/api/admin/v1/scheduler", admin, "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["data"].(map[string]interface{})["active_sessions"])

	code, _ = do(t, app, http.MethodGet, "/api/admin/v1/logs?level=TRACE", admin, "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, app, http.MethodGet, "/api/admin/v1/logs", admin, "")
	assert.Equal(t, http.StatusOK, code)
}
