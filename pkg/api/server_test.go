package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamguard/streamguard/pkg/config"
	"github.com/streamguard/streamguard/pkg/decision"
	"github.com/streamguard/streamguard/pkg/filter"
	"github.com/streamguard/streamguard/pkg/hub"
	"github.com/streamguard/streamguard/pkg/llm"
	"github.com/streamguard/streamguard/pkg/moderation"
	"github.com/streamguard/streamguard/pkg/models"
	"github.com/streamguard/streamguard/pkg/patterns"
	"github.com/streamguard/streamguard/pkg/policy"
	"github.com/streamguard/streamguard/pkg/ratelimit"
	"github.com/streamguard/streamguard/pkg/simulator"
	"github.com/streamguard/streamguard/pkg/template"
	"github.com/streamguard/streamguard/pkg/violation"
)

// newTestServer wires a full server against a stub LLM and a sqlmock-backed
// violation store.
func newTestServer(t *testing.T, llmHandler http.HandlerFunc) (*Server, sqlmock.Sqlmock) {
	t.Helper()

	llmSrv := httptest.NewServer(llmHandler)
	t.Cleanup(llmSrv.Close)

	llmCfg := llm.DefaultConfig(llmSrv.URL, "test-model")
	llmCfg.RetryBase = time.Millisecond
	llmClient := llm.NewClient(llmCfg, nil)

	limiter := ratelimit.NewMemoryStore(ratelimit.DefaultConfig())
	filterSvc := filter.NewService(limiter, patterns.NewMatcher(), true)

	reg := template.NewRegistry([]string{"chat_moderation"})
	tmplPath := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(tmplPath, []byte(`
templates:
  - name: chat_moderation
    version: v1
    safety_level: medium
    expected_output: json
    variables: [message, username, channel_id, filter_hints]
    body: |
      Answer with a JSON object {"decision":"...","confidence":0.0}.
      Message: {{message}} from {{username}} in {{channel_id}} ({{filter_hints}})
`), 0o600))
	require.NoError(t, reg.LoadFile(tmplPath))

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	violations := violation.NewStore(db)

	eventHub := hub.NewHub(0, nil)
	engine := policy.NewEngine()
	decider := decision.NewHandler(engine, violations, eventHub, nil, nil)
	orch := moderation.NewOrchestrator(moderation.DefaultConfig(), filterSvc, reg, llmClient, decider, nil)
	sim := simulator.NewManager(simulator.DefaultConfig(), orch)

	cfg := &config.Config{}
	srv := NewServer(cfg, nil, orch, filterSvc, reg, engine, llmClient, violations, eventHub, sim)
	t.Cleanup(sim.StopAll)
	return srv, mock
}

func cleanLLM(w http.ResponseWriter, r *http.Request) {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"content": `{"decision":"Non-Toxic","confidence":0.97}`}},
		},
	})
	_, _ = w.Write(body)
}

func expectEmptyHistory(mock sqlmock.Sqlmock) {
	mock.MatchExpectationsInOrder(false)
	mock.ExpectQuery(`SELECT severity, COUNT`).
		WillReturnRows(sqlmock.NewRows([]string{"severity", "count"}))
	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
}

func postJSON(t *testing.T, srv *Server, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func TestModerateHandler(t *testing.T) {
	t.Run("clean message returns allow event", func(t *testing.T) {
		srv, mock := newTestServer(t, cleanLLM)
		expectEmptyHistory(mock)

		rec := postJSON(t, srv, "/api/v1/moderate", ModerateRequest{
			UserID:    "user-1",
			ChannelID: "chan-1",
			Body:      "hello world",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var event models.ProcessedEvent
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &event))
		assert.Equal(t, models.VerdictNonToxic, event.Verdict.Decision)
		assert.Equal(t, models.ActionAllow, event.Action.Kind)
	})

	t.Run("missing user_id rejected", func(t *testing.T) {
		srv, _ := newTestServer(t, cleanLLM)
		rec := postJSON(t, srv, "/api/v1/moderate", ModerateRequest{ChannelID: "chan-1", Body: "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing channel_id rejected", func(t *testing.T) {
		srv, _ := newTestServer(t, cleanLLM)
		rec := postJSON(t, srv, "/api/v1/moderate", ModerateRequest{UserID: "user-1", Body: "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestFilterHandler(t *testing.T) {
	srv, _ := newTestServer(t, cleanLLM)

	rec := postJSON(t, srv, "/api/v1/filter", ModerateRequest{
		UserID:    "user-1",
		ChannelID: "chan-1",
		Body:      "kys",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var outcome models.FilterOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.False(t, outcome.ShouldProcess)
	assert.Equal(t, models.FilterFlagged, outcome.Decision)
	assert.Equal(t, models.PatternToxic, outcome.PatternType)
}

func TestDecideHandler(t *testing.T) {
	srv, _ := newTestServer(t, cleanLLM)

	rec := postJSON(t, srv, "/api/v1/decide", DecideRequest{
		Verdict: models.ModerationVerdict{Decision: models.VerdictToxic, Confidence: 0.95},
		Filter:  models.FilterOutcome{ShouldProcess: true, Decision: models.FilterPass},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var action models.Action
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &action))
	assert.Equal(t, models.ActionTimeout, action.Kind)
	assert.Equal(t, policy.ToxicTimeout, action.TimeoutDuration)
}

func TestListTemplatesHandler(t *testing.T) {
	srv, _ := newTestServer(t, cleanLLM)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/templates", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var infos []template.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "chat_moderation", infos[0].Name)
	assert.Equal(t, "v1", infos[0].Version)
}

func TestFilterStatsHandler(t *testing.T) {
	srv, _ := newTestServer(t, cleanLLM)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/filter/stats", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats FilterStatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Greater(t, stats.Patterns.PII, 0)
}

func TestUserViolationsHandler(t *testing.T) {
	srv, mock := newTestServer(t, cleanLLM)

	mock.ExpectQuery(`SELECT severity, COUNT`).
		WillReturnRows(sqlmock.NewRows([]string{"severity", "count"}).AddRow("high", 2))
	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT .+ FROM violations`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "message_id", "user_id", "channel_id",
			"decision", "severity", "action_kind", "reason", "created_at", "expires_at",
		}).AddRow("v-1", "msg-1", "user-1", "chan-1", "Toxic", "high", "timeout", "toxic", time.Now(), nil))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/user-1/violations", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ViolationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "user-1", resp.UserID)
	assert.Equal(t, 2, resp.Counts.Total)
	require.Len(t, resp.Violations, 1)
	assert.Equal(t, models.VerdictToxic, resp.Violations[0].Decision)
}

func TestSimulateHandlers(t *testing.T) {
	srv, mock := newTestServer(t, cleanLLM)
	expectEmptyHistory(mock)

	rec := postJSON(t, srv, "/api/v1/simulate/start", SimulateRequest{ChannelID: "chan-9"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SimulateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "started", resp.Status)
	assert.Contains(t, resp.Running, "chan-9")

	rec = postJSON(t, srv, "/api/v1/simulate/start", SimulateRequest{ChannelID: "chan-9"})
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "already_running", resp.Status)

	rec = postJSON(t, srv, "/api/v1/simulate/stop", SimulateRequest{ChannelID: "chan-9"})
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "stopped", resp.Status)
	assert.Empty(t, resp.Running)

	rec = postJSON(t, srv, "/api/v1/simulate/stop", SimulateRequest{ChannelID: "chan-9"})
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not_running", resp.Status)
}

func TestHealthHandler(t *testing.T) {
	srv, _ := newTestServer(t, cleanLLM)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "healthy", resp.Checks["llm"].Status)
}

func TestSecurityHeaders(t *testing.T) {
	srv, _ := newTestServer(t, cleanLLM)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}
