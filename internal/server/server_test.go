package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorscope/audit-cli/internal/config"
	"github.com/creatorscope/audit-cli/internal/model"
	"github.com/creatorscope/audit-cli/internal/store"
)

type runnerCall struct {
	method    string
	orgID     string
	input     string
	auditType model.AuditType
	auditID   string
}

// stubRunner records invocations and signals done so tests can wait for
// the background goroutines the handlers spawn.
type stubRunner struct {
	mu     sync.Mutex
	calls  []runnerCall
	done   chan struct{}
	err    error
	active bool
}

func newStubRunner() *stubRunner {
	return &stubRunner{done: make(chan struct{}, 8)}
}

func (s *stubRunner) record(c runnerCall) {
	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.mu.Unlock()
	s.done <- struct{}{}
}

func (s *stubRunner) Run(_ context.Context, orgID, input string, auditType model.AuditType) (*model.Audit, error) {
	s.record(runnerCall{method: "run", orgID: orgID, input: input, auditType: auditType})
	if s.err != nil {
		return nil, s.err
	}
	return &model.Audit{ID: "new-audit", OrgID: orgID, Status: model.AuditStatusCompleted}, nil
}

func (s *stubRunner) Resume(_ context.Context, auditID string) (*model.Audit, error) {
	s.record(runnerCall{method: "resume", auditID: auditID})
	return &model.Audit{ID: auditID, Status: model.AuditStatusCompleted}, s.err
}

func (s *stubRunner) Restart(_ context.Context, auditID string) (*model.Audit, error) {
	s.record(runnerCall{method: "restart", auditID: auditID})
	return &model.Audit{ID: auditID, Status: model.AuditStatusCompleted}, s.err
}

func (s *stubRunner) Active(string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *stubRunner) wait(t *testing.T) runnerCall {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for background runner call")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[len(s.calls)-1]
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "server_test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	return st
}

func seedAudit(t *testing.T, st store.Store, id, orgID string, status model.AuditStatus) {
	t.Helper()
	err := st.CreateAudit(context.Background(), &model.Audit{
		ID:        id,
		OrgID:     orgID,
		Channel:   model.ChannelRef{ID: "UCsubject0000000000000", Title: "Subject"},
		Type:      model.AuditTypeProspect,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, st.InitSections(context.Background(), id))
}

func newTestServer(t *testing.T) (*Server, store.Store, *stubRunner) {
	t.Helper()
	st := newTestStore(t)
	runner := newStubRunner()
	srv := New(config.ServerConfig{Port: 0}, st, runner)
	return srv, st, runner
}

func doRequest(t *testing.T, h http.Handler, method, target, orgID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if orgID != "" {
		req.Header.Set("X-Org-ID", orgID)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestHealth(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestAuditEndpoints_RequireOrgHeader(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	for _, target := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/audits"},
		{http.MethodPost, "/api/audits"},
		{http.MethodGet, "/api/audits/a1"},
		{http.MethodPost, "/api/audits/a1/resume"},
	} {
		rec := doRequest(t, h, target.method, target.path, "", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "%s %s", target.method, target.path)
		assert.Contains(t, decodeBody(t, rec)["error"], "X-Org-ID")
	}
}

func TestListAudits_ScopedToOrg(t *testing.T) {
	t.Parallel()
	srv, st, _ := newTestServer(t)
	seedAudit(t, st, "a1", "org-1", model.AuditStatusCompleted)
	seedAudit(t, st, "a2", "org-2", model.AuditStatusCompleted)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/audits", "org-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Audits []model.Audit `json:"audits"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Audits, 1)
	assert.Equal(t, "a1", payload.Audits[0].ID)
}

func TestListAudits_StatusFilter(t *testing.T) {
	t.Parallel()
	srv, st, _ := newTestServer(t)
	seedAudit(t, st, "a1", "org-1", model.AuditStatusCompleted)
	seedAudit(t, st, "a2", "org-1", model.AuditStatusFailed)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/audits?status=failed", "org-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Audits []model.Audit `json:"audits"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Audits, 1)
	assert.Equal(t, "a2", payload.Audits[0].ID)
}

func TestListAudits_EmptyIsArray(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/audits", "org-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"audits":[]}`, rec.Body.String())
}

func TestGetAudit_IncludesSections(t *testing.T) {
	t.Parallel()
	srv, st, _ := newTestServer(t)
	seedAudit(t, st, "a1", "org-1", model.AuditStatusRunning)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/audits/a1", "org-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Audit    model.Audit     `json:"audit"`
		Sections []model.Section `json:"sections"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "a1", payload.Audit.ID)
	require.Len(t, payload.Sections, len(model.StageOrder))
	for i, section := range payload.Sections {
		assert.Equal(t, model.StageOrder[i], section.Stage)
		assert.Equal(t, model.SectionStatusPending, section.Status)
	}
}

func TestGetAudit_NotFound(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/audits/missing", "org-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetAudit_OtherOrgLooksMissing(t *testing.T) {
	t.Parallel()
	srv, st, _ := newTestServer(t)
	seedAudit(t, st, "a1", "org-1", model.AuditStatusCompleted)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/audits/a1", "org-2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateAudit_Accepted(t *testing.T) {
	t.Parallel()
	srv, _, runner := newTestServer(t)

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/audits", "org-1",
		`{"channel":"@subject","type":"baseline"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "accepted", body["status"])
	assert.Equal(t, "@subject", body["channel"])

	call := runner.wait(t)
	assert.Equal(t, "run", call.method)
	assert.Equal(t, "org-1", call.orgID)
	assert.Equal(t, "@subject", call.input)
	assert.Equal(t, model.AuditTypeBaseline, call.auditType)
}

func TestCreateAudit_DefaultsToProspect(t *testing.T) {
	t.Parallel()
	srv, _, runner := newTestServer(t)

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/audits", "org-1",
		`{"channel":"@subject"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	call := runner.wait(t)
	assert.Equal(t, model.AuditTypeProspect, call.auditType)
}

func TestCreateAudit_Validation(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "invalid json", body: `{not json`, want: "invalid JSON"},
		{name: "missing channel", body: `{"type":"prospect"}`, want: "channel is required"},
		{name: "unknown type", body: `{"channel":"@x","type":"forensic"}`, want: "prospect or baseline"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodPost, "/api/audits", "org-1", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decodeBody(t, rec)["error"], tt.want)
		})
	}
}

func TestResumeAudit_Accepted(t *testing.T) {
	t.Parallel()
	srv, st, runner := newTestServer(t)
	seedAudit(t, st, "a1", "org-1", model.AuditStatusFailed)

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/audits/a1/resume", "org-1", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "a1", decodeBody(t, rec)["id"])

	call := runner.wait(t)
	assert.Equal(t, "resume", call.method)
	assert.Equal(t, "a1", call.auditID)
}

func TestResumeAudit_CompletedIsNoop(t *testing.T) {
	t.Parallel()
	srv, st, runner := newTestServer(t)
	seedAudit(t, st, "a1", "org-1", model.AuditStatusCompleted)

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/audits/a1/resume", "org-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", decodeBody(t, rec)["status"])

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Empty(t, runner.calls)
}

func TestResumeAudit_AlreadyRunningConflicts(t *testing.T) {
	t.Parallel()
	srv, st, runner := newTestServer(t)
	seedAudit(t, st, "a1", "org-1", model.AuditStatusRunning)
	runner.active = true

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/audits/a1/resume", "org-1", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "already running")

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Empty(t, runner.calls)
}

func TestResumeAudit_NotFound(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/audits/missing/resume", "org-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRestartAudit_Accepted(t *testing.T) {
	t.Parallel()
	srv, st, runner := newTestServer(t)
	seedAudit(t, st, "a1", "org-1", model.AuditStatusFailed)

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/audits/a1/restart", "org-1", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	call := runner.wait(t)
	assert.Equal(t, "restart", call.method)
	assert.Equal(t, "a1", call.auditID)
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()
	srv := New(config.ServerConfig{Port: 0, AllowedOrigins: []string{"https://dashboard.example.com"}}, newTestStore(t), newStubRunner())

	req := httptest.NewRequest(http.MethodOptions, "/api/audits", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://dashboard.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
