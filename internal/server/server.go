// Package server exposes the dashboard API over HTTP: listing audits,
// inspecting their sections, and triggering runs.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/creatorscope/audit-cli/internal/audit"
	"github.com/creatorscope/audit-cli/internal/config"
	"github.com/creatorscope/audit-cli/internal/model"
	"github.com/creatorscope/audit-cli/internal/store"
)

// Runner is the subset of the pipeline runner the API needs.
type Runner interface {
	Run(ctx context.Context, orgID, input string, auditType model.AuditType) (*model.Audit, error)
	Resume(ctx context.Context, auditID string) (*model.Audit, error)
	Restart(ctx context.Context, auditID string) (*model.Audit, error)
	Active(auditID string) bool
}

var _ Runner = (*audit.Runner)(nil)

// Server serves the dashboard API.
type Server struct {
	cfg    config.ServerConfig
	store  store.Store
	runner Runner
}

// New creates a Server.
func New(cfg config.ServerConfig, st store.Store, runner Runner) *Server {
	return &Server{cfg: cfg, store: st, runner: runner}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	allowedOrigins := s.cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Org-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/audits", func(r chi.Router) {
		r.Use(requireOrg)
		r.Get("/", s.handleList)
		r.Post("/", s.handleCreate)
		r.Get("/{id}", s.handleGet)
		r.Post("/{id}/resume", s.handleResume)
		r.Post("/{id}/restart", s.handleRestart)
	})

	return r
}

// ListenAndServe runs the API server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("server: listening", zap.Int("port", s.cfg.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return eris.Wrap(srv.Shutdown(shutdownCtx), "server: shutdown")
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return eris.Wrap(err, "server: listen")
	}
}

type orgKeyType struct{}

var orgKey orgKeyType

// requireOrg scopes every audit endpoint to the tenant named in the
// X-Org-ID header.
func requireOrg(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID := r.Header.Get("X-Org-ID")
		if orgID == "" {
			writeError(w, http.StatusBadRequest, "X-Org-ID header is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), orgKey, orgID)))
	})
}

func orgFrom(r *http.Request) string {
	orgID, _ := r.Context().Value(orgKey).(string)
	return orgID
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleList serves GET /api/audits with optional status, channel_id,
// limit, and offset query filters.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	audits, err := s.store.ListAudits(r.Context(), store.AuditFilter{
		OrgID:     orgFrom(r),
		Status:    model.AuditStatus(q.Get("status")),
		ChannelID: q.Get("channel_id"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		zap.L().Error("server: list audits", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list audits")
		return
	}
	if audits == nil {
		audits = []model.Audit{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"audits": audits})
}

// handleGet serves GET /api/audits/{id}: the audit plus its sections in
// pipeline order.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	auditRow, err := s.fetchOrgAudit(r, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	sections, err := s.store.GetSections(r.Context(), id)
	if err != nil {
		zap.L().Error("server: get sections", zap.String("audit_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load sections")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"audit":    auditRow,
		"sections": sections,
	})
}

type createRequest struct {
	Channel string `json:"channel"`
	Type    string `json:"type"`
}

// handleCreate serves POST /api/audits: triggers a fresh run in the
// background and responds 202.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body createRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Channel == "" {
		writeError(w, http.StatusBadRequest, "channel is required")
		return
	}
	auditType := model.AuditType(body.Type)
	if auditType == "" {
		auditType = model.AuditTypeProspect
	}
	if auditType != model.AuditTypeProspect && auditType != model.AuditTypeBaseline {
		writeError(w, http.StatusBadRequest, "type must be prospect or baseline")
		return
	}

	orgID := orgFrom(r)
	go func() {
		// The run outlives the request.
		result, err := s.runner.Run(context.Background(), orgID, body.Channel, auditType)
		if err != nil {
			zap.L().Error("server: background run failed",
				zap.String("org_id", orgID),
				zap.String("channel", body.Channel),
				zap.Error(err),
			)
			return
		}
		zap.L().Info("server: background run complete",
			zap.String("audit_id", result.ID),
			zap.String("org_id", orgID),
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"channel": body.Channel,
		"type":    string(auditType),
	})
}

// handleResume serves POST /api/audits/{id}/resume. Resuming a
// completed audit is a no-op and reports it as such; otherwise the
// resume runs in the background and the handler responds 202.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	auditRow, err := s.fetchOrgAudit(r, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if auditRow.Status == model.AuditStatusCompleted {
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "completed"})
		return
	}
	if s.runner.Active(id) {
		writeError(w, http.StatusConflict, "audit is already running")
		return
	}

	go func() {
		if _, err := s.runner.Resume(context.Background(), id); err != nil {
			zap.L().Error("server: background resume failed",
				zap.String("audit_id", id),
				zap.Error(err),
			)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "accepted"})
}

// handleRestart serves POST /api/audits/{id}/restart: clears all
// sections and re-runs the pipeline from ingestion.
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.fetchOrgAudit(r, id); err != nil {
		writeStoreError(w, err)
		return
	}
	if s.runner.Active(id) {
		writeError(w, http.StatusConflict, "audit is already running")
		return
	}

	go func() {
		if _, err := s.runner.Restart(context.Background(), id); err != nil {
			zap.L().Error("server: background restart failed",
				zap.String("audit_id", id),
				zap.Error(err),
			)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "accepted"})
}

// fetchOrgAudit loads an audit and enforces tenant scoping: an audit
// owned by another org is indistinguishable from one that does not
// exist.
func (s *Server) fetchOrgAudit(r *http.Request, id string) (*model.Audit, error) {
	auditRow, err := s.store.GetAudit(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if auditRow.OrgID != orgFrom(r) {
		return nil, store.ErrAuditNotFound
	}
	return auditRow, nil
}

func writeStoreError(w http.ResponseWriter, err error) {
	if eris.Is(err, store.ErrAuditNotFound) {
		writeError(w, http.StatusNotFound, "audit not found")
		return
	}
	zap.L().Error("server: store error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
