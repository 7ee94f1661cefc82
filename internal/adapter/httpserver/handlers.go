// Package httpserver contains HTTP handlers and middleware.
//
// It exposes the OpenAI-compatible chat completion surface, the tool-confirm
// and async-job endpoints, and an admin CRUD API over the gateway's
// tenant/model/routing configuration.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/lowart/gateway/internal/config"
	"github.com/lowart/gateway/internal/domain"
	"github.com/lowart/gateway/internal/usecase/chat"
)

// Server aggregates the handler dependencies: the chat state machine, the
// async-job path, and the repositories the admin API manages directly.
type Server struct {
	Cfg config.Config

	Engine     *chat.Engine
	Stream     *chat.StreamEngine
	Submitter  *chat.Submitter
	AuthCache  domain.CredentialCache
	Quota      domain.QuotaGate
	Principals domain.PrincipalRepository
	Credentials   domain.CredentialRepository
	Models        domain.ModelConfigRepository
	FallbackRules domain.FallbackRuleRepository
	ToolPolicies  domain.ToolPolicyRepository
	Jobs          domain.AsyncJobRepository

	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers wired.
func NewServer(
	cfg config.Config,
	engine *chat.Engine,
	stream *chat.StreamEngine,
	submitter *chat.Submitter,
	authCache domain.CredentialCache,
	quota domain.QuotaGate,
	principals domain.PrincipalRepository,
	credentials domain.CredentialRepository,
	models domain.ModelConfigRepository,
	fallbackRules domain.FallbackRuleRepository,
	toolPolicies domain.ToolPolicyRepository,
	jobs domain.AsyncJobRepository,
	dbCheck func(context.Context) error,
	redisCheck func(context.Context) error,
) *Server {
	return &Server{
		Cfg:           cfg,
		Engine:        engine,
		Stream:        stream,
		Submitter:     submitter,
		AuthCache:     authCache,
		Quota:         quota,
		Principals:    principals,
		Credentials:   credentials,
		Models:        models,
		FallbackRules: fallbackRules,
		ToolPolicies:  toolPolicies,
		Jobs:          jobs,
		DBCheck:       dbCheck,
		RedisCheck:    redisCheck,
	}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

type principalKey struct{}

// PrincipalFrom extracts the authenticated Principal injected by BearerAuthAndQuota.
func PrincipalFrom(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(domain.Principal)
	return p, ok
}

// BearerAuthAndQuota resolves the Authorization bearer token to a Principal via
// the credential cache, then admits the request against its RPM and token
// quotas before handing off to next.
func (s *Server) BearerAuthAndQuota(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			writeError(w, r, domain.ErrAuthFailure, nil)
			return
		}
		token := strings.TrimSpace(authz[len("bearer "):])
		_, principal, err := s.AuthCache.Resolve(r.Context(), token)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w", domain.ErrAuthFailure), nil)
			return
		}
		if principal.Status != domain.PrincipalActive {
			writeError(w, r, domain.ErrAuthFailure, nil)
			return
		}
		if s.Quota != nil {
			if err := s.Quota.CheckRPM(principal.ID, principal.RPMLimit); err != nil {
				writeError(w, r, err, nil)
				return
			}
			if err := s.Quota.CheckTokenQuota(principal.TokenUsed, principal.TokenQuota); err != nil {
				writeError(w, r, err, nil)
				return
			}
		}
		ctx := context.WithValue(r.Context(), principalKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ChatCompletionsHandler serves POST /v1/chat/completions: synchronous,
// streaming, or async=true deferred, depending on the request body.
func (s *Server) ChatCompletionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFrom(r.Context())
		if !ok {
			writeError(w, r, domain.ErrAuthFailure, nil)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
		var req domain.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json: %v", domain.ErrBadRequest, err), nil)
			return
		}
		if err := getValidator().Var(req.Model, "required"); err != nil {
			writeError(w, r, fmt.Errorf("%w: model is required", domain.ErrBadRequest), nil)
			return
		}
		if len(req.Messages) == 0 {
			writeError(w, r, fmt.Errorf("%w: messages is required", domain.ErrBadRequest), nil)
			return
		}

		ctx := r.Context()

		if req.Async {
			job, err := s.Submitter.Submit(ctx, principal, req)
			if err != nil {
				writeError(w, r, err, nil)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"job_id": job.JobID, "status": "async_started"})
			return
		}

		if req.Stream {
			s.streamChatCompletion(w, r, principal, req)
			return
		}

		outcome, err := s.Engine.Complete(ctx, principal, req)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeChatOutcome(w, outcome)
	}
}

func writeChatOutcome(w http.ResponseWriter, outcome chat.Outcome) {
	switch outcome.Kind {
	case chat.OutcomeConfirm:
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "require_confirmation",
			"session_id": outcome.SessionID,
			"tool_calls": outcome.PendingCalls,
		})
	default:
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(outcome.Final)
	}
}

type sseFrameSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s sseFrameSink) WriteFrame(event, data string) error {
	if event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *Server) streamChatCompletion(w http.ResponseWriter, r *http.Request, principal domain.Principal, req domain.ChatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, fmt.Errorf("%w: streaming unsupported by transport", domain.ErrNotSupported), nil)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sink := sseFrameSink{w: w, flusher: flusher}
	if err := s.Stream.Stream(r.Context(), principal, req, sink); err != nil {
		_ = sink.WriteFrame("error", err.Error())
	}
	_ = sink.WriteFrame("", "[DONE]")
}

// ToolsConfirmHandler serves POST /v1/tools/confirm: resumes a paused
// confirm-session with the caller's approve/reject decisions.
func (s *Server) ToolsConfirmHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFrom(r.Context())
		if !ok {
			writeError(w, r, domain.ErrAuthFailure, nil)
			return
		}
		var req struct {
			SessionID   string   `json:"session_id" validate:"required"`
			ApprovedIDs []string `json:"approved_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json: %v", domain.ErrBadRequest, err), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: session_id is required", domain.ErrBadRequest), nil)
			return
		}
		outcome, err := s.Engine.Resume(r.Context(), principal, req.SessionID, req.ApprovedIDs)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeChatOutcome(w, outcome)
	}
}

// JobsListHandler serves GET /v1/jobs: the caller's own async jobs, with
// optional ?status= filter and ?page=&limit= pagination over the result.
func (s *Server) JobsListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFrom(r.Context())
		if !ok {
			writeError(w, r, domain.ErrAuthFailure, nil)
			return
		}
		page := SanitizeString(r.URL.Query().Get("page"))
		limit := SanitizeString(r.URL.Query().Get("limit"))
		status := SanitizeString(r.URL.Query().Get("status"))
		if v := ValidatePagination(page, limit); !v.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid pagination", domain.ErrBadRequest), v.Errors)
			return
		}
		if v := ValidateStatus(status); !v.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid status filter", domain.ErrBadRequest), v.Errors)
			return
		}

		jobs, err := s.Jobs.ListByPrincipal(r.Context(), principal.ID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if status != "" {
			filtered := jobs[:0]
			for _, j := range jobs {
				if string(j.Status) == status {
					filtered = append(filtered, j)
				}
			}
			jobs = filtered
		}
		jobs = paginateJobs(jobs, page, limit)
		writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
	}
}

func paginateJobs(jobs []domain.AsyncJob, page, limit string) []domain.AsyncJob {
	pageNum, limitNum := 1, 20
	if v, err := strconv.Atoi(page); err == nil && v > 0 {
		pageNum = v
	}
	if v, err := strconv.Atoi(limit); err == nil && v > 0 && v <= 100 {
		limitNum = v
	}
	start := (pageNum - 1) * limitNum
	if start >= len(jobs) {
		return []domain.AsyncJob{}
	}
	end := start + limitNum
	if end > len(jobs) {
		end = len(jobs)
	}
	return jobs[start:end]
}

// JobsGetHandler serves GET /v1/jobs/{id}: a single async job, scoped to the
// authenticated principal; admin principals may read any job.
func (s *Server) JobsGetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFrom(r.Context())
		if !ok {
			writeError(w, r, domain.ErrAuthFailure, nil)
			return
		}
		id := SanitizeJobID(chi.URLParam(r, "id"))
		if v := ValidateJobID(id); !v.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid job id", domain.ErrBadRequest), v.Errors)
			return
		}
		job, err := s.Jobs.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if job.PrincipalID != principal.ID && !principal.IsAdmin {
			writeError(w, r, domain.ErrPermissionDenied, nil)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

// HealthHandler is a liveness probe with no external dependencies.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler probes the database and Redis connections.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		type check struct {
			Name    string `json:"name"`
			OK      bool   `json:"ok"`
			Details string `json:"details,omitempty"`
		}
		checks := make([]check, 0, 2)
		ok := true
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				checks = append(checks, check{Name: "db", OK: false, Details: err.Error()})
				ok = false
			} else {
				checks = append(checks, check{Name: "db", OK: true})
			}
		}
		if s.RedisCheck != nil {
			if err := s.RedisCheck(ctx); err != nil {
				checks = append(checks, check{Name: "redis", OK: false, Details: err.Error()})
				ok = false
			} else {
				checks = append(checks, check{Name: "redis", OK: true})
			}
		}
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"checks": checks})
	}
}

// MountAdmin mounts the admin login/session/CRUD routes using AdminServer.
func (s *Server) MountAdmin(r chi.Router) {
	adminServer, err := NewAdminServer(s.Cfg, s)
	if err != nil {
		return
	}
	r.Post("/admin/token", adminServer.AdminTokenHandler())
	r.Get("/admin/api/status", adminServer.AdminStatusHandler())
	r.Get("/admin/api/stats", adminServer.AdminStatsHandler())

	r.Route("/admin/api/models", func(mr chi.Router) {
		mr.Use(s.AdminAPIGuard())
		mr.Get("/", adminServer.ListModelsHandler())
		mr.Post("/", adminServer.CreateModelHandler())
		mr.Put("/{id}", adminServer.UpdateModelHandler())
		mr.Delete("/{id}", adminServer.DeleteModelHandler())
	})
	r.Route("/admin/api/principals", func(pr chi.Router) {
		pr.Use(s.AdminAPIGuard())
		pr.Get("/", adminServer.ListPrincipalsHandler())
		pr.Post("/", adminServer.CreatePrincipalHandler())
		pr.Put("/{id}", adminServer.UpdatePrincipalHandler())
	})
	r.Route("/admin/api/credentials", func(cr chi.Router) {
		cr.Use(s.AdminAPIGuard())
		cr.Post("/", adminServer.CreateCredentialHandler())
		cr.Delete("/{id}", adminServer.RevokeCredentialHandler())
	})
	r.Route("/admin/api/fallback-rules", func(fr chi.Router) {
		fr.Use(s.AdminAPIGuard())
		fr.Get("/", adminServer.ListFallbackRulesHandler())
		fr.Put("/", adminServer.UpsertFallbackRuleHandler())
	})
	r.Route("/admin/api/tool-policies", func(tr chi.Router) {
		tr.Use(s.AdminAPIGuard())
		tr.Put("/", adminServer.UpsertToolPolicyHandler())
	})
}
