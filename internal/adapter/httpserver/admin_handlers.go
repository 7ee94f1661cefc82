// Package httpserver contains the Admin API server and HTTP adapters.
package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lowart/gateway/internal/config"
	"github.com/lowart/gateway/internal/domain"
)

// AdminServer handles the tenant/model/routing CRUD surface used by
// operators, separate from the tenant-facing chat API on Server.
type AdminServer struct {
	cfg            config.Config
	sessionManager *SessionManager
	server         *Server
}

// NewAdminServer creates a new admin server.
func NewAdminServer(cfg config.Config, server *Server) (*AdminServer, error) {
	return &AdminServer{
		cfg:            cfg,
		sessionManager: NewSessionManager(cfg),
		server:         server,
	}, nil
}

// AdminTokenHandler issues a JWT for admin API access given the configured
// admin username/password.
func (a *AdminServer) AdminTokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("http.admin")
		_, span := tracer.Start(r.Context(), "AdminServer.AdminTokenHandler")
		defer span.End()

		lg := LoggerFrom(r)
		var username, password string
		ct := r.Header.Get("Content-Type")
		if strings.HasPrefix(strings.ToLower(ct), "application/json") {
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			username = strings.TrimSpace(body["username"])
			password = strings.TrimSpace(body["password"])
		} else {
			username = strings.TrimSpace(r.FormValue("username"))
			password = strings.TrimSpace(r.FormValue("password"))
		}

		if username != a.cfg.AdminUsername || password != a.cfg.AdminPassword {
			span.SetAttributes(attribute.Bool("auth.success", false))
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			lg.Warn("admin token request rejected", slog.String("username", username))
			return
		}

		token, err := a.sessionManager.GenerateJWT(username, 24*time.Hour)
		if err != nil {
			http.Error(w, "Failed to issue token", http.StatusInternalServerError)
			lg.Error("failed to issue admin token", slog.Any("error", err))
			return
		}
		span.SetAttributes(attribute.Bool("auth.success", true), attribute.String("admin.username", username))
		writeJSON(w, http.StatusOK, map[string]any{
			"token":    token,
			"username": username,
			"expires":  time.Now().Add(24 * time.Hour).Unix(),
		})
	}
}

func (a *AdminServer) authenticated(r *http.Request) bool {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return false
	}
	token := strings.TrimSpace(authz[len("bearer "):])
	_, err := a.sessionManager.ValidateJWT(token)
	return err == nil
}

// AdminStatusHandler reports whether the caller's admin token is valid.
func (a *AdminServer) AdminStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.authenticated(r) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "authenticated"})
	}
}

// AdminStatsHandler reports the principal count.
func (a *AdminServer) AdminStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.authenticated(r) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := r.Context()
		stats := map[string]any{}
		if a.server.Principals != nil {
			if n, err := a.server.Principals.Count(ctx); err == nil {
				stats["principal_count"] = n
			}
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// ListModelsHandler serves GET /admin/api/models.
func (a *AdminServer) ListModelsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		models, err := a.server.Models.List(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"models": models})
	}
}

// CreateModelHandler serves POST /admin/api/models.
func (a *AdminServer) CreateModelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var m domain.ModelConfig
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			writeError(w, r, err, nil)
			return
		}
		created, err := a.server.Models.Create(r.Context(), m)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

// UpdateModelHandler serves PUT /admin/api/models/{id}.
func (a *AdminServer) UpdateModelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var m domain.ModelConfig
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			writeError(w, r, err, nil)
			return
		}
		m.ID = chi.URLParam(r, "id")
		if err := a.server.Models.Update(r.Context(), m); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

// DeleteModelHandler serves DELETE /admin/api/models/{id}.
func (a *AdminServer) DeleteModelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := a.server.Models.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ListPrincipalsHandler serves GET /admin/api/principals.
func (a *AdminServer) ListPrincipalsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principals, err := a.server.Principals.List(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"principals": principals})
	}
}

// CreatePrincipalHandler serves POST /admin/api/principals.
func (a *AdminServer) CreatePrincipalHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p domain.Principal
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if p.Status == "" {
			p.Status = domain.PrincipalActive
		}
		created, err := a.server.Principals.Create(r.Context(), p)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

// UpdatePrincipalHandler serves PUT /admin/api/principals/{id}.
func (a *AdminServer) UpdatePrincipalHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p domain.Principal
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeError(w, r, err, nil)
			return
		}
		p.ID = chi.URLParam(r, "id")
		if err := a.server.Principals.Update(r.Context(), p); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// CreateCredentialHandler serves POST /admin/api/credentials.
func (a *AdminServer) CreateCredentialHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var c domain.Credential
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if c.Status == "" {
			c.Status = domain.CredentialActive
		}
		created, err := a.server.Credentials.Create(r.Context(), c)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

// RevokeCredentialHandler serves DELETE /admin/api/credentials/{id}: revokes
// the credential and evicts it from the auth cache so the revoke is
// effective immediately rather than after the cache TTL elapses.
func (a *AdminServer) RevokeCredentialHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		cred, err := a.server.Credentials.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if err := a.server.Credentials.Revoke(r.Context(), id); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if a.server.AuthCache != nil {
			a.server.AuthCache.Invalidate(cred.OpaqueKey)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ListFallbackRulesHandler serves GET /admin/api/fallback-rules?primary_model=.
func (a *AdminServer) ListFallbackRulesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		primary := r.URL.Query().Get("primary_model")
		rules, err := a.server.FallbackRules.ListByPrimary(r.Context(), primary)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
	}
}

// UpsertFallbackRuleHandler serves PUT /admin/api/fallback-rules.
func (a *AdminServer) UpsertFallbackRuleHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rule domain.FallbackRule
		if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if err := a.server.FallbackRules.Upsert(r.Context(), rule); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, rule)
	}
}

// UpsertToolPolicyHandler serves PUT /admin/api/tool-policies.
func (a *AdminServer) UpsertToolPolicyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var policy domain.ToolPolicy
		if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if err := a.server.ToolPolicies.Upsert(r.Context(), policy); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, policy)
	}
}
