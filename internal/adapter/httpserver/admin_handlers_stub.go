//go:build never

// Package httpserver provides HTTP server adapters. This file contains a stub
// admin server; its 'never' build constraint excludes it from every build.
package httpserver

import (
	"github.com/go-chi/chi/v5"
	"github.com/lowart/gateway/internal/config"
)

// AdminServer is a no-op stub; the real type lives in admin_handlers.go.
type AdminServer struct{}

// NewAdminServer returns a no-op admin server.
func NewAdminServer(_ config.Config, _ *Server) (*AdminServer, error) { return &AdminServer{}, nil }

// MountRoutes mounts no routes in the stub implementation.
func (a *AdminServer) MountRoutes(_ chi.Router) {}
