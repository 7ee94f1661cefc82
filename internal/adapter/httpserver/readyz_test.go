package httpserver_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	httpserver "github.com/lowart/gateway/internal/adapter/httpserver"
	"github.com/lowart/gateway/internal/config"
)

func newReadyzServer(dbCheck, redisCheck func(context.Context) error) *httpserver.Server {
	return httpserver.NewServer(config.Config{}, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, dbCheck, redisCheck)
}

func TestReadyzHandler_AllOK(t *testing.T) {
	srv := newReadyzServer(
		func(context.Context) error { return nil },
		func(context.Context) error { return nil },
	)
	rec := httptest.NewRecorder()
	srv.ReadyzHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Result().StatusCode)
}

func TestReadyzHandler_DBDown(t *testing.T) {
	srv := newReadyzServer(
		func(context.Context) error { return errors.New("db down") },
		func(context.Context) error { return nil },
	)
	rec := httptest.NewRecorder()
	srv.ReadyzHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Result().StatusCode)
}

func TestReadyzHandler_RedisDown(t *testing.T) {
	srv := newReadyzServer(
		func(context.Context) error { return nil },
		func(context.Context) error { return errors.New("redis down") },
	)
	rec := httptest.NewRecorder()
	srv.ReadyzHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Result().StatusCode)
}
