package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/mapbook-query/internal/core/model"
	"github.com/mohammed-shakir/mapbook-query/internal/core/router"
	"github.com/mohammed-shakir/mapbook-query/internal/lifecycle"
	"github.com/mohammed-shakir/mapbook-query/internal/mapsource"
)

type emptyRunner struct{}

func (emptyRunner) Run(_ context.Context, _ model.MapView, q *model.QueryDefinition) model.ResultSet {
	return model.NewResultSet(q.Layers)
}

func newHandler(t *testing.T) http.Handler {
	t.Helper()
	reg, err := mapsource.NewRegistry([]*model.MapSource{{Name: "sketch", Type: "vector", Layers: []model.Layer{{Name: "sketch"}}}})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	api := router.New(lifecycle.NewStore(emptyRunner{}, logger), reg, nil, logger)
	return Handler(logger, api, nil, promhttp.Handler())
}

func TestHandler_Routes(t *testing.T) {
	h := newHandler(t)
	cases := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/readyz", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/query", http.StatusOK},
		{http.MethodGet, "/mapsources", http.StatusOK},
		{http.MethodPost, "/mapsources/sketch/refresh", http.StatusNotImplemented},
		{http.MethodOptions, "/query", http.StatusNoContent},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
		if rr.Code != tc.want {
			t.Fatalf("%s %s: status=%d want %d", tc.method, tc.path, rr.Code, tc.want)
		}
	}
}
