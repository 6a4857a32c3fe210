package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammed-shakir/mapbook-query/internal/core/httpclient"
)

type upstreamRecorder struct {
	mu         sync.Mutex
	lastMethod string
	lastPath   string
	lastQuery  url.Values
	lastHeader http.Header
	lastBody   []byte
}

func (u *upstreamRecorder) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	_ = r.Body.Close()

	u.mu.Lock()
	u.lastMethod = r.Method
	u.lastPath = r.URL.Path
	u.lastQuery = r.URL.Query()
	u.lastHeader = r.Header.Clone()
	u.lastBody = body
	u.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func newExec() *Executor {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), httpclient.NewOutbound(5*time.Second))
}

func TestExecutor_GetMergesQuery(t *testing.T) {
	up := &upstreamRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(up.handler))
	defer srv.Close()

	q := url.Values{}
	q.Set("REQUEST", "GetFeatureInfo")
	resp, err := newExec().Do(context.Background(), Request{
		Upstream: "wms",
		URL:      srv.URL + "/mapserv?map=/maps/parcels.map",
		Query:    q,
		Accept:   "application/vnd.ogc.gml",
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if string(resp.Body) != `{"ok":true}` || resp.ContentType != "application/json" {
		t.Fatalf("unexpected response %+v", resp)
	}

	up.mu.Lock()
	defer up.mu.Unlock()
	if up.lastMethod != http.MethodGet || up.lastPath != "/mapserv" {
		t.Fatalf("method=%s path=%s", up.lastMethod, up.lastPath)
	}
	if up.lastQuery.Get("map") != "/maps/parcels.map" || up.lastQuery.Get("REQUEST") != "GetFeatureInfo" {
		t.Fatalf("query not merged: %v", up.lastQuery)
	}
	if up.lastHeader.Get("Accept") != "application/vnd.ogc.gml" {
		t.Fatalf("accept=%q", up.lastHeader.Get("Accept"))
	}
}

func TestExecutor_PostBody(t *testing.T) {
	up := &upstreamRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(up.handler))
	defer srv.Close()

	_, err := newExec().Do(context.Background(), Request{
		Upstream:    "wfs",
		Method:      http.MethodPost,
		URL:         srv.URL,
		Body:        []byte("<GetFeature/>"),
		ContentType: "text/xml",
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	up.mu.Lock()
	defer up.mu.Unlock()
	if up.lastMethod != http.MethodPost || string(up.lastBody) != "<GetFeature/>" {
		t.Fatalf("method=%s body=%q", up.lastMethod, up.lastBody)
	}
	if up.lastHeader.Get("Content-Type") != "text/xml" {
		t.Fatalf("content-type=%q", up.lastHeader.Get("Content-Type"))
	}
}

func TestExecutor_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "map file not found", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newExec().Do(context.Background(), Request{URL: srv.URL})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != http.StatusInternalServerError || !strings.Contains(se.Body, "map file not found") {
		t.Fatalf("unexpected status error %+v", se)
	}
}

func TestExecutor_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newExec().Do(ctx, Request{URL: srv.URL}); err == nil {
		t.Fatalf("expected error for canceled context")
	}
}
