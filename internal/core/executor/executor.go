// Package executor performs upstream map service requests.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mohammed-shakir/mapbook-query/internal/core/observability"
)

// Request describes one upstream call. Upstream labels latency metrics.
type Request struct {
	Upstream    string
	Method      string
	URL         string
	Query       url.Values
	Body        []byte
	ContentType string
	Accept      string
}

type Response struct {
	Body        []byte
	ContentType string
}

// StatusError is returned for non-2xx upstream replies.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream status %d", e.Code)
	}
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Body)
}

type Interface interface {
	Do(ctx context.Context, r Request) (Response, error)
}

type Executor struct {
	logger   *slog.Logger
	client   *http.Client
	maxBody  int64
	startNow func() time.Time // for tests
}

func New(logger *slog.Logger, client *http.Client) *Executor {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Executor{
		logger:   logger,
		client:   client,
		maxBody:  64 << 20,
		startNow: time.Now,
	}
}

// Do sends r and returns the full body of a 2xx reply.
func (e *Executor) Do(ctx context.Context, r Request) (Response, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return Response{}, fmt.Errorf("parse upstream url: %w", err)
	}
	if len(r.Query) > 0 {
		q := u.Query()
		for k, vs := range r.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	if r.ContentType != "" {
		req.Header.Set("Content-Type", r.ContentType)
	}
	if r.Accept != "" {
		req.Header.Set("Accept", r.Accept)
	}

	upstream := r.Upstream
	if upstream == "" {
		upstream = "upstream"
	}
	e.logger.DebugContext(ctx, "upstream request", "upstream", upstream, "method", method, "url", u.Redacted())

	start := e.startNow()
	resp, err := e.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	dur := time.Since(start)
	observability.ObserveUpstreamLatency(upstream, dur.Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return Response{}, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBody))
	if err != nil {
		return Response{}, fmt.Errorf("read body: %w", err)
	}
	e.logger.DebugContext(ctx, "upstream done", "upstream", upstream, "status", resp.StatusCode, "bytes", len(b), "duration", dur.String())
	return Response{Body: b, ContentType: resp.Header.Get("Content-Type")}, nil
}
