package server

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/llmgateway/internal/dialect"
	"github.com/howard-nolan/llmgateway/internal/metrics"
	"github.com/howard-nolan/llmgateway/internal/pipeline"
	"github.com/howard-nolan/llmgateway/internal/ratelimit"
	"github.com/howard-nolan/llmgateway/internal/router"
	"github.com/howard-nolan/llmgateway/internal/tokenaccount"
)

type wordTokenizer struct{}

func (wordTokenizer) CountTokens(s string) int {
	if s == "" {
		return 0
	}
	n := 1
	for _, r := range s {
		if r == ' ' {
			n++
		}
	}
	return n
}

func newTestServer(t *testing.T, cfg pipeline.Config) *Server {
	t.Helper()
	p := pipeline.New(
		router.NewCache(),
		dialect.NewRegistry(),
		ratelimit.DummyLimiter{},
		metrics.New(prometheus.NewRegistry()),
		tokenaccount.New(wordTokenizer{}),
		http.DefaultClient,
		cfg,
	)
	return New(p)
}

// peerFromTestServer parses an httptest.Server's plain-HTTP URL into the
// router.Peer shape the pipeline dials.
func peerFromTestServer(t *testing.T, ts *httptest.Server) router.Peer {
	t.Helper()
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return router.Peer{Host: host, Port: uint16(port), TLS: false}
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t, pipeline.Config{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleProxy_NoConfiguredChannelFallsBackToDefaultPeer(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"resp_1","model":"gpt-4o","choices":[{"message":{"role":"assistant","content":"hi there"}}],"usage":{"prompt_tokens":3,"completion_tokens":2}}`)
	}))
	defer upstream.Close()

	srv := newTestServer(t, pipeline.Config{DefaultPeer: peerFromTestServer(t, upstream)})

	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer sk-test")
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	// No channel is configured, so routing falls through to the default
	// peer — which, wired up to a real listener, actually dispatches and
	// streams back a response instead of dead-ending in a 502.
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hi there")
}

func TestHandleProxy_MissingAPIKeyIsUnauthorized(t *testing.T) {
	srv := newTestServer(t, pipeline.Config{})

	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
