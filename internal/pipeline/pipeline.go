// Package pipeline is the request/response state machine: it wires the
// Identifier, Router, Converter Registry, Rate Limiter, Metrics Sink, and
// Token Accountant together behind one http.Handler, driving every inbound
// request through the eight phases described by the component design this
// package implements.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/howard-nolan/llmgateway/internal/dialect"
	"github.com/howard-nolan/llmgateway/internal/identify"
	"github.com/howard-nolan/llmgateway/internal/metrics"
	"github.com/howard-nolan/llmgateway/internal/ratelimit"
	"github.com/howard-nolan/llmgateway/internal/router"
	"github.com/howard-nolan/llmgateway/internal/tokenaccount"
)

const anthropicAPIVersion = "2023-06-01"

// Config holds the knobs the pipeline itself exposes (the rest — ports,
// TLS, koanf layering — lives in internal/config).
type Config struct {
	DefaultPeer       router.Peer
	MaxPromptTokens   uint64
	UserHeader        string
	RateLimitWindow   time.Duration
	MaxResponseBuffer int
}

// Pipeline owns every collaborator the eight phases depend on.
type Pipeline struct {
	router     *router.Cache
	converters *dialect.Registry
	limiter    ratelimit.Limiter
	sink       *metrics.Sink
	accountant *tokenaccount.Accountant
	client     *http.Client
	cfg        Config
}

func New(r *router.Cache, conv *dialect.Registry, lim ratelimit.Limiter, sink *metrics.Sink, acct *tokenaccount.Accountant, client *http.Client, cfg Config) *Pipeline {
	if cfg.MaxResponseBuffer <= 0 {
		cfg.MaxResponseBuffer = 8 << 20 // 8 MiB default cap on buffered response bytes.
	}
	if cfg.UserHeader == "" {
		cfg.UserHeader = "user"
	}
	return &Pipeline{
		router:     r,
		converters: conv,
		limiter:    lim,
		sink:       sink,
		accountant: acct,
		client:     client,
		cfg:        cfg,
	}
}

// ServeHTTP drives one request through Identify, Route,
// RewriteUpstreamRequest, ConvertRequest, RateGate, Dispatch,
// StreamResponse, and Finalize, in that order. Failures before the
// response starts streaming become HTTP error responses; failures
// mid-stream are logged and the connection is simply closed.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc := &requestCtx{}

	if err := p.identify(r, rc); err != nil {
		writeError(w, err)
		return
	}

	channel, ferr := p.route(rc)
	if ferr != nil {
		writeError(w, ferr)
		return
	}
	rc.selectedPeer = channel.Peer
	rc.selectedChannelID = channel.ID
	rc.targetDialect = channel.Dialect

	upstreamReq, ferr := p.rewriteAndConvert(r.Context(), rc)
	if ferr != nil {
		writeError(w, ferr)
		return
	}

	if ferr := p.rateGate(r.Context(), rc); ferr != nil {
		writeError(w, ferr)
		return
	}

	upstreamResp, ferr := p.dispatch(upstreamReq)
	if ferr != nil {
		writeError(w, ferr)
		return
	}
	defer upstreamResp.Body.Close()

	p.streamResponse(w, rc, upstreamResp)
	p.finalize(r.Context(), rc)
}

func writeError(w http.ResponseWriter, err *pipelineError) {
	http.Error(w, err.msg, err.status)
}

// ---------------------------------------------------------------------------
// Phase 1: Identify
// ---------------------------------------------------------------------------

func (p *Pipeline) identify(r *http.Request, rc *requestCtx) *pipelineError {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return badRequest("reading request body: " + err.Error())
	}
	rc.reqBuffer = body

	parsed := identify.Identify(r.URL.Path, r.Header, body)
	rc.parsed = parsed
	rc.sourceDialect = parsed.Dialect

	if parsed.APIKey == "" {
		return unauthorized("missing API key")
	}

	rc.user = r.Header.Get(p.cfg.UserHeader)
	return nil
}

// ---------------------------------------------------------------------------
// Phase 2: Route
// ---------------------------------------------------------------------------

func (p *Pipeline) route(rc *requestCtx) (router.Channel, *pipelineError) {
	channel, ok := p.router.SmartRoute(rc.parsed.APIKey, rc.parsed.Model)
	if !ok {
		return router.Channel{
			Peer:    p.cfg.DefaultPeer,
			Dialect: identify.OpenAI,
		}, nil
	}
	return channel, nil
}

// ---------------------------------------------------------------------------
// Phases 3 & 4: RewriteUpstreamRequest, ConvertRequest
// ---------------------------------------------------------------------------

func (p *Pipeline) rewriteAndConvert(ctx context.Context, rc *requestCtx) (*http.Request, *pipelineError) {
	body := rc.reqBuffer
	if rc.sourceDialect != rc.targetDialect {
		conv, err := p.converters.Get(rc.sourceDialect)
		if err != nil {
			return nil, badRequest("unsupported source dialect: " + err.Error())
		}
		conv.SetOriginalModel(rc.parsed.Model)
		converted, err := conv.ConvertRequest(body, rc.targetDialect)
		if err != nil {
			log.Printf("pipeline: request conversion failed, dispatching original body: %v", err)
		} else {
			body = converted
		}
	}

	scheme := "http"
	if rc.selectedPeer.TLS {
		scheme = "https"
	}

	var uri string
	switch rc.targetDialect {
	case identify.Anthropic:
		uri = "/v1/messages"
	case identify.OpenAI:
		uri = "/v1/chat/completions"
	case identify.Google:
		model := rc.parsed.Model
		if model == "" {
			model = "gemini-pro"
		}
		uri = fmt.Sprintf("/v1beta/models/%s:generateContent", model)
	default:
		return nil, badRequest("unsupported target dialect")
	}

	url := fmt.Sprintf("%s://%s:%d%s", scheme, rc.selectedPeer.Host, rc.selectedPeer.Port, uri)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, internalError("building upstream request: " + err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Length", fmt.Sprintf("%d", len(body)))
	req.Header.Set("Accept-Encoding", "identity")

	switch rc.targetDialect {
	case identify.Anthropic:
		req.Header.Set("x-api-key", rc.parsed.APIKey)
		req.Header.Set("anthropic-version", anthropicAPIVersion)
	case identify.OpenAI:
		req.Header.Set("Authorization", "Bearer "+rc.parsed.APIKey)
	case identify.Google:
		req.Header.Set("x-goog-api-key", rc.parsed.APIKey)
	}

	return req, nil
}

// ---------------------------------------------------------------------------
// Phase 5: RateGate
// ---------------------------------------------------------------------------

func (p *Pipeline) rateGate(ctx context.Context, rc *requestCtx) *pipelineError {
	var parsed struct {
		Stream   bool                       `json:"stream"`
		Messages []struct{ Content string } `json:"messages"`
		Prompt   tokenaccount.PromptField   `json:"prompt"`
	}
	_ = json.Unmarshal(rc.reqBuffer, &parsed)

	if parsed.Stream {
		var messages []string
		for _, m := range parsed.Messages {
			messages = append(messages, m.Content)
		}
		isLegacyCompletions := len(messages) == 0 && len(parsed.Prompt.Values) > 0
		rc.promptTokens = p.accountant.PrecomputePromptTokens(isLegacyCompletions, messages, parsed.Prompt.Values)
	}

	sum, err := p.limiter.Fetch(ctx, "tokens", rc.user, p.cfg.RateLimitWindow)
	if err != nil {
		return upstreamError("rate limiter backend error: " + err.Error())
	}
	if sum > p.cfg.MaxPromptTokens {
		return tooManyRequests("rate limit exceeded")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Phase 6: Dispatch
// ---------------------------------------------------------------------------

func (p *Pipeline) dispatch(req *http.Request) (*http.Response, *pipelineError) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, upstreamError("dispatching to upstream: " + err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &pipelineError{status: resp.StatusCode, msg: string(body)}
	}
	return resp, nil
}

// ---------------------------------------------------------------------------
// Phase 7: StreamResponse
// ---------------------------------------------------------------------------

func (p *Pipeline) streamResponse(w http.ResponseWriter, rc *requestCtx, resp *http.Response) {
	rc.responseContentEncoding = resp.Header.Get("Content-Encoding")

	// Upstream-to-client conversion only applies when the upstream itself
	// speaks OpenAI: every converter's streaming method translates *from*
	// OpenAI-shaped chunks. Any other upstream dialect is passthrough —
	// the same-protocol assumption.
	var conv dialect.Converter
	if rc.targetDialect == identify.OpenAI && rc.sourceDialect != rc.targetDialect {
		c, err := p.converters.Get(rc.sourceDialect)
		if err == nil {
			c.SetOriginalModel(rc.parsed.Model)
			conv = c
		}
	}

	flusher, canFlush := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk, derr := decompressIfGzip(buf[:n], rc.responseContentEncoding)
			if derr != nil {
				log.Printf("pipeline: decompressing response chunk: %v", derr)
				chunk = buf[:n]
			}

			if rc.respBuffer.Len() < p.cfg.MaxResponseBuffer {
				rc.respBuffer.Write(chunk)
			}

			out := chunk
			if conv != nil && looksLikeSSE(chunk) {
				rewritten, convErr := rewriteSSEChunk(chunk, conv)
				if convErr != nil {
					log.Printf("pipeline: streaming conversion failed, passing chunk through untranslated: %v", convErr)
				} else {
					out = rewritten
				}
			}

			if _, werr := w.Write(out); werr != nil {
				log.Printf("pipeline: mid-stream write failed, terminating: %v", werr)
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				log.Printf("pipeline: mid-stream read failed, terminating: %v", readErr)
			}
			return
		}
	}
}

// rewriteSSEChunk splits a raw chunk into lines and converts every
// "data: " line that isn't the [DONE] sentinel. conv is only ever
// non-nil here for a genuine cross-dialect translation (see streamResponse),
// so a nil ConvertFromOpenAIStreamingChunk result means "drop this event" —
// it carried nothing translatable, not "pass the OpenAI-shaped line through
// to a client that can't parse it."
func rewriteSSEChunk(chunk []byte, conv dialect.Converter) ([]byte, error) {
	var out bytes.Buffer
	lines := bytes.Split(chunk, []byte("\n"))
	for i, line := range lines {
		trimmed := bytes.TrimRight(line, "\r")
		if bytes.HasPrefix(trimmed, []byte("data: ")) && !bytes.Contains(trimmed, []byte("[DONE]")) {
			payload := trimmed[len("data: "):]
			converted, err := conv.ConvertFromOpenAIStreamingChunk(payload)
			if err != nil {
				return nil, err
			}
			if converted != nil {
				out.WriteString("data: ")
				out.WriteString(*converted)
				if i < len(lines)-1 {
					out.WriteByte('\n')
				}
			}
			continue
		}
		out.Write(line)
		if i < len(lines)-1 {
			out.WriteByte('\n')
		}
	}
	return out.Bytes(), nil
}

// ---------------------------------------------------------------------------
// Phase 8: Finalize
// ---------------------------------------------------------------------------

func (p *Pipeline) finalize(ctx context.Context, rc *requestCtx) {
	var usage tokenaccount.Usage
	respBytes := rc.respBuffer.Bytes()
	if looksLikeSSE(respBytes) {
		usage = p.accountant.AccountStreaming(respBytes, rc.promptTokens)
	} else {
		usage = p.accountant.AccountNonStreaming(respBytes, rc.promptTokens)
	}
	if usage.Degraded {
		log.Printf("pipeline: degraded accounting event for user=%q channel=%q", rc.user, rc.selectedChannelID)
	}

	p.sink.Record(rc.user, rc.parsed.Model, usage.PromptTokens, usage.CompletionTokens)

	total := usage.PromptTokens + usage.CompletionTokens
	if _, err := p.limiter.Record(ctx, "tokens", rc.user, total, p.cfg.RateLimitWindow); err != nil {
		log.Printf("pipeline: rate limiter record failed: %v", err)
	}
}
