// Package dialect is the Converter Registry: per-dialect translation
// between the OpenAI, Anthropic, and Google wire formats, for both full
// request bodies and individual streaming chunks.
//
// Every dialect pair routes through one unified shape (chatRequest), which
// happens to already equal OpenAI's own wire shape — so the OpenAI leg of
// every conversion is close to a no-op, and Anthropic/Google each need only
// one "to" and one "from" translation.
package dialect

import (
	"encoding/json"
	"fmt"

	"github.com/howard-nolan/llmgateway/internal/identify"
)

// Converter turns a request body in one dialect into another, and
// translates a single OpenAI-dialect streaming chunk into the dialect this
// Converter was obtained for. A Converter is stateful for one request's
// lifetime — SetOriginalModel records the client-facing model name so
// later chunks can restore it — so Registry.Get returns a fresh instance
// on every call.
type Converter interface {
	// SetOriginalModel records the client-facing model name so subsequent
	// streaming chunks can restore it in place of whatever the upstream
	// reports.
	SetOriginalModel(model string)

	// ConvertRequest translates a request body from this Converter's
	// dialect into targetDialect. Callers only invoke this when the two
	// dialects differ — passthrough is the pipeline's responsibility.
	ConvertRequest(body []byte, targetDialect identify.Dialect) ([]byte, error)

	// ConvertFromOpenAIStreamingChunk takes the raw JSON payload of one
	// SSE `data:` line emitted by an OpenAI-dialect upstream and returns
	// the replacement payload for this Converter's dialect, or nil to
	// drop the chunk. Per the pass-through rule, a Converter obtained for
	// "openai" always returns nil.
	ConvertFromOpenAIStreamingChunk(raw []byte) (*string, error)
}

// Registry hands out a fresh Converter for a named dialect.
type Registry struct{}

// NewRegistry returns a ready-to-use Registry. It holds no state of its
// own — every Converter it returns is a new value.
func NewRegistry() *Registry {
	return &Registry{}
}

// Get returns a new Converter for the given dialect.
func (r *Registry) Get(d identify.Dialect) (Converter, error) {
	switch d {
	case identify.OpenAI:
		return &openAIConverter{}, nil
	case identify.Anthropic:
		return &anthropicConverter{}, nil
	case identify.Google:
		return &googleConverter{}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect %q", d)
	}
}

// ---------------------------------------------------------------------------
// Unified request shape (equal to OpenAI's own wire shape)
// ---------------------------------------------------------------------------

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	Stream    bool          `json:"stream,omitempty"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func parseChatRequest(body []byte) (*chatRequest, error) {
	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decoding request body: %w", err)
	}
	return &req, nil
}
