// Package tokenaccount is the Token Accountant: it turns the raw bytes of a
// request or response buffer into prompt/completion token counts, using an
// injected Tokenizer for the actual byte-pair encoding.
package tokenaccount

import (
	"bytes"
	"encoding/json"
	"log"
)

// Tokenizer counts tokens in a string. It's treated as an external
// collaborator here, specified only by this interface — the production
// implementation lives in bpe.go.
type Tokenizer interface {
	CountTokens(s string) int
}

// Accountant computes TokenUsage from request bodies and response buffers.
type Accountant struct {
	tok Tokenizer
}

func New(tok Tokenizer) *Accountant {
	return &Accountant{tok: tok}
}

// Usage is the final per-request accounting the Pipeline hands to the
// Metrics Sink and Rate Limiter.
type Usage struct {
	PromptTokens     uint64
	CompletionTokens uint64
	// Degraded is true when non-streaming usage accounting fell back to the
	// precomputed prompt count because the upstream's response failed to
	// parse or carried no usage object.
	Degraded bool
}

// PrecomputePromptTokens sums tokenizer output over each message's content
// for chat-completions requests, or over each prompt string for legacy
// completions requests. Only called for streaming requests — non-streaming
// responses report authoritative usage from the upstream, so precomputing
// here would be wasted work.
func (a *Accountant) PrecomputePromptTokens(isLegacyCompletions bool, messages []string, prompts []string) uint64 {
	var total int
	if isLegacyCompletions {
		for _, p := range prompts {
			total += a.tok.CountTokens(p)
		}
	} else {
		for _, m := range messages {
			total += a.tok.CountTokens(m)
		}
	}
	return uint64(total)
}

// streamingChunk is one `data: {...}` line of an SSE response buffer.
type streamingChunk struct {
	Choices []streamingChoice `json:"choices"`
}

type streamingChoice struct {
	Delta *streamingDelta `json:"delta,omitempty"`
	Text  *string         `json:"text,omitempty"`
}

type streamingDelta struct {
	Content *string `json:"content,omitempty"`
}

// AccountStreaming splits the buffer on newlines, keeps lines beginning
// with "data: {", strips the prefix, parses each as JSON, concatenates
// every choice's text fragment, and tokenizes the concatenation exactly
// once — one tokenizer call over the whole completion rather than one per
// fragment, since BPE merges can span fragment boundaries.
func (a *Accountant) AccountStreaming(respBuffer []byte, promptTokens uint64) Usage {
	var combined bytes.Buffer

	for _, line := range bytes.Split(respBuffer, []byte("\n")) {
		if !bytes.HasPrefix(line, []byte("data: {")) {
			continue
		}
		payload := line[len("data: "):]

		var chunk streamingChunk
		if err := json.Unmarshal(payload, &chunk); err != nil {
			continue
		}
		for _, choice := range chunk.Choices {
			if choice.Delta != nil && choice.Delta.Content != nil {
				combined.WriteString(*choice.Delta.Content)
			} else if choice.Text != nil {
				combined.WriteString(*choice.Text)
			}
		}
	}

	return Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: uint64(a.tok.CountTokens(combined.String())),
	}
}

// nonStreamingUsage is the {usage: {...}} envelope a non-streaming upstream
// response is expected to carry. Usage is a pointer so a response that omits
// the key entirely (valid JSON, absent field) is distinguishable from one
// that carries it with zero counts.
type nonStreamingUsage struct {
	Usage *struct {
		PromptTokens     uint64 `json:"prompt_tokens"`
		CompletionTokens uint64 `json:"completion_tokens"`
	} `json:"usage"`
}

// AccountNonStreaming trusts the upstream's own usage envelope: parse the
// whole buffer as {usage:{prompt_tokens,completion_tokens}}. Precompute is
// skipped for non-streaming requests, so fallbackPromptTokens is only ever
// used when parsing fails or the usage object is simply missing — at which
// point this is a degraded accounting event, logged but not fatal to the
// request.
func (a *Accountant) AccountNonStreaming(respBuffer []byte, fallbackPromptTokens uint64) Usage {
	var parsed nonStreamingUsage
	if err := json.Unmarshal(respBuffer, &parsed); err != nil {
		log.Printf("tokenaccount: degraded accounting, failed to parse usage from response: %v", err)
		return Usage{PromptTokens: fallbackPromptTokens, CompletionTokens: 0, Degraded: true}
	}
	if parsed.Usage == nil {
		log.Printf("tokenaccount: degraded accounting, response carried no usage object")
		return Usage{PromptTokens: fallbackPromptTokens, CompletionTokens: 0, Degraded: true}
	}
	return Usage{
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}
}
