package dialect

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/howard-nolan/llmgateway/internal/identify"
)

// defaultMaxTokens is used when a translated request doesn't specify
// max_tokens. Anthropic requires the field, so a translation into its
// dialect needs a fallback.
const defaultMaxTokens = 1024

// anthropicRequest is the top-level request body for /v1/messages.
type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Stream    bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// toAnthropicRequest pulls system messages into the top-level "system"
// string and defaults max_tokens, which Anthropic requires.
func toAnthropicRequest(req *chatRequest) *anthropicRequest {
	ar := &anthropicRequest{Model: req.Model, Stream: req.Stream}

	var systemParts []string
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			systemParts = append(systemParts, msg.Content)
			continue
		}
		ar.Messages = append(ar.Messages, anthropicMessage{Role: msg.Role, Content: msg.Content})
	}
	if len(systemParts) > 0 {
		ar.System = strings.Join(systemParts, "\n")
	}

	if req.MaxTokens > 0 {
		ar.MaxTokens = req.MaxTokens
	} else {
		ar.MaxTokens = defaultMaxTokens
	}

	return ar
}

// fromAnthropicRequest is the reverse leg: the top-level "system" string
// becomes a leading system message, and max_tokens maps straight across.
func fromAnthropicRequest(ar *anthropicRequest) *chatRequest {
	req := &chatRequest{Model: ar.Model, Stream: ar.Stream, MaxTokens: ar.MaxTokens}

	if ar.System != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: ar.System})
	}
	for _, msg := range ar.Messages {
		req.Messages = append(req.Messages, chatMessage{Role: msg.Role, Content: msg.Content})
	}

	return req
}

// anthropicConverter translates Anthropic-dialect bodies, and translates
// OpenAI-dialect streaming chunks into Anthropic's named-event shape.
type anthropicConverter struct {
	originalModel string
}

func (c *anthropicConverter) SetOriginalModel(model string) {
	c.originalModel = model
}

func (c *anthropicConverter) ConvertRequest(body []byte, target identify.Dialect) ([]byte, error) {
	var ar anthropicRequest
	if err := json.Unmarshal(body, &ar); err != nil {
		return nil, fmt.Errorf("decoding anthropic request body: %w", err)
	}
	req := fromAnthropicRequest(&ar)

	switch target {
	case identify.OpenAI:
		return json.Marshal(req)
	case identify.Google:
		return json.Marshal(toGeminiRequest(req))
	case identify.Anthropic:
		return body, nil
	default:
		return nil, fmt.Errorf("unsupported target dialect %q", target)
	}
}

// anthropicStopReason maps an OpenAI finish_reason onto Anthropic's
// stop_reason vocabulary; unrecognized reasons pass through unchanged.
func anthropicStopReason(openAIReason string) string {
	switch openAIReason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return openAIReason
	}
}

func (c *anthropicConverter) ConvertFromOpenAIStreamingChunk(raw []byte) (*string, error) {
	event, err := parseOpenAIStreamEvent(raw)
	if err != nil {
		return nil, err
	}

	model := event.Model
	if c.originalModel != "" {
		model = c.originalModel
	}

	if len(event.Choices) == 0 {
		return nil, nil
	}
	choice := event.Choices[0]

	if choice.FinishReason != nil {
		payload := map[string]any{
			"type": "message_delta",
			"delta": map[string]any{
				"stop_reason": anthropicStopReason(*choice.FinishReason),
			},
		}
		if event.Usage != nil {
			payload["usage"] = anthropicUsage{
				InputTokens:  event.Usage.PromptTokens,
				OutputTokens: event.Usage.CompletionTokens,
			}
		}
		return marshalToStringPtr(payload)
	}

	if choice.Delta.Content != "" {
		payload := map[string]any{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]any{
				"type": "text_delta",
				"text": choice.Delta.Content,
			},
		}
		return marshalToStringPtr(payload)
	}

	// Role-only delta: the first event in the stream. Surface it as
	// message_start so the client can learn the response id and model.
	payload := map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":    event.ID,
			"model": model,
		},
	}
	return marshalToStringPtr(payload)
}

func marshalToStringPtr(v any) (*string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling converted streaming chunk: %w", err)
	}
	s := string(b)
	return &s, nil
}
