package dialect

import (
	"encoding/json"
	"fmt"

	"github.com/howard-nolan/llmgateway/internal/identify"
)

// openAIConverter translates OpenAI-dialect bodies into Anthropic or
// Google shape. Its streaming leg is always a pass-through: OpenAI is the
// canonical upstream dialect, so converting "openai to openai" never
// happens in a well-formed pipeline call, but the contract still requires
// returning nil when source == target.
type openAIConverter struct {
	originalModel string
}

func (c *openAIConverter) SetOriginalModel(model string) {
	c.originalModel = model
}

func (c *openAIConverter) ConvertRequest(body []byte, target identify.Dialect) ([]byte, error) {
	req, err := parseChatRequest(body)
	if err != nil {
		return nil, err
	}

	switch target {
	case identify.Anthropic:
		return json.Marshal(toAnthropicRequest(req))
	case identify.Google:
		return json.Marshal(toGeminiRequest(req))
	case identify.OpenAI:
		return body, nil
	default:
		return nil, fmt.Errorf("unsupported target dialect %q", target)
	}
}

func (c *openAIConverter) ConvertFromOpenAIStreamingChunk(raw []byte) (*string, error) {
	return nil, nil
}

// openAIStreamEvent is the shape of one `data:` line emitted by an
// OpenAI-dialect streaming upstream.
type openAIStreamEvent struct {
	ID      string               `json:"id"`
	Model   string               `json:"model"`
	Choices []openAIStreamChoice `json:"choices"`
	Usage   *openAIUsage         `json:"usage,omitempty"`
}

type openAIStreamChoice struct {
	Delta        openAIStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openAIStreamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func parseOpenAIStreamEvent(raw []byte) (*openAIStreamEvent, error) {
	var event openAIStreamEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("decoding openai stream event: %w", err)
	}
	return &event, nil
}
