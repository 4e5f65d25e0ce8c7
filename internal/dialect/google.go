package dialect

import (
	"encoding/json"
	"fmt"

	"github.com/howard-nolan/llmgateway/internal/identify"
)

// geminiRequest is the top-level request body for generateContent /
// streamGenerateContent.
type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// toGeminiRequest pulls system messages into systemInstruction, remaps
// "assistant" to Gemini's "model" role, and moves max_tokens under
// generationConfig.
func toGeminiRequest(req *chatRequest) *geminiRequest {
	gr := &geminiRequest{}

	for _, msg := range req.Messages {
		if msg.Role == "system" {
			if gr.SystemInstruction == nil {
				gr.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: msg.Content}}}
			} else {
				gr.SystemInstruction.Parts = append(gr.SystemInstruction.Parts, geminiPart{Text: msg.Content})
			}
			continue
		}

		role := msg.Role
		if role == "assistant" {
			role = "model"
		}
		gr.Contents = append(gr.Contents, geminiContent{Role: role, Parts: []geminiPart{{Text: msg.Content}}})
	}

	if req.MaxTokens > 0 {
		gr.GenerationConfig = &geminiGenerationConfig{MaxOutputTokens: req.MaxTokens}
	}

	return gr
}

// fromGeminiRequest is the reverse leg: systemInstruction becomes a
// leading system message, and Gemini's "model" role becomes "assistant".
func fromGeminiRequest(gr *geminiRequest) *chatRequest {
	req := &chatRequest{}

	if gr.SystemInstruction != nil {
		for _, part := range gr.SystemInstruction.Parts {
			req.Messages = append(req.Messages, chatMessage{Role: "system", Content: part.Text})
		}
	}

	for _, content := range gr.Contents {
		role := content.Role
		if role == "model" {
			role = "assistant"
		}
		var text string
		if len(content.Parts) > 0 {
			text = content.Parts[0].Text
		}
		req.Messages = append(req.Messages, chatMessage{Role: role, Content: text})
	}

	if gr.GenerationConfig != nil {
		req.MaxTokens = gr.GenerationConfig.MaxOutputTokens
	}

	return req
}

// googleConverter translates Google-dialect bodies, and translates
// OpenAI-dialect streaming chunks into Gemini's streamGenerateContent
// shape.
type googleConverter struct {
	originalModel string
}

func (c *googleConverter) SetOriginalModel(model string) {
	c.originalModel = model
}

func (c *googleConverter) ConvertRequest(body []byte, target identify.Dialect) ([]byte, error) {
	var gr geminiRequest
	if err := json.Unmarshal(body, &gr); err != nil {
		return nil, fmt.Errorf("decoding gemini request body: %w", err)
	}
	req := fromGeminiRequest(&gr)
	if c.originalModel != "" {
		req.Model = c.originalModel
	}

	switch target {
	case identify.OpenAI:
		return json.Marshal(req)
	case identify.Anthropic:
		return json.Marshal(toAnthropicRequest(req))
	case identify.Google:
		return body, nil
	default:
		return nil, fmt.Errorf("unsupported target dialect %q", target)
	}
}

func (c *googleConverter) ConvertFromOpenAIStreamingChunk(raw []byte) (*string, error) {
	event, err := parseOpenAIStreamEvent(raw)
	if err != nil {
		return nil, err
	}

	if len(event.Choices) == 0 {
		return nil, nil
	}
	choice := event.Choices[0]

	candidate := map[string]any{
		"content": geminiContent{
			Role:  "model",
			Parts: []geminiPart{{Text: choice.Delta.Content}},
		},
	}
	if choice.FinishReason != nil {
		candidate["finishReason"] = geminiFinishReason(*choice.FinishReason)
	}

	payload := map[string]any{
		"candidates": []any{candidate},
	}
	if event.Usage != nil {
		payload["usageMetadata"] = geminiUsageMetadata{
			PromptTokenCount:     event.Usage.PromptTokens,
			CandidatesTokenCount: event.Usage.CompletionTokens,
			TotalTokenCount:      event.Usage.TotalTokens,
		}
	}

	return marshalToStringPtr(payload)
}

// geminiFinishReason maps an OpenAI finish_reason onto Gemini's
// finishReason vocabulary; unrecognized reasons pass through unchanged.
func geminiFinishReason(openAIReason string) string {
	switch openAIReason {
	case "stop":
		return "STOP"
	case "length":
		return "MAX_TOKENS"
	default:
		return openAIReason
	}
}
