// Package identify classifies an inbound HTTP request into one of the
// provider dialects the gateway speaks, and pulls out the API key and
// model name the rest of the pipeline needs.
package identify

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Dialect is one of the provider wire formats the gateway terminates or
// dispatches to.
type Dialect string

const (
	OpenAI    Dialect = "openai"
	Anthropic Dialect = "anthropic"
	Google    Dialect = "google"
	Unknown   Dialect = "unknown"
)

// ParsedRequest is the immutable result of classifying one inbound request.
type ParsedRequest struct {
	Dialect Dialect
	APIKey  string // empty if none found
	Model   string // empty if none found
}

// canonicalOpenAIPaths are exact-match paths that identify an OpenAI-dialect
// request regardless of headers.
var canonicalOpenAIPaths = map[string]bool{
	"/v1/chat/completions":     true,
	"/v1/completions":          true,
	"/v1/embeddings":           true,
	"/v1/models":               true,
	"/v1/audio/speech":         true,
	"/v1/audio/transcriptions": true,
	"/v1/audio/translations":   true,
	"/v1/images/generations":   true,
	"/v1/images/edits":         true,
	"/v1/images/variations":    true,
}

var openAIPathPrefixes = []string{
	"/v1/assistants",
	"/v1/threads",
	"/v1/vector_stores",
	"/v1/files",
	"/v1/fine-tuning/",
}

var googleSignatures = []string{
	":generateContent",
	":streamGenerateContent",
	":embedContent",
	":batchEmbedContents",
	":countTokens",
}

var googlePathSubstrings = []string{
	"/models/gemini",
	"/models/text-",
	"/models/embedding-",
}

// Identify classifies path + header + optional body per the precedence
// cascade: x-api-key header, then x-goog-api-key header, then Google path
// signature, then canonical OpenAI paths, then Anthropic paths, then a weak
// User-Agent/Origin/Referer hint, and finally Unknown.
func Identify(path string, header http.Header, body []byte) ParsedRequest {
	if key := header.Get("x-api-key"); key != "" {
		return ParsedRequest{Dialect: Anthropic, APIKey: key, Model: extractModel(path, body, Anthropic)}
	}

	if key := header.Get("x-goog-api-key"); key != "" {
		return ParsedRequest{Dialect: Google, APIKey: key, Model: extractModel(path, body, Google)}
	}

	if looksLikeGooglePath(path) {
		return ParsedRequest{Dialect: Google, APIKey: bearerToken(header), Model: extractModel(path, body, Google)}
	}

	if looksLikeOpenAIPath(path) {
		return ParsedRequest{Dialect: OpenAI, APIKey: bearerToken(header), Model: extractModel(path, body, OpenAI)}
	}

	if looksLikeAnthropicPath(path) {
		return ParsedRequest{Dialect: Anthropic, APIKey: bearerToken(header), Model: extractModel(path, body, Anthropic)}
	}

	if d, ok := weakHint(header); ok {
		return ParsedRequest{Dialect: d, APIKey: bearerToken(header), Model: extractModel(path, body, d)}
	}

	return ParsedRequest{Dialect: Unknown}
}

func looksLikeGooglePath(path string) bool {
	for _, sig := range googleSignatures {
		if strings.Contains(path, sig) {
			return true
		}
	}
	if strings.HasPrefix(path, "/v1beta/models/") && strings.Contains(path, ":") {
		return true
	}
	for _, sub := range googlePathSubstrings {
		if strings.Contains(path, sub) {
			return true
		}
	}
	return false
}

func looksLikeOpenAIPath(path string) bool {
	if canonicalOpenAIPaths[path] {
		return true
	}
	for _, prefix := range openAIPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func looksLikeAnthropicPath(path string) bool {
	return path == "/v1/messages" || strings.HasPrefix(path, "/v1/messages/") || path == "/v1/complete"
}

// weakHint inspects User-Agent, Origin, and Referer for a vendor token,
// case-insensitively, as a last-resort classification before Unknown.
func weakHint(header http.Header) (Dialect, bool) {
	candidates := []string{header.Get("User-Agent"), header.Get("Origin"), header.Get("Referer")}
	for _, c := range candidates {
		lc := strings.ToLower(c)
		switch {
		case strings.Contains(lc, "anthropic"):
			return Anthropic, true
		case strings.Contains(lc, "openai"):
			return OpenAI, true
		case strings.Contains(lc, "google"), strings.Contains(lc, "generativelanguage"):
			return Google, true
		}
	}
	return Unknown, false
}

func bearerToken(header http.Header) string {
	auth := header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(auth, prefix) {
		return strings.TrimPrefix(auth, prefix)
	}
	return ""
}

// extractModel reads the top-level "model" field from a JSON body; failing
// that, for Google dialect paths it falls back to the path segment between
// "/models/" and the next ":".
func extractModel(path string, body []byte, dialect Dialect) string {
	if len(body) > 0 {
		var probe struct {
			Model string `json:"model"`
		}
		if err := json.Unmarshal(body, &probe); err == nil && probe.Model != "" {
			return probe.Model
		}
	}

	if dialect == Google {
		if m, ok := modelFromGooglePath(path); ok {
			return m
		}
	}

	return ""
}

func modelFromGooglePath(path string) (string, bool) {
	idx := strings.Index(path, "/models/")
	if idx == -1 {
		return "", false
	}
	rest := path[idx+len("/models/"):]
	colon := strings.Index(rest, ":")
	if colon == -1 {
		return "", false
	}
	return rest[:colon], true
}
