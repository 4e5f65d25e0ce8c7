package dialect

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/dnaeon/go-vcr.v4/pkg/recorder"

	"github.com/howard-nolan/llmgateway/internal/identify"
)

// recordAndReplay records one HTTP round trip against upstream into a
// cassette on disk, then reopens the cassette in replay-only mode and
// issues the same request again, returning the replayed body. Round
// tripping through a real cassette file (rather than hand-authoring one)
// is what actually exercises go-vcr's own encode/decode path.
func recordAndReplay(t *testing.T, upstream *httptest.Server, cassetteName string) []byte {
	t.Helper()
	cassettePath := filepath.Join(t.TempDir(), cassetteName)

	rec, err := recorder.New(cassettePath, recorder.WithMode(recorder.ModeRecordOnly))
	require.NoError(t, err)
	client := &http.Client{Transport: rec}
	resp, err := client.Get(upstream.URL)
	require.NoError(t, err)
	_, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, rec.Stop())

	replay, err := recorder.New(cassettePath, recorder.WithMode(recorder.ModeReplayOnly))
	require.NoError(t, err)
	defer func() { require.NoError(t, replay.Stop()) }()

	replayClient := &http.Client{Transport: replay}
	replayedResp, err := replayClient.Get(upstream.URL)
	require.NoError(t, err)
	defer replayedResp.Body.Close()

	body, err := io.ReadAll(replayedResp.Body)
	require.NoError(t, err)
	return body
}

// TestAnthropicConverter_ReplaysRecordedOpenAIStream records a canned
// OpenAI SSE stream, replays it from the cassette, and feeds each data
// line through the Anthropic converter the way the pipeline's streaming
// phase does.
func TestAnthropicConverter_ReplaysRecordedOpenAIStream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"hi\"},\"finish_reason\":null}]}\n\n")
		io.WriteString(w, "data: {\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":1,\"total_tokens\":4}}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer upstream.Close()

	body := recordAndReplay(t, upstream, "openai-stream")

	reg := NewRegistry()
	conv, err := reg.Get(identify.Anthropic)
	require.NoError(t, err)
	conv.SetOriginalModel("claude-3-5-sonnet")

	var sawDelta, sawFinish bool
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: {") {
			continue
		}
		out, err := conv.ConvertFromOpenAIStreamingChunk([]byte(strings.TrimPrefix(line, "data: ")))
		require.NoError(t, err)
		require.NotNil(t, out)
		switch {
		case strings.Contains(*out, "content_block_delta"):
			sawDelta = true
		case strings.Contains(*out, "message_delta"):
			sawFinish = true
		}
	}
	require.NoError(t, scanner.Err())

	assert.True(t, sawDelta, "expected a content_block_delta event")
	assert.True(t, sawFinish, "expected a message_delta event")
}

// TestAnthropicConverter_ReplaysRecordedAnthropicRequest records a canned
// Anthropic request body, replays it from the cassette, and converts it
// into the OpenAI shape through the Anthropic converter, the way the
// pipeline's ConvertRequest phase does for a client that spoke Anthropic
// against an OpenAI-dialect channel.
func TestAnthropicConverter_ReplaysRecordedAnthropicRequest(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"model":"claude-3-5-sonnet","max_tokens":256,"system":"be terse","messages":[{"role":"user","content":"hi"}]}`)
	}))
	defer upstream.Close()

	body := recordAndReplay(t, upstream, "anthropic-nonstream")

	reg := NewRegistry()
	conv, err := reg.Get(identify.Anthropic)
	require.NoError(t, err)

	out, err := conv.ConvertRequest(body, identify.OpenAI)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"role":"system"`)
	assert.Contains(t, string(out), `"content":"be terse"`)
}
