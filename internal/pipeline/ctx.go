package pipeline

import (
	"bytes"

	"github.com/howard-nolan/llmgateway/internal/identify"
	"github.com/howard-nolan/llmgateway/internal/router"
)

// requestCtx is the per-request context: created at request start,
// discarded at request end, never shared across requests. Outside of
// suspension points (body reads, rate-limiter calls, the upstream round
// trip) it needs no synchronization — one goroutine owns it exclusively.
type requestCtx struct {
	reqBuffer  []byte
	respBuffer bytes.Buffer

	parsed identify.ParsedRequest
	user   string

	sourceDialect identify.Dialect
	targetDialect identify.Dialect

	selectedPeer      router.Peer
	selectedChannelID string
	apiKeyHash        string

	routingAttempts int
	fallbackUsed    bool

	responseContentEncoding string

	promptTokens uint64
}
