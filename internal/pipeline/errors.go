package pipeline

import "net/http"

// pipelineError carries the HTTP status a phase failure should produce.
// The pre-stream phase functions (identify, route, rewriteAndConvert,
// rateGate, dispatch) return one of these instead of a bare error, and
// ServeHTTP writes it as the HTTP error response as soon as that phase
// fails. The streaming and finalize phases return nothing: their failures
// are only logged.
type pipelineError struct {
	status int
	msg    string
}

func (e *pipelineError) Error() string {
	return e.msg
}

func badRequest(msg string) *pipelineError      { return &pipelineError{status: http.StatusBadRequest, msg: msg} }
func unauthorized(msg string) *pipelineError    { return &pipelineError{status: http.StatusUnauthorized, msg: msg} }
func tooManyRequests(msg string) *pipelineError { return &pipelineError{status: http.StatusTooManyRequests, msg: msg} }
func upstreamError(msg string) *pipelineError   { return &pipelineError{status: http.StatusBadGateway, msg: msg} }
func internalError(msg string) *pipelineError   { return &pipelineError{status: http.StatusInternalServerError, msg: msg} }
