package types

import "time"

// API error codes shared by both HTTP surfaces.
const (
	CodeInvalidArtifact   = 1001
	CodeSecurityRejected  = 1002
	CodeSynthesisError    = 1003
	CodeResourceExhausted = 1004
	CodeNotFound          = 1005
	CodeRuntimeFailure    = 1006
	CodeInvalidRequest    = 1007
)

// APIError is the body of every non-2xx response.
type APIError struct {
	Code      int       `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path"`
	Details   any       `json:"details,omitempty"`
}

// ErrorEnvelope wraps APIError under a fixed "error" key.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
