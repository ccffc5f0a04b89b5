// Model error classification.
//
// Information Hiding:
// - SDK-specific error types of each provider
// - Status code and message heuristics used to pick a category

package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// ErrorKind categorizes a failed model invocation.
type ErrorKind int

const (
	UnknownError ErrorKind = iota
	AuthError
	QuotaExceeded
	RateLimited
	NetworkError
)

// String returns the category name.
func (k ErrorKind) String() string {
	switch k {
	case AuthError:
		return "AuthError"
	case QuotaExceeded:
		return "QuotaExceeded"
	case RateLimited:
		return "RateLimited"
	case NetworkError:
		return "NetworkError"
	default:
		return "UnknownError"
	}
}

// ModelError is a classified failure of the model endpoint.
type ModelError struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Err        error
}

func (e *ModelError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("[%s] %s (status=%d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// Hint returns a short suggestion for the user, or "" when there is none.
func (e *ModelError) Hint() string {
	switch e.Kind {
	case AuthError:
		return "check the API key; set a new one with /api <key>"
	case QuotaExceeded:
		return "the account quota is exhausted; check billing or try another key"
	case RateLimited:
		return "too many requests; wait a moment and try again"
	case NetworkError:
		return "the model endpoint could not be reached; check the network connection"
	default:
		return ""
	}
}

// Classify wraps err in a *ModelError. An err that is already a *ModelError
// is returned unchanged; nil yields nil.
func Classify(provider string, err error) *ModelError {
	if err == nil {
		return nil
	}
	var me *ModelError
	if errors.As(err, &me) {
		return me
	}

	status, message := statusOf(err)
	kind := kindFromStatus(status, message)
	if kind == UnknownError {
		kind = kindFromError(err)
	}
	return &ModelError{Kind: kind, Provider: provider, StatusCode: status, Err: err}
}

// statusOf extracts the HTTP status and provider message from SDK errors.
func statusOf(err error) (int, string) {
	var geminiErr genai.APIError
	if errors.As(err, &geminiErr) {
		return geminiErr.Code, geminiErr.Status + " " + geminiErr.Message
	}
	var oaiErr *openai.APIError
	if errors.As(err, &oaiErr) {
		return oaiErr.HTTPStatusCode, fmt.Sprintf("%v %s", oaiErr.Code, oaiErr.Message)
	}
	var oaiReqErr *openai.RequestError
	if errors.As(err, &oaiReqErr) {
		return oaiReqErr.HTTPStatusCode, string(oaiReqErr.Body)
	}
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return anthropicErr.StatusCode, anthropicErr.Error()
	}
	return 0, err.Error()
}

func kindFromStatus(status int, message string) ErrorKind {
	lower := strings.ToLower(message)
	switch {
	case status == 401 || status == 403:
		return AuthError
	case status == 400 && strings.Contains(lower, "api key not valid"):
		return AuthError
	case status == 402:
		return QuotaExceeded
	case status == 429:
		if strings.Contains(lower, "quota") || strings.Contains(lower, "insufficient_quota") {
			return QuotaExceeded
		}
		return RateLimited
	case status == 502 || status == 503 || status == 504:
		return NetworkError
	}
	return UnknownError
}

// kindFromError falls back to transport errors and message content.
func kindFromError(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return NetworkError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return NetworkError
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return NetworkError
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api key"), strings.Contains(msg, "unauthenticated"),
		strings.Contains(msg, "permission denied"), strings.Contains(msg, "unauthorized"):
		return AuthError
	case strings.Contains(msg, "quota"), strings.Contains(msg, "resource_exhausted"):
		return QuotaExceeded
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return RateLimited
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"),
		strings.Contains(msg, "connection reset"), strings.Contains(msg, "timeout"):
		return NetworkError
	}
	return UnknownError
}
