package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ErrorKind classifies upstream failures so callers can decide how to answer
// without looking at message text.
type ErrorKind int

const (
	ErrorUnknown    ErrorKind = iota // anything not classified below
	ErrorAuth                        // 401/403, the token was rejected
	ErrorRateLimit                   // 429
	ErrorOverloaded                  // 5xx, 529 or "overloaded" in the body
	ErrorTimeout                     // deadline exceeded
	ErrorBadRequest                  // 400 / 404
	ErrorEmpty                       // upstream answered without usable content
)

// String returns a short name for logging.
func (k ErrorKind) String() string {
	switch k {
	case ErrorAuth:
		return "auth"
	case ErrorRateLimit:
		return "rate_limit"
	case ErrorOverloaded:
		return "overloaded"
	case ErrorTimeout:
		return "timeout"
	case ErrorBadRequest:
		return "bad_request"
	case ErrorEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// APIError wraps an upstream failure together with its classification.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Op         string
	Err        error
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s failed (%s)", e.Op, e.Kind)
}

func (e *APIError) Unwrap() error { return e.Err }

// KindOf returns the ErrorKind carried by err, or ErrorUnknown.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ErrorUnknown
}

// classifyError turns a go-openai (or transport) error into an *APIError.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &APIError{Kind: ErrorTimeout, Op: op, Message: "request timed out", Err: err}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{
			Kind:       classifyStatus(apiErr.HTTPStatusCode, apiErr.Message),
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Op:         op,
			Err:        err,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := ""
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &APIError{
			Kind:       classifyStatus(reqErr.HTTPStatusCode, msg),
			StatusCode: reqErr.HTTPStatusCode,
			Message:    msg,
			Op:         op,
			Err:        err,
		}
	}

	return &APIError{Kind: ErrorUnknown, Op: op, Message: err.Error(), Err: err}
}

// classifyStatus determines the error kind from status code and message.
func classifyStatus(statusCode int, message string) ErrorKind {
	lower := strings.ToLower(message)

	if statusCode == http.StatusTooManyRequests ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "rate_limit") {
		return ErrorRateLimit
	}

	if statusCode == 529 ||
		strings.Contains(lower, "overloaded") ||
		strings.Contains(lower, "capacity") {
		return ErrorOverloaded
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return ErrorAuth
	case strings.Contains(lower, "incorrect api key"):
		return ErrorAuth
	case statusCode == http.StatusBadRequest || statusCode == http.StatusNotFound:
		return ErrorBadRequest
	case statusCode >= 500:
		return ErrorOverloaded
	default:
		return ErrorUnknown
	}
}
