package copilot

import (
	"context"
	"errors"
	"fmt"

	"github.com/jholhewres/linegpt/pkg/linegpt/model"
)

// User-facing reply texts.
const (
	textInvalidToken       = "Token 無效，請重新註冊，格式為 /Reg sk-xxxxx"
	textNotRegistered      = "請先註冊 Token，格式為 /Reg sk-xxxxx"
	textAudioNotRegistered = "請先註冊你的 API Token，格式為 /Reg [API TOKEN]"
	textCredentialRejected = "OpenAI API Token 有誤，請重新註冊。"
	textOverloaded         = "已超過負荷，請稍後再試"
)

// ErrorKind classifies a failed turn.
type ErrorKind int

const (
	// KindInvalidToken: /Reg was given a token the API refused.
	KindInvalidToken ErrorKind = iota + 1
	// KindNotRegistered: the identity has no bound client.
	KindNotRegistered
	// KindCredentialRejected: the bound token was refused mid-conversation.
	KindCredentialRejected
	// KindOverloaded: rate limited, upstream 5xx or timed out.
	KindOverloaded
	// KindUpstream: any other model failure.
	KindUpstream
	// KindExtraction: no transcript or page text could be obtained.
	KindExtraction
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidToken:
		return "invalid_token"
	case KindNotRegistered:
		return "not_registered"
	case KindCredentialRejected:
		return "credential_rejected"
	case KindOverloaded:
		return "overloaded"
	case KindUpstream:
		return "upstream"
	case KindExtraction:
		return "extraction"
	default:
		return "unknown"
	}
}

// Error is a classified turn failure carrying the reply text.
type Error struct {
	Kind ErrorKind
	Text string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Resets reports whether the conversation is reset after this failure.
// Validation and precondition failures happen before any mutation.
func (e *Error) Resets() bool {
	switch e.Kind {
	case KindInvalidToken, KindNotRegistered:
		return false
	default:
		return true
	}
}

func errInvalidToken(err error) *Error {
	return &Error{Kind: KindInvalidToken, Text: textInvalidToken, Err: err}
}

func errNotRegistered(text string) *Error {
	return &Error{Kind: KindNotRegistered, Text: text}
}

// classifyModelError maps a model client failure to a turn error.
func classifyModelError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	switch model.KindOf(err) {
	case model.ErrorAuth:
		return &Error{Kind: KindCredentialRejected, Text: textCredentialRejected, Err: err}
	case model.ErrorRateLimit, model.ErrorOverloaded, model.ErrorTimeout:
		return &Error{Kind: KindOverloaded, Text: textOverloaded, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindOverloaded, Text: textOverloaded, Err: err}
	}
	return &Error{Kind: KindUpstream, Text: err.Error(), Err: err}
}

// classifyReaderError maps a content extraction failure to a turn error.
func classifyReaderError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindOverloaded, Text: textOverloaded, Err: err}
	}
	return &Error{Kind: KindExtraction, Text: err.Error(), Err: err}
}
