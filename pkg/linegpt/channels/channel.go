// Package channels connects linegpt to chat platforms. A platform adapter
// implements Channel; the Manager fans every adapter's inbound messages into
// one stream and routes replies back by channel name.
package channels

import (
	"context"
	"errors"
	"io"
	"time"
)

// MessageType is the payload kind of an inbound message. Only text and
// audio reach the router; adapters drop everything else.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageAudio MessageType = "audio"
)

// Channel is a chat platform adapter.
type Channel interface {
	// Name is the routing key, e.g. "line".
	Name() string

	Connect(ctx context.Context) error
	Disconnect() error

	// Send delivers message to a chat. to is the adapter's ChatID.
	Send(ctx context.Context, to string, message *OutgoingMessage) error

	// Receive may stay open after Disconnect; the Manager stops reading
	// when its context ends.
	Receive() <-chan *IncomingMessage

	IsConnected() bool
	Health() HealthStatus
}

// MediaChannel is a Channel that can fetch message attachments.
type MediaChannel interface {
	Channel

	// OpenMedia streams the attachment of msg. The caller closes it.
	OpenMedia(ctx context.Context, msg *IncomingMessage) (io.ReadCloser, error)
}

// IncomingMessage is a platform message normalized for the router.
type IncomingMessage struct {
	ID      string
	Channel string

	// From is the sender's platform user id.
	From     string
	FromName string

	// ChatID addresses the reply: group, room or direct chat.
	ChatID string

	// GroupID is empty for direct messages. IsGroup mirrors it.
	GroupID string
	IsGroup bool

	Type      MessageType
	Content   string
	Timestamp time.Time

	// ReplyToken is LINE's single-use reply handle.
	ReplyToken string

	Media *MediaInfo
}

// OutgoingMessage is a reply. Image takes precedence over Content.
type OutgoingMessage struct {
	Content string

	// ReplyTo is a reply token or the id of the message being answered.
	ReplyTo string

	Image *ImageContent
}

// ImageContent points at a hosted image.
type ImageContent struct {
	OriginalURL string
	PreviewURL  string
}

// MediaInfo describes an attachment.
type MediaInfo struct {
	Type     MessageType
	MimeType string
	Filename string
	FileSize uint64

	// Duration in milliseconds, when the platform reports it.
	Duration int64

	// URL is set by platforms that expose attachments over plain HTTP.
	URL string
}

// HealthStatus is one adapter's entry in /status.
type HealthStatus struct {
	Connected     bool      `json:"connected"`
	LastMessageAt time.Time `json:"last_message_at"`
	ErrorCount    int       `json:"error_count"`
}

var (
	ErrChannelDisconnected = errors.New("channels: not connected")
	ErrMediaNotSupported   = errors.New("channels: media download not supported")
	ErrMediaDownloadFailed = errors.New("channels: media download failed")
)
