package copilot

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jholhewres/linegpt/pkg/linegpt/model"
)

// TempFiles stores downloaded media for the duration of one turn.
type TempFiles interface {
	// Save copies r into a new uniquely named file and returns its path.
	Save(r io.Reader, ext string) (string, error)

	// Remove deletes a file created by Save.
	Remove(path string) error
}

// AudioInbound is a voice message. Open streams the audio payload.
type AudioInbound struct {
	Channel string
	UserID  string
	GroupID string
	Ext     string
	Open    func(ctx context.Context) (io.ReadCloser, error)
}

// HandleAudio transcribes a voice message and answers it as a chat turn.
// Audio always uses the sender's own registration and memory, even inside a
// group. The temporary file is removed on every path.
func (r *Router) HandleAudio(ctx context.Context, in AudioInbound) (*Reply, error) {
	sender := in.UserID

	unlock := r.locks.Lock(sender)
	defer unlock()

	start := time.Now()
	reply, err := r.audio(ctx, in)

	attrs := []any{
		"channel", in.Channel,
		"identity", sender,
		"command", "audio",
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if err != nil {
		r.logger.Warn("audio failed", append(attrs, "error", err)...)
	} else {
		r.logger.Info("audio handled", attrs...)
	}
	return reply, err
}

func (r *Router) audio(ctx context.Context, in AudioInbound) (*Reply, error) {
	sender := in.UserID

	client, ok := r.opts.Clients.Lookup(sender)
	if !ok {
		return r.fail(errNotRegistered(textAudioNotRegistered), sender)
	}

	path, err := r.download(ctx, in)
	if err != nil {
		return r.fail(&Error{Kind: KindUpstream, Text: err.Error(), Err: err}, sender)
	}
	defer func() {
		if err := r.opts.TempFiles.Remove(path); err != nil {
			r.logger.Warn("failed to remove temp audio", "path", path, "error", err)
		}
	}()

	cctx, cancel := r.withTimeout(ctx)
	transcript, err := client.AudioTranscription(cctx, path, r.opts.TranscriptionEngine)
	cancel()
	if err != nil {
		return r.fail(classifyModelError(err), sender)
	}

	r.opts.Memory.Append(sender, model.RoleUser, transcript)

	msg, cerr := r.complete(ctx, client, r.opts.Memory.Get(sender))
	if cerr != nil {
		return r.fail(cerr, sender)
	}

	r.opts.Memory.Append(sender, msg.Role, msg.Content)
	return &Reply{Text: msg.Content}, nil
}

func (r *Router) download(ctx context.Context, in AudioInbound) (string, error) {
	if in.Open == nil {
		return "", fmt.Errorf("audio: no content source")
	}

	cctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rc, err := in.Open(cctx)
	if err != nil {
		return "", fmt.Errorf("audio: opening content: %w", err)
	}
	defer rc.Close()

	ext := in.Ext
	if ext == "" {
		ext = ".m4a"
	}
	path, err := r.opts.TempFiles.Save(rc, ext)
	if err != nil {
		return "", fmt.Errorf("audio: saving content: %w", err)
	}
	return path, nil
}
