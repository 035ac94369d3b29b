// Package copilot – router.go classifies each inbound message into a command,
// checks its preconditions, calls the model or a reader and folds the result
// back into conversation memory.
package copilot

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jholhewres/linegpt/pkg/linegpt/credentials"
	"github.com/jholhewres/linegpt/pkg/linegpt/model"
	"github.com/jholhewres/linegpt/pkg/linegpt/reader"
)

// Inbound is a text message addressed to the bot.
type Inbound struct {
	Channel string
	UserID  string
	GroupID string
	Text    string
}

// Identity is the memory and credential key: the group when the message was
// posted in one, else the user.
func (in Inbound) Identity() string {
	if in.GroupID != "" {
		return in.GroupID
	}
	return in.UserID
}

// Reply is what the bot answers. ImageURL, when set, is sent as an image
// whose original and preview both point at the URL.
type Reply struct {
	Text     string
	ImageURL string
}

// WebsiteReader extracts text chunks from arbitrary pages.
type WebsiteReader interface {
	URLFromText(text string) (string, bool)
	ContentChunks(ctx context.Context, url string) ([]string, error)
}

// RouterOptions wires a Router.
type RouterOptions struct {
	Memory     *Memory
	Clients    *ClientRegistry
	Store      credentials.Store // nil disables persistence
	Summarizer *Summarizer
	YouTube    reader.TranscriptReader
	Bilibili   reader.TranscriptReader
	Website    WebsiteReader
	TempFiles  TempFiles
	Templates  SummaryConfig

	Engine              string
	TranscriptionEngine string
	Timeout             time.Duration
	PlainText           string

	Logger *slog.Logger
}

// Router is the command state machine.
type Router struct {
	opts   RouterOptions
	locks  *KeyedMutex
	logger *slog.Logger
}

// NewRouter creates a Router.
func NewRouter(opts RouterOptions) *Router {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TranscriptionEngine == "" {
		opts.TranscriptionEngine = model.DefaultTranscriptionEngine
	}
	if opts.PlainText == "" {
		opts.PlainText = PlainTextDrop
	}
	if opts.Summarizer == nil {
		opts.Summarizer = NewSummarizer(opts.Engine, opts.Timeout, opts.Logger)
	}
	return &Router{
		opts:   opts,
		locks:  NewKeyedMutex(),
		logger: opts.Logger.With("component", "router"),
	}
}

// Memory returns the conversation memory.
func (r *Router) Memory() *Memory { return r.opts.Memory }

// Clients returns the client registry.
func (r *Router) Clients() *ClientRegistry { return r.opts.Clients }

// HandleText routes one text message. A nil reply means nothing is sent.
// When the turn failed the reply carries the user-facing text and the
// returned error is the classified *Error.
func (r *Router) HandleText(ctx context.Context, in Inbound) (*Reply, error) {
	text := strings.TrimSpace(in.Text)
	command, arg := parseCommand(text)

	if command == "" {
		if r.opts.PlainText != PlainTextChat {
			return nil, nil
		}
		command, arg = "/Chat", text
	}

	// /Reg binds the user even inside a group.
	key := in.Identity()
	if command == "/Reg" {
		key = in.UserID
	}

	unlock := r.locks.Lock(key)
	defer unlock()

	start := time.Now()
	reply, err := r.dispatch(ctx, in, command, arg)

	attrs := []any{
		"channel", in.Channel,
		"identity", key,
		"command", command,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if err != nil {
		r.logger.Warn("command failed", append(attrs, "error", err)...)
	} else {
		r.logger.Info("command handled", attrs...)
	}
	return reply, err
}

// commands in match order. "/Reg " keeps its space so "/RegGroup" is not
// taken for a registration.
var commands = []struct{ prefix, name string }{
	{"/Reg ", "/Reg"},
	{"/RegGroup", "/RegGroup"},
	{"/Help", "/Help"},
	{"/SysMsg", "/SysMsg"},
	{"/History", "/History"},
	{"/Clear", "/Clear"},
	{"/Image", "/Image"},
	{"/Chat", "/Chat"},
}

func parseCommand(text string) (command, arg string) {
	for _, c := range commands {
		if text == c.name {
			return c.name, ""
		}
		if strings.HasPrefix(text, c.prefix) {
			return c.name, strings.TrimSpace(text[len(c.prefix):])
		}
	}
	return "", ""
}

func (r *Router) dispatch(ctx context.Context, in Inbound, command, arg string) (*Reply, error) {
	identity := in.Identity()
	mem := r.opts.Memory

	switch command {
	case "/Reg":
		return r.register(ctx, in.UserID, arg)
	case "/RegGroup":
		return r.registerGroup(ctx, in)
	case "/Help":
		return &Reply{Text: HelpText}, nil
	case "/SysMsg":
		mem.ChangeSystemMessage(identity, arg)
		return &Reply{Text: textSysMsgSet}, nil
	case "/History":
		return &Reply{Text: textHistoryHeader + mem.Render(identity)}, nil
	case "/Clear":
		mem.Remove(identity)
		return &Reply{Text: textHistoryCleared}, nil
	case "/Image":
		return r.image(ctx, in, arg)
	default:
		return r.chat(ctx, in, arg)
	}
}

func (r *Router) register(ctx context.Context, userID, token string) (*Reply, error) {
	if token == "" {
		return r.fail(errInvalidToken(nil), userID)
	}

	client := r.opts.Clients.NewClient(token)

	cctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := client.CheckToken(cctx); err != nil {
		return r.fail(errInvalidToken(err), userID)
	}

	if err := r.persist(ctx, userID, token); err != nil {
		return r.fail(err, userID)
	}
	r.opts.Clients.Bind(userID, client)
	return &Reply{Text: textRegistered}, nil
}

func (r *Router) registerGroup(ctx context.Context, in Inbound) (*Reply, error) {
	if in.GroupID == "" {
		return &Reply{Text: textGroupOnly}, nil
	}

	client, ok := r.opts.Clients.Lookup(in.UserID)
	if !ok {
		return r.fail(errNotRegistered(textNotRegistered), in.UserID)
	}

	if err := r.persist(ctx, in.GroupID, client.Token()); err != nil {
		return r.fail(err, in.UserID)
	}
	r.opts.Clients.Bind(in.GroupID, client)
	return &Reply{Text: textGroupRegistered}, nil
}

func (r *Router) image(ctx context.Context, in Inbound, prompt string) (*Reply, error) {
	identity := in.Identity()
	client, ok := r.opts.Clients.Lookup(identity)
	if !ok {
		return r.fail(errNotRegistered(textNotRegistered), in.UserID)
	}

	r.opts.Memory.Append(identity, model.RoleUser, prompt)

	cctx, cancel := r.withTimeout(ctx)
	defer cancel()
	url, err := client.ImageGeneration(cctx, prompt)
	if err != nil {
		return r.fail(classifyModelError(err), in.UserID, identity)
	}

	r.opts.Memory.Append(identity, model.RoleAssistant, url)
	return &Reply{ImageURL: url}, nil
}

func (r *Router) chat(ctx context.Context, in Inbound, prompt string) (*Reply, error) {
	identity := in.Identity()
	client, ok := r.opts.Clients.Lookup(identity)
	if !ok {
		return r.fail(errNotRegistered(textNotRegistered), in.UserID)
	}

	r.opts.Memory.Append(identity, model.RoleUser, prompt)

	msg, err := r.respond(ctx, client, identity, prompt)
	if err != nil {
		return r.fail(err, in.UserID, identity)
	}

	r.opts.Memory.Append(identity, msg.Role, msg.Content)
	return &Reply{Text: msg.Content}, nil
}

// respond summarizes a linked video or page, or continues the conversation
// when the prompt has no link.
func (r *Router) respond(ctx context.Context, client ModelClient, identity, prompt string) (model.Message, *Error) {
	url, hasURL := r.opts.Website.URLFromText(prompt)
	if !hasURL {
		return r.complete(ctx, client, r.opts.Memory.Get(identity))
	}

	for _, src := range []struct {
		reader    reader.TranscriptReader
		templates SummaryTemplates
	}{
		{r.opts.YouTube, r.opts.Templates.YouTube},
		{r.opts.Bilibili, r.opts.Templates.Bilibili},
	} {
		if src.reader == nil {
			continue
		}
		id, ok := src.reader.VideoID(prompt)
		if !ok {
			continue
		}
		chunks, err := r.fetch(ctx, func(ctx context.Context) ([]string, error) {
			return src.reader.TranscriptChunks(ctx, id)
		})
		if err != nil {
			return model.Message{}, err
		}
		return r.summarize(ctx, client, src.templates, chunks)
	}

	chunks, err := r.fetch(ctx, func(ctx context.Context) ([]string, error) {
		return r.opts.Website.ContentChunks(ctx, url)
	})
	if err != nil {
		return model.Message{}, err
	}
	if len(chunks) == 0 {
		return model.Message{}, classifyReaderError(reader.ErrNoContent)
	}
	return r.summarize(ctx, client, r.opts.Templates.Website, chunks)
}

func (r *Router) fetch(ctx context.Context, fn func(context.Context) ([]string, error)) ([]string, *Error) {
	cctx, cancel := r.withTimeout(ctx)
	defer cancel()
	chunks, err := fn(cctx)
	if err != nil {
		return nil, classifyReaderError(err)
	}
	return chunks, nil
}

func (r *Router) summarize(ctx context.Context, client ModelClient, t SummaryTemplates, chunks []string) (model.Message, *Error) {
	msg, err := r.opts.Summarizer.Summarize(ctx, client, t, chunks)
	if err != nil {
		return model.Message{}, classifyModelError(err)
	}
	return msg, nil
}

func (r *Router) complete(ctx context.Context, client ModelClient, history []model.Message) (model.Message, *Error) {
	cctx, cancel := r.withTimeout(ctx)
	defer cancel()
	msg, err := client.ChatCompletion(cctx, history, r.opts.Engine)
	if err != nil {
		return model.Message{}, classifyModelError(err)
	}
	return msg, nil
}

func (r *Router) persist(ctx context.Context, identity, token string) *Error {
	if r.opts.Store == nil {
		return nil
	}
	if err := r.opts.Store.Save(ctx, map[string]string{identity: token}); err != nil {
		return &Error{Kind: KindUpstream, Text: err.Error(), Err: err}
	}
	return nil
}

// fail resets the identity's memory when the failure calls for it and turns
// the error into a reply.
// fail turns err into the user-facing reply. A resetting failure clears the
// acting user's memory and, for a group turn, the group's too, since its
// history now ends on an unanswered user entry.
func (r *Router) fail(err *Error, identities ...string) (*Reply, error) {
	if err.Resets() {
		for _, id := range identities {
			r.opts.Memory.Remove(id)
		}
	}
	return &Reply{Text: err.Text}, err
}

func (r *Router) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.opts.Timeout)
}
