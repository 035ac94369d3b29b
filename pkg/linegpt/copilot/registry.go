package copilot

import (
	"context"
	"sync"

	"github.com/jholhewres/linegpt/pkg/linegpt/model"
)

// ModelClient is the per-credential API client the router drives.
// *model.Client implements it.
type ModelClient interface {
	Token() string
	ChatCompletion(ctx context.Context, messages []model.Message, engine string) (model.Message, error)
	ImageGeneration(ctx context.Context, prompt string) (string, error)
	AudioTranscription(ctx context.Context, path, engine string) (string, error)
	CheckToken(ctx context.Context) error
}

// ClientFactory builds a client for a token.
type ClientFactory func(token string) ModelClient

// ClientRegistry binds identities to model clients. A group bound through
// /RegGroup shares the user's client instance.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]ModelClient
	factory ClientFactory
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry(factory ClientFactory) *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]ModelClient),
		factory: factory,
	}
}

// Lookup returns the client bound to identity.
func (r *ClientRegistry) Lookup(identity string) (ModelClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[identity]
	return c, ok
}

// Bind binds identity to client, replacing any previous binding.
func (r *ClientRegistry) Bind(identity string, client ModelClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[identity] = client
}

// NewClient builds an unbound client for token.
func (r *ClientRegistry) NewClient(token string) ModelClient {
	return r.factory(token)
}

// Restore binds one fresh client per stored identity → token pair.
func (r *ClientRegistry) Restore(tokens map[string]string) {
	// Identities sharing a token share the client, like a /RegGroup binding.
	byToken := make(map[string]ModelClient, len(tokens))

	r.mu.Lock()
	defer r.mu.Unlock()
	for identity, token := range tokens {
		if token == "" {
			continue
		}
		c, ok := byToken[token]
		if !ok {
			c = r.factory(token)
			byToken[token] = c
		}
		r.clients[identity] = c
	}
}

// Len returns the number of bound identities.
func (r *ClientRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// KeyedMutex serializes work per key. Entries are dropped once no goroutine
// holds or waits for them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock acquires the lock for key and returns its release function.
func (k *KeyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

var _ ModelClient = (*model.Client)(nil)
