package copilot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/jholhewres/linegpt/pkg/linegpt/model"
)

func TestClientRegistry_RestoreSharesClients(t *testing.T) {
	built := 0
	r := NewClientRegistry(func(token string) ModelClient {
		built++
		return &fakeClient{token: token}
	})

	r.Restore(map[string]string{
		"U1": "sk-1",
		"G1": "sk-1",
		"U2": "sk-2",
		"U3": "",
	})

	if built != 2 {
		t.Errorf("factory calls = %d, want 2", built)
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
	u1, _ := r.Lookup("U1")
	g1, _ := r.Lookup("G1")
	if u1 != g1 {
		t.Error("identities with the same token got different clients")
	}
	if _, ok := r.Lookup("U3"); ok {
		t.Error("empty token was restored")
	}
}

func TestClientRegistry_BindReplaces(t *testing.T) {
	r := NewClientRegistry(func(token string) ModelClient { return &fakeClient{token: token} })

	r.Bind("U1", r.NewClient("old"))
	r.Bind("U1", r.NewClient("new"))

	c, ok := r.Lookup("U1")
	if !ok || c.Token() != "new" {
		t.Errorf("Lookup() = %v, %v; want the newer client", c, ok)
	}
}

func TestKeyedMutex(t *testing.T) {
	k := NewKeyedMutex()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		running = map[string]int{}
		overlap bool
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%3)
			unlock := k.Lock(key)
			defer unlock()

			mu.Lock()
			running[key]++
			if running[key] > 1 {
				overlap = true
			}
			mu.Unlock()

			mu.Lock()
			running[key]--
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if overlap {
		t.Error("two holders of the same key ran together")
	}
	if n := len(k.locks); n != 0 {
		t.Errorf("locks left = %d, want 0", n)
	}
}

func TestClassifyModelError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"auth", &model.APIError{Kind: model.ErrorAuth}, KindCredentialRejected},
		{"rate limit", &model.APIError{Kind: model.ErrorRateLimit}, KindOverloaded},
		{"overloaded", &model.APIError{Kind: model.ErrorOverloaded}, KindOverloaded},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), KindOverloaded},
		{"bad request", &model.APIError{Kind: model.ErrorBadRequest, Message: "bad"}, KindUpstream},
		{"already classified", errInvalidToken(nil), KindInvalidToken},
		{"plain", errors.New("x"), KindUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyModelError(tt.err)
			if got.Kind != tt.want {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.want)
			}
			if got.Text == "" {
				t.Error("Text is empty")
			}
		})
	}
}

func TestError_Resets(t *testing.T) {
	for kind, want := range map[ErrorKind]bool{
		KindInvalidToken:       false,
		KindNotRegistered:      false,
		KindCredentialRejected: true,
		KindOverloaded:         true,
		KindUpstream:           true,
		KindExtraction:         true,
	} {
		if got := (&Error{Kind: kind}).Resets(); got != want {
			t.Errorf("%v.Resets() = %v, want %v", kind, got, want)
		}
	}
}
