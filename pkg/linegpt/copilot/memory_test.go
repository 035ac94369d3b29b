package copilot

import (
	"fmt"
	"sync"
	"testing"

	"github.com/jholhewres/linegpt/pkg/linegpt/model"
)

func TestMemory_GetUnknownIdentity(t *testing.T) {
	m := NewMemory("be nice", 2)

	got := m.Get("U1")
	if len(got) != 1 {
		t.Fatalf("Get() len = %d, want 1", len(got))
	}
	if got[0].Role != model.RoleSystem || got[0].Content != "be nice" {
		t.Errorf("Get()[0] = %+v, want default system entry", got[0])
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after lazy init", m.Len())
	}
}

func TestMemory_Window(t *testing.T) {
	tests := []struct {
		window  int
		appends int
		want    []string
	}{
		{window: 2, appends: 3, want: []string{"m0", "m1", "m2"}},
		{window: 2, appends: 4, want: []string{"m0", "m1", "m2", "m3"}},
		{window: 2, appends: 7, want: []string{"m3", "m4", "m5", "m6"}},
		{window: 1, appends: 5, want: []string{"m3", "m4"}},
		{window: 2, appends: 40, want: []string{"m36", "m37", "m38", "m39"}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("window=%d/appends=%d", tt.window, tt.appends), func(t *testing.T) {
			m := NewMemory("sys", tt.window)
			for i := 0; i < tt.appends; i++ {
				role := model.RoleUser
				if i%2 == 1 {
					role = model.RoleAssistant
				}
				m.Append("U1", role, fmt.Sprintf("m%d", i))
			}

			got := m.Get("U1")
			if len(got) != len(tt.want)+1 {
				t.Fatalf("Get() len = %d, want %d", len(got), len(tt.want)+1)
			}
			if got[0].Role != model.RoleSystem {
				t.Errorf("Get()[0].Role = %q, want system", got[0].Role)
			}
			for i, w := range tt.want {
				if got[i+1].Content != w {
					t.Errorf("Get()[%d].Content = %q, want %q", i+1, got[i+1].Content, w)
				}
			}
		})
	}
}

func TestMemory_ChangeSystemMessageKeepsHistory(t *testing.T) {
	m := NewMemory("sys", 2)
	m.Append("G1", model.RoleUser, "hello")
	m.ChangeSystemMessage("G1", "pirate")

	got := m.Get("G1")
	if got[0].Content != "pirate" {
		t.Errorf("system = %q, want pirate", got[0].Content)
	}
	if len(got) != 2 || got[1].Content != "hello" {
		t.Errorf("Get() = %+v, want history kept", got)
	}

	// Other identities keep the default.
	if other := m.Get("G2"); other[0].Content != "sys" {
		t.Errorf("other system = %q, want sys", other[0].Content)
	}
}

func TestMemory_Remove(t *testing.T) {
	m := NewMemory("sys", 2)
	m.ChangeSystemMessage("U1", "custom")
	m.Append("U1", model.RoleUser, "hello")

	m.Remove("U1")

	got := m.Get("U1")
	if len(got) != 1 || got[0].Content != "sys" {
		t.Errorf("Get() after Remove = %+v, want only default system", got)
	}

	// Remove on an unknown identity is fine.
	m.Remove("never-seen")
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	m := NewMemory("sys", 2)
	m.Append("U1", model.RoleUser, "hello")

	got := m.Get("U1")
	got[1].Content = "mutated"

	if again := m.Get("U1"); again[1].Content != "hello" {
		t.Errorf("stored entry changed through returned slice: %q", again[1].Content)
	}
}

func TestMemory_Render(t *testing.T) {
	m := NewMemory("sys", 2)
	m.Append("U1", model.RoleUser, "hi")
	m.Append("U1", model.RoleAssistant, "hello")

	want := "system: sys\nuser: hi\nassistant: hello"
	if got := m.Render("U1"); got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestMemory_Concurrent(t *testing.T) {
	m := NewMemory("sys", 2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("U%d", i%2)
			for j := 0; j < 50; j++ {
				m.Append(id, model.RoleUser, "x")
				_ = m.Get(id)
				if j%10 == 0 {
					m.ChangeSystemMessage(id, "y")
				}
			}
		}(i)
	}
	wg.Wait()

	if got := len(m.Get("U0")); got != 5 {
		t.Errorf("Get() len = %d, want 5", got)
	}
}
