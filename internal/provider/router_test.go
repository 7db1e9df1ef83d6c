package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

type stubProvider struct {
	id    string
	reply string
	err   error
	calls int
}

func (s *stubProvider) ID() string   { return s.id }
func (s *stubProvider) Name() string { return s.id }
func (s *stubProvider) Chat(_ context.Context, _ *ChatRequest) (*ChatResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &ChatResponse{Content: s.reply}, nil
}

func TestRouterBindingAndFallback(t *testing.T) {
	r := NewRouter(zap.NewNop())
	broken := &stubProvider{id: "broken", err: errors.New("down")}
	backup := &stubProvider{id: "backup", reply: "from backup"}
	def := &stubProvider{id: "default", reply: "from default"}
	r.Register(def)
	r.Register(broken)
	r.Register(backup)

	resp, err := r.Route(context.Background(), "any", &ChatRequest{})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if resp.Content != "from default" {
		t.Errorf("got %q, want default provider", resp.Content)
	}

	r.Bind("writer", "broken")
	r.SetFallbacks("writer", []string{"missing", "backup"})
	resp, err = r.Route(context.Background(), "writer", &ChatRequest{})
	if err != nil {
		t.Fatalf("route with fallback: %v", err)
	}
	if resp.Content != "from backup" {
		t.Errorf("got %q, want backup", resp.Content)
	}
	if broken.calls != 1 {
		t.Errorf("broken called %d times, want 1", broken.calls)
	}
}

func TestRouterNoProvider(t *testing.T) {
	r := NewRouter(zap.NewNop())
	if _, err := r.Route(context.Background(), "a", &ChatRequest{}); err == nil {
		t.Fatal("expected error with no providers")
	}
}

func TestOpenAIProviderChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "c1",
			"model": req.Model,
			"choices": []map[string]any{{
				"message":       map[string]any{"role": "assistant", "content": "hi"},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"total_tokens": 3},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Config{ID: "oa", Endpoint: srv.URL, APIKey: "sk-test"}, zap.NewNop())
	resp, err := p.Chat(context.Background(), &ChatRequest{Model: "gpt-test", Messages: []Message{{Role: "user", Content: "hello"}}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "hi" || resp.Model != "gpt-test" || resp.Usage.TotalTokens != 3 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestOpenAIProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Config{ID: "oa", Endpoint: srv.URL}, zap.NewNop())
	if _, err := p.Chat(context.Background(), &ChatRequest{}); err == nil {
		t.Fatal("expected API error")
	}
}

func TestNewByType(t *testing.T) {
	for _, typ := range []string{"openai", "openai-compatible", "anthropic"} {
		if _, err := New(Config{ID: typ, Type: typ}, zap.NewNop()); err != nil {
			t.Errorf("%s: %v", typ, err)
		}
	}
	if _, err := New(Config{Type: "mystery"}, zap.NewNop()); err == nil {
		t.Error("expected error for unknown type")
	}
}
