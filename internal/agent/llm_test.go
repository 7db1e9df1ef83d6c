package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/blackboard"
	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/provider"
)

// scripted replays canned responses and records the requests it saw.
type scripted struct {
	replies []*provider.ChatResponse
	seen    []*provider.ChatRequest
}

func (s *scripted) ID() string   { return "scripted" }
func (s *scripted) Name() string { return "scripted" }
func (s *scripted) Chat(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	cp := *req
	cp.Messages = append([]provider.Message(nil), req.Messages...)
	s.seen = append(s.seen, &cp)
	if len(s.replies) == 0 {
		return nil, errors.New("no more replies")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

type fakeToolbox struct {
	invoked []string
}

func (f *fakeToolbox) Definitions(context.Context, string) ([]provider.Tool, error) {
	return []provider.Tool{{Type: "function", Function: provider.ToolFunction{Name: "lookup"}}}, nil
}

func (f *fakeToolbox) Invoke(_ context.Context, _, _, name, args string) (string, error) {
	f.invoked = append(f.invoked, name+args)
	if name == "broken" {
		return "", errors.New("tool exploded")
	}
	return `{"found":true}`, nil
}

func newTestAgent(p Persona, replies ...*provider.ChatResponse) (*LLMAgent, *scripted) {
	s := &scripted{replies: replies}
	router := provider.NewRouter(zap.NewNop())
	router.Register(s)
	return NewLLMAgent(p, router, nil, zap.NewNop()), s
}

func TestParseOutputObject(t *testing.T) {
	a, _ := newTestAgent(Persona{ID: "writer"})

	v, err := a.ParseOutput("```json\n{\"title\":\"Draft\",\"words\":120}\n```")
	require.NoError(t, err)
	title, _ := v.Get("title")
	assert.Equal(t, "Draft", title.String())
	producer, _ := v.Get(KeyProducer)
	assert.Equal(t, "writer", producer.String())
}

func TestParseOutputLenientAndStrict(t *testing.T) {
	lenient, _ := newTestAgent(Persona{ID: "w"})
	v, err := lenient.ParseOutput("just prose")
	require.NoError(t, err)
	text, _ := v.Get("text")
	assert.Equal(t, "just prose", text.String())

	strict, _ := newTestAgent(Persona{ID: "w", Strict: true})
	_, err = strict.ParseOutput("just prose")
	require.ErrorIs(t, err, ErrOutputParse)
	_, err = strict.ParseOutput("[1,2]")
	require.ErrorIs(t, err, ErrOutputParse)
}

func TestExecuteBuildsPromptFromPersonaAndContext(t *testing.T) {
	a, s := newTestAgent(
		Persona{ID: "rv", Role: RoleReviewer, SystemPrompt: "You review.", Tone: "blunt", Strict: true, Model: "m1"},
		&provider.ChatResponse{Content: `{"approved":false}`, FinishReason: "stop"},
	)
	snap := &blackboard.Snapshot{ExecutionID: "e1", Data: blackboard.NewFields()}
	snap.Data.Set("draft", blackboard.Scalar("hello"))

	out, err := a.Execute(context.Background(), &Call{ExecutionID: "e1", Input: blackboard.Scalar("review this"), Context: snap})
	require.NoError(t, err)
	approved, _ := out.Value.Get("approved")
	assert.Equal(t, false, approved.Interface())
	assert.Equal(t, `{"approved":false}`, out.Raw)

	require.Len(t, s.seen, 1)
	req := s.seen[0]
	assert.Equal(t, "m1", req.Model)
	assert.Equal(t, 4096, req.MaxTokens)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "You review.", req.Messages[0].Content)
	assert.Contains(t, req.Messages[1].Content, "Tone: blunt")
	assert.Contains(t, req.Messages[1].Content, "JSON object")
	assert.True(t, strings.HasPrefix(req.Messages[2].Content, "review this"))
	assert.Contains(t, req.Messages[2].Content, `"draft":"hello"`)
}

func TestExecuteRunsToolLoop(t *testing.T) {
	s := &scripted{replies: []*provider.ChatResponse{
		{FinishReason: "tool_calls", ToolCalls: []provider.ToolCall{
			{ID: "c1", Function: provider.ToolCallFunction{Name: "lookup", Arguments: `{"q":"x"}`}},
			{ID: "c2", Function: provider.ToolCallFunction{Name: "broken", Arguments: `{}`}},
		}},
		{Content: `{"done":true}`, FinishReason: "stop"},
	}}
	router := provider.NewRouter(zap.NewNop())
	router.Register(s)
	tools := &fakeToolbox{}
	a := NewLLMAgent(Persona{ID: "w"}, router, tools, zap.NewNop())

	out, err := a.Execute(context.Background(), &Call{ExecutionID: "e1", Input: blackboard.Scalar("go")})
	require.NoError(t, err)
	done, _ := out.Value.Get("done")
	assert.Equal(t, true, done.Interface())

	assert.Equal(t, []string{`lookup{"q":"x"}`, "broken{}"}, tools.invoked)
	require.Len(t, s.seen, 2)
	assert.Equal(t, "auto", s.seen[0].ToolChoice)
	second := s.seen[1].Messages
	require.GreaterOrEqual(t, len(second), 3)
	last := second[len(second)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Equal(t, "c2", last.ToolCallID)
	assert.Contains(t, last.Content, "tool exploded")
}

func TestExecuteWrapsProviderFailure(t *testing.T) {
	a, _ := newTestAgent(Persona{ID: "w"})
	_, err := a.Execute(context.Background(), &Call{Input: blackboard.Scalar("x")})
	require.ErrorIs(t, err, ErrAgentExecution)
}

func TestApplyProfile(t *testing.T) {
	dir := t.TempDir()
	old := ProfileDir
	ProfileDir = dir
	t.Cleanup(func() { ProfileDir = old })

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "writer"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "writer", "SYSTEM.md"), []byte("You write.\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "writer", "STYLE.md"), []byte("Short sentences."), 0o644))

	p := Persona{ID: "writer", StyleGuide: "Plain words."}
	p.ApplyProfile()
	assert.Equal(t, "You write.", p.SystemPrompt)
	assert.Equal(t, "Plain words.\n\nShort sentences.", p.StyleGuide)

	configured := Persona{ID: "writer", SystemPrompt: "From config."}
	configured.ApplyProfile()
	assert.Equal(t, "From config.", configured.SystemPrompt)

	missing := Persona{ID: "nobody"}
	missing.ApplyProfile()
	assert.Empty(t, missing.SystemPrompt)
}
