package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/blackboard"
	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/provider"
)

const maxToolRounds = 5

// KeyProducer is stamped into every structured LLM output.
const KeyProducer = "_agent"

// Toolbox exposes the tools assigned to an agent.
type Toolbox interface {
	Definitions(ctx context.Context, agentID string) ([]provider.Tool, error)
	Invoke(ctx context.Context, agentID, executionID, name, args string) (string, error)
}

// LLMAgent executes by prompting a model through the provider router.
type LLMAgent struct {
	persona Persona
	router  *provider.Router
	tools   Toolbox
	logger  *zap.Logger
}

// NewLLMAgent creates an agent from its persona. tools may be nil.
func NewLLMAgent(p Persona, router *provider.Router, tools Toolbox, logger *zap.Logger) *LLMAgent {
	if p.ProviderID != "" {
		router.Bind(p.ID, p.ProviderID)
	}
	return &LLMAgent{persona: p, router: router, tools: tools, logger: logger}
}

func (a *LLMAgent) ID() string {
	if a == nil {
		return ""
	}
	return a.persona.ID
}

func (a *LLMAgent) Role() Role {
	if a == nil {
		return ""
	}
	return a.persona.Role
}

func (a *LLMAgent) Persona() Persona { return a.persona }

// MarshalJSON exposes the persona.
func (a *LLMAgent) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.persona)
}

// BuildPrompt renders the user turn: the step input followed by the shared context.
func (a *LLMAgent) BuildPrompt(call *Call) string {
	var sb strings.Builder
	sb.WriteString(call.Input.String())
	if call.Context != nil && call.Context.Data != nil && call.Context.Data.Len() > 0 {
		data, err := json.Marshal(call.Context.Data)
		if err == nil {
			sb.WriteString("\n\nShared context:\n")
			sb.Write(data)
		}
	}
	return sb.String()
}

func (a *LLMAgent) messages(call *Call) []provider.Message {
	var msgs []provider.Message
	if a.persona.SystemPrompt != "" {
		msgs = append(msgs, provider.Message{Role: "system", Content: a.persona.SystemPrompt})
	}
	var rules []string
	if a.persona.Tone != "" {
		rules = append(rules, "Tone: "+a.persona.Tone)
	}
	if a.persona.StyleGuide != "" {
		rules = append(rules, "Style guide:\n"+a.persona.StyleGuide)
	}
	if a.persona.Strict {
		rules = append(rules, "Respond with a single JSON object and nothing else.")
	}
	if len(rules) > 0 {
		msgs = append(msgs, provider.Message{Role: "system", Content: strings.Join(rules, "\n\n")})
	}
	return append(msgs, provider.Message{Role: "user", Content: a.BuildPrompt(call)})
}

// Execute prompts the model, running assigned tools for up to
// maxToolRounds rounds, and parses the final answer.
func (a *LLMAgent) Execute(ctx context.Context, call *Call) (*Output, error) {
	req := &provider.ChatRequest{
		Model:       a.persona.Model,
		Messages:    a.messages(call),
		MaxTokens:   a.persona.MaxTokens,
		Temperature: a.persona.Temperature,
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = 4096
	}
	if a.tools != nil {
		defs, err := a.tools.Definitions(ctx, a.ID())
		if err != nil {
			return nil, fmt.Errorf("%w: %s: load tools: %w", ErrAgentExecution, a.ID(), err)
		}
		if len(defs) > 0 {
			req.Tools = defs
			req.ToolChoice = "auto"
		}
	}

	var resp *provider.ChatResponse
	for round := 0; round < maxToolRounds; round++ {
		var err error
		resp, err = a.router.Route(ctx, a.ID(), req)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrAgentExecution, a.ID(), err)
		}
		if len(resp.ToolCalls) == 0 || resp.FinishReason != "tool_calls" || a.tools == nil {
			break
		}

		req.Messages = append(req.Messages, provider.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			result, err := a.tools.Invoke(ctx, a.ID(), call.ExecutionID, tc.Function.Name, tc.Function.Arguments)
			if err != nil {
				result, _ = sjson.Set(`{}`, "error", err.Error())
			}
			req.Messages = append(req.Messages, provider.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
		a.logger.Debug("tool round complete",
			zap.String("agent", a.ID()),
			zap.Int("round", round+1),
			zap.Int("tool_calls", len(resp.ToolCalls)))
	}

	value, err := a.ParseOutput(resp.Content)
	if err != nil {
		return nil, err
	}
	return &Output{Value: value, Raw: resp.Content}, nil
}

// ParseOutput accepts a JSON object, optionally inside a markdown code
// fence, and stamps the producing agent under KeyProducer. Non-object text
// is an error in strict mode and is wrapped as {"text": raw} otherwise.
func (a *LLMAgent) ParseOutput(raw string) (blackboard.Value, error) {
	text := stripFence(strings.TrimSpace(raw))
	if gjson.Valid(text) && gjson.Parse(text).IsObject() {
		stamped, err := sjson.Set(text, KeyProducer, a.ID())
		if err != nil {
			return blackboard.Null, fmt.Errorf("%w: %s: %w", ErrOutputParse, a.ID(), err)
		}
		var v blackboard.Value
		if err := json.Unmarshal([]byte(stamped), &v); err != nil {
			return blackboard.Null, fmt.Errorf("%w: %s: %w", ErrOutputParse, a.ID(), err)
		}
		return v, nil
	}
	if a.persona.Strict {
		return blackboard.Null, fmt.Errorf("%w: %s: expected a JSON object", ErrOutputParse, a.ID())
	}
	return blackboard.MapOf("text", raw, KeyProducer, a.ID()), nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
