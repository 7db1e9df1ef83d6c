package agent

// Persona is the behavioral configuration of an LLM-backed agent.
type Persona struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Role         Role    `json:"role"`
	SystemPrompt string  `json:"system_prompt"`
	Tone         string  `json:"tone,omitempty"`
	StyleGuide   string  `json:"style_guide,omitempty"`
	Strict       bool    `json:"strict,omitempty"` // output must be a JSON object
	ProviderID   string  `json:"provider_id,omitempty"`
	Model        string  `json:"model"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
}
