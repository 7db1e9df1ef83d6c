package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server       ServerConfig       `json:"server"`
	Providers    []ProviderConfig   `json:"providers"`
	Agents       []AgentConfig      `json:"agents"`
	Database     DatabaseConfig     `json:"database"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	ProfileDir   string             `json:"profile_dir"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type ProviderConfig struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Name     string            `json:"name"`
	Endpoint string            `json:"endpoint"`
	APIKey   string            `json:"api_key"`
	Timeout  Duration          `json:"timeout,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// AgentConfig describes an LLM-backed agent.
type AgentConfig struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	Provider     string   `json:"provider"`
	Fallbacks    []string `json:"fallbacks,omitempty"`
	Model        string   `json:"model"`
	SystemPrompt string   `json:"system_prompt"`
	Tone         string   `json:"tone"`
	StyleGuide   string   `json:"style_guide"`
	Strict       bool     `json:"strict"`
	MaxTokens    int      `json:"max_tokens"`
	Temperature  *float64 `json:"temperature,omitempty"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN        string `json:"dsn"`
	Migrations string `json:"migrations"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

// Backends accepted by OrchestratorConfig.MessageStore and SnapshotStore.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type OrchestratorConfig struct {
	ParallelTimeout     Duration    `json:"parallel_timeout"`
	RequestTimeout      Duration    `json:"request_timeout"`
	PoolSize            int         `json:"pool_size"`
	BranchFailure       string      `json:"branch_failure"`
	MessageStore        string      `json:"message_store"`
	SnapshotStore       string      `json:"snapshot_store"`
	ToolStore           string      `json:"tool_store"`
	WorkflowStore       string      `json:"workflow_store"`
	Merge               MergeConfig `json:"merge"`
	MaxConditionalSteps int         `json:"max_conditional_steps"`
}

// MergeConfig names the blackboard merge strategy per value kind.
type MergeConfig struct {
	Arrays     string `json:"arrays"`
	Objects    string `json:"objects"`
	Primitives string `json:"primitives"`
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("duration must be a string: %s", data)
		}
		*d = Duration(n)
		return nil
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Defaults fills unset fields.
func (c *Config) Defaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3210
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Database.Postgres.Migrations == "" {
		c.Database.Postgres.Migrations = "migrations"
	}
	if c.ProfileDir == "" {
		c.ProfileDir = "agents"
	}
	o := &c.Orchestrator
	if o.ParallelTimeout == 0 {
		o.ParallelTimeout = Duration(5 * time.Minute)
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = Duration(60 * time.Second)
	}
	if o.PoolSize <= 0 {
		o.PoolSize = 8
	}
	if o.BranchFailure == "" {
		o.BranchFailure = "null"
	}
	if o.MaxConditionalSteps <= 0 {
		o.MaxConditionalSteps = 50
	}
	fallback := BackendMemory
	if c.Database.Postgres.DSN != "" {
		fallback = BackendPostgres
	}
	for _, s := range []*string{&o.MessageStore, &o.SnapshotStore, &o.ToolStore, &o.WorkflowStore} {
		if *s == "" {
			*s = fallback
		}
	}
}

// Validate checks enumerations and cross-section references.
func (c *Config) Validate() error {
	o := c.Orchestrator
	switch o.BranchFailure {
	case "null", "fail":
	default:
		return fmt.Errorf("orchestrator.branch_failure: unknown value %q", o.BranchFailure)
	}
	backends := map[string]string{
		"message_store":  o.MessageStore,
		"snapshot_store": o.SnapshotStore,
		"tool_store":     o.ToolStore,
		"workflow_store": o.WorkflowStore,
	}
	for field, b := range backends {
		switch b {
		case BackendMemory:
		case BackendPostgres:
			if c.Database.Postgres.DSN == "" {
				return fmt.Errorf("orchestrator.%s: postgres needs database.postgres.dsn", field)
			}
		case BackendRedis:
			if field != "message_store" && field != "snapshot_store" {
				return fmt.Errorf("orchestrator.%s: redis is not supported", field)
			}
			if c.Database.Redis.URL == "" {
				return fmt.Errorf("orchestrator.%s: redis needs database.redis.url", field)
			}
		default:
			return fmt.Errorf("orchestrator.%s: unknown backend %q", field, b)
		}
	}
	providers := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		providers[p.ID] = true
	}
	seen := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agents: id is required")
		}
		if seen[a.ID] {
			return fmt.Errorf("agents: duplicate id %q", a.ID)
		}
		seen[a.ID] = true
		if a.Provider != "" && !providers[a.Provider] {
			return fmt.Errorf("agent %s: unknown provider %q", a.ID, a.Provider)
		}
	}
	return nil
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file, substitutes environment variable references
// and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes raw config JSON.
func Parse(data []byte) (*Config, error) {
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, err
	}
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
