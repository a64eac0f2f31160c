package config

import (
	"path/filepath"
	"sync"
	"time"
)

// Config is the root configuration for the LimeBot runtime.
type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Providers ProvidersConfig `json:"providers"`
	Persona   PersonaConfig   `json:"persona"`
	Sessions  SessionsConfig  `json:"sessions"`
	Data      DataConfig      `json:"data"`
	Channels  ChannelsConfig  `json:"channels"`
	Gateway   GatewayConfig   `json:"gateway"`
	Tools     ToolsConfig     `json:"tools"`
	Memory    MemoryConfig    `json:"memory,omitempty"`
	Skills    SkillsConfig    `json:"skills,omitempty"`
	MCP       MCPConfig       `json:"mcp,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Tailscale TailscaleConfig `json:"tailscale,omitempty"`
	mu        sync.RWMutex
}

// AgentConfig holds LLM loop settings.
type AgentConfig struct {
	Provider          string          `json:"provider"` // key into Providers ("openai", "openrouter", "ollama")
	Model             string          `json:"model"`
	SummaryModel      string          `json:"summary_model,omitempty"` // model for history summarization (default: Model)
	MaxTokens         int             `json:"max_tokens"`
	Temperature       float64         `json:"temperature"`
	MaxToolIterations int             `json:"max_tool_iterations"` // tool-loop budget per user message
	HistoryBudget     int             `json:"history_budget"`      // estimated tokens before summarization
	Workspace         string          `json:"workspace"`           // root for file tools
	Subagents         SubagentsConfig `json:"subagents,omitempty"`
}

// SubagentsConfig bounds child reasoning loops.
type SubagentsConfig struct {
	MaxConcurrent int `json:"max_concurrent,omitempty"` // default 5
	MaxIterations int `json:"max_iterations,omitempty"` // default 10
}

// ProvidersConfig lists LLM backends. All speak the OpenAI-compatible wire
// format; they differ only in base URL and credentials.
type ProvidersConfig struct {
	OpenAI     ProviderConfig `json:"openai,omitempty"`
	OpenRouter ProviderConfig `json:"openrouter,omitempty"`
	Ollama     ProviderConfig `json:"ollama,omitempty"`
}

// ProviderConfig holds one backend's endpoint and credentials.
// API keys are read from env only (LIMEBOT_OPENAI_API_KEY etc.), never persisted.
type ProviderConfig struct {
	APIKey  string `json:"-"`
	BaseURL string `json:"base_url,omitempty"`
}

// PersonaConfig locates the persona file tree.
type PersonaConfig struct {
	Dir string `json:"dir"` // holds SOUL.md, IDENTITY.md, memory/, users/, sessions/
}

// SessionsConfig locates session persistence. Empty Dir derives
// "{persona.dir}/sessions".
type SessionsConfig struct {
	Dir string `json:"dir,omitempty"`
}

// DataConfig locates runtime state that is not persona content.
type DataConfig struct {
	Dir string `json:"dir"` // holds cron.json, memory.db
}

// ChannelsConfig enables transports and their policies.
type ChannelsConfig struct {
	Console  ConsoleConfig            `json:"console,omitempty"`
	Policies map[string]ChannelPolicy `json:"policies,omitempty"` // keyed by channel name
}

// ConsoleConfig configures the in-terminal channel.
type ConsoleConfig struct {
	Enabled  bool   `json:"enabled,omitempty"`
	SenderID string `json:"sender_id,omitempty"` // default "operator"
}

// ChannelPolicy is the per-channel approval table: sensitive tools listed in
// AutoApprove skip the confirmation gate on that channel; RequireApproval
// forces the gate even for tools the session has whitelisted.
type ChannelPolicy struct {
	AutoApprove     []string `json:"auto_approve,omitempty"`
	RequireApproval []string `json:"require_approval,omitempty"`
	AllowedSenders  []string `json:"allowed_senders,omitempty"` // empty = everyone
}

// GatewayConfig configures the WebSocket control surface.
type GatewayConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	Token           string `json:"-"` // from env LIMEBOT_GATEWAY_TOKEN only
	MaxMessageChars int    `json:"max_message_chars"`
	RateLimitRPM    int    `json:"rate_limit_rpm"` // per client; 0 disables
}

// ToolsConfig configures the executor and builtin tools.
type ToolsConfig struct {
	Exec        ExecToolConfig `json:"exec,omitempty"`
	Cache       CacheConfig    `json:"cache,omitempty"`
	Web         WebToolsConfig `json:"web,omitempty"`
	ConfirmTTL  Duration       `json:"confirm_ttl,omitempty"`  // pending confirmation lifetime (default 300s)
	CallTimeout Duration       `json:"call_timeout,omitempty"` // per tool call (default 120s)
}

// ExecToolConfig configures the run_command tool.
type ExecToolConfig struct {
	AllowUnsafe bool     `json:"allow_unsafe,omitempty"` // bypass the command guard
	Timeout     Duration `json:"timeout,omitempty"`      // default 60s
}

// CacheConfig configures the tool result cache.
type CacheConfig struct {
	Capacity   int                 `json:"capacity,omitempty"`    // default 100
	DefaultTTL Duration            `json:"default_ttl,omitempty"` // default 300s
	ToolTTL    map[string]Duration `json:"tool_ttl,omitempty"`    // per-tool overrides
}

// WebToolsConfig configures web_fetch / web_search.
type WebToolsConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	MaxResults  int    `json:"max_results,omitempty"` // default 5
	BraveAPIKey string `json:"-"`                     // from env LIMEBOT_BRAVE_API_KEY; enables the Brave provider
}

// MemoryConfig configures recall.
type MemoryConfig struct {
	Enabled    *bool `json:"enabled,omitempty"`     // default true (nil = enabled)
	MaxResults int   `json:"max_results,omitempty"` // default 5
}

// SkillsConfig configures the skill manifest loader.
type SkillsConfig struct {
	Dir     string   `json:"dir,omitempty"`     // default "{data.dir}/skills"
	Enabled []string `json:"enabled,omitempty"` // nil = all discovered skills
}

// MCPConfig lists external MCP servers whose tools are merged into the registry.
type MCPConfig struct {
	Servers []MCPServerConfig `json:"servers,omitempty"`
}

// MCPServerConfig describes one MCP server connection.
type MCPServerConfig struct {
	Name      string            `json:"name"`
	Transport string            `json:"transport"` // "stdio" or "sse"
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	URL       string            `json:"url,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// TelemetryConfig configures OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`     // e.g. "localhost:4317"
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"` // default "limebot"
	Headers     map[string]string `json:"headers,omitempty"`
}

// TailscaleConfig configures the optional tsnet listener for the gateway.
// Requires building with -tags tsnet. Auth key from env only.
type TailscaleConfig struct {
	Hostname  string `json:"hostname,omitempty"`
	StateDir  string `json:"state_dir,omitempty"`
	AuthKey   string `json:"-"` // from env LIMEBOT_TSNET_AUTH_KEY only
	Ephemeral bool   `json:"ephemeral,omitempty"`
}

// Duration is a time.Duration that parses JSON strings like "2s" or "5m"
// as well as bare numbers (seconds).
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Or returns d, or fallback when d is zero.
func (d Duration) Or(fallback time.Duration) time.Duration {
	if d == 0 {
		return fallback
	}
	return time.Duration(d)
}

// SessionsDir returns the effective session storage directory.
func (c *Config) SessionsDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Sessions.Dir != "" {
		return ExpandHome(c.Sessions.Dir)
	}
	return filepath.Join(ExpandHome(c.Persona.Dir), "sessions")
}

// SkillsDir returns the effective skills directory.
func (c *Config) SkillsDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Skills.Dir != "" {
		return ExpandHome(c.Skills.Dir)
	}
	return filepath.Join(ExpandHome(c.Data.Dir), "skills")
}

// WorkspacePath returns the expanded workspace path for file tools.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Agent.Workspace)
}

// PersonaDir returns the expanded persona directory.
func (c *Config) PersonaDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Persona.Dir)
}

// DataDir returns the expanded data directory.
func (c *Config) DataDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Data.Dir)
}

// Provider returns the named provider's settings.
func (c *Config) Provider(name string) ProviderConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch name {
	case "openrouter":
		return c.Providers.OpenRouter
	case "ollama":
		return c.Providers.Ollama
	default:
		return c.Providers.OpenAI
	}
}

// Policy returns the approval policy for a channel (zero value if unset).
func (c *Config) Policy(channel string) ChannelPolicy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Channels.Policies[channel]
}
