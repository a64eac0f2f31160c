package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Provider:          "openai",
			Model:             "gpt-4o",
			MaxTokens:         4096,
			Temperature:       0.7,
			MaxToolIterations: 30,
			HistoryBudget:     12000,
			Workspace:         "~/.limebot/workspace",
			Subagents: SubagentsConfig{
				MaxConcurrent: 5,
				MaxIterations: 10,
			},
		},
		Providers: ProvidersConfig{
			OpenAI:     ProviderConfig{BaseURL: "https://api.openai.com/v1"},
			OpenRouter: ProviderConfig{BaseURL: "https://openrouter.ai/api/v1"},
			Ollama:     ProviderConfig{BaseURL: "http://localhost:11434/v1"},
		},
		Persona: PersonaConfig{Dir: "~/.limebot/persona"},
		Data:    DataConfig{Dir: "~/.limebot/data"},
		Channels: ChannelsConfig{
			Console: ConsoleConfig{SenderID: "operator"},
			Policies: map[string]ChannelPolicy{
				"whatsapp": {
					AutoApprove:     []string{"run_command", "write_file", "cron_remove"},
					RequireApproval: []string{"delete_file"},
				},
			},
		},
		Gateway: GatewayConfig{
			Host:            "127.0.0.1",
			Port:            18490,
			MaxMessageChars: 32000,
			RateLimitRPM:    20,
		},
		Tools: ToolsConfig{
			Exec:        ExecToolConfig{Timeout: Duration(60 * time.Second)},
			Cache:       CacheConfig{Capacity: 100, DefaultTTL: Duration(300 * time.Second)},
			Web:         WebToolsConfig{Enabled: true, MaxResults: 5},
			ConfirmTTL:  Duration(300 * time.Second),
			CallTimeout: Duration(120 * time.Second),
		},
		Memory:    MemoryConfig{MaxResults: 5},
		Telemetry: TelemetryConfig{Protocol: "grpc", ServiceName: "limebot"},
	}
}

// Load reads config from a JSON5 file over the defaults, then overlays env vars.
// A missing file is not an error: defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("LIMEBOT_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("LIMEBOT_OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("LIMEBOT_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("LIMEBOT_BRAVE_API_KEY", &c.Tools.Web.BraveAPIKey)

	envStr("LIMEBOT_PROVIDER", &c.Agent.Provider)
	envStr("LIMEBOT_MODEL", &c.Agent.Model)
	envStr("LIMEBOT_WORKSPACE", &c.Agent.Workspace)
	envStr("LIMEBOT_PERSONA_DIR", &c.Persona.Dir)
	envStr("LIMEBOT_DATA_DIR", &c.Data.Dir)

	envStr("LIMEBOT_HOST", &c.Gateway.Host)
	if v := os.Getenv("LIMEBOT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	// Telemetry
	envStr("LIMEBOT_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("LIMEBOT_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	if v := os.Getenv("LIMEBOT_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}

	// Tailscale (tsnet)
	envStr("LIMEBOT_TSNET_HOSTNAME", &c.Tailscale.Hostname)
	envStr("LIMEBOT_TSNET_AUTH_KEY", &c.Tailscale.AuthKey)
	envStr("LIMEBOT_TSNET_DIR", &c.Tailscale.StateDir)
}

// Save writes the config to a JSON file. Secret fields carry `json:"-"` and
// never persist.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Hash returns a short SHA-256 hash of the config for the gateway status method.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

// UnmarshalJSON accepts both "5m" duration strings and bare numbers (seconds).
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string or number: %s", data)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// MarshalJSON renders the duration as a Go duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}
