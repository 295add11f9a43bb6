package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/harunnryd/sitewise/internal/pathutil"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

const EnvPrefix = "SITEWISE_"

type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Models       ModelsConfig       `koanf:"models"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Tools        ToolsConfig        `koanf:"tools"`
	Store        StoreConfig        `koanf:"store"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
}

type ServerConfig struct {
	Port            int    `koanf:"port"`
	LogLevel        string `koanf:"log_level"`
	ReadTimeout     string `koanf:"read_timeout"`
	WriteTimeout    string `koanf:"write_timeout"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

type ModelsConfig struct {
	Default        string          `koanf:"default"`
	Fallback       string          `koanf:"fallback"`
	Embedding      string          `koanf:"embedding"`
	ConnectTimeout string          `koanf:"connect_timeout"`
	Registry       []ModelRegistry `koanf:"registry"`
}

// ModelRegistry describes one configured backend. Model is the upstream model id and defaults to Name.
// RequestTimeout bounds non-streaming calls; streamed steps are bounded by orchestrator.step_timeout.
type ModelRegistry struct {
	Name           string `koanf:"name" yaml:"name"`
	Provider       string `koanf:"provider" yaml:"provider"`
	BaseURL        string `koanf:"base_url" yaml:"base_url,omitempty"`
	APIKey         string `koanf:"api_key" yaml:"api_key,omitempty"`
	Model          string `koanf:"model" yaml:"model,omitempty"`
	ToolMode       string `koanf:"tool_mode" yaml:"tool_mode,omitempty"`
	RequestTimeout string `koanf:"request_timeout" yaml:"request_timeout,omitempty"`
}

type OrchestratorConfig struct {
	MaxSteps         int    `koanf:"max_steps"`
	StepTimeout      string `koanf:"step_timeout"`
	MaxParallelTools int    `koanf:"max_parallel_tools"`
	SystemPrompt     string `koanf:"system_prompt"`
	StreamBuffer     int    `koanf:"stream_buffer"`
}

type ToolsConfig struct {
	Timeout string           `koanf:"timeout"`
	Web     WebToolConfig    `koanf:"web"`
	Blog    BlogToolConfig   `koanf:"blog"`
	Search  SearchToolConfig `koanf:"search"`
}

type WebToolConfig struct {
	Timeout          string `koanf:"timeout"`
	MaxContentLength int    `koanf:"max_content_length"`
	UserAgent        string `koanf:"user_agent"`
}

type BlogToolConfig struct {
	MaxWords int `koanf:"max_words"`
}

type SearchToolConfig struct {
	Limit int `koanf:"limit"`
}

type StoreConfig struct {
	Path                     string `koanf:"path"`
	LockTimeout              string `koanf:"lock_timeout"`
	LockRetry                string `koanf:"lock_retry"`
	LockMaxRetry             int    `koanf:"lock_max_retry"`
	InboxSize                int    `koanf:"inbox_size"`
	TranscriptRotateMaxBytes int64  `koanf:"transcript_rotate_max_bytes"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

const (
	DefaultServerPort                    = 8080
	DefaultServerLogLevel                = "info"
	DefaultServerReadTimeout             = "10s"
	DefaultServerWriteTimeout            = "5m"
	DefaultServerShutdownTimeout         = "10s"
	DefaultModelDefault                  = "llama3.1"
	DefaultModelFallback                 = ""
	DefaultModelEmbedding                = "nomic-embed-text"
	DefaultModelConnectTimeout           = "10s"
	DefaultModelRequestTimeout           = "120s"
	DefaultOllamaBaseURL                 = "http://localhost:11434"
	DefaultOpenAIBaseURL                 = "https://api.openai.com/v1"
	DefaultOrchestratorMaxSteps          = 5
	DefaultOrchestratorStepTimeout       = "120s"
	DefaultOrchestratorMaxParallelTools  = 4
	DefaultOrchestratorSystemPrompt      = "You are Sitewise, an assistant for website owners. Use the available tools to analyze websites, draft content and search previously indexed material. Answer concisely once you have what you need."
	DefaultOrchestratorStreamBuffer      = 64
	DefaultToolTimeout                   = "30s"
	DefaultWebToolTimeout                = "15s"
	DefaultWebToolMaxContentLength       = 2 * 1024 * 1024
	DefaultWebToolUserAgent              = "sitewise/1.0 (+https://github.com/harunnryd/sitewise)"
	DefaultBlogToolMaxWords              = 1500
	DefaultSearchToolLimit               = 5
	DefaultStorePath                     = "~/.sitewise/data"
	DefaultStoreLockTimeout              = "30s"
	DefaultStoreLockRetry                = "100ms"
	DefaultStoreLockMaxRetry             = 300
	DefaultStoreInboxSize                = 100
	DefaultStoreTranscriptRotateMaxBytes = 10 * 1024 * 1024
	DefaultTelemetryEnabled              = false
	DefaultTelemetryServiceName          = "sitewise"
)

// Tool modes a registry entry may declare.
const (
	ToolModeNative   = "native"
	ToolModeEmulated = "emulated"
	ToolModeNone     = "none"
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	// Hardcoded Defaults
	defaults := map[string]interface{}{
		"server.port":             DefaultServerPort,
		"server.log_level":        DefaultServerLogLevel,
		"server.read_timeout":     DefaultServerReadTimeout,
		"server.write_timeout":    DefaultServerWriteTimeout,
		"server.shutdown_timeout": DefaultServerShutdownTimeout,
		"models.default":          DefaultModelDefault,
		"models.fallback":         DefaultModelFallback,
		"models.embedding":        DefaultModelEmbedding,
		"models.connect_timeout":  DefaultModelConnectTimeout,
		"models.registry": []ModelRegistry{
			{Name: DefaultModelDefault, Provider: "ollama", BaseURL: DefaultOllamaBaseURL, ToolMode: ToolModeNative},
			{Name: DefaultModelEmbedding, Provider: "ollama", BaseURL: DefaultOllamaBaseURL, ToolMode: ToolModeNone},
			{Name: "gpt-4o-mini", Provider: "openai"},
		},
		"orchestrator.max_steps":            DefaultOrchestratorMaxSteps,
		"orchestrator.step_timeout":         DefaultOrchestratorStepTimeout,
		"orchestrator.max_parallel_tools":   DefaultOrchestratorMaxParallelTools,
		"orchestrator.system_prompt":        DefaultOrchestratorSystemPrompt,
		"orchestrator.stream_buffer":        DefaultOrchestratorStreamBuffer,
		"tools.timeout":                     DefaultToolTimeout,
		"tools.web.timeout":                 DefaultWebToolTimeout,
		"tools.web.max_content_length":      DefaultWebToolMaxContentLength,
		"tools.web.user_agent":              DefaultWebToolUserAgent,
		"tools.blog.max_words":              DefaultBlogToolMaxWords,
		"tools.search.limit":                DefaultSearchToolLimit,
		"store.path":                        DefaultStorePath,
		"store.lock_timeout":                DefaultStoreLockTimeout,
		"store.lock_retry":                  DefaultStoreLockRetry,
		"store.lock_max_retry":              DefaultStoreLockMaxRetry,
		"store.inbox_size":                  DefaultStoreInboxSize,
		"store.transcript_rotate_max_bytes": DefaultStoreTranscriptRotateMaxBytes,
		"telemetry.enabled":                 DefaultTelemetryEnabled,
		"telemetry.service_name":            DefaultTelemetryServiceName,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// Config file loading
	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".sitewise", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// Environment Variables: SITEWISE_ORCHESTRATOR__MAX_STEPS -> orchestrator.max_steps
	k.Load(env.Provider(EnvPrefix, ".", envKey), nil)

	// CLI Flags
	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for i, m := range cfg.Models.Registry {
		if m.Provider == "" {
			cfg.Models.Registry[i].Provider = "openai"
		}
		if m.Model == "" {
			cfg.Models.Registry[i].Model = m.Name
		}
		if m.ToolMode == "" {
			cfg.Models.Registry[i].ToolMode = ToolModeNative
		}
	}

	storePath, err := pathutil.Expand(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	cfg.Store.Path = storePath

	// Post-Process: Inject standard Env Vars if missing
	injectAPIKey(&cfg, "openai", os.Getenv("OPENAI_API_KEY"))
	injectAPIKey(&cfg, "anthropic", os.Getenv("ANTHROPIC_API_KEY"))
	injectAPIKey(&cfg, "gemini", os.Getenv("GEMINI_API_KEY"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func envKey(s string) string {
	trimmed := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(trimmed, "__", ".")
}

func injectAPIKey(cfg *Config, provider, key string) {
	if key == "" {
		return
	}
	for i, m := range cfg.Models.Registry {
		if m.Provider == provider && m.APIKey == "" {
			cfg.Models.Registry[i].APIKey = key
		}
	}
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if c.Orchestrator.MaxSteps < 1 {
		return fmt.Errorf("orchestrator.max_steps must be >= 1, got %d", c.Orchestrator.MaxSteps)
	}
	if c.Orchestrator.MaxParallelTools < 1 {
		return fmt.Errorf("orchestrator.max_parallel_tools must be >= 1, got %d", c.Orchestrator.MaxParallelTools)
	}

	durations := map[string]string{
		"server.read_timeout":       c.Server.ReadTimeout,
		"server.write_timeout":      c.Server.WriteTimeout,
		"server.shutdown_timeout":   c.Server.ShutdownTimeout,
		"models.connect_timeout":    c.Models.ConnectTimeout,
		"orchestrator.step_timeout": c.Orchestrator.StepTimeout,
		"tools.timeout":             c.Tools.Timeout,
		"tools.web.timeout":         c.Tools.Web.Timeout,
		"store.lock_timeout":        c.Store.LockTimeout,
		"store.lock_retry":          c.Store.LockRetry,
	}
	for key, value := range durations {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if _, err := DurationOrDefault(value, ""); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}

	seen := make(map[string]struct{}, len(c.Models.Registry))
	for _, m := range c.Models.Registry {
		if strings.TrimSpace(m.Name) == "" {
			return fmt.Errorf("models.registry: entry without name")
		}
		if _, dup := seen[m.Name]; dup {
			return fmt.Errorf("models.registry: duplicate model %q", m.Name)
		}
		seen[m.Name] = struct{}{}

		if strings.TrimSpace(m.RequestTimeout) != "" {
			if _, err := DurationOrDefault(m.RequestTimeout, ""); err != nil {
				return fmt.Errorf("models.registry[%s].request_timeout: %w", m.Name, err)
			}
		}

		switch m.ToolMode {
		case ToolModeNative, ToolModeEmulated, ToolModeNone:
		default:
			return fmt.Errorf("models.registry[%s]: unknown tool_mode %q", m.Name, m.ToolMode)
		}
	}

	return nil
}

// FindModel returns the registry entry named name.
func (c *Config) FindModel(name string) (ModelRegistry, bool) {
	for _, m := range c.Models.Registry {
		if m.Name == name {
			return m, true
		}
	}
	return ModelRegistry{}, false
}

// Redacted returns a copy safe to print, with API keys masked.
func (c *Config) Redacted() Config {
	out := *c
	out.Models.Registry = make([]ModelRegistry, len(c.Models.Registry))
	for i, m := range c.Models.Registry {
		if m.APIKey != "" {
			m.APIKey = "********"
		}
		out.Models.Registry[i] = m
	}
	return out
}
