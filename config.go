package ghostline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	kjson "github.com/knadh/koanf/parsers/json"
	ktoml "github.com/knadh/koanf/parsers/toml"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	defaults "github.com/Paranoid-AF/ghostline/default"
)

// Config represents the user's ghostline configuration.
type Config struct {
	Version    int              `json:"version"`
	Editor     EditorConfig     `json:"editor"`
	Service    ServiceConfig    `json:"service"`
	Generation GenerationConfig `json:"generation"`
	Embedding  EmbeddingConfig  `json:"embedding"`
	Telemetry  TelemetryConfig  `json:"telemetry"`
}

// EditorConfig holds settings for the editor-side suggestion engine.
type EditorConfig struct {
	SuggestionsEnabled *bool  `json:"suggestions_enabled,omitempty"`
	DebounceMS         int    `json:"debounce_ms"`
	RequestTimeoutMS   int    `json:"request_timeout_ms"`
	ContextLines       int    `json:"context_lines"`
	AcceptKey          string `json:"accept_key"`
	ServiceURL         string `json:"service_url,omitempty"`
}

// ServiceConfig holds settings for the completion service.
type ServiceConfig struct {
	Socket             string `json:"socket,omitempty"`
	Listen             string `json:"listen,omitempty"`
	Workspace          string `json:"workspace,omitempty"`
	CacheTTLSeconds    int    `json:"cache_ttl_seconds"`
	MaxSuggestionLines int    `json:"max_suggestion_lines"`
}

// GenerationConfig holds settings for the generation API.
type GenerationConfig struct {
	BaseURL     string   `json:"base_url"`
	APIKey      string   `json:"api_key"`
	APIType     string   `json:"api_type"`
	Model       string   `json:"model"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// EmbeddingConfig holds settings for the embedding API.
type EmbeddingConfig struct {
	BaseURL     string `json:"base_url"`
	APIKey      string `json:"api_key"`
	Model       string `json:"model"`
	Dimensions  int    `json:"dimensions,omitempty"`
	TTLMinutes  int    `json:"ttl_minutes,omitempty"`
	MaxSnippets int    `json:"max_snippets,omitempty"`
}

// TelemetryConfig holds telemetry settings.
type TelemetryConfig struct {
	OpenRouter *bool `json:"openrouter,omitempty"`
}

// configNames lists the accepted config file names, in order of preference.
var configNames = []string{
	"config.toml",
	"config.yaml",
	"config.yml",
	"config.json",
}

// ConfigDir returns the config directory path.
// Resolution order: $GHOSTLINE_CONFIG_DIR > $XDG_CONFIG_HOME/ghostline > ~/.config/ghostline
func ConfigDir() string {
	if dir := os.Getenv("GHOSTLINE_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "ghostline")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "ghostline-config")
	}
	return filepath.Join(home, ".config", "ghostline")
}

// ConfigPath returns the path of the first existing config file in the
// config dir, or the path where a TOML config would be created.
func ConfigPath() string {
	dir := ConfigDir()
	if path, _ := findConfigFile(dir); path != "" {
		return path
	}
	return filepath.Join(dir, configNames[0])
}

// PromptPath returns the prompt file path.
func PromptPath() string {
	return filepath.Join(ConfigDir(), "prompt.md")
}

// StatePath returns the path of the persisted session state (the suggestion toggle).
func StatePath() string {
	return filepath.Join(ConfigDir(), "state.json")
}

// IndexCachePath returns the path of the embedding cache file.
func IndexCachePath() string {
	return filepath.Join(ConfigDir(), "embeddings.json")
}

func findConfigFile(dir string) (string, koanf.Parser) {
	for _, name := range configNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		switch filepath.Ext(name) {
		case ".yaml", ".yml":
			return path, kyaml.Parser()
		case ".json":
			return path, kjson.Parser()
		default:
			return path, ktoml.Parser()
		}
	}
	return "", nil
}

// DefaultConfig returns the default configuration from the embedded default_config.toml.
func DefaultConfig() *Config {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(defaults.DefaultConfigTOML), ktoml.Parser()); err != nil {
		panic("ghostline: invalid embedded default_config.toml: " + err.Error())
	}
	var cfg Config
	if err := unmarshalConfig(k, &cfg); err != nil {
		panic("ghostline: invalid embedded default_config.toml: " + err.Error())
	}
	return &cfg
}

// LoadConfig loads config from the config dir or returns defaults if none exists.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(ConfigDir())
}

// LoadConfigFrom layers the config file found in dir over the embedded defaults.
func LoadConfigFrom(dir string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(defaults.DefaultConfigTOML), ktoml.Parser()); err != nil {
		return nil, fmt.Errorf("load embedded defaults: %w", err)
	}

	if path, parser := findConfigFile(dir); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(data), parser); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	var cfg Config
	if err := unmarshalConfig(k, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func unmarshalConfig(k *koanf.Koanf, cfg *Config) error {
	return k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "json"})
}

// ValidateConfig checks configuration for potential issues and returns warnings.
func ValidateConfig(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	if cfg.Editor.DebounceMS <= 0 {
		warnings = append(warnings, "editor.debounce_ms must be positive; the default of 150ms is used")
	}
	if cfg.Editor.RequestTimeoutMS <= 0 {
		warnings = append(warnings, "editor.request_timeout_ms must be positive; the default of 10s is used")
	}
	if cfg.Editor.ContextLines < 0 {
		warnings = append(warnings, "editor.context_lines is negative; the default of 5 lines is used")
	}
	if strings.TrimSpace(cfg.Editor.AcceptKey) == "" {
		warnings = append(warnings, "editor.accept_key is empty; suggestions can only be accepted with tab")
	}
	if ResolveGenerationAPIKey(cfg) == "" {
		warnings = append(warnings, "generation API key is not configured; the service will answer every request with not_configured")
	}
	if cfg.Embedding.APIKey != "" && cfg.Embedding.BaseURL == "" {
		warnings = append(warnings, "embedding api_key is set but base_url is empty; related snippets are disabled")
	}
	return warnings
}

// SuggestionsEnabled returns the configured initial state of the suggestion toggle.
func SuggestionsEnabled(cfg *Config) bool {
	if cfg == nil || cfg.Editor.SuggestionsEnabled == nil {
		return true
	}
	return *cfg.Editor.SuggestionsEnabled
}

// DebounceInterval returns the quiet period before a suggestion is requested.
func DebounceInterval(cfg *Config) time.Duration {
	if cfg == nil || cfg.Editor.DebounceMS <= 0 {
		return 150 * time.Millisecond
	}
	return time.Duration(cfg.Editor.DebounceMS) * time.Millisecond
}

// RequestTimeout returns the upper bound for a single suggestion request.
func RequestTimeout(cfg *Config) time.Duration {
	if cfg == nil || cfg.Editor.RequestTimeoutMS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(cfg.Editor.RequestTimeoutMS) * time.Millisecond
}

// ContextLines returns how many lines above and below the cursor are sent.
func ContextLines(cfg *Config) int {
	if cfg == nil || cfg.Editor.ContextLines < 0 {
		return 5
	}
	return cfg.Editor.ContextLines
}

// ResolveSocketPath returns the Unix socket the service listens on.
// Priority: $GHOSTLINE_SOCKET env > config value > $XDG_RUNTIME_DIR/ghostline.sock > /tmp.
func ResolveSocketPath(cfg *Config) string {
	if path := os.Getenv("GHOSTLINE_SOCKET"); path != "" {
		return path
	}
	if cfg != nil && cfg.Service.Socket != "" {
		return cfg.Service.Socket
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "ghostline.sock")
	}
	return fmt.Sprintf("/tmp/ghostline-%d.sock", os.Getuid())
}

// ResolveServiceURL returns the completion service URL used by editors.
// Priority: $GHOSTLINE_SERVICE_URL env > config value > unix:// socket path.
func ResolveServiceURL(cfg *Config) string {
	if url := os.Getenv("GHOSTLINE_SERVICE_URL"); url != "" {
		return url
	}
	if cfg != nil && cfg.Editor.ServiceURL != "" {
		return cfg.Editor.ServiceURL
	}
	return "unix://" + ResolveSocketPath(cfg)
}

// ResolveGenerationBaseURL returns the generation API base URL.
// Priority: $GHOSTLINE_GENERATION_API_BASE_URL env > config value.
func ResolveGenerationBaseURL(cfg *Config) string {
	if url := os.Getenv("GHOSTLINE_GENERATION_API_BASE_URL"); url != "" {
		return url
	}
	if cfg != nil {
		return cfg.Generation.BaseURL
	}
	return ""
}

// ResolveGenerationAPIKey returns the generation API key.
// Priority: $GHOSTLINE_GENERATION_API_KEY env > config value.
func ResolveGenerationAPIKey(cfg *Config) string {
	if key := os.Getenv("GHOSTLINE_GENERATION_API_KEY"); key != "" {
		return key
	}
	if cfg != nil {
		return cfg.Generation.APIKey
	}
	return ""
}

// ResolveGenerationModel returns the generation model name.
// Priority: $GHOSTLINE_GENERATION_MODEL env > config value.
func ResolveGenerationModel(cfg *Config) string {
	if model := os.Getenv("GHOSTLINE_GENERATION_MODEL"); model != "" {
		return model
	}
	if cfg != nil {
		return cfg.Generation.Model
	}
	return ""
}

// ResolveEmbeddingBaseURL returns the embedding API base URL.
// Priority: $GHOSTLINE_EMBEDDING_API_BASE_URL env > config value.
func ResolveEmbeddingBaseURL(cfg *Config) string {
	if url := os.Getenv("GHOSTLINE_EMBEDDING_API_BASE_URL"); url != "" {
		return url
	}
	if cfg != nil {
		return cfg.Embedding.BaseURL
	}
	return ""
}

// ResolveEmbeddingAPIKey returns the embedding API key.
// Priority: $GHOSTLINE_EMBEDDING_API_KEY env > config value.
func ResolveEmbeddingAPIKey(cfg *Config) string {
	if key := os.Getenv("GHOSTLINE_EMBEDDING_API_KEY"); key != "" {
		return key
	}
	if cfg != nil {
		return cfg.Embedding.APIKey
	}
	return ""
}

// ResolveEmbeddingModel returns the embedding model name.
// Priority: $GHOSTLINE_EMBEDDING_MODEL env > config value.
func ResolveEmbeddingModel(cfg *Config) string {
	if model := os.Getenv("GHOSTLINE_EMBEDDING_MODEL"); model != "" {
		return model
	}
	if cfg != nil {
		return cfg.Embedding.Model
	}
	return ""
}

// EmbeddingEnabled returns true when both base_url and api_key are configured for embedding.
func EmbeddingEnabled(cfg *Config) bool {
	if cfg == nil {
		return false
	}
	return ResolveEmbeddingBaseURL(cfg) != "" && ResolveEmbeddingAPIKey(cfg) != ""
}

// OpenRouterTelemetryEnabled returns whether OpenRouter attribution headers should be sent.
func OpenRouterTelemetryEnabled(cfg *Config) bool {
	if cfg == nil || cfg.Telemetry.OpenRouter == nil {
		return true // default true
	}
	return *cfg.Telemetry.OpenRouter
}
