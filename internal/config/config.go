// Package config loads vulnagent runtime configuration from a TOML file and environment variables, exposing typed structs and accessors for all sections.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const defaultLLMProfile = "default"

// Behavior profiles select the system prompt variant.
const (
	ProfileDefault   = "default"
	ProfileConcise   = "concise"
	ProfileDetailed  = "detailed"
	ProfileAnalytics = "analytics"
)

// Tool provider transport kinds.
const (
	TransportStdio     = "stdio"
	TransportHTTP      = "http"
	TransportInProcess = "inprocess"
)

// BundledProviderName is the tool provider backed by the local record store.
const BundledProviderName = "cve_details"

// Config is the runtime configuration loaded from defaults, config.toml, and env vars.
type Config struct {
	// HomeDir is runtime-resolved from VULNAGENT_HOME and not read from config.
	HomeDir   string                        `mapstructure:"-"`
	LLM       map[string]LLMProviderConfig  `mapstructure:"llm"`
	Agent     AgentConfig                   `mapstructure:"agent"`
	Providers map[string]ToolProviderConfig `mapstructure:"providers"`
	Store     StoreConfig                   `mapstructure:"store"`
	Telemetry TelemetryConfig               `mapstructure:"telemetry"`
}

// LLMProviderConfig configures one LLM provider profile.
type LLMProviderConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	Provider       string        `mapstructure:"provider"`
	Model          string        `mapstructure:"model"`
	BaseURL        string        `mapstructure:"base_url"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AgentConfig holds the session defaults used by every orchestration run.
type AgentConfig struct {
	LLMProfile        string        `mapstructure:"llm_profile"`
	BehaviorProfile   string        `mapstructure:"behavior_profile"`
	MaxIterations     int           `mapstructure:"max_iterations"`
	PerCallTimeout    time.Duration `mapstructure:"per_call_timeout"`
	ModelRetryBackoff time.Duration `mapstructure:"model_retry_backoff"`
	RetainHistory     bool          `mapstructure:"retain_history"`
}

// ToolProviderConfig configures one external tool provider.
type ToolProviderConfig struct {
	Enabled     bool              `mapstructure:"enabled"`
	Transport   string            `mapstructure:"transport"`
	Command     string            `mapstructure:"command"`
	Args        []string          `mapstructure:"args"`
	Env         map[string]string `mapstructure:"env"`
	Endpoint    string            `mapstructure:"endpoint"`
	Description string            `mapstructure:"description"`
	// MaxInFlight bounds concurrent invocations on one provider. 1 serializes them.
	MaxInFlight int `mapstructure:"max_in_flight"`
}

// StoreConfig locates the vulnerability record database.
type StoreConfig struct {
	Path     string `mapstructure:"path"`
	PoolSize int    `mapstructure:"pool_size"`
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	Insecure     bool   `mapstructure:"insecure"`
	ServiceName  string `mapstructure:"service_name"`
}

var defaultConfig = Config{
	LLM: map[string]LLMProviderConfig{
		defaultLLMProfile: {
			APIKey:         "$ANTHROPIC_API_KEY",
			Provider:       "anthropic",
			Model:          "claude-sonnet-4-6",
			MaxTokens:      4096,
			RequestTimeout: 60 * time.Second,
		},
	},
	Agent: AgentConfig{
		LLMProfile:        defaultLLMProfile,
		BehaviorProfile:   ProfileDefault,
		MaxIterations:     5,
		PerCallTimeout:    30 * time.Second,
		ModelRetryBackoff: 500 * time.Millisecond,
	},
	Providers: map[string]ToolProviderConfig{
		BundledProviderName: {
			Enabled:     true,
			Transport:   TransportInProcess,
			Description: "Vulnerability records: lookups by id, severity, score, keyword, product, exploit and KEV status",
			MaxInFlight: 1,
		},
	},
	Store: StoreConfig{
		PoolSize: 4,
	},
	Telemetry: TelemetryConfig{
		ServiceName: "vulnagent",
	},
}

// homeDir returns the vulnagent home directory.
// Uses VULNAGENT_HOME env var if set, otherwise defaults to ~/.vulnagent.
func homeDir() (string, error) {
	if dir := os.Getenv(homeDirEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return defaultHomePath(home), nil
}

// Load merges hardcoded defaults, config file values, and MCP_<NAME>_SERVER_*
// environment entries in that order.
func Load() (*Config, error) {
	homeDir, err := homeDir()
	if err != nil {
		return nil, err
	}

	v, err := newViper(homeDir)
	if err != nil {
		return nil, err
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		expandEnvStringHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)

	if err := v.Unmarshal(&cfg, func(c *mapstructure.DecoderConfig) {
		c.DecodeHook = decodeHook
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.HomeDir = homeDir
	cfg.normalize()

	return &cfg, nil
}

func newViper(homeDir string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(homeConfigPath(homeDir))
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	if err := applyEnvProviders(v, os.Environ()); err != nil {
		return nil, err
	}
	return v, nil
}

// Write writes the merged configuration (defaults overlaid by user
// config and environment) to w in TOML format.
func Write(w io.Writer) error {
	if w == nil {
		return errors.New("writer is required")
	}

	homeDir, err := homeDir()
	if err != nil {
		return err
	}
	v, err := newViper(homeDir)
	if err != nil {
		return err
	}

	// Keep duration fields human-readable in generated TOML.
	for _, key := range v.AllKeys() {
		if d, ok := v.Get(key).(time.Duration); ok {
			v.Set(key, d.String())
		}
	}

	if err := v.WriteConfigTo(w); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	llm := defaultConfig.LLM[defaultLLMProfile]
	v.SetDefault("llm.default.api_key", llm.APIKey)
	v.SetDefault("llm.default.provider", llm.Provider)
	v.SetDefault("llm.default.model", llm.Model)
	v.SetDefault("llm.default.max_tokens", llm.MaxTokens)
	v.SetDefault("llm.default.request_timeout", llm.RequestTimeout)

	v.SetDefault("agent.llm_profile", defaultConfig.Agent.LLMProfile)
	v.SetDefault("agent.behavior_profile", defaultConfig.Agent.BehaviorProfile)
	v.SetDefault("agent.max_iterations", defaultConfig.Agent.MaxIterations)
	v.SetDefault("agent.per_call_timeout", defaultConfig.Agent.PerCallTimeout)
	v.SetDefault("agent.model_retry_backoff", defaultConfig.Agent.ModelRetryBackoff)
	v.SetDefault("agent.retain_history", defaultConfig.Agent.RetainHistory)

	bundled := defaultConfig.Providers[BundledProviderName]
	v.SetDefault("providers."+BundledProviderName+".enabled", bundled.Enabled)
	v.SetDefault("providers."+BundledProviderName+".transport", bundled.Transport)
	v.SetDefault("providers."+BundledProviderName+".description", bundled.Description)
	v.SetDefault("providers."+BundledProviderName+".max_in_flight", bundled.MaxInFlight)

	v.SetDefault("store.path", defaultConfig.Store.Path)
	v.SetDefault("store.pool_size", defaultConfig.Store.PoolSize)

	v.SetDefault("telemetry.enabled", defaultConfig.Telemetry.Enabled)
	v.SetDefault("telemetry.otlp_endpoint", defaultConfig.Telemetry.OTLPEndpoint)
	v.SetDefault("telemetry.insecure", defaultConfig.Telemetry.Insecure)
	v.SetDefault("telemetry.service_name", defaultConfig.Telemetry.ServiceName)
}

// normalize fills per-entry defaults that viper cannot express for map sections.
func (c *Config) normalize() {
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir(), RecordsDBPath)
	}
	for name, p := range c.Providers {
		if p.Transport == "" {
			switch {
			case p.Endpoint != "":
				p.Transport = TransportHTTP
			default:
				p.Transport = TransportStdio
			}
		}
		if p.MaxInFlight <= 0 {
			p.MaxInFlight = 1
		}
		c.Providers[name] = p
	}
}

// ActiveLLM returns the LLM profile selected by agent.llm_profile, falling
// back to the default profile.
func (c *Config) ActiveLLM() LLMProviderConfig {
	name := c.Agent.LLMProfile
	if name == "" {
		name = defaultLLMProfile
	}
	if llm, ok := c.LLM[name]; ok {
		return llm
	}
	return defaultConfig.LLM[defaultLLMProfile]
}

// EnabledProviders returns enabled tool provider names in sorted order.
func (c *Config) EnabledProviders() []string {
	names := make([]string, 0, len(c.Providers))
	for name, p := range c.Providers {
		if p.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Validatable is implemented by config sections that can self-validate.
type Validatable interface {
	Validate() error
}

// Validate checks required LLM provider fields and provider-specific rules.
func (c LLMProviderConfig) Validate() error {
	if c.Provider == "" {
		return errors.New("provider is required")
	}
	if c.Model == "" {
		return errors.New("model is required")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request_timeout must be > 0")
	}

	switch c.Provider {
	case "anthropic", "openrouter", "openai":
		if c.APIKey == "" {
			return errors.New("api_key is required")
		}
	case "ollama":
		// Local provider, no API key required.
	default:
		return fmt.Errorf("unsupported provider %q", c.Provider)
	}
	return nil
}

// Validate checks iteration and timeout bounds and the behavior profile name.
func (c AgentConfig) Validate() error {
	if c.MaxIterations <= 0 {
		return errors.New("max_iterations must be > 0")
	}
	if c.PerCallTimeout <= 0 {
		return errors.New("per_call_timeout must be > 0")
	}
	if c.ModelRetryBackoff < 0 {
		return errors.New("model_retry_backoff must be >= 0")
	}
	return ValidateBehaviorProfile(c.BehaviorProfile)
}

// ValidateBehaviorProfile reports whether name is a known behavior profile.
func ValidateBehaviorProfile(name string) error {
	switch name {
	case ProfileDefault, ProfileConcise, ProfileDetailed, ProfileAnalytics:
		return nil
	default:
		return fmt.Errorf("invalid behavior profile %q (allowed: %q, %q, %q, %q)",
			name, ProfileDefault, ProfileConcise, ProfileDetailed, ProfileAnalytics)
	}
}

// Validate checks transport-specific required fields when the provider is enabled.
func (c ToolProviderConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Transport {
	case TransportStdio:
		if c.Command == "" {
			return errors.New("command is required for stdio transport")
		}
	case TransportHTTP:
		if c.Endpoint == "" {
			return errors.New("endpoint is required for http transport")
		}
	case TransportInProcess:
	default:
		return fmt.Errorf("unsupported transport %q", c.Transport)
	}
	if c.MaxInFlight <= 0 {
		return errors.New("max_in_flight must be > 0")
	}
	return nil
}

// Validate checks the store pool size.
func (c StoreConfig) Validate() error {
	if c.PoolSize <= 0 {
		return errors.New("pool_size must be > 0")
	}
	return nil
}

// Validate requires an endpoint when export is enabled.
func (c TelemetryConfig) Validate() error {
	if c.Enabled && c.OTLPEndpoint == "" {
		return errors.New("otlp_endpoint is required when enabled=true")
	}
	return nil
}

// Validate validates startup configuration and returns all section errors joined.
func (cfg *Config) Validate() error {
	var errs []error

	if len(cfg.LLM) == 0 {
		errs = append(errs, errors.New("at least one llm.* profile is required"))
	}
	if _, ok := cfg.LLM[cfg.Agent.LLMProfile]; cfg.Agent.LLMProfile != "" && !ok {
		errs = append(errs, fmt.Errorf("agent: llm_profile %q is not defined", cfg.Agent.LLMProfile))
	}
	if err := cfg.ActiveLLM().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("llm.%s: %w", cfg.Agent.LLMProfile, err))
	}
	if err := cfg.Agent.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("agent: %w", err))
	}
	if err := cfg.Store.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	for _, name := range sortedKeys(cfg.Providers) {
		if err := cfg.Providers[name].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("providers.%s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func expandEnvStringHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.String {
			return data, nil
		}
		value, ok := data.(string)
		if !ok {
			return data, nil
		}
		return os.ExpandEnv(value), nil
	}
}
