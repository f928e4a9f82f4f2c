// Package config loads runtime settings for the chat agent from YAML or TOML
// files, applies CHATBOT_AGENT_* environment overrides and clamps values into
// their valid ranges.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned for configuration that cannot be used.
var ErrInvalid = errors.New("invalid configuration")

// Provider names.
const (
	ProviderMock      = "mock"
	ProviderOpenAI    = "openai"
	ProviderVenice    = "venice"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// History backends.
const (
	HistoryNone     = "none"
	HistoryMemory   = "memory"
	HistorySQLite   = "sqlite"
	HistoryPostgres = "postgres"
)

// Platforms.
const (
	PlatformConsole = "console"
	PlatformVK      = "vk"
)

// DefaultVeniceBaseURL is the OpenAI-compatible endpoint used for Venice.
const DefaultVeniceBaseURL = "https://api.venice.ai/api/v1"

// Config is the complete runtime configuration.
type Config struct {
	Agent    AgentConfig    `yaml:"agent" toml:"agent"`
	Provider ProviderConfig `yaml:"provider" toml:"provider"`
	History  HistoryConfig  `yaml:"history" toml:"history"`
	Platform PlatformConfig `yaml:"platform" toml:"platform"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// AgentConfig holds the knobs of the autonomous pipeline. All of them are
// safe to hot reload.
type AgentConfig struct {
	Enabled                bool    `yaml:"enabled" toml:"enabled"`
	Mode                   string  `yaml:"mode" toml:"mode"`
	TriggerProbability     float64 `yaml:"triggerProbability" toml:"triggerProbability"`
	CooldownSeconds        int     `yaml:"cooldownSeconds" toml:"cooldownSeconds"`
	MinMessagesSinceAction int     `yaml:"minMessagesSinceAction" toml:"minMessagesSinceAction"`
	ContextTurnLimit       int     `yaml:"contextTurnLimit" toml:"contextTurnLimit"`
	ContextMaxChars        int     `yaml:"contextMaxChars" toml:"contextMaxChars"`
	MaxResponseChars       int     `yaml:"maxResponseChars" toml:"maxResponseChars"`
	MaxTokens              int     `yaml:"maxTokens" toml:"maxTokens"`
	Temperature            float64 `yaml:"temperature" toml:"temperature"`
	AllowThreadedReply     bool    `yaml:"allowThreadedReply" toml:"allowThreadedReply"`
	AllowReactions         bool    `yaml:"allowReactions" toml:"allowReactions"`
	MaxReactionID          int     `yaml:"maxReactionID" toml:"maxReactionID"`
	CheckpointStoragePath  string  `yaml:"checkpointStoragePath" toml:"checkpointStoragePath"`
	SystemPrompt           string  `yaml:"systemPrompt" toml:"systemPrompt"`
	BotID                  int64   `yaml:"botID" toml:"botID"`
	CommandPrefix          string  `yaml:"commandPrefix" toml:"commandPrefix"`
	MinTextLength          int     `yaml:"minTextLength" toml:"minTextLength"`
	ResumeMaxAgeSeconds    int     `yaml:"resumeMaxAge" toml:"resumeMaxAge"`

	Timeouts TimeoutsConfig `yaml:"timeouts" toml:"timeouts"`
}

// TimeoutsConfig bounds the blocking calls of each stage, in seconds.
type TimeoutsConfig struct {
	ObserveSeconds float64 `yaml:"observe" toml:"observe"`
	DecideSeconds  float64 `yaml:"decide" toml:"decide"`
	ActionSeconds  float64 `yaml:"action" toml:"action"`
	HistorySeconds float64 `yaml:"history" toml:"history"`
}

// ProviderConfig selects and configures the language model.
type ProviderConfig struct {
	Name            string         `yaml:"name" toml:"name"`
	Model           string         `yaml:"model" toml:"model"`
	APIKey          string         `yaml:"apiKey" toml:"apiKey"`
	BaseURL         string         `yaml:"baseURL" toml:"baseURL"`
	ExtraBody       map[string]any `yaml:"extraBody,omitempty" toml:"extraBody,omitempty"`
	LegacyMaxTokens bool           `yaml:"legacyMaxTokens" toml:"legacyMaxTokens"`
	TimeoutSeconds  float64        `yaml:"timeoutSeconds" toml:"timeoutSeconds"`
	MaxRetries      int            `yaml:"maxRetries" toml:"maxRetries"`
}

// HistoryConfig selects the chat history backend.
type HistoryConfig struct {
	Backend      string `yaml:"backend" toml:"backend"`
	Path         string `yaml:"path" toml:"path"`
	DatabaseURL  string `yaml:"databaseURL" toml:"databaseURL"`
	MaxChars     int    `yaml:"maxChars" toml:"maxChars"`
	LineMaxChars int    `yaml:"lineMaxChars" toml:"lineMaxChars"`
}

// PlatformConfig selects the messenger the executor talks to.
type PlatformConfig struct {
	Name           string  `yaml:"name" toml:"name"`
	AccessToken    string  `yaml:"accessToken" toml:"accessToken"`
	APIVersion     string  `yaml:"apiVersion" toml:"apiVersion"`
	TimeoutSeconds float64 `yaml:"timeoutSeconds" toml:"timeoutSeconds"`
}

// LoggingConfig selects the log backend and format.
type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
	// Format is auto, json or text. Auto picks text on a terminal.
	Format string `yaml:"format" toml:"format"`
	// Backend is slog or zap.
	Backend string `yaml:"backend" toml:"backend"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Enabled:                false,
			Mode:                   "active",
			TriggerProbability:     0.35,
			CooldownSeconds:        120,
			MinMessagesSinceAction: 4,
			ContextTurnLimit:       14,
			ContextMaxChars:        4000,
			MaxResponseChars:       260,
			MaxTokens:              260,
			Temperature:            0.4,
			AllowThreadedReply:     true,
			AllowReactions:         true,
			MaxReactionID:          16,
			CheckpointStoragePath:  "data/agent_checkpoints.sqlite3",
			CommandPrefix:          "/",
			MinTextLength:          3,
			ResumeMaxAgeSeconds:    600,
			Timeouts: TimeoutsConfig{
				ObserveSeconds: 3,
				DecideSeconds:  20,
				ActionSeconds:  10,
				HistorySeconds: 3,
			},
		},
		Provider: ProviderConfig{
			Name:           ProviderMock,
			TimeoutSeconds: 20,
			MaxRetries:     1,
		},
		History: HistoryConfig{
			Backend:      HistoryMemory,
			Path:         "data/chat_history.sqlite3",
			MaxChars:     2500,
			LineMaxChars: 220,
		},
		Platform: PlatformConfig{
			Name:           PlatformConsole,
			APIVersion:     "5.199",
			TimeoutSeconds: 10,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "auto",
			Backend: "slog",
		},
	}
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides and normalizes the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := Decode(cfg, data, filepath.Ext(path)); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode merges data into cfg. ext selects the format (".yaml", ".yml" or
// ".toml"). Unknown keys are rejected.
func Decode(cfg *Config, data []byte, ext string) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	default:
		return fmt.Errorf("%w: unsupported config format %q", ErrInvalid, ext)
	}
	return nil
}

// Normalize clamps every numeric value into its valid range and maps unknown
// enumerations onto their defaults.
func (c *Config) Normalize() {
	a := &c.Agent

	switch m := strings.ToLower(strings.TrimSpace(a.Mode)); m {
	case "shadow", "active":
		a.Mode = m
	default:
		a.Mode = "active"
	}

	if math.IsNaN(a.TriggerProbability) {
		a.TriggerProbability = 0
	}
	a.TriggerProbability = math.Max(0, math.Min(1, a.TriggerProbability))
	a.CooldownSeconds = max(0, a.CooldownSeconds)
	a.MinMessagesSinceAction = max(0, a.MinMessagesSinceAction)
	a.ContextTurnLimit = max(1, a.ContextTurnLimit)
	a.ContextMaxChars = max(0, a.ContextMaxChars)
	a.MaxResponseChars = max(0, a.MaxResponseChars)
	a.MaxTokens = max(64, a.MaxTokens)
	if a.Temperature < 0 || math.IsNaN(a.Temperature) {
		a.Temperature = 0
	}
	if a.MaxReactionID < 1 || a.MaxReactionID > 16 {
		a.MaxReactionID = 16
	}
	if strings.TrimSpace(a.CheckpointStoragePath) == "" {
		a.CheckpointStoragePath = Default().Agent.CheckpointStoragePath
	}
	a.MinTextLength = max(0, a.MinTextLength)
	a.ResumeMaxAgeSeconds = max(0, a.ResumeMaxAgeSeconds)

	def := Default().Agent.Timeouts
	a.Timeouts.ObserveSeconds = positiveOr(a.Timeouts.ObserveSeconds, def.ObserveSeconds)
	a.Timeouts.DecideSeconds = positiveOr(a.Timeouts.DecideSeconds, def.DecideSeconds)
	a.Timeouts.ActionSeconds = positiveOr(a.Timeouts.ActionSeconds, def.ActionSeconds)
	a.Timeouts.HistorySeconds = positiveOr(a.Timeouts.HistorySeconds, def.HistorySeconds)

	c.Provider.Name = strings.ToLower(strings.TrimSpace(c.Provider.Name))
	if c.Provider.Name == "" {
		c.Provider.Name = ProviderMock
	}
	if c.Provider.Name == ProviderVenice && c.Provider.BaseURL == "" {
		c.Provider.BaseURL = DefaultVeniceBaseURL
	}
	c.Provider.MaxRetries = max(0, c.Provider.MaxRetries)

	c.History.Backend = strings.ToLower(strings.TrimSpace(c.History.Backend))
	if c.History.Backend == "" {
		c.History.Backend = HistoryMemory
	}
	c.History.MaxChars = max(0, c.History.MaxChars)
	c.History.LineMaxChars = max(0, c.History.LineMaxChars)

	c.Platform.Name = strings.ToLower(strings.TrimSpace(c.Platform.Name))
	if c.Platform.Name == "" {
		c.Platform.Name = PlatformConsole
	}

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = "auto"
	}
	c.Logging.Backend = strings.ToLower(strings.TrimSpace(c.Logging.Backend))
	if c.Logging.Backend == "" {
		c.Logging.Backend = "slog"
	}
}

// Validate reports enumerations that Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider.Name {
	case ProviderMock, ProviderOpenAI, ProviderVenice, ProviderAnthropic, ProviderGemini:
	default:
		errs = append(errs, fmt.Errorf("%w: unknown provider %q", ErrInvalid, c.Provider.Name))
	}
	switch c.History.Backend {
	case HistoryNone, HistoryMemory, HistorySQLite:
	case HistoryPostgres:
		if c.History.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("%w: history.databaseURL is required for postgres", ErrInvalid))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: unknown history backend %q", ErrInvalid, c.History.Backend))
	}
	switch c.Platform.Name {
	case PlatformConsole:
	case PlatformVK:
		if c.Platform.AccessToken == "" {
			errs = append(errs, fmt.Errorf("%w: platform.accessToken is required for vk", ErrInvalid))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: unknown platform %q", ErrInvalid, c.Platform.Name))
	}
	switch c.Logging.Format {
	case "auto", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("%w: unknown log format %q", ErrInvalid, c.Logging.Format))
	}
	switch c.Logging.Backend {
	case "slog", "zap":
	default:
		errs = append(errs, fmt.Errorf("%w: unknown log backend %q", ErrInvalid, c.Logging.Backend))
	}

	return errors.Join(errs...)
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	out := *c
	if c.Provider.ExtraBody != nil {
		out.Provider.ExtraBody = make(map[string]any, len(c.Provider.ExtraBody))
		for k, v := range c.Provider.ExtraBody {
			out.Provider.ExtraBody[k] = v
		}
	}
	return &out
}

// Cooldown returns the minimum delay between executed actions.
func (a AgentConfig) Cooldown() time.Duration {
	return time.Duration(a.CooldownSeconds) * time.Second
}

// ResumeMaxAge returns how old an unfinished checkpoint may be and still be
// resumed at startup.
func (a AgentConfig) ResumeMaxAge() time.Duration {
	return time.Duration(a.ResumeMaxAgeSeconds) * time.Second
}

// Seconds converts a float number of seconds to a duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func positiveOr(v, def float64) float64 {
	if v <= 0 || math.IsNaN(v) {
		return def
	}
	return v
}
