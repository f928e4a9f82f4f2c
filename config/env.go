package config

import (
	"strconv"
	"strings"
)

// EnvPrefix prefixes every agent override.
const EnvPrefix = "CHATBOT_AGENT_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ParseBool reports whether s is one of the truthy spellings 1, true, yes or
// on. Anything else is false.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// ApplyEnv overlays environment variables on c. Unset or blank variables leave
// the current value alone, as do numbers that fail to parse.
func (c *Config) ApplyEnv(lookup LookupFunc) {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}

	a := &c.Agent

	if v, ok := get(EnvPrefix + "ENABLED"); ok {
		a.Enabled = ParseBool(v)
	}
	if v, ok := get(EnvPrefix + "MODE"); ok {
		a.Mode = v
	}
	envFloat(get, EnvPrefix+"PROBABILITY", &a.TriggerProbability)
	envInt(get, EnvPrefix+"COOLDOWN_SECONDS", &a.CooldownSeconds)
	envInt(get, EnvPrefix+"MIN_MESSAGES_SINCE_BOT", &a.MinMessagesSinceAction)
	envInt(get, EnvPrefix+"CONTEXT_LIMIT", &a.ContextTurnLimit)
	envInt(get, EnvPrefix+"MAX_TOKENS", &a.MaxTokens)
	envInt(get, EnvPrefix+"MAX_CHARS", &a.MaxResponseChars)
	if v, ok := get(EnvPrefix + "ALLOW_THREAD_REPLY"); ok {
		a.AllowThreadedReply = ParseBool(v)
	}
	if v, ok := get(EnvPrefix + "ALLOW_REACTIONS"); ok {
		a.AllowReactions = ParseBool(v)
	}
	if v, ok := get(EnvPrefix + "CHECKPOINT_DB_PATH"); ok {
		a.CheckpointStoragePath = v
	}
	if v, ok := lookup(EnvPrefix + "SYSTEM_PROMPT"); ok && strings.TrimSpace(v) != "" {
		a.SystemPrompt = v
	}
	if v, ok := get(EnvPrefix + "BOT_ID"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			a.BotID = n
		}
	}

	if v, ok := get(EnvPrefix + "PROVIDER"); ok {
		c.Provider.Name = v
	}
	if v, ok := get(EnvPrefix + "MODEL"); ok {
		c.Provider.Model = v
	}
	if v, ok := get(EnvPrefix + "LOG_LEVEL"); ok {
		c.Logging.Level = v
	}

	c.applyProviderEnv(get)

	if v, ok := get("VK_TOKEN"); ok && c.Platform.AccessToken == "" {
		c.Platform.AccessToken = v
	}
}

// applyProviderEnv fills the API key and base URL from the provider's
// conventional variables when the file left them empty.
func (c *Config) applyProviderEnv(get func(string) (string, bool)) {
	p := &c.Provider

	keyVars := map[string][]string{
		ProviderOpenAI:    {"OPENAI_API_KEY"},
		ProviderVenice:    {"VENICE_API_KEY"},
		ProviderAnthropic: {"ANTHROPIC_API_KEY"},
		ProviderGemini:    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	}
	name := strings.ToLower(strings.TrimSpace(p.Name))

	if v, ok := get(EnvPrefix + "API_KEY"); ok {
		p.APIKey = v
	}
	if p.APIKey == "" {
		for _, key := range keyVars[name] {
			if v, ok := get(key); ok {
				p.APIKey = v
				break
			}
		}
	}

	if name == ProviderVenice && p.BaseURL == "" {
		if v, ok := get("VENICE_BASE_URL"); ok {
			p.BaseURL = v
		}
	}
	if name == ProviderVenice && p.Model == "" {
		if v, ok := get("VENICE_MODEL"); ok {
			p.Model = v
		}
	}
}

func envInt(get func(string) (string, bool), key string, dst *int) {
	v, ok := get(key)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func envFloat(get func(string) (string, bool), key string, dst *float64) {
	v, ok := get(key)
	if !ok {
		return
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = f
	}
}
