// Package config resolves the runtime's environment configuration: the
// memory backend, decay defaults and provider API keys. Unknown
// variables are ignored; missing required ones fail at startup with a
// ConfigInvalid error.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/orkacore/orka-go/agents"
	"github.com/orkacore/orka-go/agents/anthropic"
	"github.com/orkacore/orka-go/agents/google"
	"github.com/orkacore/orka-go/agents/openai"
	"github.com/orkacore/orka-go/core"
	"github.com/orkacore/orka-go/embed"
	"github.com/orkacore/orka-go/memory"
)

// Environment variables the runtime consumes.
const (
	EnvMemoryBackend = "ORKA_MEMORY_BACKEND"
	EnvMemoryURL     = "ORKA_MEMORY_URL"
	EnvDecayEnabled  = "ORKA_MEMORY_DECAY_ENABLED"
	EnvShortTermH    = "ORKA_MEMORY_SHORT_TERM_HOURS"
	EnvLongTermH     = "ORKA_MEMORY_LONG_TERM_HOURS"
	EnvCheckInterval = "ORKA_MEMORY_CHECK_INTERVAL_MINUTES"
	EnvEmbedderCache = "ORKA_EMBEDDER_CACHE_SIZE"

	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvGoogleKey    = "GOOGLE_API_KEY"
)

// Config is the resolved runtime configuration.
type Config struct {
	// MemoryBackend selects the store: memory, redis, sqlite or mysql.
	MemoryBackend string

	// MemoryURL addresses the backend: a redis URL, a sqlite path or a
	// mysql DSN. Unused by the in-memory backend.
	MemoryURL string

	// Decay settings.
	DecayEnabled   bool
	ShortTermHours float64
	LongTermHours  float64
	CheckInterval  time.Duration

	// EmbedderCacheSize bounds the embedding LRU.
	EmbedderCacheSize int

	// Provider API keys, empty when unset.
	OpenAIKey    string
	AnthropicKey string
	GoogleKey    string
}

// Load reads the environment. Defaults: in-memory backend, decay on,
// 2h/168h horizons, 30m sweep cadence.
func Load() (Config, error) {
	c := Config{
		MemoryBackend:     envDefault(EnvMemoryBackend, "memory"),
		MemoryURL:         os.Getenv(EnvMemoryURL),
		DecayEnabled:      envBool(EnvDecayEnabled, true),
		ShortTermHours:    envFloat(EnvShortTermH, 2),
		LongTermHours:     envFloat(EnvLongTermH, 168),
		CheckInterval:     time.Duration(envFloat(EnvCheckInterval, 30)) * time.Minute,
		EmbedderCacheSize: int(envFloat(EnvEmbedderCache, 4096)),
		OpenAIKey:         os.Getenv(EnvOpenAIKey),
		AnthropicKey:      os.Getenv(EnvAnthropicKey),
		GoogleKey:         os.Getenv(EnvGoogleKey),
	}

	switch c.MemoryBackend {
	case "memory":
	case "redis", "sqlite", "mysql":
		if c.MemoryURL == "" {
			return c, core.Errorf(core.KindConfigInvalid,
				"%s backend requires %s", c.MemoryBackend, EnvMemoryURL)
		}
	default:
		return c, core.Errorf(core.KindConfigInvalid,
			"unknown memory backend %q", c.MemoryBackend)
	}
	if c.ShortTermHours <= 0 || c.LongTermHours <= 0 {
		return c, core.Errorf(core.KindConfigInvalid, "retention horizons must be positive")
	}
	return c, nil
}

// RetentionPolicy derives the store policy from the decay settings.
func (c Config) RetentionPolicy() memory.RetentionPolicy {
	return memory.RetentionPolicy{
		Enabled:       c.DecayEnabled,
		ShortTermTTL:  time.Duration(c.ShortTermHours * float64(time.Hour)),
		LongTermTTL:   time.Duration(c.LongTermHours * float64(time.Hour)),
		CheckInterval: c.CheckInterval,
	}
}

// NewEmbedder builds the embedding stack: OpenAI when a key is present,
// the deterministic local embedder otherwise, both behind the LRU.
func (c Config) NewEmbedder() memory.Embedder {
	var inner embed.Embedder = embed.NewLocal(0)
	if c.OpenAIKey != "" {
		inner = embed.NewOpenAI(c.OpenAIKey, "")
	}
	return embed.NewCached(inner, c.EmbedderCacheSize)
}

// NewStore opens the configured memory backend.
func (c Config) NewStore(ctx context.Context) (memory.Store, error) {
	policy := c.RetentionPolicy()
	embedder := c.NewEmbedder()
	switch c.MemoryBackend {
	case "redis":
		return memory.NewRedisStore(ctx, c.MemoryURL, policy, memory.WithRedisEmbedder(embedder))
	case "sqlite":
		return memory.NewSQLiteStore(c.MemoryURL, policy, memory.WithSQLiteEmbedder(embedder))
	case "mysql":
		return memory.NewMySQLStore(c.MemoryURL, policy, memory.WithMySQLEmbedder(embedder))
	default:
		return memory.NewInMemoryStore(policy, memory.WithEmbedder(embedder)), nil
	}
}

// LLMResolver maps provider names to configured adapters.
func (c Config) LLMResolver() func(name string) (agents.LLMProvider, error) {
	return func(name string) (agents.LLMProvider, error) {
		switch name {
		case "openai":
			if c.OpenAIKey == "" {
				return nil, fmt.Errorf("provider openai: %s not set", EnvOpenAIKey)
			}
			return openai.New(c.OpenAIKey, ""), nil
		case "anthropic":
			if c.AnthropicKey == "" {
				return nil, fmt.Errorf("provider anthropic: %s not set", EnvAnthropicKey)
			}
			return anthropic.New(c.AnthropicKey, ""), nil
		case "google":
			if c.GoogleKey == "" {
				return nil, fmt.Errorf("provider google: %s not set", EnvGoogleKey)
			}
			return google.New(c.GoogleKey, ""), nil
		case "mock":
			return &agents.MockProvider{Script: []agents.Generation{{Text: "mock response"}}}, nil
		default:
			return nil, fmt.Errorf("unknown llm provider %q", name)
		}
	}
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
