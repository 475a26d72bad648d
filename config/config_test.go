package config

import (
	"errors"
	"testing"
	"time"

	"github.com/orkacore/orka-go/core"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("load with empty env: %v", err)
	}
	if c.MemoryBackend != "memory" {
		t.Errorf("backend = %q", c.MemoryBackend)
	}
	if !c.DecayEnabled {
		t.Error("decay default should be on")
	}
	p := c.RetentionPolicy()
	if p.ShortTermTTL != 2*time.Hour || p.LongTermTTL != 168*time.Hour {
		t.Errorf("horizons = %v / %v", p.ShortTermTTL, p.LongTermTTL)
	}
}

func TestLoad_BackendRequiresURL(t *testing.T) {
	t.Setenv(EnvMemoryBackend, "redis")
	t.Setenv(EnvMemoryURL, "")

	_, err := Load()
	if err == nil {
		t.Fatal("redis backend without URL accepted")
	}
	if !errors.Is(err, &core.Error{Kind: core.KindConfigInvalid}) {
		t.Errorf("error kind = %v", err)
	}
}

func TestLoad_UnknownBackendRejected(t *testing.T) {
	t.Setenv(EnvMemoryBackend, "carrier-pigeon")
	if _, err := Load(); err == nil {
		t.Error("unknown backend accepted")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvDecayEnabled, "false")
	t.Setenv(EnvShortTermH, "0.5")
	t.Setenv(EnvLongTermH, "24")

	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.DecayEnabled {
		t.Error("decay toggle ignored")
	}
	if c.ShortTermHours != 0.5 || c.LongTermHours != 24 {
		t.Errorf("horizons = %v / %v", c.ShortTermHours, c.LongTermHours)
	}
}

func TestLLMResolver(t *testing.T) {
	var c Config

	if _, err := c.LLMResolver()("openai"); err == nil {
		t.Error("missing key did not error")
	}
	if _, err := c.LLMResolver()("nonsense"); err == nil {
		t.Error("unknown provider accepted")
	}
	if _, err := c.LLMResolver()("mock"); err != nil {
		t.Errorf("mock provider unavailable: %v", err)
	}

	c.OpenAIKey = "sk-test"
	if _, err := c.LLMResolver()("openai"); err != nil {
		t.Errorf("configured provider failed: %v", err)
	}
}
