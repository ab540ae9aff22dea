package llm

import (
	"testing"
	"time"
)

func TestProviderRegistry_IsProviderEnabled(t *testing.T) {
	registry := NewProviderRegistry(MapSource{}, []string{"anthropic", "ollama"})

	if !registry.IsProviderEnabled("anthropic") {
		t.Error("anthropic should be enabled")
	}
	if !registry.IsProviderEnabled("ollama") {
		t.Error("ollama should be enabled")
	}
	if registry.IsProviderEnabled("openai") {
		t.Error("openai should not be enabled")
	}
}

func TestProviderRegistry_IsProviderConfigured(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	registry := NewProviderRegistry(MapSource{}, []string{"anthropic", "openai", "ollama"})
	if registry.IsProviderConfigured(ProviderAnthropic) {
		t.Error("anthropic should not be configured without API key")
	}
	if registry.IsProviderConfigured(ProviderOpenAI) {
		t.Error("openai should not be configured without API key")
	}
	if !registry.IsProviderConfigured(ProviderOllama) {
		t.Error("ollama should always be configured")
	}

	configured := NewProviderRegistry(MapSource{
		ProviderAnthropic: {FieldAPIKey: "test-key"},
		ProviderOpenAI:    {FieldAPIKey: "test-key"},
	}, nil)
	if !configured.IsProviderConfigured(ProviderAnthropic) {
		t.Error("anthropic should be configured with API key")
	}
	if !configured.IsProviderConfigured(ProviderOpenAI) {
		t.Error("openai should be configured with API key")
	}
}

func TestProviderRegistry_EnvFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("OPENAI_ORG_ID", "org-1")

	registry := NewProviderRegistry(MapSource{}, []string{ProviderOpenAI})
	cfg, err := registry.Resolve(ProviderOpenAI, "gpt-4o-mini")
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}
	if cfg.APIKey != "env-key" {
		t.Errorf("Expected API key from env, got %q", cfg.APIKey)
	}
	if cfg.Organization != "org-1" {
		t.Errorf("Expected organization from env, got %q", cfg.Organization)
	}
}

func TestProviderRegistry_Resolve(t *testing.T) {
	registry := NewProviderRegistry(MapSource{
		ProviderAnthropic: {FieldAPIKey: "test-key", FieldTimeout: "45s"},
		ProviderOllama:    {FieldModel: "llama3.2"},
	}, nil)

	cfg, err := registry.Resolve(ProviderAnthropic, "")
	if err != nil {
		t.Fatalf("Failed to resolve anthropic: %v", err)
	}
	if cfg.Model != defaultAnthropicModel {
		t.Errorf("Expected default model %q, got %q", defaultAnthropicModel, cfg.Model)
	}
	if cfg.Timeout != 45*time.Second {
		t.Errorf("Expected 45s timeout, got %v", cfg.Timeout)
	}

	t.Setenv("OLLAMA_HOST", "")
	cfg, err = registry.Resolve(ProviderOllama, "")
	if err != nil {
		t.Fatalf("Failed to resolve ollama: %v", err)
	}
	if cfg.Host != defaultOllamaHost {
		t.Errorf("Expected default host, got %q", cfg.Host)
	}
	if cfg.Model != "llama3.2" {
		t.Errorf("Expected configured model, got %q", cfg.Model)
	}

	if _, err := registry.Resolve("bogus", ""); err == nil {
		t.Error("Expected error for unknown provider")
	}
}

func TestProviderRegistry_ResolveInvalidTimeout(t *testing.T) {
	registry := NewProviderRegistry(MapSource{ProviderAnthropic: {FieldAPIKey: "k", FieldTimeout: "forever"}}, nil)
	if _, err := registry.Resolve(ProviderAnthropic, ""); err == nil {
		t.Error("Expected error for unparsable timeout")
	}
}

func TestProviderRegistry_SelectFallback(t *testing.T) {
	registry := NewProviderRegistry(MapSource{
		ProviderAnthropic: {FieldAPIKey: "test-key"},
		ProviderOllama:    {FieldModel: "mistral"},
	}, []string{ProviderAnthropic})

	cfg, err := registry.Select([]Preference{
		{Provider: ProviderOllama, Model: "mistral"},
		{Provider: ProviderAnthropic, Model: "claude-sonnet-4-5"},
	})
	if err != nil {
		t.Fatalf("Failed to select: %v", err)
	}
	if cfg.Provider != ProviderAnthropic {
		t.Errorf("Expected fallback to anthropic, got %q", cfg.Provider)
	}
	if cfg.Model != "claude-sonnet-4-5" {
		t.Errorf("Expected preferred model, got %q", cfg.Model)
	}
}

func TestProviderRegistry_SelectWithoutPreferences(t *testing.T) {
	registry := NewProviderRegistry(MapSource{ProviderAnthropic: {FieldAPIKey: "test-key"}}, []string{ProviderAnthropic})
	cfg, err := registry.Select(nil)
	if err != nil {
		t.Fatalf("Failed to select: %v", err)
	}
	if cfg.Model != defaultAnthropicModel {
		t.Errorf("Expected provider default model, got %q", cfg.Model)
	}

	empty := NewProviderRegistry(MapSource{}, nil)
	if _, err := empty.Select(nil); err == nil {
		t.Error("Expected error when no providers are enabled")
	}
}

func TestClientConfigHashFieldsExcludesName(t *testing.T) {
	fields := ClientConfig{Name: "primary", APIKey: "k"}.HashFields()
	if _, ok := fields["name"]; ok {
		t.Error("Expected display name to be excluded from hash fields")
	}
	if fields["api_key"] != "k" {
		t.Errorf("Expected api_key in hash fields, got %v", fields["api_key"])
	}
}
