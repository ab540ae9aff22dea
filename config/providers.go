package config

import (
	"os"
	"time"
)

// ProviderConfig is the connection configuration of one LLM provider. Not
// every field applies to every provider.
type ProviderConfig struct {
	APIKey       string        `yaml:"api_key,omitempty"`
	BaseURL      string        `yaml:"base_url,omitempty"`     // custom base URL (default: official API)
	Model        string        `yaml:"model,omitempty"`        // default model name
	Organization string        `yaml:"organization,omitempty"` // OpenAI organization ID
	Host         string        `yaml:"host,omitempty"`         // Ollama host
	Timeout      time.Duration `yaml:"timeout,omitempty"`
}

// envOverrides lists the environment variables applied on top of the file,
// per provider field.
var envOverrides = map[string][]struct {
	env string
	set func(p *ProviderConfig, v string)
}{
	"anthropic": {
		{"ANTHROPIC_API_KEY", func(p *ProviderConfig, v string) { p.APIKey = v }},
		{"ANTHROPIC_BASE_URL", func(p *ProviderConfig, v string) { p.BaseURL = v }},
	},
	"openai": {
		{"OPENAI_API_KEY", func(p *ProviderConfig, v string) { p.APIKey = v }},
		{"OPENAI_BASE_URL", func(p *ProviderConfig, v string) { p.BaseURL = v }},
		{"OPENAI_MODEL", func(p *ProviderConfig, v string) { p.Model = v }},
		{"OPENAI_ORG_ID", func(p *ProviderConfig, v string) { p.Organization = v }},
	},
	"ollama": {
		{"OLLAMA_HOST", func(p *ProviderConfig, v string) { p.Host = v }},
		{"OLLAMA_MODEL", func(p *ProviderConfig, v string) { p.Model = v }},
	},
}

func (c *Config) applyEnv() {
	for name, overrides := range envOverrides {
		p := c.provider(name)
		for _, o := range overrides {
			if v := os.Getenv(o.env); v != "" {
				o.set(p, v)
			}
		}
	}
}

func (c *Config) provider(name string) *ProviderConfig {
	switch name {
	case "anthropic":
		return &c.Anthropic
	case "openai":
		return &c.OpenAI
	case "ollama":
		return &c.Ollama
	default:
		return nil
	}
}

// Get returns a single provider field as a string, or "" when unset. Field
// names match the YAML keys. It lets a Config serve as an llm.ConfigSource.
func (c *Config) Get(provider, field string) string {
	p := c.provider(provider)
	if p == nil {
		return ""
	}
	switch field {
	case "api_key":
		return p.APIKey
	case "base_url":
		return p.BaseURL
	case "model":
		return p.Model
	case "organization":
		return p.Organization
	case "host":
		return p.Host
	case "timeout":
		if p.Timeout <= 0 {
			return ""
		}
		return p.Timeout.String()
	default:
		return ""
	}
}
