package ingest

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed config/*.yaml
var configFS embed.FS

// Registry holds the configuration for all data sources.
type Registry struct {
	Sources []SourceConfig `yaml:"sources"`
}

// FetchConfig defines HTTP fetching configuration for a source.
type FetchConfig struct {
	TimeoutSeconds int     `yaml:"timeout_seconds,omitempty"` // Default: 30
	MaxRetries     int     `yaml:"max_retries,omitempty"`     // Retries after the first attempt; 0 = single attempt
	RateLimitRPS   float64 `yaml:"rate_limit_rps,omitempty"`  // Requests per second, default: 1.0
	ProxyURL       string  `yaml:"proxy_url,omitempty"`
	AcceptLanguage string  `yaml:"accept_language,omitempty"`
	UserAgent      string  `yaml:"user_agent,omitempty"`
}

// SourceConfig defines a single page crawled during discovery.
type SourceConfig struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	Parser string `yaml:"parser,omitempty"` // "grants_gov_au", "creative_gov_au", "generic"; empty = route by domain
	Active bool   `yaml:"active"`
}

// LoadRegistry reads the source registry from path, or the embedded sources.yaml
// when path is empty.
func LoadRegistry(path string) (*Registry, error) {
	var reg Registry
	if err := loadYAML(path, "config/sources.yaml", &reg); err != nil {
		return nil, err
	}

	for i, src := range reg.Sources {
		if src.URL == "" {
			return nil, fmt.Errorf("source %q has no url", src.ID)
		}
		if src.ID == "" {
			reg.Sources[i].ID = extractDomain(src.URL)
		}
	}
	return &reg, nil
}

// Active returns the enabled sources in registry order.
func (r *Registry) Active() []SourceConfig {
	var out []SourceConfig
	for _, src := range r.Sources {
		if src.Active {
			out = append(out, src)
		}
	}
	return out
}

// Find returns the source with the given id.
func (r *Registry) Find(id string) (SourceConfig, bool) {
	for _, src := range r.Sources {
		if src.ID == id {
			return src, true
		}
	}
	return SourceConfig{}, false
}

// loadYAML decodes path (or the embedded fallback) into out, expanding
// environment variables within the content first (e.g. ${SOURCE_URL}).
func loadYAML(path, embedded string, out any) error {
	var data []byte
	var err error
	if path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = configFS.ReadFile(embedded)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", firstNonEmpty(path, embedded), err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), out); err != nil {
		return fmt.Errorf("decode %s: %w", firstNonEmpty(path, embedded), err)
	}
	return nil
}
