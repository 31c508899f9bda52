package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidSource = errors.New("invalid source")

type Kind string

const (
	KindFeed Kind = "feed"
	KindPage Kind = "page"
)

// Selectors locate items on a scraped page. All are CSS selectors.
type Selectors struct {
	Container   string `yaml:"container"`
	Title       string `yaml:"title"`
	Link        string `yaml:"link"`
	Description string `yaml:"description"`
}

// Source describes one remote origin of content.
type Source struct {
	Name              string        `yaml:"name"`
	Kind              Kind          `yaml:"kind"`
	URL               string        `yaml:"url"`
	Selectors         Selectors     `yaml:"selectors"`
	AlwaysInclude     bool          `yaml:"always_include"`
	RequiresProxy     bool          `yaml:"requires_proxy"`
	RequiresRendering bool          `yaml:"requires_rendering"`
	RenderWait        time.Duration `yaml:"render_wait"`
	MaxItems          int           `yaml:"max_items"`
	FullText          bool          `yaml:"full_text"`
}

// Cap is the number of items kept for this source.
func (s Source) Cap(global int) int {
	if s.MaxItems > 0 {
		return s.MaxItems
	}
	return global
}

// Settle is how long the rendered page is left alone after the network
// goes idle.
func (s Source) Settle() time.Duration {
	if s.RenderWait > 0 {
		return s.RenderWait
	}
	return time.Second
}

func (s Source) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSource)
	}
	u, err := url.Parse(s.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s: url must be absolute http(s)", ErrInvalidSource, s.Name)
	}
	if s.Kind != KindFeed && s.Kind != KindPage {
		return fmt.Errorf("%w: %s: kind must be feed or page", ErrInvalidSource, s.Name)
	}
	if s.MaxItems < 0 {
		return fmt.Errorf("%w: %s: max_items must not be negative", ErrInvalidSource, s.Name)
	}
	return nil
}

// SourcesConfig is the YAML layout:
//
//	sources:
//	  - name: Mining.com
//	    kind: feed
//	    url: https://www.mining.com/feed/
type SourcesConfig struct {
	Sources []Source `yaml:"sources"`
}

// LoadSources reads and validates the source list. Order is preserved.
func LoadSources(path string) ([]Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources: %w", err)
	}
	return ParseSources(data)
}

func ParseSources(data []byte) ([]Source, error) {
	var cfg SourcesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse sources: %w", err)
	}

	seen := make(map[string]bool, len(cfg.Sources))
	for i := range cfg.Sources {
		s := &cfg.Sources[i]
		s.Name = strings.TrimSpace(s.Name)
		s.URL = strings.TrimSpace(s.URL)
		s.Kind = normalizeKind(s.Kind)
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("source #%d: %w", i+1, err)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("source #%d: %w: duplicate name %q", i+1, ErrInvalidSource, s.Name)
		}
		seen[s.Name] = true
	}
	return cfg.Sources, nil
}

func normalizeKind(k Kind) Kind {
	switch strings.ToLower(strings.TrimSpace(string(k))) {
	case "", "feed", "rss", "atom":
		return KindFeed
	case "page", "html":
		return KindPage
	}
	return k
}
