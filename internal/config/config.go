// Package config loads harvest sources and notification settings from a YAML
// file, with environment overrides for deployment-specific values.
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

// Supported source backends.
const (
	BackendCSW  = "csw"
	BackendFlat = "flat"
)

// ErrInvalid is returned when the configuration fails validation.
var ErrInvalid = errors.New("config: invalid")

// Config is the root of the configuration file.
type Config struct {
	Database string   `yaml:"database"`
	LogLevel string   `yaml:"log_level"`
	Notify   Notify   `yaml:"notify"`
	Sources  []Source `yaml:"sources"`
}

// Notify configures the stale-dataset report.
type Notify struct {
	// Sender is the operational mailbox, used as From and always copied.
	Sender     string `yaml:"sender"`
	ServerName string `yaml:"server_name"`
	// Subject is a fmt pattern receiving the harvester display name.
	Subject    string `yaml:"subject"`
	SMTP       SMTP   `yaml:"smtp"`
	WebhookURL string `yaml:"webhook_url"`
}

// SMTP holds mail relay settings. Empty Addr disables mail delivery.
type SMTP struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Source describes one remote catalog to harvest.
type Source struct {
	Name         string        `yaml:"name"`
	DisplayName  string        `yaml:"display_name"`
	Backend      string        `yaml:"backend"`
	URL          string        `yaml:"url"`
	VerifySSL    bool          `yaml:"verify_ssl"`
	Organization string        `yaml:"organization"`
	Tag          string        `yaml:"tag"`
	License      string        `yaml:"license"`
	PageSize     int           `yaml:"page_size"`
	PageDelay    time.Duration `yaml:"page_delay"`
	Timeout      time.Duration `yaml:"timeout"`
}

// UnmarshalYAML decodes a source with TLS verification on unless disabled.
func (s *Source) UnmarshalYAML(node *yaml.Node) error {
	type plain Source
	p := plain{VerifySSL: true}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*s = Source(p)
	return nil
}

// Domain is the host part of the source URL, used to attribute datasets.
func (s Source) Domain() string {
	u, err := url.Parse(s.URL)
	if err != nil {
		return ""
	}
	return u.Host
}

// Title returns the display name, falling back to the source name.
func (s Source) Title() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.Name
}

func (s *Source) defaults() {
	if s.Backend == "" {
		s.Backend = BackendCSW
	}
	if s.License == "" {
		s.License = "cc-by"
	}
	if s.Tag == "" {
		s.Tag = s.Domain()
	}
	if s.PageSize <= 0 {
		s.PageSize = 100
	}
	if s.Timeout <= 0 {
		s.Timeout = 60 * time.Second
	}
}

func (c *Config) defaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Notify.Sender == "" {
		c.Notify.Sender = "dados@ama.pt"
	}
	if c.Notify.ServerName == "" {
		c.Notify.ServerName = "dados.gov.pt"
	}
	if c.Notify.Subject == "" {
		c.Notify.Subject = "Relatório harvesting dados.gov - %s."
	}
	for i := range c.Sources {
		c.Sources[i].defaults()
	}
}

// Validate checks source names, backends and URLs.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for i, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("%w: source #%d has no name", ErrInvalid, i)
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: duplicate source %q", ErrInvalid, s.Name)
		}
		seen[s.Name] = true

		if s.Backend != BackendCSW && s.Backend != BackendFlat {
			return fmt.Errorf("%w: source %q: unknown backend %q", ErrInvalid, s.Name, s.Backend)
		}
		u, err := url.Parse(s.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%w: source %q: bad url %q", ErrInvalid, s.Name, s.URL)
		}
	}
	return nil
}

// Source looks up a configured source by name.
func (c *Config) Source(name string) (Source, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return Source{}, false
}

// Parse decodes YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("HARVEST_DB"); v != "" {
		c.Database = v
	}
	if v := os.Getenv("HARVEST_LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("HARVEST_SMTP_PASSWORD"); v != "" {
		c.Notify.SMTP.Password = v
	}
}
