package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/foomo/geocat-mcp/service/vo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned when an explicitly given config file does not exist
var ErrConfigNotFound = errors.New("config file not found")

// environment overrides
const (
	EnvURL         = "GEOCAT_URL"
	EnvUsername    = "GEOCAT_USERNAME"
	EnvPassword    = "GEOCAT_PASSWORD"
	EnvLang        = "GEOCAT_LANG"
	EnvRedisURL    = "GEOCAT_REDIS_URL"
	EnvLogLevel    = "GEOCAT_LOG_LEVEL"
	EnvConcurrency = "GEOCAT_INSERT_CONCURRENCY"
)

type CatalogConfig struct {
	// URL of the catalog web application, e.g. http://localhost:8080/geonetwork
	URL      string        `yaml:"url"`
	Username string        `yaml:"username,omitempty"`
	Password string        `yaml:"password,omitempty"`
	Lang     vo.Lang       `yaml:"lang"`
	Schema   string        `yaml:"schema"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ServiceURL is the base of the localized catalog services
func (c CatalogConfig) ServiceURL() string {
	return strings.TrimSuffix(c.URL, "/") + "/srv/" + string(c.Lang)
}

type InsertConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
}

type SessionConfig struct {
	// RedisURL selects the redis store, sessions are kept in memory otherwise
	RedisURL string        `yaml:"redis_url,omitempty"`
	TTL      time.Duration `yaml:"ttl"`
}

type HTTPConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type LayerConfig struct {
	Name       string `yaml:"name"`
	Title      string `yaml:"title,omitempty"`
	Visible    bool   `yaml:"visible"`
	Background bool   `yaml:"background,omitempty"`
}

type Config struct {
	Catalog  CatalogConfig `yaml:"catalog"`
	Insert   InsertConfig  `yaml:"insert"`
	Session  SessionConfig `yaml:"session"`
	HTTP     HTTPConfig    `yaml:"http"`
	LogLevel string        `yaml:"log_level"`
	// Layers seed the layer manager in map order, bottom most first
	Layers []LayerConfig `yaml:"layers,omitempty"`
}

func Default() *Config {
	return &Config{
		Catalog: CatalogConfig{
			URL:     "http://localhost:8080/geonetwork",
			Lang:    vo.LangEnglish,
			Schema:  "iso19139.che",
			Timeout: 30 * time.Second,
		},
		Insert: InsertConfig{
			Timeout:     30 * time.Second,
			Concurrency: 4,
		},
		Session: SessionConfig{
			TTL: time.Hour,
		},
		HTTP: HTTPConfig{
			Endpoint: "/mcp",
		},
		LogLevel: "info",
	}
}

// Load reads the yaml config at path on top of the defaults and applies the
// environment overrides. An empty path only applies the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
			}
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadEnvFile loads a .env file into the environment, a missing default
// .env is ignored
func LoadEnvFile(path string) error {
	if path == "" {
		_ = godotenv.Load()
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvURL); ok && v != "" {
		c.Catalog.URL = v
	}
	if v, ok := lookup(EnvUsername); ok {
		c.Catalog.Username = v
	}
	if v, ok := lookup(EnvPassword); ok {
		c.Catalog.Password = v
	}
	if v, ok := lookup(EnvLang); ok && v != "" {
		c.Catalog.Lang = vo.Lang(v)
	}
	if v, ok := lookup(EnvRedisURL); ok {
		c.Session.RedisURL = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup(EnvConcurrency); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvConcurrency, v, err)
		}
		c.Insert.Concurrency = n
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Catalog.URL == "" {
		return errors.New("catalog url is required")
	}
	known := false
	for _, lang := range vo.Languages {
		if lang == c.Catalog.Lang {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unsupported catalog language %q", c.Catalog.Lang)
	}
	if c.Insert.Concurrency < 0 {
		return fmt.Errorf("insert concurrency must not be negative")
	}
	return nil
}

// LayerObjects converts the configured layers for the layer manager
func (c *Config) LayerObjects() []*vo.Layer {
	ret := make([]*vo.Layer, 0, len(c.Layers))
	for _, l := range c.Layers {
		ret = append(ret, &vo.Layer{
			Name:       l.Name,
			Title:      l.Title,
			Visible:    l.Visible,
			Background: l.Background,
		})
	}
	return ret
}
