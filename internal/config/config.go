package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/nekbot/nekirc/internal/address"
)

const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultMaxNickRetries = 5
	DefaultQuitMessage    = "Shutting down"
)

// Config holds the adapter configuration
type Config struct {
	// Nick is the nickname registered on every server
	Nick string `yaml:"nick"`
	// Rooms lists "room@server" addresses to join
	Rooms []string `yaml:"rooms"`
	// Auths maps "[username@]server[:port]" to login credentials
	Auths map[string]Auth `yaml:"auths"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	MaxNickRetries int           `yaml:"max_nick_retries"`
	QuitMessage    string        `yaml:"quit_message"`
	LogLevel       string        `yaml:"log_level"`
	Debug          bool          `yaml:"debug"`
}

// Auth holds login credentials for one server
type Auth struct {
	Username string `yaml:"username"`
	RealName string `yaml:"realname"`
	Password string `yaml:"password"`
	TLS      bool   `yaml:"tls"`
	// Keys maps room names to join keys
	Keys map[string]string `yaml:"keys"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// SetDefaults fills in unset fields
func (c *Config) SetDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.MaxNickRetries <= 0 {
		c.MaxNickRetries = DefaultMaxNickRetries
	}
	if c.QuitMessage == "" {
		c.QuitMessage = DefaultQuitMessage
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Auths == nil {
		c.Auths = make(map[string]Auth)
	}
}

// Validate checks every address and credential, reporting all problems at once
func (c *Config) Validate() error {
	var result *multierror.Error

	for _, room := range c.Rooms {
		if _, err := address.ParseRoom(room); err != nil {
			result = multierror.Append(result, fmt.Errorf("rooms: %w", err))
		}
	}

	for key, auth := range c.Auths {
		login, err := address.ParseLogin(key)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("auths: %w", err))
			continue
		}
		if login.Username == "" && auth.Username == "" && c.Nick == "" {
			result = multierror.Append(result, fmt.Errorf("auths: %s: missing username", key))
		}
	}

	return result.ErrorOrNil()
}
