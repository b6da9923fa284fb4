// Package config loads the client configuration file.
package config

import (
	"os"
	"strings"
	"time"

	"braces.dev/errtrace"
	"gopkg.in/yaml.v3"

	"github.com/ghettovoice/sipua/internal/errorutil"
	"github.com/ghettovoice/sipua/sip"
)

// ErrInvalidConfig is returned when the configuration fails validation.
const ErrInvalidConfig errorutil.Error = "invalid config"

// Config represents the client configuration file.
type Config struct {
	Server struct {
		Host   string `yaml:"host"`
		Port   int    `yaml:"port"`
		Domain string `yaml:"domain"`
	} `yaml:"server"`

	Local struct {
		IP string `yaml:"ip"`
	} `yaml:"local"`

	Register struct {
		Expires       int `yaml:"expires"`
		RefreshPeriod int `yaml:"refresh_period"`
	} `yaml:"register"`

	Send struct {
		SettleDelayMS int    `yaml:"settle_delay_ms"`
		Method        string `yaml:"method"`
	} `yaml:"send"`

	Auth struct {
		MaxChallenges int `yaml:"max_challenges"`
	} `yaml:"auth"`

	DNS struct {
		NameServer string `yaml:"nameserver"`
		TimeoutMS  int    `yaml:"timeout_ms"`
		Lookup     bool   `yaml:"lookup"`
	} `yaml:"dns"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	ServerName string `yaml:"server_name"`
}

// Default returns a configuration with default values.
func Default() *Config {
	cfg := new(Config)
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 5060
	cfg.Register.Expires = 3600
	cfg.Register.RefreshPeriod = 60
	cfg.Send.SettleDelayMS = 2000
	cfg.Send.Method = string(sip.RequestMethodMessage)
	cfg.Auth.MaxChallenges = 2
	cfg.DNS.TimeoutMS = 5000
	cfg.DNS.Lookup = true
	cfg.Log.Level = "info"
	cfg.Log.Format = "console"
	cfg.ServerName = "sipua"
	return cfg
}

// Load reads the file over the defaults and validates the result.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return errtrace.Wrap2(Parse(data))
}

// Parse decodes YAML data over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidConfig, err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, errtrace.Wrap(err)
	}
	return cfg, nil
}

// Validate checks if the configuration values are valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Host) == "" {
		return errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidConfig, "server host cannot be empty"))
	}
	// 0 means "resolve via NAPTR/SRV"
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidConfig, "invalid server port: %d (must be 0-65535)", c.Server.Port))
	}
	if c.Register.Expires <= 0 {
		return errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidConfig, "register expires must be positive: %d", c.Register.Expires))
	}
	if c.Register.RefreshPeriod <= 0 {
		return errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidConfig, "register refresh period must be positive: %d", c.Register.RefreshPeriod))
	}
	if c.Send.SettleDelayMS <= 0 {
		return errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidConfig, "settle delay must be positive: %d", c.Send.SettleDelayMS))
	}
	switch sip.RequestMethod(strings.ToUpper(c.Send.Method)) {
	case sip.RequestMethodMessage, sip.RequestMethodInvite:
	default:
		return errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidConfig, "invalid send method: %s (must be MESSAGE or INVITE)", c.Send.Method))
	}
	if c.Auth.MaxChallenges < 1 {
		return errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidConfig, "max challenges must be at least 1: %d", c.Auth.MaxChallenges))
	}
	if c.DNS.TimeoutMS < 0 {
		return errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidConfig, "dns timeout cannot be negative: %d", c.DNS.TimeoutMS))
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidConfig, "invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	validLogFormats := map[string]bool{
		"console": true,
		"dev":     true,
		"json":    true,
		"noop":    true,
	}
	if !validLogFormats[strings.ToLower(c.Log.Format)] {
		return errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidConfig, "invalid log format: %s (must be console, dev, json, or noop)", c.Log.Format))
	}
	return nil
}

// ClientConfig converts the file sections consumed by the client core.
func (c *Config) ClientConfig() sip.ClientConfig {
	return sip.ClientConfig{
		ServerHost:       c.Server.Host,
		ServerPort:       uint16(c.Server.Port), //nolint:gosec
		Domain:           c.Server.Domain,
		LocalIP:          c.Local.IP,
		RegisterExpires:  time.Duration(c.Register.Expires) * time.Second,
		ReRegisterPeriod: time.Duration(c.Register.RefreshPeriod) * time.Second,
		SettleDelay:      time.Duration(c.Send.SettleDelayMS) * time.Millisecond,
		MaxChallenges:    c.Auth.MaxChallenges,
		ServerName:       c.ServerName,
	}
}

// SendMethod returns the normalized send mode request method.
func (c *Config) SendMethod() sip.RequestMethod {
	return sip.RequestMethod(strings.ToUpper(c.Send.Method))
}

// DNSTimeout returns the DNS query timeout.
func (c *Config) DNSTimeout() time.Duration {
	return time.Duration(c.DNS.TimeoutMS) * time.Millisecond
}
