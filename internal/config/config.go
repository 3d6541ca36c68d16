// Package config holds the agent's policy configuration snapshot.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dagbolade/rasp-agent/internal/block"
	"github.com/dagbolade/rasp-agent/internal/check"
	"github.com/dagbolade/rasp-agent/internal/pathpolicy"
	"github.com/dagbolade/rasp-agent/internal/policy"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath         = "./rasp.yaml"
	DefaultStatusCode   = 302
	DefaultRedirectURL  = "https://rasp.example.com/blocked/?request_id=" + block.DefaultPlaceholder
	DefaultLRUSize      = 1024
	DefaultWebdirPolicy = "@every 6h"

	// AllChecks in a whitelist entry stands for every check type.
	AllChecks = "all"
)

const (
	defaultContentJSON = `{"error":true,"reason":"Request blocked by RASP agent","request_id":"` + block.DefaultPlaceholder + `"}`
	defaultContentXML  = `<?xml version="1.0"?><error><reason>Request blocked by RASP agent</reason><request_id>` + block.DefaultPlaceholder + `</request_id></error>`
	defaultContentHTML = `<html><head><meta charset="UTF-8"><title>Request blocked</title></head><body><h1>Request blocked</h1><p>Request ID: ` + block.DefaultPlaceholder + `</p></body></html>`
)

type BlockConfig struct {
	StatusCode  int    `yaml:"status_code"`
	RedirectURL string `yaml:"redirect_url"`
	Placeholder string `yaml:"placeholder"`
	ContentJSON string `yaml:"content_json"`
	ContentXML  string `yaml:"content_xml"`
	ContentHTML string `yaml:"content_html"`
}

type LRUConfig struct {
	MaxSize int `yaml:"max_size"`
}

type PluginConfig struct {
	Filter bool        `yaml:"filter"`
	Dir    string      `yaml:"dir"`
	Engine policy.Kind `yaml:"engine"`
}

type WhitelistEntry struct {
	URLPrefix  string   `yaml:"url_prefix"`
	CheckTypes []string `yaml:"check_types"`
}

type WebdirConfig struct {
	Root     string   `yaml:"root"`
	Schedule string   `yaml:"schedule"`
	Patterns []string `yaml:"patterns"`
}

type AuditConfig struct {
	DBPath    string `yaml:"db_path"`
	QueueSize int    `yaml:"queue_size"`
}

type ServerConfig struct {
	Port            int        `yaml:"port"`
	ReadTimeout     int        `yaml:"read_timeout"`
	WriteTimeout    int        `yaml:"write_timeout"`
	ShutdownTimeout int        `yaml:"shutdown_timeout"`
	Auth            AuthConfig `yaml:"auth"`
}

// AuthConfig guards the admin API. TokenTTL is in minutes.
type AuthConfig struct {
	Required  bool         `yaml:"required"`
	JWTSecret string       `yaml:"jwt_secret"`
	TokenTTL  int          `yaml:"token_ttl"`
	Users     []UserConfig `yaml:"users"`
}

type UserConfig struct {
	Name     string   `yaml:"name"`
	Password string   `yaml:"password"`
	Roles    []string `yaml:"roles"`
}

type Config struct {
	Block          BlockConfig         `yaml:"block"`
	LRU            LRUConfig           `yaml:"lru"`
	Plugin         PluginConfig        `yaml:"plugin"`
	Whitelist      []WhitelistEntry    `yaml:"whitelist"`
	BuiltinActions map[string]string   `yaml:"builtin_actions"`
	Schemes        map[string][]string `yaml:"schemes"`
	OpenBasedir    []string            `yaml:"open_basedir"`
	IncludePath    []string            `yaml:"include_path"`
	WorkingDir     string              `yaml:"working_dir"`
	Webdir         WebdirConfig        `yaml:"webdir"`
	Audit          AuditConfig         `yaml:"audit"`
	Server         ServerConfig        `yaml:"server"`

	// compiled by Validate
	whitelist []compiledEntry
	actions   map[check.Type]check.Action
	schemes   map[string]pathpolicy.Intent
}

type compiledEntry struct {
	prefix string
	mask   check.Mask
}

// Default returns the configuration used when no file overrides it. The
// result is already validated, so its lookups are ready to use.
func Default() *Config {
	cfg := &Config{
		Block: BlockConfig{
			StatusCode:  DefaultStatusCode,
			RedirectURL: DefaultRedirectURL,
			Placeholder: block.DefaultPlaceholder,
			ContentJSON: defaultContentJSON,
			ContentXML:  defaultContentXML,
			ContentHTML: defaultContentHTML,
		},
		LRU:    LRUConfig{MaxSize: DefaultLRUSize},
		Plugin: PluginConfig{Filter: true, Engine: policy.KindLua},
		BuiltinActions: map[string]string{
			check.SQLException.String():      "log",
			check.Callable.String():          "block",
			check.XSSEcho.String():           "log",
			check.XSSUserInput.String():      "log",
			check.WebshellEval.String():      "block",
			check.WebshellCommand.String():   "block",
			check.WebshellFilePut.String():   "block",
			check.WebshellCallable.String():  "block",
			check.WebshellLDPreload.String(): "block",
		},
		Webdir: WebdirConfig{Schedule: DefaultWebdirPolicy},
		Audit:  AuditConfig{QueueSize: 256},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
			Auth:            AuthConfig{TokenTTL: 60},
		},
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("invalid default config: %v", err))
	}
	return cfg
}

// Load reads the YAML file at path over the defaults, applies RASP_*
// environment overrides and validates the result. A missing file is not an
// error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		log.Info().Str("path", path).Msg("config file not found, using defaults")
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse builds a validated configuration from YAML, without environment
// overrides.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Block.StatusCode = getEnvInt("RASP_BLOCK_STATUS_CODE", c.Block.StatusCode)
	c.Block.RedirectURL = getEnv("RASP_BLOCK_REDIRECT_URL", c.Block.RedirectURL)
	c.LRU.MaxSize = getEnvInt("RASP_LRU_MAX_SIZE", c.LRU.MaxSize)
	c.Plugin.Filter = getEnvBool("RASP_PLUGIN_FILTER", c.Plugin.Filter)
	c.Plugin.Dir = getEnv("RASP_PLUGIN_DIR", c.Plugin.Dir)
	c.Plugin.Engine = policy.Kind(getEnv("RASP_PLUGIN_ENGINE", string(c.Plugin.Engine)))
	c.Webdir.Root = getEnv("RASP_WEBDIR_ROOT", c.Webdir.Root)
	c.Audit.DBPath = getEnv("RASP_AUDIT_DB_PATH", c.Audit.DBPath)
	c.Server.Port = getEnvInt("RASP_PORT", c.Server.Port)
	c.Server.Auth.Required = getEnvBool("RASP_REQUIRE_AUTH", c.Server.Auth.Required)
	c.Server.Auth.JWTSecret = getEnv("RASP_JWT_SECRET", c.Server.Auth.JWTSecret)
}

// Validate checks the configuration and compiles the derived lookups.
func (c *Config) Validate() error {
	if c.Block.StatusCode < 100 || c.Block.StatusCode > 599 {
		return fmt.Errorf("block.status_code out of range: %d", c.Block.StatusCode)
	}
	if c.Block.Placeholder == "" {
		c.Block.Placeholder = block.DefaultPlaceholder
	}

	if _, err := policy.NewLoader(c.Plugin.Engine); err != nil {
		return fmt.Errorf("plugin.engine: %w", err)
	}

	whitelist := make([]compiledEntry, 0, len(c.Whitelist))
	for _, entry := range c.Whitelist {
		mask, err := parseCheckTypes(entry.CheckTypes)
		if err != nil {
			return fmt.Errorf("whitelist %q: %w", entry.URLPrefix, err)
		}
		whitelist = append(whitelist, compiledEntry{prefix: stripScheme(entry.URLPrefix), mask: mask})
	}

	actions := make(map[check.Type]check.Action, len(c.BuiltinActions))
	for name, value := range c.BuiltinActions {
		t, err := check.ParseType(name)
		if err != nil {
			return fmt.Errorf("builtin_actions: %w", err)
		}
		action, err := check.ParseAction(value)
		if err != nil {
			return fmt.Errorf("builtin_actions.%s: %w", name, err)
		}
		actions[t] = action
	}

	schemes := make(map[string]pathpolicy.Intent, len(c.Schemes))
	for scheme, names := range c.Schemes {
		intents, err := pathpolicy.ParseIntents(names...)
		if err != nil {
			return fmt.Errorf("schemes.%s: %w", scheme, err)
		}
		schemes[strings.ToLower(scheme)] = intents
	}

	if c.Webdir.Schedule != "" {
		if _, err := cron.ParseStandard(c.Webdir.Schedule); err != nil {
			return fmt.Errorf("webdir.schedule: %w", err)
		}
	}

	if c.Server.Auth.Required && len(c.Server.Auth.Users) == 0 {
		return fmt.Errorf("server.auth: required but no users configured")
	}

	c.whitelist = whitelist
	c.actions = actions
	c.schemes = schemes
	return nil
}

// WhitelistMask returns the check types whitelisted for a request URL. The
// URL is matched without its scheme against every entry's prefix.
func (c *Config) WhitelistMask(url string) check.Mask {
	target := stripScheme(url)

	var mask check.Mask
	for _, entry := range c.whitelist {
		if strings.HasPrefix(target, entry.prefix) {
			mask |= entry.mask
		}
	}
	return mask
}

// IgnoredMask collects the built-in check types configured as ignore.
func (c *Config) IgnoredMask() check.Mask {
	var mask check.Mask
	for _, t := range check.Builtin() {
		if c.BuiltinAction(t) == check.ActionIgnore {
			mask = mask.With(t)
		}
	}
	return mask
}

// BuiltinAction is the configured action of a built-in check type.
func (c *Config) BuiltinAction(t check.Type) check.Action {
	if action, ok := c.actions[t]; ok {
		return action
	}
	return check.ActionLog
}

func (c *Config) BlockConfig() block.Config {
	return block.Config{
		StatusCode:  c.Block.StatusCode,
		RedirectURL: c.Block.RedirectURL,
		Placeholder: c.Block.Placeholder,
		ContentJSON: c.Block.ContentJSON,
		ContentXML:  c.Block.ContentXML,
		ContentHTML: c.Block.ContentHTML,
	}
}

func (c *Config) PathConfig() pathpolicy.Config {
	return pathpolicy.Config{
		Filter:      c.Plugin.Filter,
		OpenBasedir: c.OpenBasedir,
		IncludePath: c.IncludePath,
		WorkingDir:  c.WorkingDir,
		Schemes:     c.schemes,
	}
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Server.ReadTimeout) * time.Second
}

func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Server.WriteTimeout) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeout) * time.Second
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Server.Auth.TokenTTL) * time.Minute
}

func parseCheckTypes(names []string) (check.Mask, error) {
	var mask check.Mask
	for _, name := range names {
		if strings.EqualFold(name, AllChecks) {
			return check.AllMask(), nil
		}
		t, err := check.ParseType(name)
		if err != nil {
			return 0, err
		}
		mask = mask.With(t)
	}
	return mask, nil
}

func stripScheme(url string) string {
	if i := strings.Index(url, "://"); i >= 0 {
		return url[i+3:]
	}
	return url
}
