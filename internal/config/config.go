// Package config provides YAML-based configuration loading for closeout.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level closeout configuration, loaded from closeout.yaml.
type Config struct {
	Model      ModelConfig      `yaml:"model"`
	Database   DatabaseConfig   `yaml:"database"`
	Server     ServerConfig     `yaml:"server"`
	Session    SessionConfig    `yaml:"session"`
	Notify     NotifyConfig     `yaml:"notify"`
	Escalation EscalationConfig `yaml:"escalation"`
	Digest     DigestConfig     `yaml:"digest"`
}

// ModelConfig holds settings for the OpenAI-compatible reasoning model.
type ModelConfig struct {
	BaseURL              string        `yaml:"base_url"`
	APIKeyEnv            string        `yaml:"api_key_env"`
	Name                 string        `yaml:"name"`
	InterviewTemperature float64       `yaml:"interview_temperature"`
	ExtractTemperature   float64       `yaml:"extract_temperature"`
	AuditTemperature     float64       `yaml:"audit_temperature"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	MaxRetries           int           `yaml:"max_retries"`
	Language             string        `yaml:"language"`
	LegacySentinel       *bool         `yaml:"legacy_sentinel"`
}

// SentinelEnabled reports whether free-text sentinel closes are honoured.
func (m ModelConfig) SentinelEnabled() bool {
	return m.LegacySentinel == nil || *m.LegacySentinel
}

// APIKey resolves the API key from the configured environment variable.
func (m ModelConfig) APIKey() string {
	return os.Getenv(m.APIKeyEnv)
}

// DatabaseConfig selects and configures the ticket store backend.
type DatabaseConfig struct {
	Driver      string `yaml:"driver"` // sqlite or mysql
	Path        string `yaml:"path"`   // sqlite file
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	PasswordEnv string `yaml:"password_env"`
	Name        string `yaml:"name"`
}

// Password resolves the MySQL password from its environment variable.
func (d DatabaseConfig) Password() string {
	if d.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(d.PasswordEnv)
}

// ServerConfig holds the operator HTTP API settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// SessionConfig bounds closure sessions.
type SessionConfig struct {
	TranscriptTail int `yaml:"transcript_tail"`
	MaxTurns       int `yaml:"max_turns"`
}

// NotifyConfig configures where submitted tickets are announced.
type NotifyConfig struct {
	Slack   ChannelConfig `yaml:"slack"`
	Discord ChannelConfig `yaml:"discord"`
}

// ChannelConfig is a bot token reference plus the channel to post in.
type ChannelConfig struct {
	TokenEnv  string `yaml:"token_env"`
	ChannelID string `yaml:"channel_id"`
}

// Enabled reports whether the channel is configured.
func (c ChannelConfig) Enabled() bool {
	return c.ChannelID != ""
}

// Token resolves the bot token from its environment variable.
func (c ChannelConfig) Token() string {
	return os.Getenv(c.TokenEnv)
}

// EscalationConfig configures GitHub issue creation for risky tickets.
type EscalationConfig struct {
	GitHub GitHubConfig `yaml:"github"`
}

// GitHubConfig names the repository that receives escalation issues.
type GitHubConfig struct {
	Owner    string   `yaml:"owner"`
	Repo     string   `yaml:"repo"`
	TokenEnv string   `yaml:"token_env"`
	Labels   []string `yaml:"labels"`
	MinRisk  string   `yaml:"min_risk"`
}

// Enabled reports whether escalation is configured.
func (g GitHubConfig) Enabled() bool {
	return g.Owner != "" && g.Repo != ""
}

// Token resolves the GitHub token from its environment variable.
func (g GitHubConfig) Token() string {
	return os.Getenv(g.TokenEnv)
}

// DigestConfig schedules the periodic summary of submitted tickets.
type DigestConfig struct {
	Schedule string        `yaml:"schedule"`
	Window   time.Duration `yaml:"window"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Model.BaseURL == "" {
		c.Model.BaseURL = "https://api.moonshot.cn/v1"
	}
	if c.Model.APIKeyEnv == "" {
		c.Model.APIKeyEnv = "MOONSHOT_API_KEY"
	}
	if c.Model.Name == "" {
		c.Model.Name = "moonshot-v1-8k"
	}
	if c.Model.InterviewTemperature == 0 {
		c.Model.InterviewTemperature = 0.2
	}
	if c.Model.AuditTemperature == 0 {
		c.Model.AuditTemperature = 0.3
	}
	if c.Model.RequestTimeout == 0 {
		c.Model.RequestTimeout = 2 * time.Minute
	}
	if c.Model.MaxRetries == 0 {
		c.Model.MaxRetries = 2
	}
	if c.Model.Language == "" {
		c.Model.Language = "zh-CN"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "closeout.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "closeout"
		}
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Session.TranscriptTail == 0 {
		c.Session.TranscriptTail = 20
	}
	if c.Session.MaxTurns == 0 {
		c.Session.MaxTurns = 60
	}
	if c.Notify.Slack.TokenEnv == "" {
		c.Notify.Slack.TokenEnv = "SLACK_BOT_TOKEN"
	}
	if c.Notify.Discord.TokenEnv == "" {
		c.Notify.Discord.TokenEnv = "DISCORD_BOT_TOKEN"
	}
	if c.Escalation.GitHub.TokenEnv == "" {
		c.Escalation.GitHub.TokenEnv = "GITHUB_TOKEN"
	}
	if c.Escalation.GitHub.MinRisk == "" {
		c.Escalation.GitHub.MinRisk = "High"
	}
	if c.Digest.Window == 0 {
		c.Digest.Window = 24 * time.Hour
	}
}

// cronParser accepts standard 5-field expressions.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Model.InterviewTemperature < 0 || c.Model.InterviewTemperature > 2 {
		errs = append(errs, "model.interview_temperature must be within 0..2")
	}
	if c.Model.ExtractTemperature < 0 || c.Model.ExtractTemperature > 2 {
		errs = append(errs, "model.extract_temperature must be within 0..2")
	}
	if c.Model.AuditTemperature < 0 || c.Model.AuditTemperature > 2 {
		errs = append(errs, "model.audit_temperature must be within 0..2")
	}
	if c.Model.MaxRetries < 0 {
		errs = append(errs, "model.max_retries must not be negative")
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (sqlite, mysql)", c.Database.Driver))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be within 0..65535")
	}
	if c.Session.TranscriptTail < 0 {
		errs = append(errs, "session.transcript_tail must not be negative")
	}
	if c.Session.MaxTurns < 0 {
		errs = append(errs, "session.max_turns must not be negative")
	}
	gh := c.Escalation.GitHub
	if (gh.Owner == "") != (gh.Repo == "") {
		errs = append(errs, "escalation.github.owner and escalation.github.repo must be set together")
	}
	switch gh.MinRisk {
	case "Low", "Medium", "High":
	default:
		errs = append(errs, fmt.Sprintf("escalation.github.min_risk %q must be Low, Medium or High", gh.MinRisk))
	}
	if c.Digest.Schedule != "" {
		if _, err := cronParser.Parse(c.Digest.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("digest.schedule: %v", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
