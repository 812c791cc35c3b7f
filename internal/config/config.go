// Package config loads hearth's configuration.
//
// Values are layered with koanf: built-in defaults, then the YAML config
// file, then HEARTH_* environment variables. Nested keys use a double
// underscore in the environment:
//
//	HEARTH_REPLICATION__SCHEDULE=02:30      -> replication.schedule
//	HEARTH_ALERTS__TELEGRAM__BOT_TOKEN=...  -> alerts.telegram.bot_token
//
// Config file locations (priority order):
//  1. $HEARTH_CONFIG
//  2. ./hearth.yaml
//  3. $XDG_CONFIG_HOME/hearth/config.yaml
//  4. ~/.config/hearth/config.yaml
//  5. /etc/hearth/config.yaml
//
// The inventory (hosts, services, ports, directories) is a separate file,
// referenced by the inventory key; this file only holds how hearth itself
// behaves.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HEARTH_"

// Config is the root configuration.
type Config struct {
	// Inventory is the path of the inventory YAML. Empty uses the built-in layout.
	Inventory   string            `koanf:"inventory" yaml:"inventory,omitempty"`
	Database    DatabaseConfig    `koanf:"database" yaml:"database"`
	Logging     LoggingConfig     `koanf:"logging" yaml:"logging"`
	Server      ServerConfig      `koanf:"server" yaml:"server"`
	SSH         SSHConfig         `koanf:"ssh" yaml:"ssh"`
	Replication ReplicationConfig `koanf:"replication" yaml:"replication"`
	Transcode   TranscodeConfig   `koanf:"transcode" yaml:"transcode"`
	Alerts      AlertsConfig      `koanf:"alerts" yaml:"alerts"`
}

// DatabaseConfig locates the SQLite history database.
type DatabaseConfig struct {
	Path string `koanf:"path" yaml:"path" validate:"required"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" yaml:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller" yaml:"caller"`
}

// ServerConfig configures the HTTP API started by `hearth serve`.
type ServerConfig struct {
	Addr            string        `koanf:"addr" yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" yaml:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
	// CORSOrigins lets a dashboard on another origin read the API. Empty disables CORS.
	CORSOrigins []string `koanf:"cors_origins" yaml:"cors_origins,omitempty"`
	// TriggerPerMinute caps POST /api/replication/run per client IP.
	TriggerPerMinute int `koanf:"trigger_per_minute" yaml:"trigger_per_minute" validate:"min=1"`
}

// SSHConfig holds credentials used for probes and file transfer.
type SSHConfig struct {
	User string `koanf:"user" yaml:"user,omitempty"`
	Port int    `koanf:"port" yaml:"port" validate:"min=1,max=65535"`
	// Password enables password auth; keys are tried otherwise.
	Password string `koanf:"password" yaml:"password,omitempty"`
	// KeyFiles default to ~/.ssh/id_rsa and ~/.ssh/id_ed25519.
	KeyFiles              []string      `koanf:"key_files" yaml:"key_files,omitempty"`
	KnownHosts            string        `koanf:"known_hosts" yaml:"known_hosts,omitempty"`
	InsecureIgnoreHostKey bool          `koanf:"insecure_ignore_host_key" yaml:"insecure_ignore_host_key,omitempty"`
	ConnectTimeout        time.Duration `koanf:"connect_timeout" yaml:"connect_timeout" validate:"gt=0"`
	CommandTimeout        time.Duration `koanf:"command_timeout" yaml:"command_timeout" validate:"gt=0"`
}

// ReplicationConfig drives the nightly pull replication. Source and paths
// default to the inventory's replication section.
type ReplicationConfig struct {
	Enabled        bool          `koanf:"enabled" yaml:"enabled"`
	Source         string        `koanf:"source" yaml:"source,omitempty"`
	SourcePath     string        `koanf:"source_path" yaml:"source_path,omitempty"`
	DestPath       string        `koanf:"dest_path" yaml:"dest_path,omitempty"`
	Schedule       string        `koanf:"schedule" yaml:"schedule,omitempty" validate:"omitempty,hhmm"`
	Timeout        time.Duration `koanf:"timeout" yaml:"timeout" validate:"gt=0"`
	RsyncPath      string        `koanf:"rsync_path" yaml:"rsync_path" validate:"required"`
	BandwidthLimit string        `koanf:"bandwidth_limit" yaml:"bandwidth_limit,omitempty"`
	ExtraArgs      []string      `koanf:"extra_args" yaml:"extra_args,omitempty"`
}

// TranscodeConfig holds defaults for the transcode command.
type TranscodeConfig struct {
	Bitrate      string `koanf:"bitrate" yaml:"bitrate" validate:"required"`
	AudioBitrate string `koanf:"audio_bitrate" yaml:"audio_bitrate" validate:"required"`
	GPU          bool   `koanf:"gpu" yaml:"gpu"`
	TempDir      string `koanf:"temp_dir" yaml:"temp_dir" validate:"required"`
	Method       string `koanf:"method" yaml:"method" validate:"oneof=sftp scp"`
	DestHost     string `koanf:"dest_host" yaml:"dest_host,omitempty"`
	DestFolder   string `koanf:"dest_folder" yaml:"dest_folder,omitempty"`
	FFmpegPath   string `koanf:"ffmpeg_path" yaml:"ffmpeg_path" validate:"required"`
	FFprobePath  string `koanf:"ffprobe_path" yaml:"ffprobe_path" validate:"required"`
}

// AlertsConfig configures the probes and the Telegram bot.
type AlertsConfig struct {
	Enabled  bool          `koanf:"enabled" yaml:"enabled"`
	Posture  string        `koanf:"posture" yaml:"posture" validate:"oneof=cautious balanced aggressive"`
	Cooldown time.Duration `koanf:"cooldown" yaml:"cooldown" validate:"gt=0"`
	// WANTargets are host:port pairs dialed to decide whether the WAN is up.
	WANTargets []string `koanf:"wan_targets" yaml:"wan_targets" validate:"dive,hostname_port"`
	// SMARTHosts and ContainerHosts are inventory host IDs probed over SSH.
	SMARTHosts     []string `koanf:"smart_hosts" yaml:"smart_hosts,omitempty"`
	ContainerHosts []string `koanf:"container_hosts" yaml:"container_hosts,omitempty"`
	ServiceProbes  bool     `koanf:"service_probes" yaml:"service_probes"`
	// Interval overrides; zero keeps the posture default.
	WANInterval       time.Duration  `koanf:"wan_interval" yaml:"wan_interval,omitempty"`
	ServiceInterval   time.Duration  `koanf:"service_interval" yaml:"service_interval,omitempty"`
	ContainerInterval time.Duration  `koanf:"container_interval" yaml:"container_interval,omitempty"`
	SMARTInterval     time.Duration  `koanf:"smart_interval" yaml:"smart_interval,omitempty"`
	Telegram          TelegramConfig `koanf:"telegram" yaml:"telegram"`
}

// TelegramConfig holds bot credentials. An empty token logs alerts instead.
type TelegramConfig struct {
	BotToken      string `koanf:"bot_token" yaml:"bot_token,omitempty"`
	ChatID        string `koanf:"chat_id" yaml:"chat_id,omitempty"`
	BaseURL       string `koanf:"base_url" yaml:"base_url" validate:"required,url"`
	RatePerMinute int    `koanf:"rate_per_minute" yaml:"rate_per_minute" validate:"min=1"`
}

// Enabled reports whether a bot is configured.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// DefaultConfig returns defaults matching the reference deployment.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./hearth.db"},
		Logging:  LoggingConfig{Level: "info", Format: "console"},
		Server: ServerConfig{
			Addr:             ":9470",
			ReadTimeout:      10 * time.Second,
			WriteTimeout:     30 * time.Second,
			ShutdownTimeout:  10 * time.Second,
			TriggerPerMinute: 6,
		},
		SSH: SSHConfig{
			Port:           22,
			ConnectTimeout: 10 * time.Second,
			CommandTimeout: 30 * time.Second,
		},
		Replication: ReplicationConfig{
			Enabled:   true,
			Schedule:  "03:00",
			Timeout:   8 * time.Hour,
			RsyncPath: "rsync",
		},
		Transcode: TranscodeConfig{
			Bitrate:      "2M",
			AudioBitrate: "192k",
			TempDir:      "/tmp/transcode",
			Method:       "sftp",
			FFmpegPath:   "ffmpeg",
			FFprobePath:  "ffprobe",
		},
		Alerts: AlertsConfig{
			Enabled:       true,
			Posture:       string(PostureBalanced),
			Cooldown:      6 * time.Hour,
			WANTargets:    []string{"1.1.1.1:53", "9.9.9.9:53"},
			ServiceProbes: true,
			Telegram: TelegramConfig{
				BaseURL:       "https://api.telegram.org",
				RatePerMinute: 20,
			},
		},
	}
}

// Load finds the config file (see FindConfigPath) and loads it. An explicit
// path wins over the search. The returned string is the file used, or
// empty when only defaults and environment applied.
func Load(explicitPath string) (*Config, string, error) {
	path := explicitPath
	if path == "" {
		path = FindConfigPath()
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, path, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, path, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, path, fmt.Errorf("load environment: %w", err)
	}

	if err := splitSliceFields(k); err != nil {
		return nil, path, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, path, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, path, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, path, nil
}

// envTransform maps HEARTH_ALERTS__TELEGRAM__CHAT_ID to alerts.telegram.chat_id.
// HEARTH_CONFIG names the file itself and is skipped.
func envTransform(key string) string {
	if key == EnvConfigPath {
		return ""
	}
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

// sliceFields are split on commas when they arrive as a single env string.
var sliceFields = []string{
	"server.cors_origins",
	"ssh.key_files",
	"replication.extra_args",
	"alerts.wan_targets",
	"alerts.smart_hosts",
	"alerts.container_hosts",
}

func splitSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceFields {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}

// Save writes the config as YAML, creating the directory if needed.
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}

// ProbeProfile returns the posture profile with interval overrides applied.
func (c *Config) ProbeProfile() ProbeProfile {
	p := ParsePosture(c.Alerts.Posture).Profile()
	if c.Alerts.WANInterval > 0 {
		p.WANInterval = c.Alerts.WANInterval
	}
	if c.Alerts.ServiceInterval > 0 {
		p.ServiceInterval = c.Alerts.ServiceInterval
	}
	if c.Alerts.ContainerInterval > 0 {
		p.ContainerInterval = c.Alerts.ContainerInterval
	}
	if c.Alerts.SMARTInterval > 0 {
		p.SMARTInterval = c.Alerts.SMARTInterval
	}
	return p
}

// Summary returns a short human-readable description.
func (c *Config) Summary() string {
	p := c.ProbeProfile()
	inv := c.Inventory
	if inv == "" {
		inv = "(built-in)"
	}
	return fmt.Sprintf("inventory=%s db=%s replication=%v@%s alerts=%v posture=%s wan=%s telegram=%v",
		inv, c.Database.Path, c.Replication.Enabled, c.Replication.Schedule,
		c.Alerts.Enabled, c.Alerts.Posture, p.WANInterval, c.Alerts.Telegram.Enabled())
}
