package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full tool configuration, one section per subsystem.
type Config struct {
	Capture   CaptureConfig   `mapstructure:"capture"`
	Filter    FilterConfig    `mapstructure:"filter"`
	Session   SessionConfig   `mapstructure:"session"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Web       WebConfig       `mapstructure:"web"`
	Replay    ReplayConfig    `mapstructure:"replay"`
	Mock      MockConfig      `mapstructure:"mock"`
}

type CaptureConfig struct {
	ListenAddr     string   `mapstructure:"listen_addr" validate:"required,hostname_port"`
	HTTPTarget     string   `mapstructure:"http_target" validate:"omitempty,url"`
	GRPCTarget     string   `mapstructure:"grpc_target" validate:"omitempty,hostname_port"`
	UserHeader     string   `mapstructure:"user_header" validate:"required"`
	RedactPatterns []string `mapstructure:"redact_patterns"`
	MaxMessageSize int      `mapstructure:"max_message_size" validate:"min=0"`
}

type FilterConfig struct {
	NoiseRatio        float64  `mapstructure:"noise_ratio" validate:"gte=0,lte=1"`
	UseDefaults       bool     `mapstructure:"use_defaults"`
	LearnedExclusions []string `mapstructure:"learned_exclusions"`
}

type SessionConfig struct {
	OutputDir string        `mapstructure:"output_dir" validate:"required"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"min=0"`
}

type GeneratorConfig struct {
	Framework    string `mapstructure:"framework" validate:"required,oneof=playwright"`
	OutputDir    string `mapstructure:"output_dir" validate:"required"`
	Service      string `mapstructure:"service"`
	GroupBy      string `mapstructure:"group_by" validate:"oneof=none endpoint session"`
	MaxBodyBytes int    `mapstructure:"max_body_bytes" validate:"min=0"`
	BaseURL      string `mapstructure:"base_url" validate:"omitempty,url"`
}

type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type WebConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" validate:"required,hostname_port"`
}

type ReplayConfig struct {
	HTTPTarget string        `mapstructure:"http_target" validate:"omitempty,url"`
	GRPCTarget string        `mapstructure:"grpc_target" validate:"omitempty,hostname_port"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"min=0"`
	StepDelay  time.Duration `mapstructure:"step_delay" validate:"min=0"`
	Validation string        `mapstructure:"validation" validate:"oneof=status none"`
}

type MockConfig struct {
	ListenAddr string `mapstructure:"listen_addr" validate:"required,hostname_port"`
}

var validate = validator.New()

// LoadConfig reads configuration from the named file, or from the standard
// locations when path is empty. A .env file in the working directory is
// loaded first so SHADOWRUNNER_* variables can come from there; environment
// always overrides file values.
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	if err := ensureConfigDirectory(); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.shadowrunner")
	}

	setDefaults()

	viper.SetEnvPrefix("SHADOWRUNNER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No file found in the search path: defaults plus environment.
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

func ensureConfigDirectory() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get user home directory: %w", err)
	}
	dir := filepath.Join(homeDir, ".shadowrunner")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return nil
}

func setDefaults() {
	homeDir, _ := os.UserHomeDir()
	baseDir := filepath.Join(homeDir, ".shadowrunner")

	viper.SetDefault("capture.listen_addr", "0.0.0.0:8080")
	viper.SetDefault("capture.http_target", "")
	viper.SetDefault("capture.grpc_target", "")
	viper.SetDefault("capture.user_header", "X-User-ID")
	viper.SetDefault("capture.redact_patterns", []string{})
	viper.SetDefault("capture.max_message_size", 64*1024*1024)

	viper.SetDefault("filter.noise_ratio", 0.5)
	viper.SetDefault("filter.use_defaults", true)
	viper.SetDefault("filter.learned_exclusions", []string{})

	viper.SetDefault("session.output_dir", filepath.Join(baseDir, "sessions"))
	viper.SetDefault("session.timeout", 30*time.Minute)

	viper.SetDefault("generator.framework", "playwright")
	viper.SetDefault("generator.output_dir", "generated-tests")
	viper.SetDefault("generator.service", "")
	viper.SetDefault("generator.group_by", "endpoint")
	viper.SetDefault("generator.max_body_bytes", 4096)
	viper.SetDefault("generator.base_url", "")

	viper.SetDefault("archive.enabled", true)
	viper.SetDefault("archive.path", filepath.Join(baseDir, "archive.db"))

	viper.SetDefault("web.enabled", true)
	viper.SetDefault("web.listen_addr", "127.0.0.1:8090")

	viper.SetDefault("replay.http_target", "")
	viper.SetDefault("replay.grpc_target", "")
	viper.SetDefault("replay.timeout", 30*time.Second)
	viper.SetDefault("replay.step_delay", time.Duration(0))
	viper.SetDefault("replay.validation", "status")

	viper.SetDefault("mock.listen_addr", "0.0.0.0:8081")
}

// Validate checks the structural rules. Cross-section requirements, like a
// serve invocation needing at least one upstream target, belong to the
// commands that need them.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// AddLearnedExclusions merges newly learned paths into the filter section,
// keeping the list sorted and free of duplicates. Returns how many paths
// were actually new.
func (c *Config) AddLearnedExclusions(paths []string) int {
	existing := make(map[string]bool, len(c.Filter.LearnedExclusions))
	for _, p := range c.Filter.LearnedExclusions {
		existing[p] = true
	}
	added := 0
	for _, p := range paths {
		if !existing[p] {
			c.Filter.LearnedExclusions = append(c.Filter.LearnedExclusions, p)
			existing[p] = true
			added++
		}
	}
	if added > 0 {
		sort.Strings(c.Filter.LearnedExclusions)
	}
	return added
}

// SaveConfig writes the configuration to path, defaulting to the user
// config location. Keys are set individually; handing viper whole structs
// serializes Go field names instead of the config keys.
func SaveConfig(config *Config, path string) error {
	viper.Set("capture.listen_addr", config.Capture.ListenAddr)
	viper.Set("capture.http_target", config.Capture.HTTPTarget)
	viper.Set("capture.grpc_target", config.Capture.GRPCTarget)
	viper.Set("capture.user_header", config.Capture.UserHeader)
	viper.Set("capture.redact_patterns", config.Capture.RedactPatterns)
	viper.Set("capture.max_message_size", config.Capture.MaxMessageSize)

	viper.Set("filter.noise_ratio", config.Filter.NoiseRatio)
	viper.Set("filter.use_defaults", config.Filter.UseDefaults)
	viper.Set("filter.learned_exclusions", config.Filter.LearnedExclusions)

	viper.Set("session.output_dir", config.Session.OutputDir)
	viper.Set("session.timeout", config.Session.Timeout.String())

	viper.Set("generator.framework", config.Generator.Framework)
	viper.Set("generator.output_dir", config.Generator.OutputDir)
	viper.Set("generator.service", config.Generator.Service)
	viper.Set("generator.group_by", config.Generator.GroupBy)
	viper.Set("generator.max_body_bytes", config.Generator.MaxBodyBytes)
	viper.Set("generator.base_url", config.Generator.BaseURL)

	viper.Set("archive.enabled", config.Archive.Enabled)
	viper.Set("archive.path", config.Archive.Path)

	viper.Set("web.enabled", config.Web.Enabled)
	viper.Set("web.listen_addr", config.Web.ListenAddr)

	viper.Set("replay.http_target", config.Replay.HTTPTarget)
	viper.Set("replay.grpc_target", config.Replay.GRPCTarget)
	viper.Set("replay.timeout", config.Replay.Timeout.String())
	viper.Set("replay.step_delay", config.Replay.StepDelay.String())
	viper.Set("replay.validation", config.Replay.Validation)

	viper.Set("mock.listen_addr", config.Mock.ListenAddr)

	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".shadowrunner", "config.yaml")
	}

	return viper.WriteConfigAs(path)
}
