// Package config loads imageinsight settings from an optional YAML file and
// the process environment, and validates them before anything starts.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix  = "IMAGEINSIGHT"
	dotenvFile = ".env"
)

// Config is the root configuration.
type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
	Chat     ChatConfig     `mapstructure:"chat" yaml:"chat"`
	Vision   VisionConfig   `mapstructure:"vision" yaml:"vision"`
	Backend  BackendConfig  `mapstructure:"backend" yaml:"backend"`
	Images   ImagesConfig   `mapstructure:"images" yaml:"images"`
	Context  ContextConfig  `mapstructure:"context" yaml:"context"`
	Messages MessagesConfig `mapstructure:"messages" yaml:"messages"`
	Dispatch DispatchConfig `mapstructure:"dispatch" yaml:"dispatch"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Journal  JournalConfig  `mapstructure:"journal" yaml:"journal"`
}

type TelegramConfig struct {
	Token       string `mapstructure:"token" yaml:"token" validate:"required"`
	ParseMode   string `mapstructure:"parse_mode" yaml:"parse_mode" validate:"omitempty,oneof=Markdown MarkdownV2 HTML"`
	PollTimeout int    `mapstructure:"poll_timeout" yaml:"poll_timeout" validate:"min=0,max=60"`
}

type ChatConfig struct {
	Provider     string  `mapstructure:"provider" yaml:"provider" validate:"oneof=groq openai gemini"`
	APIKey       string  `mapstructure:"api_key" yaml:"api_key" validate:"required"`
	BaseURL      string  `mapstructure:"base_url" yaml:"base_url" validate:"omitempty,url"`
	Model        string  `mapstructure:"model" yaml:"model" validate:"required"`
	Temperature  float32 `mapstructure:"temperature" yaml:"temperature" validate:"min=0,max=2"`
	MaxTokens    int     `mapstructure:"max_tokens" yaml:"max_tokens" validate:"min=1"`
	TopP         float32 `mapstructure:"top_p" yaml:"top_p" validate:"min=0,max=1"`
	SystemPrompt string  `mapstructure:"system_prompt" yaml:"system_prompt" validate:"required"`
}

type VisionConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider" validate:"oneof=ollama gemini"`
	BaseURL  string `mapstructure:"base_url" yaml:"base_url" validate:"omitempty,url"`
	Model    string `mapstructure:"model" yaml:"model" validate:"required"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key" validate:"required_if=Provider gemini"`
}

type BackendConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"min=1s,max=30m"`
}

type ImagesConfig struct {
	Dir       string `mapstructure:"dir" yaml:"dir" validate:"required"`
	Extension string `mapstructure:"extension" yaml:"extension" validate:"required,startswith=."`
}

type ContextConfig struct {
	Scope string `mapstructure:"scope" yaml:"scope" validate:"oneof=global chat"`
}

type MessagesConfig struct {
	Welcome             string `mapstructure:"welcome" yaml:"welcome" validate:"required"`
	Help                string `mapstructure:"help" yaml:"help" validate:"required"`
	DescribeInstruction string `mapstructure:"describe_instruction" yaml:"describe_instruction" validate:"required"`
	PhotoReply          string `mapstructure:"photo_reply" yaml:"photo_reply" validate:"required"`
	TextError           string `mapstructure:"text_error" yaml:"text_error" validate:"required"`
	PhotoError          string `mapstructure:"photo_error" yaml:"photo_error" validate:"required"`
}

type DispatchConfig struct {
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency" validate:"min=1,max=64"`
	Buffer      int `mapstructure:"buffer" yaml:"buffer" validate:"min=1"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
	File   string `mapstructure:"file" yaml:"file,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr" validate:"required_if=Enabled true"`
	Path    string `mapstructure:"path" yaml:"path" validate:"required_if=Enabled true"`
}

type JournalConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	DBPath        string `mapstructure:"db_path" yaml:"db_path" validate:"required_if=Enabled true"`
	RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days" validate:"min=0"`
	PruneSchedule string `mapstructure:"prune_schedule" yaml:"prune_schedule"`
}

// DefaultConfigDir returns the default config directory (~/.imageinsight).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".imageinsight"
	}
	return filepath.Join(home, ".imageinsight")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// envAliases binds config keys to the variable names the bot has always
// read, in addition to the IMAGEINSIGHT_* form.
var envAliases = map[string][]string{
	"telegram.token": {"TELEGRAM_API_TOKEN"},
	"chat.api_key":   {"GROQ_API_KEY", "OPENAI_API_KEY"},
	"vision.api_key": {"GEMINI_API_KEY"},
}

// Load reads the config file (if any), applies defaults and environment
// overrides, and validates the result. Variables from a .env file in the
// working directory are exported first; they never replace variables that
// are already set. skip lists struct fields, in
// "Section.Field" form, that the caller does not need (the CLI REPL does not
// need a Telegram token). An explicitly given path that does not exist is an
// error; when path is empty the default locations are tried and missing
// files are ignored.
func Load(path string, skip ...string) (*Config, error) {
	if err := loadDotenv(dotenvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		args := append([]string{key, envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := readConfigFile(v, path); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("cannot decode config: %w", err)
	}

	cfg.Images.Dir = ExpandPath(cfg.Images.Dir)
	cfg.Journal.DBPath = ExpandPath(cfg.Journal.DBPath)
	cfg.Logging.File = ExpandPath(cfg.Logging.File)

	if err := Validate(cfg, skip...); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// loadDotenv exports KEY=VALUE pairs from path into the process environment,
// skipping keys that are already set. A missing file is not an error.
func loadDotenv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	dv := viper.New()
	dv.SetConfigFile(path)
	dv.SetConfigType("env")
	if err := dv.ReadInConfig(); err != nil {
		return fmt.Errorf("cannot read %s: %w", path, err)
	}
	for _, key := range dv.AllKeys() {
		name := strings.ToUpper(key)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, dv.GetString(key)); err != nil {
			return fmt.Errorf("export %s: %w", name, err)
		}
	}
	return nil
}

func readConfigFile(v *viper.Viper, path string) error {
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(ExpandPath(path))
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("cannot read config file %s: %w", path, err)
		}
		return nil
	}

	candidate, ok := findConfigFile()
	if !ok {
		return nil
	}
	v.SetConfigFile(candidate)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("cannot read config file %s: %w", candidate, err)
	}
	return nil
}

func findConfigFile() (string, bool) {
	for _, candidate := range []string{"imageinsight.yaml", DefaultConfigPath()} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}
	return "", false
}

// ResolvePath returns the file Load would read for path, falling back to
// DefaultConfigPath when no file exists yet.
func ResolvePath(path string) string {
	if path != "" {
		return ExpandPath(path)
	}
	if candidate, ok := findConfigFile(); ok {
		return candidate
	}
	return DefaultConfigPath()
}

// Validate checks struct tags. Fields named in skip are not checked.
func Validate(cfg *Config, skip ...string) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	var err error
	if len(skip) > 0 {
		err = validate.StructExcept(cfg, skip...)
	} else {
		err = validate.Struct(cfg)
	}
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("config validation errors:\n  - %s", strings.Join(msgs, "\n  - "))
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required", "required_if":
		if hint, ok := requiredHints[field]; ok {
			return fmt.Sprintf("%s is required (%s)", field, hint)
		}
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %q (%s)", field, fe.Tag(), fe.Param())
	}
}

var requiredHints = map[string]string{
	"Telegram.Token": "set TELEGRAM_API_TOKEN",
	"Chat.APIKey":    "set GROQ_API_KEY",
	"Vision.APIKey":  "set GEMINI_API_KEY",
}

// Save writes cfg as YAML, creating the parent directory.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Sanitize returns a copy with secrets masked, for display.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.Telegram.Token = mask(cfg.Telegram.Token)
	out.Chat.APIKey = mask(cfg.Chat.APIKey)
	out.Vision.APIKey = mask(cfg.Vision.APIKey)
	return &out
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****" + secret[len(secret)-4:]
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
