// Package config provides configuration loading from environment variables
// and the YAML field file.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/streamupload/internal/sink"
)

// Converter names.
const (
	ConverterFFmpeg  = "ffmpeg"
	ConverterImaging = "imaging"
)

// Error is a configuration failure. It is fatal at startup.
type Error struct {
	// Field is the upload field the error is about, if any.
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config: field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrInvalidValue is wrapped by validation failures of environment values.
var ErrInvalidValue = errors.New("invalid value")

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8080" json:"port" validate:"min=1,max=65535"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`

	// Output settings
	OutputDir   string `env:"OUTPUT_DIR, default=uploads" json:"output_dir" validate:"required"`
	ProjectRoot string `env:"PROJECT_ROOT" json:"project_root,omitempty"`

	// Staging settings
	TempDir        string `env:"TEMP_DIR" json:"temp_dir,omitempty"`
	MaxFileSize    int64  `env:"MAX_FILE_SIZE, default=52428800" json:"max_file_size" validate:"min=1"`
	SpillThreshold int64  `env:"SPILL_THRESHOLD, default=5242880" json:"spill_threshold" validate:"min=0"`
	BackupEnabled  bool   `env:"BACKUP_ENABLED, default=false" json:"backup_enabled"`

	// Conversion settings
	Converter  string `env:"CONVERTER, default=ffmpeg" json:"converter" validate:"oneof=ffmpeg imaging"`
	FFmpegPath string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`

	// Field configuration
	FieldsFile string `env:"FIELDS_FILE, default=fields.yaml" json:"fields_file" validate:"required"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format" validate:"oneof=text json"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`                                    // "debug", "info", "warn", "error"
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	return LoadWith(context.Background(), envconfig.OsLookuper())
}

// LoadWith reads configuration through lookuper.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, &Error{Err: err}
	}
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	cfg.Converter = strings.ToLower(cfg.Converter)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the environment values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			v := verrs[0]
			return &Error{Err: fmt.Errorf("%w: %s failed %q", ErrInvalidValue, v.Field(), v.Tag())}
		}
		return &Error{Err: err}
	}
	if err := sink.CheckDir(c.OutputDir); err != nil {
		return &Error{Err: err}
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config. Credentials live
// in the field file and are never part of it.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, OutputDir: %s, ProjectRoot: %s, TempDir: %s, MaxFileSize: %d, SpillThreshold: %d, BackupEnabled: %t, Converter: %s, FieldsFile: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.OutputDir,
		c.ProjectRoot,
		c.TempDir,
		c.MaxFileSize,
		c.SpillThreshold,
		c.BackupEnabled,
		c.Converter,
		c.FieldsFile,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
