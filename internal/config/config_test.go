package config

import (
	"context"
	"log/slog"
	"testing"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/streamupload/internal/sink"
)

func loadMap(t *testing.T, env map[string]string) (*Config, error) {
	t.Helper()
	return LoadWith(context.Background(), envconfig.MapLookuper(env))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadMap(t, nil)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, "uploads", cfg.OutputDir)
	assert.Empty(t, cfg.ProjectRoot)
	assert.Empty(t, cfg.TempDir)
	assert.Equal(t, int64(50<<20), cfg.MaxFileSize)
	assert.Equal(t, int64(5<<20), cfg.SpillThreshold)
	assert.False(t, cfg.BackupEnabled)
	assert.Equal(t, ConverterFFmpeg, cfg.Converter)
	assert.Equal(t, "ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, "fields.yaml", cfg.FieldsFile)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_CustomValues(t *testing.T) {
	cfg, err := loadMap(t, map[string]string{
		"PORT":            "9090",
		"ALLOWED_ORIGINS": "https://a.example,https://b.example",
		"OUTPUT_DIR":      "/srv/out",
		"PROJECT_ROOT":    "/srv",
		"TEMP_DIR":        "/tmp/staging",
		"MAX_FILE_SIZE":   "1024",
		"SPILL_THRESHOLD": "0",
		"BACKUP_ENABLED":  "true",
		"CONVERTER":       "Imaging",
		"FIELDS_FILE":     "/etc/fields.yaml",
		"LOG_FORMAT":      "JSON",
		"LOG_LEVEL":       "debug",
	})
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "/srv/out", cfg.OutputDir)
	assert.Equal(t, "/srv", cfg.ProjectRoot)
	assert.Equal(t, "/tmp/staging", cfg.TempDir)
	assert.Equal(t, int64(1024), cfg.MaxFileSize)
	assert.Equal(t, int64(0), cfg.SpillThreshold)
	assert.True(t, cfg.BackupEnabled)
	assert.Equal(t, ConverterImaging, cfg.Converter)
	assert.Equal(t, "/etc/fields.yaml", cfg.FieldsFile)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("BACKUP_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
	assert.True(t, cfg.BackupEnabled)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"non numeric port", map[string]string{"PORT": "not-a-number"}},
		{"port out of range", map[string]string{"PORT": "70000"}},
		{"non numeric max size", map[string]string{"MAX_FILE_SIZE": "big"}},
		{"zero max size", map[string]string{"MAX_FILE_SIZE": "0"}},
		{"negative threshold", map[string]string{"SPILL_THRESHOLD": "-1"}},
		{"unknown converter", map[string]string{"CONVERTER": "magick"}},
		{"unknown log format", map[string]string{"LOG_FORMAT": "xml"}},
		{"bad boolean", map[string]string{"BACKUP_ENABLED": "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadMap(t, tt.env)
			require.Error(t, err)

			var cerr *Error
			assert.ErrorAs(t, err, &cerr)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:        8080,
			OutputDir:   "uploads",
			MaxFileSize: 1,
			Converter:   ConverterImaging,
			FieldsFile:  "fields.yaml",
			LogFormat:   "text",
		}
	}

	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("missing output dir", func(t *testing.T) {
		cfg := valid()
		cfg.OutputDir = ""
		err := cfg.Validate()
		assert.ErrorIs(t, err, ErrInvalidValue)
		assert.Contains(t, err.Error(), "OutputDir")
	})

	t.Run("unknown converter", func(t *testing.T) {
		cfg := valid()
		cfg.Converter = "magick"
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidValue)
	})

	t.Run("output dir above project root", func(t *testing.T) {
		cfg := valid()
		cfg.OutputDir = "/../shared"
		err := cfg.Validate()
		var cerr *Error
		assert.ErrorAs(t, err, &cerr)
		assert.ErrorIs(t, err, sink.ErrOutsideRoot)
	})
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, "config: invalid value", (&Error{Err: ErrInvalidValue}).Error())
	assert.Equal(t, `config: field "avatar": invalid value`, (&Error{Field: "avatar", Err: ErrInvalidValue}).Error())
}

func TestConfig_String(t *testing.T) {
	cfg := &Config{
		Port:           8080,
		OutputDir:      "/srv/out",
		TempDir:        "/tmp/test",
		SpillThreshold: 4096,
		Converter:      ConverterFFmpeg,
		LogFormat:      "json",
		LogLevel:       "info",
	}

	str := cfg.String()

	assert.Contains(t, str, "8080")
	assert.Contains(t, str, "/srv/out")
	assert.Contains(t, str, "/tmp/test")
	assert.Contains(t, str, "4096")
}

func TestConfig_NewLogger_JSON(t *testing.T) {
	cfg := &Config{
		LogFormat: "json",
		LogLevel:  "info",
	}

	logger := cfg.NewLogger()
	require.NotNil(t, logger)
	_, ok := logger.Handler().(*slog.JSONHandler)
	assert.True(t, ok)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestConfig_NewLogger_Text(t *testing.T) {
	cfg := &Config{
		LogFormat: "text",
		LogLevel:  "debug",
	}

	logger := cfg.NewLogger()
	require.NotNil(t, logger)
	_, ok := logger.Handler().(*slog.TextHandler)
	assert.True(t, ok)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}
