package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/maauso/streamupload/internal/convert"
	"github.com/maauso/streamupload/internal/sink"
	"github.com/maauso/streamupload/internal/storage"
)

// Static errors for field configuration.
var (
	// ErrNoFields is returned when the field file declares no field.
	ErrNoFields = errors.New("no upload fields configured")
	// ErrDuplicateField is returned when two fields share a name.
	ErrDuplicateField = errors.New("duplicate field name")
	// ErrUnknownFormat is returned for a target format that is not an image format.
	ErrUnknownFormat = errors.New("unknown image format")
	// ErrFormatNotEncodable is returned when the converter cannot produce the format.
	ErrFormatNotEncodable = errors.New("format not supported by converter")
	// ErrRemoteRequired is returned for a remote output without remote settings.
	ErrRemoteRequired = errors.New("remote output requires remote settings")
)

// Output kinds accepted in the field file.
const (
	OutputMemory = "memory"
	OutputDisk   = "disk"
	OutputRemote = "remote"
)

// RemoteConfig configures a remote destination.
type RemoteConfig struct {
	Provider        string        `yaml:"provider" validate:"required,oneof=s3 minio"`
	Bucket          string        `yaml:"bucket" validate:"required"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	UseSSL          bool          `yaml:"use_ssl"`
	Prefix          string        `yaml:"prefix"`
	PresignTTL      time.Duration `yaml:"presign_ttl"`
}

// Storage returns the provider configuration.
func (r RemoteConfig) Storage() storage.Config {
	return storage.Config{
		Provider:        r.Provider,
		Bucket:          r.Bucket,
		Region:          r.Region,
		Endpoint:        r.Endpoint,
		AccessKeyID:     r.AccessKeyID,
		SecretAccessKey: r.SecretAccessKey,
		UseSSL:          r.UseSSL,
		PresignTTL:      r.PresignTTL,
	}
}

// String masks credentials.
func (r RemoteConfig) String() string {
	return fmt.Sprintf("Remote{Provider: %s, Bucket: %s, Region: %s, Endpoint: %s, AccessKeyID: %s, Prefix: %s}",
		r.Provider, r.Bucket, r.Region, r.Endpoint, mask(r.AccessKeyID), r.Prefix)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}

// FieldConfig configures one upload field.
type FieldConfig struct {
	Name              string        `yaml:"name" validate:"required"`
	Output            string        `yaml:"output" validate:"required,oneof=memory disk remote"`
	Format            string        `yaml:"format"`
	Quality           int           `yaml:"quality" validate:"omitempty,min=1,max=100"`
	KeepOriginal      bool          `yaml:"keep_original"`
	RequireConversion bool          `yaml:"require_conversion"`
	Backup            *bool         `yaml:"backup"`
	Directory         string        `yaml:"directory"`
	Remote            *RemoteConfig `yaml:"remote"`
}

// BackupEnabled resolves the field's backup flag against the global default.
func (f FieldConfig) BackupEnabled(global bool) bool {
	if f.Backup != nil {
		return *f.Backup
	}
	return global
}

// TargetFormat returns the parsed conversion target, or "" when the field
// keeps the original format.
func (f FieldConfig) TargetFormat() convert.Format {
	if f.Format == "" {
		return ""
	}
	format, _ := convert.ParseFormat(f.Format)
	return format
}

// fieldsFile is the layout of the field file.
type fieldsFile struct {
	Fields []FieldConfig `yaml:"fields"`
}

// LoadFields reads and validates the field file at path.
func LoadFields(path string, canEncode func(convert.Format) bool) ([]FieldConfig, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from trusted configuration
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("read fields file: %w", err)}
	}
	return ParseFields(data, canEncode)
}

// ParseFields decodes and validates a field document. canEncode reports
// whether the active converter can produce a format; nil accepts all.
func ParseFields(data []byte, canEncode func(convert.Format) bool) ([]FieldConfig, error) {
	var doc fieldsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, &Error{Err: fmt.Errorf("parse fields file: %w", err)}
	}

	if len(doc.Fields) == 0 {
		return nil, &Error{Err: ErrNoFields}
	}
	if err := ValidateFields(doc.Fields, canEncode); err != nil {
		return nil, err
	}
	return doc.Fields, nil
}

// ValidateFields checks every field and the set as a whole.
func ValidateFields(fields []FieldConfig, canEncode func(convert.Format) bool) error {
	v := validator.New()
	seen := make(map[string]bool, len(fields))

	for i := range fields {
		f := &fields[i]
		f.Output = strings.ToLower(strings.TrimSpace(f.Output))
		if f.Remote != nil {
			f.Remote.Provider = strings.ToLower(strings.TrimSpace(f.Remote.Provider))
		}

		if seen[f.Name] {
			return &Error{Field: f.Name, Err: ErrDuplicateField}
		}
		seen[f.Name] = true

		if err := validateField(v, f, canEncode); err != nil {
			return &Error{Field: f.Name, Err: err}
		}
	}
	return nil
}

func validateField(v *validator.Validate, f *FieldConfig, canEncode func(convert.Format) bool) error {
	if err := v.Struct(f); err != nil {
		return describe(err)
	}

	if f.Format != "" {
		format, ok := convert.ParseFormat(f.Format)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownFormat, f.Format)
		}
		if canEncode != nil && !canEncode(format) {
			return fmt.Errorf("%w: %s", ErrFormatNotEncodable, format)
		}
	}

	if f.Output == OutputDisk {
		return sink.CheckDir(f.Directory)
	}
	if f.Output != OutputRemote {
		return nil
	}
	if f.Remote == nil {
		return ErrRemoteRequired
	}
	if err := v.Struct(f.Remote); err != nil {
		return describe(err)
	}
	if err := storage.Validate(f.Remote.Storage()); err != nil {
		return fmt.Errorf("remote: %w", err)
	}
	return nil
}

// describe turns validator errors into a short message.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: %s failed %q", ErrInvalidValue, strings.ToLower(fe.Field()), fe.Tag())
	}
	return err
}
