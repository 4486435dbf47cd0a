// Package convert provides streaming image format conversion.
// It defines the Converter interface (port) and implementations backed by
// the ffmpeg CLI and by the pure-Go imaging library.
package convert

import (
	"context"
	"errors"
	"io"
	"mime"
	"strings"
)

// DefaultQuality is used when a field enables conversion without a quality.
const DefaultQuality = 80

// Static errors for conversion.
var (
	// ErrUnsupportedFormat is returned when the input cannot be decoded.
	ErrUnsupportedFormat = errors.New("unsupported input format")
	// ErrUnsupportedTarget is returned when the target format cannot be encoded.
	ErrUnsupportedTarget = errors.New("unsupported target format")
	// ErrInvalidQuality is returned when quality is outside [1,100].
	ErrInvalidQuality = errors.New("invalid quality: must be between 1 and 100")
)

// Format is an image format name such as "webp".
type Format string

// Known image formats.
const (
	JPEG Format = "jpeg"
	PNG  Format = "png"
	GIF  Format = "gif"
	TIFF Format = "tiff"
	BMP  Format = "bmp"
	WebP Format = "webp"
	AVIF Format = "avif"
)

type formatInfo struct {
	contentType string
	extension   string
}

var formats = map[Format]formatInfo{
	JPEG: {"image/jpeg", ".jpg"},
	PNG:  {"image/png", ".png"},
	GIF:  {"image/gif", ".gif"},
	TIFF: {"image/tiff", ".tiff"},
	BMP:  {"image/bmp", ".bmp"},
	WebP: {"image/webp", ".webp"},
	AVIF: {"image/avif", ".avif"},
}

// aliases maps alternative names and content subtypes to formats.
var aliases = map[string]Format{
	"jpg":      JPEG,
	"pjpeg":    JPEG,
	"tif":      TIFF,
	"x-ms-bmp": BMP,
	"x-bmp":    BMP,
}

// ParseFormat resolves a format name, accepting common aliases like "jpg".
func ParseFormat(s string) (Format, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if f, ok := aliases[s]; ok {
		return f, true
	}
	if _, ok := formats[Format(s)]; ok {
		return Format(s), true
	}
	return "", false
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	return formats[f].contentType
}

// Extension returns the file extension for f, including the dot.
func (f Format) Extension() string {
	return formats[f].extension
}

// mediaType strips parameters and lowercases a declared content type.
func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

// IsImage reports whether contentType declares an image.
func IsImage(contentType string) bool {
	return strings.HasPrefix(mediaType(contentType), "image/")
}

// FormatFromContentType maps a declared image content type to a Format.
func FormatFromContentType(contentType string) (Format, bool) {
	mt := mediaType(contentType)
	sub, ok := strings.CutPrefix(mt, "image/")
	if !ok {
		return "", false
	}
	return ParseFormat(sub)
}

// Options selects the output of a conversion.
type Options struct {
	Format  Format
	Quality int
}

// validate checks the options against the encoder set of a converter.
func (o Options) validate(c Converter) error {
	if !c.CanEncode(o.Format) {
		return ErrUnsupportedTarget
	}
	if o.Quality < 1 || o.Quality > 100 {
		return ErrInvalidQuality
	}
	return nil
}

// Converter transcodes an image stream into another format.
type Converter interface {
	// CanDecode reports whether input declared as contentType can be converted.
	CanDecode(contentType string) bool

	// CanEncode reports whether f is a supported target format.
	CanEncode(f Format) bool

	// Convert starts converting src and returns the converted stream.
	// Conversion errors surface from Read on the returned stream; an input
	// that cannot be decoded yields an error wrapping ErrUnsupportedFormat.
	// The caller must Close the stream, which stops any work still running.
	Convert(ctx context.Context, src io.Reader, opts Options) (io.ReadCloser, error)
}
