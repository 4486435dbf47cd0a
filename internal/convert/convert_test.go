package convert

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPNG encodes a small gradient image as PNG.
func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input string
		want  Format
		ok    bool
	}{
		{"webp", WebP, true},
		{"JPEG", JPEG, true},
		{"jpg", JPEG, true},
		{" png ", PNG, true},
		{"tif", TIFF, true},
		{"avif", AVIF, true},
		{"heic", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseFormat(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatFromContentType(t *testing.T) {
	tests := []struct {
		contentType string
		want        Format
		ok          bool
	}{
		{"image/jpeg", JPEG, true},
		{"image/jpg", JPEG, true},
		{"IMAGE/PNG", PNG, true},
		{"image/webp; charset=binary", WebP, true},
		{"image/x-ms-bmp", BMP, true},
		{"image/svg+xml", "", false},
		{"application/pdf", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			got, ok := FormatFromContentType(tt.contentType)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsImage(t *testing.T) {
	assert.True(t, IsImage("image/png"))
	assert.True(t, IsImage("image/svg+xml"))
	assert.False(t, IsImage("application/pdf"))
	assert.False(t, IsImage(""))
}

func TestFormat_ContentTypeAndExtension(t *testing.T) {
	assert.Equal(t, "image/webp", WebP.ContentType())
	assert.Equal(t, ".webp", WebP.Extension())
	assert.Equal(t, ".jpg", JPEG.Extension())
}

func TestImagingConverter_Support(t *testing.T) {
	c := NewImagingConverter()

	assert.True(t, c.CanDecode("image/png"))
	assert.True(t, c.CanDecode("image/webp"))
	assert.False(t, c.CanDecode("image/avif"))
	assert.False(t, c.CanDecode("text/plain"))

	assert.True(t, c.CanEncode(JPEG))
	assert.False(t, c.CanEncode(WebP))
}

func TestImagingConverter_Convert(t *testing.T) {
	c := NewImagingConverter()
	src := testPNG(t, 64, 48)

	out, err := c.Convert(context.Background(), bytes.NewReader(src), Options{Format: JPEG, Quality: 70})
	require.NoError(t, err)
	defer func() { _ = out.Close() }()

	data, err := io.ReadAll(out)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	img, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())
}

func TestImagingConverter_Errors(t *testing.T) {
	c := NewImagingConverter()
	ctx := context.Background()

	t.Run("undecodable input", func(t *testing.T) {
		out, err := c.Convert(ctx, bytes.NewReader([]byte("definitely not an image")), Options{Format: PNG, Quality: 80})
		require.NoError(t, err)
		defer func() { _ = out.Close() }()

		_, err = io.ReadAll(out)
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("unsupported target", func(t *testing.T) {
		_, err := c.Convert(ctx, bytes.NewReader(testPNG(t, 4, 4)), Options{Format: WebP, Quality: 80})
		assert.ErrorIs(t, err, ErrUnsupportedTarget)
	})

	t.Run("invalid quality", func(t *testing.T) {
		_, err := c.Convert(ctx, bytes.NewReader(testPNG(t, 4, 4)), Options{Format: JPEG, Quality: 0})
		assert.ErrorIs(t, err, ErrInvalidQuality)
	})

	t.Run("source read error", func(t *testing.T) {
		sourceErr := io.ErrUnexpectedEOF
		out, err := c.Convert(ctx, io.MultiReader(bytes.NewReader([]byte{0x89, 'P'}), errReader{sourceErr}), Options{Format: PNG, Quality: 80})
		require.NoError(t, err)
		defer func() { _ = out.Close() }()

		_, err = io.ReadAll(out)
		assert.Error(t, err)
	})
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }
