package convert

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // register the webp decoder with image.Decode
)

// Compile-time check that ImagingConverter implements Converter.
var _ Converter = (*ImagingConverter)(nil)

var imagingDecoders = map[Format]bool{
	JPEG: true,
	PNG:  true,
	GIF:  true,
	TIFF: true,
	BMP:  true,
	WebP: true,
}

var imagingEncoders = map[Format]imaging.Format{
	JPEG: imaging.JPEG,
	PNG:  imaging.PNG,
	GIF:  imaging.GIF,
	TIFF: imaging.TIFF,
	BMP:  imaging.BMP,
}

// ImagingConverter converts images in-process with disintegration/imaging.
// It needs no external binary but cannot encode webp or avif.
type ImagingConverter struct{}

// NewImagingConverter creates a new ImagingConverter.
func NewImagingConverter() *ImagingConverter {
	return &ImagingConverter{}
}

// CanDecode reports whether contentType is a decodable image type.
func (c *ImagingConverter) CanDecode(contentType string) bool {
	f, ok := FormatFromContentType(contentType)
	return ok && imagingDecoders[f]
}

// CanEncode reports whether f can be produced.
func (c *ImagingConverter) CanEncode(f Format) bool {
	_, ok := imagingEncoders[f]
	return ok
}

// Convert decodes src and streams the re-encoded image through a pipe.
// Decoding needs the whole input; encoding streams as it goes.
func (c *ImagingConverter) Convert(ctx context.Context, src io.Reader, opts Options) (io.ReadCloser, error) {
	if err := opts.validate(c); err != nil {
		return nil, fmt.Errorf("%w: %s", err, opts.Format)
	}

	pr, pw := io.Pipe()
	go func() {
		img, err := imaging.Decode(src, imaging.AutoOrientation(true))
		if err != nil {
			if errors.Is(err, image.ErrFormat) {
				err = fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
			}
			_ = pw.CloseWithError(fmt.Errorf("decode image: %w", err))
			return
		}
		if err := ctx.Err(); err != nil {
			_ = pw.CloseWithError(fmt.Errorf("context cancelled: %w", err))
			return
		}

		err = imaging.Encode(pw, img, imagingEncoders[opts.Format], imaging.JPEGQuality(opts.Quality))
		if err != nil {
			err = fmt.Errorf("encode %s: %w", opts.Format, err)
		}
		_ = pw.CloseWithError(err)
	}()

	return pr, nil
}
