package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Compile-time check that FFmpegConverter implements Converter.
var _ Converter = (*FFmpegConverter)(nil)

// waitDelay bounds how long Wait blocks on I/O after the process exits.
const waitDelay = 5 * time.Second

// stderrLimit caps the captured ffmpeg diagnostics.
const stderrLimit = 16 << 10

// decodeFailureMarkers are stderr fragments ffmpeg prints when it cannot
// identify or decode its input.
var decodeFailureMarkers = []string{
	"Invalid data found when processing input",
	"could not find codec parameters",
	"Could not find codec parameters",
	"no decoder found",
}

var ffmpegDecoders = map[Format]bool{
	JPEG: true,
	PNG:  true,
	GIF:  true,
	TIFF: true,
	BMP:  true,
	WebP: true,
	AVIF: true,
}

var ffmpegEncoders = map[Format]string{
	JPEG: "mjpeg",
	PNG:  "png",
	GIF:  "gif",
	TIFF: "tiff",
	BMP:  "bmp",
	WebP: "libwebp",
}

// FFmpegConverter implements Converter using the ffmpeg CLI. The input is
// piped to ffmpeg's stdin and the converted image is streamed from stdout.
type FFmpegConverter struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
}

// NewFFmpegConverter creates a new FFmpegConverter.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegConverter(ffmpegPath string) *FFmpegConverter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegConverter{ffmpegPath: ffmpegPath}
}

// CanDecode reports whether contentType is a decodable image type.
func (c *FFmpegConverter) CanDecode(contentType string) bool {
	f, ok := FormatFromContentType(contentType)
	return ok && ffmpegDecoders[f]
}

// CanEncode reports whether f can be produced.
func (c *FFmpegConverter) CanEncode(f Format) bool {
	_, ok := ffmpegEncoders[f]
	return ok
}

// Convert starts ffmpeg and returns its stdout as the converted stream.
func (c *FFmpegConverter) Convert(ctx context.Context, src io.Reader, opts Options) (io.ReadCloser, error) {
	if err := opts.validate(c); err != nil {
		return nil, fmt.Errorf("%w: %s", err, opts.Format)
	}

	args := buildArgs(opts)

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)
	cmd.Stdin = src
	cmd.WaitDelay = waitDelay

	stderr := &limitedBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	return &ffmpegStream{
		ctx:    ctx,
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		args:   args,
	}, nil
}

// buildArgs returns the ffmpeg arguments for a single-frame image transcode.
func buildArgs(opts Options) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0", // Input from stdin
		"-frames:v", "1", // Single frame (image)
		"-c:v", ffmpegEncoders[opts.Format],
	}

	switch opts.Format {
	case JPEG:
		args = append(args, "-q:v", strconv.Itoa(jpegScale(opts.Quality)))
	case WebP:
		args = append(args, "-quality", strconv.Itoa(opts.Quality))
	}

	return append(args,
		"-f", "image2pipe", // Raw image bytes on stdout
		"pipe:1",
	)
}

// jpegScale maps quality 1..100 to ffmpeg's mjpeg qscale 31..2.
func jpegScale(quality int) int {
	return 2 + (100-quality)*29/99
}

// ffmpegStream reads converted bytes from a running ffmpeg process. The
// process exit status is checked when stdout reaches EOF, so a failed
// conversion surfaces as a Read error rather than a truncated image.
type ffmpegStream struct {
	ctx    context.Context
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *limitedBuffer
	args   []string

	once    sync.Once
	waitErr error
}

func (s *ffmpegStream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if errors.Is(err, io.EOF) {
		if werr := s.wait(); werr != nil {
			return n, werr
		}
	}
	return n, err
}

// Close stops ffmpeg if it is still running and reaps it.
func (s *ffmpegStream) Close() error {
	var killed bool
	s.once.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.cmd.Wait()
		killed = true
	})
	if killed {
		return nil
	}
	return s.waitErr
}

func (s *ffmpegStream) wait() error {
	s.once.Do(func() {
		err := s.cmd.Wait()
		if err == nil {
			return
		}
		if s.ctx.Err() != nil {
			s.waitErr = fmt.Errorf("ffmpeg cancelled: %w", s.ctx.Err())
			return
		}
		ffErr := &FFmpegError{
			Args:   s.args,
			Stderr: s.stderr.String(),
			Err:    err,
		}
		if isDecodeFailure(ffErr.Stderr) {
			s.waitErr = fmt.Errorf("%w: %w", ErrUnsupportedFormat, ffErr)
			return
		}
		s.waitErr = ffErr
	})
	return s.waitErr
}

func isDecodeFailure(stderr string) bool {
	for _, marker := range decodeFailureMarkers {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// limitedBuffer keeps the first limit bytes written to it.
type limitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
