package channel

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/jmylchreest/tvplay/internal/models"
	"github.com/jmylchreest/tvplay/internal/urlutil"
)

// Loader defaults.
const (
	DefaultFetchTimeout    = 30 * time.Second
	DefaultMaxPlaylistSize = 64 << 20
	DefaultUserAgent       = "tvplay/1.0"

	acceptEncoding = "gzip, deflate, br"
)

var (
	// ErrFetch is returned when a remote playlist cannot be retrieved.
	ErrFetch = errors.New("fetching playlist")
	// ErrPlaylistTooLarge is returned when a playlist exceeds the size limit.
	ErrPlaylistTooLarge = errors.New("playlist exceeds maximum size")
)

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	// Client is used for remote playlists. Nil creates one with Timeout.
	Client *http.Client
	// Timeout bounds a remote fetch when Client is nil.
	Timeout time.Duration
	// UserAgent is sent with remote requests.
	UserAgent string
	// MaxSize bounds the bytes read after transfer decoding. 0 uses the default.
	MaxSize int64
	Logger  *slog.Logger
}

// Loader reads playlists from local paths, file:// URLs or http(s) URLs.
type Loader struct {
	client    *http.Client
	userAgent string
	maxSize   int64
	logger    *slog.Logger
}

// NewLoader creates a Loader.
func NewLoader(opts LoaderOptions) *Loader {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFetchTimeout
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxPlaylistSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Loader{
		client:    opts.Client,
		userAgent: opts.UserAgent,
		maxSize:   opts.MaxSize,
		logger:    opts.Logger.With(slog.String("component", "channel_loader")),
	}
}

// Load reads and parses the playlist at source.
func (l *Loader) Load(ctx context.Context, source string) ([]models.Target, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("playlist source is required")
	}

	start := time.Now()
	body, err := l.open(ctx, source)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var skipped int
	var targets []models.Target
	p := &Parser{
		OnTarget: func(t models.Target) error {
			targets = append(targets, t)
			return nil
		},
		OnError: func(lineNum int, err error) {
			skipped++
			l.logger.Debug("skipping playlist line",
				slog.Int("line", lineNum),
				slog.String("error", err.Error()),
			)
		},
	}
	if err := p.ParseCompressed(newLimitedReader(body, l.maxSize)); err != nil {
		return nil, fmt.Errorf("parsing playlist %s: %w", urlutil.Redact(source), err)
	}

	l.logger.Info("playlist loaded",
		slog.String("source", urlutil.Redact(source)),
		slog.Int("channels", len(targets)),
		slog.Int("skipped_lines", skipped),
		slog.Duration("duration", time.Since(start)),
	)
	return targets, nil
}

func (l *Loader) open(ctx context.Context, source string) (io.ReadCloser, error) {
	switch {
	case urlutil.IsRemoteURL(source):
		return l.fetch(ctx, source)
	case urlutil.IsFileURL(source):
		path, err := urlutil.FilePathFromURL(source)
		if err != nil {
			return nil, err
		}
		return openFile(path)
	default:
		return openFile(source)
	}
}

func openFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening playlist: %w", err)
	}
	return f, nil
}

func (l *Loader) fetch(ctx context.Context, source string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	req.Header.Set("User-Agent", l.userAgent)
	req.Header.Set("Accept-Encoding", acceptEncoding)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, urlutil.Redact(source), err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s: unexpected status %d", ErrFetch, urlutil.Redact(source), resp.StatusCode)
	}

	return l.wrapDecompression(resp), nil
}

// wrapDecompression decodes the response body per its Content-Encoding.
// Setting Accept-Encoding ourselves disables net/http's transparent gzip.
func (l *Loader) wrapDecompression(resp *http.Response) io.ReadCloser {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))

	switch encoding {
	case "":
		return resp.Body
	case "gzip":
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			l.logger.Warn("failed to create gzip reader, returning raw body",
				slog.String("error", err.Error()),
			)
			return resp.Body
		}
		return &decompressReader{reader: reader, closer: resp.Body}
	case "deflate":
		return &decompressReader{reader: flate.NewReader(resp.Body), closer: resp.Body}
	case "br":
		return &decompressReader{reader: brotli.NewReader(resp.Body), closer: resp.Body}
	default:
		l.logger.Debug("unknown content encoding, returning raw body",
			slog.String("encoding", encoding),
		)
		return resp.Body
	}
}

// decompressReader pairs a decoding reader with the body it reads from.
type decompressReader struct {
	reader io.Reader
	closer io.Closer
}

func (d *decompressReader) Read(p []byte) (int, error) {
	return d.reader.Read(p)
}

func (d *decompressReader) Close() error {
	if closer, ok := d.reader.(io.Closer); ok {
		closer.Close()
	}
	return d.closer.Close()
}

// limitedReader fails with ErrPlaylistTooLarge once more than limit bytes
// have been read.
type limitedReader struct {
	reader    io.Reader
	remaining int64
}

func newLimitedReader(r io.Reader, limit int64) *limitedReader {
	return &limitedReader{reader: r, remaining: limit}
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrPlaylistTooLarge
	}
	n, err := l.reader.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrPlaylistTooLarge
	}
	return n, err
}

// Build returns a Directory from the playlist at source, or from list when no
// playlist is configured. Inline targets follow the playlist ones.
func Build(ctx context.Context, loader *Loader, source string, list []models.Target, defaultID string) (*Directory, error) {
	var targets []models.Target
	if strings.TrimSpace(source) != "" {
		loaded, err := loader.Load(ctx, source)
		if err != nil {
			return nil, err
		}
		targets = append(targets, loaded...)
	}
	targets = append(targets, list...)
	return NewDirectory(targets, defaultID)
}
