package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jmylchreest/tvplay/internal/classify"
	"github.com/jmylchreest/tvplay/internal/urlutil"
)

// Probe engine defaults.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultStallTimeout   = 15 * time.Second
	DefaultUserAgent      = "tvplay/1.0"

	readBufferSize  = 32 * 1024
	maxManifestSize = 1 << 20
)

// ProbeOptions configures a ProbeEngine.
type ProbeOptions struct {
	// Client performs requests. Nil builds one bounded by ConnectTimeout.
	Client *http.Client
	// ConnectTimeout bounds dialing and waiting for response headers.
	ConnectTimeout time.Duration
	// StallTimeout is how long a continuous stream may deliver no data
	// before the load fails as a timeout.
	StallTimeout time.Duration
	UserAgent    string
	// Clock drives the stall watchdog. Nil uses the real clock.
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// ProbeEngine is a headless engine: it opens the target over HTTP (or from
// a file:// URL), decides from the response whether it is playable, and then
// drains continuous streams watching for stalls and end of stream. Each load
// supersedes the previous one; events of a superseded load are dropped.
type ProbeEngine struct {
	listeners Listeners
	client    *http.Client
	opts      ProbeOptions
	clock     clockwork.Clock
	logger    *slog.Logger

	mu         sync.Mutex
	cancel     context.CancelFunc
	generation uint64
	autoplay   bool
	released   bool
	wg         sync.WaitGroup
}

var _ Engine = (*ProbeEngine)(nil)

// NewProbeEngine creates a ProbeEngine.
func NewProbeEngine(opts ProbeOptions) *ProbeEngine {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = DefaultStallTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Client == nil {
		dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
		opts.Client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           dialer.DialContext,
				TLSHandshakeTimeout:   opts.ConnectTimeout,
				ResponseHeaderTimeout: opts.ConnectTimeout,
			},
		}
	}

	return &ProbeEngine{
		client:   opts.Client,
		opts:     opts,
		clock:    opts.Clock,
		logger:   opts.Logger.With(slog.String("component", "probe_engine")),
		autoplay: true,
	}
}

// Subscribe registers a listener.
func (e *ProbeEngine) Subscribe(l Listener) func() {
	return e.listeners.Subscribe(l)
}

// LoadAndPlay abandons any load in progress and starts loading uri.
func (e *ProbeEngine) LoadAndPlay(uri string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.released {
		return
	}
	if e.cancel != nil {
		e.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.generation++
	gen := e.generation

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		e.run(ctx, gen, uri)
	}()
}

// SetAutoplayIntent records whether a ready stream should play.
func (e *ProbeEngine) SetAutoplayIntent(autoplay bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.autoplay = autoplay
}

// ReleaseResources stops the current load and drops all listeners. It does
// not wait for the load goroutine; use Wait for that.
func (e *ProbeEngine) ReleaseResources() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.released {
		return
	}
	e.released = true
	e.generation++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.listeners.Clear()
}

// Wait blocks until every load goroutine has returned.
func (e *ProbeEngine) Wait() {
	e.wg.Wait()
}

// current reports whether gen is still the active load.
func (e *ProbeEngine) current(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.released && gen == e.generation
}

// emit delivers an event of load gen. The generation is checked before each
// listener, so a load replaced during dispatch reaches no further listeners.
func (e *ProbeEngine) emit(gen uint64, fn func(Listener)) {
	e.listeners.Each(func(l Listener) {
		if e.current(gen) {
			fn(l)
		}
	})
}

func (e *ProbeEngine) fail(gen uint64, uri string, code int, msg string) {
	e.logger.Debug("load failed",
		slog.String("uri", urlutil.Redact(uri)),
		slog.Int("code", code),
		slog.String("message", msg),
	)
	e.emit(gen, func(l Listener) { l.PlaybackFailed(code, msg) })
}

func (e *ProbeEngine) ready(gen uint64) {
	e.mu.Lock()
	autoplay := e.autoplay
	e.mu.Unlock()
	e.emit(gen, func(l Listener) { l.ReadyToPlay(autoplay) })
}

func (e *ProbeEngine) run(ctx context.Context, gen uint64, uri string) {
	e.emit(gen, func(l Listener) { l.BufferingStarted() })

	switch urlutil.GetScheme(uri) {
	case urlutil.SchemeHTTP, urlutil.SchemeHTTPS:
		e.runHTTP(ctx, gen, uri)
	case urlutil.SchemeFile:
		e.runFile(gen, uri)
	default:
		e.fail(gen, uri, classify.CodeIOUnspecified, fmt.Sprintf("unsupported scheme %q", urlutil.GetScheme(uri)))
	}
}

func (e *ProbeEngine) runFile(gen uint64, uri string) {
	p, err := urlutil.FilePathFromURL(uri)
	if err != nil {
		e.fail(gen, uri, classify.CodeIOFileNotFound, err.Error())
		return
	}
	info, err := os.Stat(p)
	switch {
	case errors.Is(err, os.ErrNotExist):
		e.fail(gen, uri, classify.CodeIOFileNotFound, err.Error())
	case errors.Is(err, os.ErrPermission):
		e.fail(gen, uri, classify.CodeIONoPermission, err.Error())
	case err != nil:
		e.fail(gen, uri, classify.CodeIOUnspecified, err.Error())
	case info.IsDir():
		e.fail(gen, uri, classify.CodeIOFileNotFound, "path is a directory")
	default:
		e.ready(gen)
	}
}

func (e *ProbeEngine) runHTTP(ctx context.Context, gen uint64, uri string) {
	reqCtx, reqCancel := context.WithCancel(ctx)
	defer reqCancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, uri, nil)
	if err != nil {
		e.fail(gen, uri, classify.CodeIOUnspecified, err.Error())
		return
	}
	req.Header.Set("User-Agent", e.opts.UserAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		code := classify.CodeIONetworkFailed
		if isTimeout(err) {
			code = classify.CodeIONetworkTimeout
		}
		e.fail(gen, uri, code, err.Error())
		return
	}
	defer resp.Body.Close()

	if code, ok := statusCode(resp.StatusCode); !ok {
		e.fail(gen, uri, code, fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
		return
	}

	switch detectStream(resp.Header.Get("Content-Type"), req.URL.Path) {
	case streamManifest:
		e.checkManifest(ctx, gen, uri, resp.Body)
	case streamContinuous:
		e.ready(gen)
		e.drain(ctx, reqCancel, gen, uri, resp.Body)
	case streamUnsupportedManifest:
		e.fail(gen, uri, classify.CodeParsingManifestUnsupp, "unsupported manifest type "+resp.Header.Get("Content-Type"))
	case streamUnsupportedContainer:
		e.fail(gen, uri, classify.CodeParsingContainerUnsupp, "unsupported container "+resp.Header.Get("Content-Type"))
	default:
		e.fail(gen, uri, classify.CodeIOInvalidContentType, "invalid content type "+resp.Header.Get("Content-Type"))
	}
}

// checkManifest validates an HLS playlist header. Segment fetching is the
// renderer's job, so a valid manifest is reported ready and left there.
func (e *ProbeEngine) checkManifest(ctx context.Context, gen uint64, uri string, body io.Reader) {
	scanner := bufio.NewScanner(io.LimitReader(body, maxManifestSize))
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#EXTM3U") {
			e.ready(gen)
			return
		}
		break
	}
	if ctx.Err() != nil {
		return
	}
	if err := scanner.Err(); err != nil {
		e.fail(gen, uri, classify.CodeIONetworkFailed, err.Error())
		return
	}
	e.fail(gen, uri, classify.CodeParsingManifestBad, "playlist does not start with #EXTM3U")
}

// drain reads a continuous stream until it ends, fails or stalls. A stall
// is detected by a watchdog re-armed on every successful read.
func (e *ProbeEngine) drain(ctx context.Context, abort context.CancelFunc, gen uint64, uri string, body io.Reader) {
	var stalled atomic.Bool
	watchdog := e.clock.AfterFunc(e.opts.StallTimeout, func() {
		stalled.Store(true)
		abort()
	})
	defer watchdog.Stop()

	buf := make([]byte, readBufferSize)
	var total int64
	for {
		n, err := body.Read(buf)
		if n > 0 {
			total += int64(n)
			watchdog.Reset(e.opts.StallTimeout)
		}
		if err == nil {
			continue
		}

		switch {
		case stalled.Load():
			e.fail(gen, uri, classify.CodeIONetworkTimeout,
				fmt.Sprintf("no data for %s", e.opts.StallTimeout))
		case ctx.Err() != nil:
		case errors.Is(err, io.EOF):
			e.logger.Debug("stream ended",
				slog.String("uri", urlutil.Redact(uri)),
				slog.Int64("bytes", total),
			)
			e.emit(gen, func(l Listener) { l.PlaybackEnded() })
		default:
			code := classify.CodeIONetworkFailed
			if isTimeout(err) {
				code = classify.CodeIONetworkTimeout
			}
			e.fail(gen, uri, code, err.Error())
		}
		return
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// statusCode maps a non-success HTTP status to a raw engine code.
func statusCode(status int) (int, bool) {
	switch {
	case status >= 200 && status < 300:
		return 0, true
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return classify.CodeIONoPermission, false
	case status == http.StatusNotFound, status == http.StatusGone:
		return classify.CodeIOFileNotFound, false
	default:
		return classify.CodeIOBadHTTPStatus, false
	}
}

type streamKind int

const (
	streamInvalid streamKind = iota
	streamContinuous
	streamManifest
	streamUnsupportedManifest
	streamUnsupportedContainer
)

// detectStream classifies a response by content type, falling back to the
// path extension when the server sends a generic type.
func detectStream(contentType, urlPath string) streamKind {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = ""
	}
	mediaType = strings.ToLower(mediaType)

	switch mediaType {
	case "application/vnd.apple.mpegurl", "application/x-mpegurl", "audio/mpegurl", "audio/x-mpegurl":
		return streamManifest
	case "application/dash+xml":
		return streamUnsupportedManifest
	case "video/x-ms-asf", "video/x-ms-wmv", "video/x-flv":
		return streamUnsupportedContainer
	}

	if strings.HasPrefix(mediaType, "video/") || strings.HasPrefix(mediaType, "audio/") {
		return streamContinuous
	}

	if mediaType == "" || mediaType == "application/octet-stream" || mediaType == "binary/octet-stream" {
		switch strings.ToLower(path.Ext(urlPath)) {
		case ".m3u8", ".m3u":
			return streamManifest
		case ".mpd":
			return streamUnsupportedManifest
		}
		return streamContinuous
	}

	return streamInvalid
}
