package engine

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tvplay/internal/classify"
)

type event struct {
	kind     string
	autoplay bool
	code     int
	message  string
}

type recorder struct {
	ch chan event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan event, 64)}
}

func (r *recorder) BufferingStarted()         { r.ch <- event{kind: "buffering"} }
func (r *recorder) ReadyToPlay(autoplay bool) { r.ch <- event{kind: "ready", autoplay: autoplay} }
func (r *recorder) PlaybackEnded()            { r.ch <- event{kind: "ended"} }
func (r *recorder) PlaybackFailed(code int, message string) {
	r.ch <- event{kind: "failed", code: code, message: message}
}

func (r *recorder) next(t *testing.T) event {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for engine event")
		return event{}
	}
}

func (r *recorder) none(t *testing.T) {
	t.Helper()
	select {
	case ev := <-r.ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func streamServer(t *testing.T) *httptest.Server {
	t.Helper()
	packet := make([]byte, 188*4)

	mux := http.NewServeMux()
	mux.HandleFunc("/live.ts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp2t")
		_, _ = w.Write(packet)
	})
	mux.HandleFunc("/stall.ts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp2t")
		_, _ = w.Write(packet)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	mux.HandleFunc("/hang.ts", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	mux.HandleFunc("/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		_, _ = w.Write([]byte("#EXTM3U\n#EXT-X-TARGETDURATION:6\nseg1.ts\n"))
	})
	mux.HandleFunc("/broken.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		_, _ = w.Write([]byte("<html>oops</html>"))
	})
	mux.HandleFunc("/generic.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("#EXTM3U\n"))
	})
	mux.HandleFunc("/manifest.mpd", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/dash+xml")
	})
	mux.HandleFunc("/movie.flv", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/x-flv")
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html></html>"))
	})
	mux.HandleFunc("/status/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/status/401":
			w.WriteHeader(http.StatusUnauthorized)
		case "/status/403":
			w.WriteHeader(http.StatusForbidden)
		case "/status/404":
			w.WriteHeader(http.StatusNotFound)
		case "/status/410":
			w.WriteHeader(http.StatusGone)
		case "/status/500":
			w.WriteHeader(http.StatusInternalServerError)
		case "/status/503":
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestEngine(t *testing.T, opts ProbeOptions) (*ProbeEngine, *recorder) {
	t.Helper()
	e := NewProbeEngine(opts)
	rec := newRecorder()
	unsubscribe := e.Subscribe(rec)
	t.Cleanup(func() {
		unsubscribe()
		e.ReleaseResources()
		e.Wait()
	})
	return e, rec
}

func TestProbeEngine_ContinuousStreamEnds(t *testing.T) {
	server := streamServer(t)
	e, rec := newTestEngine(t, ProbeOptions{})

	e.LoadAndPlay(server.URL + "/live.ts")

	assert.Equal(t, "buffering", rec.next(t).kind)
	ready := rec.next(t)
	assert.Equal(t, "ready", ready.kind)
	assert.True(t, ready.autoplay)
	assert.Equal(t, "ended", rec.next(t).kind)
}

func TestProbeEngine_AutoplayIntent(t *testing.T) {
	server := streamServer(t)
	e, rec := newTestEngine(t, ProbeOptions{})

	e.SetAutoplayIntent(false)
	e.LoadAndPlay(server.URL + "/index.m3u8")

	assert.Equal(t, "buffering", rec.next(t).kind)
	ready := rec.next(t)
	assert.Equal(t, "ready", ready.kind)
	assert.False(t, ready.autoplay)
	rec.none(t)
}

func TestProbeEngine_FailureCodes(t *testing.T) {
	server := streamServer(t)

	tests := []struct {
		path string
		code int
	}{
		{"/status/401", classify.CodeIONoPermission},
		{"/status/403", classify.CodeIONoPermission},
		{"/status/404", classify.CodeIOFileNotFound},
		{"/status/410", classify.CodeIOFileNotFound},
		{"/status/500", classify.CodeIOBadHTTPStatus},
		{"/status/503", classify.CodeIOBadHTTPStatus},
		{"/broken.m3u8", classify.CodeParsingManifestBad},
		{"/manifest.mpd", classify.CodeParsingManifestUnsupp},
		{"/movie.flv", classify.CodeParsingContainerUnsupp},
		{"/page", classify.CodeIOInvalidContentType},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			e, rec := newTestEngine(t, ProbeOptions{})
			e.LoadAndPlay(server.URL + tt.path)

			assert.Equal(t, "buffering", rec.next(t).kind)
			ev := rec.next(t)
			require.Equal(t, "failed", ev.kind)
			assert.Equal(t, tt.code, ev.code)
			assert.NotEmpty(t, ev.message)
		})
	}
}

func TestProbeEngine_GenericTypeUsesExtension(t *testing.T) {
	server := streamServer(t)
	e, rec := newTestEngine(t, ProbeOptions{})

	e.LoadAndPlay(server.URL + "/generic.m3u8")
	assert.Equal(t, "buffering", rec.next(t).kind)
	assert.Equal(t, "ready", rec.next(t).kind)
	rec.none(t)
}

func TestProbeEngine_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL + "/live.ts"
	server.Close()

	e, rec := newTestEngine(t, ProbeOptions{})
	e.LoadAndPlay(url)

	assert.Equal(t, "buffering", rec.next(t).kind)
	ev := rec.next(t)
	require.Equal(t, "failed", ev.kind)
	assert.Equal(t, classify.CodeIONetworkFailed, ev.code)
}

func TestProbeEngine_HeaderTimeout(t *testing.T) {
	server := streamServer(t)
	e, rec := newTestEngine(t, ProbeOptions{ConnectTimeout: 50 * time.Millisecond})

	e.LoadAndPlay(server.URL + "/hang.ts")

	assert.Equal(t, "buffering", rec.next(t).kind)
	ev := rec.next(t)
	require.Equal(t, "failed", ev.kind)
	assert.Equal(t, classify.CodeIONetworkTimeout, ev.code)
}

func TestProbeEngine_StallReportsTimeout(t *testing.T) {
	server := streamServer(t)
	clock := clockwork.NewFakeClock()
	e, rec := newTestEngine(t, ProbeOptions{Clock: clock, StallTimeout: 15 * time.Second})

	e.LoadAndPlay(server.URL + "/stall.ts")
	assert.Equal(t, "buffering", rec.next(t).kind)
	assert.Equal(t, "ready", rec.next(t).kind)

	var got event
	require.Eventually(t, func() bool {
		clock.Advance(15 * time.Second)
		select {
		case got = <-rec.ch:
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "failed", got.kind)
	assert.Equal(t, classify.CodeIONetworkTimeout, got.code)
	assert.Contains(t, got.message, "no data for 15s")
}

func TestProbeEngine_NewLoadSupersedesOld(t *testing.T) {
	server := streamServer(t)
	e, rec := newTestEngine(t, ProbeOptions{})

	e.LoadAndPlay(server.URL + "/hang.ts")
	assert.Equal(t, "buffering", rec.next(t).kind)

	e.LoadAndPlay(server.URL + "/live.ts")
	assert.Equal(t, "buffering", rec.next(t).kind)
	assert.Equal(t, "ready", rec.next(t).kind)
	assert.Equal(t, "ended", rec.next(t).kind)
	rec.none(t)
}

func TestProbeEngine_Release(t *testing.T) {
	server := streamServer(t)
	e, rec := newTestEngine(t, ProbeOptions{})

	e.LoadAndPlay(server.URL + "/stall.ts")
	assert.Equal(t, "buffering", rec.next(t).kind)
	assert.Equal(t, "ready", rec.next(t).kind)

	e.ReleaseResources()
	e.ReleaseResources()
	e.Wait()
	assert.Equal(t, 0, e.listeners.Len())

	e.LoadAndPlay(server.URL + "/live.ts")
	rec.none(t)
}

func TestProbeEngine_FileTargets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.ts")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))

	e, rec := newTestEngine(t, ProbeOptions{})

	e.LoadAndPlay("file://" + path)
	assert.Equal(t, "buffering", rec.next(t).kind)
	assert.Equal(t, "ready", rec.next(t).kind)

	e.LoadAndPlay("file://" + filepath.Join(dir, "missing.ts"))
	assert.Equal(t, "buffering", rec.next(t).kind)
	ev := rec.next(t)
	require.Equal(t, "failed", ev.kind)
	assert.Equal(t, classify.CodeIOFileNotFound, ev.code)
}

func TestProbeEngine_UnsupportedScheme(t *testing.T) {
	e, rec := newTestEngine(t, ProbeOptions{})

	e.LoadAndPlay("rtmp://example.com/live")
	assert.Equal(t, "buffering", rec.next(t).kind)
	ev := rec.next(t)
	require.Equal(t, "failed", ev.kind)
	assert.Equal(t, classify.CodeIOUnspecified, ev.code)
}

func TestListeners_SubscribeUnsubscribe(t *testing.T) {
	var r Listeners
	a, b := newRecorder(), newRecorder()

	unsubA := r.Subscribe(a)
	unsubB := r.Subscribe(b)
	assert.Equal(t, 2, r.Len())

	r.Each(func(l Listener) { l.PlaybackEnded() })
	assert.Equal(t, "ended", a.next(t).kind)
	assert.Equal(t, "ended", b.next(t).kind)

	unsubA()
	unsubA()
	assert.Equal(t, 1, r.Len())

	r.Each(func(l Listener) { l.BufferingStarted() })
	a.none(t)
	assert.Equal(t, "buffering", b.next(t).kind)

	unsubB()
	assert.Equal(t, 0, r.Len())
}

func TestDetectStream(t *testing.T) {
	tests := []struct {
		contentType string
		path        string
		want        streamKind
	}{
		{"video/mp2t", "/a", streamContinuous},
		{"audio/aac", "/a", streamContinuous},
		{"application/x-mpegURL", "/a", streamManifest},
		{"application/vnd.apple.mpegurl; charset=utf-8", "/a", streamManifest},
		{"", "/live/index.m3u8", streamManifest},
		{"application/octet-stream", "/live/stream.ts", streamContinuous},
		{"", "/live/manifest.mpd", streamUnsupportedManifest},
		{"video/x-flv", "/a", streamUnsupportedContainer},
		{"text/html", "/a.ts", streamInvalid},
		{"application/json", "/a", streamInvalid},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, detectStream(tt.contentType, tt.path), "%s %s", tt.contentType, tt.path)
	}
}

func TestProbeEngine_ReplacedLoadStopsDispatch(t *testing.T) {
	e := NewProbeEngine(ProbeOptions{})
	e.Subscribe(newRecorder())
	e.Subscribe(newRecorder())

	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.mu.Unlock()

	// The first listener to see the event replaces the load.
	calls := 0
	e.emit(gen, func(Listener) {
		calls++
		e.mu.Lock()
		e.generation++
		e.mu.Unlock()
	})
	assert.Equal(t, 1, calls)

	e.emit(gen, func(Listener) { calls++ })
	assert.Equal(t, 1, calls)
}
