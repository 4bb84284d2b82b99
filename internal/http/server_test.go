package http

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tvplay/internal/channel"
	"github.com/jmylchreest/tvplay/internal/config"
	"github.com/jmylchreest/tvplay/internal/engine"
	"github.com/jmylchreest/tvplay/internal/http/handlers"
	"github.com/jmylchreest/tvplay/internal/metrics"
	"github.com/jmylchreest/tvplay/internal/models"
	"github.com/jmylchreest/tvplay/internal/player"
	"github.com/jmylchreest/tvplay/internal/retry"
)

type recordingEngine struct {
	engine.Listeners

	mu    sync.Mutex
	loads []string
}

func (e *recordingEngine) LoadAndPlay(uri string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loads = append(e.loads, uri)
}

func (e *recordingEngine) SetAutoplayIntent(bool) {}
func (e *recordingEngine) ReleaseResources()      {}

func (e *recordingEngine) Loads() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.loads...)
}

type testAPI struct {
	server *httptest.Server
	player *player.Player
	engine *recordingEngine
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	dir, err := channel.NewDirectory([]models.Target{
		{ID: "news", Name: "News", URI: "http://example.com/news.ts"},
		{ID: "sport", Name: "Sport", URI: "http://example.com/sport.ts"},
	}, "")
	require.NoError(t, err)

	clock := clockwork.NewFakeClock()
	registry := prometheus.NewRegistry()
	eng := &recordingEngine{}

	opts := player.DefaultOptions()
	opts.Engine = eng
	opts.Directory = dir
	opts.Session.Scheduler = retry.New(clock, retry.DefaultConfig())
	opts.Metrics = metrics.NewRecorder(registry)
	p, err := player.New(opts)
	require.NoError(t, err)
	t.Cleanup(p.Release)

	s := NewServer(DefaultServerConfig(), nil, "test")
	handlers.NewHealthHandler("test").WithStatusSource(p).Register(s.API())
	handlers.NewPlayerHandler(p).Register(s.API())
	s.MountOverlay(p.Overlay())
	s.MountMetrics("/metrics", registry)

	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)

	return &testAPI{server: ts, player: p, engine: eng}
}

func (a *testAPI) do(t *testing.T, method, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, a.server.URL+path, nil)
	require.NoError(t, err)
	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestServer_StatusAndPlay(t *testing.T) {
	api := newTestAPI(t)

	resp, body := api.do(t, http.MethodGet, "/api/v1/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var status handlers.StatusResponse
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, "idle", status.Session.State)

	resp, body = api.do(t, http.MethodPost, "/api/v1/channels/sport/play")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, "buffering", status.Session.State)
	assert.Equal(t, "sport", status.Session.Channel.ID)
	assert.Equal(t, "loading", status.Overlay.Kind)
	require.NotNil(t, status.Overlay.Banner)
	assert.Equal(t, "Sport", status.Overlay.Banner.Title)
	assert.Equal(t, []string{"http://example.com/sport.ts"}, api.engine.Loads())

	resp, body = api.do(t, http.MethodPost, "/api/v1/next")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, "news", status.Session.Channel.ID)
}

func TestServer_Errors(t *testing.T) {
	api := newTestAPI(t)

	resp, _ := api.do(t, http.MethodPost, "/api/v1/channels/missing/play")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = api.do(t, http.MethodPost, "/api/v1/retry")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServer_ChannelsAndHealth(t *testing.T) {
	api := newTestAPI(t)

	resp, body := api.do(t, http.MethodGet, "/api/v1/channels")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"default_id":"news"`)
	assert.Contains(t, string(body), `"count":2`)

	resp, body = api.do(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"healthy"`)

	resp, _ = api.do(t, http.MethodGet, "/livez")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Metrics(t *testing.T) {
	api := newTestAPI(t)
	require.NoError(t, api.player.Play("news"))

	resp, body := api.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "tvplay_playback_starts_total 1")
}

func TestServer_OverlayWebSocket(t *testing.T) {
	api := newTestAPI(t)

	wsURL := "ws" + strings.TrimPrefix(api.server.URL, "http") + OverlayPath
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var first handlers.OverlayResponse
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "hidden", first.Kind)

	require.NoError(t, api.player.Play("sport"))

	for {
		var st handlers.OverlayResponse
		require.NoError(t, conn.ReadJSON(&st))
		if st.Kind == "loading" && st.Banner != nil {
			assert.Equal(t, "Sport", st.Banner.Title)
			assert.Greater(t, st.Seq, first.Seq)
			break
		}
	}
}

func TestServer_OverlayClosedOnRelease(t *testing.T) {
	api := newTestAPI(t)

	wsURL := "ws" + strings.TrimPrefix(api.server.URL, "http") + OverlayPath
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var first handlers.OverlayResponse
	require.NoError(t, conn.ReadJSON(&first))

	api.player.Release()

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestOriginChecker(t *testing.T) {
	req := func(origin, host string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "http://"+host+OverlayPath, nil)
		r.Host = host
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	wildcard := originChecker([]string{"*"})
	assert.True(t, wildcard(req("http://elsewhere", "tv.local:8080")))

	listed := originChecker([]string{"http://ui.local"})
	assert.True(t, listed(req("", "tv.local:8080")))
	assert.True(t, listed(req("http://ui.local", "tv.local:8080")))
	assert.True(t, listed(req("http://tv.local:8080", "tv.local:8080")))
	assert.False(t, listed(req("http://evil.example", "tv.local:8080")))
}

func TestServerConfigFrom(t *testing.T) {
	sc := ServerConfigFrom(config.ServerConfig{
		Host:        "0.0.0.0",
		Port:        9000,
		ReadTimeout: 5 * time.Second,
		CORSOrigins: []string{"http://ui.local"},
	})

	assert.Equal(t, "0.0.0.0", sc.Host)
	assert.Equal(t, 9000, sc.Port)
	assert.Equal(t, 5*time.Second, sc.ReadTimeout)
	assert.Equal(t, 30*time.Second, sc.WriteTimeout)
	assert.Equal(t, []string{"http://ui.local"}, sc.CORSOrigins)
}
