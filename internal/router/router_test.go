package router

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bandbridge/audio/internal/audio"
	"github.com/bandbridge/audio/internal/audio/audiotest"
	"github.com/bandbridge/audio/internal/client"
	"github.com/bandbridge/audio/internal/config"
	"github.com/bandbridge/audio/internal/middleware"
	"github.com/bandbridge/audio/internal/service"
	ws "github.com/bandbridge/audio/internal/websocket"
	"github.com/bandbridge/audio/pkg/response"
)

const sr = 22050

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Audio.TempDir = t.TempDir()
	return cfg
}

func analysisService(cfg *config.Config) *service.AnalysisService {
	return service.NewAnalysisService(audio.NewDecoder(&cfg.Audio), &cfg.Analysis, nil)
}

func wavUpload(t *testing.T, target string) *http.Request {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clicks.wav")
	audiotest.WriteWAV(t, path, audiotest.Clicks(120, 10, sr), sr)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "clicks.wav")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func send(t *testing.T, app *fiber.App, req *http.Request) (int, []byte) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestBannerAndHealth(t *testing.T) {
	cfg := testConfig(t)
	app := New(Deps{Config: cfg, Analysis: analysisService(cfg)})

	status, body := send(t, app, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, Banner, string(body))

	status, body = send(t, app, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, status)
	var health struct {
		Status   string                 `json:"status"`
		Services map[string]interface{} `json:"services"`
	}
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, false, health.Services["redis"])
	assert.Equal(t, "local", health.Services["storage"])
}

func TestAnalysisRoutes(t *testing.T) {
	cfg := testConfig(t)
	app := New(Deps{Config: cfg, Analysis: analysisService(cfg)})

	for _, path := range []string{"/librosa/tempo", "/librosa/key", "/aubio/tempo", "/madmom/beats"} {
		status, body := send(t, app, wavUpload(t, path))
		assert.Equal(t, http.StatusOK, status, "%s: %s", path, body)
	}
}

func TestUnknownRouteUsesErrorEnvelope(t *testing.T) {
	cfg := testConfig(t)
	app := New(Deps{Config: cfg, Analysis: analysisService(cfg)})

	status, body := send(t, app, httptest.NewRequest(http.MethodGet, "/api/jobs/abc", nil))
	assert.Equal(t, http.StatusNotFound, status)

	var got response.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, response.CodeNotFound, got.Error.Code)
}

type nopQueue struct{}

func (nopQueue) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	return &asynq.TaskInfo{ID: "t"}, nil
}

func TestJobRoutesRequireAuth(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Enabled = true

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })
	storage, err := client.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	hub := ws.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	m := middleware.NewLegacyAuthMiddleware("router-secret")
	app := New(Deps{
		Config:   cfg,
		Analysis: analysisService(cfg),
		Jobs:     service.NewJobService(rc, nopQueue{}, storage),
		Hub:      hub,
		Redis:    rc,
		Auth:     m.Authenticate(),
	})

	status, _ := send(t, app, wavUpload(t, "/api/jobs"))
	assert.Equal(t, http.StatusUnauthorized, status)

	token, err := m.GenerateToken("user-7", "")
	require.NoError(t, err)
	req := wavUpload(t, "/api/jobs")
	req.Header.Set("Authorization", "Bearer "+token)
	status, body := send(t, app, req)
	assert.Equal(t, http.StatusAccepted, status, string(body))
	assert.True(t, mr.Exists("ratelimit:jobs:user-7"))

	// plain GET on the websocket route is refused
	status, _ = send(t, app, httptest.NewRequest(http.MethodGet, "/ws/jobs/abc", nil))
	assert.Equal(t, http.StatusUpgradeRequired, status)
}
