package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bandbridge/audio/internal/audio"
	"github.com/bandbridge/audio/internal/audio/audiotest"
	"github.com/bandbridge/audio/internal/client"
	"github.com/bandbridge/audio/internal/config"
	"github.com/bandbridge/audio/internal/model"
	"github.com/bandbridge/audio/internal/service"
	"github.com/bandbridge/audio/pkg/response"
)

const sr = 22050

type testEnv struct {
	app     *fiber.App
	tempDir string
}

func newTestApp(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Defaults()
	tempDir := t.TempDir()
	cfg.Audio.TempDir = tempDir

	svc := service.NewAnalysisService(audio.NewDecoder(&cfg.Audio), &cfg.Analysis, nil)
	analysis := NewAnalysisHandler(svc, tempDir)
	scale := NewScaleHandler(svc, validator.New())

	app := fiber.New(fiber.Config{ErrorHandler: response.ErrorHandler})
	app.Post("/librosa/tempo", analysis.Tempo)
	app.Post("/librosa/key", analysis.Key)
	app.Post("/librosa/chroma", analysis.Chroma)
	app.Post("/madmom/beats", analysis.Beats)
	app.Post("/aubio/tempo", analysis.BeatTempo)
	app.Post("/metadata", analysis.Metadata)
	app.Post("/scale/chords", scale.Chords)

	return &testEnv{app: app, tempDir: tempDir}
}

func clickWAV(t *testing.T, bpm float64) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clicks.wav")
	audiotest.WriteWAV(t, path, audiotest.Clicks(bpm, 20, sr), sr)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func chordWAV(t *testing.T, pcs ...int) []byte {
	t.Helper()
	freqs := make([]float64, len(pcs))
	amps := make([]float64, len(pcs))
	for i, pc := range pcs {
		freqs[i] = audiotest.Note(pc)
		amps[i] = 0.3 / float64(i+1)
	}
	path := filepath.Join(t.TempDir(), "chord.wav")
	audiotest.WriteWAV(t, path, audiotest.Tones(freqs, amps, 4, sr), sr)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func silentWAV(t *testing.T) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "silence.wav")
	audiotest.WriteWAV(t, path, make([]float64, 3*sr), sr)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

// uploadRequest builds a multipart request with data under field/filename
// plus any extra form values.
func uploadRequest(t *testing.T, target, field, filename string, data []byte, values map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range values {
		require.NoError(t, w.WriteField(k, v))
	}
	if field != "" {
		part, err := w.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func do(t *testing.T, app *fiber.App, req *http.Request, dst interface{}) int {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if dst != nil {
		require.NoError(t, json.Unmarshal(raw, dst), string(raw))
	}
	return resp.StatusCode
}

func TestTempoEndpoint(t *testing.T) {
	env := newTestApp(t)

	var got model.TempoResponse
	status := do(t, env.app, uploadRequest(t, "/librosa/tempo", "file", "clicks.wav", clickWAV(t, 120), nil), &got)
	assert.Equal(t, http.StatusOK, status)
	assert.InDelta(t, 120, got.Tempo, 7)

	// whole BPM values still go out as floats
	resp, err := env.app.Test(uploadRequest(t, "/librosa/tempo", "file", "clicks.wav", clickWAV(t, 120), nil), -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Regexp(t, `^\{"tempo":\d+\.\d+\}$`, string(raw))

	// the upload is removed once the request is done
	left, err := os.ReadDir(env.tempDir)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestKeyEndpoint(t *testing.T) {
	env := newTestApp(t)

	var got model.KeyResponse
	status := do(t, env.app, uploadRequest(t, "/librosa/key", "file", "chord.wav", chordWAV(t, 7, 11, 2), nil), &got)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "G", got.Key)
	assert.Contains(t, []string{"major", "minor", "mixolydian"}, got.Mode)
}

func TestChromaAndBeatsEndpoints(t *testing.T) {
	env := newTestApp(t)
	data := clickWAV(t, 120)

	var chroma model.ChromaResponse
	assert.Equal(t, http.StatusOK, do(t, env.app, uploadRequest(t, "/librosa/chroma", "file", "a.wav", data, nil), &chroma))
	assert.Len(t, chroma.Chroma, 12)

	var beats model.BeatsResponse
	assert.Equal(t, http.StatusOK, do(t, env.app, uploadRequest(t, "/madmom/beats", "file", "a.wav", data, nil), &beats))
	assert.Greater(t, len(beats.Beats), 20)

	var tempo model.TempoResponse
	assert.Equal(t, http.StatusOK, do(t, env.app, uploadRequest(t, "/aubio/tempo", "file", "a.wav", data, nil), &tempo))
	assert.InDelta(t, 120, tempo.Tempo, 7)
}

func TestMetadataEndpoint(t *testing.T) {
	env := newTestApp(t)

	var got model.MetadataResponse
	status := do(t, env.app, uploadRequest(t, "/metadata", "file", "my-song.wav", clickWAV(t, 90), nil), &got)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "my-song", got.Title)
	assert.Equal(t, "WAV", got.FileType)
	assert.Positive(t, got.SizeBytes)

	left, err := os.ReadDir(env.tempDir)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestUploadErrors(t *testing.T) {
	env := newTestApp(t)

	tests := []struct {
		name    string
		req     *http.Request
		status  int
		code    string
		message string
	}{
		{
			name:    "missing file part",
			req:     uploadRequest(t, "/librosa/tempo", "", "", nil, map[string]string{"other": "x"}),
			status:  http.StatusBadRequest,
			code:    response.CodeValidationError,
			message: "No file part",
		},
		{
			name:    "empty filename",
			req:     uploadRequest(t, "/librosa/key", "file", "", []byte("abc"), nil),
			status:  http.StatusBadRequest,
			code:    response.CodeValidationError,
			message: "No selected file",
		},
		{
			name:    "not multipart",
			req:     httptest.NewRequest(http.MethodPost, "/librosa/tempo", strings.NewReader("{}")),
			status:  http.StatusBadRequest,
			code:    response.CodeValidationError,
			message: "No file part",
		},
		{
			name:   "unsupported extension",
			req:    uploadRequest(t, "/librosa/tempo", "file", "notes.txt", []byte("hello"), nil),
			status: http.StatusUnprocessableEntity,
			code:   response.CodeUnsupportedAudio,
		},
		{
			name:   "corrupt wav",
			req:    uploadRequest(t, "/librosa/key", "file", "broken.wav", []byte("not a riff file"), nil),
			status: http.StatusUnprocessableEntity,
			code:   response.CodeUnsupportedAudio,
		},
		{
			name:   "silent recording",
			req:    uploadRequest(t, "/librosa/tempo", "file", "silence.wav", silentWAV(t), nil),
			status: http.StatusUnprocessableEntity,
			code:   response.CodeUnsupportedAudio,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got response.ErrorResponse
			assert.Equal(t, tc.status, do(t, env.app, tc.req, &got))
			assert.Equal(t, tc.code, got.Error.Code)
			if tc.message != "" {
				assert.Equal(t, tc.message, got.Error.Message)
			}
		})
	}

	left, err := os.ReadDir(env.tempDir)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func jsonRequest(t *testing.T, target string, v interface{}) *http.Request {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestChordsEndpoint(t *testing.T) {
	env := newTestApp(t)

	var got model.ChordsResponse
	status := do(t, env.app, jsonRequest(t, "/scale/chords", map[string]string{"key": "A", "mode": "minor"}), &got)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{
		"A-minor triad", "B-diminished triad", "C-major triad", "D-minor triad",
		"E-minor triad", "F-major triad", "G-major triad",
	}, got.Chords)
}

func TestChordsEndpointErrors(t *testing.T) {
	env := newTestApp(t)

	tests := []struct {
		name string
		body map[string]string
	}{
		{"missing key", map[string]string{"mode": "major"}},
		{"unknown mode", map[string]string{"key": "C", "mode": "dorian"}},
		{"unknown key", map[string]string{"key": "H", "mode": "major"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got response.ErrorResponse
			assert.Equal(t, http.StatusBadRequest, do(t, env.app, jsonRequest(t, "/scale/chords", tc.body), &got))
			assert.Equal(t, response.CodeValidationError, got.Error.Code)
		})
	}
}

type fakeQueue struct {
	tasks []*asynq.Task
}

func (q *fakeQueue) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: "t", Queue: service.QueueAnalysis}, nil
}

func newJobApp(t *testing.T) (*fiber.App, *fakeQueue, *service.JobService) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })

	storage, err := client.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	queue := &fakeQueue{}
	jobs := service.NewJobService(rc, queue, storage)

	h := NewJobHandler(jobs, validator.New())
	app := fiber.New(fiber.Config{ErrorHandler: response.ErrorHandler})
	app.Post("/api/jobs", h.Start)
	app.Get("/api/jobs/:jobId", h.Status)
	app.Get("/api/jobs/:jobId/result", h.Result)
	return app, queue, jobs
}

func TestJobLifecycle(t *testing.T) {
	app, queue, jobs := newJobApp(t)

	var started model.JobStartResponse
	req := uploadRequest(t, "/api/jobs", "file", "song.wav", clickWAV(t, 100), map[string]string{"analyses": "key, tempo,key"})
	require.Equal(t, http.StatusAccepted, do(t, app, req, &started))
	assert.Equal(t, model.JobStatusQueued, started.Status)
	assert.Equal(t, []model.AnalysisKind{model.AnalysisKey, model.AnalysisTempo}, started.Analyses)
	require.Len(t, queue.tasks, 1)

	var status model.JobStatusResponse
	require.Equal(t, http.StatusOK, do(t, app, httptest.NewRequest(http.MethodGet, "/api/jobs/"+started.JobID, nil), &status))
	assert.Equal(t, model.JobStatusQueued, status.Status)

	var notDone response.ErrorResponse
	assert.Equal(t, http.StatusBadRequest, do(t, app, httptest.NewRequest(http.MethodGet, "/api/jobs/"+started.JobID+"/result", nil), &notDone))

	bundle := &model.AnalysisBundle{Tempo: &model.TempoResponse{Tempo: 100}}
	require.NoError(t, jobs.CompleteJob(context.Background(), started.JobID, bundle))

	var result model.JobResultResponse
	require.Equal(t, http.StatusOK, do(t, app, httptest.NewRequest(http.MethodGet, "/api/jobs/"+started.JobID+"/result", nil), &result))
	assert.Equal(t, "song.wav", result.Filename)
	require.NotNil(t, result.Results.Tempo)
	assert.Equal(t, 100.0, result.Results.Tempo.Tempo)
}

func TestJobStartValidation(t *testing.T) {
	app, queue, _ := newJobApp(t)

	var got response.ErrorResponse
	req := uploadRequest(t, "/api/jobs", "file", "song.wav", clickWAV(t, 100), map[string]string{"analyses": "tempo,vibes"})
	assert.Equal(t, http.StatusBadRequest, do(t, app, req, &got))
	assert.Equal(t, response.CodeValidationError, got.Error.Code)

	req = uploadRequest(t, "/api/jobs", "", "", nil, map[string]string{"analyses": "tempo"})
	assert.Equal(t, http.StatusBadRequest, do(t, app, req, &got))
	assert.Equal(t, "No file part", got.Error.Message)

	assert.Empty(t, queue.tasks)
}

func TestJobNotFound(t *testing.T) {
	app, _, _ := newJobApp(t)

	var got response.ErrorResponse
	assert.Equal(t, http.StatusNotFound, do(t, app, httptest.NewRequest(http.MethodGet, "/api/jobs/nope", nil), &got))
	assert.Equal(t, response.CodeNotFound, got.Error.Code)
	assert.Equal(t, http.StatusNotFound, do(t, app, httptest.NewRequest(http.MethodGet, "/api/jobs/nope/result", nil), &got))
}

func TestParseAnalyses(t *testing.T) {
	assert.Nil(t, parseAnalyses(""))
	assert.Equal(t, []model.AnalysisKind{"tempo", "beats"}, parseAnalyses(" Tempo ,, beats,tempo"))
}
