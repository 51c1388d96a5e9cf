package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
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
)

type captureQueue struct {
	tasks []*asynq.Task
}

func (q *captureQueue) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: fmt.Sprintf("task-%d", len(q.tasks)), Type: task.Type()}, nil
}

type recorder struct {
	mu       sync.Mutex
	progress []int
	complete *model.AnalysisBundle
	errCode  string
}

func (r *recorder) BroadcastProgress(jobID string, progress int, status model.JobStatus, analysis model.AnalysisKind, step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, progress)
}

func (r *recorder) BroadcastComplete(jobID string, result *model.AnalysisBundle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.complete = result
}

func (r *recorder) BroadcastError(jobID string, code, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errCode = code
}

type stubAnalyzer struct {
	service.Analyzer
	err error
}

func (s stubAnalyzer) Tempo(ctx context.Context, path string) (*model.TempoResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return &model.TempoResponse{Tempo: 124}, nil
}

type fixture struct {
	jobs     *service.JobService
	queue    *captureQueue
	storage  *client.LocalStorage
	notifier *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })

	storage, err := client.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	q := &captureQueue{}
	return &fixture{
		jobs:     service.NewJobService(rc, q, storage),
		queue:    q,
		storage:  storage,
		notifier: &recorder{},
	}
}

func (f *fixture) start(t *testing.T, filename string, body []byte, kinds ...model.AnalysisKind) string {
	t.Helper()
	res, err := f.jobs.StartJob(context.Background(), filename, bytes.NewReader(body), kinds)
	require.NoError(t, err)
	return res.JobID
}

func TestProcessTaskCompletesJob(t *testing.T) {
	f := newFixture(t)
	w := NewAnalysisWorker(f.jobs, stubAnalyzer{}, f.storage, f.notifier, t.TempDir())
	jobID := f.start(t, "song.mp3", []byte("fake mp3"), model.AnalysisTempo)

	require.NoError(t, w.ProcessTask(context.Background(), f.queue.tasks[0]))

	result, err := f.jobs.GetResult(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, 124.0, result.Results.Tempo.Tempo)

	require.NotNil(t, f.notifier.complete)
	assert.Equal(t, []int{5, 10}, f.notifier.progress)

	// upload is removed once the job is done
	var buf bytes.Buffer
	assert.Error(t, f.storage.Download(context.Background(), service.UploadKey(jobID, "song.mp3"), &buf))
}

func TestProcessTaskDecodeErrorSkipsRetry(t *testing.T) {
	f := newFixture(t)
	w := NewAnalysisWorker(f.jobs, stubAnalyzer{err: fmt.Errorf("%w: bad header", audio.ErrDecode)}, f.storage, f.notifier, t.TempDir())
	jobID := f.start(t, "song.wav", []byte("junk"), model.AnalysisTempo)

	err := w.ProcessTask(context.Background(), f.queue.tasks[0])
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	status, err := f.jobs.GetStatus(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, status.Status)
	assert.Equal(t, codeAnalysisFailed, f.notifier.errCode)
}

func TestProcessTaskSilentAudioSkipsRetry(t *testing.T) {
	f := newFixture(t)
	w := NewAnalysisWorker(f.jobs, stubAnalyzer{err: service.ErrNoTempo}, f.storage, f.notifier, t.TempDir())
	jobID := f.start(t, "silence.wav", []byte("riff"), model.AnalysisTempo)

	err := w.ProcessTask(context.Background(), f.queue.tasks[0])
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	status, err := f.jobs.GetStatus(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, status.Status)
}

func TestProcessTaskTransientErrorRetries(t *testing.T) {
	f := newFixture(t)
	w := NewAnalysisWorker(f.jobs, stubAnalyzer{err: errors.New("disk full")}, f.storage, f.notifier, t.TempDir())
	f.start(t, "song.wav", []byte("junk"), model.AnalysisTempo)

	err := w.ProcessTask(context.Background(), f.queue.tasks[0])
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestProcessTaskMissingUpload(t *testing.T) {
	f := newFixture(t)
	w := NewAnalysisWorker(f.jobs, stubAnalyzer{}, f.storage, f.notifier, t.TempDir())
	jobID := f.start(t, "song.wav", []byte("x"), model.AnalysisTempo)
	require.NoError(t, f.storage.Delete(context.Background(), service.UploadKey(jobID, "song.wav")))

	require.Error(t, w.ProcessTask(context.Background(), f.queue.tasks[0]))
	status, err := f.jobs.GetStatus(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, status.Status)
}

func TestProcessTaskBadPayload(t *testing.T) {
	f := newFixture(t)
	w := NewAnalysisWorker(f.jobs, stubAnalyzer{}, f.storage, f.notifier, "")

	err := w.ProcessTask(context.Background(), asynq.NewTask(service.TaskTypeAnalysis, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestProcessTaskRealAnalysis(t *testing.T) {
	f := newFixture(t)
	cfg := config.Defaults()
	cfg.Audio.TempDir = t.TempDir()
	analyzer := service.NewAnalysisService(audio.NewDecoder(&cfg.Audio), &cfg.Analysis, nil)
	workDir := t.TempDir()
	w := NewAnalysisWorker(f.jobs, analyzer, f.storage, f.notifier, workDir)

	wavPath := filepath.Join(t.TempDir(), "clicks.wav")
	audiotest.WriteWAV(t, wavPath, audiotest.Clicks(120, 20, 22050), 22050)
	data, err := os.ReadFile(wavPath)
	require.NoError(t, err)

	jobID := f.start(t, "clicks.wav", data, model.AnalysisTempo, model.AnalysisBeats, model.AnalysisMetadata)
	require.NoError(t, w.ProcessTask(context.Background(), f.queue.tasks[0]))

	result, err := f.jobs.GetResult(context.Background(), jobID)
	require.NoError(t, err)
	assert.InDelta(t, 120, result.Results.Tempo.Tempo, 7)
	assert.NotEmpty(t, result.Results.Beats.Beats)
	assert.Equal(t, "clicks.wav", result.Filename)
	assert.Equal(t, "clicks", result.Results.Metadata.Title)

	left, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, left)
}
