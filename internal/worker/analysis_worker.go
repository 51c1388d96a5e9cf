package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hibiken/asynq"
	log "github.com/schollz/logger"

	"github.com/bandbridge/audio/internal/audio"
	"github.com/bandbridge/audio/internal/client"
	"github.com/bandbridge/audio/internal/model"
	"github.com/bandbridge/audio/internal/service"
)

const codeAnalysisFailed = "ANALYSIS_FAILED"

// Notifier pushes job events to subscribers, usually the websocket hub.
type Notifier interface {
	BroadcastProgress(jobID string, progress int, status model.JobStatus, analysis model.AnalysisKind, step string)
	BroadcastComplete(jobID string, result *model.AnalysisBundle)
	BroadcastError(jobID string, code, message string)
}

// AnalysisWorker processes analysis jobs
type AnalysisWorker struct {
	jobs     *service.JobService
	analyzer service.Analyzer
	storage  client.StorageClient
	notifier Notifier
	tempDir  string
}

// NewAnalysisWorker creates a new analysis worker
func NewAnalysisWorker(jobs *service.JobService, analyzer service.Analyzer, storage client.StorageClient, notifier Notifier, tempDir string) *AnalysisWorker {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &AnalysisWorker{
		jobs:     jobs,
		analyzer: analyzer,
		storage:  storage,
		notifier: notifier,
		tempDir:  tempDir,
	}
}

// ProcessTask handles analysis task processing
func (w *AnalysisWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var taskPayload service.TaskPayload
	if err := json.Unmarshal(t.Payload(), &taskPayload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	jobID := taskPayload.JobID
	payload := taskPayload.Payload
	log.Infof("starting analysis job %s (%s)", jobID, joinKinds(payload.Analyses))

	if n, ok := asynq.GetRetryCount(ctx); ok && n > 0 {
		if err := w.jobs.MarkRetry(ctx, jobID); err != nil {
			log.Errorf("failed to record retry of job %s: %v", jobID, err)
		}
	}

	w.updateProgress(ctx, jobID, 5, "", "Fetching upload...")
	path, err := w.fetchUpload(ctx, jobID, payload)
	if err != nil {
		w.failJob(ctx, jobID, fmt.Sprintf("Failed to fetch upload: %v", err))
		return err
	}
	defer os.RemoveAll(filepath.Dir(path))

	total := len(payload.Analyses)
	result, err := service.Run(ctx, w.analyzer, path, payload.Analyses, func(i int, kind model.AnalysisKind) {
		progress := 10 + 85*i/total
		w.updateProgress(ctx, jobID, progress, kind, fmt.Sprintf("Running %s analysis...", kind))
	})
	if err != nil {
		w.failJob(ctx, jobID, err.Error())
		if isPermanent(err) {
			return fmt.Errorf("job %s: %v: %w", jobID, err, asynq.SkipRetry)
		}
		return err
	}

	if err := w.jobs.CompleteJob(ctx, jobID, result); err != nil {
		w.failJob(ctx, jobID, "Failed to save result")
		return err
	}

	if err := w.storage.Delete(ctx, payload.UploadKey); err != nil {
		log.Debugf("failed to delete upload of job %s: %v", jobID, err)
	}

	w.notifier.BroadcastComplete(jobID, result)
	log.Infof("analysis job %s completed", jobID)
	return nil
}

// fetchUpload downloads the job's audio into its own directory under the
// original file name. The caller removes the directory.
func (w *AnalysisWorker) fetchUpload(ctx context.Context, jobID string, payload model.AnalysisJobPayload) (string, error) {
	dir := filepath.Join(w.tempDir, jobID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	path := filepath.Join(dir, audio.UploadName(payload.Filename))
	f, err := os.Create(path)
	if err != nil {
		os.RemoveAll(dir)
		return "", err
	}

	if err := w.storage.Download(ctx, payload.UploadKey, f); err != nil {
		f.Close()
		os.RemoveAll(dir)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	return path, nil
}

// isPermanent reports errors that a retry cannot fix.
func isPermanent(err error) bool {
	return errors.Is(err, audio.ErrUnsupportedFormat) ||
		errors.Is(err, audio.ErrDecode) ||
		errors.Is(err, audio.ErrEmptyAudio) ||
		errors.Is(err, service.ErrNoTempo)
}

func joinKinds(kinds []model.AnalysisKind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ",")
}

func (w *AnalysisWorker) updateProgress(ctx context.Context, jobID string, progress int, kind model.AnalysisKind, step string) {
	if err := w.jobs.UpdateJobProgress(ctx, jobID, progress, step); err != nil {
		log.Errorf("failed to update progress of job %s: %v", jobID, err)
	}
	w.notifier.BroadcastProgress(jobID, progress, model.JobStatusRunning, kind, step)
}

func (w *AnalysisWorker) failJob(ctx context.Context, jobID, errMsg string) {
	if err := w.jobs.FailJob(ctx, jobID, errMsg); err != nil {
		log.Errorf("failed to mark job %s as failed: %v", jobID, err)
	}
	w.notifier.BroadcastError(jobID, codeAnalysisFailed, errMsg)
}
