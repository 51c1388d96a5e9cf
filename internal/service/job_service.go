package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/bandbridge/audio/internal/client"
	"github.com/bandbridge/audio/internal/model"
)

const (
	TaskTypeAnalysis = "analysis:process"
	QueueAnalysis    = "analysis"

	jobTTL = 24 * time.Hour
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrJobNotCompleted = errors.New("job not completed")
)

// TaskEnqueuer is the part of asynq.Client the job service needs
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskPayload is the asynq task body for an analysis job
type TaskPayload struct {
	JobID   string                   `json:"jobId"`
	Payload model.AnalysisJobPayload `json:"payload"`
}

// JobService handles analysis job management
type JobService struct {
	redis   *redis.Client
	queue   TaskEnqueuer
	storage client.StorageClient
}

func NewJobService(redisClient *redis.Client, queue TaskEnqueuer, storage client.StorageClient) *JobService {
	return &JobService{
		redis:   redisClient,
		queue:   queue,
		storage: storage,
	}
}

// UploadKey returns the storage key for a job's upload.
func UploadKey(jobID, filename string) string {
	return fmt.Sprintf("uploads/%s/audio%s", jobID, strings.ToLower(filepath.Ext(filename)))
}

// StartJob stores the upload and queues an analysis job for it
func (s *JobService) StartJob(ctx context.Context, filename string, body io.Reader, analyses []model.AnalysisKind) (*model.JobStartResponse, error) {
	if len(analyses) == 0 {
		analyses = model.DefaultAnalyses
	}

	jobID := uuid.New().String()
	now := time.Now().UTC()

	key := UploadKey(jobID, filename)
	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := s.storage.Upload(ctx, key, body, contentType); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	payload := model.AnalysisJobPayload{
		UploadKey: key,
		Filename:  filename,
		Analyses:  analyses,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	job := &model.Job{
		ID:        jobID,
		Status:    model.JobStatusQueued,
		Payload:   payloadBytes,
		CreatedAt: now,
	}
	if err := s.saveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	task, err := newAnalysisTask(jobID, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	_, err = s.queue.Enqueue(task,
		asynq.Queue(QueueAnalysis),
		asynq.MaxRetry(3),
		asynq.Retention(jobTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.JobStartResponse{
		JobID:     jobID,
		Status:    model.JobStatusQueued,
		Analyses:  analyses,
		CreatedAt: now,
	}, nil
}

// GetStatus returns the current status of a job
func (s *JobService) GetStatus(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &model.JobStatusResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		RetryCount:  job.RetryCount,
	}, nil
}

// GetResult returns the analyses of a completed job
func (s *JobService) GetResult(ctx context.Context, jobID string) (*model.JobResultResponse, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status != model.JobStatusSucceeded {
		return nil, ErrJobNotCompleted
	}

	var payload model.AnalysisJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	result := &model.JobResultResponse{
		JobID:       job.ID,
		Filename:    payload.Filename,
		CompletedAt: job.CompletedAt,
	}
	if err := json.Unmarshal(job.Result, &result.Results); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	return result, nil
}

// UpdateJobProgress updates job progress (called by worker)
func (s *JobService) UpdateJobProgress(ctx context.Context, jobID string, progress int, step string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Progress = progress
	job.CurrentStep = step

	if job.Status == model.JobStatusQueued {
		job.Status = model.JobStatusRunning
		now := time.Now().UTC()
		job.StartedAt = &now
	}

	return s.saveJob(ctx, job)
}

// MarkRetry counts another attempt and puts the job back in the queue state
// (called by worker before reprocessing)
func (s *JobService) MarkRetry(ctx context.Context, jobID string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.RetryCount++
	job.Status = model.JobStatusQueued
	job.Error = nil
	job.CompletedAt = nil

	return s.saveJob(ctx, job)
}

// CompleteJob marks job as completed (called by worker)
func (s *JobService) CompleteJob(ctx context.Context, jobID string, result *model.AnalysisBundle) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	resultBytes, err := json.Marshal(result)
	if err != nil {
		return err
	}

	job.Status = model.JobStatusSucceeded
	job.Progress = 100
	job.CurrentStep = ""
	job.Result = resultBytes
	now := time.Now().UTC()
	job.CompletedAt = &now

	return s.saveJob(ctx, job)
}

// FailJob marks job as failed (called by worker)
func (s *JobService) FailJob(ctx context.Context, jobID string, errMsg string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Status = model.JobStatusFailed
	job.Error = &errMsg
	now := time.Now().UTC()
	job.CompletedAt = &now

	return s.saveJob(ctx, job)
}

// Helper methods

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

func (s *JobService) saveJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKey(job.ID), data, jobTTL).Err()
}

func (s *JobService) getJob(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}

	return &job, nil
}

func newAnalysisTask(jobID string, payload model.AnalysisJobPayload) (*asynq.Task, error) {
	data, err := json.Marshal(TaskPayload{JobID: jobID, Payload: payload})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeAnalysis, data), nil
}
