package model

import (
	"encoding/json"
	"time"
)

// Job represents a background analysis job
type Job struct {
	ID          string          `json:"id"`
	Status      JobStatus       `json:"status"`
	Progress    int             `json:"progress"`
	CurrentStep string          `json:"currentStep,omitempty"`
	Error       *string         `json:"error,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	RetryCount  int             `json:"retryCount"`
}

// AnalysisJobPayload tells the worker where the upload lives and what to run.
type AnalysisJobPayload struct {
	UploadKey string         `json:"uploadKey"`
	Filename  string         `json:"filename"`
	Analyses  []AnalysisKind `json:"analyses"`
}

type JobStartResponse struct {
	JobID     string         `json:"jobId"`
	Status    JobStatus      `json:"status"`
	Analyses  []AnalysisKind `json:"analyses"`
	CreatedAt time.Time      `json:"createdAt"`
}

type JobStatusResponse struct {
	JobID       string     `json:"jobId"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	RetryCount  int        `json:"retryCount"`
}

type JobResultResponse struct {
	JobID       string         `json:"jobId"`
	Filename    string         `json:"filename"`
	Results     AnalysisBundle `json:"results"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

// JobStartRequest holds the form fields of a job submission besides the file.
type JobStartRequest struct {
	Analyses []AnalysisKind `validate:"max=7,dive,oneof=tempo key chroma beats beat_tempo loop_tempo metadata"`
}
