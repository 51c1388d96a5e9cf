package model

// Job status
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// AnalysisKind names one analysis a job can run on its upload.
type AnalysisKind string

const (
	AnalysisTempo     AnalysisKind = "tempo"
	AnalysisKey       AnalysisKind = "key"
	AnalysisChroma    AnalysisKind = "chroma"
	AnalysisBeats     AnalysisKind = "beats"
	AnalysisBeatTempo AnalysisKind = "beat_tempo"
	AnalysisLoopTempo AnalysisKind = "loop_tempo"
	AnalysisMetadata  AnalysisKind = "metadata"
)

// DefaultAnalyses run when a job does not name any.
var DefaultAnalyses = []AnalysisKind{AnalysisTempo, AnalysisKey}
