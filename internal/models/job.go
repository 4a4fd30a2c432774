package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle of an analysis job.
type JobStatus string

const (
	StatusQueued           JobStatus = "queued"
	StatusExtracting       JobStatus = "extracting"
	StatusTranscribing     JobStatus = "transcribing"
	StatusAnalyzingEmotion JobStatus = "analyzing_emotion"
	StatusAnalyzingVision  JobStatus = "analyzing_vision"
	StatusScoring          JobStatus = "scoring"
	StatusCompleted        JobStatus = "completed"
	StatusFailed           JobStatus = "failed"
)

// Terminal reports whether a job in this status will never change again.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AnalysisJob is one run of the pipeline over one MediaAsset. Only the
// orchestrator mutates it; Progress never decreases, and Evaluation is
// attached exactly when the job completes.
type AnalysisJob struct {
	ID         string
	AssetID    string
	Status     JobStatus
	Progress   int
	Error      string
	Transcript *TranscriptResult
	Vision     *VisionResult
	Emotion    *EmotionResult
	Evaluation *Evaluation
	CreatedAt  time.Time
	FinishedAt *time.Time
}

func NewAnalysisJob(assetID string) *AnalysisJob {
	return &AnalysisJob{
		ID:        uuid.New().String(),
		AssetID:   assetID,
		Status:    StatusQueued,
		CreatedAt: time.Now(),
	}
}
