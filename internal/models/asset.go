package models

import (
	"time"

	"github.com/google/uuid"
)

// MediaAsset is one validated upload. Immutable after ingestion; derived
// artifacts (frame samples, audio track) are keyed by the asset id and
// written once by the extracting stage of the owning job.
type MediaAsset struct {
	ID          string
	Filename    string
	StoredName  string
	ContentType string
	Size        int64
	Duration    float64
	UploadTime  time.Time
}

func NewMediaAsset(filename, storedName, contentType string, size int64, duration float64) *MediaAsset {
	return &MediaAsset{
		ID:          uuid.New().String(),
		Filename:    filename,
		StoredName:  storedName,
		ContentType: contentType,
		Size:        size,
		Duration:    duration,
		UploadTime:  time.Now(),
	}
}
