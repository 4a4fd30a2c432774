package analysis

import (
	"context"
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/gaimlab/teachlens/internal/clients"
	"github.com/gaimlab/teachlens/internal/models"
)

// VisionAnalyzer runs the pose/face model over each sampled frame and
// aggregates per-video ratios. Given identical frames and identical model
// outputs the result is identical.
type VisionAnalyzer struct {
	detector         clients.PoseDetector
	gestureThreshold float64
}

func NewVisionAnalyzer(detector clients.PoseDetector, gestureThreshold float64) *VisionAnalyzer {
	return &VisionAnalyzer{detector: detector, gestureThreshold: gestureThreshold}
}

// Analyze detects pose per frame. A frame without a face contributes zero
// to the face-visible ratio and is excluded from the confidence average.
// Gesture-active frames are those whose wrist displacement against the
// previous sampled frame exceeds the configured threshold.
func (a *VisionAnalyzer) Analyze(ctx context.Context, frames [][]byte) (*models.VisionResult, error) {
	if len(frames) == 0 {
		return &models.VisionResult{}, nil
	}

	faceCount := 0
	gestureCount := 0
	confidenceSum := 0.0

	var prev *clients.PoseDetection
	for _, frame := range frames {
		det, err := retryOnce(ctx, func() (*clients.PoseDetection, error) {
			return a.detector.DetectPose(ctx, frame)
		})
		if err != nil {
			return nil, stageErr("analyzing_vision", err)
		}

		if det.FaceDetected {
			faceCount++
			confidenceSum += det.FaceConfidence
		}
		if prev != nil && wristMotion(prev, det) > a.gestureThreshold {
			gestureCount++
		}
		prev = det
	}

	result := &models.VisionResult{
		FaceVisibleRatio:   float64(faceCount) / float64(len(frames)),
		GestureActiveRatio: float64(gestureCount) / float64(len(frames)),
	}
	if faceCount > 0 {
		result.AvgConfidence = confidenceSum / float64(faceCount)
	}

	log.Printf("Vision: %d frames, face ratio %.2f, gesture ratio %.2f",
		len(frames), result.FaceVisibleRatio, result.GestureActiveRatio)
	return result, nil
}

// wristMotion is the largest displacement of a wrist keypoint present in
// both frames. Wrists missing from either frame contribute nothing.
func wristMotion(prev, cur *clients.PoseDetection) float64 {
	motion := 0.0
	if d := keypointDistance(prev.LeftWrist, cur.LeftWrist); d > motion {
		motion = d
	}
	if d := keypointDistance(prev.RightWrist, cur.RightWrist); d > motion {
		motion = d
	}
	return motion
}

func keypointDistance(a, b *clients.Keypoint) float64 {
	if a == nil || b == nil {
		return 0
	}
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
