package models

// UtteranceSegment is one speech segment as delimited by the STT model's
// voice activity detection. Segments are never merged or split downstream.
type UtteranceSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptResult is the speech analyzer output for one job.
type TranscriptResult struct {
	Segments     []UtteranceSegment `json:"segments"`
	Text         string             `json:"text"`
	FillerCounts map[string]int     `json:"filler_words"`
}

// TotalFillerCount sums filler occurrences across the whole transcript.
func (t *TranscriptResult) TotalFillerCount() int {
	total := 0
	for _, n := range t.FillerCounts {
		total += n
	}
	return total
}

// VisionResult aggregates per-frame pose detections over one job. All three
// values are in [0,1]. AvgConfidence averages detected faces only; frames
// without a face contribute nothing to it.
type VisionResult struct {
	FaceVisibleRatio   float64 `json:"face_visible_ratio"`
	GestureActiveRatio float64 `json:"gesture_active_ratio"`
	AvgConfidence      float64 `json:"avg_confidence"`
}

// EmotionResult is the emotion class distribution over the sampled frames.
// Ratios sum to 1 within floating tolerance; Dominant is the argmax under
// the analyzer's fixed tie-break order.
type EmotionResult struct {
	Ratios   map[string]float64 `json:"ratios"`
	Dominant string             `json:"dominant"`
}

// PositiveRatio returns the combined share of positive emotion classes.
func (e *EmotionResult) PositiveRatio() float64 {
	return e.Ratios["happy"] + e.Ratios["surprise"]
}

// NegativeRatio returns the combined share of negative emotion classes.
func (e *EmotionResult) NegativeRatio() float64 {
	return e.Ratios["sad"] + e.Ratios["angry"] + e.Ratios["fear"] + e.Ratios["disgust"]
}
