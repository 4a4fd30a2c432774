package analysis

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/gaimlab/teachlens/internal/clients"
	"github.com/gaimlab/teachlens/internal/models"
)

// EmotionAnalyzer classifies each sampled frame and aggregates the class
// distribution by simple counting. Ties in any argmax are broken by the
// fixed priority order so the result is deterministic.
type EmotionAnalyzer struct {
	classifier clients.EmotionClassifier
	priority   []string
}

func NewEmotionAnalyzer(classifier clients.EmotionClassifier, priority []string) *EmotionAnalyzer {
	return &EmotionAnalyzer{classifier: classifier, priority: priority}
}

func (a *EmotionAnalyzer) Analyze(ctx context.Context, frames [][]byte) (*models.EmotionResult, error) {
	if len(frames) == 0 {
		// No samples to classify: report a fully neutral distribution so the
		// ratios still sum to one.
		return &models.EmotionResult{
			Ratios:   map[string]float64{"neutral": 1.0},
			Dominant: "neutral",
		}, nil
	}

	counts := make(map[string]int)
	for _, frame := range frames {
		scores, err := retryOnce(ctx, func() (*clients.EmotionScores, error) {
			return a.classifier.ClassifyEmotion(ctx, frame)
		})
		if err != nil {
			return nil, stageErr("analyzing_emotion", err)
		}
		counts[a.argmaxScores(scores.Scores)]++
	}

	ratios := make(map[string]float64, len(counts))
	for label, n := range counts {
		ratios[label] = float64(n) / float64(len(frames))
	}

	result := &models.EmotionResult{
		Ratios:   ratios,
		Dominant: a.argmaxRatios(ratios),
	}

	log.Printf("Emotion: %d frames, dominant %s", len(frames), result.Dominant)
	return result, nil
}

// argmaxScores picks the highest-scoring label for one sample, resolving
// ties by priority order.
func (a *EmotionAnalyzer) argmaxScores(scores map[string]float64) string {
	best := ""
	bestScore := 0.0
	for _, label := range a.priority {
		score, ok := scores[label]
		if !ok {
			continue
		}
		if best == "" || score > bestScore {
			best = label
			bestScore = score
		}
	}
	if best == "" {
		return "neutral"
	}
	return best
}

func (a *EmotionAnalyzer) argmaxRatios(ratios map[string]float64) string {
	best := ""
	bestRatio := 0.0
	for _, label := range a.priority {
		ratio, ok := ratios[label]
		if !ok {
			continue
		}
		if best == "" || ratio > bestRatio {
			best = label
			bestRatio = ratio
		}
	}
	// Labels outside the priority order can only win when nothing in the
	// order was observed at all.
	if best == "" {
		for label, ratio := range ratios {
			if best == "" || ratio > bestRatio || (ratio == bestRatio && label < best) {
				best = label
				bestRatio = ratio
			}
		}
	}
	return best
}
