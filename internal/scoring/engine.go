// Package scoring maps the three analyzer outputs onto the fixed
// seven-dimension, 100-point microteaching rubric. Scoring is pure:
// identical analyzer outputs always produce an identical Evaluation.
package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/gaimlab/teachlens/internal/config"
	"github.com/gaimlab/teachlens/internal/models"
)

type Engine struct {
	gradeTable []config.GradeStep
}

func NewEngine(gradeTable []config.GradeStep) *Engine {
	return &Engine{gradeTable: gradeTable}
}

// Score computes the Evaluation for one job. Inputs must be non-nil;
// passing nil is a programming error, not a runtime failure.
func (e *Engine) Score(transcript *models.TranscriptResult, vision *models.VisionResult, emotion *models.EmotionResult) *models.Evaluation {
	if transcript == nil || vision == nil || emotion == nil {
		panic("scoring: nil analyzer result")
	}

	dims := map[string]models.DimensionScore{
		models.DimTeachingExpertise: scoreTeachingExpertise(transcript),
		models.DimTeachingMethod:    scoreTeachingMethod(vision),
		models.DimCommunication:     scoreCommunication(transcript),
		models.DimTeachingAttitude:  scoreTeachingAttitude(vision, emotion),
		models.DimStudentEngagement: scoreStudentEngagement(transcript, vision, emotion),
		models.DimTimeManagement:    scoreTimeManagement(transcript),
		models.DimCreativity:        scoreCreativity(vision, emotion),
	}

	total := 0
	for _, d := range dims {
		total += d.Score
	}

	return &models.Evaluation{
		TotalScore: total,
		Grade:      e.Grade(total),
		Dimensions: dims,
	}
}

// Grade maps a total score to its letter grade via the configured table.
func (e *Engine) Grade(total int) string {
	for _, step := range e.gradeTable {
		if total >= step.MinScore {
			return step.Grade
		}
	}
	return e.gradeTable[len(e.gradeTable)-1].Grade
}

// teaching_expertise (max 20): transcript volume as a proxy for content
// depth. 10 base points plus one per 500 characters of speech.
func scoreTeachingExpertise(t *models.TranscriptResult) models.DimensionScore {
	max := models.DimensionMax[models.DimTeachingExpertise]
	textLen := len([]rune(t.Text))
	score := clamp(10+textLen/500, 0, max)

	feedback := "학습 목표가 명확하게 제시되었습니다."
	if score < 12 {
		feedback = "수업 내용을 더 풍부하게 구성해 보세요."
	}
	return models.DimensionScore{Score: score, MaxScore: max, Feedback: feedback}
}

// teaching_method (max 20): gesture activity as a proxy for varied
// delivery.
func scoreTeachingMethod(v *models.VisionResult) models.DimensionScore {
	max := models.DimensionMax[models.DimTeachingMethod]
	score := clamp(12+round(v.GestureActiveRatio*10), 0, max)

	feedback := "다양한 교수법을 활용하고 있습니다."
	if v.GestureActiveRatio < 0.2 {
		feedback = "제스처와 시각 자료를 더 적극적으로 활용해 보세요."
	}
	return models.DimensionScore{Score: score, MaxScore: max, Feedback: feedback}
}

// communication (max 15): penalized by filler-word density and by
// speech-rate variance across utterance segments.
func scoreCommunication(t *models.TranscriptResult) models.DimensionScore {
	max := models.DimensionMax[models.DimCommunication]
	fillers := t.TotalFillerCount()
	score := clamp(max-fillers/5-ratePenalty(t), 0, max)

	feedback := "발화가 명료하고 전달력이 좋습니다."
	if fillers > 0 {
		feedback = fmt.Sprintf("습관어 %d회 감지됨. 발화 명료성을 높여보세요.", fillers)
	}
	return models.DimensionScore{Score: score, MaxScore: max, Feedback: feedback}
}

// ratePenalty grades the spread of per-segment speech rates (characters
// per second). A large spread reads as uneven pacing.
func ratePenalty(t *models.TranscriptResult) int {
	rates := make([]float64, 0, len(t.Segments))
	for _, s := range t.Segments {
		if d := s.End - s.Start; d > 0 {
			rates = append(rates, float64(len([]rune(s.Text)))/d)
		}
	}
	if len(rates) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range rates {
		mean += r
	}
	mean /= float64(len(rates))

	variance := 0.0
	for _, r := range rates {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(rates))

	switch stddev := math.Sqrt(variance); {
	case stddev > 6:
		return 2
	case stddev > 3:
		return 1
	default:
		return 0
	}
}

// teaching_attitude (max 15): camera-facing presence plus positive
// classroom mood.
func scoreTeachingAttitude(v *models.VisionResult, e *models.EmotionResult) models.DimensionScore {
	max := models.DimensionMax[models.DimTeachingAttitude]
	score := clamp(round(v.FaceVisibleRatio*8)+round(e.PositiveRatio()*7), 0, max)

	feedback := "자신감 있는 수업 태도가 돋보입니다."
	if v.FaceVisibleRatio < 0.5 {
		feedback = "카메라(학생)를 바라보는 시간을 늘려보세요."
	}
	return models.DimensionScore{Score: score, MaxScore: max, Feedback: feedback}
}

// student_engagement (max 15): questions asked, gesture activity, and
// positive mood together approximate interaction.
func scoreStudentEngagement(t *models.TranscriptResult, v *models.VisionResult, e *models.EmotionResult) models.DimensionScore {
	max := models.DimensionMax[models.DimStudentEngagement]
	questionBonus := min(3, strings.Count(t.Text, "?")/3)
	score := clamp(round(v.GestureActiveRatio*6)+round(e.PositiveRatio()*6)+questionBonus, 0, max)

	feedback := "학생 상호작용 증가를 권장합니다."
	if score >= 10 {
		feedback = "학생 참여 유도가 활발합니다."
	}
	return models.DimensionScore{Score: score, MaxScore: max, Feedback: feedback}
}

// time_management (max 10): share of the lesson span covered by speech.
// Long dead air between utterances lowers the score.
func scoreTimeManagement(t *models.TranscriptResult) models.DimensionScore {
	max := models.DimensionMax[models.DimTimeManagement]

	score := 3
	if n := len(t.Segments); n > 0 {
		span := t.Segments[n-1].End - t.Segments[0].Start
		if span > 0 {
			speaking := 0.0
			for _, s := range t.Segments {
				speaking += s.End - s.Start
			}
			score = clamp(4+round(speaking/span*6), 0, max)
		}
	}

	feedback := "시간 배분이 적절합니다."
	if score < 6 {
		feedback = "도입-전개-정리 시간 배분을 점검해 보세요."
	}
	return models.DimensionScore{Score: score, MaxScore: max, Feedback: feedback}
}

// creativity (max 5): delivery variety — gestures plus emotional range.
func scoreCreativity(v *models.VisionResult, e *models.EmotionResult) models.DimensionScore {
	max := models.DimensionMax[models.DimCreativity]

	variety := 0
	for _, ratio := range e.Ratios {
		if ratio >= 0.05 {
			variety++
		}
	}
	score := clamp(2+round(v.GestureActiveRatio*2)+min(variety-1, 1), 0, max)

	feedback := "창의적인 교수법 시도가 필요합니다."
	if score >= 4 {
		feedback = "창의적인 수업 구성이 돋보입니다."
	}
	return models.DimensionScore{Score: score, MaxScore: max, Feedback: feedback}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round(f float64) int {
	return int(math.Round(f))
}
