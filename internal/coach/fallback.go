package coach

import (
	"strings"

	"github.com/gaimlab/teachlens/internal/models"
)

// fallbackEntry maps topic keywords to a canned coaching answer used when
// the generative backend is unreachable. Entries are checked in order and
// the first keyword hit wins.
type fallbackEntry struct {
	keywords []string
	answer   string
}

var fallbackAnswers = []fallbackEntry{
	{
		keywords: []string{"시간 배분", "시간"},
		answer: "시간 배분은 도입-전개-정리 구조를 미리 분 단위로 계획하는 것에서 시작됩니다. " +
			"도입은 전체의 10~15%, 정리는 10% 정도로 잡고, 전개 단계의 활동마다 예상 소요 시간을 적어 두세요. " +
			"수업 중에는 시계를 의식적으로 확인하고, 활동이 길어지면 다음 활동을 줄이는 대신 핵심 내용을 우선하는 연습이 효과적입니다.",
	},
	{
		keywords: []string{"습관어"},
		answer: "습관어는 본인이 인식하는 것만으로도 크게 줄어듭니다. 수업 녹음을 다시 들으며 자주 쓰는 표현을 체크하고, " +
			"말문이 막힐 때는 습관어 대신 잠깐 멈추는 연습을 해 보세요. 짧은 침묵은 오히려 학생들의 집중을 돕습니다.",
	},
	{
		keywords: []string{"발문", "질문"},
		answer: "발문은 폐쇄형보다 개방형 질문의 비율을 높이는 것이 핵심입니다. \"맞나요?\" 대신 \"왜 그렇게 생각하나요?\"처럼 " +
			"사고를 확장하는 질문을 준비하고, 발문 후에는 3초 이상 기다려 학생이 생각할 시간을 주세요.",
	},
	{
		keywords: []string{"시선", "아이컨택"},
		answer: "시선 처리는 교실을 구역으로 나누어 고르게 바라보는 연습이 도움이 됩니다. " +
			"판서하는 동안에도 몸을 완전히 돌리지 말고, 중요한 설명은 반드시 학생들을 바라보며 하세요.",
	},
	{
		keywords: []string{"학생", "참여"},
		answer: "학생 참여를 높이려면 한 수업에 최소 한 번은 모든 학생이 반응할 기회를 만드세요. " +
			"짝 활동이나 손들기 같은 가벼운 참여 장치를 활용하고, 소극적인 학생에게는 답하기 쉬운 질문부터 건네는 것이 좋습니다.",
	},
}

const defaultFallbackAnswer = "좋은 질문입니다. 분석 결과의 차원별 피드백을 기준으로, 점수가 낮은 차원부터 하나씩 개선 목표를 세워 보세요. " +
	"구체적인 차원(발문, 시선, 습관어, 시간 배분, 학생 참여)을 말씀해 주시면 더 자세한 조언을 드릴 수 있습니다."

// fallbackAnswer picks a canned answer for the message.
func fallbackAnswer(message string) string {
	for _, entry := range fallbackAnswers {
		for _, kw := range entry.keywords {
			if strings.Contains(message, kw) {
				return entry.answer
			}
		}
	}
	return defaultFallbackAnswer
}

// suggestion candidates keyed by topic, mirrored on both the question and
// the answer text.
var suggestionTable = []struct {
	keyword string
	related string
}{
	{"발문", "효과적인 발문 예시를 알려주세요"},
	{"시선", "교실 시선 분배 팁을 알려주세요"},
	{"습관어", "습관어를 줄이는 방법은?"},
	{"시간", "수업 시간 배분 가이드를 알려주세요"},
	{"학생", "학생 참여를 높이는 방법은?"},
}

// quickTips is the canned improvement-tip list behind quick feedback.
var quickTips = []string{
	"발문 기법을 개선해 보세요. 개방형 질문을 더 많이 활용하면 학생 참여가 높아집니다.",
	"판서할 때 글씨 크기를 조금 더 키우면 가독성이 향상됩니다.",
	"도입 단계에서 전시학습 상기를 간략하게 하면 본시 학습 시간을 확보할 수 있습니다.",
	"교실 전체를 고르게 바라보며 시선을 분산시켜 보세요.",
	"긍정적인 표정과 제스처를 더 적극적으로 활용해 보세요.",
}

// tipForDimension points rubric dimensions at the quickTips entry that
// addresses them.
var tipForDimension = map[string]int{
	models.DimStudentEngagement: 0,
	models.DimCommunication:     1,
	models.DimTimeManagement:    2,
	models.DimTeachingAttitude:  4,
}

// weakestTipIndex is the tip index for the evaluation's weakest covered
// dimension, by score-to-maximum ratio. Zero when no evaluation is
// available.
func weakestTipIndex(jobs EvaluationSource, analysisID string) int {
	if jobs == nil || analysisID == "" {
		return 0
	}
	job, err := jobs.Snapshot(analysisID)
	if err != nil || job == nil || job.Evaluation == nil {
		return 0
	}
	idx := 0
	worst := 2.0
	for _, dim := range models.DimensionOrder {
		tip, ok := tipForDimension[dim]
		if !ok {
			continue
		}
		ds, ok := job.Evaluation.Dimensions[dim]
		if !ok || ds.MaxScore == 0 {
			continue
		}
		if ratio := float64(ds.Score) / float64(ds.MaxScore); ratio < worst {
			worst = ratio
			idx = tip
		}
	}
	return idx
}

var defaultSuggestions = []string{
	"수업 전문성을 높이려면 어떻게 해야 하나요?",
	"다음 수업에서 바로 적용할 수 있는 팁을 알려주세요",
}

// followupSuggestions derives up to three follow-up questions from the
// exchange.
func followupSuggestions(userMessage, answer string) []string {
	var suggestions []string
	for _, s := range suggestionTable {
		if strings.Contains(userMessage, s.keyword) || strings.Contains(answer, s.keyword) {
			suggestions = append(suggestions, s.related)
		}
	}
	if len(suggestions) == 0 {
		suggestions = append(suggestions, defaultSuggestions...)
	}
	if len(suggestions) > 3 {
		suggestions = suggestions[:3]
	}
	return suggestions
}
