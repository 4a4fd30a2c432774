// Package coach runs the conversational coaching sessions that follow an
// analysis. Answers come from the generative backend when it is reachable
// and from a rule-based fallback when it is not; the caller never sees a
// backend failure.
package coach

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gaimlab/teachlens/internal/clients"
	"github.com/gaimlab/teachlens/internal/models"
)

var ErrSessionNotFound = errors.New("coaching session not found")

// historyWindow caps how much of the conversation is replayed into the
// prompt.
const historyWindow = 10

const systemPrompt = `당신은 예비교사들의 수업 역량 향상을 돕는 'AI 수업 코치'입니다.

역할:
1. 7차원 평가 결과(수업 전문성, 교수학습 방법, 판서 및 언어, 수업 태도, 학생 참여, 시간 배분, 창의성)에 대해 상세히 설명합니다.
2. 개선점에 대한 구체적이고 실행 가능한 조언을 제공합니다.
3. 격려하고 긍정적인 톤을 유지합니다.

규칙:
- 한국어로 답변합니다.
- 답변은 명확하고 구조화되어야 합니다.
- 교육학 용어를 사용할 때는 쉽게 풀어서 설명합니다.`

// EvaluationSource looks up analysis results to ground coaching answers.
type EvaluationSource interface {
	Snapshot(jobID string) (*models.AnalysisJob, error)
}

// Reply is one coach turn: the session it belongs to, the assistant
// message, and follow-up question suggestions.
type Reply struct {
	SessionID   string
	Message     models.ChatMessage
	Suggestions []string
}

// Manager owns the in-memory session registry.
type Manager struct {
	gen  clients.Generative
	jobs EvaluationSource

	mu       sync.RWMutex
	sessions map[string]*models.CoachingSession
}

func NewManager(gen clients.Generative, jobs EvaluationSource) *Manager {
	return &Manager{
		gen:      gen,
		jobs:     jobs,
		sessions: make(map[string]*models.CoachingSession),
	}
}

// Send records the user message, produces an answer, and returns the
// reply. An empty or unknown session id starts a new session.
func (m *Manager) Send(ctx context.Context, sessionID, analysisID, message string) (*Reply, error) {
	session := m.getOrCreate(sessionID, analysisID)

	session.Append(models.RoleUser, message)

	answer, suggestions := m.answer(ctx, session, message)
	assistant := session.Append(models.RoleAssistant, answer)

	if len(suggestions) == 0 {
		suggestions = followupSuggestions(message, answer)
	}

	return &Reply{
		SessionID:   session.ID,
		Message:     assistant,
		Suggestions: suggestions,
	}, nil
}

// SessionView is a point-in-time copy of one session's state.
type SessionView struct {
	ID         string
	AnalysisID string
	CreatedAt  time.Time
	Messages   []models.ChatMessage
}

// Session returns a copy of the session's current state.
func (m *Manager) Session(sessionID string) (*SessionView, error) {
	m.mu.RLock()
	session, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &SessionView{
		ID:         session.ID,
		AnalysisID: session.AnalysisID,
		CreatedAt:  session.CreatedAt,
		Messages:   session.History(),
	}, nil
}

// QuickFeedback returns improvement tips for an analysis without opening
// a session. The completed evaluation's weakest dimension leads the list
// when it maps to a tip topic.
func (m *Manager) QuickFeedback(analysisID string) []string {
	tips := append([]string(nil), quickTips...)
	if idx := weakestTipIndex(m.jobs, analysisID); idx > 0 {
		tips[0], tips[idx] = tips[idx], tips[0]
	}
	return tips
}

// Delete removes a session.
func (m *Manager) Delete(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, sessionID)
	return nil
}

func (m *Manager) getOrCreate(sessionID, analysisID string) *models.CoachingSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sessionID != "" {
		if session, ok := m.sessions[sessionID]; ok {
			return session
		}
	}
	session := models.NewCoachingSession(analysisID)
	m.sessions[session.ID] = session
	return session
}

// answer asks the generative backend and falls back to the rule-based
// table on any failure.
func (m *Manager) answer(ctx context.Context, session *models.CoachingSession, message string) (string, []string) {
	prompt := m.buildPrompt(session)

	resp, err := m.gen.Generate(ctx, prompt)
	if err != nil {
		log.Printf("Generative backend unavailable for session %s, using fallback: %v", session.ID, err)
		return fallbackAnswer(message), nil
	}
	return resp.Answer, resp.Suggestions
}

// buildPrompt assembles the system prompt, the evaluation grounding when
// the session is bound to a completed analysis, and the recent history.
func (m *Manager) buildPrompt(session *models.CoachingSession) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\n")

	if grounding := m.evaluationGrounding(session.AnalysisID); grounding != "" {
		b.WriteString(grounding)
		b.WriteString("\n")
	}

	messages := session.History()
	if len(messages) > historyWindow {
		messages = messages[len(messages)-historyWindow:]
	}
	for _, msg := range messages {
		role := "사용자"
		if msg.Role == models.RoleAssistant {
			role = "AI 코치"
		}
		fmt.Fprintf(&b, "%s: %s\n\n", role, msg.Content)
	}
	return b.String()
}

func (m *Manager) evaluationGrounding(analysisID string) string {
	if analysisID == "" || m.jobs == nil {
		return ""
	}
	job, err := m.jobs.Snapshot(analysisID)
	if err != nil || job == nil || job.Evaluation == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "이 사용자의 수업 분석 결과: 총점 %d점, 등급 %s\n", job.Evaluation.TotalScore, job.Evaluation.Grade)
	for _, dim := range models.DimensionOrder {
		ds, ok := job.Evaluation.Dimensions[dim]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %s: %d/%d점 (%s)\n", models.DimensionName[dim], ds.Score, ds.MaxScore, ds.Feedback)
	}
	return b.String()
}
