package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gaimlab/teachlens/internal/coach"
	"github.com/gaimlab/teachlens/internal/models"
)

type chatRequest struct {
	SessionID  string `json:"session_id"`
	Message    string `json:"message"`
	AnalysisID string `json:"analysis_id"`
}

type chatMessageResponse struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type chatResponse struct {
	SessionID   string              `json:"session_id"`
	Message     chatMessageResponse `json:"message"`
	Suggestions []string            `json:"suggestions"`
}

func toChatMessageResponse(msg models.ChatMessage) chatMessageResponse {
	return chatMessageResponse{
		Role:      msg.Role,
		Content:   msg.Content,
		Timestamp: msg.Timestamp.Format(time.RFC3339Nano),
	}
}

// ChatMessageHandler sends one message to the coach and returns its reply.
func (app *App) ChatMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, err := app.Coach.Send(r.Context(), req.SessionID, req.AnalysisID, req.Message)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Coach unavailable")
		return
	}

	respondJSON(w, http.StatusOK, chatResponse{
		SessionID:   reply.SessionID,
		Message:     toChatMessageResponse(reply.Message),
		Suggestions: reply.Suggestions,
	})
}

type chatSessionResponse struct {
	SessionID  string                `json:"session_id"`
	AnalysisID string                `json:"analysis_id,omitempty"`
	Messages   []chatMessageResponse `json:"messages"`
	CreatedAt  string                `json:"created_at"`
}

// ChatSessionHandler returns a session's message history.
func (app *App) ChatSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	session, err := app.Coach.Session(sessionID)
	if err != nil {
		if errors.Is(err, coach.ErrSessionNotFound) {
			respondError(w, http.StatusNotFound, "Session not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to load session")
		return
	}

	messages := make([]chatMessageResponse, 0, len(session.Messages))
	for _, msg := range session.Messages {
		messages = append(messages, toChatMessageResponse(msg))
	}
	respondJSON(w, http.StatusOK, chatSessionResponse{
		SessionID:  session.ID,
		AnalysisID: session.AnalysisID,
		Messages:   messages,
		CreatedAt:  session.CreatedAt.Format(time.RFC3339),
	})
}

type quickFeedbackRequest struct {
	AnalysisID string `json:"analysis_id"`
}

// QuickFeedbackHandler returns canned improvement tips for an analysis
// without opening a coaching session.
func (app *App) QuickFeedbackHandler(w http.ResponseWriter, r *http.Request) {
	var req quickFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AnalysisID == "" {
		respondError(w, http.StatusBadRequest, "analysis_id is required")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"analysis_id": req.AnalysisID,
		"tips":        app.Coach.QuickFeedback(req.AnalysisID),
	})
}

// ChatDeleteHandler removes a session.
func (app *App) ChatDeleteHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	if err := app.Coach.Delete(sessionID); err != nil {
		if errors.Is(err, coach.ErrSessionNotFound) {
			respondError(w, http.StatusNotFound, "Session not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to delete session")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Session deleted"})
}
