package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/gaimlab/teachlens/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Progress streams carry no sensitive state and the frontend may be
	// served from a different origin during development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// ProgressSocketHandler streams job progress events over a WebSocket.
// The stream ends after the terminal event. Client {"type":"ping"}
// messages get a {"type":"pong"} back; everything else from the client
// is ignored.
func (app *App) ProgressSocketHandler(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	events, unsubscribe, err := app.Orchestrator.Subscribe(jobID)
	if err != nil {
		if errors.Is(err, pipeline.ErrJobNotFound) {
			respondError(w, http.StatusNotFound, "Analysis not found")
		} else {
			respondError(w, http.StatusInternalServerError, "Failed to subscribe")
		}
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed for job %s: %v", jobID, err)
		return
	}
	defer conn.Close()

	// The subscription delivers the job's current progress as its first
	// event, so the client sees a state right away.

	// Reader goroutine: surfaces client pings and detects the client
	// going away. All writes stay on this handler's goroutine.
	clientGone := make(chan struct{})
	clientPings := make(chan struct{}, 1)
	go func() {
		defer close(clientGone)
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}
			var msg struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(data, &msg) == nil && msg.Type == "ping" {
				select {
				case clientPings <- struct{}{}:
				default:
				}
			}
		}
	}()

	pingTicker := time.NewTicker(wsPingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Terminal() {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(wsWriteTimeout))
				return
			}
		case <-clientPings:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(map[string]string{"type": "pong"}); err != nil {
				return
			}
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case <-clientGone:
			return
		}
	}
}
