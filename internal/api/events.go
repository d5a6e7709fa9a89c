package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"lmscenter/internal/service"

	"go.uber.org/zap"
)

// keepAliveInterval период комментариев, которые держат соединение открытым
const keepAliveInterval = 30 * time.Second

// handleEvents отдает поток Server-Sent Events. Первое событие содержит текущий статус.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Broker == nil {
		writeError(w, http.StatusNotImplemented, "event stream is not configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming is not supported")
		return
	}

	events, unsubscribe := s.deps.Broker.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	status := s.deps.Checker.Status()
	if err := writeEvent(w, service.Event{Type: service.EventStatus, Status: &status, Time: time.Now()}); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, event); err != nil {
				s.logger.Debug("Event stream closed", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event service.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}
