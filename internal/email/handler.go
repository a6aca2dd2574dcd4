package email

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

const outboxSize = 100

// Handler is a stand-in email service for local runs. It logs each message
// and keeps the most recent ones for inspection.
type Handler struct {
	logger *slog.Logger

	mu     sync.Mutex
	outbox []Message
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{
		logger: logger,
	}
}

type sendResponse struct {
	Status string `json:"status"`
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !strings.Contains(msg.To, "@") || strings.TrimSpace(msg.Subject) == "" {
		h.writeError(w, http.StatusBadRequest, "to and subject are required")
		return
	}

	h.mu.Lock()
	h.outbox = append(h.outbox, msg)
	if len(h.outbox) > outboxSize {
		h.outbox = h.outbox[len(h.outbox)-outboxSize:]
	}
	h.mu.Unlock()

	h.logger.Info("email sent", "to", msg.To, "subject", msg.Subject)

	h.writeJSON(w, http.StatusOK, sendResponse{Status: "sent"})
}

func (h *Handler) HandleOutbox(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	out := make([]Message, len(h.outbox))
	copy(out, h.outbox)
	h.mu.Unlock()

	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
