package producers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/honey-marketplace/internal/domain"
	"github.com/joao-fontenele/honey-marketplace/internal/identity"
)

const maxRequestBody = 16 << 10

type Store interface {
	Create(ctx context.Context, p *domain.Producer) error
	GetByUserID(ctx context.Context, userID string) (*domain.Producer, error)
}

type UserStore interface {
	EnsureUser(ctx context.Context, id, email string) error
}

// Notifier receives lifecycle events. Dispatch must not block.
type Notifier interface {
	Dispatch(event domain.Event)
}

type Handler struct {
	store    Store
	users    UserStore
	notifier Notifier
	logger   *slog.Logger
}

func NewHandler(store Store, users UserStore, notifier Notifier, logger *slog.Logger) *Handler {
	return &Handler{
		store:    store,
		users:    users,
		notifier: notifier,
		logger:   logger,
	}
}

type registerRequest struct {
	BusinessName string `json:"business_name"`
	Email        string `json:"email"`
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromRequest(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req registerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.BusinessName = strings.TrimSpace(req.BusinessName)
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		req.Email = user.Email
	}

	if l := len(req.BusinessName); l < 2 || l > 120 {
		h.writeError(w, http.StatusBadRequest, "business_name must be between 2 and 120 characters")
		return
	}
	if !domain.ValidEmail(req.Email) {
		h.writeError(w, http.StatusBadRequest, "invalid email")
		return
	}

	if err := h.users.EnsureUser(r.Context(), user.ID, user.Email); err != nil {
		h.logger.Error("failed to materialize user", "error", err, "user_id", user.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	producer := &domain.Producer{
		UserID:       user.ID,
		BusinessName: req.BusinessName,
		Email:        req.Email,
	}

	if err := h.store.Create(r.Context(), producer); err != nil {
		if errors.Is(err, ErrAlreadyRegistered) {
			h.writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("failed to create producer", "error", err, "user_id", user.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.notifier.Dispatch(domain.Event{
		ID:   uuid.New().String(),
		Type: domain.EventProducerRegistered,
		Producer: &domain.ProducerRegisteredEvent{
			ProducerID:   producer.ID,
			BusinessName: producer.BusinessName,
			Email:        producer.Email,
		},
		Timestamp: time.Now().UTC(),
	})

	h.logger.Info("producer registered", "producer_id", producer.ID, "user_id", user.ID)
	h.writeJSON(w, http.StatusCreated, producer)
}

// HandleGetMine returns the caller's own producer profile.
func (h *Handler) HandleGetMine(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromRequest(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	producer, err := h.store.GetByUserID(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to get producer", "error", err, "user_id", user.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if producer == nil {
		h.writeError(w, http.StatusNotFound, "producer profile not found")
		return
	}

	h.writeJSON(w, http.StatusOK, producer)
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
