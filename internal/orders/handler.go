package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/honey-marketplace/internal/domain"
	"github.com/joao-fontenele/honey-marketplace/internal/identity"
)

const maxRequestBody = 16 << 10

type Store interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error)
	UpdateSubOrderStatus(ctx context.Context, id, sellerUserID string, next domain.SubOrderStatus) (*domain.SubOrder, error)
}

type Handler struct {
	store  Store
	logger *slog.Logger
}

func NewHandler(store Store, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger,
	}
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromRequest(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if order == nil || order.BuyerID != user.ID {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.logger.Info("order retrieved", "order_id", order.ID)
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromRequest(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	orders, err := h.store.ListByBuyer(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to list orders", "error", err, "buyer_id", user.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("orders listed", "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

type updateStatusRequest struct {
	Status domain.SubOrderStatus `json:"status"`
}

func (h *Handler) HandleUpdateSubOrderStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromRequest(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing sub-order id")
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !req.Status.Valid() {
		h.writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	subOrder, err := h.store.UpdateSubOrderStatus(r.Context(), id, user.ID, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			h.writeError(w, http.StatusNotFound, "sub-order not found")
		case errors.Is(err, ErrInvalidTransition):
			h.writeError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error("failed to update sub-order status", "error", err, "id", id)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.logger.Info("sub-order status updated", "sub_order_id", subOrder.ID, "status", subOrder.Status)
	h.writeJSON(w, http.StatusOK, subOrder)
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
