package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/joao-fontenele/honey-marketplace/internal/domain"
	"github.com/joao-fontenele/honey-marketplace/internal/identity"
)

const (
	NonceCookie   = "checkout_nonce"
	SessionCookie = "checkout_session"

	maxRequestBody = 1 << 20
)

type PaymentLookup interface {
	GetPaymentBySession(ctx context.Context, sessionID string) (*domain.PaymentRecord, error)
}

type CookieSettings struct {
	TTL    time.Duration
	Secure bool
}

type Handler struct {
	controller *Controller
	payments   PaymentLookup
	cookies    CookieSettings
	logger     *slog.Logger
}

func NewHandler(controller *Controller, payments PaymentLookup, cookies CookieSettings, logger *slog.Logger) *Handler {
	return &Handler{
		controller: controller,
		payments:   payments,
		cookies:    cookies,
		logger:     logger,
	}
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromRequest(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.controller.Checkout(r.Context(), user, req)
	if err != nil {
		switch {
		case IsClientError(err):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrStockRaceLost):
			h.writeError(w, http.StatusConflict, "some items are no longer in stock")
		default:
			h.logger.Error("checkout failed", "error", err, "buyer_id", user.ID)
			h.writeError(w, http.StatusInternalServerError, ErrSessionCreate.Error())
		}
		return
	}

	h.setCookie(w, NonceCookie, result.Nonce)
	h.setCookie(w, SessionCookie, result.SessionID)

	h.writeJSON(w, http.StatusOK, map[string]string{"url": result.RedirectURL})
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(h.cookies.TTL.Seconds()),
		Expires:  time.Now().Add(h.cookies.TTL),
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

type confirmResponse struct {
	OrderID       string               `json:"order_id"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
}

// HandleConfirm lets the success page check that the returned session
// belongs to this browser before showing the order.
func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, "missing session_id")
		return
	}

	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value != sessionID {
		h.writeError(w, http.StatusForbidden, "session does not belong to this browser")
		return
	}

	p, err := h.payments.GetPaymentBySession(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("failed to get payment", "error", err, "session_id", sessionID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if p == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	if nonce, err := r.Cookie(NonceCookie); err == nil && nonce.Value != p.Nonce {
		h.writeError(w, http.StatusForbidden, "session does not belong to this browser")
		return
	}

	h.writeJSON(w, http.StatusOK, confirmResponse{OrderID: p.OrderID, PaymentStatus: p.Status})
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
