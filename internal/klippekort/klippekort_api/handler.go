package klippekort_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ms-klippekort/internal/auth"
	"ms-klippekort/internal/klippekort"
	"ms-klippekort/internal/logger"
	"ms-klippekort/internal/models"
	"ms-klippekort/internal/qr"
	"ms-klippekort/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Ledger interface {
	ListCards(ctx context.Context, owner string) (*models.CardViews, error)
	Redeem(ctx context.Context, owner, cardID string, stamps int) (*models.RedemptionTicket, error)
	Redemptions(ctx context.Context, owner, cardID string) ([]models.RedemptionTicket, error)
	Tickets(ctx context.Context, owner string) ([]models.RedemptionTicket, error)
	Ticket(ctx context.Context, owner, ticketID string) (*models.RedemptionTicket, error)
	TicketRefunded(ctx context.Context, ticket *models.RedemptionTicket) (bool, error)
	ActivateTicket(ctx context.Context, owner, ticketID string) (models.Countdown, error)
	Issue(ctx context.Context, order models.Order) ([]models.PunchCard, error)
	ApplyRefund(ctx context.Context, outcome models.RefundOutcome) (*models.Order, error)
	IsRefunded(ctx context.Context, orderReference, itemKey string) (bool, error)
	Reconcile(ctx context.Context, owner, cardID string) (*klippekort.ReconcileReport, error)
}

type Handler struct {
	Ledger      Ledger
	QRGenerator *qr.QRGenerator
	Limiter     *OwnerLimiter
	Logger      *logger.Logger
}

func NewHandler(ledger Ledger, qrGen *qr.QRGenerator, limiter *OwnerLimiter, log *logger.Logger) *Handler {
	return &Handler{Ledger: ledger, QRGenerator: qrGen, Limiter: limiter, Logger: log}
}

type validatable interface {
	Validate() error
}

func decode(r *http.Request, v validatable) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return v.Validate()
}

// statusFor maps ledger errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, klippekort.ErrInvalidStampCount),
		errors.Is(err, klippekort.ErrInvalidOrder),
		errors.Is(err, qr.ErrInvalidCode):
		return http.StatusBadRequest
	case errors.Is(err, klippekort.ErrInsufficientBalance),
		errors.Is(err, klippekort.ErrRedemptionInProgress),
		errors.Is(err, klippekort.ErrVersionConflict),
		errors.Is(err, klippekort.ErrOrderExists):
		return http.StatusConflict
	case errors.Is(err, klippekort.ErrCardNotFound),
		errors.Is(err, klippekort.ErrOrderNotFound),
		errors.Is(err, klippekort.ErrTicketNotFound):
		return http.StatusNotFound
	case errors.Is(err, klippekort.ErrCardRefunded),
		errors.Is(err, klippekort.ErrCardExpired):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
		detail = "internal error"
	}
	utils.WriteJSON(w, status, utils.ErrorResponse(message, detail))
}

func badRequest(w http.ResponseWriter, message string, err error) {
	utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse(message, err.Error()))
}

// ---------------- OWNER ----------------

func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	views, err := h.Ledger.ListCards(r.Context(), auth.Owner(r.Context()))
	if err != nil {
		h.fail(w, r, "failed to list punch cards", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("punch cards", views))
}

func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	owner := auth.Owner(r.Context())
	cardID := chi.URLParam(r, "cardId")

	if h.Limiter != nil && !h.Limiter.Allow(owner) {
		h.Logger.LogSecurity("RATE_LIMIT", fmt.Sprintf("redeem by %s throttled", owner))
		utils.WriteJSON(w, http.StatusTooManyRequests, utils.ErrorResponse("redeem failed", "too many requests"))
		return
	}

	var req RedeemRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "redeem failed", err)
		return
	}

	ticket, err := h.Ledger.Redeem(r.Context(), owner, cardID, req.Stamps)
	if err != nil {
		h.Logger.Info("API", fmt.Sprintf("Redeem %d on %s by %s refused: %v", req.Stamps, cardID, owner, err))
		h.fail(w, r, "redeem failed", err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("stamps redeemed", ticket))
}

func (h *Handler) Redemptions(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.Ledger.Redemptions(r.Context(), auth.Owner(r.Context()), chi.URLParam(r, "cardId"))
	if err != nil {
		h.fail(w, r, "failed to load redemptions", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("redemptions", tickets))
}

func (h *Handler) Tickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.Ledger.Tickets(r.Context(), auth.Owner(r.Context()))
	if err != nil {
		h.fail(w, r, "failed to load tickets", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("tickets", tickets))
}

func (h *Handler) ActivateTicket(w http.ResponseWriter, r *http.Request) {
	countdown, err := h.Ledger.ActivateTicket(r.Context(), auth.Owner(r.Context()), chi.URLParam(r, "ticketId"))
	if err != nil {
		h.fail(w, r, "activation failed", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ticket active", countdown))
}

func (h *Handler) TicketQR(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.Ledger.Ticket(r.Context(), auth.Owner(r.Context()), chi.URLParam(r, "ticketId"))
	if err != nil {
		h.fail(w, r, "failed to load ticket", err)
		return
	}

	png, err := h.QRGenerator.GenerateEncryptedQR(*ticket)
	if err != nil {
		h.fail(w, r, "failed to render QR code", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// ---------------- ADMIN ----------------

func (h *Handler) IssueOrder(w http.ResponseWriter, r *http.Request) {
	var req IssueOrderRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "issue failed", err)
		return
	}

	cards, err := h.Ledger.Issue(r.Context(), req.Order())
	if err != nil {
		h.fail(w, r, "issue failed", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse(fmt.Sprintf("%d punch cards issued", len(cards)), cards))
}

func (h *Handler) ApplyRefund(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "refund failed", err)
		return
	}

	order, err := h.Ledger.ApplyRefund(r.Context(), models.RefundOutcome{
		OrderReference: chi.URLParam(r, "orderReference"),
		ItemName:       req.ItemName,
		RefundQty:      req.RefundQty,
		AmountValue:    req.AmountValue,
	})
	if err != nil {
		h.fail(w, r, "refund failed", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("refund recorded", order))
}

func (h *Handler) IsRefunded(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "orderReference")
	item := r.URL.Query().Get("item")

	refunded, err := h.Ledger.IsRefunded(r.Context(), ref, klippekort.ItemKey(ref, item))
	if err != nil {
		h.fail(w, r, "refund lookup failed", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("refund state", map[string]interface{}{
		"orderReference": ref,
		"item":           item,
		"refunded":       refunded,
	}))
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		badRequest(w, "reconcile failed", errors.New("owner query parameter is required"))
		return
	}

	report, err := h.Ledger.Reconcile(r.Context(), owner, chi.URLParam(r, "cardId"))
	if err != nil {
		h.fail(w, r, "reconcile failed", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("reconciled", report))
}

type verification struct {
	Valid    bool                     `json:"valid"`
	Refunded bool                     `json:"refunded"`
	Payload  *qr.Payload              `json:"payload"`
	Ticket   *models.RedemptionTicket `json:"ticket"`
}

// VerifyTicket checks a scanned QR code against the redemption log.
func (h *Handler) VerifyTicket(w http.ResponseWriter, r *http.Request) {
	var req VerifyTicketRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "verification failed", err)
		return
	}

	payload, err := h.QRGenerator.Decrypt(req.EncryptedQR)
	if err != nil {
		h.Logger.LogSecurity("INVALID_QR", err.Error())
		h.fail(w, r, "verification failed", err)
		return
	}

	ticket, err := h.Ledger.Ticket(r.Context(), payload.Owner, payload.TicketID)
	if err != nil {
		h.fail(w, r, "verification failed", err)
		return
	}

	refunded, err := h.Ledger.TicketRefunded(r.Context(), ticket)
	if err != nil {
		h.fail(w, r, "verification failed", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ticket verified", verification{
		Valid:    !refunded,
		Refunded: refunded,
		Payload:  payload,
		Ticket:   ticket,
	}))
}
