package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/linkflow-go/cashier/internal/billing/app/reconcile"
	billing "github.com/linkflow-go/cashier/internal/domain/billing"
	"github.com/linkflow-go/cashier/internal/services/billing/service"
	"github.com/linkflow-go/cashier/pkg/logger"
	"github.com/linkflow-go/cashier/pkg/middleware/auth"
	"github.com/linkflow-go/cashier/pkg/telemetry"
)

const (
	signatureHeader = "Stripe-Signature"
	maxWebhookBody  = 1 << 16
)

type BillingHandlers struct {
	service *service.BillingService
	logger  logger.Logger
}

func NewBillingHandlers(service *service.BillingService, logger logger.Logger) *BillingHandlers {
	return &BillingHandlers{
		service: service,
		logger:  logger,
	}
}

func (h *BillingHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *BillingHandlers) Ready(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *BillingHandlers) GetStatus(c *gin.Context) {
	subjectID, ok := subject(c)
	if !ok {
		return
	}

	status, err := h.service.Status(c.Request.Context(), subjectID)
	if err != nil {
		h.respondError(c, "get status", err)
		return
	}

	c.JSON(http.StatusOK, status)
}

func (h *BillingHandlers) CreateSubscription(c *gin.Context) {
	subjectID, ok := subject(c)
	if !ok {
		return
	}

	var req service.SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Email == "" {
		req.Email = c.GetString("email")
	}

	if err := h.service.Subscribe(c.Request.Context(), subjectID, req); err != nil {
		h.respondError(c, "subscribe", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "Subscription created"})
}

func (h *BillingHandlers) SwapPlan(c *gin.Context) {
	subjectID, ok := subject(c)
	if !ok {
		return
	}

	var req service.SwapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.SwapPlan(c.Request.Context(), subjectID, req); err != nil {
		h.respondError(c, "swap plan", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Subscription updated"})
}

func (h *BillingHandlers) UpdateQuantity(c *gin.Context) {
	subjectID, ok := subject(c)
	if !ok {
		return
	}

	var req service.QuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.UpdateQuantity(c.Request.Context(), subjectID, req); err != nil {
		h.respondError(c, "update quantity", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Quantity updated"})
}

func (h *BillingHandlers) CancelSubscription(c *gin.Context) {
	subjectID, ok := subject(c)
	if !ok {
		return
	}

	immediately := false
	if raw := c.Query("immediately"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "immediately must be a boolean"})
			return
		}
		immediately = v
	}

	if err := h.service.Cancel(c.Request.Context(), subjectID, immediately); err != nil {
		h.respondError(c, "cancel", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Subscription cancelled"})
}

func (h *BillingHandlers) ResumeSubscription(c *gin.Context) {
	subjectID, ok := subject(c)
	if !ok {
		return
	}

	if err := h.service.Resume(c.Request.Context(), subjectID); err != nil {
		h.respondError(c, "resume", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Subscription resumed"})
}

func (h *BillingHandlers) ApplyCoupon(c *gin.Context) {
	subjectID, ok := subject(c)
	if !ok {
		return
	}

	var req struct {
		Coupon string `json:"coupon" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.ApplyCoupon(c.Request.Context(), subjectID, req.Coupon); err != nil {
		h.respondError(c, "apply coupon", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Coupon applied"})
}

func (h *BillingHandlers) UpdateCard(c *gin.Context) {
	subjectID, ok := subject(c)
	if !ok {
		return
	}

	var req struct {
		PaymentToken string `json:"paymentToken"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.UpdateCard(c.Request.Context(), subjectID, req.PaymentToken); err != nil {
		h.respondError(c, "update card", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Card updated"})
}

func (h *BillingHandlers) ClientToken(c *gin.Context) {
	subjectID, ok := subject(c)
	if !ok {
		return
	}

	token, err := h.service.ClientToken(c.Request.Context(), subjectID)
	if err != nil {
		h.respondError(c, "client token", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

// Charge answers 201 for a paid charge and 402 with the result for a decline.
func (h *BillingHandlers) Charge(c *gin.Context) {
	subjectID, ok := subject(c)
	if !ok {
		return
	}

	var req service.ChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.Charge(c.Request.Context(), subjectID, req)
	if err != nil {
		h.respondError(c, "charge", err)
		return
	}
	if !result.Paid {
		c.JSON(http.StatusPaymentRequired, result)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (h *BillingHandlers) CreateInvoice(c *gin.Context) {
	subjectID, ok := subject(c)
	if !ok {
		return
	}

	result, err := h.service.Invoice(c.Request.Context(), subjectID)
	if err != nil {
		h.respondError(c, "invoice", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *BillingHandlers) ListInvoices(c *gin.Context) {
	subjectID, ok := subject(c)
	if !ok {
		return
	}

	includePending, _ := strconv.ParseBool(c.DefaultQuery("include_pending", "false"))
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}

	invoices, err := h.service.ListInvoices(c.Request.Context(), subjectID, includePending, limit)
	if err != nil {
		h.respondError(c, "list invoices", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"invoices": invoices})
}

func (h *BillingHandlers) UpcomingInvoice(c *gin.Context) {
	subjectID, ok := subject(c)
	if !ok {
		return
	}

	inv, err := h.service.UpcomingInvoice(c.Request.Context(), subjectID)
	if err != nil {
		h.respondError(c, "upcoming invoice", err)
		return
	}
	if inv == nil {
		c.Status(http.StatusNoContent)
		return
	}

	c.JSON(http.StatusOK, inv)
}

func (h *BillingHandlers) GetInvoice(c *gin.Context) {
	subjectID, ok := subject(c)
	if !ok {
		return
	}

	inv, err := h.service.FindInvoice(c.Request.Context(), subjectID, c.Param("id"))
	if err != nil {
		h.respondError(c, "get invoice", err)
		return
	}

	c.JSON(http.StatusOK, inv)
}

func (h *BillingHandlers) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	err = h.service.HandleWebhook(c.Request.Context(), payload, c.GetHeader(signatureHeader))
	if errors.Is(err, service.ErrInvalidWebhook) {
		h.logger.Warn("Rejected webhook", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook"})
		return
	}
	if err != nil {
		h.respondError(c, "webhook", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Webhook processed"})
}

// Sweeper runs a single reconciliation pass.
type Sweeper interface {
	RunOnce(ctx context.Context) (reconcile.Result, error)
}

// RunReconcile triggers an out-of-schedule sweep for operators.
func RunReconcile(sweeper Sweeper, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := sweeper.RunOnce(c.Request.Context())
		if err != nil {
			log.Error("Manual reconcile failed", "error", err, "failed", res.Failed)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "reconcile failed", "result": res})
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func subject(c *gin.Context) (string, bool) {
	subjectID, ok := auth.GetSubjectID(c)
	if !ok || subjectID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "subject ID required"})
		return "", false
	}
	trace.SpanFromContext(c.Request.Context()).SetAttributes(telemetry.SubjectIDAttribute(subjectID))
	return subjectID, true
}

// respondError maps billing errors onto HTTP statuses. Unknown errors are
// logged and hidden behind a 500.
func (h *BillingHandlers) respondError(c *gin.Context, op string, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Billing request failed", "op", op, "error", err)
	} else {
		h.logger.Debug("Billing request rejected", "op", op, "error", err)
	}
	c.JSON(status, gin.H{"error": message})
}

func statusFor(err error) (int, string) {
	var gatewayErr *billing.GatewayError
	switch {
	case errors.Is(err, billing.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, billing.ErrNoPaymentSource),
		errors.Is(err, billing.ErrInvalidCoupon),
		errors.Is(err, billing.ErrInvalidQuantity),
		errors.Is(err, billing.ErrNoPlan),
		errors.Is(err, billing.ErrOrphanSubscription):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, billing.ErrNoActiveSubscription),
		errors.Is(err, billing.ErrSubscriptionExpired),
		errors.Is(err, billing.ErrAlreadySubscribed):
		return http.StatusConflict, err.Error()
	case errors.Is(err, billing.ErrGatewayUnavailable):
		if billing.IsTimeout(err) {
			return http.StatusGatewayTimeout, "payment gateway timed out"
		}
		return http.StatusServiceUnavailable, "payment gateway unavailable"
	case errors.Is(err, billing.ErrInvalidCredentials):
		return http.StatusBadGateway, "payment gateway misconfigured"
	case errors.As(err, &gatewayErr):
		return http.StatusBadGateway, gatewayErr.Message
	}
	return http.StatusInternalServerError, "internal error"
}
