package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"checkout-service/config"
	"checkout-service/logging"
	"checkout-service/models"
	"checkout-service/processor"
	"checkout-service/service"
	"checkout-service/signedurl"
)

// CheckoutHandler handles HTTP requests for the 3-D Secure checkout flow
type CheckoutHandler struct {
	checkoutService *service.CheckoutService
}

// NewCheckoutHandler creates a new checkout handler
func NewCheckoutHandler(checkoutService *service.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{
		checkoutService: checkoutService,
	}
}

// InitiateCharge handles POST /api/token: it consumes a single-use card
// token and answers with the hosted authentication page to open.
func (h *CheckoutHandler) InitiateCharge(c *gin.Context) {
	ctx := c.Request.Context()
	span := trace.SpanFromContext(ctx)

	var req models.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body"})
		return
	}

	redirectURL, err := h.checkoutService.InitiateCharge(ctx, req.Token)
	if err != nil {
		writeError(c, span, err)
		return
	}

	span.AddEvent("charge_initiated")
	c.JSON(http.StatusOK, models.TokenResponse{RedirectURL: redirectURL})
}

// ConfirmCharge handles POST /api/charge: after the external authentication
// round-trip it reports the charge's current state back to the client.
func (h *CheckoutHandler) ConfirmCharge(c *gin.Context) {
	ctx := c.Request.Context()
	span := trace.SpanFromContext(ctx)

	var req models.ChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body"})
		return
	}

	charge, err := h.checkoutService.ConfirmCharge(ctx, req.CID, req.Sig)
	if err != nil {
		writeError(c, span, err)
		return
	}

	span.AddEvent("charge_confirmed")
	c.JSON(http.StatusOK, models.ChargeResponse{Charge: charge})
}

// HealthCheck handles health check requests
func (h *CheckoutHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// writeError maps a service error onto the response. Processor rejections
// pass through with their own status and message; configuration and
// transport problems stay opaque to the client and go to the server log.
func writeError(c *gin.Context, span trace.Span, err error) {
	logger := logging.WithTraceContext(span)

	var procErr *processor.Error
	switch {
	case errors.As(err, &procErr):
		c.JSON(procErr.StatusCode, models.ErrorResponse{Error: procErr.Message})
	case errors.Is(err, service.ErrMissingToken),
		errors.Is(err, service.ErrMissingChargeID),
		errors.Is(err, service.ErrChargeMismatch),
		errors.Is(err, signedurl.ErrInvalidSignature),
		errors.Is(err, signedurl.ErrTokenExpired):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
	case errors.Is(err, config.ErrMissingSecret), errors.Is(err, config.ErrMissingPublicKey):
		logger.Error("Checkout misconfigured", zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "server configuration error"})
	default:
		logger.Error("Checkout request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Internal Server Error"})
	}
}
