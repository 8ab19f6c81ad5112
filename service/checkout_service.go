package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"checkout-service/config"
	"checkout-service/logging"
	"checkout-service/models"
	"checkout-service/monitoring"
	"checkout-service/processor"
	"checkout-service/signedurl"
)

// ErrMissingToken indicates the request carried no card token.
var ErrMissingToken = errors.New("token is required")

// ErrMissingChargeID indicates the confirmation request carried no charge id.
var ErrMissingChargeID = errors.New("cid is required")

// ErrChargeMismatch indicates the charge id presented by the client does not
// match the one embedded in the signed return token.
var ErrChargeMismatch = errors.New("charge id does not match signed return token")

// Processor is the slice of the payment processor API the checkout flow
// uses.
type Processor interface {
	CreateCharge(ctx context.Context, p processor.CreateChargeParams) (*models.Charge, error)
	RetrieveCharge(ctx context.Context, id string) (*models.Charge, error)
}

// CheckoutService drives the 3-D Secure checkout round-trip: initiating a
// charge with the processor and confirming its outcome after the user
// returns from the hosted authentication page.
type CheckoutService struct {
	tracer    trace.Tracer
	processor Processor
	codec     *signedurl.Codec
	cfg       *config.Config
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(tracer trace.Tracer, proc Processor, codec *signedurl.Codec, cfg *config.Config) *CheckoutService {
	return &CheckoutService{
		tracer:    tracer,
		processor: proc,
		codec:     codec,
		cfg:       cfg,
	}
}

// InitiateCharge creates a charge with 3-D Secure required and returns the
// URL of the processor's hosted authentication page. The charge amount and
// currency come from configuration only.
func (s *CheckoutService) InitiateCharge(ctx context.Context, cardToken string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "initiate_charge")
	defer span.End()

	if cardToken == "" {
		return "", ErrMissingToken
	}
	if err := s.cfg.Validate(); err != nil {
		return "", err
	}

	logger := logging.WithTraceContext(span)
	logger.Info("Creating charge",
		zap.Int64("amount", s.cfg.ChargeAmount),
		zap.String("currency", s.cfg.ChargeCurrency),
	)

	charge, err := s.processor.CreateCharge(ctx, processor.CreateChargeParams{
		Card:         cardToken,
		Amount:       s.cfg.ChargeAmount,
		Currency:     s.cfg.ChargeCurrency,
		ThreeDSecure: true,
	})
	if err != nil {
		logger.Error("Creating charge failed", zap.Error(err))
		monitoring.ChargeCounter.Add(ctx, 1,
			metric.WithAttributes(attribute.String("status", "create_failed")),
		)
		span.SetAttributes(attribute.String("charge.status", "create_failed"))
		return "", err
	}

	backURL, err := s.codec.Encode(s.cfg.ReturnBaseURL, map[string]string{"cid": charge.ID})
	if err != nil {
		logger.Error("Signing return URL failed", zap.Error(err))
		return "", fmt.Errorf("signing return url: %w", err)
	}

	redirectURL := fmt.Sprintf("%s/%s/start?publickey=%s&back_url=%s",
		s.cfg.PayJPTDSURL, charge.ID, url.QueryEscape(s.cfg.PayJPPublicKey), url.QueryEscape(backURL))

	monitoring.ChargeCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", "created")),
	)
	monitoring.ChargeAmount.Record(ctx, charge.Amount,
		metric.WithAttributes(attribute.String("currency", charge.Currency)),
	)
	span.SetAttributes(
		attribute.String("charge.id", charge.ID),
		attribute.String("charge.status", "created"),
	)

	logger.Info("Charge created, awaiting 3DS authentication",
		zap.String("charge_id", charge.ID),
	)

	return redirectURL, nil
}

// ConfirmCharge retrieves the charge's current state after the user came
// back from the hosted authentication page. When the client carries the
// signed return token back, its embedded charge id must match the supplied
// one.
func (s *CheckoutService) ConfirmCharge(ctx context.Context, chargeID, signedToken string) (*models.Charge, error) {
	ctx, span := s.tracer.Start(ctx, "confirm_charge")
	defer span.End()

	if chargeID == "" {
		return nil, ErrMissingChargeID
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.WithTraceContext(span)

	if signedToken != "" {
		_, params, err := s.codec.Decode(signedToken)
		if err != nil {
			logger.Warn("Rejecting confirmation with bad return token",
				zap.String("charge_id", chargeID),
				zap.Error(err),
			)
			return nil, err
		}
		if params["cid"] != chargeID {
			logger.Warn("Rejecting confirmation with mismatched charge id",
				zap.String("charge_id", chargeID),
				zap.String("signed_charge_id", params["cid"]),
			)
			return nil, ErrChargeMismatch
		}
	}

	charge, err := s.processor.RetrieveCharge(ctx, chargeID)
	if err != nil {
		logger.Error("Retrieving charge failed",
			zap.Error(err),
			zap.String("charge_id", chargeID),
		)
		span.SetAttributes(attribute.String("charge.status", "retrieve_failed"))
		return nil, err
	}

	status := "failed"
	if charge.Succeeded() {
		status = "captured"
	}
	monitoring.ChargeCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	span.SetAttributes(
		attribute.String("charge.id", charge.ID),
		attribute.String("charge.status", status),
	)

	logger.Info("Charge confirmed",
		zap.String("charge_id", charge.ID),
		zap.String("status", status),
	)

	return charge, nil
}
