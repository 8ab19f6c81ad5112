// Package processor is a minimal PAY.JP REST client covering the two calls
// the checkout flow needs: creating a charge with 3-D Secure required and
// retrieving a charge by id.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"checkout-service/models"
	"checkout-service/monitoring"
)

// Error is a rejection from the payment processor. Its message and status
// are user-actionable (e.g. "Card declined") and are passed through to
// clients verbatim.
type Error struct {
	StatusCode int    `json:"status"`
	Message    string `json:"message"`
	Code       string `json:"code"`
	Type       string `json:"type"`
	Param      string `json:"param"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("payjp: %s (code=%s, status=%d)", e.Message, e.Code, e.StatusCode)
}

type errorEnvelope struct {
	Error *Error `json:"error"`
}

// Client talks to the PAY.JP API. The secret key authenticates every call
// as the basic-auth username, per the processor's contract.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewClient creates a processor client for the given API base URL.
func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   15 * time.Second,
		},
	}
}

// CreateChargeParams are the fields of a create-charge call. Card is the
// single-use token from the client-side tokenization widget.
type CreateChargeParams struct {
	Card         string
	Amount       int64
	Currency     string
	ThreeDSecure bool
}

// CreateCharge creates a charge. This is a real monetary charge attempt;
// retries with the same token fail at the processor because tokens are
// single-use.
func (c *Client) CreateCharge(ctx context.Context, p CreateChargeParams) (*models.Charge, error) {
	form := url.Values{}
	form.Set("card", p.Card)
	form.Set("amount", strconv.FormatInt(p.Amount, 10))
	form.Set("currency", p.Currency)
	form.Set("three_d_secure", strconv.FormatBool(p.ThreeDSecure))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/charges", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building create charge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(ctx, req, "create_charge")
}

// RetrieveCharge fetches the current state of a charge by id.
func (c *Client) RetrieveCharge(ctx context.Context, id string) (*models.Charge, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/charges/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("building retrieve charge request: %w", err)
	}

	return c.do(ctx, req, "retrieve_charge")
}

func (c *Client) do(ctx context.Context, req *http.Request, operation string) (*models.Charge, error) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("external.service", "payjp"),
		attribute.String("payjp.operation", operation),
	)

	req.SetBasicAuth(c.secretKey, "")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start).Seconds()

	if err != nil {
		monitoring.ProcessorCallDuration.Record(ctx, duration,
			metric.WithAttributes(
				attribute.String("operation", operation),
				attribute.String("status", "error"),
			),
		)
		span.SetAttributes(attribute.String("external.status", "error"))
		return nil, fmt.Errorf("calling payment processor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		monitoring.ProcessorCallDuration.Record(ctx, duration,
			metric.WithAttributes(
				attribute.String("operation", operation),
				attribute.String("status", "rejected"),
			),
		)
		span.SetAttributes(
			attribute.Int("external.status_code", resp.StatusCode),
			attribute.String("external.status", "rejected"),
		)

		var envelope errorEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Error == nil {
			return nil, fmt.Errorf("payment processor returned status %d", resp.StatusCode)
		}
		if envelope.Error.StatusCode == 0 {
			envelope.Error.StatusCode = resp.StatusCode
		}
		return nil, envelope.Error
	}

	var charge models.Charge
	if err := json.NewDecoder(resp.Body).Decode(&charge); err != nil {
		return nil, fmt.Errorf("decoding processor response: %w", err)
	}

	monitoring.ProcessorCallDuration.Record(ctx, duration,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("status", "success"),
		),
	)
	span.SetAttributes(
		attribute.String("payjp.charge_id", charge.ID),
		attribute.String("external.status", "success"),
	)

	return &charge, nil
}
