package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"checkout-service/config"
	"checkout-service/handlers"
	"checkout-service/models"
	"checkout-service/processor"
	"checkout-service/service"
	"checkout-service/signedurl"
)

type fakeProcessor struct {
	charge *models.Charge
	err    error
}

func (f *fakeProcessor) CreateCharge(ctx context.Context, p processor.CreateChargeParams) (*models.Charge, error) {
	return f.charge, f.err
}

func (f *fakeProcessor) RetrieveCharge(ctx context.Context, id string) (*models.Charge, error) {
	return f.charge, f.err
}

func newRouter(proc service.Processor, cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)

	codec := signedurl.New(cfg.SigningSecret, cfg.ReturnTokenTTL, nil)
	svc := service.NewCheckoutService(otel.Tracer("test"), proc, codec, cfg)
	h := handlers.NewCheckoutHandler(svc)

	r := gin.New()
	r.GET("/health", h.HealthCheck)
	r.POST("/api/token", h.InitiateCharge)
	r.POST("/api/charge", h.ConfirmCharge)
	return r
}

func testConfig() *config.Config {
	return &config.Config{
		PayJPSecret:    "sk_test_secret",
		PayJPPublicKey: "pk_test_public",
		PayJPTDSURL:    "https://api.pay.jp/v1/tds",
		SigningSecret:  "sk_test_secret",
		ReturnBaseURL:  "myapp://confirm",
		ReturnTokenTTL: 15 * time.Minute,
		ChargeAmount:   100,
		ChargeCurrency: "jpy",
	}
}

func postJSON(t *testing.T, r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestInitiateCharge(t *testing.T) {
	proc := &fakeProcessor{charge: &models.Charge{ID: "ch_123", Amount: 100, Currency: "jpy"}}
	r := newRouter(proc, testConfig())

	w := postJSON(t, r, "/api/token", models.TokenRequest{Token: "tok_abc"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Contains(t, resp.RedirectURL, "/tds/ch_123/start")
	require.Contains(t, resp.RedirectURL, "publickey=pk_test_public")
	require.Contains(t, resp.RedirectURL, "back_url=")
}

func TestInitiateChargeMissingToken(t *testing.T) {
	r := newRouter(&fakeProcessor{}, testConfig())

	w := postJSON(t, r, "/api/token", models.TokenRequest{})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "token is required", resp.Error)
}

func TestInitiateChargeInvalidBody(t *testing.T) {
	r := newRouter(&fakeProcessor{}, testConfig())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/token", bytes.NewBufferString("{not json"))
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInitiateChargeMissingSecret(t *testing.T) {
	cfg := testConfig()
	cfg.PayJPSecret = ""
	r := newRouter(&fakeProcessor{}, cfg)

	w := postJSON(t, r, "/api/token", models.TokenRequest{Token: "tok_abc"})
	require.Equal(t, http.StatusInternalServerError, w.Code)

	// Diagnostic but generic: no configuration detail leaks to the client.
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "server configuration error", resp.Error)
}

func TestInitiateChargeDeclined(t *testing.T) {
	proc := &fakeProcessor{err: &processor.Error{StatusCode: 402, Message: "Card was declined"}}
	r := newRouter(proc, testConfig())

	w := postJSON(t, r, "/api/token", models.TokenRequest{Token: "tok_bad"})

	// The processor's status and message pass through verbatim.
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "Card was declined", resp.Error)
}

func TestConfirmCharge(t *testing.T) {
	proc := &fakeProcessor{charge: &models.Charge{ID: "ch_123", Paid: true, Captured: true}}
	r := newRouter(proc, testConfig())

	w := postJSON(t, r, "/api/charge", models.ChargeRequest{CID: "ch_123"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.ChargeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Charge.Succeeded())
}

func TestConfirmChargeNotFound(t *testing.T) {
	proc := &fakeProcessor{err: &processor.Error{StatusCode: 404, Message: "No such charge: ch_missing"}}
	r := newRouter(proc, testConfig())

	w := postJSON(t, r, "/api/charge", models.ChargeRequest{CID: "ch_missing"})
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "No such charge: ch_missing", resp.Error)
}

func TestConfirmChargeMissingCID(t *testing.T) {
	r := newRouter(&fakeProcessor{}, testConfig())

	w := postJSON(t, r, "/api/charge", models.ChargeRequest{})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfirmChargeBadReturnToken(t *testing.T) {
	proc := &fakeProcessor{charge: &models.Charge{ID: "ch_123", Paid: true}}
	r := newRouter(proc, testConfig())

	w := postJSON(t, r, "/api/charge", models.ChargeRequest{CID: "ch_123", Sig: "tampered.token.value"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfirmChargeTransportFailure(t *testing.T) {
	proc := &fakeProcessor{err: context.DeadlineExceeded}
	r := newRouter(proc, testConfig())

	w := postJSON(t, r, "/api/charge", models.ChargeRequest{CID: "ch_123"})
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "Internal Server Error", resp.Error)
}

func TestHealthCheck(t *testing.T) {
	r := newRouter(&fakeProcessor{}, testConfig())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}
