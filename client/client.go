// Package client drives the two-step checkout flow from the app's side:
// submit a card token, open the hosted 3-D Secure page, and confirm the
// charge once the external redirect comes back.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"checkout-service/models"
)

// State is the orchestrator's position in the checkout flow.
type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateAwaitingExternalAuth
	StateConfirming
	StatePurchased
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateAwaitingExternalAuth:
		return "awaiting_external_auth"
	case StateConfirming:
		return "confirming"
	case StatePurchased:
		return "purchased"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition is returned when a flow method is called from a state
// it does not apply to.
var ErrInvalidTransition = errors.New("client: invalid flow transition")

// BrowserOpener opens a URL in an external browser context. Control leaves
// the app once the page is open.
type BrowserOpener interface {
	Open(ctx context.Context, url string) error
}

// CardForm aggregates the completion state of the three card input fields.
// Each field reports independently; submission is enabled only when all
// three are complete.
type CardForm struct {
	numberComplete bool
	expiryComplete bool
	cvcComplete    bool
}

func (f *CardForm) SetNumberComplete(complete bool) { f.numberComplete = complete }
func (f *CardForm) SetExpiryComplete(complete bool) { f.expiryComplete = complete }
func (f *CardForm) SetCVCComplete(complete bool)    { f.cvcComplete = complete }

// SubmitEnabled is a pure predicate over the three field states.
func (f *CardForm) SubmitEnabled() bool {
	return f.numberComplete && f.expiryComplete && f.cvcComplete
}

// Flow is the checkout state machine:
// Idle → Submitting → AwaitingExternalAuth → Confirming → Purchased | Failed.
// A user abandoning the external page simply leaves the flow parked in
// AwaitingExternalAuth; there is nothing to reconcile.
type Flow struct {
	backendURL string
	browser    BrowserOpener
	httpClient *http.Client
	logger     *zap.Logger

	mu       sync.Mutex
	state    State
	chargeID string
	failure  string
}

// NewFlow creates a flow against the given backend base URL. logger may be
// nil.
func NewFlow(backendURL string, browser BrowserOpener, logger *zap.Logger) *Flow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flow{
		backendURL: backendURL,
		browser:    browser,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		state:      StateIdle,
	}
}

// State returns the flow's current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// ChargeID returns the charge id the external redirect carried back, empty
// until Resume runs.
func (f *Flow) ChargeID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chargeID
}

// FailureMessage returns the surfaced error once the flow is Failed.
func (f *Flow) FailureMessage() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failure
}

// Message is the text the terminal screen renders, matching the reference
// app's Japanese copy.
func (f *Flow) Message() string {
	switch f.State() {
	case StatePurchased:
		return "支払いが完了しました"
	case StateFailed:
		return "支払いに失敗しました"
	default:
		return "購入を確認してください"
	}
}

// Submit sends the tokenized card to the backend and opens the returned
// hosted authentication page. On any failure the flow ends in Failed and no
// external page is opened.
func (f *Flow) Submit(ctx context.Context, cardToken string) error {
	if err := f.transition(StateIdle, StateSubmitting); err != nil {
		return err
	}

	var resp models.TokenResponse
	if err := f.post(ctx, "/api/token", models.TokenRequest{Token: cardToken}, &resp); err != nil {
		f.fail(err)
		return err
	}

	f.logger.Info("charge initiated, opening external authentication page")

	if err := f.browser.Open(ctx, resp.RedirectURL); err != nil {
		err = fmt.Errorf("opening authentication page: %w", err)
		f.fail(err)
		return err
	}

	f.setState(StateAwaitingExternalAuth)
	return nil
}

// Resume re-enters the flow after the external page redirected back into the
// app with a charge id (and, when carried through, the signed return token).
// It confirms the charge with the backend and lands in Purchased or Failed.
func (f *Flow) Resume(ctx context.Context, chargeID, signedToken string) (*models.Charge, error) {
	if err := f.transition(StateAwaitingExternalAuth, StateConfirming); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.chargeID = chargeID
	f.mu.Unlock()

	var resp models.ChargeResponse
	if err := f.post(ctx, "/api/charge", models.ChargeRequest{CID: chargeID, Sig: signedToken}, &resp); err != nil {
		f.fail(err)
		return nil, err
	}

	if !resp.Charge.Succeeded() {
		msg := resp.Charge.FailureMessage
		if msg == "" {
			msg = "charge was not captured"
		}
		f.fail(errors.New(msg))
		return resp.Charge, nil
	}

	f.logger.Info("charge confirmed", zap.String("charge_id", chargeID))
	f.setState(StatePurchased)
	return resp.Charge, nil
}

func (f *Flow) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.backendURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp models.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error == "" {
			return fmt.Errorf("backend returned status %d", resp.StatusCode)
		}
		return errors.New(errResp.Error)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (f *Flow) transition(from, to State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != from {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, f.state, to)
	}
	f.state = to
	return nil
}

func (f *Flow) setState(s State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
}

func (f *Flow) fail(err error) {
	f.logger.Warn("checkout flow failed", zap.Error(err))
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateFailed
	f.failure = err.Error()
}
