package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"checkout-service/client"
	"checkout-service/models"
)

type fakeBrowser struct {
	opened []string
	err    error
}

func (b *fakeBrowser) Open(ctx context.Context, url string) error {
	if b.err != nil {
		return b.err
	}
	b.opened = append(b.opened, url)
	return nil
}

func TestCardFormSubmitEnabled(t *testing.T) {
	form := &client.CardForm{}
	require.False(t, form.SubmitEnabled())

	// Fields complete in arbitrary order; all three are required.
	form.SetCVCComplete(true)
	require.False(t, form.SubmitEnabled())

	form.SetNumberComplete(true)
	require.False(t, form.SubmitEnabled())

	form.SetExpiryComplete(true)
	require.True(t, form.SubmitEnabled())

	// A field going incomplete disables submission again.
	form.SetNumberComplete(false)
	require.False(t, form.SubmitEnabled())
}

func TestSubmitOpensAuthPage(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/token", r.URL.Path)

		var req models.TokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "tok_abc", req.Token)

		json.NewEncoder(w).Encode(models.TokenResponse{RedirectURL: "https://api.pay.jp/v1/tds/ch_123/start?publickey=pk"})
	}))
	defer backend.Close()

	browser := &fakeBrowser{}
	flow := client.NewFlow(backend.URL, browser, nil)
	require.Equal(t, client.StateIdle, flow.State())

	require.NoError(t, flow.Submit(context.Background(), "tok_abc"))
	require.Equal(t, client.StateAwaitingExternalAuth, flow.State())
	require.Len(t, browser.opened, 1)
	require.Contains(t, browser.opened[0], "ch_123")
}

func TestSubmitSurfacesDecline(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(models.ErrorResponse{Error: "Card was declined"})
	}))
	defer backend.Close()

	browser := &fakeBrowser{}
	flow := client.NewFlow(backend.URL, browser, nil)

	err := flow.Submit(context.Background(), "tok_bad")
	require.Error(t, err)
	require.Equal(t, client.StateFailed, flow.State())
	require.Equal(t, "Card was declined", flow.FailureMessage())

	// No external page opens on a failed initiation.
	require.Empty(t, browser.opened)
}

func TestSubmitRequiresIdleState(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.TokenResponse{RedirectURL: "https://auth.example/ch_123/start"})
	}))
	defer backend.Close()

	flow := client.NewFlow(backend.URL, &fakeBrowser{}, nil)
	require.NoError(t, flow.Submit(context.Background(), "tok_abc"))

	// Failed and terminal states do not accept another submission; the user
	// restarts from a fresh flow.
	err := flow.Submit(context.Background(), "tok_abc")
	require.ErrorIs(t, err, client.ErrInvalidTransition)
}

func TestResumeConfirmsCharge(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/token":
			json.NewEncoder(w).Encode(models.TokenResponse{RedirectURL: "https://auth.example/ch_123/start"})
		case "/api/charge":
			var req models.ChargeRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "ch_123", req.CID)
			json.NewEncoder(w).Encode(models.ChargeResponse{Charge: &models.Charge{ID: "ch_123", Paid: true, Captured: true}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer backend.Close()

	flow := client.NewFlow(backend.URL, &fakeBrowser{}, nil)
	require.NoError(t, flow.Submit(context.Background(), "tok_abc"))

	charge, err := flow.Resume(context.Background(), "ch_123", "")
	require.NoError(t, err)
	require.True(t, charge.Succeeded())
	require.Equal(t, client.StatePurchased, flow.State())
	require.Equal(t, "ch_123", flow.ChargeID())
	require.Equal(t, "支払いが完了しました", flow.Message())
}

func TestResumeWithFailedCharge(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/token":
			json.NewEncoder(w).Encode(models.TokenResponse{RedirectURL: "https://auth.example/ch_123/start"})
		case "/api/charge":
			json.NewEncoder(w).Encode(models.ChargeResponse{Charge: &models.Charge{
				ID:             "ch_123",
				Paid:           false,
				FailureCode:    "card_declined",
				FailureMessage: "Card was declined",
			}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer backend.Close()

	flow := client.NewFlow(backend.URL, &fakeBrowser{}, nil)
	require.NoError(t, flow.Submit(context.Background(), "tok_abc"))

	charge, err := flow.Resume(context.Background(), "ch_123", "")
	require.NoError(t, err)
	require.False(t, charge.Succeeded())
	require.Equal(t, client.StateFailed, flow.State())
	require.Equal(t, "Card was declined", flow.FailureMessage())
}

func TestResumeRequiresAwaitingState(t *testing.T) {
	flow := client.NewFlow("http://backend", &fakeBrowser{}, nil)

	_, err := flow.Resume(context.Background(), "ch_123", "")
	require.ErrorIs(t, err, client.ErrInvalidTransition)
}

func TestAbandonedFlowStaysParked(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.TokenResponse{RedirectURL: "https://auth.example/ch_123/start"})
	}))
	defer backend.Close()

	flow := client.NewFlow(backend.URL, &fakeBrowser{}, nil)
	require.NoError(t, flow.Submit(context.Background(), "tok_abc"))

	// The user may never come back from the external page. That is not an
	// error state.
	require.Equal(t, client.StateAwaitingExternalAuth, flow.State())
	require.Equal(t, "購入を確認してください", flow.Message())
}
