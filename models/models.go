package models

// TokenRequest is the body of POST /api/token: a single-use card token
// produced by the client-side tokenization widget.
type TokenRequest struct {
	Token string `json:"token"`
}

// TokenResponse carries the hosted 3-D Secure page the client should open.
type TokenResponse struct {
	RedirectURL string `json:"redirectUrl"`
}

// ChargeRequest is the body of POST /api/charge. CID is the charge id the
// external auth page handed back to the app. Sig optionally carries the
// signed return token so the server can cross-check the charge id.
type ChargeRequest struct {
	CID string `json:"cid"`
	Sig string `json:"sig,omitempty"`
}

// ChargeResponse wraps the processor's charge representation.
type ChargeResponse struct {
	Charge *Charge `json:"charge"`
}

// ErrorResponse is the error envelope returned by every handler.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Charge is the processor-owned charge entity, fetched by id on demand and
// never persisted here.
type Charge struct {
	ID                 string `json:"id"`
	Amount             int64  `json:"amount"`
	Currency           string `json:"currency"`
	Paid               bool   `json:"paid"`
	Captured           bool   `json:"captured"`
	ThreeDSecureStatus string `json:"three_d_secure_status,omitempty"`
	FailureCode        string `json:"failure_code,omitempty"`
	FailureMessage     string `json:"failure_message,omitempty"`
	Created            int64  `json:"created"`
}

// Succeeded reports whether the charge ended in a captured, paid state.
func (c *Charge) Succeeded() bool {
	return c != nil && c.Paid && c.FailureCode == ""
}
