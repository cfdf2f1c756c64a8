package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"bundlestore-backend/utils"
)

const defaultBaseURL = "https://api.paystack.co"

// Configuration errors. These are fatal for the request and must be
// distinguished from gateway-side failures; no upstream call is made.
var (
	ErrSecretMissing = errors.New("paystack secret key not configured")
	ErrPublicKey     = errors.New("paystack public key detected; use the secret key (sk_test_... or sk_live_...)")
)

// UpstreamError is a transport or HTTP failure from the gateway, preserving
// the upstream status code and body when available.
type UpstreamError struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return "paystack request failed: " + e.Err.Error()
	}
	return fmt.Sprintf("paystack returned status %d", e.StatusCode)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// AmountMismatchError carries both sides of a failed amount check, in minor
// currency units.
type AmountMismatchError struct {
	ExpectedMinor int64
	ReceivedMinor int64
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("payment amount mismatch: expected %d, received %d", e.ExpectedMinor, e.ReceivedMinor)
}

// PhoneMismatchError carries both phone numbers as supplied, for diagnostics.
type PhoneMismatchError struct {
	Want string
	Got  string
}

func (e *PhoneMismatchError) Error() string {
	return fmt.Sprintf("payment phone mismatch: request %q, gateway %q", e.Want, e.Got)
}

var bearerPrefixRe = regexp.MustCompile(`(?i)^Bearer\s+`)

// SanitizeSecret normalizes a configured secret: trims whitespace, strips a
// leading "Bearer " and surrounding quotes. Operators paste keys in all of
// these shapes.
func SanitizeSecret(s string) string {
	s = strings.TrimSpace(s)
	s = bearerPrefixRe.ReplaceAllString(s, "")
	s = strings.Trim(s, `"`)
	return s
}

// MinorUnits converts a currency amount to minor units (GHS -> pesewas).
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// Verification is the normalized outcome of a transaction-verify call.
// Derived, never persisted; consumed once per reference.
type Verification struct {
	Reference     string
	Success       bool
	Status        string
	AmountMinor   int64
	CustomerEmail string
	CustomerPhone string
	Metadata      map[string]any
	Raw           json.RawMessage
}

// AmountGHS is the verified payment amount in currency units.
func (v *Verification) AmountGHS() float64 {
	return float64(v.AmountMinor) / 100
}

// Client talks to the Paystack transaction API.
type Client struct {
	BaseURL string
	secret  string
	http    *http.Client
}

func New(secret string) *Client {
	return &Client{
		BaseURL: defaultBaseURL,
		secret:  SanitizeSecret(secret),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// NewFromEnv builds a client from PAYSTACK_SECRET_KEY (or the legacy
// API_PAYSTACK_SECRET_KEY). A missing key is not fatal here; calls will fail
// with ErrSecretMissing so the handler can answer 500 without crashing boot.
func NewFromEnv() *Client {
	secret := os.Getenv("PAYSTACK_SECRET_KEY")
	if strings.TrimSpace(secret) == "" {
		secret = os.Getenv("API_PAYSTACK_SECRET_KEY")
	}
	return New(secret)
}

func (c *Client) checkSecret() error {
	if c.secret == "" {
		return ErrSecretMissing
	}
	if strings.HasPrefix(c.secret, "pk_") {
		return ErrPublicKey
	}
	return nil
}

// IsConfigError reports whether err is a credential configuration problem
// rather than a gateway-side failure.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrSecretMissing) || errors.Is(err, ErrPublicKey)
}

type verifyData struct {
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
	Customer  struct {
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"customer"`
	Metadata map[string]any `json:"metadata"`
	Data     *verifyData    `json:"data"`
}

// Verify resolves a payment reference against the gateway. A gateway status
// other than "success" yields Success=false, not an error; transport and HTTP
// failures yield an *UpstreamError; credential problems are config errors.
func (c *Client) Verify(ctx context.Context, reference string) (*Verification, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, errors.New("missing reference")
	}
	if err := c.checkSecret(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.BaseURL+"/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode >= 400 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: body}
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: body, Err: err}
	}
	raw := envelope.Data
	if len(raw) == 0 {
		raw = body
	}
	var d verifyData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: body, Err: err}
	}
	// Some gateway responses nest the transaction one level deeper.
	status := d.Status
	if status == "" && d.Data != nil {
		status = d.Data.Status
	}

	v := &Verification{
		Reference:     d.Reference,
		Success:       strings.EqualFold(status, "success"),
		Status:        status,
		AmountMinor:   d.Amount,
		CustomerEmail: d.Customer.Email,
		CustomerPhone: d.Customer.Phone,
		Metadata:      d.Metadata,
		Raw:           body,
	}
	if v.Reference == "" {
		v.Reference = reference
	}
	return v, nil
}

// InitializeRequest is the payload accepted by the initialize endpoint.
// Amount is in currency units; it is converted to minor units upstream.
type InitializeRequest struct {
	Amount      float64        `json:"amount" validate:"required,gt=0"`
	Email       string         `json:"email" validate:"required,email"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Currency    string         `json:"currency,omitempty" validate:"omitempty,len=3"`
	Channels    []string       `json:"channels,omitempty"`
	Reference   string         `json:"reference,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Response is a raw gateway reply passed through to the caller.
type Response struct {
	StatusCode int
	Body       []byte
}

// Initialize starts a hosted-checkout transaction. The amount is sent as a
// string in minor units, per the gateway contract.
func (c *Client) Initialize(ctx context.Context, in InitializeRequest) (*Response, error) {
	if err := c.checkSecret(); err != nil {
		return nil, err
	}

	payload := map[string]any{
		"email":  in.Email,
		"amount": fmt.Sprintf("%d", MinorUnits(in.Amount)),
	}
	if len(in.Channels) > 0 {
		payload["channels"] = in.Channels
	}
	if in.Currency != "" {
		payload["currency"] = in.Currency
	}
	if in.Reference != "" {
		payload["reference"] = in.Reference
	}
	if in.CallbackURL != "" {
		payload["callback_url"] = in.CallbackURL
	}
	if in.Metadata != nil {
		payload["metadata"] = in.Metadata
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/transaction/initialize", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode >= 400 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: body}
	}
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// MatchAmount compares a requested amount in currency units against the
// verified amount in minor units. Best-effort: callers skip it when either
// side is absent.
func MatchAmount(expected float64, receivedMinor int64) error {
	expectedMinor := MinorUnits(expected)
	if expectedMinor != receivedMinor {
		return &AmountMismatchError{ExpectedMinor: expectedMinor, ReceivedMinor: receivedMinor}
	}
	return nil
}

// MatchPhone compares two phone numbers digits-only. Best-effort: an empty
// side passes.
func MatchPhone(want, got string) error {
	w := utils.DigitsOnly(want)
	g := utils.DigitsOnly(got)
	if w == "" || g == "" {
		return nil
	}
	if w != g {
		return &PhoneMismatchError{Want: want, Got: got}
	}
	return nil
}
