package datamart

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"bundlestore-backend/utils"
)

const defaultPurchaseURL = "https://api.datamartgh.shop/api/developer/purchase"
const defaultBalanceURL = "https://api.datamartgh.shop/api/developer/balance"

// ValidationError means the request was rejected before any upstream call.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// ErrMissingFields is the canonical validation failure for a purchase.
var ErrMissingFields = &ValidationError{Msg: "Missing required fields: phoneNumber, network, capacity"}

// UpstreamError is a transport or HTTP failure from the bundle API,
// preserving the upstream status code and body when available.
type UpstreamError struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return "upstream purchase request failed: " + e.Err.Error()
	}
	return fmt.Sprintf("upstream purchase API returned status %d", e.StatusCode)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// PurchaseRequest is the normalized payload forwarded to the bundle API.
type PurchaseRequest struct {
	PhoneNumber          string  `json:"phoneNumber"`
	Network              string  `json:"network"`
	Capacity             string  `json:"capacity"`
	Amount               float64 `json:"amount,omitempty"`
	TransactionReference string  `json:"transactionReference,omitempty"`
}

// Normalize maps the network name, coerces capacity to a digits-only GB
// figure and checks the required fields. It must be called before Dispatch;
// a failure means no network call is made.
func (r *PurchaseRequest) Normalize() error {
	r.PhoneNumber = strings.TrimSpace(r.PhoneNumber)
	r.Network = utils.MapNetwork(r.Network)
	r.Capacity = utils.DigitsOnly(r.Capacity)
	if r.PhoneNumber == "" || r.Network == "" || r.Capacity == "" {
		return ErrMissingFields
	}
	return nil
}

// Response is a raw upstream reply passed through to the caller.
type Response struct {
	StatusCode int
	Body       []byte
}

// Confirmed reports whether the body carries an explicit success indicator.
// The upstream API is not consistent about where it says so, hence the
// ordered extractor list; a body matching none of them is "submitted but not
// confirmed" and must not be treated as success.
func (r *Response) Confirmed() bool {
	return Confirmed(r.Body)
}

type extractor struct {
	name string
	eval func(m map[string]any) (value, present bool)
}

func stringStatus(m map[string]any, key string) (bool, bool) {
	v, ok := m[key].(string)
	if !ok {
		return false, false
	}
	return strings.EqualFold(v, "success"), true
}

func nestedStatus(m map[string]any, key string) (bool, bool) {
	inner, ok := m[key].(map[string]any)
	if !ok {
		return false, false
	}
	return stringStatus(inner, "status")
}

var successExtractors = []extractor{
	{"status", func(m map[string]any) (bool, bool) { return stringStatus(m, "status") }},
	{"success_flag", func(m map[string]any) (bool, bool) {
		v, ok := m["success"].(bool)
		return v, ok
	}},
	{"data.status", func(m map[string]any) (bool, bool) { return nestedStatus(m, "data") }},
	{"order.status", func(m map[string]any) (bool, bool) { return nestedStatus(m, "order") }},
}

// Confirmed tries each extractor in order and returns the first present
// verdict; absent from all means not confirmed.
func Confirmed(body []byte) bool {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return false
	}
	for _, e := range successExtractors {
		if v, ok := e.eval(m); ok {
			return v
		}
	}
	return false
}

// Client talks to the bundle reseller API: purchases, catalog listings and
// balance lookups.
type Client struct {
	PurchaseURL   string
	BalanceURL    string
	APIKey        string
	ProviderBases map[string]string

	http     *http.Client // reads: catalog, balance
	purchase *http.Client // purchase dispatch gets a longer budget
}

func New(purchaseURL, apiKey string) *Client {
	if purchaseURL == "" {
		purchaseURL = defaultPurchaseURL
	}
	return &Client{
		PurchaseURL:   purchaseURL,
		BalanceURL:    defaultBalanceURL,
		APIKey:        apiKey,
		ProviderBases: map[string]string{},
		http:          &http.Client{Timeout: 10 * time.Second},
		purchase:      &http.Client{Timeout: 15 * time.Second},
	}
}

// NewFromEnv reads the upstream endpoints and API key from the environment,
// accepting the same aliases the deployment has historically used.
func NewFromEnv() *Client {
	purchaseURL := firstEnv("API_PURCHASE", "PURCHASE_URL")
	c := New(purchaseURL, firstEnv("API_KEY"))
	if v := firstEnv("API_BALANCE", "API_BALANCE_STATS"); v != "" {
		c.BalanceURL = v
	}
	c.ProviderBases = map[string]string{
		"MTN":     firstEnv("API_BASE"),
		"AT":      firstEnv("API_BASE_AT_PREMIUM"),
		"TELECEL": firstEnv("API_BASE_TELECEL"),
	}
	return c
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// Dispatch forwards a normalized purchase to the upstream API. When
// idempotencyKey is non-empty it is attached as the Idempotency-Key header so
// the upstream can deduplicate on its side too.
func (c *Client) Dispatch(ctx context.Context, r PurchaseRequest, idempotencyKey string) (*Response, error) {
	if err := r.Normalize(); err != nil {
		return nil, err
	}

	buf, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.PurchaseURL, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.purchase.Do(req)
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

// Packages fetches the bundle catalog for a provider (MTN, AT, TELECEL).
func (c *Client) Packages(ctx context.Context, provider string) (*Response, error) {
	provider = strings.ToUpper(strings.TrimSpace(provider))
	if provider == "" {
		provider = "MTN"
	}
	target := c.ProviderBases[provider]
	if target == "" {
		return nil, &ValidationError{Msg: "Unknown provider or API base not configured"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	return c.roundTrip(req)
}

// BalanceStats looks up upstream balance/usage figures for a phone number.
// The API has referenced both msisdn and phoneNumber as parameter names, so
// both are sent.
func (c *Client) BalanceStats(ctx context.Context, phone, provider string) (*Response, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, &ValidationError{Msg: "Missing required query param: phone"}
	}

	q := url.Values{}
	q.Set("msisdn", phone)
	q.Set("phoneNumber", phone)
	if provider = strings.TrimSpace(provider); provider != "" {
		q.Set("provider", provider)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BalanceURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	return c.roundTrip(req)
}

func (c *Client) roundTrip(req *http.Request) (*Response, error) {
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

// AsUpstreamError unwraps err into an *UpstreamError if it is one.
func AsUpstreamError(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
