package paystack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testClient(t *testing.T, secret string, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(secret)
	c.BaseURL = srv.URL
	return c
}

func TestSanitizeSecret(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  sk_test_abc  ", "sk_test_abc"},
		{"Bearer sk_test_abc", "sk_test_abc"},
		{"bearer sk_test_abc", "sk_test_abc"},
		{`"sk_test_abc"`, "sk_test_abc"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := SanitizeSecret(tc.in); got != tc.want {
			t.Errorf("SanitizeSecret(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestVerifyRejectsMisconfiguredKey(t *testing.T) {
	calls := 0
	handler := func(w http.ResponseWriter, r *http.Request) { calls++ }

	c := testClient(t, "", handler)
	if _, err := c.Verify(context.Background(), "ref_abc"); !errors.Is(err, ErrSecretMissing) {
		t.Errorf("missing secret: got %v", err)
	}

	c = testClient(t, "pk_test_abc", handler)
	if _, err := c.Verify(context.Background(), "ref_abc"); !errors.Is(err, ErrPublicKey) {
		t.Errorf("public key: got %v", err)
	}
	if !IsConfigError(ErrPublicKey) || !IsConfigError(ErrSecretMissing) {
		t.Error("config errors must be classified as such")
	}
	if calls != 0 {
		t.Errorf("config errors must fail before any call, got %d calls", calls)
	}
}

func TestVerifySuccess(t *testing.T) {
	c := testClient(t, "sk_test_abc", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transaction/verify/ref_abc" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test_abc" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Write([]byte(`{"status":true,"data":{"status":"success","amount":500,"reference":"ref_abc",
			"customer":{"email":"kofi@example.com","phone":"0551234567"},
			"metadata":{"originalAmount":4.5}}}`))
	})

	v, err := c.Verify(context.Background(), "ref_abc")
	if err != nil {
		t.Fatal(err)
	}
	if !v.Success {
		t.Error("expected success")
	}
	if v.AmountMinor != 500 || v.AmountGHS() != 5.00 {
		t.Errorf("amount: %d minor, %v GHS", v.AmountMinor, v.AmountGHS())
	}
	if v.CustomerEmail != "kofi@example.com" || v.CustomerPhone != "0551234567" {
		t.Errorf("customer: %q %q", v.CustomerEmail, v.CustomerPhone)
	}
	if v.Metadata["originalAmount"] != 4.5 {
		t.Errorf("metadata: %v", v.Metadata)
	}
}

func TestVerifyNonSuccessIsNotAnError(t *testing.T) {
	c := testClient(t, "sk_test_abc", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":true,"data":{"status":"abandoned","amount":500,"reference":"ref_abc"}}`))
	})
	v, err := c.Verify(context.Background(), "ref_abc")
	if err != nil {
		t.Fatal(err)
	}
	if v.Success {
		t.Error("abandoned transaction must not verify as success")
	}
	if v.Status != "abandoned" {
		t.Errorf("status: %q", v.Status)
	}
}

func TestVerifyUpstreamError(t *testing.T) {
	c := testClient(t, "sk_test_abc", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"status":false,"message":"Transaction reference not found"}`))
	})
	_, err := c.Verify(context.Background(), "ref_missing")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if ue.StatusCode != http.StatusNotFound {
		t.Errorf("status: %d", ue.StatusCode)
	}
	if len(ue.Body) == 0 {
		t.Error("upstream body must be preserved")
	}
}

func TestVerifyMissingReference(t *testing.T) {
	c := New("sk_test_abc")
	if _, err := c.Verify(context.Background(), "  "); err == nil {
		t.Error("empty reference must be rejected")
	}
}

func TestInitializeConvertsToMinorUnits(t *testing.T) {
	var payload map[string]any
	c := testClient(t, "sk_test_abc", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transaction/initialize" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&payload)
		w.Write([]byte(`{"status":true,"data":{"authorization_url":"https://checkout.example"}}`))
	})

	resp, err := c.Initialize(context.Background(), InitializeRequest{
		Amount:      105.5,
		Email:       "kofi@example.com",
		CallbackURL: "https://shop.example/paystack/callback",
		Metadata:    map[string]any{"originalAmount": 100},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: %d", resp.StatusCode)
	}
	if payload["amount"] != "10550" {
		t.Errorf("amount must be a minor-unit string, got %v", payload["amount"])
	}
	if payload["callback_url"] != "https://shop.example/paystack/callback" {
		t.Errorf("callback_url: %v", payload["callback_url"])
	}
}

func TestMatchAmount(t *testing.T) {
	if err := MatchAmount(5.00, 500); err != nil {
		t.Errorf("matching amount rejected: %v", err)
	}

	err := MatchAmount(5.00, 600)
	var mismatch *AmountMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected AmountMismatchError, got %v", err)
	}
	if mismatch.ExpectedMinor != 500 || mismatch.ReceivedMinor != 600 {
		t.Errorf("mismatch values: %+v", mismatch)
	}
}

func TestMatchPhone(t *testing.T) {
	if err := MatchPhone("055-123-4567", "0551234567"); err != nil {
		t.Errorf("formatting must not matter: %v", err)
	}
	// best-effort: an absent side passes
	if err := MatchPhone("0551234567", ""); err != nil {
		t.Errorf("empty gateway phone must pass: %v", err)
	}
	var mismatch *PhoneMismatchError
	if err := MatchPhone("0551234567", "0249999999"); !errors.As(err, &mismatch) {
		t.Fatalf("expected PhoneMismatchError, got %v", err)
	}
	if mismatch.Want != "0551234567" || mismatch.Got != "0249999999" {
		t.Errorf("mismatch values: %+v", mismatch)
	}
}

func TestMinorUnits(t *testing.T) {
	cases := []struct {
		in   float64
		want int64
	}{
		{5.00, 500},
		{105.00, 10500},
		{0.01, 1},
		{1.005, 100}, // float drift rounds down here; gateway does the same
	}
	for _, tc := range cases {
		if got := MinorUnits(tc.in); got != tc.want {
			t.Errorf("MinorUnits(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
