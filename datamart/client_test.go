package datamart

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalize(t *testing.T) {
	r := PurchaseRequest{PhoneNumber: " 0551234567 ", Network: "mtn", Capacity: "5GB"}
	if err := r.Normalize(); err != nil {
		t.Fatal(err)
	}
	if r.Network != "YELLO" {
		t.Errorf("network: %q", r.Network)
	}
	if r.Capacity != "5" {
		t.Errorf("capacity: %q", r.Capacity)
	}
	if r.PhoneNumber != "0551234567" {
		t.Errorf("phone: %q", r.PhoneNumber)
	}
}

func TestNormalizeRejectsMissingFields(t *testing.T) {
	cases := []PurchaseRequest{
		{Network: "mtn", Capacity: "5"},
		{PhoneNumber: "0551234567", Capacity: "5"},
		{PhoneNumber: "0551234567", Network: "mtn"},
		{PhoneNumber: "0551234567", Network: "mtn", Capacity: "GB"}, // no digits
	}
	for i, r := range cases {
		err := r.Normalize()
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("case %d: expected ValidationError, got %v", i, err)
		}
	}
}

func TestConfirmed(t *testing.T) {
	cases := []struct {
		body string
		want bool
	}{
		{`{"status":"success"}`, true},
		{`{"status":"SUCCESS"}`, true},
		{`{"status":"pending"}`, false},
		{`{"success":true}`, true},
		{`{"success":false}`, false},
		{`{"data":{"status":"success"}}`, true},
		{`{"order":{"status":"success"}}`, true},
		{`{"order":{"status":"failed"}}`, false},
		// first present verdict wins over later extractors
		{`{"status":"pending","data":{"status":"success"}}`, false},
		// absent from all extractors: submitted but not confirmed
		{`{"id":"p1"}`, false},
		{`not json`, false},
		{`{}`, false},
	}
	for _, tc := range cases {
		if got := Confirmed([]byte(tc.body)); got != tc.want {
			t.Errorf("Confirmed(%s) = %v, want %v", tc.body, got, tc.want)
		}
	}
}

func TestDispatch(t *testing.T) {
	var gotHeaders http.Header
	var gotBody PurchaseRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"status":"success","id":"p1"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "dm_key")
	resp, err := c.Dispatch(context.Background(), PurchaseRequest{
		PhoneNumber:          "0551234567",
		Network:              "mtn",
		Capacity:             "5gb",
		TransactionReference: "ref_abc",
	}, "ref_abc")
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Confirmed() {
		t.Error("expected confirmed response")
	}
	if gotHeaders.Get("X-API-Key") != "dm_key" {
		t.Errorf("X-API-Key: %q", gotHeaders.Get("X-API-Key"))
	}
	if gotHeaders.Get("Idempotency-Key") != "ref_abc" {
		t.Errorf("Idempotency-Key: %q", gotHeaders.Get("Idempotency-Key"))
	}
	if gotBody.Network != "YELLO" || gotBody.Capacity != "5" {
		t.Errorf("body not normalized: %+v", gotBody)
	}
	if gotBody.TransactionReference != "ref_abc" {
		t.Errorf("transactionReference: %q", gotBody.TransactionReference)
	}
}

func TestDispatchValidatesBeforeCalling(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.Dispatch(context.Background(), PurchaseRequest{Network: "mtn"}, "")
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if calls != 0 {
		t.Errorf("validation failures must not reach upstream, got %d calls", calls)
	}
}

func TestDispatchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"message":"provider down"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.Dispatch(context.Background(), PurchaseRequest{
		PhoneNumber: "0551234567", Network: "mtn", Capacity: "5",
	}, "")
	ue, ok := AsUpstreamError(err)
	if !ok {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if ue.StatusCode != http.StatusBadGateway {
		t.Errorf("status: %d", ue.StatusCode)
	}
	if string(ue.Body) != `{"message":"provider down"}` {
		t.Errorf("body: %s", ue.Body)
	}
}

func TestPackages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer dm_key" {
			t.Errorf("auth header: %q", got)
		}
		w.Write([]byte(`[{"capacity":"5","price":23.0}]`))
	}))
	defer srv.Close()

	c := New("", "dm_key")
	c.ProviderBases = map[string]string{"MTN": srv.URL}

	resp, err := c.Packages(context.Background(), "mtn")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: %d", resp.StatusCode)
	}

	if _, err := c.Packages(context.Background(), "unknown"); err == nil {
		t.Error("unknown provider must be rejected")
	}
}

func TestBalanceStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("msisdn") != "0551234567" || q.Get("phoneNumber") != "0551234567" {
			t.Errorf("both phone params expected, got %v", q)
		}
		w.Write([]byte(`{"balance":12.5}`))
	}))
	defer srv.Close()

	c := New("", "")
	c.BalanceURL = srv.URL

	if _, err := c.BalanceStats(context.Background(), "0551234567", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := c.BalanceStats(context.Background(), "", ""); err == nil {
		t.Error("missing phone must be rejected")
	}
}
