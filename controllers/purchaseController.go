package controllers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"bundlestore-backend/datamart"
	"bundlestore-backend/idempotency"
	"bundlestore-backend/metrics"
	"bundlestore-backend/paystack"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Verifier resolves a payment reference with the gateway.
type Verifier interface {
	Verify(ctx context.Context, reference string) (*paystack.Verification, error)
}

// Dispatcher forwards a purchase to the upstream bundle API.
type Dispatcher interface {
	Dispatch(ctx context.Context, r datamart.PurchaseRequest, idempotencyKey string) (*datamart.Response, error)
}

// PurchaseController proxies bundle purchases to the upstream API. When the
// request carries a payment reference it verifies the payment first and runs
// the whole call under the idempotency cache, so a retried or replayed
// request can never purchase twice for one payment.
type PurchaseController struct {
	Store      idempotency.Store
	Verifier   Verifier
	Dispatcher Dispatcher
}

func NewPurchaseController(store idempotency.Store, v Verifier, d Dispatcher) *PurchaseController {
	return &PurchaseController{Store: store, Verifier: v, Dispatcher: d}
}

var referenceAliases = []string{"paystackReference", "reference", "transactionReference", "tx_ref", "paymentReference"}

// Proxy handles /api/purchase for all methods: GET is a liveness probe,
// OPTIONS answers preflight, POST runs the purchase protocol.
func (pc *PurchaseController) Proxy(c *fiber.Ctx) error {
	switch c.Method() {
	case fiber.MethodOptions:
		return c.SendStatus(fiber.StatusNoContent)
	case fiber.MethodGet:
		return c.JSON(fiber.Map{"ok": true, "function": "purchase-proxy"})
	case fiber.MethodPost:
		// fall through
	default:
		return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{"message": "Method not allowed"})
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid request body"})
	}

	req := datamart.PurchaseRequest{
		PhoneNumber: firstString(body, "phoneNumber", "phone", "msisdn"),
		Network:     firstString(body, "network", "net"),
		Capacity:    firstString(body, "capacity", "size", "data"),
		Amount:      numberField(body, "amount"),
	}
	if err := req.Normalize(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}

	ref := strings.TrimSpace(firstString(body, referenceAliases...))
	key := resolveKey(ref, req, firstString(body, "clientId", "client_id"))

	if ref == "" {
		// No payment involved: a plain validated forward. The resolved key
		// still rides along as the upstream dedup header.
		return pc.forward(c, req, key)
	}

	now := time.Now()
	if rec, ok := pc.Store.Get(key); ok {
		if rec.Terminal() {
			metrics.IdempotentReplays.Inc()
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Status(rec.Status).Send(rec.Body)
		}
		if rec.Locked(now) {
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": "Processing purchase"})
		}
	}

	v, err := pc.Verifier.Verify(c.UserContext(), ref)
	if err != nil {
		metrics.PaymentVerifications.WithLabelValues("error").Inc()
		if paystack.IsConfigError(err) {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": err.Error()})
		}
		var ue *paystack.UpstreamError
		if errors.As(err, &ue) {
			status := ue.StatusCode
			if status == 0 {
				status = fiber.StatusInternalServerError
			}
			return c.Status(status).JSON(fiber.Map{"message": "Paystack verify failed", "error": rawOrString(ue.Body, err)})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Paystack verify failed"})
	}
	if !v.Success {
		metrics.PaymentVerifications.WithLabelValues("failed").Inc()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Paystack transaction not successful", "detail": v.Status})
	}
	metrics.PaymentVerifications.WithLabelValues("success").Inc()

	// Best-effort cross-checks: only applied when both sides are present.
	if req.Amount > 0 && v.AmountMinor > 0 {
		var mismatch *paystack.AmountMismatchError
		if err := paystack.MatchAmount(req.Amount, v.AmountMinor); errors.As(err, &mismatch) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"message":  "Payment amount mismatch",
				"expected": mismatch.ExpectedMinor,
				"received": mismatch.ReceivedMinor,
			})
		}
	}
	var phoneMismatch *paystack.PhoneMismatchError
	if err := paystack.MatchPhone(req.PhoneNumber, v.CustomerPhone); errors.As(err, &phoneMismatch) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Payment phone mismatch",
			"request": phoneMismatch.Want,
			"gateway": phoneMismatch.Got,
		})
	}

	// Lock before dispatching: a concurrent request for the same reference
	// gets the 202 above instead of a second upstream purchase.
	_ = pc.Store.Put(key, idempotency.Record{CreatedAt: now, LockedAt: now})

	req.TransactionReference = ref
	resp, err := pc.Dispatcher.Dispatch(c.UserContext(), req, key)
	if err != nil {
		// Money has already moved at the gateway, so don't cache a failure
		// as terminal. Refreshing the lock throttles immediate retries while
		// the TTL keeps the reference from being wedged forever.
		refreshed := time.Now()
		_ = pc.Store.Put(key, idempotency.Record{CreatedAt: refreshed, LockedAt: refreshed})
		metrics.PurchaseDispatches.WithLabelValues("upstream_error").Inc()
		log.Printf("purchase-proxy: dispatch failed for %s: %v", ref, err)
		return upstreamErrorReply(c, err)
	}

	if resp.Confirmed() {
		metrics.PurchaseDispatches.WithLabelValues("success").Inc()
	} else {
		metrics.PurchaseDispatches.WithLabelValues("not_confirmed").Inc()
	}
	_ = pc.Store.Put(key, idempotency.Record{Status: resp.StatusCode, Body: resp.Body, CreatedAt: time.Now()})

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(resp.StatusCode).Send(resp.Body)
}

// forward is the no-payment path: no cache or lock, straight passthrough.
func (pc *PurchaseController) forward(c *fiber.Ctx, req datamart.PurchaseRequest, key string) error {
	resp, err := pc.Dispatcher.Dispatch(c.UserContext(), req, key)
	if err != nil {
		metrics.PurchaseDispatches.WithLabelValues("upstream_error").Inc()
		log.Printf("purchase-proxy: forward failed: %v", err)
		return upstreamErrorReply(c, err)
	}
	if resp.Confirmed() {
		metrics.PurchaseDispatches.WithLabelValues("success").Inc()
	} else {
		metrics.PurchaseDispatches.WithLabelValues("not_confirmed").Inc()
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(resp.StatusCode).Send(resp.Body)
}

// resolveKey picks the idempotency key: the payment reference when present,
// else a stable hash of the purchase identity, else a random value. The
// random fallback recognizes nothing and deduplicates nothing; it only keeps
// the upstream header well-formed.
func resolveKey(ref string, req datamart.PurchaseRequest, clientID string) string {
	if ref != "" {
		return ref
	}
	if req.PhoneNumber != "" || req.Network != "" || req.Capacity != "" || clientID != "" {
		h := sha256.New()
		fmt.Fprintf(h, "%s\n%s\n%s\n%.2f\n%s", req.PhoneNumber, req.Network, req.Capacity, req.Amount, clientID)
		return hex.EncodeToString(h.Sum(nil))
	}
	return uuid.NewString()
}

func upstreamErrorReply(c *fiber.Ctx, err error) error {
	var ve *datamart.ValidationError
	if errors.As(err, &ve) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": ve.Msg})
	}
	if ue, ok := datamart.AsUpstreamError(err); ok {
		status := ue.StatusCode
		if status == 0 {
			status = fiber.StatusInternalServerError
		}
		return c.Status(status).JSON(fiber.Map{"message": "Purchase proxy failed", "error": rawOrString(ue.Body, err)})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Purchase proxy failed", "error": err.Error()})
}

// rawOrString embeds an upstream body verbatim when it is valid JSON,
// otherwise falls back to the error message.
func rawOrString(body []byte, err error) any {
	if json.Valid(body) && len(body) > 0 {
		return json.RawMessage(body)
	}
	if err != nil {
		return err.Error()
	}
	return nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func numberField(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return 0
}
