package controllers

import (
	"errors"
	"log"
	"strings"

	"bundlestore-backend/metrics"
	"bundlestore-backend/wallet"

	"github.com/gofiber/fiber/v2"
)

// CallbackController is the server-side landing point for a completed hosted
// checkout: verify the payment, credit the wallet exactly once, and complete
// a pending bundle purchase when the metadata describes one.
type CallbackController struct {
	Verifier   Verifier
	Reconciler *wallet.Reconciler
}

func NewCallbackController(v Verifier, r *wallet.Reconciler) *CallbackController {
	return &CallbackController{Verifier: v, Reconciler: r}
}

func (cc *CallbackController) Callback(c *fiber.Ctx) error {
	var body struct {
		Reference string `json:"reference"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid request body"})
	}
	reference := strings.TrimSpace(body.Reference)
	if reference == "" {
		reference = strings.TrimSpace(c.Query("reference"))
	}
	if reference == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Missing reference"})
	}

	v, err := cc.Verifier.Verify(c.UserContext(), reference)
	if err != nil {
		return gatewayErrorReply(c, "Paystack verify failed", err)
	}
	if !v.Success {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Paystack transaction not successful",
			"detail":  v.Status,
		})
	}

	userID, _ := c.Locals("userID").(string)
	out, err := cc.Reconciler.Apply(c.UserContext(), v, userID)
	if errors.Is(err, wallet.ErrNoUser) {
		// Not silently lost: the reference stays verifiable, and offline
		// reconciliation can still match it to an account.
		log.Printf("callback: no account for reference %s (customer %s)", reference, v.CustomerEmail)
		return c.JSON(fiber.Map{"status": "unmatched", "message": "Payment verified but no matching account found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Failed to credit balance"})
	}

	if out.AlreadyProcessed {
		return c.JSON(fiber.Map{"status": "already_processed", "reference": reference})
	}
	metrics.WalletCredits.Inc()
	return c.JSON(fiber.Map{
		"status":            "credited",
		"reference":         reference,
		"credited":          out.Credited,
		"raw_amount":        out.RawAmount,
		"purchase_executed": out.PurchaseExecuted,
		"purchase_id":       out.PurchaseID,
	})
}
