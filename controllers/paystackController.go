package controllers

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"bundlestore-backend/middlewares"
	"bundlestore-backend/paystack"

	"github.com/gofiber/fiber/v2"
)

// Gateway is the slice of the payment client these endpoints need.
type Gateway interface {
	Verifier
	Initialize(ctx context.Context, in paystack.InitializeRequest) (*paystack.Response, error)
}

// PaystackController proxies initialize and verify calls to the gateway so
// the secret key never reaches the browser.
type PaystackController struct {
	Gateway Gateway
}

func NewPaystackController(g Gateway) *PaystackController {
	return &PaystackController{Gateway: g}
}

// Initialize starts a hosted checkout. The amount arrives in currency units
// and is converted to minor units before the gateway call.
func (pc *PaystackController) Initialize(c *fiber.Ctx) error {
	var in paystack.InitializeRequest
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}

	resp, err := pc.Gateway.Initialize(c.UserContext(), in)
	if err != nil {
		return gatewayErrorReply(c, "Paystack init failed", err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(resp.StatusCode).Send(resp.Body)
}

// Verify resolves a reference. POST returns the raw gateway body; GET is the
// gateway's redirect target and bounces the browser to the client callback
// route carrying the reference.
func (pc *PaystackController) Verify(c *fiber.Ctx) error {
	var reference string
	if c.Method() == fiber.MethodGet {
		reference = c.Query("reference")
		if reference == "" {
			reference = c.Query("trxref")
		}
	} else {
		var body struct {
			Reference string `json:"reference"`
		}
		if err := c.BodyParser(&body); err == nil {
			reference = body.Reference
		}
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Missing reference"})
	}

	v, err := pc.Gateway.Verify(c.UserContext(), reference)
	if err != nil {
		return gatewayErrorReply(c, "Paystack verify failed", err)
	}

	if c.Method() == fiber.MethodGet {
		return c.Redirect("/paystack/callback?reference="+url.QueryEscape(reference), fiber.StatusFound)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(v.Raw)
}

func gatewayErrorReply(c *fiber.Ctx, msg string, err error) error {
	if paystack.IsConfigError(err) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": err.Error()})
	}
	var ue *paystack.UpstreamError
	if errors.As(err, &ue) {
		status := ue.StatusCode
		if status == 0 {
			status = fiber.StatusInternalServerError
		}
		if status == fiber.StatusUnauthorized {
			return c.Status(status).JSON(fiber.Map{
				"message": "Unauthorized: invalid Paystack secret key. Ensure PAYSTACK_SECRET_KEY is your secret (sk_test_... or sk_live_...)",
				"error":   rawOrString(ue.Body, nil),
			})
		}
		return c.Status(status).JSON(fiber.Map{"message": msg, "error": rawOrString(ue.Body, err)})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": msg})
}
