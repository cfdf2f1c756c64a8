package controllers

import (
	"context"
	"errors"
	"log"

	"bundlestore-backend/datamart"

	"github.com/gofiber/fiber/v2"
)

// Catalog is the read-only slice of the bundle API used by listing views.
type Catalog interface {
	Packages(ctx context.Context, provider string) (*datamart.Response, error)
	BalanceStats(ctx context.Context, phone, provider string) (*datamart.Response, error)
}

// CatalogController proxies bundle listings and upstream balance lookups.
// No correctness hardening here; these are plain reads.
type CatalogController struct {
	Catalog Catalog
}

func NewCatalogController(cat Catalog) *CatalogController {
	return &CatalogController{Catalog: cat}
}

func (cc *CatalogController) Packages(c *fiber.Ctx) error {
	resp, err := cc.Catalog.Packages(c.UserContext(), c.Query("provider"))
	if err != nil {
		return catalogErrorReply(c, "Failed to fetch packages", err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(resp.StatusCode).Send(resp.Body)
}

func (cc *CatalogController) BalanceStats(c *fiber.Ctx) error {
	phone := c.Query("phone")
	if phone == "" {
		phone = c.Query("msisdn")
	}
	provider := c.Query("provider")
	if provider == "" {
		provider = c.Query("network")
	}
	resp, err := cc.Catalog.BalanceStats(c.UserContext(), phone, provider)
	if err != nil {
		return catalogErrorReply(c, "Failed to fetch balance stats", err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(resp.StatusCode).Send(resp.Body)
}

// Webhook acknowledges but no longer processes provider callbacks.
func (cc *CatalogController) Webhook(c *fiber.Ctx) error {
	return c.Status(fiber.StatusGone).JSON(fiber.Map{"message": "Webhook handler removed"})
}

func catalogErrorReply(c *fiber.Ctx, msg string, err error) error {
	var ve *datamart.ValidationError
	if errors.As(err, &ve) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": ve.Msg})
	}
	if ue, ok := datamart.AsUpstreamError(err); ok {
		status := ue.StatusCode
		if status == 0 {
			status = fiber.StatusInternalServerError
		}
		log.Printf("catalog proxy error: %v", err)
		return c.Status(status).JSON(fiber.Map{"message": msg, "error": rawOrString(ue.Body, err)})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": msg})
}
