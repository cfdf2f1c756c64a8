package routes

import (
	"github.com/gofiber/fiber/v2"

	"bundlestore-backend/controllers"
	"bundlestore-backend/middlewares"
)

// Controllers bundles the handler sets Register wires up.
type Controllers struct {
	Purchase *controllers.PurchaseController
	Paystack *controllers.PaystackController
	Callback *controllers.CallbackController
	Catalog  *controllers.CatalogController
	Orders   *controllers.OrderController
}

// Register wires all HTTP routes.
func Register(app *fiber.App, ctrl Controllers) {
	api := app.Group("/api")

	// Public auth endpoints
	api.Post("/registration", controllers.Register)
	api.Post("/login", controllers.Login)
	api.Post("/logout", controllers.Logout)

	// Purchase proxy: GET liveness, OPTIONS preflight, POST protocol
	api.All("/purchase", ctrl.Purchase.Proxy)

	// Payment gateway proxies
	api.Post("/paystack/initialize", ctrl.Paystack.Initialize)
	api.Post("/paystack/verify", ctrl.Paystack.Verify)
	api.Get("/paystack/verify", ctrl.Paystack.Verify)

	// Payment callback: credits work with or without a session, so auth is
	// optional and anonymous payments are matched by customer email.
	api.Post("/paystack/callback", middlewares.OptionalAuth(), ctrl.Callback.Callback)

	// Catalog and upstream balance reads
	api.Get("/packages", ctrl.Catalog.Packages)
	api.Get("/balance-stats", ctrl.Catalog.BalanceStats)
	api.Post("/webhook/datamart", ctrl.Catalog.Webhook)

	// Protected endpoints (JWT auth)
	protected := api.Group("")
	protected.Use(middlewares.IsAuthenticatedHeader())

	protected.Get("/user", controllers.User)
	protected.Get("/orders", ctrl.Orders.List)
	protected.Post("/wallet/purchase", ctrl.Orders.Purchase)
}
