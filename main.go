package main

import (
	"log"
	"os"
	"strconv"
	"time"

	"bundlestore-backend/controllers"
	"bundlestore-backend/database"
	"bundlestore-backend/datamart"
	"bundlestore-backend/idempotency"
	"bundlestore-backend/middlewares"
	"bundlestore-backend/paystack"
	"bundlestore-backend/routes"
	"bundlestore-backend/wallet"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// envInt reads an int env var with a default fallback.
func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func main() {
	// ---- Database
	database.Connect()
	database.AutoMigrate()

	// ---- Upstream clients
	gateway := paystack.NewFromEnv()
	bundles := datamart.NewFromEnv()

	// ---- Idempotency store: in-memory by default, bolt-backed when a path
	// is configured. Either way the state is per-instance; see DESIGN.md.
	var store idempotency.Store = idempotency.NewMemory()
	if path := os.Getenv("IDEMPOTENCY_DB_PATH"); path != "" {
		boltStore, err := idempotency.NewBolt(path)
		if err != nil {
			log.Fatalf("could not open idempotency store at %s: %v", path, err)
		}
		defer boltStore.Close()
		store = boltStore
	}

	reconciler := wallet.NewReconciler(database.DB, bundles)

	ctrl := routes.Controllers{
		Purchase: controllers.NewPurchaseController(store, gateway, bundles),
		Paystack: controllers.NewPaystackController(gateway),
		Callback: controllers.NewCallbackController(gateway, reconciler),
		Catalog:  controllers.NewCatalogController(bundles),
		Orders:   controllers.NewOrderController(database.DB, reconciler),
	}

	// ---- Limits (configurable via env)
	bodyLimitBytes := envInt("BODY_LIMIT_BYTES", 0)
	if bodyLimitBytes <= 0 {
		bodyLimitBytes = envInt("BODY_LIMIT_MB", 4) * 1024 * 1024
	}

	// ---- Fiber app with global error handler + body limit
	app := fiber.New(fiber.Config{
		ErrorHandler: middlewares.ErrorHandler,
		BodyLimit:    bodyLimitBytes,
	})

	// ---- CORS
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowCredentials: false, // using Bearer tokens, not cookies
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-API-Key",
	}))

	// ---- Global rate limiter (applies to all routes; tune via env)
	rlMax := envInt("RATE_LIMIT_MAX", 60)
	rlWindow := time.Duration(envInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second
	app.Use(limiter.New(limiter.Config{
		Max:        rlMax,
		Expiration: rlWindow,
	}))

	// ---- Metrics
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// ---- Routes
	routes.Register(app, ctrl)

	// ---- Start
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Println("listening on port", port)
	if err := app.Listen(":" + port); err != nil {
		panic(err)
	}
}
