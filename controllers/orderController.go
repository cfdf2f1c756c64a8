package controllers

import (
	"errors"

	"bundlestore-backend/datamart"
	"bundlestore-backend/middlewares"
	"bundlestore-backend/models"
	"bundlestore-backend/utils"
	"bundlestore-backend/wallet"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// OrderController serves order history and wallet-funded purchases for the
// authenticated user.
type OrderController struct {
	DB         *gorm.DB
	Reconciler *wallet.Reconciler
}

func NewOrderController(db *gorm.DB, r *wallet.Reconciler) *OrderController {
	return &OrderController{DB: db, Reconciler: r}
}

// List returns the user's purchases, newest first.
func (oc *OrderController) List(c *fiber.Ctx) error {
	userID, _ := c.Locals("userID").(string)
	limit := utils.ParseIntDefault(c.Query("limit"), 50)

	var orders []models.Purchase
	if err := oc.DB.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Could not load orders"})
	}
	return c.JSON(orders)
}

type walletPurchaseRequest struct {
	PhoneNumber string  `json:"phoneNumber" validate:"required"`
	Network     string  `json:"network" validate:"required"`
	Capacity    string  `json:"capacity" validate:"required"`
	Price       float64 `json:"price" validate:"required,gt=0"`
}

// Purchase buys a bundle against the wallet balance: the display price is
// debited only after the upstream purchase goes through.
func (oc *OrderController) Purchase(c *fiber.Ctx) error {
	userID, _ := c.Locals("userID").(string)

	var in walletPurchaseRequest
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}

	req := datamart.PurchaseRequest{
		PhoneNumber: in.PhoneNumber,
		Network:     in.Network,
		Capacity:    in.Capacity,
	}
	rec, err := oc.Reconciler.PurchaseFromWallet(c.UserContext(), userID, req, utils.Round2(in.Price))
	if err != nil {
		if errors.Is(err, wallet.ErrInsufficientBalance) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Insufficient balance"})
		}
		var ve *datamart.ValidationError
		if errors.As(err, &ve) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": ve.Msg})
		}
		return upstreamErrorReply(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}
