package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"time"

	"bundlestore-backend/datamart"
	"bundlestore-backend/models"
	"bundlestore-backend/paystack"
	"bundlestore-backend/utils"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	// ErrAlreadyProcessed means the payment reference was credited before.
	// Benign: callers route it to the normal success continuation.
	ErrAlreadyProcessed = errors.New("payment reference already processed")
	// ErrInsufficientBalance aborts a debit that would go negative.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrNoUser means the payment could not be matched to an account. The
	// credit is not applied; the reference stays recoverable by offline
	// reconciliation.
	ErrNoUser = errors.New("no user to credit")

	errConflict = errors.New("balance write conflict")
)

const txAttempts = 3

// Dispatcher forwards a purchase to the upstream bundle API.
type Dispatcher interface {
	Dispatch(ctx context.Context, r datamart.PurchaseRequest, idempotencyKey string) (*datamart.Response, error)
}

// Reconciler applies verified payments to wallet balances and optionally
// completes a pending bundle purchase described in the payment metadata.
type Reconciler struct {
	DB         *gorm.DB
	Dispatcher Dispatcher
}

func NewReconciler(db *gorm.DB, d Dispatcher) *Reconciler {
	return &Reconciler{DB: db, Dispatcher: d}
}

// Outcome summarizes what a callback invocation did.
type Outcome struct {
	UserID           string  `json:"user_id"`
	Credited         float64 `json:"credited"`
	RawAmount        float64 `json:"raw_amount"`
	AlreadyProcessed bool    `json:"already_processed"`
	PurchaseExecuted bool    `json:"purchase_executed"`
	PurchaseID       string  `json:"purchase_id,omitempty"`
}

// CreditAmount decides how much of a verified payment lands in the wallet.
// When the metadata carries the original requested amount (a processing fee
// was charged on top), only that amount is credited. The result is clamped to
// the raw verified amount so malformed metadata can never over-credit.
func CreditAmount(amountGHS float64, meta map[string]any) float64 {
	credit := amountGHS
	if v, ok := metaNumber(meta["originalAmount"]); ok {
		credit = v
	} else if purchase, ok := meta["purchase"].(map[string]any); ok {
		if v, ok := metaNumber(purchase["shortfall"]); ok {
			credit = v
		} else if v, ok := metaNumber(purchase["displayPrice"]); ok {
			if _, hasFee := metaNumber(purchase["fee"]); hasFee {
				credit = v
			}
		}
	}
	if credit < 0 {
		credit = 0
	}
	if credit > amountGHS {
		credit = amountGHS
	}
	return utils.Round2(credit)
}

// metaNumber coerces a JSON metadata value to float64; the gateway returns
// numbers and numeric strings interchangeably.
func metaNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// Apply credits a verified payment exactly once and runs the auto-purchase
// extension when the metadata asks for one. userID comes from the
// authenticated session when present; otherwise the user is resolved by the
// gateway's customer email.
func (r *Reconciler) Apply(ctx context.Context, v *paystack.Verification, userID string) (*Outcome, error) {
	user, err := r.resolveUser(userID, v.CustomerEmail)
	if err != nil {
		return nil, err
	}

	amountGHS := v.AmountGHS()
	credit := CreditAmount(amountGHS, v.Metadata)
	safeRef := utils.SanitizeReference(v.Reference)

	out := &Outcome{UserID: user.Id, Credited: credit, RawAmount: amountGHS}

	err = r.retryTx(ctx, func(tx *gorm.DB) error {
		// The marker check and the balance write must share one atomic unit;
		// a separate pre-check would leave a window between two concurrent
		// callback deliveries for the same reference.
		var marker models.CreditMarker
		ferr := tx.Where("reference = ?", safeRef).First(&marker).Error
		if ferr == nil {
			return ErrAlreadyProcessed
		}
		if !errors.Is(ferr, gorm.ErrRecordNotFound) {
			return ferr
		}

		var u models.User
		if err := tx.First(&u, "id = ?", user.Id).Error; err != nil {
			return err
		}
		newBalance := utils.Round2(u.Balance + credit)
		res := tx.Model(&models.User{}).
			Where("id = ? AND balance = ?", u.Id, u.Balance).
			Update("balance", newBalance)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errConflict
		}

		marker = models.CreditMarker{
			Reference:   safeRef,
			UserID:      u.Id,
			Amount:      credit,
			RawAmount:   amountGHS,
			Metadata:    metadataJSON(v.Metadata),
			ProcessedAt: time.Now().UTC(),
		}
		if err := tx.Create(&marker).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyProcessed
			}
			return err
		}
		return nil
	})
	if errors.Is(err, ErrAlreadyProcessed) {
		out.AlreadyProcessed = true
		return out, nil
	}
	if err != nil {
		return nil, err
	}

	if purchase, ok := pendingPurchase(v.Metadata); ok {
		r.autoPurchase(ctx, out, user.Id, safeRef, purchase)
	}
	return out, nil
}

func (r *Reconciler) resolveUser(userID, email string) (*models.User, error) {
	var user models.User
	if userID != "" {
		if err := r.DB.First(&user, "id = ?", userID).Error; err == nil {
			return &user, nil
		}
	}
	if email != "" {
		if err := r.DB.First(&user, "email = ?", email).Error; err == nil {
			return &user, nil
		}
	}
	return nil, ErrNoUser
}

// pendingPurchase extracts the bundle described by the payment metadata.
func pendingPurchase(meta map[string]any) (pending, bool) {
	m, ok := meta["purchase"].(map[string]any)
	if !ok {
		return pending{}, false
	}
	p := pending{
		PhoneNumber: metaString(m["phoneNumber"], m["phone"]),
		Network:     metaString(m["network"]),
		Capacity:    metaString(m["capacity"]),
	}
	p.DisplayPrice, _ = metaNumber(m["displayPrice"])
	if p.PhoneNumber == "" || p.Network == "" || p.Capacity == "" {
		return pending{}, false
	}
	return p, true
}

type pending struct {
	PhoneNumber  string
	Network      string
	Capacity     string
	DisplayPrice float64
}

func metaString(vals ...any) string {
	for _, v := range vals {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// autoPurchase dispatches the pending bundle and, on confirmed success,
// debits the display price and records the order. Failures leave the credit
// in place so the user can order manually; they are logged, not returned.
func (r *Reconciler) autoPurchase(ctx context.Context, out *Outcome, userID, safeRef string, p pending) {
	req := datamart.PurchaseRequest{
		PhoneNumber:          p.PhoneNumber,
		Network:              p.Network,
		Capacity:             p.Capacity,
		TransactionReference: safeRef,
	}
	if err := req.Normalize(); err != nil {
		log.Printf("auto-purchase for %s has unusable metadata: %v", safeRef, err)
		return
	}
	resp, err := r.Dispatcher.Dispatch(ctx, req, safeRef)
	if err != nil {
		log.Printf("auto-purchase dispatch failed for %s: %v", safeRef, err)
		return
	}
	if !resp.Confirmed() {
		log.Printf("auto-purchase for %s submitted but not confirmed", safeRef)
		return
	}

	err = r.retryTx(ctx, func(tx *gorm.DB) error {
		var u models.User
		if err := tx.First(&u, "id = ?", userID).Error; err != nil {
			return err
		}
		// Debit clamps at zero: the wallet was just credited with the
		// shortfall, so a lower balance means fees/rounding, not theft.
		newBalance := utils.Round2(u.Balance - p.DisplayPrice)
		if newBalance < 0 {
			newBalance = 0
		}
		res := tx.Model(&models.User{}).
			Where("id = ? AND balance = ?", u.Id, u.Balance).
			Update("balance", newBalance)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errConflict
		}

		rec := models.Purchase{
			UserID:               u.Id,
			Network:              req.Network,
			PhoneNumber:          req.PhoneNumber,
			Capacity:             req.Capacity,
			Price:                p.DisplayPrice,
			TransactionReference: safeRef,
			Status:               "success",
			RawResponse:          datatypes.JSON(resp.Body),
			CreatedAt:            time.Now().UTC(),
		}
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		out.PurchaseID = rec.Id

		// Annotate the marker so a redelivered callback cannot re-purchase.
		return tx.Model(&models.CreditMarker{}).
			Where("reference = ?", safeRef).
			Updates(map[string]any{
				"purchase_executed": true,
				"purchase_doc_id":   rec.Id,
			}).Error
	})
	if err != nil {
		log.Printf("auto-purchase settlement failed for %s: %v", safeRef, err)
		return
	}
	out.PurchaseExecuted = true
}

// PurchaseFromWallet dispatches a bundle order and settles it against the
// wallet: confirmed success debits the price (never below zero via the
// sufficiency check) and appends the order record in one atomic unit.
func (r *Reconciler) PurchaseFromWallet(ctx context.Context, userID string, req datamart.PurchaseRequest, price float64) (*models.Purchase, error) {
	if err := req.Normalize(); err != nil {
		return nil, err
	}

	var u models.User
	if err := r.DB.First(&u, "id = ?", userID).Error; err != nil {
		return nil, err
	}
	if u.Balance < price {
		return nil, ErrInsufficientBalance
	}

	resp, err := r.Dispatcher.Dispatch(ctx, req, "")
	if err != nil {
		return nil, err
	}

	status := "submitted"
	if resp.Confirmed() {
		status = "success"
	}
	rec := models.Purchase{
		UserID:               userID,
		Network:              req.Network,
		PhoneNumber:          req.PhoneNumber,
		Capacity:             req.Capacity,
		Price:                price,
		TransactionReference: req.TransactionReference,
		Status:               status,
		RawResponse:          datatypes.JSON(resp.Body),
		CreatedAt:            time.Now().UTC(),
	}

	err = r.retryTx(ctx, func(tx *gorm.DB) error {
		var cur models.User
		if err := tx.First(&cur, "id = ?", userID).Error; err != nil {
			return err
		}
		if cur.Balance < price {
			return ErrInsufficientBalance
		}
		res := tx.Model(&models.User{}).
			Where("id = ? AND balance = ?", cur.Id, cur.Balance).
			Update("balance", utils.Round2(cur.Balance-price))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errConflict
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// retryTx runs fn in a transaction, retrying the whole unit when the
// optimistic balance write lost a race. Only the conflict sentinel retries;
// everything else aborts.
func (r *Reconciler) retryTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for i := 0; i < txAttempts; i++ {
		err = r.DB.WithContext(ctx).Transaction(fn)
		if !errors.Is(err, errConflict) {
			return err
		}
	}
	return err
}

func metadataJSON(meta map[string]any) datatypes.JSON {
	if meta == nil {
		return nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
