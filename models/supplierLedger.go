package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/store"
	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type SupplierPayment struct {
	Id         string          `json:"id"`
	Amount     decimal.Decimal `json:"amount"`
	Method     PaymentMethod   `json:"method"`
	Date       time.Time       `json:"date"`
	PurchaseId string          `json:"purchaseId"`
	CardLast4  string          `json:"cardLast4,omitempty"`
}

// SupplierLedger tracks what has been paid against one purchase.
// PendingAmount and Status are always derived from TotalAmount and the payment history.
type SupplierLedger struct {
	PurchaseId        string            `json:"purchaseId"`
	ContactId         string            `json:"contactId"`
	TotalAmount       decimal.Decimal   `json:"totalAmount"`
	PaidAmountTotal   decimal.Decimal   `json:"paidAmountTotal"`
	PaidAmountHistory []SupplierPayment `json:"paidAmountHistory"`
	PendingAmount     decimal.Decimal   `json:"pendingAmount"`
	Status            PaymentStatus     `json:"status"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

func (l *SupplierLedger) derive() {
	paid := decimal.Zero
	for _, p := range l.PaidAmountHistory {
		paid = paid.Add(p.Amount)
	}
	l.PaidAmountTotal = utils.RoundMoney(paid)
	l.PendingAmount = utils.RoundMoney(decimal.Max(decimal.Zero, l.TotalAmount.Sub(l.PaidAmountTotal)))
	if l.PendingAmount.IsZero() {
		l.Status = PaymentStatusPaid
	} else {
		l.Status = PaymentStatusPending
	}
}

type NewSupplierPayment struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    PaymentMethod   `json:"method" validate:"required"`
	CardLast4 string          `json:"cardLast4" validate:"omitempty,card_last4"`
}

func (input *NewSupplierPayment) validate() error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if !input.Amount.GreaterThan(decimal.Zero) {
		return utils.NewValidationError("amount", "must be greater than zero")
	}
	if !input.Method.IsValid() {
		return utils.NewValidationError("method", "invalid payment method %q", string(input.Method))
	}
	if input.Method == PaymentMethodCard && input.CardLast4 == "" {
		return utils.NewValidationError("cardLast4", "card payments need the last 4 digits")
	}
	if input.Method != PaymentMethodCard && input.CardLast4 != "" {
		return utils.NewValidationError("cardLast4", "only card payments carry card digits")
	}
	return nil
}

type SupplierLedgerService struct {
	store  store.Store
	logger *logrus.Logger
	now    Clock
}

func NewSupplierLedgerService(s store.Store, logger *logrus.Logger, now Clock) *SupplierLedgerService {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &SupplierLedgerService{store: s, logger: logger, now: clockOrDefault(now)}
}

func (s *SupplierLedgerService) CreateSupplierRecord(ctx context.Context, purchaseId, contactId string, totalAmount decimal.Decimal, initialPayment *NewSupplierPayment) (*SupplierLedger, error) {
	var ledger *SupplierLedger
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		ledger, err = s.CreateSupplierRecordTx(tx, purchaseId, contactId, totalAmount, initialPayment)
		return err
	})
	return ledger, err
}

func (s *SupplierLedgerService) CreateSupplierRecordTx(tx store.Tx, purchaseId, contactId string, totalAmount decimal.Decimal, initialPayment *NewSupplierPayment) (*SupplierLedger, error) {
	if purchaseId == "" {
		return nil, utils.NewValidationError("purchaseId", "is required")
	}
	if totalAmount.IsNegative() {
		return nil, utils.NewValidationError("totalAmount", "must not be negative")
	}
	now := s.now()
	ledger := &SupplierLedger{
		PurchaseId:        purchaseId,
		ContactId:         contactId,
		TotalAmount:       utils.RoundMoney(totalAmount),
		PaidAmountHistory: []SupplierPayment{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if initialPayment != nil {
		if err := initialPayment.validate(); err != nil {
			return nil, err
		}
		ledger.PaidAmountHistory = append(ledger.PaidAmountHistory, s.newPayment(purchaseId, initialPayment))
	}
	ledger.derive()
	if err := tx.Create(CollectionSupplierLedgers, purchaseId, ledger); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, utils.NewValidationError("purchaseId", "supplier record for %q already exists", purchaseId)
		}
		return nil, err
	}
	return ledger, nil
}

func (s *SupplierLedgerService) newPayment(purchaseId string, input *NewSupplierPayment) SupplierPayment {
	return SupplierPayment{
		Id:         uuid.NewString(),
		Amount:     utils.RoundMoney(input.Amount),
		Method:     input.Method,
		Date:       s.now(),
		PurchaseId: purchaseId,
		CardLast4:  input.CardLast4,
	}
}

// AddPayment appends a payment, creating the ledger from the purchase total when absent.
func (s *SupplierLedgerService) AddPayment(ctx context.Context, purchaseId string, input *NewSupplierPayment) (*SupplierLedger, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	var ledger *SupplierLedger
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		ledger, err = s.loadOrInitTx(tx, purchaseId)
		if err != nil {
			return err
		}
		ledger.PaidAmountHistory = append(ledger.PaidAmountHistory, s.newPayment(purchaseId, input))
		ledger.derive()
		ledger.UpdatedAt = s.now()
		return tx.Set(CollectionSupplierLedgers, purchaseId, ledger)
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"purchaseId": purchaseId,
		"amount":     input.Amount.String(),
		"pending":    ledger.PendingAmount.String(),
	}).Info("supplier payment recorded")
	return ledger, nil
}

// GetPaymentHistory returns the ledger, lazily creating a zero-paid one for a known purchase.
func (s *SupplierLedgerService) GetPaymentHistory(ctx context.Context, purchaseId string) (*SupplierLedger, error) {
	if ledger, err := store.GetAs[SupplierLedger](ctx, s.store, CollectionSupplierLedgers, purchaseId); err == nil {
		return ledger, nil
	} else if !utils.IsNotFound(err) {
		return nil, err
	}
	var ledger *SupplierLedger
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		ledger, err = s.loadOrInitTx(tx, purchaseId)
		if err != nil {
			return err
		}
		return tx.Set(CollectionSupplierLedgers, purchaseId, ledger)
	})
	return ledger, err
}

func (s *SupplierLedgerService) loadOrInitTx(tx store.Tx, purchaseId string) (*SupplierLedger, error) {
	ledger, err := store.TxFind[SupplierLedger](tx, CollectionSupplierLedgers, purchaseId)
	if err != nil || ledger != nil {
		return ledger, err
	}
	purchase, err := store.TxGet[Purchase](tx, CollectionPurchases, purchaseId)
	if err != nil {
		return nil, err
	}
	now := s.now()
	ledger = &SupplierLedger{
		PurchaseId:        purchaseId,
		ContactId:         purchase.ContactId,
		TotalAmount:       utils.RoundMoney(purchase.TotalAmount),
		PaidAmountHistory: []SupplierPayment{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	ledger.derive()
	return ledger, nil
}
