package payment

import (
	"errors"
	"time"

	"github.com/mvbarbosa/loanbook-api/internal/ledger"
	"github.com/mvbarbosa/loanbook-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetContract(contractID string) (*types.Contract, error) {
	var contract types.Contract
	if err := d.db.Preload("Legs").Where("contract_id = ?", contractID).First(&contract).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &contract, nil
}

func (d *Database) GetContractByIDAndClientID(contractID, clientID string) (*types.Contract, error) {
	var contract types.Contract
	if err := d.db.Preload("Legs").Where("contract_id = ? AND client_id = ?", contractID, clientID).First(&contract).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &contract, nil
}

func (d *Database) GetPayment(paymentID string) (*types.Payment, error) {
	var payment types.Payment
	if err := d.db.Where("payment_id = ?", paymentID).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (d *Database) PaymentsForContract(contractID string) ([]types.Payment, error) {
	var payments []types.Payment
	if err := d.db.
		Where("contract_id = ?", contractID).
		Order("payment_date ASC, id ASC").
		Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

// GetIdempotencyRecord retrieves an idempotency record by key
func (d *Database) GetIdempotencyRecord(key string) (*types.IdempotencyRecord, error) {
	var record types.IdempotencyRecord
	if err := d.db.Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &record, nil
		}
		return nil, err
	}
	return &record, nil
}

// CommitPayment persists a payment, the updated contract snapshot, the
// ledger entry and the idempotency record in one transaction. Every input is
// fully computed before this is called; a failure rolls the whole payment
// back and the caller must retry from scratch.
func (d *Database) CommitPayment(payment *types.Payment, contract *types.Contract, entry *ledger.Entry, store *ledger.Store, idempotencyKey string) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(payment).Error; err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Save(contract).Error; err != nil {
		tx.Rollback()
		return err
	}

	if err := store.AppendTx(tx, entry); err != nil {
		tx.Rollback()
		return err
	}

	record := types.IdempotencyRecord{
		IdempotencyKey: idempotencyKey,
		ResourceID:     payment.PaymentID,
		ResourceType:   "payment",
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	}
	if err := tx.Create(&record).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}
