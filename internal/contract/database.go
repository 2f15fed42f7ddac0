package contract

import (
	"errors"
	"time"

	"github.com/mvbarbosa/loanbook-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GormDB exposes the underlying connection for transactional composition
// with the ledger store.
func (d *Database) GormDB() *gorm.DB {
	return d.db
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

func (d *Database) ListContractsByClientID(clientID string) ([]types.Contract, error) {
	var contracts []types.Contract
	if err := d.db.Preload("Legs").Where("client_id = ?", clientID).Order("created_at ASC").Find(&contracts).Error; err != nil {
		return nil, err
	}
	return contracts, nil
}

func (d *Database) UpdateContract(contract *types.Contract) error {
	return d.db.Save(contract).Error
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

// CreateContractWithIdempotency creates a contract, its initial ledger entry
// and the idempotency record in a single transaction. writeEntry receives
// the open transaction so a failed ledger write rolls everything back.
func (d *Database) CreateContractWithIdempotency(contract *types.Contract, idempotencyKey string, writeEntry func(tx *gorm.DB) error) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(contract).Error; err != nil {
		tx.Rollback()
		return err
	}

	if err := writeEntry(tx); err != nil {
		tx.Rollback()
		return err
	}

	record := types.IdempotencyRecord{
		IdempotencyKey: idempotencyKey,
		ResourceID:     contract.ContractID,
		ResourceType:   "contract",
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	}
	if err := tx.Create(&record).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}
