package accrual

import (
	"errors"

	"github.com/mvbarbosa/loanbook-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
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
