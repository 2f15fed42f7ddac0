// Package ledger is the append-only, per-contract log of balance-affecting
// events. Entries are never updated or deleted; balance at any date is
// reconstructed by replaying them in entry-date order.
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Entry types
const (
	TypeContractCreation = "CONTRACT_CREATION"
	TypePayment          = "PAYMENT"
	TypeAdjustment       = "ADJUSTMENT"
	TypeAccrual          = "ACCRUAL"
)

// Entry is one immutable, dated, balance-affecting event. Amounts are
// signed: creation is positive, payments are negative.
type Entry struct {
	gorm.Model `json:"-"`
	EntryID    string `gorm:"uniqueIndex" json:"entry_id"`
	ContractID string `gorm:"index" json:"contract_id"`
	EntryType  string `json:"entry_type"` // CONTRACT_CREATION, PAYMENT, ADJUSTMENT, ACCRUAL
	EntryDate  string `json:"entry_date"` // YYYY-MM-DD

	AmountOrigin decimal.Decimal `json:"amount_origin"`
	AmountBRL    decimal.Decimal `json:"amount_brl"`
	FxRate       decimal.Decimal `json:"fx_rate"`
	FxSource     string          `json:"fx_source"`

	BalanceAfterOrigin decimal.Decimal `json:"balance_after_origin"`
	BalanceAfterBRL    decimal.Decimal `json:"balance_after_brl"`

	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store appends and reads ledger entries. There is deliberately no update or
// delete path.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Append writes one entry, assigning its ID and creation timestamp.
func (s *Store) Append(entry *Entry) error {
	entry.EntryID = "LED_" + uuid.New().String()
	entry.CreatedAt = time.Now()
	return s.db.Create(entry).Error
}

// AppendTx writes one entry inside an existing transaction.
func (s *Store) AppendTx(tx *gorm.DB, entry *Entry) error {
	entry.EntryID = "LED_" + uuid.New().String()
	entry.CreatedAt = time.Now()
	return tx.Create(entry).Error
}

// EntriesForContract returns a contract's entries sorted by entry date, with
// insertion order breaking ties.
func (s *Store) EntriesForContract(contractID string) ([]Entry, error) {
	var entries []Entry
	if err := s.db.
		Where("contract_id = ?", contractID).
		Order("entry_date ASC, id ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
