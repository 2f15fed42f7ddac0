package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Entry{}))
	return NewStore(db)
}

func TestAppendAssignsIDs(t *testing.T) {
	store := newTestStore(t)

	entry := &Entry{
		ContractID:         "CTR_1",
		EntryType:          TypeContractCreation,
		EntryDate:          "2024-01-01",
		AmountOrigin:       decimal.NewFromInt(100000),
		AmountBRL:          decimal.NewFromInt(500000),
		FxRate:             decimal.NewFromInt(5),
		FxSource:           "CONTRACT_RATE",
		BalanceAfterOrigin: decimal.NewFromInt(100000),
		BalanceAfterBRL:    decimal.NewFromInt(500000),
	}
	require.NoError(t, store.Append(entry))

	assert.Contains(t, entry.EntryID, "LED_")
	assert.False(t, entry.CreatedAt.IsZero())
}

func TestEntriesForContractOrderedByDate(t *testing.T) {
	store := newTestStore(t)

	dates := []string{"2024-03-01", "2024-01-01", "2024-02-01"}
	for _, date := range dates {
		require.NoError(t, store.Append(&Entry{
			ContractID: "CTR_1",
			EntryType:  TypePayment,
			EntryDate:  date,
		}))
	}
	// Entry for another contract must not leak in.
	require.NoError(t, store.Append(&Entry{
		ContractID: "CTR_2",
		EntryType:  TypePayment,
		EntryDate:  "2024-01-15",
	}))

	entries, err := store.EntriesForContract("CTR_1")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "2024-01-01", entries[0].EntryDate)
	assert.Equal(t, "2024-02-01", entries[1].EntryDate)
	assert.Equal(t, "2024-03-01", entries[2].EntryDate)
}

func TestSameDateEntriesKeepInsertionOrder(t *testing.T) {
	store := newTestStore(t)

	first := &Entry{ContractID: "CTR_1", EntryType: TypePayment, EntryDate: "2024-01-10", Description: "first"}
	second := &Entry{ContractID: "CTR_1", EntryType: TypePayment, EntryDate: "2024-01-10", Description: "second"}
	require.NoError(t, store.Append(first))
	require.NoError(t, store.Append(second))

	entries, err := store.EntriesForContract("CTR_1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Description)
	assert.Equal(t, "second", entries[1].Description)
}
