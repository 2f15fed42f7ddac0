package payment

import (
	"context"
	"testing"

	"github.com/mvbarbosa/loanbook-api/internal/fx"
	"github.com/mvbarbosa/loanbook-api/internal/ledger"
	"github.com/mvbarbosa/loanbook-api/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// stubGateway serves canned rates per currency and date.
type stubGateway struct {
	rates map[string]decimal.Decimal // key: currency + "@" + date
	last  map[string]decimal.Decimal
}

func (g *stubGateway) GetConversionRate(_ context.Context, date, currency string) (*fx.Resolution, error) {
	if currency == types.BRL {
		return &fx.Resolution{Rate: decimal.NewFromInt(1), Source: fx.SourceBRLIdentity}, nil
	}
	if rate, ok := g.rates[currency+"@"+date]; ok {
		return &fx.Resolution{Rate: rate, Source: fx.SourcePTAX}, nil
	}
	return nil, nil
}

func (g *stubGateway) GetLastAvailableRate(_ context.Context, currency string) (*fx.Resolution, error) {
	if currency == types.BRL {
		return &fx.Resolution{Rate: decimal.NewFromInt(1), Source: fx.SourceBRLIdentity}, nil
	}
	if rate, ok := g.last[currency]; ok {
		return &fx.Resolution{Rate: rate, Source: fx.SourceLastAvailable}, nil
	}
	return nil, nil
}

func (g *stubGateway) SyncPTAX(_ context.Context, _, _ string, _ []string) error {
	return nil
}

func newTestService(t *testing.T, gateway fx.Gateway) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&types.Contract{},
		&types.InterestLeg{},
		&types.Payment{},
		&types.IdempotencyRecord{},
		&ledger.Entry{},
	))
	return NewService(db, gateway), db
}

func seedContract(t *testing.T, db *gorm.DB, contract *types.Contract) *types.Contract {
	t.Helper()
	require.NoError(t, db.Create(contract).Error)
	return contract
}

func usdContract() *types.Contract {
	return &types.Contract{
		ContractID:            "CTR_usd",
		ClientID:              "client-1",
		Direction:             types.DirectionLent,
		Currency:              "USD",
		StartDate:             "2024-01-02",
		PrincipalOrigin:       decimal.NewFromInt(10000),
		PrincipalBRL:          decimal.NewFromInt(50000),
		Status:                types.StatusActive,
		BalanceOrigin:         decimal.NewFromInt(10000),
		BalanceBRL:            decimal.NewFromInt(50000),
		AccruedInterestOrigin: decimal.NewFromInt(200),
		AccruedInterestBRL:    decimal.NewFromInt(1000),
		LastUpdateDate:        "2024-01-02",
	}
}

func TestRegisterPaymentSameCurrency(t *testing.T) {
	gateway := &stubGateway{rates: map[string]decimal.Decimal{
		"USD@2024-02-01": decimal.NewFromInt(5),
	}}
	svc, _ := newTestService(t, gateway)
	contract := usdContract()

	payment, err := svc.RegisterPayment(context.Background(), contract, decimal.NewFromInt(1000), "2024-02-01", "USD", "")
	require.NoError(t, err)

	assert.True(t, payment.AmountOrigin.Equal(decimal.NewFromInt(1000)))
	assert.True(t, payment.AmountBRL.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, fx.SourcePTAX, payment.FxSource)
}

func TestRegisterPaymentInBRL(t *testing.T) {
	gateway := &stubGateway{rates: map[string]decimal.Decimal{
		"USD@2024-02-01": decimal.NewFromInt(5),
	}}
	svc, _ := newTestService(t, gateway)
	contract := usdContract()

	payment, err := svc.RegisterPayment(context.Background(), contract, decimal.NewFromInt(5000), "2024-02-01", types.BRL, "")
	require.NoError(t, err)

	assert.True(t, payment.AmountBRL.Equal(decimal.NewFromInt(5000)))
	assert.True(t, payment.AmountOrigin.Equal(decimal.NewFromInt(1000)))
}

func TestRegisterPaymentThirdCurrencyTriangulates(t *testing.T) {
	gateway := &stubGateway{rates: map[string]decimal.Decimal{
		"USD@2024-02-01": decimal.NewFromInt(5),
		"EUR@2024-02-01": decimal.NewFromInt(6),
	}}
	svc, _ := newTestService(t, gateway)
	contract := usdContract()

	payment, err := svc.RegisterPayment(context.Background(), contract, decimal.NewFromInt(1000), "2024-02-01", "EUR", "")
	require.NoError(t, err)

	// 1000 EUR -> 6000 BRL -> 1200 USD
	assert.True(t, payment.AmountBRL.Equal(decimal.NewFromInt(6000)))
	assert.True(t, payment.AmountOrigin.Equal(decimal.NewFromInt(1200)))
}

func TestRegisterPaymentDefaultsToContractCurrency(t *testing.T) {
	gateway := &stubGateway{rates: map[string]decimal.Decimal{
		"USD@2024-02-01": decimal.NewFromInt(5),
	}}
	svc, _ := newTestService(t, gateway)

	payment, err := svc.RegisterPayment(context.Background(), usdContract(), decimal.NewFromInt(100), "2024-02-01", "", "")
	require.NoError(t, err)
	assert.Equal(t, "USD", payment.Currency)
}

func TestRegisterPaymentRejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t, &stubGateway{})
	contract := usdContract()

	_, err := svc.RegisterPayment(context.Background(), contract, decimal.NewFromInt(100), "02/01/2024", "USD", "")
	require.ErrorIs(t, err, types.ErrInvalidDate)

	_, err = svc.RegisterPayment(context.Background(), contract, decimal.Zero, "2024-02-01", "USD", "")
	require.ErrorIs(t, err, types.ErrInvalidContractState)
}

func TestRegisterPaymentFxUnavailable(t *testing.T) {
	svc, _ := newTestService(t, &stubGateway{})

	_, err := svc.RegisterPayment(context.Background(), usdContract(), decimal.NewFromInt(100), "2024-02-01", "USD", "")
	require.ErrorIs(t, err, types.ErrFxUnavailable)
}

func TestRegisterPaymentFallsBackToLastAvailable(t *testing.T) {
	gateway := &stubGateway{last: map[string]decimal.Decimal{
		"USD": decimal.NewFromInt(4),
	}}
	svc, _ := newTestService(t, gateway)

	payment, err := svc.RegisterPayment(context.Background(), usdContract(), decimal.NewFromInt(100), "2024-02-01", "USD", "")
	require.NoError(t, err)
	assert.Equal(t, fx.SourceLastAvailable, payment.FxSource)
	assert.True(t, payment.AmountBRL.Equal(decimal.NewFromInt(400)))
}

func TestCalculateAmortizationInterestFirst(t *testing.T) {
	gateway := &stubGateway{rates: map[string]decimal.Decimal{
		"USD@2024-02-01": decimal.NewFromInt(5),
	}}
	svc, _ := newTestService(t, gateway)
	contract := usdContract()

	payment := &types.Payment{
		PaymentID: "PAY_t",
		AmountBRL: decimal.NewFromInt(3000),
	}

	snapshot, err := svc.CalculateAmortization(context.Background(), contract, payment, "2024-02-01")
	require.NoError(t, err)

	// 1000 of accrued interest settles first, 2000 amortizes principal.
	assert.True(t, snapshot.AccruedInterestBRL.IsZero())
	assert.True(t, snapshot.BalanceBRL.Equal(decimal.NewFromInt(48000)))
	assert.True(t, snapshot.BalanceOrigin.Equal(decimal.NewFromInt(9600)))
	assert.True(t, snapshot.AccruedInterestOrigin.IsZero())
}

func TestCalculateAmortizationPartialInterest(t *testing.T) {
	gateway := &stubGateway{rates: map[string]decimal.Decimal{
		"USD@2024-02-01": decimal.NewFromInt(5),
	}}
	svc, _ := newTestService(t, gateway)
	contract := usdContract()

	payment := &types.Payment{PaymentID: "PAY_t", AmountBRL: decimal.NewFromInt(400)}

	snapshot, err := svc.CalculateAmortization(context.Background(), contract, payment, "2024-02-01")
	require.NoError(t, err)

	assert.True(t, snapshot.AccruedInterestBRL.Equal(decimal.NewFromInt(600)))
	assert.True(t, snapshot.BalanceBRL.Equal(decimal.NewFromInt(50000)),
		"principal must be untouched while interest remains unpaid")
}

func TestCalculateAmortizationOverpaymentClampsAtZero(t *testing.T) {
	gateway := &stubGateway{rates: map[string]decimal.Decimal{
		"USD@2024-02-01": decimal.NewFromInt(5),
	}}
	svc, _ := newTestService(t, gateway)
	contract := usdContract()

	payment := &types.Payment{PaymentID: "PAY_t", AmountBRL: decimal.NewFromInt(99999)}

	snapshot, err := svc.CalculateAmortization(context.Background(), contract, payment, "2024-02-01")
	require.NoError(t, err)

	assert.True(t, snapshot.BalanceBRL.IsZero())
	assert.False(t, snapshot.BalanceOrigin.IsNegative())
}

func TestCalculateAmortizationScalesWhenNoRateForDate(t *testing.T) {
	// Gateway knows nothing about the payment date; the proportional scaling
	// path must produce origin balances consistent with the BRL movement.
	svc, _ := newTestService(t, &stubGateway{})
	contract := usdContract()

	payment := &types.Payment{PaymentID: "PAY_t", AmountBRL: decimal.NewFromInt(26000)}

	snapshot, err := svc.CalculateAmortization(context.Background(), contract, payment, "2024-02-01")
	require.NoError(t, err)

	// Interest 1000 settles, 25000 amortizes: BRL balance halves, so the
	// origin balance halves too.
	assert.True(t, snapshot.BalanceBRL.Equal(decimal.NewFromInt(25000)))
	assert.True(t, snapshot.BalanceOrigin.Equal(decimal.NewFromInt(5000)))
	assert.True(t, snapshot.AccruedInterestOrigin.IsZero())
}

func TestApplyPaymentPersistsEverything(t *testing.T) {
	gateway := &stubGateway{rates: map[string]decimal.Decimal{
		"USD@2024-02-01": decimal.NewFromInt(5),
	}}
	svc, db := newTestService(t, gateway)
	contract := seedContract(t, db, usdContract())

	req := &types.ApplyPaymentRequest{
		Amount:      decimal.NewFromInt(3000),
		PaymentDate: "2024-02-01",
		Currency:    types.BRL,
	}

	result, err := svc.ApplyPayment(context.Background(), contract, req, "idem-1")
	require.NoError(t, err)
	require.NotNil(t, result.Payment)

	// Contract snapshot is updated in the store.
	var stored types.Contract
	require.NoError(t, db.Where("contract_id = ?", contract.ContractID).First(&stored).Error)
	assert.True(t, stored.BalanceBRL.Equal(decimal.NewFromInt(48000)))
	assert.Equal(t, "2024-02-01", stored.LastUpdateDate)
	assert.Equal(t, types.StatusActive, stored.Status)

	// Ledger records the payment with negative signed amounts.
	entries, err := svc.ledger.EntriesForContract(contract.ContractID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.TypePayment, entries[0].EntryType)
	assert.True(t, entries[0].AmountBRL.Equal(decimal.NewFromInt(-3000)))
	assert.True(t, entries[0].BalanceAfterBRL.Equal(decimal.NewFromInt(48000)))
}

func TestApplyPaymentIdempotencyReplay(t *testing.T) {
	gateway := &stubGateway{rates: map[string]decimal.Decimal{
		"USD@2024-02-01": decimal.NewFromInt(5),
	}}
	svc, db := newTestService(t, gateway)
	contract := seedContract(t, db, usdContract())

	req := &types.ApplyPaymentRequest{
		Amount:      decimal.NewFromInt(3000),
		PaymentDate: "2024-02-01",
		Currency:    types.BRL,
	}

	first, err := svc.ApplyPayment(context.Background(), contract, req, "idem-1")
	require.NoError(t, err)

	replay, err := svc.ApplyPayment(context.Background(), contract, req, "idem-1")
	require.NoError(t, err)
	assert.Equal(t, first.Payment.PaymentID, replay.Payment.PaymentID)

	// Balance must reflect a single application.
	var stored types.Contract
	require.NoError(t, db.Where("contract_id = ?", contract.ContractID).First(&stored).Error)
	assert.True(t, stored.BalanceBRL.Equal(decimal.NewFromInt(48000)))

	var count int64
	require.NoError(t, db.Model(&types.Payment{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestApplyPaymentSettlesContractAtZero(t *testing.T) {
	gateway := &stubGateway{rates: map[string]decimal.Decimal{
		"USD@2024-02-01": decimal.NewFromInt(5),
	}}
	svc, db := newTestService(t, gateway)
	contract := seedContract(t, db, usdContract())

	req := &types.ApplyPaymentRequest{
		Amount:      decimal.NewFromInt(51000), // 1000 interest + 50000 balance
		PaymentDate: "2024-02-01",
		Currency:    types.BRL,
	}

	result, err := svc.ApplyPayment(context.Background(), contract, req, "idem-1")
	require.NoError(t, err)
	assert.True(t, result.Balance.BalanceBRL.IsZero())

	var stored types.Contract
	require.NoError(t, db.Where("contract_id = ?", contract.ContractID).First(&stored).Error)
	assert.Equal(t, types.StatusSettled, stored.Status)
}

func TestApplyPaymentRejectsSettledContract(t *testing.T) {
	svc, db := newTestService(t, &stubGateway{})
	contract := usdContract()
	contract.Status = types.StatusSettled
	seedContract(t, db, contract)

	req := &types.ApplyPaymentRequest{
		Amount:      decimal.NewFromInt(100),
		PaymentDate: "2024-02-01",
	}

	_, err := svc.ApplyPayment(context.Background(), contract, req, "idem-1")
	require.ErrorIs(t, err, types.ErrInvalidContractState)
}

func TestApplyPaymentRejectsBackdatedPayment(t *testing.T) {
	svc, db := newTestService(t, &stubGateway{})
	contract := seedContract(t, db, usdContract())

	req := &types.ApplyPaymentRequest{
		Amount:      decimal.NewFromInt(100),
		PaymentDate: "2023-12-15", // precedes the 2024-01-02 last update
		Currency:    types.BRL,
	}

	_, err := svc.ApplyPayment(context.Background(), contract, req, "idem-1")
	require.ErrorIs(t, err, types.ErrInvalidContractState)

	// The rejection must leave no trace: no payment row, no ledger entry,
	// and the snapshot's last update date untouched.
	var count int64
	require.NoError(t, db.Model(&types.Payment{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	entries, err := svc.ledger.EntriesForContract(contract.ContractID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	var stored types.Contract
	require.NoError(t, db.Where("contract_id = ?", contract.ContractID).First(&stored).Error)
	assert.Equal(t, "2024-01-02", stored.LastUpdateDate)
}

func TestApplyPaymentRejectsDateBeforeLastUpdate(t *testing.T) {
	gateway := &stubGateway{rates: map[string]decimal.Decimal{
		"USD@2024-02-01": decimal.NewFromInt(5),
	}}
	svc, db := newTestService(t, gateway)
	contract := seedContract(t, db, usdContract())

	_, err := svc.ApplyPayment(context.Background(), contract, &types.ApplyPaymentRequest{
		Amount:      decimal.NewFromInt(3000),
		PaymentDate: "2024-02-01",
		Currency:    types.BRL,
	}, "idem-1")
	require.NoError(t, err)

	// A later payment dated before the first would regress the snapshot.
	_, err = svc.ApplyPayment(context.Background(), contract, &types.ApplyPaymentRequest{
		Amount:      decimal.NewFromInt(1000),
		PaymentDate: "2024-01-15",
		Currency:    types.BRL,
	}, "idem-2")
	require.ErrorIs(t, err, types.ErrInvalidContractState)
}

func TestApplyPaymentRejectsFutureDatedPayment(t *testing.T) {
	svc, db := newTestService(t, &stubGateway{})
	contract := seedContract(t, db, usdContract())

	_, err := svc.ApplyPayment(context.Background(), contract, &types.ApplyPaymentRequest{
		Amount:      decimal.NewFromInt(100),
		PaymentDate: "2999-01-01",
		Currency:    types.BRL,
	}, "idem-1")
	require.ErrorIs(t, err, types.ErrInvalidContractState)
}

func TestBalanceAtDate(t *testing.T) {
	gateway := &stubGateway{rates: map[string]decimal.Decimal{
		"USD@2024-02-01": decimal.NewFromInt(5),
		"USD@2024-03-01": decimal.NewFromInt(5),
	}}
	svc, db := newTestService(t, gateway)
	contract := seedContract(t, db, usdContract())

	apply := func(date string, amount int64, key string) {
		t.Helper()
		_, err := svc.ApplyPayment(context.Background(), contract, &types.ApplyPaymentRequest{
			Amount:      decimal.NewFromInt(amount),
			PaymentDate: date,
			Currency:    types.BRL,
		}, key)
		require.NoError(t, err)
	}
	apply("2024-02-01", 3000, "idem-1")
	apply("2024-03-01", 2000, "idem-2")

	// Between the two payments: first payment's balance holds.
	resp, err := svc.BalanceAtDate(contract, "2024-02-15")
	require.NoError(t, err)
	assert.True(t, resp.BalanceBRL.Equal(decimal.NewFromInt(48000)))

	// Before every recorded event: original principal.
	resp, err = svc.BalanceAtDate(contract, "2024-01-01")
	require.NoError(t, err)
	assert.True(t, resp.BalanceBRL.Equal(contract.PrincipalBRL))

	// On the second payment date: its balance applies.
	resp, err = svc.BalanceAtDate(contract, "2024-03-01")
	require.NoError(t, err)
	assert.True(t, resp.BalanceBRL.Equal(decimal.NewFromInt(46000)))

	_, err = svc.BalanceAtDate(contract, "not-a-date")
	require.ErrorIs(t, err, types.ErrInvalidDate)
}

func TestBalanceAtDateEmptyLedger(t *testing.T) {
	svc, db := newTestService(t, &stubGateway{})
	contract := seedContract(t, db, usdContract())

	resp, err := svc.BalanceAtDate(contract, "2024-06-01")
	require.NoError(t, err)
	assert.True(t, resp.BalanceBRL.Equal(contract.BalanceBRL))
	assert.True(t, resp.BalanceOrigin.Equal(contract.BalanceOrigin))
}
