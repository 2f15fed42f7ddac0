// Package payment registers cash events against contracts, applies the
// interest-first allocation, and reconstructs balances at past dates from
// the ledger.
package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mvbarbosa/loanbook-api/internal/auth"
	"github.com/mvbarbosa/loanbook-api/internal/datemath"
	"github.com/mvbarbosa/loanbook-api/internal/fx"
	"github.com/mvbarbosa/loanbook-api/internal/ledger"
	"github.com/mvbarbosa/loanbook-api/internal/types"
	"github.com/mvbarbosa/loanbook-api/pkg/response"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	moneyPrecision = 2
	fxPrecision    = 6
)

// Service applies payments and reconstructs balances. Mutations on the same
// contract are serialized through a per-contract mutex; the amortization
// step reads the prior balance before writing the next, so interleaving two
// payments would corrupt the snapshot.
type Service struct {
	db      *Database
	ledger  *ledger.Store
	gateway fx.Gateway

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(gormDB *gorm.DB, gateway fx.Gateway) *Service {
	return &Service{
		db:      NewDatabase(gormDB),
		ledger:  ledger.NewStore(gormDB),
		gateway: gateway,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *Service) contractLock(contractID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[contractID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[contractID] = lock
	}
	return lock
}

// RegisterPayment resolves a cash event into origin-currency and BRL
// amounts using the three-way currency match. Nothing is persisted here.
func (s *Service) RegisterPayment(ctx context.Context, contract *types.Contract, amount decimal.Decimal, paymentDate, currency, description string) (*types.Payment, error) {
	if currency == "" {
		currency = contract.Currency
	}
	if _, err := datemath.ParseDate(paymentDate); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: payment amount must be positive", types.ErrInvalidContractState)
	}

	payment := &types.Payment{
		PaymentID:   "PAY_" + uuid.New().String(),
		ContractID:  contract.ContractID,
		PaymentDate: paymentDate,
		Currency:    currency,
		Amount:      amount,
		Description: description,
		CreatedAt:   time.Now(),
	}

	switch {
	case currency == contract.Currency:
		// Paid in the contract's currency: convert to BRL.
		res, err := fx.RequireRate(ctx, s.gateway, contract.Currency, paymentDate, contract.ContractFxRate)
		if err != nil {
			return nil, err
		}
		payment.AmountOrigin = amount
		payment.AmountBRL = amount.Mul(res.Rate).Round(moneyPrecision)
		payment.FxRate = res.Rate.Round(fxPrecision)
		payment.FxSource = res.Source

	case currency == types.BRL:
		// Paid in BRL: convert to origin via the contract-currency rate.
		payment.AmountBRL = amount
		res, err := fx.RequireRate(ctx, s.gateway, contract.Currency, paymentDate, contract.ContractFxRate)
		if err != nil {
			return nil, err
		}
		payment.AmountOrigin = amount.DivRound(res.Rate, moneyPrecision)
		payment.FxRate = res.Rate.Round(fxPrecision)
		payment.FxSource = res.Source

	default:
		// Third currency: triangulate through BRL.
		payRes, err := fx.RequireRate(ctx, s.gateway, currency, paymentDate, decimal.NullDecimal{})
		if err != nil {
			return nil, err
		}
		payment.AmountBRL = amount.Mul(payRes.Rate).Round(moneyPrecision)

		ctrRes, err := fx.RequireRate(ctx, s.gateway, contract.Currency, paymentDate, contract.ContractFxRate)
		if err != nil {
			return nil, err
		}
		payment.AmountOrigin = payment.AmountBRL.DivRound(ctrRes.Rate, moneyPrecision)
		payment.FxRate = ctrRes.Rate.Round(fxPrecision)
		payment.FxSource = ctrRes.Source
	}

	return payment, nil
}

// CalculateAmortization applies a payment's BRL amount interest-first and
// derives the new balance snapshot. Balances never go negative.
func (s *Service) CalculateAmortization(ctx context.Context, contract *types.Contract, payment *types.Payment, date string) (*types.BalanceSnapshot, error) {
	logger := log.With().
		Str("contract_id", contract.ContractID).
		Str("payment_id", payment.PaymentID).
		Str("service", "payment").
		Logger()

	interestPaidBRL := decimal.Min(payment.AmountBRL, contract.AccruedInterestBRL)
	newAccruedBRL := contract.AccruedInterestBRL.Sub(interestPaidBRL)

	principalPaidBRL := payment.AmountBRL.Sub(interestPaidBRL)
	newBalanceBRL := contract.BalanceBRL.Sub(principalPaidBRL)
	if newBalanceBRL.IsNegative() {
		newBalanceBRL = decimal.Zero
	}

	logger.Debug().
		Str("interest_paid_brl", interestPaidBRL.String()).
		Str("principal_paid_brl", principalPaidBRL.String()).
		Str("new_balance_brl", newBalanceBRL.String()).
		Msg("applied interest-first allocation")

	snapshot := &types.BalanceSnapshot{
		BalanceBRL:         newBalanceBRL.Round(moneyPrecision),
		AccruedInterestBRL: newAccruedBRL.Round(moneyPrecision),
		LastUpdateDate:     date,
	}

	// Convert the new BRL balances back to origin currency at the rate for
	// the payment date.
	res, err := s.gateway.GetConversionRate(ctx, date, contract.Currency)
	if err != nil {
		return nil, err
	}
	if res != nil {
		snapshot.BalanceOrigin = newBalanceBRL.DivRound(res.Rate, moneyPrecision)
		snapshot.AccruedInterestOrigin = newAccruedBRL.DivRound(res.Rate, moneyPrecision)
		return snapshot, nil
	}

	scaleBalancesProportionally(contract, newBalanceBRL, newAccruedBRL, snapshot)
	logger.Warn().Msg("no fx rate for payment date, scaled origin balances proportionally")
	return snapshot, nil
}

// scaleBalancesProportionally is the fallback conversion when no rate exists
// for the payment date: origin balances shrink by the same ratio the BRL
// balances did. It approximates rather than recomputes FX and is kept as an
// explicitly separate path.
func scaleBalancesProportionally(contract *types.Contract, newBalanceBRL, newAccruedBRL decimal.Decimal, snapshot *types.BalanceSnapshot) {
	if contract.BalanceBRL.IsZero() {
		snapshot.BalanceOrigin = decimal.Zero
		snapshot.AccruedInterestOrigin = decimal.Zero
		return
	}

	ratio := newBalanceBRL.Div(contract.BalanceBRL)
	snapshot.BalanceOrigin = contract.BalanceOrigin.Mul(ratio).Round(moneyPrecision)

	if contract.AccruedInterestBRL.IsZero() {
		snapshot.AccruedInterestOrigin = decimal.Zero
		return
	}
	accruedRatio := newAccruedBRL.Div(contract.AccruedInterestBRL)
	snapshot.AccruedInterestOrigin = contract.AccruedInterestOrigin.Mul(accruedRatio).Round(moneyPrecision)
}

// ApplyPayment composes RegisterPayment, CalculateAmortization and the
// ledger write. All FX resolution happens before any write; a failed lookup
// leaves the contract and ledger untouched.
func (s *Service) ApplyPayment(ctx context.Context, contract *types.Contract, req *types.ApplyPaymentRequest, idempotencyKey string) (*types.ApplyPaymentResponse, error) {
	lock := s.contractLock(contract.ContractID)
	lock.Lock()
	defer lock.Unlock()

	logger := log.With().
		Str("contract_id", contract.ContractID).
		Str("service", "payment").
		Logger()

	record, err := s.db.GetIdempotencyRecord(idempotencyKey)
	if err == nil && record != nil && record.ResourceID != "" && record.ExpiresAt.After(time.Now()) {
		existing, err := s.db.GetPayment(record.ResourceID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			logger.Info().Str("payment_id", existing.PaymentID).Msg("returning payment for replayed idempotency key")
			fresh, err := s.db.GetContract(contract.ContractID)
			if err != nil {
				return nil, err
			}
			return &types.ApplyPaymentResponse{
				Payment: existing,
				Balance: &types.BalanceSnapshot{
					BalanceOrigin:         fresh.BalanceOrigin,
					BalanceBRL:            fresh.BalanceBRL,
					AccruedInterestOrigin: fresh.AccruedInterestOrigin,
					AccruedInterestBRL:    fresh.AccruedInterestBRL,
					LastUpdateDate:        fresh.LastUpdateDate,
				},
			}, nil
		}
	}

	if contract.Status != types.StatusActive && contract.Status != types.StatusOverdue {
		return nil, fmt.Errorf("%w: contract %s is %s", types.ErrInvalidContractState, contract.ContractID, contract.Status)
	}

	if err := validatePaymentDate(contract, req.PaymentDate); err != nil {
		logger.Warn().Err(err).Str("payment_date", req.PaymentDate).Msg("payment date rejected")
		return nil, err
	}

	logger.Info().
		Str("amount", req.Amount.String()).
		Str("currency", req.Currency).
		Str("payment_date", req.PaymentDate).
		Msg("applying payment")

	payment, err := s.RegisterPayment(ctx, contract, req.Amount, req.PaymentDate, req.Currency, req.Description)
	if err != nil {
		logger.Error().Err(err).Msg("failed to register payment")
		return nil, err
	}

	snapshot, err := s.CalculateAmortization(ctx, contract, payment, req.PaymentDate)
	if err != nil {
		logger.Error().Err(err).Msg("amortization calculation failed")
		return nil, err
	}

	entry := &ledger.Entry{
		ContractID:         contract.ContractID,
		EntryType:          ledger.TypePayment,
		EntryDate:          payment.PaymentDate,
		AmountOrigin:       payment.AmountOrigin.Neg(),
		AmountBRL:          payment.AmountBRL.Neg(),
		FxRate:             payment.FxRate,
		FxSource:           payment.FxSource,
		BalanceAfterOrigin: snapshot.BalanceOrigin,
		BalanceAfterBRL:    snapshot.BalanceBRL,
		Description:        defaultString(payment.Description, "payment"),
	}

	contract.BalanceOrigin = snapshot.BalanceOrigin
	contract.BalanceBRL = snapshot.BalanceBRL
	contract.AccruedInterestOrigin = snapshot.AccruedInterestOrigin
	contract.AccruedInterestBRL = snapshot.AccruedInterestBRL
	contract.LastUpdateDate = snapshot.LastUpdateDate
	contract.UpdatedAt = time.Now()
	if contract.BalanceBRL.IsZero() && contract.AccruedInterestBRL.IsZero() {
		contract.Status = types.StatusSettled
	}

	if err := s.db.CommitPayment(payment, contract, entry, s.ledger, idempotencyKey); err != nil {
		logger.Error().Err(err).Msg("failed to commit payment")
		return nil, fmt.Errorf("failed to commit payment: %w", err)
	}

	logger.Info().
		Str("payment_id", payment.PaymentID).
		Str("balance_origin", snapshot.BalanceOrigin.String()).
		Str("balance_brl", snapshot.BalanceBRL.String()).
		Str("status", contract.Status).
		Msg("payment applied")

	return &types.ApplyPaymentResponse{
		Payment:     payment,
		Balance:     snapshot,
		LedgerEntry: entry,
	}, nil
}

// validatePaymentDate enforces the contract's chronology: the last update
// date never moves backwards and never past today, so the ledger stays in
// insertion order. ISO dates compare lexicographically.
func validatePaymentDate(contract *types.Contract, paymentDate string) error {
	if _, err := datemath.ParseDate(paymentDate); err != nil {
		return err
	}
	if paymentDate < contract.LastUpdateDate {
		return fmt.Errorf("%w: payment dated %s precedes last update %s",
			types.ErrInvalidContractState, paymentDate, contract.LastUpdateDate)
	}
	if today := datemath.FormatDate(time.Now()); paymentDate > today {
		return fmt.Errorf("%w: payment dated %s is in the future",
			types.ErrInvalidContractState, paymentDate)
	}
	return nil
}

// BalanceAtDate reconstructs the contract's balance as of the last ledger
// entry dated on or before targetDate. It reflects recorded events only,
// with no interpolated accrual since the last entry.
func (s *Service) BalanceAtDate(contract *types.Contract, targetDate string) (*types.BalanceAtDateResponse, error) {
	if _, err := datemath.ParseDate(targetDate); err != nil {
		return nil, err
	}

	entries, err := s.ledger.EntriesForContract(contract.ContractID)
	if err != nil {
		return nil, err
	}

	resp := &types.BalanceAtDateResponse{
		ContractID: contract.ContractID,
		Date:       targetDate,
	}

	if len(entries) == 0 {
		resp.BalanceOrigin = contract.BalanceOrigin
		resp.BalanceBRL = contract.BalanceBRL
		return resp, nil
	}

	var latest *ledger.Entry
	for i := range entries {
		if entries[i].EntryDate <= targetDate {
			latest = &entries[i]
		}
	}
	if latest == nil {
		// Target precedes every recorded event.
		resp.BalanceOrigin = contract.PrincipalOrigin
		resp.BalanceBRL = contract.PrincipalBRL
		return resp, nil
	}

	resp.BalanceOrigin = latest.BalanceAfterOrigin
	resp.BalanceBRL = latest.BalanceAfterBRL
	return resp, nil
}

// PaymentsForContract lists a contract's payments in date order.
func (s *Service) PaymentsForContract(contractID string) ([]types.Payment, error) {
	return s.db.PaymentsForContract(contractID)
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// GinHandlers contains HTTP handlers for payment endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// ApplyPaymentHandler handles POST requests to apply payments.
// Requires a valid JWT token and idempotency key in headers.
func (h *GinHandlers) ApplyPaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		clientID := clientIDFromContext(c)
		if clientID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		var req types.ApplyPaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		contractID := c.Param("contract_id")
		contract, err := h.service.db.GetContractByIDAndClientID(contractID, clientID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if contract == nil {
			response.NotFound(c, "Contract not found")
			return
		}

		result, err := h.service.ApplyPayment(c.Request.Context(), contract, &req, idempotencyKey)
		response.Handle(c, result, err)
	}
}

// GetBalanceAtDateHandler handles GET requests for point-in-time balances.
// Query parameter: date (YYYY-MM-DD).
func (h *GinHandlers) GetBalanceAtDateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := clientIDFromContext(c)
		if clientID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		date := c.Query("date")
		if date == "" {
			response.BadRequest(c, "date query parameter is required")
			return
		}

		contractID := c.Param("contract_id")
		contract, err := h.service.db.GetContractByIDAndClientID(contractID, clientID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if contract == nil {
			response.NotFound(c, "Contract not found")
			return
		}

		balance, err := h.service.BalanceAtDate(contract, date)
		response.Handle(c, balance, err)
	}
}

// GetPaymentsHandler handles GET requests for a contract's payment history.
func (h *GinHandlers) GetPaymentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := clientIDFromContext(c)
		if clientID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		contractID := c.Param("contract_id")
		contract, err := h.service.db.GetContractByIDAndClientID(contractID, clientID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if contract == nil {
			response.NotFound(c, "Contract not found")
			return
		}

		payments, err := h.service.PaymentsForContract(contractID)
		response.Handle(c, payments, err)
	}
}

func clientIDFromContext(c *gin.Context) string {
	claims, exists := c.Get("claims")
	if !exists {
		return ""
	}
	return auth.GetClientID(claims)
}
