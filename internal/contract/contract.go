// Package contract owns the loan book: validated contract creation and
// retrieval. Balance mutation after inception belongs to the payment engine.
package contract

import (
	"context"
	"fmt"
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

const moneyPrecision = 2

// Service handles contract creation and lookup.
type Service struct {
	db      *Database
	ledger  *ledger.Store
	gateway fx.Gateway
}

func NewService(gormDB *gorm.DB, gateway fx.Gateway) *Service {
	return &Service{
		db:      NewDatabase(gormDB),
		ledger:  ledger.NewStore(gormDB),
		gateway: gateway,
	}
}

// GetDatabase exposes the contract database for sibling services.
func (s *Service) GetDatabase() *Database {
	return s.db
}

// CreateContract validates and registers a new contract, resolving the
// inception FX rate and writing the opening ledger entry. All validation and
// FX resolution happens before any write; a rejected contract leaves no
// partial state.
func (s *Service) CreateContract(ctx context.Context, clientID string, req *types.CreateContractRequest, idempotencyKey string) (*types.Contract, error) {
	logger := log.With().
		Str("client_id", clientID).
		Str("service", "contract").
		Logger()

	record, err := s.db.GetIdempotencyRecord(idempotencyKey)
	if err == nil && record != nil && record.ResourceID != "" && record.ExpiresAt.After(time.Now()) {
		existing, err := s.db.GetContract(record.ResourceID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			logger.Info().Str("contract_id", existing.ContractID).Msg("returning contract for replayed idempotency key")
			return existing, nil
		}
	}

	if err := validateRequest(req); err != nil {
		logger.Warn().Err(err).Msg("contract validation failed")
		return nil, err
	}

	// Inception FX: the contract-fixed rate when configured, the daily rate
	// for the start date otherwise.
	var inception *fx.Resolution
	if req.ContractFxRate.Valid && req.ContractFxRate.Decimal.IsPositive() {
		inception = &fx.Resolution{Rate: req.ContractFxRate.Decimal, Source: fx.SourceContractRate}
	} else {
		inception, err = fx.RequireRate(ctx, s.gateway, req.Currency, req.StartDate, req.ContractFxRate)
		if err != nil {
			logger.Error().Err(err).Str("currency", req.Currency).Msg("failed to resolve inception fx rate")
			return nil, err
		}
	}

	principalBRL := req.PrincipalOrigin.Mul(inception.Rate).Round(moneyPrecision)

	contract := &types.Contract{
		ContractID:         "CTR_" + uuid.New().String(),
		ClientID:           clientID,
		Counterparty:       req.Counterparty,
		Direction:          req.Direction,
		Currency:           req.Currency,
		StartDate:          req.StartDate,
		PrincipalOrigin:    req.PrincipalOrigin,
		PrincipalBRL:       principalBRL,
		ContractFxRate:     req.ContractFxRate,
		PaymentFlow:        defaultString(req.PaymentFlow, types.FlowFlexible),
		AmortizationSystem: defaultString(req.AmortizationSystem, types.SystemPrice),
		Installments:       req.Installments,
		Status:             types.StatusActive,
		Legs:               req.Legs,

		BalanceOrigin:         req.PrincipalOrigin,
		BalanceBRL:            principalBRL,
		AccruedInterestOrigin: decimal.Zero,
		AccruedInterestBRL:    decimal.Zero,
		LastUpdateDate:        req.StartDate,
		CreatedAt:             time.Now(),
		UpdatedAt:             time.Now(),
	}

	err = s.db.CreateContractWithIdempotency(contract, idempotencyKey, func(tx *gorm.DB) error {
		return s.registerInitialEntry(tx, contract, inception)
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to create contract")
		return nil, fmt.Errorf("failed to create contract: %w", err)
	}

	logger.Info().
		Str("contract_id", contract.ContractID).
		Str("currency", contract.Currency).
		Str("fx_source", inception.Source).
		Str("principal_origin", contract.PrincipalOrigin.String()).
		Str("principal_brl", contract.PrincipalBRL.String()).
		Msg("contract created")

	return contract, nil
}

// registerInitialEntry writes the opening CONTRACT_CREATION ledger entry
// with balances equal to the principal.
func (s *Service) registerInitialEntry(tx *gorm.DB, contract *types.Contract, inception *fx.Resolution) error {
	entry := &ledger.Entry{
		ContractID:         contract.ContractID,
		EntryType:          ledger.TypeContractCreation,
		EntryDate:          contract.StartDate,
		AmountOrigin:       contract.PrincipalOrigin,
		AmountBRL:          contract.PrincipalBRL,
		FxRate:             inception.Rate,
		FxSource:           inception.Source,
		BalanceAfterOrigin: contract.PrincipalOrigin,
		BalanceAfterBRL:    contract.PrincipalBRL,
		Description:        "contract creation",
	}
	return s.ledger.AppendTx(tx, entry)
}

// GetContract retrieves a contract by ID for a client.
func (s *Service) GetContract(contractID, clientID string) (*types.Contract, error) {
	return s.db.GetContractByIDAndClientID(contractID, clientID)
}

// ListContracts retrieves all of a client's contracts.
func (s *Service) ListContracts(clientID string) ([]types.Contract, error) {
	return s.db.ListContractsByClientID(clientID)
}

// LedgerEntries returns the full ledger for a contract.
func (s *Service) LedgerEntries(contractID string) ([]ledger.Entry, error) {
	return s.ledger.EntriesForContract(contractID)
}

func validateRequest(req *types.CreateContractRequest) error {
	if req.Direction != types.DirectionBorrowed && req.Direction != types.DirectionLent {
		return fmt.Errorf("%w: direction must be BORROWED or LENT", types.ErrInvalidContractState)
	}
	if req.Currency == "" {
		return fmt.Errorf("%w: currency is required", types.ErrInvalidContractState)
	}
	if !req.PrincipalOrigin.IsPositive() {
		return fmt.Errorf("%w: principal must be positive", types.ErrInvalidContractState)
	}
	if _, err := datemath.ParseDate(req.StartDate); err != nil {
		return err
	}
	// LastUpdateDate starts at StartDate and may never sit in the future.
	if req.StartDate > datemath.FormatDate(time.Now()) {
		return fmt.Errorf("%w: start date %s is in the future", types.ErrInvalidContractState, req.StartDate)
	}
	if req.ContractFxRate.Valid && !req.ContractFxRate.Decimal.IsPositive() {
		return fmt.Errorf("%w: contract fx rate must be positive", types.ErrInvalidContractState)
	}

	switch req.PaymentFlow {
	case "", types.FlowScheduled, types.FlowFlexible, types.FlowBullet, types.FlowAccrualOnly:
	default:
		return fmt.Errorf("%w: unknown payment flow %q", types.ErrInvalidContractState, req.PaymentFlow)
	}

	switch req.AmortizationSystem {
	case "", types.SystemPrice, types.SystemSAC:
	default:
		return fmt.Errorf("%w: %q", types.ErrUnsupportedSystem, req.AmortizationSystem)
	}

	if len(req.Legs) == 0 {
		return fmt.Errorf("%w: at least one interest leg is required", types.ErrInvalidContractState)
	}
	hasRateLeg := false
	for i := range req.Legs {
		leg := &req.Legs[i]
		switch leg.Basis {
		case types.Basis30360, types.BasisAct360, types.BasisAct365, types.BasisBus252:
		default:
			return fmt.Errorf("%w: %q", types.ErrUnsupportedBasis, leg.Basis)
		}
		switch leg.Compounding {
		case types.CompoundingExponential, types.CompoundingLinear:
		default:
			return fmt.Errorf("%w: unknown compounding mode %q", types.ErrInvalidContractState, leg.Compounding)
		}
		switch leg.Role {
		case types.RoleRate:
			hasRateLeg = true
		case types.RoleAdjustment:
		default:
			return fmt.Errorf("%w: unknown leg role %q", types.ErrInvalidContractState, leg.Role)
		}
	}
	if !hasRateLeg {
		return fmt.Errorf("%w: at least one leg must have role RATE", types.ErrInvalidContractState)
	}

	return nil
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// GinHandlers contains HTTP handlers for contract endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateContractHandler handles POST requests to register new contracts.
// Requires a valid JWT token and idempotency key in headers.
func (h *GinHandlers) CreateContractHandler() gin.HandlerFunc {
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

		var req types.CreateContractRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		contract, err := h.service.CreateContract(c.Request.Context(), clientID, &req, idempotencyKey)
		response.Handle(c, contract, err)
	}
}

// GetContractHandler handles GET requests for a single contract.
func (h *GinHandlers) GetContractHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := clientIDFromContext(c)
		if clientID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		contractID := c.Param("contract_id")
		contract, err := h.service.GetContract(contractID, clientID)
		if err == nil && contract == nil {
			response.NotFound(c, "Contract not found")
			return
		}
		response.Handle(c, contract, err)
	}
}

// ListContractsHandler handles GET requests for a client's contracts.
func (h *GinHandlers) ListContractsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := clientIDFromContext(c)
		if clientID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		contracts, err := h.service.ListContracts(clientID)
		response.Handle(c, contracts, err)
	}
}

// GetLedgerHandler handles GET requests for a contract's ledger.
func (h *GinHandlers) GetLedgerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := clientIDFromContext(c)
		if clientID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		contractID := c.Param("contract_id")
		contract, err := h.service.GetContract(contractID, clientID)
		if err != nil || contract == nil {
			response.NotFound(c, "Contract not found")
			return
		}

		entries, err := h.service.LedgerEntries(contractID)
		response.Handle(c, entries, err)
	}
}

func clientIDFromContext(c *gin.Context) string {
	claims, exists := c.Get("claims")
	if !exists {
		return ""
	}
	return auth.GetClientID(claims)
}
