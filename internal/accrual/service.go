package accrual

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mvbarbosa/loanbook-api/internal/amortization"
	"github.com/mvbarbosa/loanbook-api/internal/auth"
	"github.com/mvbarbosa/loanbook-api/internal/datemath"
	"github.com/mvbarbosa/loanbook-api/internal/fx"
	"github.com/mvbarbosa/loanbook-api/internal/types"
	"github.com/mvbarbosa/loanbook-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service builds accrual reports: amortization schedules, pure accrual
// tables and the payment-aware recalculated table.
type Service struct {
	db      *Database
	gateway fx.Gateway
}

func NewService(gormDB *gorm.DB, gateway fx.Gateway) *Service {
	return &Service{
		db:      NewDatabase(gormDB),
		gateway: gateway,
	}
}

// Schedule builds the amortization table for a scheduled contract. The
// periodic rate is derived from the rate leg and the accrual frequency.
func (s *Service) Schedule(contract *types.Contract, installments int, frequency string) ([]types.ScheduleRow, error) {
	leg := contract.RateLeg()
	if leg == nil {
		return nil, fmt.Errorf("%w: contract %s has no rate leg", types.ErrInvalidContractState, contract.ContractID)
	}
	if installments <= 0 {
		installments = contract.Installments
	}
	if installments <= 0 {
		return nil, fmt.Errorf("%w: contract %s has no installment count", types.ErrInvalidContractState, contract.ContractID)
	}

	days, err := daysPerPeriod(leg.Basis, frequency)
	if err != nil {
		return nil, err
	}
	periodicRate, err := datemath.PeriodicRate(leg.BaseAnnualRate(), leg.Compounding, leg.Basis, days)
	if err != nil {
		return nil, err
	}

	rows, err := amortization.Generate(contract.AmortizationSystem, contract.PrincipalOrigin, periodicRate, installments)
	if err != nil {
		return nil, err
	}

	if err := fillDueDates(rows, contract.StartDate, frequency); err != nil {
		return nil, err
	}
	return rows, nil
}

// Accruals builds the pure accrual table between the two dates.
func (s *Service) Accruals(ctx context.Context, contract *types.Contract, startDate, endDate, frequency string) ([]types.AccrualRow, error) {
	return BuildRows(ctx, s.gateway, contract, startDate, endDate, frequency)
}

// Recalculated builds the pure accrual table and folds the contract's
// payment history into it.
func (s *Service) Recalculated(ctx context.Context, contract *types.Contract, startDate, endDate, frequency string) ([]types.RecalculatedAccrualRow, error) {
	leg := contract.RateLeg()
	if leg == nil {
		return nil, fmt.Errorf("%w: contract %s has no rate leg", types.ErrInvalidContractState, contract.ContractID)
	}

	pureRows, err := BuildRows(ctx, s.gateway, contract, startDate, endDate, frequency)
	if err != nil {
		return nil, err
	}

	payments, err := s.db.PaymentsForContract(contract.ContractID)
	if err != nil {
		return nil, err
	}
	// Payments outside the reporting window do not produce events.
	payments = paymentsInWindow(payments, startDate, endDate)

	return Recalculate(pureRows, payments, leg, contract.PrincipalOrigin)
}

// daysPerPeriod is the nominal day count of one schedule period under a
// basis: the yearly divisor split by the number of periods per year, so a
// monthly BUS/252 period carries the conventional 21 business days.
func daysPerPeriod(basis, frequency string) (int, error) {
	divisor, err := datemath.YearlyDivisor(basis)
	if err != nil {
		return 0, err
	}
	switch frequency {
	case types.FrequencyDaily:
		return 1, nil
	case types.FrequencyMonthly:
		return divisor / 12, nil
	case types.FrequencyYearly:
		return divisor, nil
	default:
		return 0, fmt.Errorf("unsupported frequency %q", frequency)
	}
}

func fillDueDates(rows []types.ScheduleRow, startDate, frequency string) error {
	due, err := datemath.ParseDate(startDate)
	if err != nil {
		return err
	}
	for i := range rows {
		due, err = datemath.NextPeriodEnd(due, frequency)
		if err != nil {
			return err
		}
		rows[i].DueDate = datemath.FormatDate(due)
	}
	return nil
}

func paymentsInWindow(payments []types.Payment, startDate, endDate string) []types.Payment {
	filtered := payments[:0]
	for _, p := range payments {
		if p.PaymentDate > startDate && p.PaymentDate <= endDate {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

// GinHandlers contains HTTP handlers for the report endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GetScheduleHandler handles GET requests for a contract's amortization
// schedule. Optional query parameters: installments, frequency.
func (h *GinHandlers) GetScheduleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		contract, ok := h.loadContract(c)
		if !ok {
			return
		}

		installments := 0
		if raw := c.Query("installments"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				response.BadRequest(c, "installments must be a positive integer")
				return
			}
			installments = parsed
		}
		frequency := defaultString(c.Query("frequency"), types.FrequencyMonthly)

		rows, err := h.service.Schedule(contract, installments, frequency)
		response.Handle(c, rows, err)
	}
}

// GetAccrualsHandler handles GET requests for a contract's pure accrual
// table. Optional query parameters: start_date, end_date, frequency.
func (h *GinHandlers) GetAccrualsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		contract, ok := h.loadContract(c)
		if !ok {
			return
		}
		start, end, frequency := reportWindow(c, contract)

		rows, err := h.service.Accruals(c.Request.Context(), contract, start, end, frequency)
		if err != nil {
			log.Warn().Err(err).Str("contract_id", contract.ContractID).Msg("accrual table build failed")
		}
		response.Handle(c, rows, err)
	}
}

// GetRecalculatedHandler handles GET requests for the payment-aware
// recalculated accrual table.
func (h *GinHandlers) GetRecalculatedHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		contract, ok := h.loadContract(c)
		if !ok {
			return
		}
		start, end, frequency := reportWindow(c, contract)

		rows, err := h.service.Recalculated(c.Request.Context(), contract, start, end, frequency)
		if err != nil {
			log.Warn().Err(err).Str("contract_id", contract.ContractID).Msg("recalculated table build failed")
		}
		response.Handle(c, rows, err)
	}
}

func (h *GinHandlers) loadContract(c *gin.Context) (*types.Contract, bool) {
	clientID := clientIDFromContext(c)
	if clientID == "" {
		response.Unauthorized(c, "Invalid client ID in token")
		return nil, false
	}

	contractID := c.Param("contract_id")
	contract, err := h.service.db.GetContractByIDAndClientID(contractID, clientID)
	if err != nil {
		response.Handle(c, nil, err)
		return nil, false
	}
	if contract == nil {
		response.NotFound(c, "Contract not found")
		return nil, false
	}
	return contract, true
}

func reportWindow(c *gin.Context, contract *types.Contract) (start, end, frequency string) {
	start = defaultString(c.Query("start_date"), contract.StartDate)
	end = defaultString(c.Query("end_date"), datemath.FormatDate(time.Now()))
	frequency = defaultString(c.Query("frequency"), types.FrequencyMonthly)
	return start, end, frequency
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func clientIDFromContext(c *gin.Context) string {
	claims, exists := c.Get("claims")
	if !exists {
		return ""
	}
	return auth.GetClientID(claims)
}
