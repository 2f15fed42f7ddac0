package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mvbarbosa/loanbook-api/internal/accrual"
	"github.com/mvbarbosa/loanbook-api/internal/auth"
	"github.com/mvbarbosa/loanbook-api/internal/contract"
	"github.com/mvbarbosa/loanbook-api/internal/database"
	"github.com/mvbarbosa/loanbook-api/internal/datemath"
	"github.com/mvbarbosa/loanbook-api/internal/fx"
	"github.com/mvbarbosa/loanbook-api/internal/payment"
	"github.com/mvbarbosa/loanbook-api/internal/types"
	"github.com/mvbarbosa/loanbook-api/pkg/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	minContracts    = 10
	maxContracts    = 60
	numWorkers      = 5
	paymentsPerLoan = 3
	serverAddress   = "http://localhost:8080"
	simStartDate    = "2024-01-02"
)

var (
	currencies = []string{"BRL", "USD", "EUR"}
	bases      = []string{types.Basis30360, types.BasisAct360, types.BasisAct365, types.BasisBus252}
	systems    = []string{types.SystemPrice, types.SystemSAC}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the loan book API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	// Create HTTP client with timeout
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":     {name: "Authentication"},
			"create":   {name: "Create Contract"},
			"payment":  {name: "Apply Payment"},
			"balance":  {name: "Balance At Date"},
			"accruals": {name: "Recalculated Accruals"},
		},
	}

	// Get auth token
	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    auth.TestAPIKey,
		"api_secret": auth.TestAPISecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Token string `json:"jwt_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Token, nil
}

func (sc *simulationClient) doJSON(method, path, statKey string, payload interface{}, out interface{}) error {
	start := time.Now()
	defer func() {
		sc.stats[statKey].addDuration(time.Since(start))
	}()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	req.Header.Set("Content-Type", "application/json")
	if method == "POST" {
		req.Header.Set("Idempotency-Key", uuid.New().String())
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[statKey].failures++
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		sc.stats[statKey].failures++
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
		}
	}
	return nil
}

// createContract registers a new loan contract and returns its ID
func (sc *simulationClient) createContract(req *types.CreateContractRequest) (string, error) {
	var result struct {
		Success bool `json:"success"`
		Data    struct {
			ContractID string `json:"contract_id"`
		} `json:"data"`
	}
	if err := sc.doJSON("POST", "/api/v1/contracts", "create", req, &result); err != nil {
		return "", err
	}
	if result.Data.ContractID == "" {
		return "", fmt.Errorf("no contract ID in response")
	}
	return result.Data.ContractID, nil
}

// applyPayment posts a payment against a contract and returns the remaining
// BRL balance
func (sc *simulationClient) applyPayment(contractID string, req *types.ApplyPaymentRequest) (decimal.Decimal, error) {
	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Balance types.BalanceSnapshot `json:"balance"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/api/v1/contracts/%s/payments", contractID)
	if err := sc.doJSON("POST", path, "payment", req, &result); err != nil {
		return decimal.Zero, err
	}
	return result.Data.Balance.BalanceBRL, nil
}

// balanceAt fetches the point-in-time balance for a contract
func (sc *simulationClient) balanceAt(contractID, date string) (*types.BalanceAtDateResponse, error) {
	var result struct {
		Success bool                        `json:"success"`
		Data    types.BalanceAtDateResponse `json:"data"`
	}
	path := fmt.Sprintf("/api/v1/contracts/%s/balance?date=%s", contractID, date)
	if err := sc.doJSON("GET", path, "balance", nil, &result); err != nil {
		return nil, err
	}
	return &result.Data, nil
}

// recalculatedAccruals fetches the payment-aware accrual table
func (sc *simulationClient) recalculatedAccruals(contractID, endDate string) (int, error) {
	var result struct {
		Success bool                           `json:"success"`
		Data    []types.RecalculatedAccrualRow `json:"data"`
	}
	path := fmt.Sprintf("/api/v1/contracts/%s/accruals/recalculated?end_date=%s", contractID, endDate)
	if err := sc.doJSON("GET", path, "accruals", nil, &result); err != nil {
		return 0, err
	}
	return len(result.Data), nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-24s %8s %8s %8s %8s %8s %8s %8s %8s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-24s %8d %8d %8s %8s %8s %8s %8s %8s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// randomContract builds a randomized but valid contract request
func randomContract() *types.CreateContractRequest {
	currency := currencies[rand.Intn(len(currencies))]
	basis := bases[rand.Intn(len(bases))]
	compounding := types.CompoundingExponential
	if rand.Intn(2) == 0 {
		compounding = types.CompoundingLinear
	}

	req := &types.CreateContractRequest{
		Counterparty:       fmt.Sprintf("CP_%03d", rand.Intn(500)),
		Direction:          types.DirectionLent,
		Currency:           currency,
		StartDate:          simStartDate,
		PrincipalOrigin:    decimal.NewFromInt(int64(rand.Intn(900)+100) * 1000),
		PaymentFlow:        types.FlowFlexible,
		AmortizationSystem: systems[rand.Intn(len(systems))],
		Installments:       12,
		Legs: []types.InterestLeg{{
			Indexer:      types.IndexerFixed,
			AnnualSpread: decimal.NewFromInt(int64(rand.Intn(20) + 5)),
			Basis:        basis,
			Compounding:  compounding,
			Role:         types.RoleRate,
		}},
	}

	// Non-BRL contracts occasionally fix their FX at inception
	if currency != types.BRL && rand.Intn(2) == 0 {
		req.ContractFxRate = decimal.NewNullDecimal(decimal.NewFromFloat(4.5 + rand.Float64()))
	}
	return req
}

// main runs the loan book simulation
// It starts a local API server and simulates multiple concurrent clients
// working contracts through their lifecycle
func main() {
	// Start the server in a goroutine
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	// Initialize simulation client
	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	// Generate random number of contracts to process
	targetContracts := rand.Intn(maxContracts-minContracts) + minContracts
	log.Info().Int("target_contracts", targetContracts).Msg("Starting simulation")

	// Channel to collect contract IDs
	contractsChan := make(chan string, targetContracts)
	var wg sync.WaitGroup

	// Start worker goroutines
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			createContractsHTTP(workerID, targetContracts/numWorkers, simClient, contractsChan)
		}(i)
	}

	// Wait for all contracts to be created
	wg.Wait()
	close(contractsChan)

	// Collect all contract IDs
	var contractIDs []string
	for contractID := range contractsChan {
		contractIDs = append(contractIDs, contractID)
	}

	log.Info().Int("contracts_created", len(contractIDs)).Msg("All contracts created")

	stats := struct {
		TotalContracts  int
		PaymentsApplied int
		FailedPayments  int
		BalanceLookups  int
		AccrualReports  int
		TotalPaidBRL    decimal.Decimal
		StartTime       time.Time
	}{
		StartTime:    time.Now(),
		TotalPaidBRL: decimal.Zero,
	}
	stats.TotalContracts = len(contractIDs)

	// Work each contract: a few payments spread over the year, then reports
	paymentDates := []string{"2024-03-01", "2024-06-03", "2024-09-02"}
	for _, contractID := range contractIDs {
		for p := 0; p < paymentsPerLoan; p++ {
			amount := decimal.NewFromInt(int64(rand.Intn(40)+10) * 1000)
			req := &types.ApplyPaymentRequest{
				PaymentDate: paymentDates[p],
				Currency:    types.BRL,
				Amount:      amount,
			}

			balanceBRL, err := simClient.applyPayment(contractID, req)
			if err != nil {
				log.Error().Err(err).Str("contract_id", contractID).Msg("Failed to apply payment")
				stats.FailedPayments++
				continue
			}
			stats.PaymentsApplied++
			stats.TotalPaidBRL = stats.TotalPaidBRL.Add(amount)

			log.Info().
				Str("contract_id", contractID).
				Str("payment_date", req.PaymentDate).
				Str("amount_brl", amount.String()).
				Str("balance_brl", balanceBRL.String()).
				Msg("Payment applied")
		}

		if balance, err := simClient.balanceAt(contractID, "2024-06-30"); err == nil {
			stats.BalanceLookups++
			log.Info().
				Str("contract_id", contractID).
				Str("balance_origin", balance.BalanceOrigin.String()).
				Str("balance_brl", balance.BalanceBRL.String()).
				Msg("Mid-year balance")
		}

		if rows, err := simClient.recalculatedAccruals(contractID, "2024-12-02"); err == nil {
			stats.AccrualReports++
			log.Info().
				Str("contract_id", contractID).
				Int("rows", rows).
				Msg("Recalculated accrual table")
		}
	}

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("LOAN BOOK SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Contract Statistics
-------------------
Total Contracts:  %d
Payments Applied: %d
Failed Payments:  %d
Balance Lookups:  %d
Accrual Reports:  %d
Total Paid (BRL): %s
Duration:         %v
`, stats.TotalContracts, stats.PaymentsApplied, stats.FailedPayments,
		stats.BalanceLookups, stats.AccrualReports,
		stats.TotalPaidBRL.StringFixed(2), duration.Round(time.Millisecond))

	fmt.Println("\n" + strings.Repeat("=", 80))

	successRate := 0.0
	if total := stats.PaymentsApplied + stats.FailedPayments; total > 0 {
		successRate = float64(stats.PaymentsApplied) / float64(total) * 100
	}
	log.Info().
		Float64("payment_success_rate", successRate).
		Int("total_contracts", stats.TotalContracts).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// createContractsHTTP generates and submits random contracts to the API
// Runs as a worker goroutine, sending created contract IDs to contractsChan
func createContractsHTTP(workerID, numContracts int, simClient *simulationClient, contractsChan chan<- string) {
	for i := 0; i < numContracts; i++ {
		req := randomContract()

		contractID, err := simClient.createContract(req)
		if err != nil {
			log.Error().Err(err).
				Str("worker_id", fmt.Sprintf("%d", workerID)).
				Str("currency", req.Currency).
				Msg("Failed to create contract")
			continue
		}

		contractsChan <- contractID
		log.Info().
			Str("worker_id", fmt.Sprintf("%d", workerID)).
			Str("contract_id", contractID).
			Str("currency", req.Currency).
			Str("principal", req.PrincipalOrigin.String()).
			Str("basis", req.Legs[0].Basis).
			Msg("Contract created")

		// Random sleep between contracts
		time.Sleep(time.Duration(rand.Intn(500)) * time.Millisecond)
	}
}

// startServer initializes and starts the loan book API server in-process.
// Daily FX rates are seeded directly so the simulation never depends on the
// external PTAX feed.
func startServer() error {
	// Initialize database
	db, err := database.NewDatabase("simulation.db")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	authService := auth.NewService(auth.SecretFromEnv())
	fxService := fx.NewService(db, nil, nil)
	contractService := contract.NewService(db, fxService)
	paymentService := payment.NewService(db, fxService)
	accrualService := accrual.NewService(db, fxService)

	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	if err := seedRates(fxService); err != nil {
		return fmt.Errorf("failed to seed fx rates: %w", err)
	}

	// Initialize router
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	contractHandlers := contract.NewGinHandlers(contractService)
	paymentHandlers := payment.NewGinHandlers(paymentService)
	accrualHandlers := accrual.NewGinHandlers(accrualService)

	// Setup routes
	setupRoutes(router, authHandlers, contractHandlers, paymentHandlers, accrualHandlers)

	// Start the server
	return router.Run(":8080")
}

// seedRates stores a year of synthetic daily USD and EUR rates with a gentle
// random walk
func seedRates(fxService *fx.Service) error {
	base := map[string]float64{"USD": 4.95, "EUR": 5.40}
	start, err := datemath.ParseDate(simStartDate)
	if err != nil {
		return err
	}

	for currency, level := range base {
		rate := level
		for d := 0; d < 365; d++ {
			date := datemath.FormatDate(start.AddDate(0, 0, d))
			rate += (rand.Float64() - 0.5) * 0.02
			record := &fx.ExchangeRate{
				Currency: currency,
				RateDate: date,
				Rate:     decimal.NewFromFloat(rate),
				Source:   fx.SourceManual,
			}
			if err := fxService.GetDB().UpsertRate(record); err != nil {
				return err
			}
		}
	}
	return nil
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality and applies appropriate middleware
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	contractHandlers *contract.GinHandlers,
	paymentHandlers *payment.GinHandlers,
	accrualHandlers *accrual.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Contract routes
		contracts := v1.Group("/contracts")
		contracts.Use(middleware.JWTAuth())
		{
			contracts.POST("", contractHandlers.CreateContractHandler())
			contracts.GET("", contractHandlers.ListContractsHandler())
			contracts.GET("/:contract_id", contractHandlers.GetContractHandler())
			contracts.GET("/:contract_id/ledger", contractHandlers.GetLedgerHandler())
			contracts.GET("/:contract_id/balance", paymentHandlers.GetBalanceAtDateHandler())
			contracts.POST("/:contract_id/payments", paymentHandlers.ApplyPaymentHandler())
			contracts.GET("/:contract_id/payments", paymentHandlers.GetPaymentsHandler())
			contracts.GET("/:contract_id/schedule", accrualHandlers.GetScheduleHandler())
			contracts.GET("/:contract_id/accruals", accrualHandlers.GetAccrualsHandler())
			contracts.GET("/:contract_id/accruals/recalculated", accrualHandlers.GetRecalculatedHandler())
		}
	}
}
