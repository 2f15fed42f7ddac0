package fx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mvbarbosa/loanbook-api/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ExchangeRate{}))
	return db
}

func TestUpsertRateRoundsAndReplaces(t *testing.T) {
	store := NewDatabase(newTestDB(t))

	require.NoError(t, store.UpsertRate(&ExchangeRate{
		Currency: "USD",
		RateDate: "2024-01-02",
		Rate:     decimal.RequireFromString("4.9912345678"),
		Source:   SourcePTAX,
	}))

	rate, err := store.GetRate("USD", "2024-01-02")
	require.NoError(t, err)
	require.NotNil(t, rate)
	assert.True(t, rate.Rate.Equal(decimal.RequireFromString("4.991235")),
		"stored rates carry 6 decimal places, got %s", rate.Rate)

	// Second write for the same pair replaces, not duplicates.
	require.NoError(t, store.UpsertRate(&ExchangeRate{
		Currency: "USD",
		RateDate: "2024-01-02",
		Rate:     decimal.RequireFromString("5.01"),
		Source:   SourceManual,
	}))

	rate, err = store.GetRate("USD", "2024-01-02")
	require.NoError(t, err)
	assert.True(t, rate.Rate.Equal(decimal.RequireFromString("5.01")))
	assert.Equal(t, SourceManual, rate.Source)
}

func TestGetLatestRate(t *testing.T) {
	store := NewDatabase(newTestDB(t))

	for _, date := range []string{"2024-01-02", "2024-01-05", "2024-01-03"} {
		require.NoError(t, store.UpsertRate(&ExchangeRate{
			Currency: "USD",
			RateDate: date,
			Rate:     decimal.NewFromInt(5),
			Source:   SourcePTAX,
		}))
	}

	latest, err := store.GetLatestRate("USD")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "2024-01-05", latest.RateDate)

	missing, err := store.GetLatestRate("JPY")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestServiceResolvesThroughCache(t *testing.T) {
	db := newTestDB(t)
	store := NewDatabase(db)
	require.NoError(t, store.UpsertRate(&ExchangeRate{
		Currency: "USD",
		RateDate: "2024-01-02",
		Rate:     decimal.NewFromInt(5),
		Source:   SourcePTAX,
	}))

	cache := NewMemoryCache()
	svc := NewService(db, cache, nil)

	res, err := svc.GetConversionRate(context.Background(), "2024-01-02", "USD")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Rate.Equal(decimal.NewFromInt(5)))

	// The lookup must have populated the cache.
	cached, ok := cache.Get(context.Background(), "USD", "2024-01-02")
	require.True(t, ok)
	assert.True(t, cached.Rate.Equal(decimal.NewFromInt(5)))
}

func TestServiceBRLIdentity(t *testing.T) {
	svc := NewService(newTestDB(t), nil, nil)

	res, err := svc.GetConversionRate(context.Background(), "2024-01-02", types.BRL)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Rate.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, SourceBRLIdentity, res.Source)
}

func TestServiceUnknownRateIsNilNotError(t *testing.T) {
	svc := NewService(newTestDB(t), nil, nil)

	res, err := svc.GetConversionRate(context.Background(), "2024-01-02", "USD")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	_, ok := cache.Get(ctx, "USD", "2024-01-02")
	assert.False(t, ok)

	res := &Resolution{Rate: decimal.NewFromInt(5), Source: SourcePTAX}
	require.NoError(t, cache.Set(ctx, "USD", "2024-01-02", res))

	got, ok := cache.Get(ctx, "USD", "2024-01-02")
	require.True(t, ok)
	assert.True(t, got.Rate.Equal(res.Rate))

	// Different date misses.
	_, ok = cache.Get(ctx, "USD", "2024-01-03")
	assert.False(t, ok)
}

func TestRequireRateFallbackChain(t *testing.T) {
	db := newTestDB(t)
	store := NewDatabase(db)
	svc := NewService(db, nil, nil)
	ctx := context.Background()

	// Nothing known: hard failure for a non-BRL currency.
	_, err := RequireRate(ctx, svc, "USD", "2024-01-10", decimal.NullDecimal{})
	require.ErrorIs(t, err, types.ErrFxUnavailable)

	// Contract-fixed rate rescues an otherwise unresolvable lookup.
	res, err := RequireRate(ctx, svc, "USD", "2024-01-10", decimal.NewNullDecimal(decimal.RequireFromString("4.80")))
	require.NoError(t, err)
	assert.Equal(t, SourceContractRate, res.Source)
	assert.True(t, res.Rate.Equal(decimal.RequireFromString("4.80")))

	// A stored rate for another date resolves as last-available.
	require.NoError(t, store.UpsertRate(&ExchangeRate{
		Currency: "USD",
		RateDate: "2024-01-05",
		Rate:     decimal.NewFromInt(5),
		Source:   SourcePTAX,
	}))
	res, err = RequireRate(ctx, svc, "USD", "2024-01-10", decimal.NullDecimal{})
	require.NoError(t, err)
	assert.Equal(t, SourceLastAvailable, res.Source)

	// An exact-date rate beats every fallback.
	require.NoError(t, store.UpsertRate(&ExchangeRate{
		Currency: "USD",
		RateDate: "2024-01-10",
		Rate:     decimal.NewFromInt(6),
		Source:   SourcePTAX,
	}))
	res, err = RequireRate(ctx, svc, "USD", "2024-01-10", decimal.NullDecimal{})
	require.NoError(t, err)
	assert.Equal(t, SourcePTAX, res.Source)
	assert.True(t, res.Rate.Equal(decimal.NewFromInt(6)))

	// BRL always resolves.
	res, err = RequireRate(ctx, svc, types.BRL, "2024-01-10", decimal.NullDecimal{})
	require.NoError(t, err)
	assert.True(t, res.Rate.Equal(decimal.NewFromInt(1)))
}

func TestPTAXClientFetchRates(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		payload := map[string]interface{}{
			"value": []map[string]interface{}{
				{"cotacaoVenda": 4.9912, "dataHoraCotacao": "2024-01-02 13:09:02.423"},
				{"cotacaoVenda": 5.0134, "dataHoraCotacao": "2024-01-03 13:09:01.155"},
				{"cotacaoVenda": 5.02, "dataHoraCotacao": "bad"},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(payload))
	}))
	defer server.Close()

	client := NewPTAXClientWithBaseURL(server.URL)
	quotes, err := client.FetchRates(context.Background(), "USD", "2024-01-02", "2024-01-03")
	require.NoError(t, err)
	require.Len(t, quotes, 2, "entries with malformed timestamps are skipped")

	assert.Equal(t, "2024-01-02", quotes[0].Date)
	assert.True(t, quotes[0].Rate.Equal(decimal.RequireFromString("4.9912")))
	assert.Equal(t, "2024-01-03", quotes[1].Date)

	// Query dates go out in the MM-DD-YYYY format the service expects.
	assert.Contains(t, gotQuery, "01-02-2024")
	assert.Contains(t, gotQuery, "01-03-2024")
}

func TestPTAXClientRejectsBadDates(t *testing.T) {
	client := NewPTAXClient()
	_, err := client.FetchRates(context.Background(), "USD", "01/02/2024", "2024-01-03")
	require.ErrorIs(t, err, types.ErrInvalidDate)
}

func TestSyncPTAXStoresQuotes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		payload := map[string]interface{}{
			"value": []map[string]interface{}{
				{"cotacaoVenda": 4.99, "dataHoraCotacao": "2024-01-02 13:09:02.423"},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(payload))
	}))
	defer server.Close()

	db := newTestDB(t)
	svc := NewService(db, nil, NewPTAXClientWithBaseURL(server.URL))

	err := svc.SyncPTAX(context.Background(), "2024-01-02", "2024-01-02", []string{"USD"})
	require.NoError(t, err)

	res, err := svc.GetConversionRate(context.Background(), "2024-01-02", "USD")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Rate.Equal(decimal.RequireFromString("4.99")))
	assert.Equal(t, SourcePTAX, res.Source)
}

func TestSyncPTAXFailsOnlyWhenAllCurrenciesFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	svc := NewService(newTestDB(t), nil, NewPTAXClientWithBaseURL(server.URL))

	err := svc.SyncPTAX(context.Background(), "2024-01-02", "2024-01-02", []string{"USD", "EUR"})
	require.Error(t, err)

	// BRL is skipped, not fetched, so a BRL-only sync succeeds trivially.
	err = svc.SyncPTAX(context.Background(), "2024-01-02", "2024-01-02", []string{types.BRL})
	require.NoError(t, err)
}
