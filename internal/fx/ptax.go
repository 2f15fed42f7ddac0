package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mvbarbosa/loanbook-api/internal/datemath"
	"github.com/shopspring/decimal"
)

// defaultPTAXBaseURL is the central bank's open data service for daily
// closing quotes.
const defaultPTAXBaseURL = "https://olinda.bcb.gov.br/olinda/servico/PTAX/versao/v1/odata"

// ptaxDateLayout is the MM-DD-YYYY format the PTAX OData service expects.
const ptaxDateLayout = "01-02-2006"

// Quote is one daily closing rate from the PTAX feed.
type Quote struct {
	Date string
	Rate decimal.Decimal
}

// PTAXClient fetches daily selling quotes from the PTAX service.
type PTAXClient struct {
	baseURL string
	http    *http.Client
}

func NewPTAXClient() *PTAXClient {
	return &PTAXClient{
		baseURL: defaultPTAXBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// NewPTAXClientWithBaseURL is used by tests to point the client at a stub.
func NewPTAXClientWithBaseURL(baseURL string) *PTAXClient {
	c := NewPTAXClient()
	c.baseURL = baseURL
	return c
}

type ptaxResponse struct {
	Value []struct {
		CotacaoVenda    float64 `json:"cotacaoVenda"`
		DataHoraCotacao string  `json:"dataHoraCotacao"`
	} `json:"value"`
}

// FetchRates retrieves the daily selling quotes for a currency between two
// YYYY-MM-DD dates, inclusive.
func (c *PTAXClient) FetchRates(ctx context.Context, currency, startDate, endDate string) ([]Quote, error) {
	start, err := datemath.ParseDate(startDate)
	if err != nil {
		return nil, err
	}
	end, err := datemath.ParseDate(endDate)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf(
		"%s/CotacaoMoedaPeriodo(moeda=@moeda,dataInicial=@dataInicial,dataFinalCotacao=@dataFinalCotacao)",
		c.baseURL,
	)

	params := url.Values{}
	params.Set("@moeda", fmt.Sprintf("'%s'", currency))
	params.Set("@dataInicial", fmt.Sprintf("'%s'", start.Format(ptaxDateLayout)))
	params.Set("@dataFinalCotacao", fmt.Sprintf("'%s'", end.Format(ptaxDateLayout)))
	params.Set("$format", "json")
	params.Set("$select", "cotacaoVenda,dataHoraCotacao")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build ptax request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ptax request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ptax request returned status %d", resp.StatusCode)
	}

	var body ptaxResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode ptax response: %w", err)
	}

	quotes := make([]Quote, 0, len(body.Value))
	for _, entry := range body.Value {
		// The quote timestamp comes back as "2024-01-02 13:09:02.423";
		// only the date part matters here.
		if len(entry.DataHoraCotacao) < len(datemath.DateLayout) {
			continue
		}
		quotes = append(quotes, Quote{
			Date: entry.DataHoraCotacao[:len(datemath.DateLayout)],
			Rate: decimal.NewFromFloat(entry.CotacaoVenda).Round(fxPrecision),
		})
	}

	return quotes, nil
}
