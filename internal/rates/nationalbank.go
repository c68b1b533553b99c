package rates

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ayo6706/peer-exchange/internal/domain"
	"github.com/shopspring/decimal"
)

// feedDateLayout is the dd.MM.yyyy format the national bank feed expects.
const feedDateLayout = "02.01.2006"

var errCurrencyMissing = errors.New("currency not present in feed")

// NationalBankFeed reads the dated RSS feed published by the national bank.
// Every item quotes how many units of the home currency buy Quant units of
// the item's currency.
type NationalBankFeed struct {
	baseURL    string
	httpClient *http.Client
}

func NewNationalBankFeed(baseURL string, httpClient *http.Client) *NationalBankFeed {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &NationalBankFeed{baseURL: baseURL, httpClient: httpClient}
}

type rssFeed struct {
	Items []rssItem `xml:"channel>item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Description string `xml:"description"`
	Quant       string `xml:"quant"`
}

// HomeRate returns the price of one unit of currency in the feed's home
// currency for the given day.
func (f *NationalBankFeed) HomeRate(ctx context.Context, currency domain.Currency, day time.Time) (decimal.Decimal, error) {
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return decimal.Zero, fmt.Errorf("nationalbank: parse url: %w", err)
	}
	q := u.Query()
	q.Set("fdate", day.Format(feedDateLayout))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("nationalbank: build request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("nationalbank: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("nationalbank: unexpected status %d", resp.StatusCode)
	}

	var feed rssFeed
	if err := xml.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&feed); err != nil {
		return decimal.Zero, fmt.Errorf("nationalbank: decode feed: %w", err)
	}

	for _, item := range feed.Items {
		if !strings.EqualFold(strings.TrimSpace(item.Title), string(currency)) {
			continue
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(item.Description))
		if err != nil {
			return decimal.Zero, fmt.Errorf("nationalbank: parse rate %q: %w", item.Description, err)
		}
		if quant, err := decimal.NewFromString(strings.TrimSpace(item.Quant)); err == nil && quant.IsPositive() {
			rate = rate.Div(quant)
		}
		if !rate.IsPositive() {
			return decimal.Zero, fmt.Errorf("nationalbank: non-positive rate %s for %s", rate, currency)
		}
		return rate, nil
	}
	return decimal.Zero, fmt.Errorf("nationalbank: %s: %w", currency, errCurrencyMissing)
}
