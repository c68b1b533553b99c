package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/peer-exchange/internal/domain"
	"github.com/shopspring/decimal"
)

// TableSource reads a currency-keyed rate table served as {base}/{from}.json,
// shaped like {"date": "...", "pln": {"kzt": 125.1, ...}}.
type TableSource struct {
	baseURL    string
	httpClient *http.Client
}

func NewTableSource(baseURL string, httpClient *http.Client) *TableSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &TableSource{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// Rate returns how many units of dir.To one unit of dir.From buys.
func (s *TableSource) Rate(ctx context.Context, dir domain.Direction) (decimal.Decimal, error) {
	from := strings.ToLower(string(dir.From))
	to := strings.ToLower(string(dir.To))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s.json", s.baseURL, from), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate table: build request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate table: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("rate table: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate table: read body: %w", err)
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Zero, fmt.Errorf("rate table: decode: %w", err)
	}
	raw, ok := payload[from]
	if !ok {
		return decimal.Zero, fmt.Errorf("rate table: no %q table", from)
	}
	var table map[string]json.RawMessage
	if err := json.Unmarshal(raw, &table); err != nil {
		return decimal.Zero, fmt.Errorf("rate table: decode %q table: %w", from, err)
	}
	value, ok := table[to]
	if !ok {
		return decimal.Zero, fmt.Errorf("rate table: no %s rate", dir)
	}

	var rate decimal.Decimal
	if err := json.Unmarshal(value, &rate); err != nil {
		return decimal.Zero, fmt.Errorf("rate table: parse %s rate: %w", dir, err)
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("rate table: non-positive %s rate %s", dir, rate)
	}
	return rate, nil
}
