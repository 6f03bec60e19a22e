package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"guiascan/internal"
	"guiascan/internal/config"
	"guiascan/internal/util"
)

// Client pulls clients and expected payments from the practice-management
// API, scroll-paginated and rate limited on our side.
type Client struct {
	cfg        config.Config
	httpClient *http.Client
	throttle   *throttle
}

type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type clientScrollPayload struct {
	Clients  []clientPayload `json:"clients"`
	ScrollID *string         `json:"scrollId"`
}

type clientPayload struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Identifier string `json:"cpfCnpj"`
}

type entryScrollPayload struct {
	Entries  []entryPayload `json:"payments"`
	ScrollID *string        `json:"scrollId"`
}

type entryPayload struct {
	ID       int    `json:"id"`
	ClientID int    `json:"clientId"`
	Period   string `json:"competencia"`
	Amount   string `json:"amount"`
	State    string `json:"state"`
	PaidAt   *string `json:"paidAt"`
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.LedgerTimeoutMs) * time.Millisecond},
		throttle:   newThrottle(cfg.LedgerRateLimit),
	}
}

func (c *Client) GetClientsAll(ctx context.Context) ([]internal.ClientRecord, error) {
	out := []internal.ClientRecord{}
	var scrollID string

	for {
		body, err := c.fetchJSON(ctx, "clients/scroll", scrollID)
		if err != nil {
			return nil, err
		}

		var payload clientScrollPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, err
		}

		for _, p := range payload.Clients {
			out = append(out, internal.ClientRecord{
				ID:                   p.ID,
				Name:                 p.Name,
				Identifier:           p.Identifier,
				NormalizedIdentifier: util.NormalizeIdentifier(p.Identifier),
			})
		}

		if payload.ScrollID == nil || *payload.ScrollID == "" {
			return out, nil
		}
		scrollID = *payload.ScrollID
	}
}

func (c *Client) GetLedgerEntriesAll(ctx context.Context) ([]internal.LedgerEntry, error) {
	out := []internal.LedgerEntry{}
	var scrollID string

	for {
		body, err := c.fetchJSON(ctx, "payments/scroll", scrollID)
		if err != nil {
			return nil, err
		}

		var payload entryScrollPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, err
		}

		for _, p := range payload.Entries {
			amount, err := decimal.NewFromString(p.Amount)
			if err != nil {
				return nil, fmt.Errorf("payment %d: bad amount %q: %w", p.ID, p.Amount, err)
			}
			out = append(out, internal.LedgerEntry{
				ID:        p.ID,
				ClientID:  p.ClientID,
				RawPeriod: p.Period,
				Amount:    amount,
				State:     internal.PaymentState(p.State),
				PaidAt:    p.PaidAt,
			})
		}

		if payload.ScrollID == nil || *payload.ScrollID == "" {
			return out, nil
		}
		scrollID = *payload.ScrollID
	}
}

func (c *Client) fetchJSON(ctx context.Context, path, scrollID string) (json.RawMessage, error) {
	c.throttle.waitTurn()

	endpoint := strings.TrimSuffix(c.cfg.LedgerAPIBaseURL, "/") + "/" + path
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	if scrollID != "" {
		q := u.Query()
		q.Set("scrollId", scrollID)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.LedgerAPIToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}

	var wrapper apiResponse
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, err
	}
	if !wrapper.Success {
		return nil, fmt.Errorf("%s: %s", path, wrapper.Message)
	}
	return wrapper.Data, nil
}

type throttle struct {
	mu            sync.Mutex
	nextAllowedAt time.Time
	interval      time.Duration
}

func newThrottle(requestsPerSecond int) *throttle {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	return &throttle{interval: time.Second / time.Duration(requestsPerSecond)}
}

func (t *throttle) waitTurn() {
	t.mu.Lock()
	now := time.Now()
	scheduled := now
	if t.nextAllowedAt.After(now) {
		scheduled = t.nextAllowedAt
	}
	t.nextAllowedAt = scheduled.Add(t.interval)
	t.mu.Unlock()

	if sleep := time.Until(scheduled); sleep > 0 {
		time.Sleep(sleep)
	}
}
