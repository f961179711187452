package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/weiihann/energy-stats-indexer/internal/energy"
)

// Client talks to the energy stats HTTP API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// APIError is an error envelope returned by the service.
type APIError struct {
	StatusCode int
	Message    string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("energy API returned status %d: %s (%s)", e.StatusCode, e.Message, e.Detail)
	}
	return fmt.Sprintf("energy API returned status %d: %s", e.StatusCode, e.Message)
}

type envelope[T any] struct {
	Status    string `json:"status"`
	FromCache bool   `json:"fromCache"`
	Data      T      `json:"data"`
	Error     string `json:"error"`
	Detail    string `json:"detail"`
}

// UserStats fetches the statistics of address. refresh bypasses the
// service's result cache.
func (c *Client) UserStats(ctx context.Context, contractID, address string, refresh bool) (energy.UserEnergyStats, error) {
	query := url.Values{}
	query.Set("address", address)
	if refresh {
		query.Set("refresh", strconv.FormatBool(refresh))
	}
	endpoint := fmt.Sprintf("%s/energy/%s/user?%s", c.baseURL, url.PathEscape(contractID), query.Encode())

	var env envelope[energy.UserEnergyStats]
	if err := c.get(ctx, endpoint, &env); err != nil {
		return energy.UserEnergyStats{}, err
	}
	return env.Data, nil
}

func (c *Client) SystemStats(ctx context.Context, contractID string, refresh bool) (energy.SystemReport, error) {
	endpoint := fmt.Sprintf("%s/energy/%s", c.baseURL, url.PathEscape(contractID))
	if refresh {
		endpoint += "?refresh=true"
	}

	var env envelope[energy.SystemReport]
	if err := c.get(ctx, endpoint, &env); err != nil {
		return energy.SystemReport{}, err
	}
	return env.Data, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call energy API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var env envelope[json.RawMessage]
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err := json.Unmarshal(body, &env); err != nil || env.Error == "" {
			return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: env.Error, Detail: env.Detail}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not decode energy API response: %w", err)
	}
	return nil
}
