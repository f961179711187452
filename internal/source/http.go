package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/weiihann/energy-stats-indexer/internal/energy"
	"github.com/weiihann/energy-stats-indexer/internal/logger"
	"github.com/weiihann/energy-stats-indexer/internal/metrics"
)

const (
	defaultPageSize        = 50
	defaultTimeout         = 30 * time.Second
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 10 * time.Second
)

type HTTPConfig struct {
	BaseURL    string
	Timeout    time.Duration
	PageSize   int
	MaxRetries int
	// InitialInterval is the first retry delay; it doubles up to MaxInterval.
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// StatusError is a non-200 answer from the indexer API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("indexer API returned status %d: %s", e.Code, e.Body)
}

// retryable reports whether a failed request may succeed when repeated.
func (e *StatusError) retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

var errMalformedPage = errors.New("could not decode harvest page")

type harvestPage struct {
	Total   int                      `json:"total"`
	Results []energy.HarvestLogEntry `json:"results"`
}

// HTTPSource reads harvest logs from the chain indexer's paged REST API:
// GET {base}/contracts/{contractId}/harvests?limit=&offset=
type HTTPSource struct {
	httpClient *http.Client
	config     HTTPConfig
	log        *slog.Logger
}

var _ Source = (*HTTPSource)(nil)

func NewHTTPSource(config HTTPConfig) *HTTPSource {
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.PageSize <= 0 {
		config.PageSize = defaultPageSize
	}
	if config.InitialInterval <= 0 {
		config.InitialInterval = defaultInitialInterval
	}
	if config.MaxInterval <= 0 {
		config.MaxInterval = defaultMaxInterval
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &HTTPSource{
		httpClient: &http.Client{Timeout: config.Timeout},
		config:     config,
		log:        logger.GetLogger("http-source"),
	}
}

func (s *HTTPSource) FetchHarvestLogs(ctx context.Context, contractID string) ([]energy.HarvestLogEntry, error) {
	logs := []energy.HarvestLogEntry{}
	offset := 0

	for {
		page, err := s.fetchPageWithRetry(ctx, contractID, offset)
		if err != nil {
			metrics.UpstreamFetchFailures.WithLabelValues("http").Inc()
			return nil, fmt.Errorf("%w: contract %s at offset %d: %w", ErrUpstream, contractID, offset, err)
		}

		logs = append(logs, page.Results...)
		offset += len(page.Results)

		if len(page.Results) == 0 || offset >= page.Total {
			break
		}
	}

	metrics.UpstreamRowsFetched.WithLabelValues("http").Add(float64(len(logs)))
	s.log.Debug("Fetched harvest logs",
		"contract_id", contractID,
		"rows", len(logs))
	return logs, nil
}

func (s *HTTPSource) fetchPageWithRetry(ctx context.Context, contractID string, offset int) (*harvestPage, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.InitialInterval
	b.MaxInterval = s.config.MaxInterval
	b.MaxElapsedTime = 0

	retries := backoff.WithMaxRetries(b, uint64(max(s.config.MaxRetries, 0)))

	var page *harvestPage
	operation := func() error {
		p, err := s.fetchPage(ctx, contractID, offset)
		if err != nil {
			var statusErr *StatusError
			if errors.As(err, &statusErr) && !statusErr.retryable() {
				return backoff.Permanent(err)
			}
			if errors.Is(err, errMalformedPage) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		page = p
		return nil
	}

	notify := func(err error, next time.Duration) {
		s.log.Warn("Harvest log request failed, retrying with exponential backoff",
			"contract_id", contractID,
			"offset", offset,
			"retry_in_seconds", next.Seconds(),
			"error", err)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(retries, ctx), notify); err != nil {
		return nil, err
	}
	return page, nil
}

func (s *HTTPSource) fetchPage(ctx context.Context, contractID string, offset int) (*harvestPage, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(s.config.PageSize))
	query.Set("offset", strconv.Itoa(offset))
	endpoint := fmt.Sprintf("%s/contracts/%s/harvests?%s", s.config.BaseURL, url.PathEscape(contractID), query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch harvest logs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var page harvestPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedPage, err)
	}
	return &page, nil
}
