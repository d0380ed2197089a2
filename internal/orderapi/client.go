package orderapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"usbforge/internal/config"
	"usbforge/internal/logging"
	"usbforge/internal/orders"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultRetryDelay = time.Second
	defaultPageSize   = 20
	maxPages          = 50
	maxErrorMessage   = 10000
	truncatedSuffix   = "...[truncated]"
	userAgent         = "usbforge/0.1.0"
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	PageSize   int
	HTTPClient *http.Client
}

// Client wraps the remote order REST API.
type Client struct {
	baseURL    string
	apiKey     string
	maxRetries int
	retryDelay time.Duration
	pageSize   int
	http       *http.Client
	logger     *slog.Logger
}

// New creates a Client. A missing API key is rejected.
func New(opts Options, logger *slog.Logger) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, &APIError{Code: CodeMissingAPIKey, Message: "api key is required"}
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("orderapi: parse base url: %w", err)
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = 1
	}
	delay := opts.RetryDelay
	if delay < 0 {
		delay = defaultRetryDelay
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Client{
		baseURL:    base,
		apiKey:     apiKey,
		maxRetries: retries,
		retryDelay: delay,
		pageSize:   pageSize,
		http:       client,
		logger:     logging.NewComponentLogger(logger, "orderapi"),
	}, nil
}

// NewFromConfig builds a client from the order_api configuration section.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	settings := cfg.OrderAPI
	return New(Options{
		BaseURL:    settings.BaseURL,
		APIKey:     settings.APIKey,
		Timeout:    time.Duration(settings.Timeout) * time.Second,
		MaxRetries: settings.MaxRetries,
		RetryDelay: time.Duration(settings.RetryDelayMillis) * time.Millisecond,
		PageSize:   settings.PageSize,
	}, logger)
}

// BaseURL returns the normalized API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Pagination is the page metadata returned with order listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
}

type pendingData struct {
	Orders     []remoteOrder `json:"orders"`
	Pagination Pagination    `json:"pagination"`
}

// Ping checks connectivity and credentials.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/health", nil, nil)
	return err
}

// PendingOrders fetches one page of pending orders. Unsuccessful or
// malformed listings yield an empty page rather than an error.
func (c *Client) PendingOrders(ctx context.Context, page, perPage int) ([]orders.Order, Pagination, error) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = c.pageSize
	}
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(perPage))

	env, err := c.do(ctx, http.MethodGet, "/orders/pending", params, nil)
	if err != nil {
		return nil, Pagination{}, err
	}
	if !env.Success || len(env.Data) == 0 || string(env.Data) == "null" {
		return []orders.Order{}, Pagination{Page: page, PerPage: perPage}, nil
	}
	var data pendingData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		c.logger.Debug("malformed pending orders payload", logging.Error(err))
		return []orders.Order{}, Pagination{Page: page, PerPage: perPage}, nil
	}

	now := time.Now().UTC()
	out := make([]orders.Order, 0, len(data.Orders))
	for _, remote := range data.Orders {
		order, ok := remote.toOrder(now)
		if !ok {
			c.logger.Debug("remote order skipped", logging.String("remote_id", remote.OrderID))
			continue
		}
		out = append(out, order)
	}
	return out, data.Pagination, nil
}

// AllPendingOrders walks every page of the pending listing.
func (c *Client) AllPendingOrders(ctx context.Context) ([]orders.Order, error) {
	var all []orders.Order
	for page := 1; page <= maxPages; page++ {
		batch, pagination, err := c.PendingOrders(ctx, page, c.pageSize)
		if err != nil {
			return all, err
		}
		all = append(all, batch...)
		if len(batch) == 0 || pagination.TotalPages <= page {
			break
		}
	}
	return all, nil
}

// StartBurning tells the backend an order entered fulfilment.
func (c *Client) StartBurning(ctx context.Context, orderID string) error {
	_, err := c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/start-burning", nil, nil)
	return err
}

// CompleteBurning marks an order fulfilled. Notes are optional; without
// them no request body is sent.
func (c *Client) CompleteBurning(ctx context.Context, orderID, notes string) error {
	var body any
	if notes = strings.TrimSpace(notes); notes != "" {
		body = map[string]string{"notes": notes}
	}
	_, err := c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/complete-burning", nil, body)
	return err
}

type errorReport struct {
	ErrorMessage string `json:"error_message"`
	ErrorCode    string `json:"error_code,omitempty"`
	Retryable    bool   `json:"retryable"`
}

// ReportError records a fulfilment failure. Long messages are truncated.
func (c *Client) ReportError(ctx context.Context, orderID, message, code string, retryable bool) error {
	report := errorReport{
		ErrorMessage: truncateMessage(message),
		ErrorCode:    strings.TrimSpace(code),
		Retryable:    retryable,
	}
	_, err := c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/report-error", nil, report)
	return err
}

func truncateMessage(message string) string {
	if len(message) <= maxErrorMessage {
		return message
	}
	cut := maxErrorMessage
	for cut > 0 && !isRuneStart(message[cut]) {
		cut--
	}
	return message[:cut] + truncatedSuffix
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// do performs a request with retry and decodes the response envelope.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body any) (envelope, error) {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return envelope{}, fmt.Errorf("orderapi: encode request: %w", err)
		}
		payload = encoded
	}
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.retryDelay * time.Duration(1<<(attempt-1))
			c.logger.Debug("retrying order api request",
				logging.String("method", method),
				logging.String("path", path),
				logging.Int("attempt", attempt+1),
				logging.Duration("wait", wait),
				logging.Error(lastErr),
			)
			if err := sleepContext(ctx, wait); err != nil {
				return envelope{}, err
			}
		}
		env, err := c.once(ctx, method, endpoint, payload)
		if err == nil {
			return env, nil
		}
		lastErr = err
		if !IsRetryable(err) || ctx.Err() != nil {
			return envelope{}, err
		}
	}
	return envelope{}, lastErr
}

func (c *Client) once(ctx context.Context, method, endpoint string, payload []byte) (envelope, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return envelope{}, fmt.Errorf("orderapi: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return envelope{}, transportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return envelope{}, &APIError{StatusCode: resp.StatusCode, Code: CodeConnectionError, Message: err.Error(), Retryable: true}
	}
	var env envelope
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 400 {
			return envelope{}, &APIError{StatusCode: resp.StatusCode, Code: CodeRequestFailed, Message: "malformed response body"}
		}
	}
	if resp.StatusCode >= 400 {
		return envelope{}, statusError(resp.StatusCode, env)
	}
	return env, nil
}

func transportError(err error) *APIError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &APIError{Code: CodeTimeout, Message: err.Error(), Retryable: true}
	}
	return &APIError{Code: CodeConnectionError, Message: err.Error(), Retryable: true}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
