// Package coinbase implements the broker adapter for the Coinbase Advanced
// Trade REST API.
//
// Requests are signed with CB-ACCESS-SIGN, a hex HMAC-SHA256 over
// timestamp + method + path + body. Coinbase does not use nonces; the
// timestamp header must be within 30 seconds of server time.
package coinbase

import (
	"bytes"
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

	"github.com/alanyoungcy/cyclebot/internal/broker"
	"github.com/alanyoungcy/cyclebot/internal/crypto"
	"github.com/alanyoungcy/cyclebot/internal/domain"
)

const (
	defaultBaseURL = "https://api.coinbase.com"
	defaultTimeout = 15 * time.Second
	apiPrefix      = "/api/v3/brokerage"

	orderSettleWait   = 500 * time.Millisecond
	orderPollAttempts = 5
)

// granularities maps candle intervals to the API's enum names.
var granularities = map[time.Duration]string{
	time.Minute:      "ONE_MINUTE",
	5 * time.Minute:  "FIVE_MINUTE",
	15 * time.Minute: "FIFTEEN_MINUTE",
	30 * time.Minute: "THIRTY_MINUTE",
	time.Hour:        "ONE_HOUR",
	6 * time.Hour:    "SIX_HOUR",
	24 * time.Hour:   "ONE_DAY",
}

// Client talks to the Coinbase Advanced Trade API for one account.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	apiSecret  string
	quoteCcy   string
	retry      broker.RetryPolicy
	logger     *slog.Logger
	now        func() time.Time
}

var _ broker.Broker = (*Client)(nil)

// Option customizes the client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy overrides the transient-error retry policy.
func WithRetryPolicy(p broker.RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithClock overrides the timestamp source, used by signing tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New builds a Coinbase client. quoteCurrency names the cash balance the
// engine trades from, usually "USD".
func New(apiKey, apiSecret, quoteCurrency string, logger *slog.Logger, opts ...Option) (*Client, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, errors.New("coinbase: api key and secret are required")
	}
	if quoteCurrency == "" {
		quoteCurrency = "USD"
	}

	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		quoteCcy:   quoteCurrency,
		retry:      broker.DefaultRetryPolicy(),
		logger:     logger.With(slog.String("component", "coinbase")),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name implements broker.Broker.
func (c *Client) Name() string { return "coinbase" }

// Connect verifies the credentials with a balance call.
func (c *Client) Connect(ctx context.Context) error {
	if _, err := c.GetBalance(ctx); err != nil {
		return fmt.Errorf("coinbase: connect: %w", err)
	}
	c.logger.InfoContext(ctx, "connected", slog.String("key", crypto.RedactSecret(c.apiKey)))
	return nil
}

// GetBalance returns the available balance of the configured quote currency,
// following pagination until found.
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	cursor := ""
	for {
		params := url.Values{"limit": {"250"}}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var page accountsResponse
		err := c.retry.Do(ctx, c.logger, "balance", func() error {
			return c.doGet(ctx, apiPrefix+"/accounts", params, &page)
		})
		if err != nil {
			return 0, err
		}

		for _, acct := range page.Accounts {
			if acct.Currency == c.quoteCcy {
				return parseFloat(acct.AvailableBalance.Value)
			}
		}
		if !page.HasNext || page.Cursor == "" {
			return 0, nil
		}
		cursor = page.Cursor
	}
}

// GetCandles fetches OHLCV bars and returns them oldest-first.
func (c *Client) GetCandles(ctx context.Context, symbol string, interval time.Duration, count int) ([]domain.Candle, error) {
	gran, ok := granularities[interval]
	if !ok {
		return nil, fmt.Errorf("coinbase: unsupported candle interval %s", interval)
	}
	if count <= 0 {
		count = 50
	}

	end := c.now().UTC()
	start := end.Add(-interval * time.Duration(count+1))
	params := url.Values{
		"granularity": {gran},
		"start":       {strconv.FormatInt(start.Unix(), 10)},
		"end":         {strconv.FormatInt(end.Unix(), 10)},
	}

	var resp candlesResponse
	err := c.retry.Do(ctx, c.logger, "candles", func() error {
		return c.doGet(ctx, apiPrefix+"/products/"+url.PathEscape(symbol)+"/candles", params, &resp)
	})
	if err != nil {
		return nil, err
	}

	// Rows arrive newest-first; reverse into chronological order.
	candles := make([]domain.Candle, 0, len(resp.Candles))
	for i := len(resp.Candles) - 1; i >= 0; i-- {
		row := resp.Candles[i]
		ts, err := parseFloat(row.Start)
		if err != nil {
			return nil, err
		}
		o, err := parseFloat(row.Open)
		if err != nil {
			return nil, err
		}
		h, err := parseFloat(row.High)
		if err != nil {
			return nil, err
		}
		l, err := parseFloat(row.Low)
		if err != nil {
			return nil, err
		}
		cl, err := parseFloat(row.Close)
		if err != nil {
			return nil, err
		}
		v, err := parseFloat(row.Volume)
		if err != nil {
			return nil, err
		}
		candles = append(candles, domain.Candle{
			OpenTime: time.Unix(int64(ts), 0).UTC(),
			Open:     o,
			High:     h,
			Low:      l,
			Close:    cl,
			Volume:   v,
		})
	}
	if len(candles) > count {
		candles = candles[len(candles)-count:]
	}
	return candles, nil
}

// GetPrice returns the current product price.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	var resp productResponse
	err := c.retry.Do(ctx, c.logger, "price", func() error {
		return c.doGet(ctx, apiPrefix+"/products/"+url.PathEscape(symbol), nil, &resp)
	})
	if err != nil {
		return 0, err
	}
	return parseFloat(resp.Price)
}

// PlaceMarketOrder submits a market IOC order and resolves its fill via the
// historical order endpoint. Quote-sized buys map directly onto quote_size;
// base-sized orders onto base_size.
func (c *Client) PlaceMarketOrder(ctx context.Context, req domain.OrderRequest) (domain.Fill, error) {
	var body createOrderRequest
	body.ClientOrderID = req.ClientID
	body.ProductID = req.Symbol
	body.Side = strings.ToUpper(string(req.Side))
	switch req.Unit {
	case domain.SizeUnitQuote:
		body.OrderConfiguration.MarketIOC.QuoteSize = strconv.FormatFloat(req.Size, 'f', 2, 64)
	case domain.SizeUnitBase:
		body.OrderConfiguration.MarketIOC.BaseSize = strconv.FormatFloat(req.Size, 'f', 8, 64)
	default:
		return domain.Fill{}, fmt.Errorf("coinbase: unknown size unit %q", req.Unit)
	}

	// Not retried: a transient error after submission is ambiguous and a
	// blind retry could double the position. The client_order_id gives the
	// broker-side dedupe a chance, but we still fail the cycle.
	var resp createOrderResponse
	if err := c.doPost(ctx, apiPrefix+"/orders", body, &resp); err != nil {
		return domain.Fill{}, err
	}
	if !resp.Success {
		msg := resp.ErrorResponse.Message
		if msg == "" {
			msg = resp.ErrorResponse.Error
		}
		if resp.ErrorResponse.ErrorDetails != "" {
			msg += ": " + resp.ErrorResponse.ErrorDetails
		}
		return domain.Fill{}, broker.WrapMessage(msg, fmt.Errorf("coinbase: order rejected: %s", msg))
	}
	orderID := resp.SuccessResponse.OrderID

	c.logger.InfoContext(ctx, "order placed",
		slog.String("order_id", orderID),
		slog.String("symbol", req.Symbol),
		slog.String("side", body.Side),
	)

	return c.awaitFill(ctx, orderID, req)
}

// awaitFill polls the historical order endpoint until the order reaches a
// terminal status.
func (c *Client) awaitFill(ctx context.Context, orderID string, req domain.OrderRequest) (domain.Fill, error) {
	var ord orderResponse
	for attempt := 0; attempt < orderPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return domain.Fill{}, ctx.Err()
		case <-time.After(orderSettleWait):
		}

		err := c.retry.Do(ctx, c.logger, "query_order", func() error {
			return c.doGet(ctx, apiPrefix+"/orders/historical/"+url.PathEscape(orderID), nil, &ord)
		})
		if err != nil {
			return domain.Fill{}, err
		}
		switch ord.Order.Status {
		case "FILLED":
			return c.fillFromOrder(ord, orderID, req)
		case "CANCELLED", "EXPIRED", "FAILED":
			return domain.Fill{}, &domain.BrokerError{
				Kind: domain.KindInvalidOrder,
				Err:  fmt.Errorf("coinbase: order %s %s", orderID, ord.Order.Status),
			}
		}
	}
	return domain.Fill{}, &domain.BrokerError{
		Kind: domain.KindTransient,
		Err:  fmt.Errorf("coinbase: order %s not filled after polling", orderID),
	}
}

func (c *Client) fillFromOrder(ord orderResponse, orderID string, req domain.OrderRequest) (domain.Fill, error) {
	price, err := parseFloat(ord.Order.AverageFilledPrice)
	if err != nil {
		return domain.Fill{}, err
	}
	qty, err := parseFloat(ord.Order.FilledSize)
	if err != nil {
		return domain.Fill{}, err
	}
	fee, err := parseFloat(ord.Order.TotalFees)
	if err != nil {
		return domain.Fill{}, err
	}
	return domain.Fill{
		OrderID:  orderID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: qty,
		Price:    price,
		Fee:      fee,
		Time:     time.Now().UTC(),
	}, nil
}

func (c *Client) doGet(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("coinbase: building request: %w", err)
	}
	c.sign(req, path, nil)
	return c.do(req, out)
}

func (c *Client) doPost(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("coinbase: encoding request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("coinbase: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.sign(req, path, payload)
	return c.do(req, out)
}

// sign sets the CB-ACCESS headers. The signature covers the path without
// query string, per the API's prehash rules.
func (c *Client) sign(req *http.Request, path string, body []byte) {
	ts := strconv.FormatInt(c.now().Unix(), 10)
	message := ts + req.Method + path + string(body)
	req.Header.Set("CB-ACCESS-KEY", c.apiKey)
	req.Header.Set("CB-ACCESS-SIGN", crypto.SignSHA256Hex([]byte(c.apiSecret), message))
	req.Header.Set("CB-ACCESS-TIMESTAMP", ts)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return broker.WrapTransport(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return broker.WrapTransport(err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var apiErr apiError
		msg := ""
		if json.Unmarshal(data, &apiErr) == nil {
			msg = apiErr.Message
			if msg == "" {
				msg = apiErr.Error
			}
		}
		return broker.WrapStatus(resp.StatusCode, msg,
			fmt.Errorf("coinbase: %s returned status %d: %s", req.URL.Path, resp.StatusCode, msg))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("coinbase: decoding %s response: %w", req.URL.Path, err)
	}
	return nil
}
