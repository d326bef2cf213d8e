// Package kraken implements the broker adapter for the Kraken spot REST API.
//
// Private endpoints are signed per Kraken's scheme: API-Sign is
// HMAC-SHA512(path + SHA256(nonce + POST data)) keyed with the
// base64-decoded API secret. Every private call carries a strictly
// increasing nonce from a per-connection counter.
package kraken

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

	"github.com/alanyoungcy/cyclebot/internal/broker"
	"github.com/alanyoungcy/cyclebot/internal/crypto"
	"github.com/alanyoungcy/cyclebot/internal/domain"
)

const (
	defaultBaseURL = "https://api.kraken.com"
	defaultTimeout = 15 * time.Second

	// orderSettleWait is how long to pause before querying an order's fill;
	// market orders settle near-instantly but the read endpoint lags.
	orderSettleWait = 500 * time.Millisecond
	// orderPollAttempts bounds how many times we re-query a not-yet-closed
	// order before giving up.
	orderPollAttempts = 5
)

// Client talks to the Kraken REST API for one account.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	secret     []byte // base64-decoded API secret
	nonce      *broker.NonceCounter
	retry      broker.RetryPolicy
	logger     *slog.Logger
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

// New builds a Kraken client. The secret must be the base64 string Kraken
// issues; it is decoded here once.
func New(apiKey, apiSecret string, logger *slog.Logger, opts ...Option) (*Client, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, errors.New("kraken: api key and secret are required")
	}
	raw, err := crypto.DecodeBase64Secret(apiSecret)
	if err != nil {
		return nil, fmt.Errorf("kraken: %w", err)
	}

	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		secret:     raw,
		nonce:      broker.NewNonceCounter(),
		retry:      broker.DefaultRetryPolicy(),
		logger:     logger.With(slog.String("component", "kraken")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name implements broker.Broker.
func (c *Client) Name() string { return "kraken" }

// Connect reseeds the nonce counter and verifies the credentials with a
// balance call.
func (c *Client) Connect(ctx context.Context) error {
	c.nonce.Reseed()
	if _, err := c.GetBalance(ctx); err != nil {
		return fmt.Errorf("kraken: connect: %w", err)
	}
	c.logger.InfoContext(ctx, "connected", slog.String("key", crypto.RedactSecret(c.apiKey)))
	return nil
}

// GetBalance returns the sum of USD-denominated balances. Kraken splits cash
// across ZUSD and USD depending on account vintage.
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	var balances balanceResult
	err := c.retry.Do(ctx, c.logger, "balance", func() error {
		return c.doPrivate(ctx, "/0/private/Balance", url.Values{}, &balances)
	})
	if err != nil {
		return 0, err
	}

	total := 0.0
	for asset, v := range balances {
		if asset != "ZUSD" && asset != "USD" && asset != "USDT" {
			continue
		}
		f, err := parseFloat(v)
		if err != nil {
			return 0, err
		}
		total += f
	}
	return total, nil
}

// GetCandles fetches OHLC bars, oldest-first, trimmed to count.
func (c *Client) GetCandles(ctx context.Context, symbol string, interval time.Duration, count int) ([]domain.Candle, error) {
	minutes := int(interval / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	params := url.Values{
		"pair":     {symbol},
		"interval": {strconv.Itoa(minutes)},
	}

	var raw map[string]json.RawMessage
	err := c.retry.Do(ctx, c.logger, "candles", func() error {
		return c.doPublic(ctx, "/0/public/OHLC", params, &raw)
	})
	if err != nil {
		return nil, err
	}

	// The result map holds the candle array under the canonical pair name,
	// which may not match the requested alias, plus a "last" cursor.
	var rows []ohlcCandle
	for key, msg := range raw {
		if key == "last" {
			continue
		}
		if err := json.Unmarshal(msg, &rows); err != nil {
			return nil, fmt.Errorf("kraken: parsing OHLC for %s: %w", symbol, err)
		}
		break
	}
	if rows == nil {
		return nil, &domain.BrokerError{
			Kind: domain.KindSymbolUnavailable,
			Err:  fmt.Errorf("kraken: no OHLC data for %s", symbol),
		}
	}

	candles := make([]domain.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		ts, err := rawFloat(row[0])
		if err != nil {
			return nil, err
		}
		var vals [5]float64
		for i, idx := range []int{1, 2, 3, 4, 6} { // open, high, low, close, volume
			v, err := rawFloat(row[idx])
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		candles = append(candles, domain.Candle{
			OpenTime: time.Unix(int64(ts), 0).UTC(),
			Open:     vals[0],
			High:     vals[1],
			Low:      vals[2],
			Close:    vals[3],
			Volume:   vals[4],
		})
	}
	if count > 0 && len(candles) > count {
		candles = candles[len(candles)-count:]
	}
	return candles, nil
}

// GetPrice returns the last trade price from the Ticker endpoint.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	var raw map[string]tickerEntry
	err := c.retry.Do(ctx, c.logger, "price", func() error {
		return c.doPublic(ctx, "/0/public/Ticker", url.Values{"pair": {symbol}}, &raw)
	})
	if err != nil {
		return 0, err
	}
	for _, entry := range raw {
		if len(entry.Close) == 0 {
			continue
		}
		return parseFloat(entry.Close[0])
	}
	return 0, &domain.BrokerError{
		Kind: domain.KindSymbolUnavailable,
		Err:  fmt.Errorf("kraken: no ticker data for %s", symbol),
	}
}

// PlaceMarketOrder submits a market order via AddOrder and resolves the fill
// through QueryOrders. Kraken sizes all orders in base volume, so
// quote-denominated buys are converted using the current price.
func (c *Client) PlaceMarketOrder(ctx context.Context, req domain.OrderRequest) (domain.Fill, error) {
	volume := req.Size
	if req.Unit == domain.SizeUnitQuote {
		price, err := c.GetPrice(ctx, req.Symbol)
		if err != nil {
			return domain.Fill{}, fmt.Errorf("kraken: pricing quote-sized order: %w", err)
		}
		if price <= 0 {
			return domain.Fill{}, &domain.BrokerError{
				Kind: domain.KindInvalidOrder,
				Err:  fmt.Errorf("kraken: non-positive price %.8f for %s", price, req.Symbol),
			}
		}
		volume = req.Size / price
	}

	params := url.Values{
		"pair":      {req.Symbol},
		"type":      {string(req.Side)},
		"ordertype": {"market"},
		"volume":    {strconv.FormatFloat(volume, 'f', 8, 64)},
	}
	if req.ClientID != "" {
		params.Set("userref", userRef(req.ClientID))
	}

	// Order placement itself is never retried. A transient failure here is
	// ambiguous (the order may have gone through) and retrying could double
	// the position.
	var placed addOrderResult
	if err := c.doPrivate(ctx, "/0/private/AddOrder", params, &placed); err != nil {
		return domain.Fill{}, err
	}
	if len(placed.TxIDs) == 0 {
		return domain.Fill{}, &domain.BrokerError{
			Kind: domain.KindTransient,
			Err:  errors.New("kraken: AddOrder returned no txid"),
		}
	}
	txid := placed.TxIDs[0]

	c.logger.InfoContext(ctx, "order placed",
		slog.String("txid", txid),
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.Float64("volume", volume),
	)

	return c.awaitFill(ctx, txid, req)
}

// awaitFill polls QueryOrders until the order closes, then maps it to a Fill.
func (c *Client) awaitFill(ctx context.Context, txid string, req domain.OrderRequest) (domain.Fill, error) {
	var info orderInfo
	for attempt := 0; attempt < orderPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return domain.Fill{}, ctx.Err()
		case <-time.After(orderSettleWait):
		}

		var orders map[string]orderInfo
		err := c.retry.Do(ctx, c.logger, "query_order", func() error {
			return c.doPrivate(ctx, "/0/private/QueryOrders", url.Values{"txid": {txid}}, &orders)
		})
		if err != nil {
			return domain.Fill{}, err
		}
		var ok bool
		info, ok = orders[txid]
		if ok && info.Status == "closed" {
			break
		}
		if ok && (info.Status == "canceled" || info.Status == "expired") {
			return domain.Fill{}, &domain.BrokerError{
				Kind: domain.KindInvalidOrder,
				Err:  fmt.Errorf("kraken: order %s %s", txid, info.Status),
			}
		}
	}
	if info.Status != "closed" {
		return domain.Fill{}, &domain.BrokerError{
			Kind: domain.KindTransient,
			Err:  fmt.Errorf("kraken: order %s not closed after polling", txid),
		}
	}

	price, err := parseFloat(info.Price)
	if err != nil {
		return domain.Fill{}, err
	}
	qty, err := parseFloat(info.VolExec)
	if err != nil {
		return domain.Fill{}, err
	}
	fee, err := parseFloat(info.Fee)
	if err != nil {
		return domain.Fill{}, err
	}

	return domain.Fill{
		OrderID:  txid,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: qty,
		Price:    price,
		Fee:      fee,
		Time:     time.Now().UTC(),
	}, nil
}

// doPublic issues an unauthenticated GET and decodes the result payload.
func (c *Client) doPublic(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("kraken: building request: %w", err)
	}
	return c.do(req, out)
}

// doPrivate issues a signed POST. The nonce is appended to the form body and
// the signature covers path + SHA256(nonce + body).
func (c *Client) doPrivate(ctx context.Context, path string, params url.Values, out any) error {
	nonce, err := c.nonce.Next()
	if err != nil {
		return &domain.BrokerError{Kind: domain.KindAuthFailure, Err: err}
	}
	params.Set("nonce", strconv.FormatInt(nonce, 10))
	body := params.Encode()

	message := append([]byte(path), crypto.DigestSHA256(strconv.FormatInt(nonce, 10)+body)...)
	sig := crypto.SignSHA512Base64(c.secret, message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("kraken: building request: %w", err)
	}
	req.Header.Set("API-Key", c.apiKey)
	req.Header.Set("API-Sign", sig)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(req, out)
}

// do executes the request and unwraps Kraken's error-array envelope.
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

	var envelope apiResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return broker.WrapStatus(resp.StatusCode, "",
			fmt.Errorf("kraken: %s returned status %d with unparseable body", req.URL.Path, resp.StatusCode))
	}
	if len(envelope.Error) > 0 {
		msg := strings.Join(envelope.Error, "; ")
		return broker.WrapMessage(msg, fmt.Errorf("kraken: %s: %s", req.URL.Path, msg))
	}
	if resp.StatusCode != http.StatusOK {
		return broker.WrapStatus(resp.StatusCode, "",
			fmt.Errorf("kraken: %s returned status %d", req.URL.Path, resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("kraken: decoding %s result: %w", req.URL.Path, err)
	}
	return nil
}

// userRef derives a numeric userref from a UUID client ID; Kraken only
// accepts signed 32-bit integers there.
func userRef(clientID string) string {
	var h uint32
	for i := 0; i < len(clientID); i++ {
		h = h*31 + uint32(clientID[i])
	}
	return strconv.FormatInt(int64(h&0x7fffffff), 10)
}
