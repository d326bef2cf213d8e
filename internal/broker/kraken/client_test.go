package kraken

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cyclebot/internal/broker"
	"github.com/alanyoungcy/cyclebot/internal/domain"
)

var testSecret = base64.StdEncoding.EncodeToString([]byte("super-secret-hmac-key"))

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := New("test-key", testSecret, logger,
		WithBaseURL(srv.URL),
		WithRetryPolicy(broker.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}),
	)
	require.NoError(t, err)
	return c
}

func TestGetBalanceSumsUSDAssets(t *testing.T) {
	var gotNonce string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/0/private/Balance", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("API-Key"))
		assert.NotEmpty(t, r.Header.Get("API-Sign"))

		body, _ := io.ReadAll(r.Body)
		form, err := url.ParseQuery(string(body))
		require.NoError(t, err)
		gotNonce = form.Get("nonce")

		w.Write([]byte(`{"error":[],"result":{"ZUSD":"120.50","USD":"9.50","XXBT":"0.5"}}`))
	}))

	bal, err := c.GetBalance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 130.0, bal, 1e-9)
	assert.NotEmpty(t, gotNonce, "private calls must carry a nonce")
}

func TestNoncesIncreaseAcrossCalls(t *testing.T) {
	var nonces []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))
		nonces = append(nonces, form.Get("nonce"))
		w.Write([]byte(`{"error":[],"result":{}}`))
	}))

	for i := 0; i < 3; i++ {
		_, err := c.GetBalance(context.Background())
		require.NoError(t, err)
	}

	require.Len(t, nonces, 3)
	assert.Less(t, nonces[0], nonces[1])
	assert.Less(t, nonces[1], nonces[2])
}

func TestGetCandlesParsesRows(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/0/public/OHLC", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("interval"))
		w.Write([]byte(`{"error":[],"result":{"XXBTZUSD":[
			[1700000000,"100.0","110.0","95.0","105.0","102.0","12.5",42],
			[1700000300,"105.0","112.0","104.0","111.0","108.0","8.0",30]
		],"last":1700000300}}`))
	}))

	candles, err := c.GetCandles(context.Background(), "XBTUSD", 5*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 100.0, candles[0].Open)
	assert.Equal(t, 111.0, candles[1].Close)
	assert.Equal(t, 12.5, candles[0].Volume)
	assert.True(t, candles[0].OpenTime.Before(candles[1].OpenTime))
}

func TestAPIErrorClassification(t *testing.T) {
	cases := []struct {
		name string
		body string
		want domain.ErrorKind
	}{
		{"unknown pair", `{"error":["EQuery:Unknown asset pair"]}`, domain.KindSymbolUnavailable},
		{"bad key", `{"error":["EAPI:Invalid key"]}`, domain.KindAuthFailure},
		{"rate limited", `{"error":["EAPI:Rate limit exceeded"]}`, domain.KindTransient},
		{"tiny order", `{"error":["EOrder:Order minimum not met"]}`, domain.KindInvalidOrder},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			}))
			_, err := c.GetBalance(context.Background())
			require.Error(t, err)
			assert.Equal(t, tc.want, domain.KindOf(err))
		})
	}
}

func TestPlaceMarketOrderQuoteSizingAndFill(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/0/public/Ticker":
			w.Write([]byte(`{"error":[],"result":{"XXBTZUSD":{"c":["200.0","0.1"]}}}`))
		case "/0/private/AddOrder":
			body, _ := io.ReadAll(r.Body)
			form, _ := url.ParseQuery(string(body))
			// 50 USD at 200 USD/unit is 0.25 base units.
			assert.Equal(t, "0.25000000", form.Get("volume"))
			assert.Equal(t, "buy", form.Get("type"))
			assert.Equal(t, "market", form.Get("ordertype"))
			w.Write([]byte(`{"error":[],"result":{"txid":["OABC-123"]}}`))
		case "/0/private/QueryOrders":
			w.Write([]byte(`{"error":[],"result":{"OABC-123":{"status":"closed","price":"201.0","vol_exec":"0.2488","fee":"0.10"}}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	fill, err := c.PlaceMarketOrder(context.Background(), domain.OrderRequest{
		ClientID:      "11111111-2222-3333-4444-555555555555",
		Symbol:        "XBTUSD",
		Side:          domain.OrderSideBuy,
		Size:          50,
		Unit:          domain.SizeUnitQuote,
		ExpectedPrice: 200,
	})
	require.NoError(t, err)
	assert.Equal(t, "OABC-123", fill.OrderID)
	assert.Equal(t, 201.0, fill.Price)
	assert.Equal(t, 0.2488, fill.Quantity)
}
