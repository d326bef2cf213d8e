package kraken

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// apiResponse is the envelope every Kraken REST endpoint returns. A non-empty
// error slice means the call failed even when the HTTP status is 200.
type apiResponse struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// balanceResult maps asset code to balance. Kraken reports numbers as strings.
type balanceResult map[string]string

// ohlcCandle is one OHLC row: [time, open, high, low, close, vwap, volume, count].
type ohlcCandle []json.RawMessage

// tickerEntry is the subset of the Ticker payload we read. c is
// [last trade price, lot volume].
type tickerEntry struct {
	Close []string `json:"c"`
}

// addOrderResult is the response to AddOrder.
type addOrderResult struct {
	Descr struct {
		Order string `json:"order"`
	} `json:"descr"`
	TxIDs []string `json:"txid"`
}

// orderInfo is one entry from QueryOrders, keyed by txid in the result map.
type orderInfo struct {
	Status  string `json:"status"`
	Price   string `json:"price"`
	VolExec string `json:"vol_exec"`
	Fee     string `json:"fee"`
}

// parseFloat converts Kraken's string-encoded numbers.
func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("kraken: parsing number %q: %w", s, err)
	}
	return f, nil
}

// rawFloat converts one raw JSON element of an OHLC row, which may be a
// string or a bare number.
func rawFloat(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseFloat(s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("kraken: parsing OHLC field %s: %w", string(raw), err)
	}
	return f, nil
}
