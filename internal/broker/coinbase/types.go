package coinbase

import (
	"fmt"
	"strconv"
)

// accountsResponse is the payload from /api/v3/brokerage/accounts.
type accountsResponse struct {
	Accounts []struct {
		Currency         string `json:"currency"`
		AvailableBalance struct {
			Value    string `json:"value"`
			Currency string `json:"currency"`
		} `json:"available_balance"`
	} `json:"accounts"`
	HasNext bool   `json:"has_next"`
	Cursor  string `json:"cursor"`
}

// candlesResponse is the payload from /products/{id}/candles. Rows arrive
// newest-first with all fields string-encoded.
type candlesResponse struct {
	Candles []struct {
		Start  string `json:"start"` // unix seconds
		Low    string `json:"low"`
		High   string `json:"high"`
		Open   string `json:"open"`
		Close  string `json:"close"`
		Volume string `json:"volume"`
	} `json:"candles"`
}

// productResponse is the subset of /products/{id} we read.
type productResponse struct {
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
}

// createOrderRequest is the body for POST /orders. Exactly one of QuoteSize
// or BaseSize is set inside the market IOC configuration.
type createOrderRequest struct {
	ClientOrderID      string `json:"client_order_id"`
	ProductID          string `json:"product_id"`
	Side               string `json:"side"` // BUY or SELL
	OrderConfiguration struct {
		MarketIOC struct {
			QuoteSize string `json:"quote_size,omitempty"`
			BaseSize  string `json:"base_size,omitempty"`
		} `json:"market_market_ioc"`
	} `json:"order_configuration"`
}

// createOrderResponse is the payload from POST /orders.
type createOrderResponse struct {
	Success         bool `json:"success"`
	SuccessResponse struct {
		OrderID string `json:"order_id"`
	} `json:"success_response"`
	ErrorResponse struct {
		Error        string `json:"error"`
		Message      string `json:"message"`
		ErrorDetails string `json:"error_details"`
	} `json:"error_response"`
}

// orderResponse is the payload from /orders/historical/{id}.
type orderResponse struct {
	Order struct {
		OrderID            string `json:"order_id"`
		Status             string `json:"status"` // FILLED, CANCELLED, ...
		AverageFilledPrice string `json:"average_filled_price"`
		FilledSize         string `json:"filled_size"`
		TotalFees          string `json:"total_fees"`
	} `json:"order"`
}

// apiError is the generic error body some endpoints return.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("coinbase: parsing number %q: %w", s, err)
	}
	return f, nil
}
