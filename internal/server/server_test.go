package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cyclebot/internal/domain"
)

type fakeProvider struct {
	statuses  []domain.AccountStatus
	positions []domain.Position
}

func (f *fakeProvider) Statuses() []domain.AccountStatus { return f.statuses }
func (f *fakeProvider) Positions() []domain.Position     { return f.positions }

type fakeDust struct {
	account string
	symbol  string
	err     error
}

func (f *fakeDust) ClearDust(_ context.Context, account, symbol string) error {
	if f.err != nil {
		return f.err
	}
	f.account = account
	f.symbol = symbol
	return nil
}

func newTestServer(t *testing.T, apiKey string, dust DustAdmin) *httptest.Server {
	t.Helper()
	provider := &fakeProvider{
		statuses: []domain.AccountStatus{
			{Account: "alpha", Role: domain.RoleMaster, State: domain.CircuitOK, Balance: 1234.5},
		},
		positions: []domain.Position{
			{Account: "alpha", Symbol: "BTC-USD", Quantity: 0.25, EntryPrice: 40000},
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(Config{Port: 0, APIKey: apiKey}, provider, dust, nil, logger)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, "", nil)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t, "", nil)

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Accounts []domain.AccountStatus `json:"accounts"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Accounts, 1)
	assert.Equal(t, "alpha", body.Accounts[0].Account)
	assert.Equal(t, domain.CircuitOK, body.Accounts[0].State)
}

func TestPositionsEndpoint(t *testing.T) {
	ts := newTestServer(t, "", nil)

	resp, err := http.Get(ts.URL + "/positions")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Positions []domain.Position `json:"positions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Positions, 1)
	assert.Equal(t, "BTC-USD", body.Positions[0].Symbol)
}

func TestClearDustRequiresKey(t *testing.T) {
	dust := &fakeDust{}
	ts := newTestServer(t, "sekrit", dust)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/accounts/alpha/dust/SHIB-USD", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, dust.account)
}

func TestClearDustWithBearerToken(t *testing.T) {
	dust := &fakeDust{}
	ts := newTestServer(t, "sekrit", dust)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/accounts/alpha/dust/SHIB-USD", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alpha", dust.account)
	assert.Equal(t, "SHIB-USD", dust.symbol)
}

func TestClearDustWithAPIKeyHeader(t *testing.T) {
	dust := &fakeDust{}
	ts := newTestServer(t, "sekrit", dust)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/accounts/alpha/dust/SHIB-USD", nil)
	req.Header.Set("X-API-Key", "sekrit")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClearDustUnknownEntry(t *testing.T) {
	dust := &fakeDust{err: fmt.Errorf("risk: no dust entry for SHIB-USD on alpha: %w", domain.ErrNotFound)}
	ts := newTestServer(t, "", dust)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/accounts/alpha/dust/SHIB-USD", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClearDustFailure(t *testing.T) {
	dust := &fakeDust{err: errors.New("redis down")}
	ts := newTestServer(t, "", dust)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/accounts/alpha/dust/SHIB-USD", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
