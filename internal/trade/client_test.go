package trade

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-stream-lab/internal/domain"
)

const mint = "So11111111111111111111111111111111111111112"

func TestBuy(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/trade/buy", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{"amount": 1234.5, "hash": "5sig"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret")
	receipt, err := client.Buy(context.Background(), mint, decimal.RequireFromString("0.25"), domain.MevReduced)
	require.NoError(t, err)

	assert.Equal(t, "5sig", receipt.Hash)
	assert.True(t, receipt.Amount.Equal(decimal.RequireFromString("1234.5")))
	assert.Equal(t, mint, body["tokenAddress"])
	assert.Equal(t, 0.25, body["amount"], "amount is sent as a JSON number")
	assert.Equal(t, 1.0, body["mevProtection"])
}

func TestBuy_Validation(t *testing.T) {
	client := NewClient("http://127.0.0.1:0", "secret")
	ctx := context.Background()

	_, err := client.Buy(ctx, mint, decimal.Zero, domain.MevOff)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = client.Buy(ctx, mint, decimal.NewFromInt(-1), domain.MevOff)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = client.Buy(ctx, "not-a-mint", decimal.NewFromInt(1), domain.MevOff)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = client.Buy(ctx, mint, decimal.NewFromInt(1), domain.MevMode("max"))
	assert.Error(t, err)

	_, err = NewClient("http://127.0.0.1:0", "").Buy(ctx, mint, decimal.NewFromInt(1), domain.MevOff)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAPIErrorMessage(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"message", http.StatusBadRequest, `{"message":"insufficient balance","error":"other"}`, "insufficient balance"},
		{"error", http.StatusBadRequest, `{"error":"slippage exceeded"}`, "slippage exceeded"},
		{"status text", http.StatusServiceUnavailable, `<html>down</html>`, "Service Unavailable"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			_, err := NewClient(server.URL, "secret").Buy(context.Background(), mint, decimal.NewFromInt(1), domain.MevOff)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tc.status, apiErr.Status)
			assert.Equal(t, tc.want, apiErr.Message)
		})
	}
}

func TestSellPercentage(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/trade/sell_percentage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{"message":"ok"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret")
	receipt, err := client.SellPercentage(context.Background(), mint, decimal.NewFromInt(50), domain.MevOn)
	require.NoError(t, err)
	assert.Equal(t, "ok", receipt.Message)
	assert.Empty(t, receipt.Hash)
	assert.Equal(t, 50.0, body["percentageToSell"])
	assert.Equal(t, 1.0, body["mevProtection"])

	_, err = client.SellPercentage(context.Background(), mint, decimal.NewFromInt(101), domain.MevOff)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}
