// Package trade submits orders to the execution API.
package trade

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"token-stream-lab/internal/domain"
	"token-stream-lab/internal/observability"
	"token-stream-lab/internal/solana"
)

var (
	// ErrInvalidAmount is returned for non-positive amounts or percentages over 100.
	ErrInvalidAmount = errors.New("invalid order amount")
	// ErrInvalidToken is returned when the token address is not a public key.
	ErrInvalidToken = errors.New("invalid token address")
	// ErrUnauthorized is returned when no bearer token is configured.
	ErrUnauthorized = errors.New("trade client has no auth token")
)

// APIError is a non-2xx response from the execution API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("trade api error %d: %s", e.Status, e.Message)
}

// Receipt is the result of a buy.
type Receipt struct {
	Amount decimal.Decimal `json:"amount"`
	Hash   string          `json:"hash"`
}

// SellReceipt is the result of a percentage sell. Both fields are optional.
type SellReceipt struct {
	Message string `json:"message,omitempty"`
	Hash    string `json:"hash,omitempty"`
}

// Client calls the order execution API.
type Client struct {
	base   string
	token  string
	http   *http.Client
	logger *zap.Logger
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client for the API at base authenticating with token.
func NewClient(base, token string, opts ...Option) *Client {
	c := &Client{
		base:   strings.TrimRight(base, "/"),
		token:  token,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type buyRequest struct {
	TokenAddress  string      `json:"tokenAddress"`
	Amount        json.Number `json:"amount"`
	MevProtection int         `json:"mevProtection"`
}

type sellPercentageRequest struct {
	TokenAddress     string      `json:"tokenAddress"`
	PercentageToSell json.Number `json:"percentageToSell"`
	MevProtection    int         `json:"mevProtection"`
}

// Buy spends amount SOL on tokenAddress.
func (c *Client) Buy(ctx context.Context, tokenAddress string, amount decimal.Decimal, mev domain.MevMode) (Receipt, error) {
	if err := validate(tokenAddress, mev); err != nil {
		return Receipt{}, err
	}
	if !amount.IsPositive() {
		return Receipt{}, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	req := buyRequest{
		TokenAddress:  tokenAddress,
		Amount:        json.Number(amount.String()),
		MevProtection: mev.MevProtection(),
	}
	var out Receipt
	err := c.post(ctx, "/api/trade/buy", req, &out)
	observability.RecordOrder("buy", err)
	if err != nil {
		return Receipt{}, err
	}
	c.logger.Info("buy submitted",
		zap.String("token", tokenAddress),
		zap.Stringer("amount", amount),
		zap.String("hash", out.Hash),
	)
	return out, nil
}

// SellPercentage sells percentage (0, 100] of the held position.
func (c *Client) SellPercentage(ctx context.Context, tokenAddress string, percentage decimal.Decimal, mev domain.MevMode) (SellReceipt, error) {
	if err := validate(tokenAddress, mev); err != nil {
		return SellReceipt{}, err
	}
	if !percentage.IsPositive() || percentage.GreaterThan(decimal.NewFromInt(100)) {
		return SellReceipt{}, fmt.Errorf("%w: percentage %s", ErrInvalidAmount, percentage)
	}

	req := sellPercentageRequest{
		TokenAddress:     tokenAddress,
		PercentageToSell: json.Number(percentage.String()),
		MevProtection:    mev.MevProtection(),
	}
	var out SellReceipt
	err := c.post(ctx, "/api/trade/sell_percentage", req, &out)
	observability.RecordOrder("sell", err)
	if err != nil {
		return SellReceipt{}, err
	}
	c.logger.Info("sell submitted",
		zap.String("token", tokenAddress),
		zap.Stringer("percentage", percentage),
		zap.String("hash", out.Hash),
	)
	return out, nil
}

func validate(tokenAddress string, mev domain.MevMode) error {
	if !solana.IsAddress(tokenAddress) {
		return fmt.Errorf("%w: %q", ErrInvalidToken, tokenAddress)
	}
	if !mev.IsValid() {
		return fmt.Errorf("unknown mev mode %q", mev)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// do sends an authenticated request. A nil body sends none.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.token == "" {
		return ErrUnauthorized
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp.StatusCode, data)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// newAPIError takes the message from "message", then "error", then the status text.
func newAPIError(status int, body []byte) *APIError {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)

	msg := payload.Message
	if msg == "" {
		msg = payload.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{Status: status, Message: msg}
}
