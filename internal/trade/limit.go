package trade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"token-stream-lab/internal/observability"
	"token-stream-lab/internal/solana"
)

// ErrInvalidLimitOrder is returned for a limit order the execution API would reject.
var ErrInvalidLimitOrder = errors.New("invalid limit order")

// OrderSide is the side of a limit order.
type OrderSide string

const (
	SideBuy  OrderSide = "Buy"
	SideSell OrderSide = "Sell"
)

// TriggerDirection says whether an order fires when market cap rises above or
// falls below its target.
type TriggerDirection string

const (
	TriggerAbove TriggerDirection = "Above"
	TriggerBelow TriggerDirection = "Below"
)

// OrderStatus is the lifecycle state of a limit order.
type OrderStatus string

const (
	StatusActive    OrderStatus = "Active"
	StatusCancelled OrderStatus = "Cancelled"
	StatusCompleted OrderStatus = "Completed"
)

// LimitOrderRequest creates a limit order. Amount is SOL for buys and tokens for sells.
type LimitOrderRequest struct {
	TokenAddress string           `json:"tokenAddress"`
	Amount       decimal.Decimal  `json:"amount"`
	Type         OrderSide        `json:"type"`
	Direction    TriggerDirection `json:"direction"`
	TargetMC     decimal.Decimal  `json:"targetMC"`
}

// Validate checks r before it is sent.
func (r LimitOrderRequest) Validate() error {
	if !solana.IsAddress(r.TokenAddress) {
		return fmt.Errorf("%w: %q", ErrInvalidToken, r.TokenAddress)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, r.Amount)
	}
	if r.Type != SideBuy && r.Type != SideSell {
		return fmt.Errorf("%w: type %q", ErrInvalidLimitOrder, r.Type)
	}
	if r.Direction != TriggerAbove && r.Direction != TriggerBelow {
		return fmt.Errorf("%w: direction %q", ErrInvalidLimitOrder, r.Direction)
	}
	if !r.TargetMC.IsPositive() {
		return fmt.Errorf("%w: target market cap %s", ErrInvalidLimitOrder, r.TargetMC)
	}
	return nil
}

// LimitOrder is an order as reported by the execution API. CreatedAt is only
// present when listing.
type LimitOrder struct {
	ID           string           `json:"id"`
	TokenAddress string           `json:"tokenAddress,omitempty"`
	Type         OrderSide        `json:"type,omitempty"`
	Direction    TriggerDirection `json:"direction,omitempty"`
	TargetMC     decimal.Decimal  `json:"targetMC"`
	SOLAmount    decimal.Decimal  `json:"solAmount"`
	TokenAmount  decimal.Decimal  `json:"tokenAmount"`
	Status       OrderStatus      `json:"status"`
	CreatedAt    string           `json:"createdAt,omitempty"`
}

// LimitOrderReceipt is the result of creating or updating a limit order.
type LimitOrderReceipt struct {
	Message string     `json:"message"`
	Order   LimitOrder `json:"order"`
}

type createLimitOrderRequest struct {
	TokenAddress string           `json:"tokenAddress"`
	Amount       json.Number      `json:"amount"`
	Type         OrderSide        `json:"type"`
	Direction    TriggerDirection `json:"direction"`
	TargetMC     json.Number      `json:"targetMC"`
}

type updateLimitOrderRequest struct {
	OrderID string      `json:"orderId"`
	Status  OrderStatus `json:"status"`
}

// CreateLimitOrder places r.
func (c *Client) CreateLimitOrder(ctx context.Context, r LimitOrderRequest) (LimitOrderReceipt, error) {
	if err := r.Validate(); err != nil {
		return LimitOrderReceipt{}, err
	}
	req := createLimitOrderRequest{
		TokenAddress: r.TokenAddress,
		Amount:       json.Number(r.Amount.String()),
		Type:         r.Type,
		Direction:    r.Direction,
		TargetMC:     json.Number(r.TargetMC.String()),
	}
	var out LimitOrderReceipt
	err := c.post(ctx, "/api/limit/create_order", req, &out)
	observability.RecordOrder("limit_create", err)
	if err != nil {
		return LimitOrderReceipt{}, err
	}
	c.logger.Info("limit order created",
		zap.String("token", r.TokenAddress),
		zap.String("type", string(r.Type)),
		zap.String("direction", string(r.Direction)),
		zap.Stringer("target_mc", r.TargetMC),
		zap.String("id", out.Order.ID),
	)
	return out, nil
}

// MyLimitOrders lists the orders of the authenticated user.
func (c *Client) MyLimitOrders(ctx context.Context) ([]LimitOrder, error) {
	var out struct {
		Orders []LimitOrder `json:"orders"`
	}
	if err := c.get(ctx, "/api/limit/my_orders", &out); err != nil {
		return nil, err
	}
	if out.Orders == nil {
		out.Orders = []LimitOrder{}
	}
	return out.Orders, nil
}

// UpdateLimitOrder moves an order to a final status. Only Cancelled and
// Completed can be set.
func (c *Client) UpdateLimitOrder(ctx context.Context, orderID string, status OrderStatus) (LimitOrderReceipt, error) {
	if orderID == "" {
		return LimitOrderReceipt{}, fmt.Errorf("%w: order id is required", ErrInvalidLimitOrder)
	}
	if status != StatusCancelled && status != StatusCompleted {
		return LimitOrderReceipt{}, fmt.Errorf("%w: status %q", ErrInvalidLimitOrder, status)
	}
	var out LimitOrderReceipt
	err := c.post(ctx, "/api/limit/update_order", updateLimitOrderRequest{OrderID: orderID, Status: status}, &out)
	observability.RecordOrder("limit_update", err)
	if err != nil {
		return LimitOrderReceipt{}, err
	}
	c.logger.Info("limit order updated", zap.String("id", orderID), zap.String("status", string(status)))
	return out, nil
}
