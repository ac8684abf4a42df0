package bitmex

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/xyths/cryptoexchange/exchange"
)

type Order struct {
	OrderID   string          `json:"orderID"`
	ClOrdID   string          `json:"clOrdID"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	OrderQty  int64           `json:"orderQty"`
	Price     decimal.Decimal `json:"price"`
	OrdStatus string          `json:"ordStatus"`
	Text      string          `json:"text"`
	Timestamp time.Time       `json:"timestamp"`
}

type newOrder struct {
	Symbol   string      `json:"symbol"`
	Quantity int64       `json:"quantity"`
	Price    json.Number `json:"price"`
	ClOrdID  string      `json:"clOrdID"`
}

// NewClOrdID returns the order id prefix followed by a random uuid in
// base64 without padding.
func (c *Client) NewClOrdID() string {
	id := uuid.New()
	return c.prefix + strings.TrimRight(base64.StdEncoding.EncodeToString(id[:]), "=\n")
}

// PlaceOrder places a limit order. A negative quantity sells.
func (c *Client) PlaceOrder(ctx context.Context, symbol string, quantity int64, price decimal.Decimal) (*Order, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	if price.IsNegative() {
		return nil, errors.New("price must be positive")
	}
	body := newOrder{
		Symbol:   symbol,
		Quantity: quantity,
		Price:    json.Number(price.String()),
		ClOrdID:  c.NewClOrdID(),
	}
	raw, err := c.Execute(ctx, &exchange.Request{Verb: exchange.POST, Path: pathOrder, Body: body})
	if err != nil {
		return nil, err
	}
	var o Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, errors.Wrap(err, "decode order")
	}
	return &o, nil
}

// OpenOrders lists the live orders that this client placed, as recognised by
// the order id prefix. An empty symbol lists every symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	cond := map[string]interface{}{"ordStatus.isTerminated": false}
	if symbol != "" {
		cond["symbol"] = symbol
	}
	filter, err := json.Marshal(cond)
	if err != nil {
		return nil, err
	}
	query := exchange.Params{}.Add("filter", string(filter)).Add("count", "500")
	raw, err := c.Execute(ctx, &exchange.Request{Verb: exchange.GET, Path: pathOrder, Query: query})
	if err != nil {
		return nil, err
	}
	var all []Order
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, errors.Wrap(err, "decode orders")
	}
	mine := make([]Order, 0, len(all))
	for _, o := range all {
		if strings.HasPrefix(o.ClOrdID, c.prefix) {
			mine = append(mine, o)
		}
	}
	return mine, nil
}

// Cancel cancels an order by its exchange id. An order the exchange no
// longer knows yields (nil, nil).
func (c *Client) Cancel(ctx context.Context, orderID string) ([]Order, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	raw, err := c.Execute(ctx, &exchange.Request{
		Verb: exchange.DELETE,
		Path: pathOrder,
		Body: map[string]string{"orderID": orderID},
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		c.Sugar.Infow("order not found", "orderID", orderID)
		return nil, nil
	}
	var orders []Order
	if err := json.Unmarshal(raw, &orders); err != nil {
		return nil, errors.Wrap(err, "decode cancelled orders")
	}
	return orders, nil
}
