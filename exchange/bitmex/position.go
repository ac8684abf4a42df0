package bitmex

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/xyths/cryptoexchange/exchange"
)

type Position struct {
	Account          int64           `json:"account"`
	Symbol           string          `json:"symbol"`
	Currency         string          `json:"currency"`
	CurrentQty       int64           `json:"currentQty"`
	AvgEntryPrice    decimal.Decimal `json:"avgEntryPrice"`
	MarkPrice        decimal.Decimal `json:"markPrice"`
	LiquidationPrice decimal.Decimal `json:"liquidationPrice"`
	UnrealisedPnl    int64           `json:"unrealisedPnl"`
	RealisedPnl      int64           `json:"realisedPnl"`
	IsOpen           bool            `json:"isOpen"`
	Timestamp        time.Time       `json:"timestamp"`
}

func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	raw, err := c.Execute(ctx, &exchange.Request{Verb: exchange.GET, Path: pathPosition})
	if err != nil {
		return nil, err
	}
	var positions []Position
	if err := json.Unmarshal(raw, &positions); err != nil {
		return nil, errors.Wrap(err, "decode positions")
	}
	return positions, nil
}
