// Package journal records the orders placed and cancelled through the
// clients, to mongo and to a redis channel.
package journal

import (
	"context"
	"time"

	"github.com/xyths/cryptoexchange/exchange/bitmex"
	"go.uber.org/zap"
)

type Action string

const (
	ActionPlace  Action = "place"
	ActionCancel Action = "cancel"
)

// Event is one order action. Prices are decimal strings.
type Event struct {
	Exchange string    `bson:"exchange" json:"exchange"`
	Label    string    `bson:"label" json:"label"`
	Action   Action    `bson:"action" json:"action"`
	OrderID  string    `bson:"orderId" json:"orderId"`
	ClOrdID  string    `bson:"clOrdId" json:"clOrdId"`
	Symbol   string    `bson:"symbol" json:"symbol"`
	Side     string    `bson:"side" json:"side"`
	Quantity int64     `bson:"quantity" json:"quantity"`
	Price    string    `bson:"price" json:"price"`
	Status   string    `bson:"status" json:"status"`
	Time     time.Time `bson:"time" json:"time"`
}

func OrderEvent(label string, action Action, o bitmex.Order, now time.Time) Event {
	return Event{
		Exchange: "bitmex",
		Label:    label,
		Action:   action,
		OrderID:  o.OrderID,
		ClOrdID:  o.ClOrdID,
		Symbol:   o.Symbol,
		Side:     o.Side,
		Quantity: o.OrderQty,
		Price:    o.Price.String(),
		Status:   o.OrdStatus,
		Time:     now,
	}
}

type Recorder interface {
	Record(ctx context.Context, e Event) error
}

type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

// Multi records to every recorder. Failures are logged and the first one is
// returned after all recorders ran.
type Multi struct {
	Sugar     *zap.SugaredLogger
	Recorders []Recorder
}

func (m Multi) Record(ctx context.Context, e Event) error {
	var first error
	for _, r := range m.Recorders {
		if err := r.Record(ctx, e); err != nil {
			if m.Sugar != nil {
				m.Sugar.Errorw("record order event", "action", e.Action, "orderId", e.OrderID, "error", err)
			}
			if first == nil {
				first = err
			}
		}
	}
	return first
}
