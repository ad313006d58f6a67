package service

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/LykkeCity/MatchingEngine-sub000/domain/orderbook"
	"github.com/LykkeCity/MatchingEngine-sub000/domain/wallet"
	"github.com/LykkeCity/MatchingEngine-sub000/infra/outbox"
)

// Outbound event kinds. Trades, balance updates and order reports are
// financial facts: they go through the durable outbox and are drained
// by the broadcaster. Quote updates go over an in-memory queue to the
// quote publisher; the send blocks when the consumer lags, which is the
// intended backpressure.
const (
	KindTrade         = "trade"
	KindBalanceUpdate = "balance"
	KindOrderReport   = "order"
)

type QuoteUpdate struct {
	AssetPairID string          `json:"assetPairId"`
	IsBuy       bool            `json:"isBuy"`
	Price       decimal.Decimal `json:"price"`
	Timestamp   time.Time       `json:"timestamp"`
}

type tradeEvent struct {
	ID              string    `json:"id"`
	ClientID        string    `json:"clientId"`
	AssetID         string    `json:"assetId"`
	Volume          string    `json:"volume"`
	Price           string    `json:"price"`
	OrderID         uint64    `json:"orderId"`
	OppositeOrderID uint64    `json:"oppositeOrderId"`
	Timestamp       time.Time `json:"timestamp"`
}

type orderReport struct {
	ID              uint64    `json:"id"`
	ExternalID      string    `json:"externalId"`
	ClientID        string    `json:"clientId"`
	AssetPairID     string    `json:"assetPairId"`
	Price           string    `json:"price"`
	Volume          string    `json:"volume"`
	RemainingVolume string    `json:"remainingVolume"`
	Status          string    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
}

// EventBus stages committed events for the publisher jobs. It also
// implements wallet.EventSink for ledger notifications.
type EventBus struct {
	box    *outbox.Outbox
	quotes chan QuoteUpdate
	log    *zap.Logger
}

func NewEventBus(box *outbox.Outbox, quoteBuffer int, log *zap.Logger) *EventBus {
	return &EventBus{
		box:    box,
		quotes: make(chan QuoteUpdate, quoteBuffer),
		log:    log.Named("events"),
	}
}

func (b *EventBus) append(kind string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.log.Error("event marshal failed", zap.String("kind", kind), zap.Error(err))
		return
	}
	if b.box == nil {
		return
	}
	if _, err := b.box.Append(kind, payload); err != nil {
		b.log.Error("outbox append failed", zap.String("kind", kind), zap.Error(err))
	}
}

// BalanceUpdated implements wallet.EventSink.
func (b *EventBus) BalanceUpdated(u wallet.BalanceUpdate) {
	b.append(KindBalanceUpdate, u)
}

func (b *EventBus) TradesCommitted(trades []wallet.Trade) {
	for _, t := range trades {
		b.append(KindTrade, tradeEvent{
			ID:              t.ID.String(),
			ClientID:        t.ClientID,
			AssetID:         t.AssetID,
			Volume:          t.Volume.String(),
			Price:           t.Price.String(),
			OrderID:         t.OrderID,
			OppositeOrderID: t.OppositeOrderID,
			Timestamp:       t.Timestamp,
		})
	}
}

func (b *EventBus) OrderChanged(o *orderbook.Order, ts time.Time) {
	b.append(KindOrderReport, orderReport{
		ID:              o.ID,
		ExternalID:      o.ExternalID,
		ClientID:        o.ClientID,
		AssetPairID:     o.AssetPairID,
		Price:           o.Price.String(),
		Volume:          o.Volume.String(),
		RemainingVolume: o.RemainingVolume.String(),
		Status:          o.Status.String(),
		Timestamp:       ts,
	})
}

// MarketOrderExecuted reports a market order's outcome. Market orders
// never rest, so one report per order is the whole story.
func (b *EventBus) MarketOrderExecuted(o *orderbook.MarketOrder, ts time.Time) {
	b.append(KindOrderReport, orderReport{
		ID:          o.ID,
		ExternalID:  o.ExternalID,
		ClientID:    o.ClientID,
		AssetPairID: o.AssetPairID,
		Price:       o.Price.String(),
		Volume:      o.Volume.String(),
		Status:      o.Status.String(),
		Timestamp:   ts,
	})
}

// PublishQuote blocks when the quote queue is full rather than drop.
func (b *EventBus) PublishQuote(q QuoteUpdate) {
	b.quotes <- q
}

func (b *EventBus) Quotes() <-chan QuoteUpdate {
	return b.quotes
}
