package quotes

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/LykkeCity/MatchingEngine-sub000/infra/kafka"
	"github.com/LykkeCity/MatchingEngine-sub000/service"
)

// Publisher forwards best-price updates from the engine's in-memory
// quote queue to Kafka. Quotes are not financial facts: they skip the
// outbox, and the engine blocks on the queue instead of dropping when
// this consumer lags.
type Publisher struct {
	quotes   <-chan service.QuoteUpdate
	producer *kafka.Producer
	log      *zap.Logger
}

func New(quotes <-chan service.QuoteUpdate, producer *kafka.Producer, log *zap.Logger) *Publisher {
	return &Publisher{
		quotes:   quotes,
		producer: producer,
		log:      log.Named("quotes"),
	}
}

func (p *Publisher) Start(ctx context.Context) {
	p.log.Info("quote publisher started")
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case q := <-p.quotes:
				p.publish(ctx, q)
			}
		}
	}()
}

func (p *Publisher) publish(ctx context.Context, q service.QuoteUpdate) {
	payload, err := json.Marshal(q)
	if err != nil {
		p.log.Error("quote marshal failed", zap.Error(err))
		return
	}
	side := "ask"
	if q.IsBuy {
		side = "bid"
	}
	key := []byte(q.AssetPairID + "/" + side)
	if err := p.producer.Send(ctx, key, payload); err != nil {
		p.log.Warn("quote publish failed",
			zap.String("assetPair", q.AssetPairID),
			zap.Error(err))
	}
}
