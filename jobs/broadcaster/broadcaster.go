package broadcaster

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/LykkeCity/MatchingEngine-sub000/infra/outbox"
)

// Broadcaster drains the durable outbox into Kafka. Records move
// NEW -> SENT -> ACKED; a crash between SENT and ACKED replays the
// record on restart, so downstream consumers must tolerate duplicates.
type Broadcaster struct {
	box      *outbox.Outbox
	producer sarama.SyncProducer
	topic    string
	period   time.Duration
	log      *zap.Logger
}

func New(
	box *outbox.Outbox,
	brokers []string,
	topic string,
	period time.Duration,
	log *zap.Logger,
) (*Broadcaster, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &Broadcaster{
		box:      box,
		producer: producer,
		topic:    topic,
		period:   period,
		log:      log.Named("broadcaster"),
	}, nil
}

func (b *Broadcaster) Start(ctx context.Context) {
	b.log.Info("broadcaster started", zap.String("topic", b.topic))
	go func() {
		ticker := time.NewTicker(b.period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.drainOnce()
			}
		}
	}()
}

func (b *Broadcaster) drainOnce() {
	err := b.box.ScanPending(func(rec *outbox.Record) error {
		if err := b.box.MarkSent(rec.Seq); err != nil {
			return err
		}
		msg := &sarama.ProducerMessage{
			Topic: b.topic,
			Key:   sarama.StringEncoder(rec.Kind),
			Value: sarama.ByteEncoder(rec.Payload),
		}
		if _, _, err := b.producer.SendMessage(msg); err != nil {
			// Left in SENT; the next pass retries it.
			b.log.Warn("kafka send failed",
				zap.Uint64("seq", rec.Seq),
				zap.String("kind", rec.Kind),
				zap.Error(err))
			return nil
		}
		return b.box.MarkAcked(rec.Seq)
	})
	if err != nil {
		b.log.Error("outbox scan failed", zap.Error(err))
	}
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
