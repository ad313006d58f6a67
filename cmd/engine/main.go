package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/LykkeCity/MatchingEngine-sub000/config"
	"github.com/LykkeCity/MatchingEngine-sub000/domain/assets"
	"github.com/LykkeCity/MatchingEngine-sub000/domain/orderbook"
	"github.com/LykkeCity/MatchingEngine-sub000/domain/wallet"
	"github.com/LykkeCity/MatchingEngine-sub000/infra/journal"
	"github.com/LykkeCity/MatchingEngine-sub000/infra/kafka"
	"github.com/LykkeCity/MatchingEngine-sub000/infra/memory"
	"github.com/LykkeCity/MatchingEngine-sub000/infra/outbox"
	"github.com/LykkeCity/MatchingEngine-sub000/infra/persist"
	"github.com/LykkeCity/MatchingEngine-sub000/infra/sequence"
	"github.com/LykkeCity/MatchingEngine-sub000/jobs/broadcaster"
	"github.com/LykkeCity/MatchingEngine-sub000/jobs/quotes"
	"github.com/LykkeCity/MatchingEngine-sub000/jobs/snapshots"
	"github.com/LykkeCity/MatchingEngine-sub000/service"
)

type assetsFile struct {
	Assets []assets.Asset     `json:"assets"`
	Pairs  []assets.AssetPair `json:"assetPairs"`
}

func loadDictionary(path string, log *zap.Logger) *assets.InMemoryDictionary {
	dict := assets.NewInMemoryDictionary()
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Warn("assets file missing, starting with empty dictionary",
			zap.String("path", path), zap.Error(err))
		return dict
	}
	var f assetsFile
	if err := json.Unmarshal(raw, &f); err != nil {
		log.Fatal("assets file unreadable", zap.String("path", path), zap.Error(err))
	}
	for _, a := range f.Assets {
		dict.PutAsset(a)
	}
	for _, p := range f.Pairs {
		dict.PutAssetPair(p)
	}
	log.Info("dictionary loaded",
		zap.Int("assets", len(f.Assets)),
		zap.Int("assetPairs", len(f.Pairs)))
	return dict
}

// resettingPool zeroes recycled order records before pooling them.
type resettingPool struct {
	*memory.Pool[orderbook.Order]
}

func (p resettingPool) PutAny(v any) {
	o, ok := v.(*orderbook.Order)
	if !ok {
		return
	}
	o.Reset()
	p.Put(o)
}

func main() {
	cfg := config.LoadFromEnv("")

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// ---------------- Storage ----------------

	store, err := persist.Open(cfg.Storage.DataDir, log)
	if err != nil {
		log.Fatal("store open failed", zap.Error(err))
	}
	defer store.Close()

	box, err := outbox.Open(cfg.Storage.OutboxDir)
	if err != nil {
		log.Fatal("outbox open failed", zap.Error(err))
	}
	defer box.Close()

	jrnl, err := journal.Open(journal.Config{
		Dir:             cfg.Storage.JournalDir,
		SegmentSize:     cfg.Storage.SegmentSize,
		SegmentDuration: cfg.Storage.SegmentDuration,
	})
	if err != nil {
		log.Fatal("journal open failed", zap.Error(err))
	}
	defer jrnl.Close()

	// The journal is the audit trail of accepted commands; state itself
	// recovers from the store. Replay here only resumes the counter.
	lastJournalSeq, err := journal.Replay(cfg.Storage.JournalDir, func(*journal.Record) error { return nil })
	if err != nil {
		log.Fatal("journal replay failed", zap.Error(err))
	}

	// ---------------- Domain ----------------

	dict := loadDictionary(cfg.Storage.AssetsFile, log)

	bus := service.NewEventBus(box, cfg.Engine.QuoteQueueSize, log)
	ledger := wallet.NewLedger(store, bus, log)

	balances, err := store.LoadBalances()
	if err != nil {
		log.Fatal("balance load failed", zap.Error(err))
	}
	for _, b := range balances {
		ledger.SetBalance(b)
	}

	// ---------------- Memory ----------------

	pool := memory.NewPool(func() *orderbook.Order {
		return &orderbook.Order{}
	})
	ring := memory.NewRetireRing(cfg.Engine.RetireRingSize)

	// ---------------- Services ----------------

	orderIDs := sequence.New(0)
	board := persist.NewSnapshotBoard()
	lifecycle := service.NewOrderLifecycleService(
		dict, ledger, bus, board, orderIDs, ring, pool,
		cfg.Engine.MaxOrderBookSideSize, log,
	)

	limitOrders, err := store.LoadLimitOrders()
	if err != nil {
		log.Fatal("limit order load failed", zap.Error(err))
	}
	stopOrders, err := store.LoadStopLimitOrders()
	if err != nil {
		log.Fatal("stop order load failed", zap.Error(err))
	}
	orderIDs.Reset(lifecycle.RestoreFromStore(limitOrders, stopOrders))

	lastBatchSeq, err := store.LoadSequence()
	if err != nil {
		log.Fatal("sequence load failed", zap.Error(err))
	}
	batchSeq := sequence.New(lastBatchSeq)
	journalSeq := sequence.New(lastJournalSeq)

	log.Info("state recovered",
		zap.Int("balances", len(balances)),
		zap.Int("limitOrders", len(limitOrders)),
		zap.Int("stopOrders", len(stopOrders)),
		zap.Uint64("batchSequence", lastBatchSeq),
		zap.Uint64("journalSequence", lastJournalSeq))

	limitMatcher := service.NewLimitMatcher(ledger, dict, log)
	marketMatcher := service.NewMarketMatcher(ledger, dict, log)

	single := service.NewSingleLimitOrderService(lifecycle, ledger, batchSeq, bus, limitMatcher, log)
	multi := service.NewMultiLimitOrderService(lifecycle, ledger, batchSeq, bus, single, log)
	market := service.NewMarketOrderService(lifecycle, ledger, batchSeq, bus, marketMatcher, log)
	cancel := service.NewCancelOrderService(lifecycle, ledger, batchSeq, bus, log)
	cash := service.NewCashOperationService(dict, ledger, batchSeq, log)

	dispatcher := service.NewDispatcher(
		cfg.Engine.CommandQueueSize,
		jrnl, journalSeq,
		single, multi, market, cancel, cash,
		lifecycle, log,
	)

	// ---------------- Background jobs ----------------

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snapWriter := snapshots.New(board, &persist.BookSnapshotter{Dir: cfg.Storage.SnapshotDir}, log)
	snapWriter.Start(ctx)

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				memory.AdvanceEpochAndReclaim(ring, resettingPool{pool}, snapWriter.Reader())
			}
		}
	}()

	bc, err := broadcaster.New(box, cfg.Kafka.Brokers, cfg.Kafka.EventTopic, cfg.Kafka.DrainPeriod, log)
	if err != nil {
		log.Fatal("broadcaster init failed", zap.Error(err))
	}
	defer bc.Close()
	bc.Start(ctx)

	quoteProducer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.QuoteTopic)
	defer quoteProducer.Close()
	quotes.New(bus.Quotes(), quoteProducer, log).Start(ctx)

	log.Info("matching engine running")
	dispatcher.Run(ctx)
	log.Info("matching engine stopped")
}
