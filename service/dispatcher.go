package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/LykkeCity/MatchingEngine-sub000/domain/orderbook"
	"github.com/LykkeCity/MatchingEngine-sub000/infra/journal"
	"github.com/LykkeCity/MatchingEngine-sub000/infra/sequence"
)

type CommandType uint8

const (
	CmdLimitOrder CommandType = iota
	CmdMarketOrder
	CmdMultiLimitOrder
	CmdCancelOrder
	CmdMassCancel
	CmdCashInOut
	CmdTransfer
)

// MultiLimitRequest is one market-maker batch for a pair.
type MultiLimitRequest struct {
	ClientID       string
	AssetPairID    string
	Orders         []*orderbook.Order
	CancelPrevious bool
}

// Command is one inbound request. Exactly the fields its Type reads are
// set; Reply, when non-nil, receives the outcome once the command has
// been executed and its effects are durable.
type Command struct {
	Type CommandType

	LimitOrder  *orderbook.Order
	MarketOrder *orderbook.MarketOrder
	MultiLimit  *MultiLimitRequest

	ExternalID   string
	ClientID     string
	ToClientID   string
	AssetPairID  string
	AssetID      string
	SideFiltered bool
	IsBuy        bool
	Amount       decimal.Decimal

	Reply chan error `json:"-"`
}

// Dispatcher serializes every state mutation onto one goroutine. All
// books, the registry and the ledger are touched only from Run, which
// is what lets the rest of the engine skip locks entirely.
type Dispatcher struct {
	in      chan Command
	journal *journal.Journal
	jseq    *sequence.Sequencer

	limits    *SingleLimitOrderService
	multi     *MultiLimitOrderService
	markets   *MarketOrderService
	cancels   *CancelOrderService
	cash      *CashOperationService
	lifecycle *OrderLifecycleService
	log       *zap.Logger
}

func NewDispatcher(
	queueSize int,
	jrnl *journal.Journal,
	jseq *sequence.Sequencer,
	limits *SingleLimitOrderService,
	multi *MultiLimitOrderService,
	markets *MarketOrderService,
	cancels *CancelOrderService,
	cash *CashOperationService,
	lifecycle *OrderLifecycleService,
	log *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		in:        make(chan Command, queueSize),
		journal:   jrnl,
		jseq:      jseq,
		limits:    limits,
		multi:     multi,
		markets:   markets,
		cancels:   cancels,
		cash:      cash,
		lifecycle: lifecycle,
		log:       log.Named("dispatcher"),
	}
}

// Submit queues the command and waits for it to execute.
func (d *Dispatcher) Submit(ctx context.Context, cmd Command) error {
	cmd.Reply = make(chan error, 1)
	select {
	case d.in <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.Reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the command queue until the context is cancelled. It must
// be the only goroutine ever calling into the services.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.log.Info("dispatcher stopped")
			return
		case cmd := <-d.in:
			err := d.handle(cmd)
			if cmd.Reply != nil {
				cmd.Reply <- err
			}
		}
	}
}

func (d *Dispatcher) handle(cmd Command) error {
	now := time.Now()

	// The command is journaled before it executes; replay after a crash
	// re-runs exactly the accepted inputs in their original order.
	if d.journal != nil {
		rec := journal.NewRecord(recordTypeFor(cmd.Type), d.jseq.Next(), encodeCommand(cmd))
		if err := d.journal.Append(rec); err != nil {
			d.log.Error("journal append failed", zap.Error(err))
			return err
		}
	}

	var (
		err  error
		pair string
	)
	switch cmd.Type {
	case CmdLimitOrder:
		err = d.limits.ProcessLimitOrder(cmd.LimitOrder, now)
		pair = cmd.LimitOrder.AssetPairID
	case CmdMarketOrder:
		err = d.markets.ProcessMarketOrder(cmd.MarketOrder, now)
		pair = cmd.MarketOrder.AssetPairID
	case CmdMultiLimitOrder:
		r := cmd.MultiLimit
		err = d.multi.ProcessMultiLimitOrder(r.ClientID, r.AssetPairID, r.Orders, r.CancelPrevious, now)
		pair = r.AssetPairID
	case CmdCancelOrder:
		var o *orderbook.Order
		o, err = d.cancels.CancelLimitOrder(cmd.ExternalID, now)
		if o != nil {
			pair = o.AssetPairID
		}
	case CmdMassCancel:
		_, err = d.cancels.MassCancel(cmd.ClientID, cmd.AssetPairID, cmd.SideFiltered, cmd.IsBuy, now)
		pair = cmd.AssetPairID
	case CmdCashInOut:
		err = d.cash.CashInOut(cmd.ClientID, cmd.AssetID, cmd.Amount, now)
	case CmdTransfer:
		err = d.cash.Transfer(cmd.ClientID, cmd.ToClientID, cmd.AssetID, cmd.Amount, now)
	}

	if pair != "" {
		d.processStopOrders(pair, now)
	}
	return err
}

// processStopOrders drains triggered stop orders after a command moved
// prices. Each triggered order can move prices again and cascade.
func (d *Dispatcher) processStopOrders(assetPairID string, now time.Time) {
	for {
		o := d.lifecycle.GetStopOrderForProcess(assetPairID, now)
		if o == nil {
			return
		}
		if err := d.limits.ProcessTriggeredStop(o, now); err != nil {
			// A persist failure re-parks the stop; popping it again
			// now would just spin. The cascade resumes on the next
			// price-moving command.
			d.log.Warn("triggered stop order failed",
				zap.Uint64("orderId", o.ID),
				zap.Error(err))
			return
		}
	}
}

func recordTypeFor(t CommandType) journal.RecordType {
	switch t {
	case CmdMarketOrder:
		return journal.RecordMarketOrder
	case CmdMultiLimitOrder:
		return journal.RecordMultiLimitOrder
	case CmdCancelOrder:
		return journal.RecordCancel
	case CmdMassCancel:
		return journal.RecordMassCancel
	case CmdCashInOut, CmdTransfer:
		return journal.RecordCashOperation
	default:
		return journal.RecordLimitOrder
	}
}

func encodeCommand(cmd Command) []byte {
	cmd.Reply = nil
	b, err := json.Marshal(cmd)
	if err != nil {
		return nil
	}
	return b
}
