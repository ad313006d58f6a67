package wallet

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

/*
Ledger holds available/reserved balances per (client, asset).

It performs no validation: sufficiency checks belong to the caller, and
it will faithfully apply a balance-negative instruction if asked. The
one hard rule is transactionality: the in-memory state is committed only
after the persister accepts the full batch.
*/
type Ledger struct {
	balances  map[string]map[string]*AssetBalance
	persister Persister
	sink      EventSink
	log       *zap.Logger
}

func NewLedger(persister Persister, sink EventSink, log *zap.Logger) *Ledger {
	return &Ledger{
		balances:  make(map[string]map[string]*AssetBalance),
		persister: persister,
		sink:      sink,
		log:       log.Named("ledger"),
	}
}

// Balance returns the client's balance in an asset; absent entries are
// zero.
func (l *Ledger) Balance(clientID, assetID string) decimal.Decimal {
	if b := l.find(clientID, assetID); b != nil {
		return b.Balance
	}
	return decimal.Zero
}

// ReservedBalance returns the reserved portion; absent entries are zero.
func (l *Ledger) ReservedBalance(clientID, assetID string) decimal.Decimal {
	if b := l.find(clientID, assetID); b != nil {
		return b.Reserved
	}
	return decimal.Zero
}

// AvailableBalance is balance minus reserved.
func (l *Ledger) AvailableBalance(clientID, assetID string) decimal.Decimal {
	if b := l.find(clientID, assetID); b != nil {
		return b.Available()
	}
	return decimal.Zero
}

func (l *Ledger) find(clientID, assetID string) *AssetBalance {
	if m := l.balances[clientID]; m != nil {
		return m[assetID]
	}
	return nil
}

// SetBalance seeds a wallet record directly, bypassing persistence.
// Used for startup loading.
func (l *Ledger) SetBalance(b AssetBalance) {
	m := l.balances[b.ClientID]
	if m == nil {
		m = make(map[string]*AssetBalance)
		l.balances[b.ClientID] = m
	}
	cp := b
	m[b.AssetID] = &cp
}

type pendingEntry struct {
	clientID string
	assetID  string
	old      AssetBalance
	next     AssetBalance
}

// ProcessWalletOperations applies a batch of operations atomically.
// It groups operations by (client, asset), computes the resulting
// balances, persists the affected records together with the batch's
// order changes, and only on success commits the in-memory maps and
// emits one balance update per client. On persistence failure nothing
// in memory changes and the error is returned to the caller.
func (l *Ledger) ProcessWalletOperations(ops []Operation, orders Batch) error {
	if len(ops) == 0 && len(orders.Orders) == 0 && len(orders.RemovedOrderIDs) == 0 {
		return nil
	}

	pending := make(map[string]map[string]*pendingEntry)
	for _, op := range ops {
		m := pending[op.ClientID]
		if m == nil {
			m = make(map[string]*pendingEntry)
			pending[op.ClientID] = m
		}
		e := m[op.AssetID]
		if e == nil {
			old := AssetBalance{ClientID: op.ClientID, AssetID: op.AssetID}
			if cur := l.find(op.ClientID, op.AssetID); cur != nil {
				old = *cur
			}
			e = &pendingEntry{clientID: op.ClientID, assetID: op.AssetID, old: old, next: old}
			m[op.AssetID] = e
		}
		e.next.Balance = e.next.Balance.Add(op.Amount)
		e.next.Reserved = e.next.Reserved.Add(op.ReservedAmount)
	}

	batch := orders
	batch.Operations = ops
	for _, m := range pending {
		for _, e := range m {
			batch.Balances = append(batch.Balances, e.next)
		}
	}
	sort.Slice(batch.Balances, func(i, j int) bool {
		a, b := batch.Balances[i], batch.Balances[j]
		if a.ClientID != b.ClientID {
			return a.ClientID < b.ClientID
		}
		return a.AssetID < b.AssetID
	})

	if err := l.persister.Persist(batch); err != nil {
		l.log.Error("batch persist failed, in-memory state untouched",
			zap.Uint64("sequence", batch.Sequence),
			zap.Int("operations", len(ops)),
			zap.Error(err))
		return fmt.Errorf("persist wallet batch: %w", err)
	}

	now := time.Now()
	for clientID, m := range pending {
		update := BalanceUpdate{ClientID: clientID, Timestamp: now}
		for _, e := range m {
			l.SetBalance(e.next)
			update.Assets = append(update.Assets, AssetDelta{
				AssetID:     e.assetID,
				OldBalance:  e.old.Balance,
				NewBalance:  e.next.Balance,
				OldReserved: e.old.Reserved,
				NewReserved: e.next.Reserved,
			})
		}
		sort.Slice(update.Assets, func(i, j int) bool {
			return update.Assets[i].AssetID < update.Assets[j].AssetID
		})
		if l.sink != nil {
			l.sink.BalanceUpdated(update)
		}
	}
	return nil
}

// InconsistentBalances lists records where reserved exceeds balance.
// Legacy operations can produce these; the ledger reports them but
// never auto-corrects.
func (l *Ledger) InconsistentBalances() []AssetBalance {
	var out []AssetBalance
	for _, m := range l.balances {
		for _, b := range m {
			if b.Reserved.Cmp(b.Balance) > 0 {
				out = append(out, *b)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClientID != out[j].ClientID {
			return out[i].ClientID < out[j].ClientID
		}
		return out[i].AssetID < out[j].AssetID
	})
	return out
}
