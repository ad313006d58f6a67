package orderbook

// Registry indexes live orders by engine id, by client-assigned
// external id and by client. It backs idempotent cancel/replace and
// bulk cancellation; terminal orders are evicted and never re-added.
type Registry struct {
	byID       map[uint64]*Order
	byExternal map[string]*Order
	byClient   map[string]map[uint64]*Order
}

func NewRegistry() *Registry {
	return &Registry{
		byID:       make(map[uint64]*Order),
		byExternal: make(map[string]*Order),
		byClient:   make(map[string]map[uint64]*Order),
	}
}

func (r *Registry) Add(o *Order) {
	r.byID[o.ID] = o
	if o.ExternalID != "" {
		r.byExternal[o.ExternalID] = o
	}
	m := r.byClient[o.ClientID]
	if m == nil {
		m = make(map[uint64]*Order)
		r.byClient[o.ClientID] = m
	}
	m[o.ID] = o
}

// Remove evicts the order from every index. Safe on absent orders.
func (r *Registry) Remove(o *Order) {
	delete(r.byID, o.ID)
	if o.ExternalID != "" && r.byExternal[o.ExternalID] == o {
		delete(r.byExternal, o.ExternalID)
	}
	if m := r.byClient[o.ClientID]; m != nil {
		delete(m, o.ID)
		if len(m) == 0 {
			delete(r.byClient, o.ClientID)
		}
	}
}

func (r *Registry) Get(id uint64) (*Order, bool) {
	o, ok := r.byID[id]
	return o, ok
}

func (r *Registry) GetByExternalID(externalID string) (*Order, bool) {
	o, ok := r.byExternal[externalID]
	return o, ok
}

// ClientOrders returns the client's live orders, optionally filtered by
// asset pair and side. isBuy is ignored when sideFiltered is false.
func (r *Registry) ClientOrders(clientID, assetPairID string, sideFiltered, isBuy bool) []*Order {
	m := r.byClient[clientID]
	if m == nil {
		return nil
	}
	out := make([]*Order, 0, len(m))
	for _, o := range m {
		if assetPairID != "" && o.AssetPairID != assetPairID {
			continue
		}
		if sideFiltered && o.IsBuy() != isBuy {
			continue
		}
		out = append(out, o)
	}
	return out
}

func (r *Registry) Size() int { return len(r.byID) }
