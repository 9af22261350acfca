package controller

import (
	"fmt"
	"sync"

	"github.com/kavindu-dev/distribtx/pkg/protocol"
	"github.com/kavindu-dev/distribtx/pkg/txid"
)

// txRecord is the controller's view of one transaction: its site of
// origin, optional name, and current lifecycle state.
type txRecord struct {
	id     txid.ID
	siteID uint32
	name   *string
	state  protocol.TransactionState
}

// txRegistry tracks every transaction the controller knows about,
// enforcing the Active -> {Replicating -> {Committed, Aborted}, Aborted}
// state machine from the Concurrency Controller's FinalizeTransaction
// contract.
type txRegistry struct {
	mu  sync.Mutex
	txs map[txid.ID]*txRecord
}

func newTxRegistry() *txRegistry {
	return &txRegistry{txs: make(map[txid.ID]*txRecord)}
}

func (r *txRegistry) register(id txid.ID, siteID uint32, name *string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs[id] = &txRecord{id: id, siteID: siteID, name: name, state: protocol.TransactionActive}
}

func (r *txRegistry) get(id txid.ID) (*txRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.txs[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s doesn't exist", id)
	}
	return rec, nil
}

func (r *txRegistry) requireActive(id txid.ID) error {
	rec, err := r.get(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.state != protocol.TransactionActive {
		return fmt.Errorf("transaction %s is not active (state=%s)", id, rec.state)
	}
	return nil
}

func (r *txRegistry) setState(id txid.ID, state protocol.TransactionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.txs[id]; ok {
		rec.state = state
	}
}

func (r *txRegistry) remove(id txid.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.txs, id)
}
