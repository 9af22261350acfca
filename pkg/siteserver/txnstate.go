package siteserver

import (
	"fmt"
	"sync"

	"github.com/kavindu-dev/distribtx/pkg/sqlengine"
)

// localTx is the executor's view of one in-flight client transaction:
// the open local DB handle and the accumulated verbatim update history
// that will be handed to the controller at commit time.
type localTx struct {
	clientID      uint32
	transactionID uint64
	tx            *sqlengine.Tx
	updateHistory []string
}

// txTable tracks every in-flight local transaction, keyed by transaction
// id, the way the original source's TransactionHistoryMap keys by
// (client_id, trans_id).
type txTable struct {
	mu  sync.Mutex
	txs map[uint64]*localTx
}

func newTxTable() *txTable {
	return &txTable{txs: make(map[uint64]*localTx)}
}

func (t *txTable) put(lt *localTx) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.txs[lt.transactionID] = lt
}

func (t *txTable) get(transactionID uint64) (*localTx, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	lt, ok := t.txs[transactionID]
	if !ok {
		return nil, fmt.Errorf("transaction %d is not open on this site", transactionID)
	}
	return lt, nil
}

func (t *txTable) remove(transactionID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.txs, transactionID)
}

func (t *txTable) appendStatement(transactionID uint64, stmt string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	lt, ok := t.txs[transactionID]
	if !ok {
		return fmt.Errorf("transaction %d is not open on this site", transactionID)
	}
	lt.updateHistory = append(lt.updateHistory, stmt)
	return nil
}
