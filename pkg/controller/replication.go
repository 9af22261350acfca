package controller

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kavindu-dev/distribtx/pkg/protocol"
	"github.com/kavindu-dev/distribtx/pkg/siteclient"
)

// replicator drives the two-phase PrepareReplication/FinalizeReplication
// protocol against every peer site on the controller's behalf, acting as
// the coordinator named in spec.md §4.3.
type replicator struct {
	registry *siteRegistry
	timeout  time.Duration
	log      *zap.Logger
}

func newReplicator(registry *siteRegistry, timeout time.Duration, log *zap.Logger) *replicator {
	return &replicator{registry: registry, timeout: timeout, log: log}
}

// fanOut replicates updateHistory to every site except originatingSite.
// It returns nil if every peer prepared successfully; finalize failures
// are logged and do not change the result. Any prepare failure triggers
// an abort fan-out to peers that had already acknowledged, and the first
// prepare error is returned.
func (r *replicator) fanOut(ctx context.Context, originatingSite uint32, updateHistory []string) error {
	peers := r.registry.peersExcluding(originatingSite)
	if len(peers) == 0 {
		return nil
	}

	token := uuid.New().String()
	r.log.Info("starting replication fan-out", zap.String("txn_token", token), zap.Int("peers", len(peers)))

	type prepareOutcome struct {
		site siteInfo
		err  error
	}

	results := make(chan prepareOutcome, len(peers))
	var wg sync.WaitGroup
	wg.Add(len(peers))
	for _, peer := range peers {
		peer := peer
		go func() {
			defer wg.Done()
			client := siteclient.New(peer.addr(), r.timeout)
			_, err := client.PrepareReplication(ctx, &protocol.PrepareReplicationRequest{
				TxnToken:         token,
				OriginatingSite:  originatingSite,
				UpdateStatements: updateHistory,
			})
			results <- prepareOutcome{site: peer, err: err}
		}()
	}
	wg.Wait()
	close(results)

	var acknowledged []siteInfo
	var firstErr error
	for res := range results {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			r.log.Error("peer failed to prepare replication", zap.Uint32("site_id", res.site.id), zap.Error(res.err))
			continue
		}
		acknowledged = append(acknowledged, res.site)
	}

	if firstErr != nil {
		r.finalizeAll(ctx, token, acknowledged, protocol.FinalizeModeAbort)
		return firstErr
	}

	r.finalizeAll(ctx, token, acknowledged, protocol.FinalizeModeCommit)
	r.log.Info("replication fan-out committed", zap.String("txn_token", token), zap.Int("peers", len(acknowledged)))
	return nil
}

func (r *replicator) finalizeAll(ctx context.Context, token string, peers []siteInfo, mode protocol.FinalizeMode) {
	var wg sync.WaitGroup
	wg.Add(len(peers))
	for _, peer := range peers {
		peer := peer
		go func() {
			defer wg.Done()
			client := siteclient.New(peer.addr(), r.timeout)
			_, err := client.FinalizeReplication(ctx, &protocol.FinalizeReplicationRequest{TxnToken: token, Mode: mode})
			if err != nil {
				r.log.Error("peer failed to finalize replication", zap.Uint32("site_id", peer.id), zap.String("mode", string(mode)), zap.Error(err))
			}
		}()
	}
	wg.Wait()
}
