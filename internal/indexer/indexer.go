// Package indexer drives the system forward: it pulls windows of logs
// from the RPC pool, decodes them, commits them to the store, and
// periodically re-anchors to the chain head and reconciles against the
// subgraph to close gaps.
package indexer

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"yam-indexer/internal/codec"
	"yam-indexer/internal/models"
)

const (
	// BlockToRetrieve is the window size per iteration.
	BlockToRetrieve uint64 = 3
	// BlockBuffer is the lag kept behind the chain head to stay clear of
	// shallow re-orgs.
	BlockBuffer uint64 = 5
	// CountBeforeResync is how many iterations run before re-anchoring
	// the window to the chain head.
	CountBeforeResync = 100
	// CountPeriodicBackfill is how many iterations run between subgraph
	// reconciliations.
	CountPeriodicBackfill = 960
	// BackfillWindow is the trailing window reconciled against the
	// subgraph (~one day of blocks).
	BackfillWindow uint64 = 17280

	// blockCadence paces the loop slightly slower than nominal block
	// time; at exactly 5s the loop catches up with the tip and starts
	// requesting blocks that do not exist yet.
	blockCadence = 5100 * time.Millisecond
)

// LogSource fetches raw contract logs and the chain head. The RPC pool
// satisfies it; it rotates internally on persistent RPC failure, and the
// loop calls Rotate itself when an endpoint answers with payloads the
// codec cannot read.
type LogSource interface {
	GetLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error)
	HeadBlock(ctx context.Context) (uint64, error)
	Rotate(ctx context.Context)
	Endpoint() string
}

// EventStore is the slice of the store the loop drives.
type EventStore interface {
	LastIndexedBlock(ctx context.Context) (uint64, bool, error)
	CommitBatch(ctx context.Context, fromBlock, toBlock uint64, events []models.Event) error
	CommitEvents(ctx context.Context, events []models.Event) error
	SeedWatermark(ctx context.Context, fromBlock, toBlock uint64) error
}

// Backfiller supplies historical events for a block range; a nil toBlock
// means "up to the latest the service has".
type Backfiller interface {
	FetchRange(ctx context.Context, fromBlock uint64, toBlock *uint64) ([]models.Event, error)
}

type Indexer struct {
	pool       LogSource
	store      EventStore
	subgraph   Backfiller
	startBlock uint64
	log        *logrus.Entry

	cadence time.Duration
}

func New(pool LogSource, store EventStore, subgraph Backfiller, startBlock uint64) *Indexer {
	return &Indexer{
		pool:       pool,
		store:      store,
		subgraph:   subgraph,
		startBlock: startBlock,
		log:        logrus.WithField("component", "indexer"),
		cadence:    blockCadence,
	}
}

// Run initialises the database against the subgraph and then loops until
// the context is cancelled. Any error it returns is fatal for this run;
// the supervisor in main restarts after a backoff.
func (ix *Indexer) Run(ctx context.Context) error {
	head, err := ix.pool.HeadBlock(ctx)
	if err != nil {
		return err
	}

	if err := ix.initialize(ctx, head); err != nil {
		return err
	}

	fromBlock := head - BlockBuffer - BlockToRetrieve + 1
	toBlock := head - BlockBuffer
	syncCounter := 0
	backfillCounter := 0

	ix.log.Info("indexing loop running")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		start := time.Now()

		logs, err := ix.pool.GetLogs(ctx, fromBlock, toBlock)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			// The pool has already rotated; the next iteration reissues
			// the same window against the fresh endpoint.
			ix.log.Infof("all attempts for blocks %d-%d failed, retrying on [%s]", fromBlock, toBlock, ix.pool.Endpoint())
			continue
		}

		events, err := codec.DecodeLogs(logs)
		if err != nil {
			// The endpoint answered but the payload is malformed. Rotate it
			// out and retry the same range at normal cadence; spinning on a
			// corrupt endpoint would re-fetch the window with zero delay.
			ix.log.Errorf("decoding blocks %d-%d failed: %v", fromBlock, toBlock, err)
			ix.pool.Rotate(ctx)
			if err := ix.sleepCadence(ctx, time.Since(start)); err != nil {
				return err
			}
			continue
		}

		if err := ix.store.CommitBatch(ctx, fromBlock, toBlock, events); err != nil {
			return err
		}
		ix.log.Infof("%d YAM log(s) retrieved from block %d to %d", len(events), fromBlock, toBlock)

		fromBlock = toBlock + 1
		toBlock += BlockToRetrieve

		syncCounter++
		backfillCounter++

		if syncCounter > CountBeforeResync {
			syncCounter = 0
			if head, err = ix.pool.HeadBlock(ctx); err != nil {
				ix.log.Warnf("failed to fetch chain head for resync: %v", err)
			} else {
				// Re-anchor to_block to the head; pull from_block back if
				// the window ran ahead of the chain.
				toBlock = head - BlockBuffer
				deviation := int64(toBlock) - int64(fromBlock) - int64(BlockToRetrieve)
				if deviation < 0 {
					fromBlock = head - BlockBuffer - BlockToRetrieve + 1
				}
				ix.log.Infof("resync on newest block - deviation was %d block(s)", deviation)
			}
		}

		if backfillCounter > CountPeriodicBackfill {
			backfillCounter = 0
			backfillFrom := ix.startBlock
			if toBlock > BackfillWindow && toBlock-BackfillWindow > backfillFrom {
				backfillFrom = toBlock - BackfillWindow
			}
			ix.backfill(ctx, backfillFrom, toBlock)
		}

		if err := ix.sleepCadence(ctx, time.Since(start)); err != nil {
			return err
		}
	}
}

// initialize brings the database up to the chain head before the
// steady-state loop starts. A fresh database is seeded with the complete
// subgraph history from the configured genesis block.
func (ix *Indexer) initialize(ctx context.Context, head uint64) error {
	lastIndexed, ok, err := ix.store.LastIndexedBlock(ctx)
	if err != nil {
		return err
	}

	if !ok {
		ix.log.Infof("fresh database, loading full history from block %d via subgraph", ix.startBlock)
		events, err := ix.subgraph.FetchRange(ctx, ix.startBlock, nil)
		if err != nil {
			return err
		}
		if err := ix.store.CommitEvents(ctx, events); err != nil {
			return err
		}

		highest := ix.startBlock
		for _, event := range events {
			if b := event.Meta().BlockNumber; b > highest {
				highest = b
			}
		}
		if err := ix.store.SeedWatermark(ctx, ix.startBlock, highest); err != nil {
			return err
		}
		ix.log.Infof("initialization completed, %d events loaded up to block %d", len(events), highest)
		return nil
	}

	ix.log.Infof("backfilling from last indexed block %d to head %d", lastIndexed, head)
	events, err := ix.subgraph.FetchRange(ctx, lastIndexed, &head)
	if err != nil {
		return err
	}
	return ix.store.CommitBatch(ctx, lastIndexed, head, events)
}

// backfill reconciles a trailing window against the subgraph. A failed
// attempt is abandoned and retried at the next periodic tick.
func (ix *Indexer) backfill(ctx context.Context, fromBlock, toBlock uint64) {
	events, err := ix.subgraph.FetchRange(ctx, fromBlock, &toBlock)
	if err != nil {
		ix.log.Errorf("backfill of blocks %d-%d failed: %v", fromBlock, toBlock, err)
		return
	}
	if err := ix.store.CommitBatch(ctx, fromBlock, toBlock, events); err != nil {
		ix.log.Errorf("backfill commit of blocks %d-%d failed: %v", fromBlock, toBlock, err)
		return
	}
	ix.log.Infof("backfilling successful - %d YAM events fetched between block %d and block %d", len(events), fromBlock, toBlock)
}

// sleepCadence pads the iteration out to the block cadence, honouring
// cancellation during the wait.
func (ix *Indexer) sleepCadence(ctx context.Context, elapsed time.Duration) error {
	wait := time.Duration(int64(BlockToRetrieve))*ix.cadence - elapsed
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
