package service

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/peterkariuk1/jobawu-gateway/internal/domain"
	"github.com/peterkariuk1/jobawu-gateway/internal/infra/observability"
	"github.com/peterkariuk1/jobawu-gateway/internal/infra/resilience"
	"github.com/peterkariuk1/jobawu-gateway/internal/port"
)

var syncTracer = otel.Tracer("service/sync")

// SyncManager drains the local pending queue into the ledger store. It
// owns the consuming end of the event bus: queued transactions,
// connectivity transitions and manual sync requests all funnel into the
// same drain routine, collapsed through singleflight so overlapping
// triggers run one drain.
type SyncManager struct {
	queue    port.TransactionQueue
	ledger   port.LedgerStore
	events   <-chan domain.Event
	bulkhead *resilience.Bulkhead
	metrics  *observability.Metrics
	logger   *zap.Logger

	group  singleflight.Group
	online atomic.Bool
}

func NewSyncManager(
	queue port.TransactionQueue,
	ledger port.LedgerStore,
	events <-chan domain.Event,
	maxConcurrency int,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *SyncManager {
	return &SyncManager{
		queue:    queue,
		ledger:   ledger,
		events:   events,
		bulkhead: resilience.NewBulkhead(maxConcurrency),
		metrics:  metrics,
		logger:   logger,
	}
}

// Online reports the last observed reachability of the ledger store.
func (s *SyncManager) Online() bool {
	return s.online.Load()
}

// Run consumes the event bus until ctx is cancelled. A startup drain
// flushes whatever survived the previous process lifetime before any
// event arrives.
func (s *SyncManager) Run(ctx context.Context) {
	s.drain(ctx, "startup")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync: manager stopped")
			return
		case ev := <-s.events:
			switch ev := ev.(type) {
			case domain.TransactionQueued:
				if s.online.Load() {
					s.drain(ctx, "queued")
				} else {
					s.logger.Debug("sync: offline, transaction stays pending",
						zap.String("id", ev.TransactionID),
					)
				}
			case domain.ConnectivityChanged:
				was := s.online.Swap(ev.Online)
				if ev.Online && !was {
					s.logger.Info("sync: ledger store reachable, draining queue")
					s.drain(ctx, "reconnect")
				} else if !ev.Online && was {
					s.logger.Warn("sync: ledger store unreachable, queueing locally")
				}
			case domain.SyncRequested:
				// Manual triggers always attempt, even when the watcher
				// last saw the store offline.
				s.drain(ctx, "manual")
			}
		}
	}
}

// SyncNow runs one drain synchronously. Used by the admin API; shares
// the singleflight key with event-triggered drains.
func (s *SyncManager) SyncNow(ctx context.Context) (synced, failed int, err error) {
	return s.drain(ctx, "api")
}

func (s *SyncManager) drain(ctx context.Context, trigger string) (int, int, error) {
	type result struct{ synced, failed int }

	v, err, _ := s.group.Do("drain", func() (interface{}, error) {
		start := time.Now()
		defer func() { s.metrics.RecordOperationDuration("sync_drain", time.Since(start)) }()

		dctx, span := syncTracer.Start(ctx, "Sync.Drain")
		defer span.End()

		pending, err := s.queue.ListPending()
		if err != nil {
			return result{}, err
		}
		if len(pending) == 0 {
			return result{}, nil
		}

		s.logger.Info("sync: draining pending queue",
			zap.String("trigger", trigger),
			zap.Int("pending", len(pending)),
		)

		var res result
		for i := range pending {
			if dctx.Err() != nil {
				break
			}
			tx := pending[i]

			if err := s.bulkhead.Acquire(dctx); err != nil {
				break
			}
			err := s.ledger.UpsertTransaction(dctx, &tx)
			s.bulkhead.Release()

			if err != nil {
				// Leave it pending; the entry is retried on the next
				// trigger and never blocks the rest of the batch.
				res.failed++
				s.metrics.IncrSync(observability.SyncResultFailed)
				s.metrics.IncrLedgerError("upsert_transaction")
				s.logger.Warn("sync: upload failed, entry stays pending",
					zap.String("id", tx.ID),
					zap.Error(err),
				)
				continue
			}

			// MarkSynced re-checks pending membership, so an entry a
			// concurrent path already promoted is not counted twice.
			moved, err := s.queue.MarkSynced(tx.ID)
			if err != nil {
				res.failed++
				s.logger.Error("sync: failed to promote entry to synced",
					zap.String("id", tx.ID),
					zap.Error(err),
				)
				continue
			}
			if moved {
				res.synced++
				s.metrics.IncrSync(observability.SyncResultSynced)
			}
		}

		if p, _, err := s.queue.Counts(); err == nil {
			s.metrics.SetPendingQueueDepth(p)
		}
		if res.synced > 0 || res.failed > 0 {
			s.logger.Info("sync: drain complete",
				zap.Int("synced", res.synced),
				zap.Int("failed", res.failed),
			)
		}
		return res, nil
	})
	if err != nil {
		return 0, 0, err
	}
	r := v.(result)
	return r.synced, r.failed, nil
}

// ConnectivityWatcher probes the ledger store on an interval and emits
// edge-triggered ConnectivityChanged events onto the bus.
type ConnectivityWatcher struct {
	ledger   port.LedgerStore
	events   chan<- domain.Event
	interval time.Duration
	logger   *zap.Logger
}

func NewConnectivityWatcher(
	ledger port.LedgerStore,
	events chan<- domain.Event,
	interval time.Duration,
	logger *zap.Logger,
) *ConnectivityWatcher {
	return &ConnectivityWatcher{
		ledger:   ledger,
		events:   events,
		interval: interval,
		logger:   logger,
	}
}

// Run probes immediately, then on every tick, until ctx is cancelled.
func (w *ConnectivityWatcher) Run(ctx context.Context) {
	var last *bool

	probe := func() {
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		online := w.ledger.Ping(pctx) == nil
		if last != nil && *last == online {
			return
		}
		last = &online

		w.logger.Info("connectivity: state changed", zap.Bool("online", online))
		select {
		case w.events <- domain.ConnectivityChanged{Online: online}:
		case <-ctx.Done():
		}
	}

	probe()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}
