// Package service provides the business logic layer: the ingestion
// listener, the sync/connectivity manager, the reconciler and device
// auth for the admin API.
package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/peterkariuk1/jobawu-gateway/internal/domain"
	"github.com/peterkariuk1/jobawu-gateway/internal/infra/observability"
	"github.com/peterkariuk1/jobawu-gateway/internal/parser"
	"github.com/peterkariuk1/jobawu-gateway/internal/port"
)

var ingestTracer = otel.Tracer("service/ingest")

type listenerState int

const (
	listenerInactive listenerState = iota
	listenerActive
)

func (s listenerState) String() string {
	if s == listenerActive {
		return "active"
	}
	return "inactive"
}

// IngestService is the ingestion listener: a two-state machine that
// subscribes to the message channel while active and runs every
// delivery through filter → parse → local queue → reconciler. All of
// its in-memory state is disposable; after a process kill the pipeline
// is rebuilt from the local queue alone.
type IngestService struct {
	channel    port.MessageChannel // nil in webhook-only deployments
	queue      port.TransactionQueue
	reconciler *ReconcileService // nil until the full pipeline is wired
	events     chan<- domain.Event
	trusted    []string
	metrics    *observability.Metrics
	logger     *zap.Logger

	mu     sync.Mutex
	state  listenerState
	cancel context.CancelFunc
}

// NewIngestService creates the listener in the inactive state. The
// reconciler handle is injected explicitly; if it is nil, parsed
// transactions still land in the durable local queue and are picked up
// by a later reconciliation pass.
func NewIngestService(
	channel port.MessageChannel,
	queue port.TransactionQueue,
	reconciler *ReconcileService,
	events chan<- domain.Event,
	trustedSenders []string,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *IngestService {
	return &IngestService{
		channel:    channel,
		queue:      queue,
		reconciler: reconciler,
		events:     events,
		trusted:    trustedSenders,
		metrics:    metrics,
		logger:     logger,
	}
}

// Start transitions to active and subscribes to the message channel.
// The subscription runs on its own background context so it survives
// cancellation of the caller's request context. Starting twice is a
// no-op.
func (s *IngestService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == listenerActive {
		s.logger.Debug("ingest: already active")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	if s.channel != nil {
		if err := s.channel.Subscribe(ctx, s.HandleMessage); err != nil {
			cancel()
			return err
		}
	} else {
		s.logger.Warn("ingest: no message channel configured, webhook ingestion only")
	}

	s.cancel = cancel
	s.state = listenerActive
	s.logger.Info("ingest: listener active", zap.Strings("trusted_senders", s.trusted))
	return nil
}

// Stop unsubscribes and returns to inactive. Stopping while inactive is
// a no-op.
func (s *IngestService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == listenerInactive {
		return
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.state = listenerInactive
	s.logger.Info("ingest: listener stopped")
}

// Active reports whether the listener is in the active state.
func (s *IngestService) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == listenerActive
}

// HandleMessage processes one inbound delivery. It never returns an
// error: every failure mode short of local persistence loss is
// absorbed here, and even that one only surfaces as diagnostics. The
// message is durably queued before any remote work is attempted, so
// the critical path stays within the host's background grace window.
func (s *IngestService) HandleMessage(ctx context.Context, msg domain.InboundMessage) {
	start := time.Now()
	defer func() { s.metrics.RecordOperationDuration("ingest", time.Since(start)) }()

	ctx, span := ingestTracer.Start(ctx, "Ingest.HandleMessage")
	defer span.End()
	span.SetAttributes(attribute.String("sms.sender", msg.Sender))

	body := msg.Body()

	if !s.trustedSender(msg.Sender) {
		// Untrusted source: dropped silently, not an error.
		s.metrics.IncrMessage(observability.ResultUntrusted)
		s.logger.Debug("ingest: untrusted sender dropped", zap.String("sender", msg.Sender))
		return
	}

	tx, err := parser.Parse(body, msg.Sender)
	if err != nil {
		var failure *parser.ParseFailure
		if errors.As(err, &failure) {
			s.metrics.IncrMessage(observability.ResultParseFailure)
			s.logger.Info("ingest: unrecognized message dropped",
				zap.String("sender", msg.Sender),
				zap.String("reason", failure.Reason),
			)
			return
		}
		s.metrics.IncrMessage(observability.ResultParseFailure)
		s.logger.Warn("ingest: parse error", zap.Error(err))
		return
	}

	now := time.Now()
	tx.ID = domain.NewTransactionID(tx.ExternalRef, tx.AccountRef, now)
	tx.CreatedAt = now

	inserted, err := s.queue.SavePending(tx)
	if err != nil {
		// Local persistence failure is the one hard error: the message
		// is lost unless the OS redelivers it.
		s.metrics.IncrMessage(observability.ResultStoreError)
		s.logger.Error("ingest: failed to queue transaction",
			zap.String("external_ref", tx.ExternalRef),
			zap.Error(err),
		)
		return
	}
	if !inserted {
		// Redelivery of a known payment: success-no-op.
		s.metrics.IncrMessage(observability.ResultDuplicate)
		s.logger.Debug("ingest: duplicate delivery ignored",
			zap.String("external_ref", tx.ExternalRef),
		)
		return
	}

	s.metrics.IncrMessage(observability.ResultParsed)
	s.updateQueueGauge()
	s.logger.Info("ingest: transaction queued",
		zap.String("id", tx.ID),
		zap.String("external_ref", tx.ExternalRef),
		zap.String("amount", tx.Amount.String()),
		zap.String("sender_phone", tx.SenderPhone),
	)

	select {
	case s.events <- domain.TransactionQueued{TransactionID: tx.ID, ExternalRef: tx.ExternalRef}:
	default:
		s.logger.Warn("ingest: event bus full, sync deferred to next trigger")
	}

	if s.reconciler == nil {
		// Cold-start fallback: the transaction is durable locally and
		// will be reconciled by the next reconciliation pass.
		s.logger.Debug("ingest: reconciler not wired, deferring",
			zap.String("id", tx.ID),
		)
		return
	}

	// Fire-and-forget: the reconcile round-trips to the ledger store
	// and must stay off the message-processing critical path.
	txCopy := *tx
	go func() {
		rctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.reconciler.ReconcileTransaction(rctx, &txCopy); err != nil {
			s.logger.Warn("ingest: immediate reconcile failed, will retry on next pass",
				zap.String("id", txCopy.ID),
				zap.Error(err),
			)
		}
	}()
}

func (s *IngestService) trustedSender(sender string) bool {
	lower := strings.ToLower(sender)
	for _, t := range s.trusted {
		tl := strings.ToLower(t)
		if lower == tl || strings.Contains(lower, tl) {
			return true
		}
	}
	return false
}

func (s *IngestService) updateQueueGauge() {
	if pending, _, err := s.queue.Counts(); err == nil {
		s.metrics.SetPendingQueueDepth(pending)
	}
}

// ParseOnly runs the parser over a message body with no side effects.
// Returns nil when the text is not a recognized confirmation. Used by
// QA tooling; shares the exact code path with live ingestion.
func (s *IngestService) ParseOnly(body, sender string) *domain.Transaction {
	tx, err := parser.Parse(body, sender)
	if err != nil {
		return nil
	}
	now := time.Now()
	tx.ID = domain.NewTransactionID(tx.ExternalRef, tx.AccountRef, now)
	tx.CreatedAt = now
	return tx
}

// ParseAndPersist runs the full pipeline for a manually submitted
// message: parse, queue locally, request a drain and reconcile
// synchronously. Returns nil when parsing fails.
func (s *IngestService) ParseAndPersist(ctx context.Context, body, sender string) (*domain.Transaction, error) {
	ctx, span := ingestTracer.Start(ctx, "Ingest.ParseAndPersist")
	defer span.End()

	tx, err := parser.Parse(body, sender)
	if err != nil {
		return nil, nil
	}

	now := time.Now()
	tx.ID = domain.NewTransactionID(tx.ExternalRef, tx.AccountRef, now)
	tx.CreatedAt = now

	inserted, err := s.queue.SavePending(tx)
	if err != nil {
		return nil, err
	}
	if inserted {
		s.metrics.IncrMessage(observability.ResultParsed)
		s.updateQueueGauge()
	} else {
		s.metrics.IncrMessage(observability.ResultDuplicate)
	}

	select {
	case s.events <- domain.SyncRequested{Manual: true}:
	default:
	}

	if s.reconciler != nil {
		if _, err := s.reconciler.ReconcileTransaction(ctx, tx); err != nil {
			s.logger.Warn("ingest: manual reconcile failed",
				zap.String("id", tx.ID),
				zap.Error(err),
			)
		}
	}
	return tx, nil
}

// CheckCapabilities reports whether the gateway can receive messages
// and run its background pipeline. In this deployment capabilities are
// granted by configuration rather than a runtime consent dialog.
func (s *IngestService) CheckCapabilities() domain.Capabilities {
	active := s.Active()
	caps := domain.Capabilities{
		Granted:       s.channel != nil || active,
		ChannelActive: active,
	}
	if s.channel == nil {
		caps.Detail = "no message channel configured; webhook ingestion only"
	}
	return caps
}

// RequestCapabilities attempts to acquire what CheckCapabilities
// reports missing. With configuration-granted capabilities the only
// action available is (re)starting the listener.
func (s *IngestService) RequestCapabilities() domain.Capabilities {
	if !s.Active() {
		if err := s.Start(); err != nil {
			caps := s.CheckCapabilities()
			caps.Detail = "listener start failed: " + err.Error()
			return caps
		}
	}
	return s.CheckCapabilities()
}
