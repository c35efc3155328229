package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/peterkariuk1/jobawu-gateway/internal/domain"
	"github.com/peterkariuk1/jobawu-gateway/internal/infra/observability"
	"github.com/peterkariuk1/jobawu-gateway/internal/port"
)

var reconcileTracer = otel.Tracer("service/reconcile")

const plotCacheKey = "plots"

// ReconcileService matches bank transactions against rent bills in the
// ledger store: resolve the paying phone to a unit, apply the amount to
// that unit's bill for the billing period, auto-create the bill with
// prior-period carry-forward when it does not exist yet.
type ReconcileService struct {
	ledger  port.LedgerStore
	plots   port.Cache[[]domain.Plot]
	metrics *observability.Metrics
	logger  *zap.Logger

	// mu serializes the read-modify-write on bills so concurrent
	// reconcile triggers (immediate path racing a retry pass) cannot
	// double-apply a payment.
	mu sync.Mutex
}

func NewReconcileService(
	ledger port.LedgerStore,
	plots port.Cache[[]domain.Plot],
	metrics *observability.Metrics,
	logger *zap.Logger,
) *ReconcileService {
	return &ReconcileService{
		ledger:  ledger,
		plots:   plots,
		metrics: metrics,
		logger:  logger,
	}
}

// ReconcileTransaction reconciles one transaction against the billing
// period printed on its confirmation text.
func (s *ReconcileService) ReconcileTransaction(ctx context.Context, tx *domain.Transaction) (string, error) {
	return s.Reconcile(ctx, tx, periodOf(tx))
}

// Reconcile applies one bank transaction to the matching bill for the
// given period. Returns the bill id on success, or "" with a nil error
// when the transaction needs manual attention (no unit matches the
// paying phone, or it was already reconciled). A non-nil error means
// the ledger store could not confirm the write; the transaction's
// reconciled flag stays false and a later pass retries it.
func (s *ReconcileService) Reconcile(ctx context.Context, tx *domain.Transaction, period domain.Period) (string, error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperationDuration("reconcile", time.Since(start)) }()

	ctx, span := reconcileTracer.Start(ctx, "Reconcile.Apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("tx.id", tx.ID),
		attribute.String("bill.period", period.String()),
	)

	if tx.Reconciled {
		s.logger.Debug("reconcile: transaction already reconciled",
			zap.String("id", tx.ID),
		)
		return "", nil
	}

	plotID, unit, found, err := s.resolveUnit(ctx, tx.SenderPhone)
	if err != nil {
		s.metrics.IncrReconcile(observability.OutcomeError)
		return "", err
	}
	if !found {
		s.metrics.IncrReconcile(observability.OutcomeUnmatched)
		s.logger.Info("reconcile: no unit matches paying phone, needs manual attention",
			zap.String("id", tx.ID),
			zap.String("sender_phone", tx.SenderPhone),
		)
		return "", nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	outcome := observability.OutcomeApplied

	bill, err := s.ledger.GetBill(ctx, plotID, unit.Code, period.Month, period.Year)
	var notFound *domain.ErrNotFound
	switch {
	case err == nil:
	case errors.As(err, &notFound):
		carry, cerr := s.carryForward(ctx, plotID, unit.Code, period.Previous())
		if cerr != nil {
			s.metrics.IncrReconcile(observability.OutcomeError)
			return "", cerr
		}
		bill = domain.NewBill(plotID, unit, period, carry, now)
		outcome = observability.OutcomeCreated
		s.logger.Info("reconcile: auto-creating bill",
			zap.String("plot", plotID),
			zap.String("unit", unit.Code),
			zap.String("period", period.String()),
			zap.String("carry_forward", carry.String()),
		)
	default:
		s.metrics.IncrReconcile(observability.OutcomeError)
		s.metrics.IncrLedgerError("get_bill")
		return "", err
	}

	// A previous attempt may have written the bill and then failed to
	// flag the transaction. Re-applying would double-count, so when the
	// bill already references this transaction only the flag is redone.
	if bill.TransactionRef != tx.ID {
		bill.ApplyBankPayment(tx.Amount, tx.ID, now)
		if err := s.ledger.UpsertBill(ctx, bill); err != nil {
			s.metrics.IncrReconcile(observability.OutcomeError)
			s.metrics.IncrLedgerError("upsert_bill")
			return "", err
		}
	}

	if err := s.ledger.MarkTransactionReconciled(ctx, tx.ID, now); err != nil {
		// Bill is written; the unreconciled flag makes the next pass
		// land in the branch above and finish the job.
		s.metrics.IncrReconcile(observability.OutcomeError)
		s.metrics.IncrLedgerError("mark_reconciled")
		return "", err
	}

	tx.Reconciled = true
	tx.ReconciledAt = &now

	s.metrics.IncrReconcile(outcome)
	s.logger.Info("reconcile: payment applied",
		zap.String("tx_id", tx.ID),
		zap.String("bill_id", bill.ID),
		zap.String("amount", tx.Amount.String()),
		zap.String("balance", bill.Balance.String()),
		zap.Bool("paid", bill.Paid),
	)
	return bill.ID, nil
}

// ReconcilePending re-runs reconciliation for every transaction the
// ledger store still holds unreconciled. Per-transaction failures are
// logged and skipped so one bad record cannot stall the pass. Returns
// the number of transactions reconciled to a bill.
func (s *ReconcileService) ReconcilePending(ctx context.Context) (int, error) {
	ctx, span := reconcileTracer.Start(ctx, "Reconcile.Pending")
	defer span.End()

	txs, err := s.ledger.QueryUnreconciledTransactions(ctx)
	if err != nil {
		s.metrics.IncrLedgerError("query_unreconciled")
		return 0, err
	}

	applied := 0
	for i := range txs {
		tx := txs[i]
		billID, err := s.Reconcile(ctx, &tx, periodOf(&tx))
		if err != nil {
			s.logger.Warn("reconcile: retry pass entry failed",
				zap.String("id", tx.ID),
				zap.Error(err),
			)
			continue
		}
		if billID != "" {
			applied++
		}
	}

	s.logger.Info("reconcile: retry pass complete",
		zap.Int("candidates", len(txs)),
		zap.Int("applied", applied),
	)
	return applied, nil
}

// InvalidatePlots drops the cached plot listing so the next resolution
// refetches tenant assignments.
func (s *ReconcileService) InvalidatePlots() {
	s.plots.Delete(plotCacheKey)
}

func (s *ReconcileService) resolveUnit(ctx context.Context, phone string) (string, domain.Unit, bool, error) {
	plots, ok := s.plots.Get(plotCacheKey)
	if !ok {
		var err error
		plots, err = s.ledger.GetAllPlotsWithUnits(ctx)
		if err != nil {
			s.metrics.IncrLedgerError("get_plots")
			return "", domain.Unit{}, false, fmt.Errorf("loading plots: %w", err)
		}
		s.plots.Set(plotCacheKey, plots)
	}

	key := phoneKey(phone)
	if key == "" {
		return "", domain.Unit{}, false, nil
	}
	for _, plot := range plots {
		for _, unit := range plot.Units {
			if phoneKey(unit.TenantPhone) == key {
				return plot.ID, unit, true, nil
			}
		}
	}
	return "", domain.Unit{}, false, nil
}

// carryForward looks up the prior period's bill and returns the credit
// it grants. A missing prior bill means zero credit; a ledger failure
// aborts the reconcile so it can retry with full information.
func (s *ReconcileService) carryForward(ctx context.Context, plot, unit string, prev domain.Period) (decimal.Decimal, error) {
	bill, err := s.ledger.GetBill(ctx, plot, unit, prev.Month, prev.Year)
	if err != nil {
		var notFound *domain.ErrNotFound
		if errors.As(err, &notFound) {
			return decimal.Zero, nil
		}
		s.metrics.IncrLedgerError("get_bill")
		return decimal.Zero, fmt.Errorf("loading prior bill for carry-forward: %w", err)
	}
	return bill.CarryForwardCredit(), nil
}

// periodOf derives the billing period from the date the bank printed on
// the confirmation (DD-MM-YYYY), falling back to the local receive time
// when that field does not parse.
func periodOf(tx *domain.Transaction) domain.Period {
	if t, err := time.Parse("02-01-2006", tx.Date); err == nil {
		return domain.Period{Month: int(t.Month()), Year: t.Year()}
	}
	if t, err := time.Parse("2-1-2006", tx.Date); err == nil {
		return domain.Period{Month: int(t.Month()), Year: t.Year()}
	}
	return domain.Period{Month: int(tx.CreatedAt.Month()), Year: tx.CreatedAt.Year()}
}

// phoneKey normalizes a phone number for matching: digits only, leading
// zeros and country code stripped down to the 9-digit subscriber core.
// Lets "0712345678", "254712345678" and "+254 712 345 678" all match.
func phoneKey(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := strings.TrimLeft(b.String(), "0")
	if len(digits) > 9 {
		digits = digits[len(digits)-9:]
	}
	return digits
}
