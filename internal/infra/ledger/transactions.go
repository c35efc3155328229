package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/peterkariuk1/jobawu-gateway/internal/domain"
	"github.com/peterkariuk1/jobawu-gateway/internal/infra/resilience"
)

// transactionRow maps the transactions table columns.
type transactionRow struct {
	ID           string     `json:"id"`
	Amount       float64    `json:"amount"`
	Currency     string     `json:"currency"`
	Recipient    string     `json:"recipient"`
	AccountRef   string     `json:"account_ref"`
	ExternalRef  string     `json:"external_ref"`
	Method       string     `json:"method"`
	SenderName   string     `json:"sender_name"`
	SenderPhone  string     `json:"sender_phone"`
	TxDate       string     `json:"tx_date"`
	TxTime       string     `json:"tx_time"`
	RawText      string     `json:"raw_text"`
	Source       string     `json:"source"`
	Status       string     `json:"status"`
	Reconciled   bool       `json:"reconciled"`
	ReconciledAt *time.Time `json:"reconciled_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func transactionFromRow(r transactionRow) domain.Transaction {
	return domain.Transaction{
		ID:           r.ID,
		Amount:       decimal.NewFromFloat(r.Amount),
		Currency:     r.Currency,
		Recipient:    r.Recipient,
		AccountRef:   r.AccountRef,
		ExternalRef:  r.ExternalRef,
		Method:       r.Method,
		SenderName:   r.SenderName,
		SenderPhone:  r.SenderPhone,
		Date:         r.TxDate,
		Time:         r.TxTime,
		RawText:      r.RawText,
		Source:       r.Source,
		Status:       domain.TransactionStatus(r.Status),
		Reconciled:   r.Reconciled,
		ReconciledAt: r.ReconciledAt,
		CreatedAt:    r.CreatedAt,
	}
}

func transactionToRow(tx *domain.Transaction) transactionRow {
	return transactionRow{
		ID:           tx.ID,
		Amount:       tx.Amount.InexactFloat64(),
		Currency:     tx.Currency,
		Recipient:    tx.Recipient,
		AccountRef:   tx.AccountRef,
		ExternalRef:  tx.ExternalRef,
		Method:       tx.Method,
		SenderName:   tx.SenderName,
		SenderPhone:  tx.SenderPhone,
		TxDate:       tx.Date,
		TxTime:       tx.Time,
		RawText:      tx.RawText,
		Source:       tx.Source,
		Status:       string(tx.Status),
		Reconciled:   tx.Reconciled,
		ReconciledAt: tx.ReconciledAt,
		CreatedAt:    tx.CreatedAt,
	}
}

// UpsertTransaction writes a transaction document keyed by its id.
// Runs under the circuit breaker with retries: this is the sync drain's
// write path, exercised exactly when connectivity is shaky.
func (c *Client) UpsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	ctx, span := tracer.Start(ctx, "Ledger.UpsertTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", tx.ID))

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			_, err := c.doPost(ctx, "transactions?on_conflict=id",
				transactionToRow(tx), "resolution=merge-duplicates,return=minimal")
			return err
		})
	})
	if err != nil {
		return &domain.ErrExternalService{Service: "ledger/transactions", Err: err}
	}
	return nil
}

// MarkTransactionReconciled flips the reconciled flag on a transaction
// document.
func (c *Client) MarkTransactionReconciled(ctx context.Context, txID string, at time.Time) error {
	ctx, span := tracer.Start(ctx, "Ledger.MarkTransactionReconciled")
	defer span.End()

	err := c.doPatch(ctx, fmt.Sprintf("transactions?id=eq.%s", url.QueryEscape(txID)), map[string]any{
		"reconciled":    true,
		"reconciled_at": at.Format(time.RFC3339),
	})
	if err != nil {
		return &domain.ErrExternalService{Service: "ledger/transactions", Err: err}
	}
	return nil
}

// QueryUnreconciledTransactions lists transactions awaiting a
// reconciliation pass, oldest first.
func (c *Client) QueryUnreconciledTransactions(ctx context.Context) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Ledger.QueryUnreconciledTransactions")
	defer span.End()

	body, err := c.doGet(ctx, "transactions?reconciled=eq.false&order=created_at.asc")
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "ledger/transactions", Err: err}
	}
	if body == nil || string(body) == "[]" {
		return []domain.Transaction{}, nil
	}

	var rows []transactionRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}

	txs := make([]domain.Transaction, 0, len(rows))
	for _, r := range rows {
		txs = append(txs, transactionFromRow(r))
	}
	return txs, nil
}
