// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the service
// layer from concrete implementations: the NSQ message channel, the
// bbolt-backed local queue and the remote ledger store.
package port

import (
	"context"
	"time"

	"github.com/peterkariuk1/jobawu-gateway/internal/domain"
)

// MessageHandler consumes one inbound SMS delivery. Implementations
// must absorb all parse and persistence failures themselves; the
// channel never retries on handler error.
type MessageHandler func(ctx context.Context, msg domain.InboundMessage)

// MessageChannel delivers raw inbound text messages. Deliveries carry
// no acknowledgment semantics towards the sender and may repeat (e.g. a
// broker redelivery racing a process restart).
type MessageChannel interface {
	// Subscribe registers the handler and starts delivery. The
	// subscription lives until ctx is cancelled or Close is called.
	Subscribe(ctx context.Context, handler MessageHandler) error
	Close() error
}

// TransactionQueue is the durable device-local store partitioning
// transactions into pending (not yet confirmed written to the ledger
// store) and synced sets.
type TransactionQueue interface {
	// SavePending inserts a transaction into the pending set. Returns
	// false if an entry with the same external reference already exists
	// in either set; the duplicate is not inserted.
	SavePending(tx *domain.Transaction) (bool, error)
	ListPending() ([]domain.Transaction, error)
	ListSynced() ([]domain.Transaction, error)
	// MarkSynced moves an entry from pending to synced. Returns false
	// if the id is not in the pending set.
	MarkSynced(id string) (bool, error)
	// Counts reports the current set sizes, used for the queue gauge.
	Counts() (pending, synced int, err error)
}

// LedgerStore is the remote document store holding plots, bills and the
// shared transaction log.
type LedgerStore interface {
	// Ping reports reachability; used by the connectivity watcher.
	Ping(ctx context.Context) error

	GetBill(ctx context.Context, plot, unit string, month, year int) (*domain.Bill, error)
	UpsertBill(ctx context.Context, bill *domain.Bill) error
	QueryBillsByPhoneAndPeriod(ctx context.Context, phone string, month, year int) ([]domain.Bill, error)

	GetAllPlotsWithUnits(ctx context.Context) ([]domain.Plot, error)

	// UpsertTransaction writes a transaction document keyed by its id;
	// a rewrite of the same id is a merge, so retries are safe.
	UpsertTransaction(ctx context.Context, tx *domain.Transaction) error
	MarkTransactionReconciled(ctx context.Context, txID string, at time.Time) error
	QueryUnreconciledTransactions(ctx context.Context) ([]domain.Transaction, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
