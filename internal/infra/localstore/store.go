// Package localstore persists parsed transactions on local disk in a
// bbolt database, partitioned into a pending set (not yet confirmed
// written to the ledger store) and a synced set. Entries survive
// process restarts; the whole pipeline state is reconstructed from this
// file on cold start.
package localstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/peterkariuk1/jobawu-gateway/internal/domain"
)

var (
	bucketPending = []byte("pending")
	bucketSynced  = []byte("synced")
	// bucketRefs maps external reference -> transaction id. A hit here
	// is the single dedup gate for redelivered messages, regardless of
	// which set the original landed in.
	bucketRefs = []byte("refs")
)

// Store is a durable transaction queue. All methods are safe for
// concurrent use; bbolt serializes writers internally.
type Store struct {
	db     *bolt.DB
	logger *zap.Logger
}

// Open opens (or creates) the queue database at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, &domain.ErrLocalStore{Op: "open", Err: err}
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketPending, bucketSynced, bucketRefs} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, &domain.ErrLocalStore{Op: "init", Err: err}
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SavePending inserts a transaction into the pending set. Returns false
// without writing when the external reference is already known: the
// message is a redelivery and must not produce a second record.
func (s *Store) SavePending(tx *domain.Transaction) (bool, error) {
	inserted := false

	err := s.db.Update(func(btx *bolt.Tx) error {
		refs := btx.Bucket(bucketRefs)
		if existing := refs.Get([]byte(tx.ExternalRef)); existing != nil {
			s.logger.Debug("localstore: duplicate external reference",
				zap.String("external_ref", tx.ExternalRef),
				zap.String("existing_id", string(existing)),
			)
			return nil
		}

		raw, err := json.Marshal(tx)
		if err != nil {
			return fmt.Errorf("marshal transaction: %w", err)
		}
		if err := btx.Bucket(bucketPending).Put([]byte(tx.ID), raw); err != nil {
			return err
		}
		if err := refs.Put([]byte(tx.ExternalRef), []byte(tx.ID)); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, &domain.ErrLocalStore{Op: "save", Err: err}
	}

	if inserted {
		s.logger.Debug("localstore: queued pending transaction",
			zap.String("id", tx.ID),
			zap.String("external_ref", tx.ExternalRef),
		)
	}
	return inserted, nil
}

// ListPending returns the pending set ordered by ingestion time.
func (s *Store) ListPending() ([]domain.Transaction, error) {
	return s.list(bucketPending)
}

// ListSynced returns the synced set ordered by ingestion time.
func (s *Store) ListSynced() ([]domain.Transaction, error) {
	return s.list(bucketSynced)
}

func (s *Store) list(bucket []byte) ([]domain.Transaction, error) {
	var out []domain.Transaction

	err := s.db.View(func(btx *bolt.Tx) error {
		return btx.Bucket(bucket).ForEach(func(_, raw []byte) error {
			var tx domain.Transaction
			if err := json.Unmarshal(bytes.Clone(raw), &tx); err != nil {
				return fmt.Errorf("unmarshal transaction: %w", err)
			}
			out = append(out, tx)
			return nil
		})
	})
	if err != nil {
		return nil, &domain.ErrLocalStore{Op: "list", Err: err}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// MarkSynced moves an entry from pending to synced. The move happens at
// most once: a second call for the same id (or a call for an unknown
// id) returns false and leaves the sets untouched.
func (s *Store) MarkSynced(id string) (bool, error) {
	moved := false

	err := s.db.Update(func(btx *bolt.Tx) error {
		pending := btx.Bucket(bucketPending)
		raw := pending.Get([]byte(id))
		if raw == nil {
			return nil
		}

		if err := btx.Bucket(bucketSynced).Put([]byte(id), bytes.Clone(raw)); err != nil {
			return err
		}
		if err := pending.Delete([]byte(id)); err != nil {
			return err
		}
		moved = true
		return nil
	})
	if err != nil {
		return false, &domain.ErrLocalStore{Op: "mark_synced", Err: err}
	}
	return moved, nil
}

// Counts reports the sizes of both sets.
func (s *Store) Counts() (pending, synced int, err error) {
	err = s.db.View(func(btx *bolt.Tx) error {
		pending = btx.Bucket(bucketPending).Stats().KeyN
		synced = btx.Bucket(bucketSynced).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, 0, &domain.ErrLocalStore{Op: "counts", Err: err}
	}
	return pending, synced, nil
}
