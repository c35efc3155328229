package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/peterkariuk1/jobawu-gateway/internal/domain"
	"github.com/peterkariuk1/jobawu-gateway/internal/port"
)

// ============================================================
// Local queue inspection — GET /v1/transactions/{pending,synced}
// ============================================================

type transactionListResponse struct {
	Count        int                  `json:"count"`
	Transactions []domain.Transaction `json:"transactions"`
}

func listPendingHandler(queue port.TransactionQueue, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/transactions/pending")
		defer span.End()

		txs, err := queue.ListPending()
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, transactionListResponse{Count: len(txs), Transactions: txs})
	}
}

func listSyncedHandler(queue port.TransactionQueue, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/transactions/synced")
		defer span.End()

		txs, err := queue.ListSynced()
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, transactionListResponse{Count: len(txs), Transactions: txs})
	}
}
