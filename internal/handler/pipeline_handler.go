package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/peterkariuk1/jobawu-gateway/internal/infra/observability"
	"github.com/peterkariuk1/jobawu-gateway/internal/service"
)

// ============================================================
// Pipeline triggers — POST /v1/sync, POST /v1/reconcile/run
// ============================================================

type syncResponse struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// syncNowHandler triggers an immediate drain of the pending queue,
// bypassing the connectivity watcher's last verdict.
func syncNowHandler(syncMgr *service.SyncManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/sync")
		defer span.End()

		synced, failed, err := syncMgr.SyncNow(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, syncResponse{Synced: synced, Failed: failed})
	}
}

type reconcileRunResponse struct {
	Applied int `json:"applied"`
}

// reconcileRunHandler re-runs reconciliation over every transaction the
// ledger store still holds unreconciled.
func reconcileRunHandler(reconciler *service.ReconcileService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/reconcile/run")
		defer span.End()

		applied, err := reconciler.ReconcilePending(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, reconcileRunResponse{Applied: applied})
	}
}

// ============================================================
// Capabilities — GET /v1/capabilities, POST /v1/capabilities/request
// ============================================================

func getCapabilitiesHandler(ingest *service.IngestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ingest.CheckCapabilities())
	}
}

func requestCapabilitiesHandler(ingest *service.IngestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ingest.RequestCapabilities())
	}
}

// ============================================================
// Pipeline counters — GET /v1/metrics/pipeline
// ============================================================

func pipelineMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetPipelineSnapshot())
	}
}
