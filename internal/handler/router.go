package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/peterkariuk1/jobawu-gateway/internal/infra/observability"
	"github.com/peterkariuk1/jobawu-gateway/internal/port"
	"github.com/peterkariuk1/jobawu-gateway/internal/service"
)

var tracer = otel.Tracer("handler")

// NewRouter creates the HTTP router with all routes and middleware. The
// /v1 surface is the gateway's admin API, used by the landlord app and
// operational tooling; message delivery itself normally arrives through
// the message channel, not HTTP.
func NewRouter(
	ingest *service.IngestService,
	syncMgr *service.SyncManager,
	reconciler *service.ReconcileService,
	authSvc *service.AuthService,
	queue port.TransactionQueue,
	ledger port.LedgerStore,
	metrics *observability.Metrics,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(ingest, syncMgr, queue, ledger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// Public: token issuance and capability status.
		if authSvc != nil {
			r.Post("/auth/token", authTokenHandler(authSvc, logger))
		}
		r.Get("/capabilities", getCapabilitiesHandler(ingest))

		// Admin surface, protected when device auth is configured.
		r.Group(func(r chi.Router) {
			if authSvc != nil {
				r.Use(JWTAuthMiddleware(authSvc, logger))
			}

			// Message ingestion and QA parsing.
			r.Post("/messages", postMessageHandler(ingest, logger))
			r.Post("/messages/parse", parseMessageHandler(ingest, logger))

			// Local queue inspection.
			r.Get("/transactions/pending", listPendingHandler(queue, logger))
			r.Get("/transactions/synced", listSyncedHandler(queue, logger))

			// Pipeline triggers.
			r.Post("/sync", syncNowHandler(syncMgr, logger))
			r.Post("/reconcile/run", reconcileRunHandler(reconciler, logger))

			// Capability acquisition and pipeline counters.
			r.Post("/capabilities/request", requestCapabilitiesHandler(ingest))
			r.Get("/metrics/pipeline", pipelineMetricsHandler(metrics))
		})
	})

	return r
}

type healthStatus struct {
	Status         string `json:"status"`
	ListenerActive bool   `json:"listener_active"`
	LedgerOnline   bool   `json:"ledger_online"`
	SyncOnline     bool   `json:"sync_online"`
	PendingQueued  int    `json:"pending_queued"`
	LedgerLatency  int64  `json:"ledger_latency_ms"`
	CheckedAt      string `json:"checked_at"`
}

func healthzHandler(
	ingest *service.IngestService,
	syncMgr *service.SyncManager,
	queue port.TransactionQueue,
	ledger port.LedgerStore,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		start := time.Now()
		pingErr := ledger.Ping(ctx)
		latency := time.Since(start).Milliseconds()

		pending, _, _ := queue.Counts()

		// The gateway is built to run offline, so an unreachable ledger
		// store only degrades health, it never fails it.
		status := "healthy"
		if pingErr != nil {
			status = "degraded"
		}

		writeJSON(w, http.StatusOK, healthStatus{
			Status:         status,
			ListenerActive: ingest.Active(),
			LedgerOnline:   pingErr == nil,
			SyncOnline:     syncMgr.Online(),
			PendingQueued:  pending,
			LedgerLatency:  latency,
			CheckedAt:      time.Now().Format(time.RFC3339),
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
