package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/peterkariuk1/jobawu-gateway/internal/domain"
	"github.com/peterkariuk1/jobawu-gateway/internal/handler"
	"github.com/peterkariuk1/jobawu-gateway/internal/infra/cache"
	"github.com/peterkariuk1/jobawu-gateway/internal/infra/observability"
	"github.com/peterkariuk1/jobawu-gateway/internal/service"
)

const sampleConfirmation = "Confirmed KES. 7,940.00 to GRACEWANGECHIMUREITHI A/C Ref.Number 11111 Via MPESA Ref UAGH013ERL6 by Dennis Ngumbi Agnes Phone 25479354525 on 10-01-2026 at 10:39.Thank you."

// --- Stubs ---

type stubQueue struct {
	mu      sync.Mutex
	pending []domain.Transaction
	synced  []domain.Transaction
	refs    map[string]struct{}
}

func newStubQueue() *stubQueue {
	return &stubQueue{refs: make(map[string]struct{})}
}

func (q *stubQueue) SavePending(tx *domain.Transaction) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, dup := q.refs[tx.ExternalRef]; dup {
		return false, nil
	}
	q.refs[tx.ExternalRef] = struct{}{}
	q.pending = append(q.pending, *tx)
	return true, nil
}

func (q *stubQueue) ListPending() ([]domain.Transaction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.Transaction(nil), q.pending...), nil
}

func (q *stubQueue) ListSynced() ([]domain.Transaction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.Transaction(nil), q.synced...), nil
}

func (q *stubQueue) MarkSynced(id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, tx := range q.pending {
		if tx.ID == id {
			q.synced = append(q.synced, tx)
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (q *stubQueue) Counts() (int, int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), len(q.synced), nil
}

type stubLedger struct {
	pingErr error
}

func (l *stubLedger) Ping(context.Context) error { return l.pingErr }

func (l *stubLedger) GetBill(_ context.Context, plot, unit string, month, year int) (*domain.Bill, error) {
	return nil, &domain.ErrNotFound{Resource: "bill", ID: unit}
}

func (l *stubLedger) UpsertBill(context.Context, *domain.Bill) error { return nil }

func (l *stubLedger) QueryBillsByPhoneAndPeriod(context.Context, string, int, int) ([]domain.Bill, error) {
	return nil, nil
}

func (l *stubLedger) GetAllPlotsWithUnits(context.Context) ([]domain.Plot, error) {
	return nil, nil
}

func (l *stubLedger) UpsertTransaction(context.Context, *domain.Transaction) error { return nil }

func (l *stubLedger) MarkTransactionReconciled(context.Context, string, time.Time) error {
	return nil
}

func (l *stubLedger) QueryUnreconciledTransactions(context.Context) ([]domain.Transaction, error) {
	return nil, nil
}

// --- Wiring ---

type testEnv struct {
	router http.Handler
	queue  *stubQueue
}

func newTestEnv(t *testing.T, authSvc *service.AuthService) *testEnv {
	t.Helper()

	queue := newStubQueue()
	ledger := &stubLedger{}
	metrics := observability.NewMetrics()
	events := make(chan domain.Event, 8)
	logger := zap.NewNop()

	reconciler := service.NewReconcileService(ledger, cache.New[[]domain.Plot](time.Minute), metrics, logger)
	ingest := service.NewIngestService(nil, queue, nil, events, []string{"MPESA"}, metrics, logger)
	syncMgr := service.NewSyncManager(queue, ledger, events, 2, metrics, logger)

	router := handler.NewRouter(ingest, syncMgr, reconciler, authSvc, queue, ledger, metrics, logger)
	return &testEnv{router: router, queue: queue}
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// --- Tests ---

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var status struct {
		Status       string `json:"status"`
		LedgerOnline bool   `json:"ledger_online"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Status != "healthy" || !status.LedgerOnline {
		t.Errorf("expected healthy/online, got %+v", status)
	}
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t, nil)
	if rec := env.do(http.MethodGet, "/readyz", nil); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	if rec := env.do(http.MethodGet, "/metrics", nil); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestPostMessage_AcceptsAndQueues(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/v1/messages", map[string]any{
		"sender": "MPESA",
		"body":   sampleConfirmation,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodGet, "/v1/transactions/pending", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list struct {
		Count        int                  `json:"count"`
		Transactions []domain.Transaction `json:"transactions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if list.Count != 1 {
		t.Fatalf("expected 1 pending, got %d", list.Count)
	}
	if list.Transactions[0].ExternalRef != "UAGH013ERL6" {
		t.Errorf("expected external_ref UAGH013ERL6, got %s", list.Transactions[0].ExternalRef)
	}
}

func TestPostMessage_Validation(t *testing.T) {
	env := newTestEnv(t, nil)

	if rec := env.do(http.MethodPost, "/v1/messages", map[string]any{"body": "x"}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing sender: expected 400, got %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/v1/messages", map[string]any{"sender": "MPESA"}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing body: expected 400, got %d", rec.Code)
	}
}

func TestParseMessage_NoSideEffects(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/v1/messages/parse", map[string]any{
		"body": sampleConfirmation,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Parsed      bool                `json:"parsed"`
		Transaction *domain.Transaction `json:"transaction"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Parsed || resp.Transaction == nil {
		t.Fatal("expected a parsed transaction")
	}
	if resp.Transaction.AccountRef != "11111" {
		t.Errorf("expected account_ref 11111, got %s", resp.Transaction.AccountRef)
	}
	if pending, _, _ := env.queue.Counts(); pending != 0 {
		t.Errorf("parse without persist must not queue, got %d pending", pending)
	}

	rec = env.do(http.MethodPost, "/v1/messages/parse", map[string]any{
		"body": "totally unrelated text",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Parsed {
		t.Error("expected parsed=false for unrecognized text")
	}
}

func TestSyncNow_DrainsQueue(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/v1/messages", map[string]any{
		"sender": "MPESA",
		"body":   sampleConfirmation,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatal("seed message not accepted")
	}

	rec = env.do(http.MethodPost, "/v1/sync", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Synced int `json:"synced"`
		Failed int `json:"failed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Synced != 1 || resp.Failed != 0 {
		t.Fatalf("expected 1 synced / 0 failed, got %+v", resp)
	}

	pending, synced, _ := env.queue.Counts()
	if pending != 0 || synced != 1 {
		t.Errorf("expected 0 pending / 1 synced, got %d / %d", pending, synced)
	}
}

func TestReconcileRun(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/v1/reconcile/run", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCapabilities(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/v1/capabilities", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var caps domain.Capabilities
	if err := json.Unmarshal(rec.Body.Bytes(), &caps); err != nil {
		t.Fatal(err)
	}
	if caps.Granted {
		t.Error("expected capabilities not granted before listener start")
	}

	rec = env.do(http.MethodPost, "/v1/capabilities/request", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &caps); err != nil {
		t.Fatal(err)
	}
	if !caps.Granted {
		t.Error("expected capabilities granted after request")
	}
}

func TestPipelineMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	env.do(http.MethodPost, "/v1/messages", map[string]any{
		"sender": "MPESA",
		"body":   sampleConfirmation,
	})

	rec := env.do(http.MethodGet, "/v1/metrics/pipeline", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap domain.PipelineMetrics
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.MessagesParsed != 1 {
		t.Errorf("expected 1 parsed, got %d", snap.MessagesParsed)
	}
}

func TestAuth_ProtectsAdminSurface(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("device-key-1"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	authSvc := service.NewAuthService("gateway-01", string(hash), "test-secret", time.Minute, zap.NewNop())
	env := newTestEnv(t, authSvc)

	// No token: rejected.
	rec := env.do(http.MethodPost, "/v1/sync", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	// Capabilities stay public.
	if rec := env.do(http.MethodGet, "/v1/capabilities", nil); rec.Code != http.StatusOK {
		t.Errorf("expected capabilities public, got %d", rec.Code)
	}

	// Bad credentials: no token.
	rec = env.do(http.MethodPost, "/v1/auth/token", map[string]string{
		"device_id": "gateway-01", "device_key": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad key, got %d", rec.Code)
	}

	// Good credentials: token works on the protected surface.
	rec = env.do(http.MethodPost, "/v1/auth/token", map[string]string{
		"device_id": "gateway-01", "device_key": "device-key-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &tok); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/sync", nil)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d: %s", rr.Code, rr.Body.String())
	}
}
