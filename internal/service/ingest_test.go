package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/peterkariuk1/jobawu-gateway/internal/domain"
	"github.com/peterkariuk1/jobawu-gateway/internal/infra/observability"
	"github.com/peterkariuk1/jobawu-gateway/internal/port"
	"github.com/peterkariuk1/jobawu-gateway/internal/service"
)

const sampleConfirmation = "Confirmed KES. 7,940.00 to GRACEWANGECHIMUREITHI A/C Ref.Number 11111 Via MPESA Ref UAGH013ERL6 by Dennis Ngumbi Agnes Phone 25479354525 on 10-01-2026 at 10:39.Thank you."

func newIngest(queue *mockQueue, channel *mockChannel, events chan domain.Event) *service.IngestService {
	// A nil *mockChannel must become a nil interface, not a typed nil.
	var ch port.MessageChannel
	if channel != nil {
		ch = channel
	}
	return service.NewIngestService(
		ch,
		queue,
		nil, // reconciliation picked up by the retry pass
		events,
		[]string{"MPESA"},
		observability.NewMetrics(),
		zap.NewNop(),
	)
}

func TestHandleMessage_QueuesParsedTransaction(t *testing.T) {
	queue := newMockQueue()
	events := make(chan domain.Event, 8)
	svc := newIngest(queue, nil, events)

	svc.HandleMessage(context.Background(), domain.InboundMessage{
		Sender:     "MPESA",
		Parts:      []string{sampleConfirmation},
		ReceivedAt: time.Now(),
	})

	pending, err := queue.ListPending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending transaction, got %d", len(pending))
	}

	tx := pending[0]
	if tx.ExternalRef != "UAGH013ERL6" {
		t.Errorf("expected external_ref UAGH013ERL6, got %s", tx.ExternalRef)
	}
	if !tx.Amount.Equal(decimal.RequireFromString("7940.00")) {
		t.Errorf("expected amount 7940.00, got %s", tx.Amount)
	}
	if tx.AccountRef != "11111" {
		t.Errorf("expected account_ref 11111, got %s", tx.AccountRef)
	}
	if tx.ID == "" || tx.CreatedAt.IsZero() {
		t.Error("expected ID and CreatedAt stamped at ingestion")
	}

	select {
	case ev := <-events:
		q, ok := ev.(domain.TransactionQueued)
		if !ok {
			t.Fatalf("expected TransactionQueued, got %T", ev)
		}
		if q.ExternalRef != "UAGH013ERL6" {
			t.Errorf("expected event for UAGH013ERL6, got %s", q.ExternalRef)
		}
	default:
		t.Fatal("expected a TransactionQueued event")
	}
}

func TestHandleMessage_MultiSegmentReassembly(t *testing.T) {
	queue := newMockQueue()
	svc := newIngest(queue, nil, make(chan domain.Event, 8))

	// The transport splits long messages; the cut can land anywhere,
	// including the middle of the reference code.
	svc.HandleMessage(context.Background(), domain.InboundMessage{
		Sender: "MPESA",
		Parts: []string{
			sampleConfirmation[:60],
			sampleConfirmation[60:],
		},
	})

	pending, _ := queue.ListPending()
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending transaction, got %d", len(pending))
	}
	if pending[0].ExternalRef != "UAGH013ERL6" {
		t.Errorf("expected external_ref UAGH013ERL6, got %s", pending[0].ExternalRef)
	}
}

func TestHandleMessage_DuplicateRedeliveryIsNoOp(t *testing.T) {
	queue := newMockQueue()
	events := make(chan domain.Event, 8)
	svc := newIngest(queue, nil, events)

	msg := domain.InboundMessage{Sender: "MPESA", Parts: []string{sampleConfirmation}}
	svc.HandleMessage(context.Background(), msg)
	svc.HandleMessage(context.Background(), msg)

	pending, _ := queue.ListPending()
	if len(pending) != 1 {
		t.Fatalf("expected redelivery deduplicated, got %d pending", len(pending))
	}
	if len(events) != 1 {
		t.Errorf("expected 1 event, got %d", len(events))
	}
}

func TestHandleMessage_UntrustedSenderDropped(t *testing.T) {
	queue := newMockQueue()
	svc := newIngest(queue, nil, make(chan domain.Event, 8))

	svc.HandleMessage(context.Background(), domain.InboundMessage{
		Sender: "SCAMMER",
		Parts:  []string{sampleConfirmation},
	})

	pending, _ := queue.ListPending()
	if len(pending) != 0 {
		t.Fatalf("expected untrusted message dropped, got %d pending", len(pending))
	}
}

func TestHandleMessage_UnrecognizedTextDropped(t *testing.T) {
	queue := newMockQueue()
	svc := newIngest(queue, nil, make(chan domain.Event, 8))

	svc.HandleMessage(context.Background(), domain.InboundMessage{
		Sender: "MPESA",
		Parts:  []string{"Dear customer, your data bundle expires today."},
	})

	pending, _ := queue.ListPending()
	if len(pending) != 0 {
		t.Fatalf("expected unrecognized message dropped, got %d pending", len(pending))
	}
}

func TestStartStop_ListenerLifecycle(t *testing.T) {
	queue := newMockQueue()
	channel := &mockChannel{}
	svc := newIngest(queue, channel, make(chan domain.Event, 8))

	if svc.Active() {
		t.Fatal("expected listener inactive before Start")
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !svc.Active() {
		t.Fatal("expected listener active after Start")
	}
	// Starting twice is harmless.
	if err := svc.Start(); err != nil {
		t.Fatalf("expected idempotent Start, got %v", err)
	}

	channel.deliver(domain.InboundMessage{Sender: "MPESA", Parts: []string{sampleConfirmation}})
	if pending, _ := queue.ListPending(); len(pending) != 1 {
		t.Fatal("expected delivery through subscription to be queued")
	}

	svc.Stop()
	if svc.Active() {
		t.Fatal("expected listener inactive after Stop")
	}
}

func TestParseOnly_NoSideEffects(t *testing.T) {
	queue := newMockQueue()
	svc := newIngest(queue, nil, make(chan domain.Event, 8))

	tx := svc.ParseOnly(sampleConfirmation, "MPESA")
	if tx == nil {
		t.Fatal("expected a parsed transaction")
	}
	if tx.SenderName != "Dennis Ngumbi Agnes" {
		t.Errorf("expected sender name 'Dennis Ngumbi Agnes', got %q", tx.SenderName)
	}
	if pending, _ := queue.ListPending(); len(pending) != 0 {
		t.Error("ParseOnly must not persist anything")
	}

	if tx := svc.ParseOnly("hello world", "MPESA"); tx != nil {
		t.Errorf("expected nil for unrecognized text, got %+v", tx)
	}
}

func TestParseAndPersist_QueuesAndRequestsSync(t *testing.T) {
	queue := newMockQueue()
	events := make(chan domain.Event, 8)
	svc := newIngest(queue, nil, events)

	tx, err := svc.ParseAndPersist(context.Background(), sampleConfirmation, "MPESA")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if tx == nil {
		t.Fatal("expected a transaction")
	}
	if pending, _ := queue.ListPending(); len(pending) != 1 {
		t.Fatal("expected transaction queued")
	}

	select {
	case ev := <-events:
		if _, ok := ev.(domain.SyncRequested); !ok {
			t.Fatalf("expected SyncRequested, got %T", ev)
		}
	default:
		t.Fatal("expected a SyncRequested event")
	}
}

func TestCheckCapabilities(t *testing.T) {
	svc := newIngest(newMockQueue(), nil, make(chan domain.Event, 1))

	caps := svc.CheckCapabilities()
	if caps.Granted {
		t.Error("expected no capabilities without a channel or active listener")
	}
	if caps.Detail == "" {
		t.Error("expected a detail explaining the missing channel")
	}

	// RequestCapabilities starts the listener, which grants them.
	caps = svc.RequestCapabilities()
	if !caps.Granted || !caps.ChannelActive {
		t.Errorf("expected capabilities granted after request, got %+v", caps)
	}
}
