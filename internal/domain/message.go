package domain

import (
	"strings"
	"time"
)

// InboundMessage is one SMS delivery from the OS message channel. A
// message longer than a single transport segment arrives as ordered
// Parts that must be concatenated before parsing.
type InboundMessage struct {
	Sender     string    `json:"sender"`
	Parts      []string  `json:"parts"`
	ReceivedAt time.Time `json:"received_at"`
}

// Body reassembles the full message text from its segments.
func (m InboundMessage) Body() string {
	return strings.Join(m.Parts, "")
}

// Event is the sum type exchanged between the ingestion listener, the
// connectivity watcher and the sync manager. Consumers switch
// exhaustively on the concrete types below.
type Event interface {
	isEvent()
}

// TransactionQueued fires after a parsed transaction lands in the local
// pending queue.
type TransactionQueued struct {
	TransactionID string
	ExternalRef   string
}

// ConnectivityChanged fires on a reachability transition of the ledger
// store. Edge-triggered: only emitted when the state actually flips.
type ConnectivityChanged struct {
	Online bool
}

// SyncRequested fires on an explicit "sync now" trigger.
type SyncRequested struct {
	Manual bool
}

func (TransactionQueued) isEvent() {}

func (ConnectivityChanged) isEvent() {}

func (SyncRequested) isEvent() {}

var (
	_ Event = TransactionQueued{}
	_ Event = ConnectivityChanged{}
	_ Event = SyncRequested{}
)

// Capabilities reports whether the gateway holds what it needs to
// receive messages and run its background pipeline.
type Capabilities struct {
	Granted       bool   `json:"granted"`
	ChannelActive bool   `json:"channel_active"`
	Detail        string `json:"detail,omitempty"`
}

// PipelineMetrics is the snapshot served by GET /v1/metrics/pipeline.
type PipelineMetrics struct {
	MessagesReceived   int64   `json:"messages_received"`
	MessagesParsed     int64   `json:"messages_parsed"`
	ParseFailures      int64   `json:"parse_failures"`
	UntrustedDropped   int64   `json:"untrusted_dropped"`
	Duplicates         int64   `json:"duplicates"`
	PendingQueueDepth  int64   `json:"pending_queue_depth"`
	SyncedTotal        int64   `json:"synced_total"`
	SyncFailures       int64   `json:"sync_failures"`
	ReconcileApplied   int64   `json:"reconcile_applied"`
	ReconcileCreated   int64   `json:"reconcile_created"`
	ReconcileUnmatched int64   `json:"reconcile_unmatched"`
	ParseSuccessRate   float64 `json:"parse_success_rate"`
}
