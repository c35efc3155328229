package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/peterkariuk1/jobawu-gateway/internal/domain"
	"github.com/peterkariuk1/jobawu-gateway/internal/service"
)

// ============================================================
// Message ingestion — POST /v1/messages
// ============================================================

type inboundMessageRequest struct {
	Sender     string    `json:"sender"`
	Body       string    `json:"body,omitempty"`
	Parts      []string  `json:"parts,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// postMessageHandler feeds a message through the exact pipeline a
// channel delivery takes: trust filter, parser, local queue, sync
// trigger. Used by the device bridge when the broker is unavailable.
func postMessageHandler(svc *service.IngestService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/messages")
		defer span.End()

		var req inboundMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Sender == "" {
			writeError(w, http.StatusBadRequest, "sender is required")
			return
		}
		parts := req.Parts
		if len(parts) == 0 {
			if req.Body == "" {
				writeError(w, http.StatusBadRequest, "body or parts is required")
				return
			}
			parts = []string{req.Body}
		}
		span.SetAttributes(attribute.String("sms.sender", req.Sender))

		svc.HandleMessage(ctx, domain.InboundMessage{
			Sender:     req.Sender,
			Parts:      parts,
			ReceivedAt: req.ReceivedAt,
		})

		// The pipeline absorbs all per-message failures; delivery
		// accepted is all the bridge needs to know.
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

// ============================================================
// QA parsing — POST /v1/messages/parse
// ============================================================

type parseMessageRequest struct {
	Body    string `json:"body"`
	Sender  string `json:"sender,omitempty"`
	Persist bool   `json:"persist,omitempty"`
}

type parseMessageResponse struct {
	Parsed      bool                `json:"parsed"`
	Transaction *domain.Transaction `json:"transaction,omitempty"`
}

// parseMessageHandler runs the parser over arbitrary text. With
// persist=false this has no side effects at all; with persist=true the
// result is queued and reconciled like a live delivery.
func parseMessageHandler(svc *service.IngestService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/messages/parse")
		defer span.End()

		var req parseMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Body == "" {
			writeError(w, http.StatusBadRequest, "body is required")
			return
		}
		sender := req.Sender
		if sender == "" {
			sender = "manual"
		}

		if !req.Persist {
			tx := svc.ParseOnly(req.Body, sender)
			writeJSON(w, http.StatusOK, parseMessageResponse{Parsed: tx != nil, Transaction: tx})
			return
		}

		tx, err := svc.ParseAndPersist(ctx, req.Body, sender)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, parseMessageResponse{Parsed: tx != nil, Transaction: tx})
	}
}
