package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/aristath/coinwatch/internal/mints"
)

// maxWebhookBody bounds one webhook delivery; Helius batches stay well under
// this.
const maxWebhookBody = 4 << 20

// MintSink ingests webhook transactions.
type MintSink interface {
	Ingest(txs []mints.Transaction) (int, error)
}

// MintMetrics records ingest counts.
type MintMetrics interface {
	RecordMintEvents(n int)
}

// WebhookHandlers receives mint-event deliveries.
type WebhookHandlers struct {
	log     zerolog.Logger
	secret  string
	sink    MintSink
	metrics MintMetrics
}

// NewWebhookHandlers creates the webhook handlers.
func NewWebhookHandlers(log zerolog.Logger, secret string, sink MintSink, metrics MintMetrics) *WebhookHandlers {
	return &WebhookHandlers{
		log:     log.With().Str("component", "webhook_handlers").Logger(),
		secret:  secret,
		sink:    sink,
		metrics: metrics,
	}
}

// HandleHelius handles POST /webhooks/helius. The X-Signature header must
// carry a valid HMAC-SHA256 over the raw body; with no secret configured
// every delivery is refused. Unknown payload fields are ignored, since
// deliveries carry far more than the transfer tuples we keep.
func (h *WebhookHandlers) HandleHelius(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if !mints.VerifySignature(h.secret, body, r.Header.Get("X-Signature")) {
		h.log.Warn().
			Str("remote", r.RemoteAddr).
			Msg("Webhook delivery with bad signature rejected")
		h.writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var txs []mints.Transaction
	if err := json.Unmarshal(body, &txs); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	processed, err := h.sink.Ingest(txs)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to ingest webhook delivery")
		h.writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}

	if h.metrics != nil {
		h.metrics.RecordMintEvents(processed)
	}

	h.writeJSON(w, http.StatusOK, map[string]int{"processed": processed})
}

// writeJSON writes a JSON response
func (h *WebhookHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error response
func (h *WebhookHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
