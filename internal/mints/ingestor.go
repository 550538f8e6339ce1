package mints

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/aristath/coinwatch/internal/domain"
)

// dedupCacheSize bounds the in-process mint dedup window. Helius redelivers
// bursts of transfers for the same mint; the cache absorbs those without a
// database round-trip.
const dedupCacheSize = 4096

// Transaction is one element of the enhanced-webhook payload. Only the
// fields the ingestor reads are mapped; the payload carries much more.
type Transaction struct {
	Signature      string     `json:"signature"`
	Timestamp      int64      `json:"timestamp"`
	Type           string     `json:"type"`
	TokenTransfers []Transfer `json:"tokenTransfers"`
}

// Transfer is one token movement inside a transaction.
type Transfer struct {
	Mint           string          `json:"mint"`
	RawTokenAmount *RawTokenAmount `json:"rawTokenAmount"`
}

// RawTokenAmount carries the mint's decimals when the payload includes them.
type RawTokenAmount struct {
	Decimals int64 `json:"decimals"`
}

// mintTransfer returns the first transfer that names a mint, with its
// decimals when present.
func (t *Transaction) mintTransfer() (string, *int64) {
	for _, transfer := range t.TokenTransfers {
		if transfer.Mint == "" {
			continue
		}
		var decimals *int64
		if transfer.RawTokenAmount != nil {
			d := transfer.RawTokenAmount.Decimals
			decimals = &d
		}
		return transfer.Mint, decimals
	}
	return "", nil
}

// Ingestor turns webhook transactions into mint event rows. A mint seen
// recently (LRU) is skipped outright; a mint never recorded before is
// flagged is_first. The heuristic is best-effort under concurrent delivery.
type Ingestor struct {
	repo *Repository
	seen *lru.Cache[string, struct{}]
	log  zerolog.Logger
}

// NewIngestor creates a mint ingestor.
func NewIngestor(repo *Repository, log zerolog.Logger) *Ingestor {
	seen, _ := lru.New[string, struct{}](dedupCacheSize)
	return &Ingestor{
		repo: repo,
		seen: seen,
		log:  log.With().Str("component", "mint_ingestor").Logger(),
	}
}

// Ingest processes one webhook delivery and returns the number of rows
// persisted. Invalid tuples and duplicates are skipped; a database failure
// aborts the batch.
func (ing *Ingestor) Ingest(txs []Transaction) (int, error) {
	processed := 0
	skipped := 0
	duplicates := 0

	for _, tx := range txs {
		signature := strings.TrimSpace(tx.Signature)
		mint, decimals := tx.mintTransfer()
		if signature == "" || mint == "" {
			skipped++
			continue
		}

		if ing.seen.Contains(mint) {
			duplicates++
			continue
		}

		hasMint, err := ing.repo.HasMint(mint)
		if err != nil {
			return processed, err
		}

		ts := tx.Timestamp
		if ts <= 0 {
			ts = time.Now().UTC().Unix()
		}

		inserted, err := ing.repo.Insert(&domain.MintEvent{
			Signature: signature,
			Mint:      mint,
			Timestamp: ts,
			Decimals:  decimals,
			IsFirst:   !hasMint,
		})
		if err != nil {
			return processed, err
		}

		ing.seen.Add(mint, struct{}{})
		if !inserted {
			duplicates++
			continue
		}
		processed++
	}

	event := ing.log.Debug()
	if processed > 0 {
		event = ing.log.Info()
	}
	event.
		Int("received", len(txs)).
		Int("processed", processed).
		Int("skipped", skipped).
		Int("duplicates", duplicates).
		Msg("Webhook delivery ingested")

	return processed, nil
}

// VerifySignature checks an HMAC-SHA256 hex signature over the raw request
// body. A "sha256=" prefix on the header value is tolerated. An empty secret
// never verifies; the handler must refuse deliveries rather than accept
// unsigned ones.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		return false
	}

	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}
