package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/coinwatch/internal/clients/telegram"
	"github.com/aristath/coinwatch/internal/events"
	"github.com/rs/zerolog"
)

const (
	senderInterval  = 5 * time.Second
	senderBatchSize = 25
	// shutdownDrainGrace bounds the final drain when the process stops.
	shutdownDrainGrace = 30 * time.Second
)

// ChatSender delivers one message to a chat.
type ChatSender interface {
	Send(ctx context.Context, chatID, text, parseMode string) error
}

// Sender is the single outbox drain loop. Success marks the row sent;
// transient failures leave it for the next pass; permanent failures park the
// row and raise a system alert.
type Sender struct {
	outbox *OutboxRepository
	chat   ChatSender
	bus    *events.Bus
	log    zerolog.Logger
}

// NewSender creates the outbox sender.
func NewSender(outbox *OutboxRepository, chat ChatSender, bus *events.Bus, log zerolog.Logger) *Sender {
	return &Sender{
		outbox: outbox,
		chat:   chat,
		bus:    bus,
		log:    log.With().Str("component", "outbox_sender").Logger(),
	}
}

// Run drains the outbox on a fixed cadence until the context is cancelled,
// then makes one bounded final pass so shutdown does not strand queued alerts.
func (s *Sender) Run(ctx context.Context) {
	s.log.Info().Msg("Outbox sender started")

	ticker := time.NewTicker(senderInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), shutdownDrainGrace)
			s.log.Info().Msg("Draining outbox before shutdown")
			s.Drain(drainCtx)
			cancel()
			s.log.Info().Msg("Outbox sender stopped")
			return
		case <-ticker.C:
			s.Drain(ctx)
		}
	}
}

// Drain delivers pending messages oldest-first until the backlog is empty,
// the channel turns unhealthy, or the context ends.
func (s *Sender) Drain(ctx context.Context) {
	for {
		batch, err := s.outbox.PendingBatch(senderBatchSize)
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to load pending messages")
			return
		}
		if len(batch) == 0 {
			return
		}

		for _, msg := range batch {
			if ctx.Err() != nil {
				return
			}
			if !s.sendOne(ctx, msg.ID, msg.ChatID, msg.Text, msg.Fingerprint) {
				return
			}
		}

		if len(batch) < senderBatchSize {
			return
		}
	}
}

// sendOne attempts one delivery. It returns false when the pass should stop:
// a transient failure means the channel is unhealthy and retrying the rest
// now would only burn the rate budget.
func (s *Sender) sendOne(ctx context.Context, id int64, chatID, text, fingerprint string) bool {
	err := s.chat.Send(ctx, chatID, text, "")
	if err == nil {
		if err := s.outbox.MarkSent(id, time.Now().UTC().Unix()); err != nil {
			s.log.Error().Err(err).Int64("outbox_id", id).Msg("Delivered but failed to mark sent")
			return false
		}
		return true
	}

	if telegram.IsTransient(err) {
		s.log.Warn().Err(err).Int64("outbox_id", id).Msg("Transient send failure; will retry")
		if err := s.outbox.MarkAttempt(id); err != nil {
			s.log.Error().Err(err).Int64("outbox_id", id).Msg("Failed to record send attempt")
		}
		return false
	}

	s.log.Error().Err(err).Int64("outbox_id", id).Msg("Permanent send failure; parking message")
	if markErr := s.outbox.MarkFailedPermanently(id); markErr != nil {
		s.log.Error().Err(markErr).Int64("outbox_id", id).Msg("Failed to park message")
		return false
	}

	// A failed system alert must not spawn another one, or a dead admin chat
	// would grow the outbox forever.
	if !strings.HasPrefix(fingerprint, "system:") {
		s.bus.Emit(events.SystemAlert, "outbox_sender", &events.SystemAlertData{
			Message:     fmt.Sprintf("Alert delivery failed permanently (outbox id %d): %v", id, err),
			Source:      "outbox_sender",
			Fingerprint: fmt.Sprintf("system:send_failed:%d", id),
		})
	}
	return true
}
