package alerts

import (
	"github.com/aristath/coinwatch/internal/domain"
	"github.com/aristath/coinwatch/internal/events"
	"github.com/rs/zerolog"
)

// Dispatcher turns bus events into queued chat messages. Trigger alerts go to
// the group chat, operational notices to the admin chat.
type Dispatcher struct {
	outbox    *OutboxRepository
	adminChat string
	groupChat string
	log       zerolog.Logger
}

// NewDispatcher creates a dispatcher. groupChat may equal adminChat when no
// separate group is configured.
func NewDispatcher(outbox *OutboxRepository, adminChat, groupChat string, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		outbox:    outbox,
		adminChat: adminChat,
		groupChat: groupChat,
		log:       log.With().Str("component", "alert_dispatcher").Logger(),
	}
}

// SetChats swaps the destination chats at runtime (settings overlay). Must be
// called before evaluation traffic starts.
func (d *Dispatcher) SetChats(adminChat, groupChat string) {
	d.adminChat = adminChat
	d.groupChat = groupChat
}

// Register wires the dispatcher onto the bus. Called once at startup.
func (d *Dispatcher) Register(bus *events.Bus) {
	bus.Subscribe(events.LongTrigger, d.handleLongTrigger)
	bus.Subscribe(events.HotAlert, d.handleHotAlert)
	bus.Subscribe(events.SystemAlert, d.handleSystemAlert)
}

func (d *Dispatcher) handleLongTrigger(event *events.Event) {
	data, ok := event.Data.(*events.LongTriggerData)
	if !ok {
		return
	}
	d.enqueue(d.groupChat, FormatLongTrigger(data), data.Fingerprint, event.Timestamp.Unix())
}

func (d *Dispatcher) handleHotAlert(event *events.Event) {
	data, ok := event.Data.(*events.HotAlertData)
	if !ok {
		return
	}
	d.enqueue(d.groupChat, FormatHotAlert(data), data.Fingerprint, event.Timestamp.Unix())
}

func (d *Dispatcher) handleSystemAlert(event *events.Event) {
	data, ok := event.Data.(*events.SystemAlertData)
	if !ok {
		return
	}
	d.enqueue(d.adminChat, FormatSystemAlert(data), data.Fingerprint, event.Timestamp.Unix())
}

func (d *Dispatcher) enqueue(chatID, text, fingerprint string, ts int64) {
	if fingerprint == "" {
		d.log.Warn().Str("chat_id", chatID).Msg("Alert without fingerprint; dropping")
		return
	}

	inserted, err := d.outbox.Enqueue(&domain.OutboxMessage{
		Timestamp:   ts,
		ChatID:      chatID,
		Text:        text,
		Fingerprint: fingerprint,
	})
	if err != nil {
		d.log.Error().Err(err).Str("fingerprint", fingerprint).Msg("Failed to enqueue alert")
		return
	}
	if !inserted {
		d.log.Debug().Str("fingerprint", fingerprint).Msg("Alert already queued")
	}
}
