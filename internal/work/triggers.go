package work

import (
	"github.com/aristath/coinwatch/internal/events"
)

// RegisterTriggers wires bus events to the processor. A freshly added coin
// gets its warm-up backfill immediately instead of waiting for the sweep.
func RegisterTriggers(bus *events.Bus, processor *Processor) {
	bus.Subscribe(events.CoinAdded, func(*events.Event) {
		processor.Trigger()
	})
}
