package monitor

import (
	"time"

	"github.com/rikseotools/vence-sub014/internal/bus"
	"github.com/rikseotools/vence-sub014/internal/store"
	"go.uber.org/zap"
)

// KindAlertCreated is published after a hit is persisted for the first
// time. Duplicate hits produce no event.
const KindAlertCreated = "alert.created"

// Ingester drains hit events from the bus and persists them. Running it
// on its own goroutine keeps database writes off the message handler.
type Ingester struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	quit chan struct{}
	done chan struct{}
	stop func()
}

// NewIngester creates an ingester. Call Run to start draining.
func NewIngester(db *store.DB, b *bus.Bus, logger *zap.Logger) *Ingester {
	return &Ingester{db: db, bus: b, logger: logger}
}

// Run subscribes to hit events and persists them until Close. Persistence
// failures are logged and skipped; one bad row must not stall the stream.
func (i *Ingester) Run() {
	ch, unsub := i.bus.Subscribe(KindHit, 256)
	i.quit = make(chan struct{})
	i.done = make(chan struct{})
	i.stop = unsub

	go func() {
		defer close(i.done)
		for {
			select {
			case evt := <-ch:
				i.ingest(evt)
			case <-i.quit:
				// Drain what is already buffered before exiting.
				for {
					select {
					case evt := <-ch:
						i.ingest(evt)
					default:
						return
					}
				}
			}
		}
	}()
}

func (i *Ingester) ingest(evt bus.Event) {
	alert, ok := evt.Payload.(*store.Alert)
	if !ok {
		return
	}
	inserted, err := i.db.InsertAlert(alert)
	if err != nil {
		i.logger.Error("persist alert",
			zap.String("group_id", alert.GroupID),
			zap.Int("message_id", alert.MessageID),
			zap.Error(err))
		return
	}
	if !inserted {
		return
	}
	i.bus.Publish(bus.Event{Kind: KindAlertCreated, Timestamp: time.Now(), Payload: alert})
}

// Close unsubscribes and waits for the drain goroutine to exit.
func (i *Ingester) Close() {
	if i.stop == nil {
		return
	}
	i.stop()
	i.stop = nil
	close(i.quit)
	select {
	case <-i.done:
	case <-time.After(2 * time.Second):
	}
}
