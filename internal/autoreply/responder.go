// Package autoreply answers freshly persisted alerts in groups that have
// an auto-reply configured.
package autoreply

import (
	"context"
	"time"

	"github.com/rikseotools/vence-sub014/internal/bus"
	"github.com/rikseotools/vence-sub014/internal/dispatch"
	"github.com/rikseotools/vence-sub014/internal/monitor"
	"github.com/rikseotools/vence-sub014/internal/store"
	"go.uber.org/zap"
)

// replyTimeout caps how long a single auto-reply send may take.
const replyTimeout = 30 * time.Second

// Responder listens for created alerts and replies with the group's
// configured text. Groups without an auto-reply are left alone. Send
// failures are logged and dropped: an auto-reply is best-effort and is
// never retried.
type Responder struct {
	mon    *monitor.Monitor
	disp   *dispatch.Dispatcher
	bus    *bus.Bus
	logger *zap.Logger

	quit chan struct{}
	done chan struct{}
	stop func()
}

// New creates a responder. Call Run to start it.
func New(mon *monitor.Monitor, disp *dispatch.Dispatcher, b *bus.Bus, logger *zap.Logger) *Responder {
	return &Responder{mon: mon, disp: disp, bus: b, logger: logger}
}

// Run subscribes to created alerts and replies until Close.
func (r *Responder) Run() {
	ch, unsub := r.bus.Subscribe(monitor.KindAlertCreated, 64)
	r.quit = make(chan struct{})
	r.done = make(chan struct{})
	r.stop = unsub

	go func() {
		defer close(r.done)
		for {
			select {
			case evt := <-ch:
				r.respond(evt)
			case <-r.quit:
				return
			}
		}
	}()
}

func (r *Responder) respond(evt bus.Event) {
	alert, ok := evt.Payload.(*store.Alert)
	if !ok {
		return
	}
	text, ok := r.mon.AutoReplyFor(alert.GroupID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()

	res := r.disp.ReplyToMessage(ctx, alert.GroupID, alert.MessageID, text)
	if !res.Success {
		r.logger.Warn("auto-reply failed",
			zap.String("group_id", alert.GroupID),
			zap.Int("message_id", alert.MessageID),
			zap.String("error", res.Error))
		return
	}
	r.logger.Info("auto-reply sent",
		zap.String("group_id", alert.GroupID),
		zap.Int("message_id", alert.MessageID))
}

// Close unsubscribes and waits for the loop to exit.
func (r *Responder) Close() {
	if r.stop == nil {
		return
	}
	r.stop()
	r.stop = nil
	close(r.quit)
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
}
