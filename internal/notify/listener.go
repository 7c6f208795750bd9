package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/pancholabs/pancho-engine/internal/domain"
)

// Listener subscribes to the engine's signal bus channels and forwards round
// lifecycle and claim events to the notifier.
type Listener struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewListener creates a Listener.
func NewListener(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Listener {
	return &Listener{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_listener")),
	}
}

// Run consumes both event channels until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, channel := range []string{domain.ChannelRounds, domain.ChannelClaims} {
		g.Go(func() error {
			err := l.consume(ctx, channel)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

func (l *Listener) consume(ctx context.Context, channel string) error {
	msgCh, err := l.bus.Subscribe(ctx, channel)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", channel, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-msgCh:
			if !ok {
				return fmt.Errorf("notify: channel %s closed", channel)
			}
			l.handle(ctx, payload)
		}
	}
}

// handle decodes an event envelope and forwards it. Malformed payloads are
// dropped with a log line.
func (l *Listener) handle(ctx context.Context, payload []byte) {
	var envelope struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Event == "" {
		l.logger.WarnContext(ctx, "notify: dropping malformed event payload")
		return
	}

	if err := l.notifier.Notify(ctx, renderEvent(envelope.Event, payload)); err != nil {
		l.logger.WarnContext(ctx, "notify: delivery failed",
			slog.String("event", envelope.Event),
			slog.String("error", err.Error()),
		)
	}
}

// renderEvent builds the notification for each event type. Unrecognized
// events pass through with the raw payload as the body so nothing is lost.
func renderEvent(event string, payload []byte) Notification {
	n := Notification{Event: event, Title: event, Body: string(payload)}

	switch event {
	case domain.EventRoundCreated:
		var ev domain.RoundCreatedEvent
		if json.Unmarshal(payload, &ev) == nil {
			n.Title = "Round created"
			n.Body = fmt.Sprintf("market %d round %d, locks at %d, ends at %d",
				ev.Market, ev.RoundID, ev.LockTS, ev.EndTS)
		}
	case domain.EventRoundJoined:
		var ev domain.RoundJoinedEvent
		if json.Unmarshal(payload, &ev) == nil {
			n.Title = "Round joined"
			n.Body = fmt.Sprintf("round %s user %s staked %d on %s",
				ev.Round.Hex(), ev.User.Hex(), ev.Lamports, ev.Side)
		}
	case domain.EventRoundLocked:
		var ev domain.RoundLockedEvent
		if json.Unmarshal(payload, &ev) == nil {
			n.Title = "Round locked"
			n.Body = fmt.Sprintf("round %s locked at price %d (expo %d)",
				ev.Round.Hex(), ev.StartPrice, ev.Expo)
		}
	case domain.EventRoundSettled:
		var ev domain.RoundSettledEvent
		if json.Unmarshal(payload, &ev) == nil {
			n.Title = "Round settled"
			n.Body = fmt.Sprintf("round %s winner=%s fee=%d distributable=%d",
				ev.Round.Hex(), ev.Winner, ev.FeeLamports, ev.Distributable)
		}
	case domain.EventClaimed:
		var ev domain.ClaimedEvent
		if json.Unmarshal(payload, &ev) == nil {
			n.Title = "Payout claimed"
			n.Body = fmt.Sprintf("round %s user %s payout %d lamports",
				ev.Round.Hex(), ev.User.Hex(), ev.Payout)
		}
	}
	return n
}
