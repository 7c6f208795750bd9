// Package notify pushes round lifecycle alerts to operator channels. Every
// alert is derived from one engine event; senders receive the event name
// alongside the rendered text so each channel can style by event type.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pancholabs/pancho-engine/internal/domain"
)

// Notification is one operator alert derived from an engine event.
type Notification struct {
	Event string // engine event name, e.g. domain.EventRoundSettled
	Title string
	Body  string
}

// Sender delivers notifications over one channel.
type Sender interface {
	Send(ctx context.Context, n Notification) error
	// Name identifies the channel in logs and combined errors.
	Name() string
}

// knownEvents is the engine's event vocabulary. Configured filters are
// checked against it so a typo in the config is reported instead of silently
// muting a channel.
var knownEvents = map[string]bool{
	domain.EventRoundCreated: true,
	domain.EventRoundJoined:  true,
	domain.EventRoundLocked:  true,
	domain.EventRoundSettled: true,
	domain.EventClaimed:      true,
}

// defaultEvents is the filter used when none is configured: the two events
// that move funds.
var defaultEvents = []string{domain.EventRoundSettled, domain.EventClaimed}

// Notifier fans notifications out to its senders, filtered by event name.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. events
// selects which engine events are forwarded; unknown names are dropped with
// a warning, and an empty list falls back to the settlement events.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	logger = logger.With(slog.String("component", "notifier"))

	if len(events) == 0 {
		events = defaultEvents
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		name := strings.ToLower(strings.TrimSpace(e))
		if name == "" {
			continue
		}
		if !knownEvents[name] {
			logger.Warn("unknown event in notify filter",
				slog.String("event", name),
			)
			continue
		}
		allowed[name] = true
	}

	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger,
	}
}

// Notify forwards n to every sender if its event passes the filter. A single
// failing sender does not block delivery to the rest; failures are combined
// into one error.
func (n *Notifier) Notify(ctx context.Context, note Notification) error {
	if !n.events[note.Event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", note.Event),
		)
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, note); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", note.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", note.Event),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}
