// Package notify fans settlement events out to operator chat channels.
// Each event type can be switched on or off in config.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
)

// Sender delivers one message to one channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches to every configured Sender. Events outside the allowed
// set are dropped; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier returns a Notifier for senders filtered to events.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether event passes the filter.
func (n *Notifier) Enabled(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

// Notify sends title and message when event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled(event) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifySettlement renders evt and sends it.
func (n *Notifier) NotifySettlement(ctx context.Context, evt domain.SettlementEvent) error {
	title, message := Render(evt)
	return n.Notify(ctx, evt.Type, title, message)
}

// Render formats a settlement event as a title and a body of key: value
// lines in a stable order.
func Render(evt domain.SettlementEvent) (title, message string) {
	switch evt.Type {
	case domain.EventMarketFinalized:
		title = "Market finalized"
	case domain.EventClaimPaid:
		title = "Claim paid"
	case domain.EventTallyMismatch:
		title = "TALLY MISMATCH"
	case domain.EventMetaRegistered:
		title = "Market registered"
	default:
		title = evt.Type
	}

	var b strings.Builder
	fmt.Fprintf(&b, "market: %s", evt.MarketID)
	if evt.ParticipantID != "" {
		fmt.Fprintf(&b, "\nparticipant: %s", evt.ParticipantID)
	}
	keys := make([]string, 0, len(evt.Detail))
	for k := range evt.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %v", k, evt.Detail[k])
	}
	return title, b.String()
}

// dispatch delivers to every sender; one failure does not stop the others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
