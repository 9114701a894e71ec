package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/marketpool/settlement/internal/domain"
)

// Alerter consumes lifecycle and settlement events from the signal bus and
// forwards the interesting ones to all configured senders. A sender failure
// never stops delivery to the remaining senders.
type Alerter struct {
	bus      domain.SignalBus
	senders  []Sender
	channels []string
	events   map[domain.EventType]bool // empty means all events pass
	logger   *slog.Logger
}

// NewAlerter creates an Alerter that watches the given bus channels. Only
// events whose type appears in events are forwarded; an empty list forwards
// everything.
func NewAlerter(bus domain.SignalBus, senders []Sender, channels, events []string, logger *slog.Logger) *Alerter {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		allowed[domain.EventType(strings.TrimSpace(e))] = true
	}
	return &Alerter{
		bus:      bus,
		senders:  senders,
		channels: channels,
		events:   allowed,
		logger:   logger.With(slog.String("component", "alerter")),
	}
}

// Run subscribes to all configured channels and blocks until the context is
// cancelled.
func (a *Alerter) Run(ctx context.Context) error {
	if len(a.senders) == 0 || len(a.channels) == 0 {
		a.logger.InfoContext(ctx, "no senders or channels configured, alerter idle")
		<-ctx.Done()
		return ctx.Err()
	}

	// Merge all channel subscriptions into one stream.
	merged := make(chan []byte, 64)
	for _, channel := range a.channels {
		ch, err := a.bus.Subscribe(ctx, channel)
		if err != nil {
			return fmt.Errorf("alerter: subscribe %s: %w", channel, err)
		}
		go func() {
			for msg := range ch {
				select {
				case merged <- msg:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload := <-merged:
			a.handle(ctx, payload)
		}
	}
}

func (a *Alerter) handle(ctx context.Context, payload []byte) {
	var evt domain.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		a.logger.WarnContext(ctx, "undecodable event payload",
			slog.String("error", err.Error()),
		)
		return
	}

	if len(a.events) > 0 && !a.events[evt.Type] {
		return
	}

	title, message := formatEvent(evt)
	for _, s := range a.senders {
		if err := s.Send(ctx, title, message); err != nil {
			a.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// formatEvent renders a domain event as a short operator-facing alert.
func formatEvent(evt domain.Event) (title, message string) {
	switch evt.Type {
	case domain.EventMarketPublished:
		return "Market published", fmt.Sprintf("market %s is open for staking", evt.MarketID)
	case domain.EventMarketPaused:
		return "Market paused", fmt.Sprintf("staking halted on market %s", evt.MarketID)
	case domain.EventMarketCanceled:
		return "Market canceled", fmt.Sprintf("market %s canceled, refunds open", evt.MarketID)
	case domain.EventMarketResolved:
		return "Market resolved", fmt.Sprintf("market %s resolved at %s", evt.MarketID, evt.At.Format("15:04:05 MST"))
	case domain.EventPrizePaid:
		return "Prize paid", fmt.Sprintf("market %s paid %d to %s", evt.MarketID, evt.Amount, evt.Owner.Hex())
	case domain.EventStakeRefunded:
		return "Stake refunded", fmt.Sprintf("market %s refunded %d to %s", evt.MarketID, evt.Amount, evt.Owner.Hex())
	case domain.EventStakePlaced:
		return "Stake placed", fmt.Sprintf("market %s took a stake of %d from %s", evt.MarketID, evt.Amount, evt.Owner.Hex())
	default:
		return string(evt.Type), fmt.Sprintf("market %s", evt.MarketID)
	}
}
