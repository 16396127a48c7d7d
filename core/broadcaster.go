package core

import (
	"log/slog"
	"os"
)

// Broadcaster fans events out to the members of a group.
type Broadcaster struct {
	registry *GroupRegistry
	logger   *slog.Logger
	metrics  *Metrics
}

type BroadcasterOption func(*Broadcaster)

func WithBroadcasterLogger(l *slog.Logger) BroadcasterOption {
	return func(b *Broadcaster) {
		b.logger = l
	}
}

func WithBroadcasterMetrics(m *Metrics) BroadcasterOption {
	return func(b *Broadcaster) {
		b.metrics = m
	}
}

func NewBroadcaster(registry *GroupRegistry, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		registry: registry,
		logger:   slog.New(slog.NewTextHandler(os.Stdout, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers e to every handle in the group's membership snapshot and
// returns the number of handles that accepted it. A handle that fails to accept
// the event is removed from the group and closed; delivery to the others continues.
func (b *Broadcaster) Publish(group string, e Event) int {
	b.metrics.eventPublished(e.Kind())
	delivered := 0
	for _, h := range b.registry.Members(group) {
		if err := h.Send(e); err != nil {
			b.logger.Warn("delivery failed, pruning handle",
				slog.String("group", group),
				slog.String("handle", h.ID()),
				slog.String("event", e.Kind().String()),
				slog.String("error", err.Error()))
			if b.registry.Leave(group, h) {
				b.metrics.handlePruned()
			}
			h.Close()
			continue
		}
		delivered++
		b.metrics.delivered()
	}
	return delivered
}
