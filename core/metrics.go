package core

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the counters the sessions and the broadcaster report into.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	activeSessions *prometheus.GaugeVec
	rejections     *prometheus.CounterVec
	published      *prometheus.CounterVec
	deliveries     prometheus.Counter
	pruned         prometheus.Counter
	replayed       prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		activeSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chatrooms",
			Name:      "active_sessions",
			Help:      "Sessions currently joined, by session kind.",
		}, []string{"kind"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatrooms",
			Name:      "session_rejections_total",
			Help:      "Chat sessions rejected before joining, by reason.",
		}, []string{"reason"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatrooms",
			Name:      "events_published_total",
			Help:      "Events published to a group, by event kind.",
		}, []string{"kind"}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatrooms",
			Name:      "event_deliveries_total",
			Help:      "Events queued to a handle.",
		}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatrooms",
			Name:      "pruned_handles_total",
			Help:      "Handles removed from a group after a failed delivery.",
		}),
		replayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatrooms",
			Name:      "history_messages_replayed_total",
			Help:      "Messages replayed to joining sessions.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.activeSessions, m.rejections, m.published, m.deliveries, m.pruned, m.replayed)
	}
	return m
}

func (m *Metrics) sessionJoined(kind string) {
	if m == nil {
		return
	}
	m.activeSessions.WithLabelValues(kind).Inc()
}

func (m *Metrics) sessionLeft(kind string) {
	if m == nil {
		return
	}
	m.activeSessions.WithLabelValues(kind).Dec()
}

func (m *Metrics) rejected(err error) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(rejectionReason(err)).Inc()
}

func (m *Metrics) eventPublished(kind EventKind) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) delivered() {
	if m == nil {
		return
	}
	m.deliveries.Inc()
}

func (m *Metrics) handlePruned() {
	if m == nil {
		return
	}
	m.pruned.Inc()
}

func (m *Metrics) historyReplayed(n int) {
	if m == nil {
		return
	}
	m.replayed.Add(float64(n))
}

var rejectionReasons = []struct {
	err    error
	reason string
}{
	{ErrMissingToken, "missing_token"},
	{ErrTokenInvalid, "invalid_token"},
	{ErrTokenExpired, "expired_token"},
	{ErrUserNotFound, "user_not_found"},
	{ErrRoomNotFound, "room_not_found"},
	{ErrNotAParticipant, "not_a_participant"},
	{ErrUnknownRoomType, "unknown_room_type"},
}

func rejectionReason(err error) string {
	for _, r := range rejectionReasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "internal"
}
