package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wabot"

// Metrics holds the bot's collectors. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	Messages      *prometheus.CounterVec
	Commands      *prometheus.CounterVec
	Generations   *prometheus.CounterVec
	Replies       *prometheus.CounterVec
	Ambient       prometheus.Counter
	Restarts      prometheus.Counter
	SessionState  prometheus.Gauge
	ReplyDelay    prometheus.Histogram
	GenerationDur prometheus.Histogram
}

func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound messages classified, by chat kind.",
		}, []string{"chat"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands dispatched, by command name.",
		}, []string{"command"}),
		Generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Response generations, by outcome.",
		}, []string{"outcome"}),
		Replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Scheduled replies, by delivery outcome.",
		}, []string{"outcome"}),
		Ambient: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ambient_total",
			Help:      "Unsolicited remarks triggered by the ambient roll.",
		}),
		Restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_restarts_total",
			Help:      "Transport session restarts after a fatal error.",
		}),
		SessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Current supervisor state (0 starting, 1 ready, 2 faulted, 3 restarting, 4 shutting down, 5 stopped).",
		}),
		ReplyDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reply_delay_seconds",
			Help:      "Artificial delay applied before each reply.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 7, 8},
		}),
		GenerationDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Wall time of response generation, fallbacks included.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 7),
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.Messages, m.Commands, m.Generations, m.Replies, m.Ambient,
			m.Restarts, m.SessionState, m.ReplyDelay, m.GenerationDur,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) ObserveMessage(group bool) {
	if m == nil {
		return
	}
	chat := "direct"
	if group {
		chat = "group"
	}
	m.Messages.WithLabelValues(chat).Inc()
}

func (m *Metrics) ObserveCommand(name string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(name).Inc()
}

func (m *Metrics) ObserveGeneration(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Generations.WithLabelValues(outcome).Inc()
	m.GenerationDur.Observe(seconds)
}

func (m *Metrics) ObserveReply(outcome string, delaySeconds float64) {
	if m == nil {
		return
	}
	m.Replies.WithLabelValues(outcome).Inc()
	m.ReplyDelay.Observe(delaySeconds)
}

func (m *Metrics) ObserveAmbient() {
	if m == nil {
		return
	}
	m.Ambient.Inc()
}

func (m *Metrics) ObserveRestart() {
	if m == nil {
		return
	}
	m.Restarts.Inc()
}

func (m *Metrics) SetSessionState(state int) {
	if m == nil {
		return
	}
	m.SessionState.Set(float64(state))
}
