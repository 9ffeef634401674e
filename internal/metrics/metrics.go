// Package metrics exposes Prometheus collectors for fieldsync.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/cloud-shuttle/fieldsync/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fieldsync"

// Metrics holds the service's collectors
type Metrics struct {
	inbound     *prometheus.CounterVec
	transitions *prometheus.CounterVec
	pushes      *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	fanoutErrs  prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg
// creates unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		inbound: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_events_total",
			Help:      "Dispatch events processed, by action and acknowledgement outcome.",
		}, []string{"action", "outcome"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Engineer status transitions, by result code.",
		}, []string{"result"}),
		pushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pushes_total",
			Help:      "Messages delivered to live session subscribers, by event.",
		}, []string{"event"}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_deliveries_total",
			Help:      "Outbound dispatch messages, by outcome.",
		}, []string{"outcome"}),
		fanoutErrs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_errors_total",
			Help:      "Schedule refreshes that could not be computed or pushed.",
		}),
	}
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Inbound counts one acknowledged dispatch event
func (m *Metrics) Inbound(action types.Action, success bool) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(string(action), outcome(success)).Inc()
}

// Transition counts one engineer transition attempt
func (m *Metrics) Transition(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = types.Code(err)
	}
	m.transitions.WithLabelValues(result).Inc()
}

// Push counts delivered push messages
func (m *Metrics) Push(event string, delivered int) {
	if m == nil || delivered == 0 {
		return
	}
	m.pushes.WithLabelValues(event).Add(float64(delivered))
}

// Delivery counts one outbound delivery attempt
func (m *Metrics) Delivery(success bool) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(outcome(success)).Inc()
}

// FanoutError counts a failed schedule refresh
func (m *Metrics) FanoutError() {
	if m == nil {
		return
	}
	m.fanoutErrs.Inc()
}
