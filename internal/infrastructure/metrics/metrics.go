// Package metrics exposes engine, relay and bus measurements to Prometheus.
package metrics

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
	appworkflow "github.com/garyjia/approval-engine/internal/application/workflow"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/event"
	domainwf "github.com/garyjia/approval-engine/internal/domain/workflow"
	"github.com/garyjia/approval-engine/internal/infrastructure/worker"
)

const namespace = "approval"

// Metrics holds the collectors registered for the service
type Metrics struct {
	transitions *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	conflicts   *prometheus.CounterVec
	timeouts    *prometheus.CounterVec
	delivered   *prometheus.CounterVec
	relayFails  *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	handled     *prometheus.HistogramVec
}

// New registers the collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "transitions_total",
				Help:      "Instance status transitions",
			},
			[]string{"workflow_type", "from", "to"},
		),
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "decisions_total",
				Help:      "Approver decisions by action and outcome",
			},
			[]string{"workflow_type", "action", "outcome"},
		),
		conflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "version_conflicts_total",
				Help:      "Optimistic concurrency conflicts",
			},
			[]string{"operation"},
		),
		timeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "stage_timeouts_total",
				Help:      "Overdue stages handled by the timeout sweep",
			},
			[]string{"workflow_type", "action"},
		),
		delivered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "delivered_total",
				Help:      "Outbox events handed to the bus",
			},
			[]string{"event_type"},
		),
		relayFails: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "failures_total",
				Help:      "Failed outbox deliveries; dead is true once retries are exhausted",
			},
			[]string{"event_type", "dead"},
		),
		rejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "rejected_total",
				Help:      "Events handed back to the outbox because consumers failed after retries",
			},
			[]string{"event_type"},
		),
		handled: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "consumer",
				Name:      "handle_seconds",
				Help:      "Consumer handling time by outcome",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"consumer", "event_type", "outcome"},
		),
	}
}

// Transition implements workflow.Recorder
func (m *Metrics) Transition(workflowType string, from, to domainwf.State) {
	m.transitions.WithLabelValues(workflowType, from.String(), to.String()).Inc()
}

// Decision implements workflow.Recorder
func (m *Metrics) Decision(workflowType string, action entity.Action, outcome string) {
	m.decisions.WithLabelValues(workflowType, string(action), outcome).Inc()
}

// Conflict implements workflow.Recorder
func (m *Metrics) Conflict(operation string) {
	m.conflicts.WithLabelValues(operation).Inc()
}

// Timeout implements workflow.Recorder
func (m *Metrics) Timeout(workflowType string, action entity.TimeoutAction) {
	m.timeouts.WithLabelValues(workflowType, string(action)).Inc()
}

// Delivered implements worker.RelayObserver
func (m *Metrics) Delivered(eventType string) {
	m.delivered.WithLabelValues(eventType).Inc()
}

// Failed implements worker.RelayObserver
func (m *Metrics) Failed(eventType string, dead bool) {
	label := "false"
	if dead {
		label = "true"
	}
	m.relayFails.WithLabelValues(eventType, label).Inc()
}

// Rejected counts a message its consumers failed on. It matches the bus
// reject hook signature.
func (m *Metrics) Rejected(msg *message.Message, _ error) {
	eventType := msg.Metadata.Get("event_type")
	if eventType == "" {
		eventType = "unknown"
	}
	m.rejected.WithLabelValues(eventType).Inc()
}

// HandlerDone implements dispatcher.Observer
func (m *Metrics) HandlerDone(handler string, evt *event.Event, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.handled.WithLabelValues(handler, evt.Type.String(), outcome).Observe(elapsed.Seconds())
}

// OutboxCollector reports the outbox backlog at scrape time
type OutboxCollector struct {
	outbox  port.OutboxRepository
	timeout time.Duration
	logger  *zap.Logger
	desc    *prometheus.Desc
}

// NewOutboxCollector creates a collector for pending and failed outbox events
func NewOutboxCollector(outbox port.OutboxRepository, logger *zap.Logger) *OutboxCollector {
	return &OutboxCollector{
		outbox:  outbox,
		timeout: 2 * time.Second,
		logger:  logger,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "outbox", "events"),
			"Outbox events by status",
			[]string{"status"}, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *OutboxCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector
func (c *OutboxCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	for _, status := range []string{entity.OutboxStatusPending, entity.OutboxStatusFailed} {
		n, err := c.outbox.CountByStatus(ctx, status)
		if err != nil {
			c.logger.Warn("Failed to count outbox events", zap.String("status", status), zap.Error(err))
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), status)
	}
}

// Verify interface compliance
var (
	_ appworkflow.Recorder = (*Metrics)(nil)
	_ worker.RelayObserver = (*Metrics)(nil)
	_ prometheus.Collector = (*OutboxCollector)(nil)
)
