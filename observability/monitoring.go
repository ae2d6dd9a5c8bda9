package observability

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const defaultNamespace = "file_relay"

// TransferMetrics exports dispatch and broker streaming telemetry to Prometheus.
// A nil *TransferMetrics is valid and records nothing.
type TransferMetrics struct {
	backlog        prometheus.Gauge
	activeWorkers  prometheus.Gauge
	tasks          *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	retries        prometheus.Counter
	publishedBytes *prometheus.CounterVec
	uploads        *prometheus.CounterVec
}

func NewTransferMetrics(namespace string, reg prometheus.Registerer) (*TransferMetrics, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &TransferMetrics{
		backlog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_backlog",
			Help:      "Tasks waiting for a dispatch worker.",
		}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_active_workers",
			Help:      "Dispatch workers currently streaming to the broker.",
		}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_tasks_total",
			Help:      "Dispatch tasks that reached a terminal state.",
		}, []string{"direction", "outcome"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_task_duration_seconds",
			Help:      "Time from worker claim to terminal state.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"direction"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Failed attempts followed by a backoff.",
		}),
		publishedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_published_bytes_total",
			Help:      "Bytes published to broker queues.",
		}, []string{"queue"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload requests by outcome.",
		}, []string{"outcome"}),
	}
	collectors := []prometheus.Collector{
		m.backlog, m.activeWorkers, m.tasks, m.taskDuration, m.retries, m.publishedBytes, m.uploads,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return nil, fmt.Errorf("register transfer metric: %w", err)
		}
	}
	return m, nil
}

func (m *TransferMetrics) SetQueueState(backlog, workers int) {
	if m == nil {
		return
	}
	m.backlog.Set(float64(backlog))
	m.activeWorkers.Set(float64(workers))
}

func (m *TransferMetrics) RecordTask(direction string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.tasks.WithLabelValues(direction, outcome).Inc()
	m.taskDuration.WithLabelValues(direction).Observe(duration.Seconds())
}

func (m *TransferMetrics) IncrRetries() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *TransferMetrics) AddPublishedBytes(queue string, n int) {
	if m == nil {
		return
	}
	m.publishedBytes.WithLabelValues(queue).Add(float64(n))
}

func (m *TransferMetrics) RecordUpload(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.uploads.WithLabelValues("failure").Inc()
		return
	}
	m.uploads.WithLabelValues("accepted").Inc()
}
