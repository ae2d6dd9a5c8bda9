package workers

import (
	"context"
	"file-relay/contract"
	"file-relay/domain"
	"log/slog"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// RelayServiceName is the gRPC health service reflecting broker readiness.
const RelayServiceName = "file-relay"

type HealthSetter interface {
	SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus)
}

// BrokerHealthWorker mirrors the broker state into the gRPC health service.
// It only probes: reconnecting is left to the next dispatch attempt.
type BrokerHealthWorker struct {
	log      *slog.Logger
	broker   contract.Broker
	health   HealthSetter
	interval time.Duration
	last     healthpb.HealthCheckResponse_ServingStatus
}

func NewBrokerHealthWorker(
	log *slog.Logger,
	broker contract.Broker,
	health HealthSetter,
	interval time.Duration,
) *BrokerHealthWorker {
	return &BrokerHealthWorker{
		log:      log,
		broker:   broker,
		health:   health,
		interval: interval,
		last:     healthpb.HealthCheckResponse_UNKNOWN,
	}
}

func (w *BrokerHealthWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.probe()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping broker health probe")
			return nil
		case <-ticker.C:
			w.probe()
		}
	}
}

func (w *BrokerHealthWorker) probe() {
	state := w.broker.State()
	status := toServingStatus(state)
	if status == w.last {
		return
	}
	w.health.SetServingStatus(RelayServiceName, status)
	w.health.SetServingStatus("", status)
	if status == healthpb.HealthCheckResponse_SERVING {
		w.log.Info("Relay is serving", "broker_state", state.String())
	} else {
		w.log.Warn("Relay is not serving", "broker_state", state.String())
	}
	w.last = status
}

// An uninitialized broker is healthy: the connection is opened on first use.
func toServingStatus(state domain.BrokerState) healthpb.HealthCheckResponse_ServingStatus {
	switch state {
	case domain.BrokerReady, domain.BrokerUninitialized:
		return healthpb.HealthCheckResponse_SERVING
	default:
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
}
