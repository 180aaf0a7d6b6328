package outbox

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/types"
)

// MetricsProjection folds the event log into Prometheus series: tasks by
// state, active leases, plan versions, event and integration totals. Gauges
// are absolute values read off the projection, so the consumer bootstraps
// by replaying the full log and redelivered events change nothing.
type MetricsProjection struct {
	mu   sync.Mutex
	proj *Projection

	eventsTotal      *prometheus.CounterVec
	tasksByState     *prometheus.GaugeVec
	leasesActive     *prometheus.GaugeVec
	planVersion      *prometheus.GaugeVec
	integrationTotal *prometheus.CounterVec
}

// NewMetricsProjection builds the consumer and registers its collectors on
// reg. Pass prometheus.DefaultRegisterer to expose them on /metrics.
func NewMetricsProjection(reg prometheus.Registerer) *MetricsProjection {
	m := &MetricsProjection{
		proj: NewProjection(),
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tascade_events_total",
				Help: "Total events applied to the projection by project and type",
			},
			[]string{"project", "type"},
		),
		tasksByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tascade_tasks",
				Help: "Tasks by project and lifecycle state",
			},
			[]string{"project", "state"},
		),
		leasesActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tascade_leases_active",
				Help: "Currently active leases by project",
			},
			[]string{"project"},
		),
		planVersion: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tascade_plan_version",
				Help: "Current plan version by project",
			},
			[]string{"project"},
		),
		integrationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tascade_integration_attempts_total",
				Help: "Integration attempt outcomes by project and status",
			},
			[]string{"project", "status"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.eventsTotal, m.tasksByState, m.leasesActive, m.planVersion, m.integrationTotal)
	}
	return m
}

func (m *MetricsProjection) Name() string { return "metrics" }

// Bootstrap replays every project's log from sequence zero so gauges start
// absolute. The durable cursor then only governs what the tail re-reads,
// and Apply skips anything the bootstrap already folded in.
func (m *MetricsProjection) Bootstrap(ctx context.Context, store storage.Reader) error {
	projects, err := store.ListProjects(ctx, "")
	if err != nil {
		return err
	}
	for _, p := range projects {
		after := int64(0)
		for {
			events, err := store.ListEvents(ctx, p.ID, after, defaultBatchSize, nil)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				break
			}
			m.apply(events)
			after = events[len(events)-1].Seq
			if len(events) < defaultBatchSize {
				break
			}
		}
	}
	return nil
}

func (m *MetricsProjection) Consume(ctx context.Context, events []*types.Event) error {
	m.apply(events)
	return nil
}

func (m *MetricsProjection) apply(events []*types.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	touched := map[string]bool{}
	for _, e := range events {
		if !m.proj.Apply(e) {
			continue
		}
		st := m.proj.Projects[e.ProjectID]
		label := st.Label(e.ProjectID)
		m.eventsTotal.WithLabelValues(label, string(e.Type)).Inc()
		if status, ok := integrationOutcome(e.Type); ok {
			m.integrationTotal.WithLabelValues(label, string(status)).Inc()
		}
		touched[e.ProjectID] = true
	}
	for id := range touched {
		m.refresh(id, m.proj.Projects[id])
	}
}

// refresh rewrites the absolute gauges of one project. Every known state
// is written, so series for emptied states drop back to zero.
func (m *MetricsProjection) refresh(projectID string, st *ProjectState) {
	label := st.Label(projectID)
	counts := st.StateCounts()
	for _, state := range types.AllStates {
		m.tasksByState.WithLabelValues(label, string(state)).Set(float64(counts[state]))
	}
	m.leasesActive.WithLabelValues(label).Set(float64(st.ActiveLeases()))
	m.planVersion.WithLabelValues(label).Set(float64(st.PlanVersion))
}

func integrationOutcome(et types.EventType) (types.IntegrationStatus, bool) {
	switch et {
	case types.EventIntegrationQueued:
		return types.IntegrationQueued, true
	case types.EventIntegrationRunning:
		return types.IntegrationRunning, true
	case types.EventIntegrationSucceeded:
		return types.IntegrationSuccess, true
	case types.EventIntegrationConflict:
		return types.IntegrationConflict, true
	case types.EventIntegrationFailedChecks:
		return types.IntegrationFailedChecks, true
	}
	return "", false
}
