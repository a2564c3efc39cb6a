package metrics

import (
	"net/http"

	"github.com/ignatij/coachflow/pkg/models"
	"github.com/ignatij/coachflow/pkg/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder counts provisioning and run generation on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	workflowsSeeded *prometheus.CounterVec
	runsGenerated   prometheus.Counter
	runSteps        *prometheus.CounterVec
}

var _ service.Recorder = (*Recorder)(nil)

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		workflowsSeeded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coachflow_workflows_seeded_total",
				Help: "Org workflows provisioned from a pack",
			},
			[]string{"pack"},
		),
		runsGenerated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coachflow_runs_generated_total",
				Help: "Workflow runs generated",
			},
		),
		runSteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coachflow_run_steps_total",
				Help: "Template steps materialized by run generation, by outcome",
			},
			[]string{"item_type", "outcome"},
		),
	}
	r.registry.MustRegister(
		r.workflowsSeeded,
		r.runsGenerated,
		r.runSteps,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) WorkflowSeeded(packKey string) {
	r.workflowsSeeded.WithLabelValues(packKey).Inc()
}

func (r *Recorder) RunGenerated() {
	r.runsGenerated.Inc()
}

func (r *Recorder) StepMaterialized(itemType models.StepType, outcome service.StepOutcomeStatus) {
	r.runSteps.WithLabelValues(string(itemType), string(outcome)).Inc()
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
