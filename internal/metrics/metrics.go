// Package metrics collects Prometheus counters and gauges for the control
// plane and serves them over HTTP for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the control-plane metric set. Each Collector carries its
// own registry so tests never collide on the global default.
type Collector struct {
	registry *prometheus.Registry

	jobsSubmitted      prometheus.Counter
	jobsSucceeded      prometheus.Counter
	jobsFailed         prometheus.Counter
	payloadsStaged     prometheus.Counter
	volumesProvisioned prometheus.Counter
	attachRetries      prometheus.Counter
	forcedReclamations prometheus.Counter
	deploysApplied     prometheus.Counter
	deploysFailed      prometheus.Counter
	deploysCoalesced   prometheus.Counter

	volumesAttached prometheus.Gauge
	deploysPending  prometheus.Gauge

	applyDuration prometheus.Histogram
}

// NewCollector creates and registers the metric set.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strato_jobs_submitted_total",
			Help: "Total number of batch jobs submitted",
		}),
		jobsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strato_jobs_succeeded_total",
			Help: "Total number of batch jobs that reached SUCCEEDED",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strato_jobs_failed_total",
			Help: "Total number of batch jobs that reached FAILED",
		}),
		payloadsStaged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strato_payloads_staged_total",
			Help: "Total number of payloads uploaded to the object store",
		}),
		volumesProvisioned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strato_volumes_provisioned_total",
			Help: "Total number of volumes created",
		}),
		attachRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strato_volume_attach_retries_total",
			Help: "Total number of retried volume attach calls",
		}),
		forcedReclamations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strato_volume_forced_reclamations_total",
			Help: "Total number of volumes force-detached and deleted after a stuck detach",
		}),
		deploysApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strato_deploys_applied_total",
			Help: "Total number of deployments applied successfully",
		}),
		deploysFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strato_deploys_failed_total",
			Help: "Total number of deployment applies that failed",
		}),
		deploysCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strato_deploys_coalesced_total",
			Help: "Total number of deployment requests superseded before applying",
		}),
		volumesAttached: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "strato_volumes_attached",
			Help: "Current number of attached volumes",
		}),
		deploysPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "strato_deploys_pending",
			Help: "Current number of targets with a pending deployment",
		}),
		applyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "strato_deploy_apply_duration_seconds",
			Help:    "Deployment apply duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}

	c.registry.MustRegister(
		c.jobsSubmitted,
		c.jobsSucceeded,
		c.jobsFailed,
		c.payloadsStaged,
		c.volumesProvisioned,
		c.attachRetries,
		c.forcedReclamations,
		c.deploysApplied,
		c.deploysFailed,
		c.deploysCoalesced,
		c.volumesAttached,
		c.deploysPending,
		c.applyDuration,
	)
	return c
}

func (c *Collector) RecordJobSubmitted()      { c.jobsSubmitted.Inc() }
func (c *Collector) RecordJobSucceeded()      { c.jobsSucceeded.Inc() }
func (c *Collector) RecordJobFailed()         { c.jobsFailed.Inc() }
func (c *Collector) RecordPayloadStaged()     { c.payloadsStaged.Inc() }
func (c *Collector) RecordVolumeProvisioned() { c.volumesProvisioned.Inc() }
func (c *Collector) RecordAttachRetry()       { c.attachRetries.Inc() }
func (c *Collector) RecordForcedReclamation() { c.forcedReclamations.Inc() }
func (c *Collector) RecordDeployCoalesced()   { c.deploysCoalesced.Inc() }

// RecordDeployApplied records a finished apply and its duration.
func (c *Collector) RecordDeployApplied(seconds float64) {
	c.deploysApplied.Inc()
	c.applyDuration.Observe(seconds)
}

// RecordDeployFailed records a failed apply and its duration.
func (c *Collector) RecordDeployFailed(seconds float64) {
	c.deploysFailed.Inc()
	c.applyDuration.Observe(seconds)
}

// SetVolumesAttached updates the attached volume gauge.
func (c *Collector) SetVolumesAttached(count int) {
	c.volumesAttached.Set(float64(count))
}

// SetDeploysPending updates the pending deployment gauge.
func (c *Collector) SetDeploysPending(count int) {
	c.deploysPending.Set(float64(count))
}

// Handler returns the scrape endpoint handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
