// Package metrics records build and dev server observations. The engine
// depends only on Recorder; NoopRecorder is used when metrics are disabled
// and PrometheusRecorder exports them for scraping at /metrics.
package metrics

import "time"

// OutcomeLabel enumerates build outcomes.
type OutcomeLabel string

const (
	OutcomeSuccess  OutcomeLabel = "success"
	OutcomeFailed   OutcomeLabel = "failed"
	OutcomeCanceled OutcomeLabel = "canceled"
	// OutcomeSuperseded marks a finished build whose result was dropped
	// because a newer generation had been requested.
	OutcomeSuperseded OutcomeLabel = "superseded"
)

// Stage names used with ObserveStageDuration.
const (
	StageGraph     = "graph"
	StageAggregate = "aggregate"
	StageBundle    = "bundle"
	StagePlan      = "plan"
	StageWrite     = "write"
)

// Recorder defines observability hooks for builds and the dev server.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	ObserveBuildDuration(d time.Duration)
	IncBuildOutcome(outcome OutcomeLabel)
	SetGeneration(gen uint64)
	SetModules(n int)
	IncCacheHit()
	IncCacheMiss()
	SetClients(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are disabled).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
func (NoopRecorder) ObserveBuildDuration(time.Duration)         {}
func (NoopRecorder) IncBuildOutcome(OutcomeLabel)               {}
func (NoopRecorder) SetGeneration(uint64)                       {}
func (NoopRecorder) SetModules(int)                             {}
func (NoopRecorder) IncCacheHit()                               {}
func (NoopRecorder) IncCacheMiss()                              {}
func (NoopRecorder) SetClients(int)                             {}
