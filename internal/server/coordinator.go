package server

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/conneroisu/weft/internal/build"
	"github.com/conneroisu/weft/internal/logging"
	"github.com/conneroisu/weft/internal/metrics"
	"github.com/conneroisu/weft/internal/types"
)

// State is the dev server lifecycle state.
type State int

const (
	StateIdle State = iota
	StateBuilding
	StateServing
	StateStopped
)

// String returns the string representation of the State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuilding:
		return "building"
	case StateServing:
		return "serving"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Builder runs numbered build generations. *build.Engine implements it.
type Builder interface {
	NextGeneration() types.Generation
	BuildGeneration(ctx context.Context, gen types.Generation) (*build.Result, error)
}

// ResultHandler receives the outcome of the latest requested generation.
// Results of superseded generations are never delivered.
type ResultHandler func(ctx context.Context, gen types.Generation, res *build.Result, err error)

// Coordinator serializes rebuilds. Any number of triggers while a build runs
// collapse into a single follow-up build.
//
//	Idle --Trigger--> Building --done--> Serving --Trigger--> Building ...
//	any --Stop/ctx done--> Stopped
type Coordinator struct {
	builder  Builder
	onResult ResultHandler
	metrics  metrics.Recorder
	logger   logging.Logger

	wake chan struct{}

	mutex     sync.Mutex
	state     State
	pending   bool
	requested types.Generation
	cancel    context.CancelFunc
	builds    int
	stopped   chan struct{}
	stopOnce  sync.Once
}

// NewCoordinator creates a coordinator delivering results to onResult.
func NewCoordinator(builder Builder, onResult ResultHandler, rec metrics.Recorder, logger logging.Logger) *Coordinator {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Coordinator{
		builder:  builder,
		onResult: onResult,
		metrics:  rec,
		logger:   logger.WithComponent("coordinator"),
		wake:     make(chan struct{}, 1),
		stopped:  make(chan struct{}),
	}
}

// Trigger requests a new generation without blocking. A build already in
// progress is canceled and its result dropped.
func (c *Coordinator) Trigger() {
	c.mutex.Lock()
	if c.state == StateStopped {
		c.mutex.Unlock()
		return
	}
	c.requested = c.builder.NextGeneration()
	c.pending = true
	if c.cancel != nil {
		c.cancel()
	}
	c.mutex.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Run executes builds until ctx is done or Stop is called. It must be called
// exactly once.
func (c *Coordinator) Run(ctx context.Context) {
	defer c.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopped:
			return
		case <-c.wake:
		}

		for c.runPending(ctx) {
		}
	}
}

// runPending runs one pending build and reports whether another may follow.
func (c *Coordinator) runPending(ctx context.Context) bool {
	c.mutex.Lock()
	if !c.pending || c.state == StateStopped {
		c.mutex.Unlock()
		return false
	}
	c.pending = false
	gen := c.requested
	buildCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = StateBuilding
	c.builds++
	c.mutex.Unlock()

	res, err := c.builder.BuildGeneration(buildCtx, gen)
	cancel()

	c.mutex.Lock()
	c.cancel = nil
	stale := gen < c.requested || c.state == StateStopped
	if !stale {
		c.state = StateServing
	}
	c.mutex.Unlock()

	if stale {
		if err == nil {
			c.metrics.IncBuildOutcome(metrics.OutcomeSuperseded)
		}
		c.logger.Debug(ctx, "Dropping superseded generation", "generation", uint64(gen))
		return true
	}
	if ctx.Err() != nil && stderrors.Is(err, context.Canceled) {
		return false
	}

	if c.onResult != nil {
		c.onResult(ctx, gen, res, err)
	}
	return true
}

// Stop cancels any running build and prevents further ones.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.mutex.Lock()
		c.state = StateStopped
		c.pending = false
		if c.cancel != nil {
			c.cancel()
		}
		c.mutex.Unlock()
		close(c.stopped)
	})
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// Builds returns how many builds have been started.
func (c *Coordinator) Builds() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.builds
}
