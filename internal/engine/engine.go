// Package engine wires the spatial tree, force traversal, and integrator
// into the driver loop's state machine (spec §4.10): INIT -> RUN ->
// FINALISED, one rank's view of a synchronous, collective-driven
// simulation.
package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/nbody-sim/barnes-hut/internal/body"
	"github.com/nbody-sim/barnes-hut/internal/bodytree"
	"github.com/nbody-sim/barnes-hut/internal/collective"
	"github.com/nbody-sim/barnes-hut/internal/force"
	"github.com/nbody-sim/barnes-hut/internal/integrator"
	"github.com/nbody-sim/barnes-hut/internal/space"
	"github.com/nbody-sim/barnes-hut/internal/vector"
	apperrors "github.com/nbody-sim/barnes-hut/pkg/errors"
	"github.com/nbody-sim/barnes-hut/pkg/parallel"
	"github.com/nbody-sim/barnes-hut/pkg/utils"
)

// State is the driver loop's coarse lifecycle, per spec §4.10.
type State int

const (
	StateInit State = iota
	StateRunning
	StateFinalised
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRunning:
		return "RUN"
	case StateFinalised:
		return "FINALISED"
	default:
		return "UNKNOWN"
	}
}

// Sampler receives a snapshot of the globally-gathered Bodies array at
// steps 0 (optionally), K, 2K, ... and at FINALISED. Only the root rank's
// Engine is ever given a non-nil Sampler; every other rank's is nil and
// Run skips the callback entirely.
type Sampler[T vector.Scalar] interface {
	// SampleStep is called at s=0 (if SampleInitial) and every
	// sample-interval step thereafter.
	SampleStep(step int, bodies body.Bodies[T]) error
	// Finished is called once at FINALISED with the final bodies and the
	// last bounding box observed.
	Finished(bodies body.Bodies[T], bounds space.Space[T]) error
}

// Config bundles the physical and scheduling parameters a run needs beyond
// what's threaded explicitly through Run's arguments.
type Config[T vector.Scalar] struct {
	Steps          int
	SampleInterval int
	SampleInitial  bool
	Dt             T
	Force          force.Config[T]
	Pool           parallel.PoolConfig
}

// Engine drives one rank's participation in a run: it owns no resources
// beyond what's passed in (the communicator, logger, and sampler are
// acquired by the caller at start-up and released at FINALISED, per spec
// §5's resource-acquisition note).
type Engine[T vector.Scalar] struct {
	comm    collective.Communicator
	logger  utils.Logger
	cfg     Config[T]
	sampler Sampler[T]
	tracer  trace.Tracer
	state   State

	// overallMin/overallMax accumulate the component-wise bounding box
	// across every step, for the "_bounds.dat" provenance file (spec §6),
	// which wants the bounds encountered across the whole run, not just
	// the last step's.
	overallMin, overallMax vector.Vector[T]
}

// New builds an Engine for this rank. sampler may be nil (every non-root
// rank passes nil; the root rank passes its file-writing Sampler).
func New[T vector.Scalar](comm collective.Communicator, logger utils.Logger, cfg Config[T], sampler Sampler[T]) *Engine[T] {
	return &Engine[T]{
		comm:    comm,
		logger:  logger.WithField("rank", comm.Rank()),
		cfg:     cfg,
		sampler: sampler,
		tracer:  otel.Tracer("nbody-sim/engine"),
		state:   StateInit,
	}
}

// State returns the engine's current lifecycle state.
func (e *Engine[T]) State() State {
	return e.state
}

// Run executes the RUN state's step loop (spec §4.10) starting from
// initial, returning the final Bodies array and the bounding box computed
// on the last step. Any error transitions the engine to FINALISED-error
// and aborts the process group (spec §4.10, §7); every rank observes the
// same transition since Abort unblocks every collective in flight.
func (e *Engine[T]) Run(ctx context.Context, initial body.Bodies[T]) (body.Bodies[T], space.Space[T], error) {
	e.state = StateRunning
	bodies := initial
	var bounds space.Space[T]

	if e.sampler != nil && e.cfg.SampleInitial {
		if err := e.sampler.SampleStep(0, bodies); err != nil {
			return nil, bounds, e.fail(err)
		}
	}

	for s := 1; s <= e.cfg.Steps; s++ {
		var err error
		bounds, err = e.computeBounds(ctx, bodies)
		if err != nil {
			return nil, bounds, e.fail(err)
		}
		e.accumulateOverallBounds(bounds)

		tree, err := e.buildTree(ctx, bounds, bodies)
		if err != nil {
			return nil, bounds, e.fail(err)
		}

		bodies, err = e.step(ctx, tree, bodies)
		if err != nil {
			return nil, bounds, e.fail(err)
		}

		if e.sampler != nil && s%e.cfg.SampleInterval == 0 {
			if err := e.sampler.SampleStep(s, bodies); err != nil {
				return nil, bounds, e.fail(err)
			}
		}
	}

	if e.overallMin == nil {
		// Steps == 0: the loop body never ran, so nothing has been
		// accumulated yet. Best-effort one more bounds pass so Finished
		// still gets something meaningful; a failure here is swallowed
		// since it isn't the reason the run is finishing.
		if b, err := e.computeBounds(ctx, bodies); err == nil {
			e.accumulateOverallBounds(b)
			bounds = b
		}
	}
	overall := bounds
	if e.overallMin != nil {
		overall = space.New(e.overallMin, e.overallMax)
	}

	if e.sampler != nil {
		if err := e.sampler.Finished(bodies, overall); err != nil {
			return nil, bounds, e.fail(err)
		}
	}

	e.state = StateFinalised
	return bodies, bounds, nil
}

// accumulateOverallBounds folds bounds into the running component-wise
// min/max across the whole run (spec §6's "_bounds.dat").
func (e *Engine[T]) accumulateOverallBounds(bounds space.Space[T]) {
	if e.overallMin == nil {
		e.overallMin = bounds.Min.Clone()
		e.overallMax = bounds.Max.Clone()
		return
	}
	for d := range e.overallMin {
		if bounds.Min[d] < e.overallMin[d] {
			e.overallMin[d] = bounds.Min[d]
		}
		if bounds.Max[d] > e.overallMax[d] {
			e.overallMax[d] = bounds.Max[d]
		}
	}
}

func (e *Engine[T]) computeBounds(ctx context.Context, bodies body.Bodies[T]) (space.Space[T], error) {
	ctx, span := e.tracer.Start(ctx, "bounds")
	defer span.End()

	div := space.DivideWork(len(bodies), e.comm.Rank(), e.comm.Size())
	localMin, localMax := space.LocalBounds(bodies[div.Begin:div.End].Positions())
	bounds, err := space.GlobalBounds(ctx, e.comm, localMin, localMax)
	if err != nil {
		return space.Space[T]{}, err
	}
	if !vector.Finite(bounds.Min) || !vector.Finite(bounds.Max) {
		return space.Space[T]{}, apperrors.New(apperrors.CodeFloatingPointTrap, "non-finite global bounds")
	}
	return bounds, nil
}

func (e *Engine[T]) buildTree(ctx context.Context, bounds space.Space[T], bodies body.Bodies[T]) (*bodytree.Tree[T], error) {
	ctx, span := e.tracer.Start(ctx, "tree")
	defer span.End()

	return bodytree.ParallelBuild(ctx, e.comm, bounds, bodies)
}

func (e *Engine[T]) step(ctx context.Context, tree *bodytree.Tree[T], bodies body.Bodies[T]) (body.Bodies[T], error) {
	ctx, span := e.tracer.Start(ctx, "step")
	defer span.End()

	return integrator.Step(ctx, e.comm, tree, bodies, e.cfg.Dt, e.cfg.Force, e.cfg.Pool)
}

// fail logs the error at ERROR level, aborts the process group, and
// returns an *errors.AppError classified per spec §7 (errors that already
// carry a classification pass through unchanged).
func (e *Engine[T]) fail(err error) error {
	classified := err
	if apperrors.GetErrorCode(err) == apperrors.CodeGenericFailure {
		if _, ok := err.(*apperrors.AppError); !ok {
			classified = apperrors.Wrap(apperrors.CodeGenericFailure, "simulation step failed", err)
		}
	}
	e.logger.Error("step failed: %v", classified)
	e.comm.Abort(classified)
	e.state = StateFinalised
	return classified
}
