package knode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/birdayz/knode/internal/runtime"
	"github.com/birdayz/knode/kdag"
	"github.com/birdayz/knode/kproto"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoTargets is returned when a run is started without target streams.
	ErrNoTargets = errors.New("knode: no targets")
	// ErrAppClosed is returned when running on a closed App.
	ErrAppClosed = errors.New("knode: app closed")
	// ErrInvalidWorkersCount is returned by New for a worker count below one.
	ErrInvalidWorkersCount = errors.New("knode: workers count must be positive")
)

// Runtime errors, reported by Run wrapped in a *NodeError where a node is at
// fault.
var (
	ErrStreamExists       = runtime.ErrStreamExists
	ErrUnknownStream      = runtime.ErrUnknownStream
	ErrForeignStream      = runtime.ErrForeignStream
	ErrDeadlock           = runtime.ErrDeadlock
	ErrMissingInput       = runtime.ErrMissingInput
	ErrForeachUnsupported = runtime.ErrForeachUnsupported
	ErrNoBody             = runtime.ErrNoBody
	ErrFileExists         = runtime.ErrFileExists
	ErrSchemaMismatch     = kproto.ErrSchemaMismatch
)

type (
	Result       = runtime.Result
	StreamResult = runtime.StreamResult
	NodeError    = runtime.NodeError
)

// Registry resolves node function paths to compiled bodies. *kdag.Builder
// implements it.
type Registry = runtime.Registry

type App struct {
	registry   Registry
	numWorkers int
	scratchDir string

	log *slog.Logger

	mu         sync.Mutex
	tempDir    string
	closed     bool
	activeRuns sync.WaitGroup
}

// New creates a new application executing nodes compiled into registry.
// Handles passed as targets are always runnable, so registry may be nil for
// graphs made of target nodes only.
func New(registry Registry, opts ...Option) (*App, error) {
	a := &App{
		registry:   registry,
		numWorkers: 1,
		log:        NullLogger(),
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.numWorkers < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWorkersCount, a.numWorkers)
	}

	return a, nil
}

// MustNew creates a new application, panicking on configuration errors.
func MustNew(registry Registry, opts ...Option) *App {
	app, err := New(registry, opts...)
	if err != nil {
		panic(err)
	}
	return app
}

// Run executes everything needed to produce targets and returns the content
// of every stream produced.
func (a *App) Run(ctx context.Context, targets ...kdag.Ref) (*Result, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	graph, err := kdag.Collect(targets...)
	if err != nil {
		return nil, err
	}

	dir, err := a.begin()
	if err != nil {
		return nil, err
	}
	defer a.activeRuns.Done()

	id := uuid.New()
	log := a.log.With("run", id.String())
	log.Info("Starting run", "nodes", len(graph.Nodes), "targets", len(graph.Targets))

	r := runtime.New(newOverlay(a.registry, targets), graph,
		runtime.WithLog(log),
		runtime.WithScratchDir(filepath.Join(dir, id.String())),
	)
	res, err := r.Run(ctx)
	if err != nil {
		log.Error("Run failed", "error", err)
		return nil, err
	}
	log.Info("Run finished")
	return res, nil
}

// Job is one independent run of RunAll.
type Job struct {
	Targets []kdag.Ref
}

// RunAll executes independent jobs, at most WithWorkersCount of them at a
// time. Results are in job order. The first failure cancels the remaining
// jobs.
func (a *App) RunAll(ctx context.Context, jobs ...Job) ([]*Result, error) {
	results := make([]*Result, len(jobs))
	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(a.numWorkers)
	for i, job := range jobs {
		grp.Go(func() error {
			res, err := a.Run(ctx, job.Targets...)
			if err != nil {
				return fmt.Errorf("job %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Close waits for active runs and removes the temporary scratch directory, if
// one was created. Files of earlier results are gone afterwards unless
// WithScratchDir was given.
func (a *App) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	a.activeRuns.Wait()

	if a.tempDir == "" {
		return nil
	}
	return os.RemoveAll(a.tempDir)
}

// begin registers a run and returns the scratch directory to run under.
func (a *App) begin() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return "", ErrAppClosed
	}

	dir := a.scratchDir
	if dir == "" {
		if a.tempDir == "" {
			tmp, err := os.MkdirTemp("", "knode-")
			if err != nil {
				return "", err
			}
			a.tempDir = tmp
		}
		dir = a.tempDir
	}
	a.activeRuns.Add(1)
	return dir, nil
}

// overlay resolves target handles first, then falls back to the registry.
type overlay struct {
	handles map[string]*kdag.NodeHandle
	base    Registry
}

func newOverlay(base Registry, targets []kdag.Ref) *overlay {
	o := &overlay{handles: make(map[string]*kdag.NodeHandle), base: base}
	for _, target := range targets {
		if h, ok := target.(*kdag.NodeHandle); ok && h != nil {
			o.handles[h.Node().Function()] = h
		}
	}
	return o
}

func (o *overlay) Lookup(function string) (*kdag.NodeHandle, bool) {
	if h, ok := o.handles[function]; ok {
		return h, true
	}
	if o.base == nil {
		return nil, false
	}
	return o.base.Lookup(function)
}
