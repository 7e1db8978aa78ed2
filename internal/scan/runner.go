// Package scan runs probe modules against targets with every outbound request
// gated by the rate-limit manager.
package scan

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/iter"
	"github.com/sourcegraph/conc/pool"

	"github.com/AlexKimmel/ScanGate/internal/module"
	"github.com/AlexKimmel/ScanGate/internal/ratelimit"
	"github.com/AlexKimmel/ScanGate/internal/target"
)

var ErrNoModules = errors.New("scan: no modules selected")

// Recorder is told about every finished module run and emitted event.
type Recorder interface {
	ProbeFinished(module string, err error)
	EventEmitted(eventType string)
}

type nopRecorder struct{}

func (nopRecorder) ProbeFinished(string, error) {}
func (nopRecorder) EventEmitted(string)         {}

type Result struct {
	ID       uuid.UUID
	Target   target.Target
	Started  time.Time
	Finished time.Time
	Events   []module.Event
	Errors   map[string]error // by module name
	Skipped  []string         // modules that do not handle the target kind
}

type Runner struct {
	gate        *Gate
	concurrency int
	options     module.Options
	recorder    Recorder
	logger      zerolog.Logger
}

type Option func(*Runner)

// WithConcurrency bounds how many modules run at once per target.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func WithModuleOptions(o module.Options) Option {
	return func(r *Runner) { r.options = o }
}

func WithRecorder(rec Recorder) Option {
	return func(r *Runner) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// New builds a runner whose modules wait on gate before each request.
func New(gate *Gate, opts ...Option) *Runner {
	r := &Runner{
		gate:        gate,
		concurrency: 8,
		recorder:    nopRecorder{},
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewFromManager is New with a Gate over mgr.
func NewFromManager(mgr *ratelimit.Manager, maxJitter time.Duration, opts ...Option) *Runner {
	return New(NewGate(mgr, maxJitter), opts...)
}

// Run executes every module that handles t's kind. Module failures are
// recorded in the result and do not stop other modules; the returned error is
// only set when ctx ends first.
func (r *Runner) Run(ctx context.Context, t target.Target, mods []module.Module) (*Result, error) {
	if len(mods) == 0 {
		return nil, ErrNoModules
	}

	res := &Result{
		ID:      uuid.New(),
		Target:  t,
		Started: time.Now(),
		Errors:  make(map[string]error),
	}
	logger := r.logger.With().
		Str("scan_id", res.ID.String()).
		Str("target", t.Value()).
		Str("kind", string(t.Kind())).
		Logger()
	ctx = logger.WithContext(ctx)

	var collector module.Collector
	env := module.Env{
		Gate: r.gate,
		Emitter: module.EmitterFunc(func(e module.Event) {
			collector.Emit(e)
			r.recorder.EventEmitted(e.Type)
			logger.Debug().Str("module", e.Module).Str("type", e.Type).Str("data", e.Data).Msg("event")
		}),
		Options: r.options,
	}

	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(r.concurrency)
	for _, m := range mods {
		if !module.Supports(m, t.Kind()) {
			res.Skipped = append(res.Skipped, m.Name())
			continue
		}
		m := m // per-iteration copy; go 1.21 loop vars are shared across iterations
		p.Go(func() {
			start := time.Now()
			err := m.Run(ctx, t, env)
			r.recorder.ProbeFinished(m.Name(), err)
			if err != nil {
				mu.Lock()
				res.Errors[m.Name()] = err
				mu.Unlock()
				logger.Warn().Err(err).Str("module", m.Name()).Msg("module failed")
				return
			}
			logger.Info().Str("module", m.Name()).Dur("took", time.Since(start)).Msg("module finished")
		})
	}
	p.Wait()

	res.Finished = time.Now()
	res.Events = collector.Events()
	logger.Info().
		Int("events", len(res.Events)).
		Int("errors", len(res.Errors)).
		Strs("skipped", res.Skipped).
		Dur("took", res.Finished.Sub(res.Started)).
		Msg("scan finished")

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// RunAll scans several targets at once. All targets share the gate, so the
// global limiter bounds their combined rate. Results are in target order.
func (r *Runner) RunAll(ctx context.Context, targets []target.Target, mods []module.Module) ([]*Result, error) {
	if len(mods) == 0 {
		return nil, ErrNoModules
	}
	results := iter.Map(targets, func(t *target.Target) *Result {
		res, _ := r.Run(ctx, *t, mods)
		return res
	})
	return results, ctx.Err()
}
