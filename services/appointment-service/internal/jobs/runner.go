// Package jobs runs the periodic reminder and monitor passes on cron
// schedules, and lets operators trigger a single pass by name.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	otelx "github.com/carmatch/meetguard/libs/otel"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrUnknownJob = errors.New("unknown job")
	ErrBusy       = errors.New("job already running")
	ErrLeaseHeld  = errors.New("job lease held by another runner")
)

type Job struct {
	Name string
	// Schedule is a cron expression with optional seconds, or a descriptor
	// such as "@every 1m". Empty means manual runs only.
	Schedule string
	Run      func(ctx context.Context) (any, error)
}

type Config struct {
	Timeout  time.Duration
	LeaseTTL time.Duration
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = c.Timeout
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

type entry struct {
	job  Job
	busy atomic.Bool
}

type Runner struct {
	cron   *cron.Cron
	lease  Lease
	logger *slog.Logger
	cfg    Config
	tracer trace.Tracer

	mu      sync.RWMutex
	entries map[string]*entry
	baseCtx context.Context
}

func NewRunner(logger *slog.Logger, lease Lease, cfg Config) *Runner {
	cfg = cfg.withDefaults()
	if lease == nil {
		lease = NoLease{}
	}
	cl := cronLogger{logger: logger}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(cfg.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return &Runner{
		cron:    c,
		lease:   lease,
		logger:  logger,
		cfg:     cfg,
		tracer:  otelx.Tracer("appointment-service/jobs"),
		entries: map[string]*entry{},
		baseCtx: context.Background(),
	}
}

func (r *Runner) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job needs a name and a run function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[job.Name]; exists {
		return fmt.Errorf("job %q already registered", job.Name)
	}
	e := &entry{job: job}
	if job.Schedule != "" {
		if _, err := r.cron.AddFunc(job.Schedule, func() { r.scheduled(e) }); err != nil {
			return fmt.Errorf("schedule job %q: %w", job.Name, err)
		}
	}
	r.entries[job.Name] = e
	return nil
}

func (r *Runner) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start begins firing scheduled jobs. Runs inherit ctx values and stop early
// when ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	r.baseCtx = ctx
	r.mu.Unlock()
	r.cron.Start()
	r.logger.Info("job runner started", "jobs", r.Names())
}

// Stop prevents new runs and waits for the running ones, or for ctx.
func (r *Runner) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow executes one pass of the named job outside its schedule.
func (r *Runner) RunNow(ctx context.Context, name string) (any, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownJob
	}
	return r.run(ctx, e, "manual")
}

func (r *Runner) scheduled(e *entry) {
	r.mu.RLock()
	ctx := r.baseCtx
	r.mu.RUnlock()
	if ctx.Err() != nil {
		return
	}
	_, err := r.run(ctx, e, "schedule")
	switch {
	case err == nil:
	case errors.Is(err, ErrBusy), errors.Is(err, ErrLeaseHeld):
		r.logger.Debug("job run skipped", "job", e.job.Name, "reason", err.Error())
	default:
		r.logger.Error("job run failed", "job", e.job.Name, "err", err)
	}
}

func (r *Runner) run(ctx context.Context, e *entry, trigger string) (any, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer e.busy.Store(false)

	release, ok, err := r.lease.Acquire(ctx, e.job.Name, r.cfg.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("release job lease", "job", e.job.Name, "err", err)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	ctx, span := r.tracer.Start(ctx, "job."+e.job.Name, trace.WithAttributes(
		attribute.String("job.name", e.job.Name),
		attribute.String("job.trigger", trigger),
	))
	defer span.End()

	start := time.Now()
	report, err := e.job.Run(ctx)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn("job run finished with errors", "job", e.job.Name, "trigger", trigger, "duration_ms", elapsed.Milliseconds(), "report", report, "err", err)
		return report, err
	}
	r.logger.Info("job run finished", "job", e.job.Name, "trigger", trigger, "duration_ms", elapsed.Milliseconds(), "report", report)
	return report, nil
}

type cronLogger struct {
	logger *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
