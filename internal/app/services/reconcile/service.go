// Package reconcile runs the periodic housekeeping pass: registry
// re-resolution, recovery of interrupted lifecycle operations and gauge
// refresh.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/R3E-Network/apphost/internal/app/domain/deployment"
	"github.com/R3E-Network/apphost/internal/app/domain/module"
	"github.com/R3E-Network/apphost/internal/app/metrics"
	"github.com/R3E-Network/apphost/pkg/logger"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs a pass every thirty seconds.
const DefaultSchedule = "@every 30s"

// Registry is the module registry surface used by a pass.
type Registry interface {
	List(ctx context.Context) ([]module.Descriptor, error)
	ResolveAll(ctx context.Context) (int, error)
}

// Directory lists deployments.
type Directory interface {
	List(ctx context.Context) ([]deployment.Deployment, error)
}

// Recoverer repairs interrupted lifecycle operations.
type Recoverer interface {
	RecoverStale(ctx context.Context) (int, error)
}

// Result summarises one pass.
type Result struct {
	Reresolved int `json:"reresolved"`
	Recovered  int `json:"recovered"`
}

// Service schedules reconciliation passes with cron.
type Service struct {
	registry  Registry
	directory Directory
	recoverer Recoverer
	schedule  string
	timeout   time.Duration
	log       *logger.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// New constructs a reconciler. An empty schedule uses DefaultSchedule.
func New(registry Registry, directory Directory, recoverer Recoverer, schedule string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("reconcile")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Service{
		registry:  registry,
		directory: directory,
		recoverer: recoverer,
		schedule:  schedule,
		timeout:   time.Minute,
		log:       log,
	}
}

// Name implements system.Service.
func (s *Service) Name() string { return "reconcile" }

// Start validates the schedule, runs one pass and schedules the rest.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	c := cron.New(
		cron.WithLogger(cronLogger{log: s.log}),
		cron.WithChain(cron.Recover(cronLogger{log: s.log}), cron.SkipIfStillRunning(cronLogger{log: s.log})),
	)
	if _, err := c.AddFunc(s.schedule, s.tick); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", s.schedule, err)
	}

	if _, err := s.RunOnce(ctx); err != nil {
		s.log.WithError(err).Warn("initial reconcile pass failed")
	}
	c.Start()
	s.cron = c
	s.log.WithField("schedule", s.schedule).Info("reconciler started")
	return nil
}

// Stop halts scheduling and waits for a running pass.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		s.log.WithError(err).Warn("reconcile pass failed")
	}
}

// RunOnce performs a single pass.
func (s *Service) RunOnce(ctx context.Context) (res Result, err error) {
	defer func() { metrics.RecordReconcile(err == nil) }()

	if res.Reresolved, err = s.registry.ResolveAll(ctx); err != nil {
		return res, fmt.Errorf("resolve modules: %w", err)
	}
	if s.recoverer != nil {
		if res.Recovered, err = s.recoverer.RecoverStale(ctx); err != nil {
			return res, fmt.Errorf("recover deployments: %w", err)
		}
	}
	if err = s.refreshGauges(ctx); err != nil {
		return res, err
	}
	if res.Reresolved > 0 || res.Recovered > 0 {
		s.log.WithField("reresolved", res.Reresolved).
			WithField("recovered", res.Recovered).
			Info("reconcile pass repaired state")
	}
	return res, nil
}

func (s *Service) refreshGauges(ctx context.Context) error {
	mods, err := s.registry.List(ctx)
	if err != nil {
		return fmt.Errorf("list modules: %w", err)
	}
	resolved := 0
	for _, m := range mods {
		if m.IsResolved {
			resolved++
		}
	}
	metrics.SetModuleResolution(resolved, len(mods)-resolved)

	deps, err := s.directory.List(ctx)
	if err != nil {
		return fmt.Errorf("list deployments: %w", err)
	}
	counts := make(map[string]int)
	for _, d := range deps {
		counts[d.State.String()]++
	}
	metrics.SetDeploymentStates(counts)
	return nil
}

// cronLogger adapts the logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(kv []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return out
}
