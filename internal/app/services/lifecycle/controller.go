package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/R3E-Network/apphost/internal/app/domain/deployment"
	"github.com/R3E-Network/apphost/internal/app/domain/module"
	apperrors "github.com/R3E-Network/apphost/internal/errors"
	"github.com/R3E-Network/apphost/internal/hosting"
	"github.com/R3E-Network/apphost/pkg/logger"
)

// Directory is the subset of the deployment directory the controller drives.
type Directory interface {
	Get(ctx context.Context, domain string) (deployment.Deployment, error)
	List(ctx context.Context) ([]deployment.Deployment, error)
	Update(ctx context.Context, dep deployment.Deployment) (deployment.Deployment, error)
	Unregister(ctx context.Context, domain string) error
	Record(ctx context.Context, domain string, typ deployment.EventType, message string)
}

// Modules resolves the module bound to a deployment.
type Modules interface {
	Get(ctx context.Context, name string) (module.Descriptor, error)
}

// Observer receives the outcome of every lifecycle operation.
type Observer interface {
	ObserveLifecycle(op, outcome string, elapsed time.Duration)
}

// Config bounds runtime calls.
type Config struct {
	LoadTimeout   time.Duration
	UnloadTimeout time.Duration
}

const (
	defaultLoadTimeout   = 2 * time.Minute
	defaultUnloadTimeout = 30 * time.Second
	persistTimeout       = 10 * time.Second
)

// Controller executes the deployment state machine. At most one load, unload
// or unregister runs per domain; concurrent attempts are rejected with Busy
// (Conflict for unregister) instead of queueing.
type Controller struct {
	directory Directory
	modules   Modules
	runtime   hosting.Runtime
	locker    Locker
	observer  Observer
	cfg       Config
	now       func() time.Time
	log       *logger.Logger

	mu       sync.Mutex
	inflight map[string]chan struct{}
	wg       sync.WaitGroup
}

// New constructs a controller. A nil locker defaults to a MemoryLocker.
func New(directory Directory, modules Modules, runtime hosting.Runtime, locker Locker, cfg Config, log *logger.Logger) *Controller {
	if log == nil {
		log = logger.NewDefault("lifecycle")
	}
	if locker == nil {
		locker = NewMemoryLocker()
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = defaultLoadTimeout
	}
	if cfg.UnloadTimeout <= 0 {
		cfg.UnloadTimeout = defaultUnloadTimeout
	}
	return &Controller{
		directory: directory,
		modules:   modules,
		runtime:   runtime,
		locker:    locker,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
		inflight:  make(map[string]chan struct{}),
	}
}

// WithObserver attaches an operation observer.
func (c *Controller) WithObserver(o Observer) *Controller {
	c.observer = o
	return c
}

// LoadTimeout returns the bound applied to instantiate calls.
func (c *Controller) LoadTimeout() time.Duration { return c.cfg.LoadTimeout }

// Load starts loading a deployment and returns it in the Loading state. The
// outcome is recorded on the deployment asynchronously. Loading an Active
// deployment is a no-op.
func (c *Controller) Load(ctx context.Context, domain string) (deployment.Deployment, error) {
	domain = deployment.CanonicalDomain(domain)
	dep, err := c.directory.Get(ctx, domain)
	if err != nil {
		return deployment.Deployment{}, err
	}
	if dep.State == deployment.StateActive {
		return dep, nil
	}
	if dep.State.InFlight() {
		c.observe("load", "busy", 0)
		return deployment.Deployment{}, apperrors.Busy(domain)
	}

	token, err := c.acquire(ctx, domain)
	if err != nil {
		c.observe("load", "busy", 0)
		return deployment.Deployment{}, err
	}

	dep, err = c.directory.Get(ctx, domain)
	if err != nil {
		c.release(domain, token)
		return deployment.Deployment{}, err
	}
	switch {
	case dep.State == deployment.StateActive:
		c.release(domain, token)
		return dep, nil
	case !dep.State.CanLoad():
		c.release(domain, token)
		c.observe("load", "busy", 0)
		return deployment.Deployment{}, apperrors.Busy(domain)
	}

	started := c.now()
	dep.State = deployment.StateLoading
	dep.Active = false
	dep.URL = ""
	dep.HostName = ""
	dep.LastError = ""
	dep.LoadStartedAt = started
	dep, err = c.directory.Update(ctx, dep)
	if err != nil {
		c.release(domain, token)
		return deployment.Deployment{}, fmt.Errorf("mark loading: %w", err)
	}
	c.directory.Record(ctx, domain, deployment.EventLoadStarted, "loading module "+dep.ModuleName)

	done := make(chan struct{})
	c.mu.Lock()
	c.inflight[domain] = done
	c.mu.Unlock()

	c.wg.Add(1)
	go c.runLoad(context.WithoutCancel(ctx), dep, token, done)

	c.log.WithContext(ctx).
		WithField("domain", domain).
		WithField("module", dep.ModuleName).
		Info("deployment loading")
	return dep, nil
}

func (c *Controller) runLoad(base context.Context, dep deployment.Deployment, token string, done chan struct{}) {
	defer c.wg.Done()
	started := dep.LoadStartedAt

	ctx, cancel := context.WithTimeout(base, c.cfg.LoadTimeout)
	inst, err := c.instantiate(ctx, dep)
	cancel()

	dep.LoadStartedAt = time.Time{}
	outcome := "success"
	if err != nil {
		outcome = "error"
		dep.State = deployment.StateError
		dep.Active = false
		dep.LastError = loadFailure(err)
	} else {
		dep.State = deployment.StateActive
		dep.Active = true
		dep.URL = inst.URL
		dep.HostName = inst.HostName
	}

	pctx, pcancel := context.WithTimeout(base, persistTimeout)
	defer pcancel()
	if _, uerr := c.directory.Update(pctx, dep); uerr != nil {
		c.log.WithContext(base).WithError(uerr).WithField("domain", dep.Domain).Error("persist load outcome")
	}

	entry := c.log.WithContext(base).
		WithField("domain", dep.Domain).
		WithField("module", dep.ModuleName)
	if err != nil {
		c.directory.Record(pctx, dep.Domain, deployment.EventLoadFailed, dep.LastError)
		entry.WithField("error", dep.LastError).Warn("deployment load failed")
	} else {
		c.directory.Record(pctx, dep.Domain, deployment.EventLoaded, dep.URL)
		entry.WithField("url", dep.URL).Info("deployment active")
	}
	c.observe("load", outcome, c.now().Sub(started))

	c.release(dep.Domain, token)
	c.mu.Lock()
	// A load accepted after the release owns the entry now.
	if c.inflight[dep.Domain] == done {
		delete(c.inflight, dep.Domain)
	}
	c.mu.Unlock()
	close(done)
}

// loadFailure renders a load error for the deployment record. Classified
// errors keep their message; anything else keeps its cause.
func loadFailure(err error) string {
	var se *apperrors.ServiceError
	if apperrors.As(err, &se) && se.Code != apperrors.CodeInternal {
		return se.Message
	}
	return "load failed: " + err.Error()
}

func (c *Controller) instantiate(ctx context.Context, dep deployment.Deployment) (hosting.Instance, error) {
	desc, err := c.modules.Get(ctx, dep.ModuleName)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return hosting.Instance{}, apperrors.NotFound("module", dep.ModuleName)
		}
		return hosting.Instance{}, fmt.Errorf("lookup module %q: %w", dep.ModuleName, err)
	}
	if !desc.IsResolved {
		return hosting.Instance{}, apperrors.Unresolved(desc.Name, desc.MissingDependencies(), desc.Issues)
	}
	inst, err := c.runtime.Instantiate(ctx, hosting.Spec{
		Module:     desc.Name,
		Domain:     dep.Domain,
		Injections: dep.Injections,
		Script:     desc.Script,
	})
	if err != nil {
		return hosting.Instance{}, apperrors.RuntimeFailure("instantiate", err)
	}
	return inst, nil
}

// Unload tears down an Active deployment and returns it to Registered. A
// teardown failure is recorded but does not keep the domain bound.
func (c *Controller) Unload(ctx context.Context, domain string) (deployment.Deployment, error) {
	domain = deployment.CanonicalDomain(domain)
	dep, err := c.directory.Get(ctx, domain)
	if err != nil {
		return deployment.Deployment{}, err
	}
	if err := unloadable(dep); err != nil {
		c.observe("unload", "rejected", 0)
		return deployment.Deployment{}, err
	}

	token, err := c.acquire(ctx, domain)
	if err != nil {
		c.observe("unload", "busy", 0)
		return deployment.Deployment{}, err
	}
	defer c.release(domain, token)

	dep, err = c.directory.Get(ctx, domain)
	if err != nil {
		return deployment.Deployment{}, err
	}
	if err := unloadable(dep); err != nil {
		c.observe("unload", "rejected", 0)
		return deployment.Deployment{}, err
	}

	started := c.now()
	base := context.WithoutCancel(ctx)
	dep.State = deployment.StateUnloading
	dep, err = c.directory.Update(base, dep)
	if err != nil {
		return deployment.Deployment{}, fmt.Errorf("mark unloading: %w", err)
	}
	c.directory.Record(base, domain, deployment.EventUnloadStart, "")

	outcome := "success"
	if terr := c.teardown(base, domain); terr != nil {
		outcome = "teardown_error"
		c.directory.Record(base, domain, deployment.EventTeardownFail, terr.Error())
		c.log.WithContext(ctx).WithError(terr).WithField("domain", domain).Warn("teardown failed; releasing domain")
	}

	dep.State = deployment.StateRegistered
	dep.Active = false
	dep.URL = ""
	dep.HostName = ""
	dep.LastError = ""
	dep, err = c.directory.Update(base, dep)
	if err != nil {
		return deployment.Deployment{}, fmt.Errorf("mark registered: %w", err)
	}
	c.directory.Record(base, domain, deployment.EventUnloaded, "")
	c.observe("unload", outcome, c.now().Sub(started))

	c.log.WithContext(ctx).WithField("domain", domain).Info("deployment unloaded")
	return dep, nil
}

func unloadable(dep deployment.Deployment) error {
	if dep.State.InFlight() {
		return apperrors.Busy(dep.Domain)
	}
	if !dep.State.CanUnload() {
		return apperrors.Conflict(fmt.Sprintf("deployment %q is %s; only active deployments can be unloaded", dep.Domain, dep.State))
	}
	return nil
}

func (c *Controller) teardown(base context.Context, domain string) error {
	ctx, cancel := context.WithTimeout(base, c.cfg.UnloadTimeout)
	defer cancel()
	return c.runtime.Teardown(ctx, domain)
}

// Toggle unloads an Active deployment and loads any other.
func (c *Controller) Toggle(ctx context.Context, domain string) (deployment.Deployment, error) {
	domain = deployment.CanonicalDomain(domain)
	dep, err := c.directory.Get(ctx, domain)
	if err != nil {
		return deployment.Deployment{}, err
	}
	if dep.Active && dep.URL != "" {
		return c.Unload(ctx, domain)
	}
	return c.Load(ctx, domain)
}

// Unregister removes a deployment. An Active deployment is torn down first on
// a best-effort basis.
func (c *Controller) Unregister(ctx context.Context, domain string) error {
	domain = deployment.CanonicalDomain(domain)
	dep, err := c.directory.Get(ctx, domain)
	if err != nil {
		return err
	}
	if dep.State.InFlight() {
		return apperrors.Conflict(fmt.Sprintf("deployment %q is %s", domain, dep.State))
	}

	token, ok, err := c.locker.Acquire(ctx, domain)
	if err != nil {
		return apperrors.Internal("acquire busy token", err)
	}
	if !ok {
		return apperrors.Conflict(fmt.Sprintf("deployment %q has an operation in flight", domain))
	}
	defer c.release(domain, token)

	dep, err = c.directory.Get(ctx, domain)
	if err != nil {
		return err
	}
	if dep.State == deployment.StateActive {
		if terr := c.teardown(context.WithoutCancel(ctx), domain); terr != nil {
			c.log.WithContext(ctx).WithError(terr).WithField("domain", domain).Warn("teardown before unregister failed")
		}
	}
	if err := c.directory.Unregister(ctx, domain); err != nil {
		return err
	}
	c.observe("unregister", "success", 0)
	return nil
}

// Wait blocks until no load is in flight for domain and returns the
// deployment.
func (c *Controller) Wait(ctx context.Context, domain string) (deployment.Deployment, error) {
	domain = deployment.CanonicalDomain(domain)
	c.mu.Lock()
	done := c.inflight[domain]
	c.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return deployment.Deployment{}, ctx.Err()
		}
	}
	return c.directory.Get(ctx, domain)
}

// RecoverStale repairs deployments left Loading or Unloading by a process
// that no longer holds their busy token. Loading becomes Error and Unloading
// becomes Registered. It returns the number of repaired deployments.
func (c *Controller) RecoverStale(ctx context.Context) (int, error) {
	deps, err := c.directory.List(ctx)
	if err != nil {
		return 0, err
	}
	repaired := 0
	for _, dep := range deps {
		if !dep.State.InFlight() {
			continue
		}
		token, ok, err := c.locker.Acquire(ctx, dep.Domain)
		if err != nil {
			return repaired, err
		}
		if !ok {
			continue
		}
		fixed, err := c.recoverOne(ctx, dep.Domain)
		c.release(dep.Domain, token)
		if err != nil {
			return repaired, err
		}
		if fixed {
			repaired++
		}
	}
	return repaired, nil
}

func (c *Controller) recoverOne(ctx context.Context, domain string) (bool, error) {
	dep, err := c.directory.Get(ctx, domain)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	switch dep.State {
	case deployment.StateLoading:
		dep.State = deployment.StateError
		dep.LastError = "load interrupted"
	case deployment.StateUnloading:
		dep.State = deployment.StateRegistered
		dep.URL = ""
		dep.HostName = ""
	default:
		return false, nil
	}
	dep.Active = false
	dep.LoadStartedAt = time.Time{}
	if _, err := c.directory.Update(ctx, dep); err != nil {
		return false, err
	}
	c.directory.Record(ctx, domain, deployment.EventInterrupted, dep.State.String())
	c.log.WithField("domain", domain).WithField("state", dep.State.String()).Warn("recovered interrupted deployment")
	return true, nil
}

func (c *Controller) acquire(ctx context.Context, domain string) (string, error) {
	token, ok, err := c.locker.Acquire(ctx, domain)
	if err != nil {
		return "", apperrors.Internal("acquire busy token", err)
	}
	if !ok {
		return "", apperrors.Busy(domain)
	}
	return token, nil
}

func (c *Controller) release(domain, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.locker.Release(ctx, domain, token); err != nil {
		c.log.WithError(err).WithField("domain", domain).Warn("release busy token")
	}
}

func (c *Controller) observe(op, outcome string, elapsed time.Duration) {
	if c.observer != nil {
		c.observer.ObserveLifecycle(op, outcome, elapsed)
	}
}

// Name implements system.Service.
func (c *Controller) Name() string { return "lifecycle" }

// Start implements system.Service.
func (c *Controller) Start(context.Context) error { return nil }

// Stop waits for in-flight loads to record their outcome.
func (c *Controller) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
