package hosting

import (
	"context"
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"github.com/R3E-Network/apphost/pkg/logger"
)

// ScriptRuntime runs modules that ship a JavaScript entry point. The script
// must define instantiate(ctx) returning either the access URL or an object
// {url, hostName}; it may define teardown(ctx). Modules without a script are
// passed to the fallback runtime.
type ScriptRuntime struct {
	mu       sync.Mutex
	fallback Runtime
	suffix   string
	scripts  map[string]Spec
	log      *logger.Logger
}

// NewScriptRuntime creates a script runtime.
func NewScriptRuntime(fallback Runtime, hostSuffix string, log *logger.Logger) *ScriptRuntime {
	if hostSuffix == "" {
		hostSuffix = DefaultHostSuffix
	}
	if log == nil {
		log = logger.NewDefault("script")
	}
	return &ScriptRuntime{
		fallback: fallback,
		suffix:   hostSuffix,
		scripts:  make(map[string]Spec),
		log:      log,
	}
}

type scriptContext struct {
	Module     string            `json:"module"`
	Domain     string            `json:"domain"`
	Injections map[string]string `json:"injections"`
	HostSuffix string            `json:"hostSuffix"`
}

func (r *ScriptRuntime) Instantiate(ctx context.Context, spec Spec) (Instance, error) {
	if spec.Script == "" {
		if r.fallback == nil {
			return Instance{}, fmt.Errorf("module %s has no script", spec.Module)
		}
		return r.fallback.Instantiate(ctx, spec)
	}

	value, err := r.call(ctx, spec, "instantiate", true)
	if err != nil {
		return Instance{}, err
	}

	var inst Instance
	switch v := value.Export().(type) {
	case string:
		inst.URL = v
	case map[string]interface{}:
		inst.URL, _ = v["url"].(string)
		inst.HostName, _ = v["hostName"].(string)
	}
	if inst.URL == "" {
		return Instance{}, fmt.Errorf("instantiate %s: script returned no url", spec.Module)
	}

	r.mu.Lock()
	r.scripts[spec.Domain] = spec
	r.mu.Unlock()
	return inst, nil
}

func (r *ScriptRuntime) Teardown(ctx context.Context, domain string) error {
	r.mu.Lock()
	spec, ok := r.scripts[domain]
	delete(r.scripts, domain)
	r.mu.Unlock()

	if !ok {
		if r.fallback == nil {
			return fmt.Errorf("teardown %s: no instance bound to domain", domain)
		}
		return r.fallback.Teardown(ctx, domain)
	}
	_, err := r.call(ctx, spec, "teardown", false)
	return err
}

func (r *ScriptRuntime) call(ctx context.Context, spec Spec, fn string, required bool) (goja.Value, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	logFn := func(call goja.FunctionCall) goja.Value {
		r.log.WithField("module", spec.Module).WithField("domain", spec.Domain).Info(call.Argument(0).String())
		return goja.Undefined()
	}
	if err := vm.Set("log", logFn); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	if _, err := vm.RunString(spec.Script); err != nil {
		return nil, fmt.Errorf("%s %s: %w", fn, spec.Module, err)
	}
	callable, ok := goja.AssertFunction(vm.Get(fn))
	if !ok {
		if required {
			return nil, fmt.Errorf("%s %s: script does not define %s()", fn, spec.Module, fn)
		}
		return goja.Undefined(), nil
	}

	arg := vm.ToValue(scriptContext{
		Module:     spec.Module,
		Domain:     spec.Domain,
		Injections: spec.Injections,
		HostSuffix: r.suffix,
	})
	value, err := callable(goja.Undefined(), arg)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", fn, spec.Module, err)
	}
	return value, nil
}
