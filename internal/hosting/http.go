package hosting

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/R3E-Network/apphost/internal/httputil"
)

// HTTPConfig configures a remote hosting runtime.
type HTTPConfig struct {
	BaseURL  string
	Token    string
	URLPath  string
	HostPath string
	Timeout  time.Duration
}

// HTTPRuntime delegates instantiation to a remote hosting service:
// POST /instances creates an instance and DELETE /instances/{domain} removes
// it. The access URL is extracted from the reply with a JSONPath expression.
type HTTPRuntime struct {
	client   *httputil.ServiceClient
	urlPath  string
	hostPath string
}

// NewHTTPRuntime creates a remote runtime.
func NewHTTPRuntime(cfg HTTPConfig) *HTTPRuntime {
	if cfg.URLPath == "" {
		cfg.URLPath = "$.url"
	}
	if cfg.HostPath == "" {
		cfg.HostPath = "$.hostName"
	}
	return &HTTPRuntime{
		client: httputil.NewServiceClient(httputil.ServiceClientConfig{
			BaseURL: cfg.BaseURL,
			Token:   cfg.Token,
			Timeout: cfg.Timeout,
		}),
		urlPath:  cfg.URLPath,
		hostPath: cfg.HostPath,
	}
}

type instantiateRequest struct {
	Module     string            `json:"module"`
	Domain     string            `json:"domain"`
	Injections map[string]string `json:"injections,omitempty"`
	Script     string            `json:"script,omitempty"`
}

func (r *HTTPRuntime) Instantiate(ctx context.Context, spec Spec) (Instance, error) {
	resp, err := r.client.Post(ctx, "/instances", instantiateRequest{
		Module:     spec.Module,
		Domain:     spec.Domain,
		Injections: spec.Injections,
		Script:     spec.Script,
	})
	if err != nil {
		return Instance{}, err
	}
	var reply interface{}
	if err := httputil.DecodeResponse(resp, &reply); err != nil {
		return Instance{}, err
	}

	rawURL, err := jsonpath.Get(r.urlPath, reply)
	if err != nil {
		return Instance{}, fmt.Errorf("runtime reply has no access url at %s: %w", r.urlPath, err)
	}
	accessURL, ok := rawURL.(string)
	if !ok || accessURL == "" {
		return Instance{}, fmt.Errorf("runtime reply has no access url at %s", r.urlPath)
	}

	inst := Instance{URL: accessURL}
	if rawHost, err := jsonpath.Get(r.hostPath, reply); err == nil {
		inst.HostName, _ = rawHost.(string)
	}
	if inst.HostName == "" {
		if u, err := url.Parse(accessURL); err == nil {
			inst.HostName = u.Hostname()
		}
	}
	return inst, nil
}

func (r *HTTPRuntime) Teardown(ctx context.Context, domain string) error {
	resp, err := r.client.Delete(ctx, "/instances/"+url.PathEscape(domain))
	if err != nil {
		return err
	}
	err = httputil.DecodeResponse(resp, nil)
	var se *httputil.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}
