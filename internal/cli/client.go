package cli

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/R3E-Network/apphost/internal/app/domain/deployment"
	"github.com/R3E-Network/apphost/internal/app/domain/module"
	"github.com/R3E-Network/apphost/internal/app/services/status"
	"github.com/R3E-Network/apphost/internal/httputil"
)

// Client is a typed wrapper over the hosting REST API.
type Client struct {
	api *httputil.ServiceClient
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{api: httputil.NewServiceClient(httputil.ServiceClientConfig{
		BaseURL: baseURL,
		Token:   token,
		Timeout: timeout,
	})}
}

// Artifact is a named module manifest to upload.
type Artifact struct {
	Name string
	Data []byte
}

func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	resp, err := c.api.Do(ctx, method, path, body)
	if err != nil {
		return err
	}
	return httputil.DecodeResponse(resp, out)
}

func (c *Client) ListModules(ctx context.Context) ([]module.Descriptor, error) {
	var out []module.Descriptor
	return out, c.call(ctx, http.MethodGet, "/modules", nil, &out)
}

func (c *Client) GetModule(ctx context.Context, name string) (module.Descriptor, error) {
	var out module.Descriptor
	return out, c.call(ctx, http.MethodGet, "/modules/"+url.PathEscape(name), nil, &out)
}

func (c *Client) DeleteModule(ctx context.Context, name string) error {
	return c.call(ctx, http.MethodDelete, "/modules/"+url.PathEscape(name), nil, nil)
}

func (c *Client) ResolveModule(ctx context.Context, name string) (module.Descriptor, error) {
	var out module.Descriptor
	return out, c.call(ctx, http.MethodPost, "/modules/"+url.PathEscape(name)+"/resolve", nil, &out)
}

// UploadModules sends every artifact in one multipart request.
func (c *Client) UploadModules(ctx context.Context, artifacts []Artifact) ([]module.Descriptor, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, a := range artifacts {
		part, err := mw.CreateFormFile("file", filepath.Base(a.Name))
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(a.Data); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	resp, err := c.api.DoRaw(ctx, http.MethodPost, "/modules/upload", mw.FormDataContentType(), buf.Bytes())
	if err != nil {
		return nil, err
	}
	var out []module.Descriptor
	return out, httputil.DecodeResponse(resp, &out)
}

func (c *Client) ListDeployments(ctx context.Context) ([]deployment.Deployment, error) {
	var out []deployment.Deployment
	return out, c.call(ctx, http.MethodGet, "/deployments", nil, &out)
}

func (c *Client) GetDeployment(ctx context.Context, domain string) (deployment.Deployment, error) {
	var out deployment.Deployment
	return out, c.call(ctx, http.MethodGet, deploymentPath(domain, ""), nil, &out)
}

// Register binds moduleName to domain. An empty domain lets the server derive
// one from the module name and the caller's identity.
func (c *Client) Register(ctx context.Context, domain, moduleName string, injections map[string]string) (deployment.Deployment, error) {
	body := map[string]interface{}{"moduleName": moduleName}
	if len(injections) > 0 {
		body["injections"] = injections
	}
	var out deployment.Deployment
	if domain == "" {
		return out, c.call(ctx, http.MethodPost, "/deployments", body, &out)
	}
	return out, c.call(ctx, http.MethodPut, deploymentPath(domain, ""), body, &out)
}

func (c *Client) Unregister(ctx context.Context, domain string) error {
	return c.call(ctx, http.MethodDelete, deploymentPath(domain, ""), nil, nil)
}

func (c *Client) Load(ctx context.Context, domain string, wait bool) (deployment.Deployment, error) {
	path := deploymentPath(domain, "load")
	if wait {
		path += "?wait=true"
	}
	var out deployment.Deployment
	return out, c.call(ctx, http.MethodPost, path, nil, &out)
}

func (c *Client) Unload(ctx context.Context, domain string) (deployment.Deployment, error) {
	var out deployment.Deployment
	return out, c.call(ctx, http.MethodPost, deploymentPath(domain, "unload"), nil, &out)
}

func (c *Client) Toggle(ctx context.Context, domain string) (deployment.Deployment, error) {
	var out deployment.Deployment
	return out, c.call(ctx, http.MethodPost, deploymentPath(domain, "toggle"), nil, &out)
}

func (c *Client) Report(ctx context.Context, domain string) ([]deployment.Event, error) {
	var out []deployment.Event
	return out, c.call(ctx, http.MethodGet, deploymentPath(domain, "report"), nil, &out)
}

func (c *Client) Status(ctx context.Context) (status.Snapshot, error) {
	var out status.Snapshot
	return out, c.call(ctx, http.MethodGet, "/status", nil, &out)
}

func (c *Client) UserID(ctx context.Context) (string, error) {
	var out struct {
		UserID string `json:"userId"`
	}
	return out.UserID, c.call(ctx, http.MethodGet, "/user/id", nil, &out)
}

// WaitLoaded polls domain every interval until it leaves the Loading state.
// onTick receives each Loading observation.
func (c *Client) WaitLoaded(ctx context.Context, domain string, interval time.Duration, onTick func(deployment.Deployment)) (deployment.Deployment, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		dep, err := c.GetDeployment(ctx, domain)
		if err != nil {
			return deployment.Deployment{}, err
		}
		if dep.State != deployment.StateLoading {
			return dep, nil
		}
		if onTick != nil {
			onTick(dep)
		}
		select {
		case <-ctx.Done():
			return dep, fmt.Errorf("waiting for %s: %w", domain, ctx.Err())
		case <-ticker.C:
		}
	}
}

func deploymentPath(domain, action string) string {
	p := "/deployments/" + url.PathEscape(domain)
	if action != "" {
		p += "/" + action
	}
	return p
}
