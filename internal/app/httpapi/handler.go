package httpapi

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/apphost/internal/app"
	"github.com/R3E-Network/apphost/internal/app/domain/deployment"
	"github.com/R3E-Network/apphost/internal/app/domain/module"
	"github.com/R3E-Network/apphost/internal/app/services/deployments"
	apperrors "github.com/R3E-Network/apphost/internal/errors"
	"github.com/R3E-Network/apphost/internal/httputil"
	"github.com/R3E-Network/apphost/pkg/logger"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app       *app.Application
	log       *logger.Logger
	maxUpload int64
}

func (h *handler) userID(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"userId": logger.GetUserID(r.Context())})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	snap, err := h.app.Status.Snapshot(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snap)
}

func (h *handler) listModules(w http.ResponseWriter, r *http.Request) {
	mods, err := h.app.Modules.List(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if mods == nil {
		mods = []module.Descriptor{}
	}
	httputil.WriteJSON(w, http.StatusOK, mods)
}

func (h *handler) getModule(w http.ResponseWriter, r *http.Request) {
	desc, err := h.app.Modules.Get(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, desc)
}

func (h *handler) deleteModule(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Modules.Delete(r.Context(), mux.Vars(r)["name"]); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) resolveModule(w http.ResponseWriter, r *http.Request) {
	desc, err := h.app.Modules.Resolve(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, desc)
}

// uploadModules accepts one raw artifact as the request body, or any number
// of multipart "file" parts.
func (h *handler) uploadModules(w http.ResponseWriter, r *http.Request) {
	artifacts, err := h.readArtifacts(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	stored := make([]module.Descriptor, 0, len(artifacts))
	for _, raw := range artifacts {
		desc, err := h.app.Repository.Submit(r.Context(), raw)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		stored = append(stored, desc)
	}
	httputil.WriteJSON(w, http.StatusCreated, stored)
}

func (h *handler) readArtifacts(r *http.Request) ([][]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		raw, err := httputil.ReadAllStrict(r.Body, h.maxUpload)
		if err != nil {
			return nil, apperrors.InvalidInput("read artifact: " + err.Error())
		}
		return [][]byte{raw}, nil
	}

	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		return nil, apperrors.InvalidInput("parse multipart upload: " + err.Error())
	}
	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		return nil, apperrors.InvalidInput(`multipart upload has no "file" parts`)
	}

	out := make([][]byte, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, apperrors.InvalidInput("open " + fh.Filename + ": " + err.Error())
		}
		raw, err := httputil.ReadAllStrict(f, h.maxUpload)
		f.Close()
		if err != nil {
			return nil, apperrors.InvalidInput("read " + fh.Filename + ": " + err.Error())
		}
		out = append(out, raw)
	}
	return out, nil
}

func (h *handler) listDeployments(w http.ResponseWriter, r *http.Request) {
	deps, err := h.app.Deployments.List(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if deps == nil {
		deps = []deployment.Deployment{}
	}
	httputil.WriteJSON(w, http.StatusOK, deps)
}

// registerDeployment serves POST /deployments, where the domain is optional
// and derived from the module name, and PUT /deployments/{domain}.
func (h *handler) registerDeployment(w http.ResponseWriter, r *http.Request) {
	var req deployments.RegisterRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if domain, ok := mux.Vars(r)["domain"]; ok {
		if req.Domain != "" && req.Domain != domain {
			httputil.WriteError(w, r, apperrors.InvalidInput("body domain does not match path"))
			return
		}
		req.Domain = domain
	}
	req.Owner = logger.GetUserID(r.Context())

	dep, err := h.app.Deployments.Register(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, dep)
}

func (h *handler) getDeployment(w http.ResponseWriter, r *http.Request) {
	dep, err := h.app.Deployments.Get(r.Context(), mux.Vars(r)["domain"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, dep)
}

func (h *handler) unregisterDeployment(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Lifecycle.Unregister(r.Context(), mux.Vars(r)["domain"]); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// loadDeployment starts a load. With wait=true it blocks until the load
// settles, bounded by the controller's load timeout; otherwise an accepted
// load answers 202 with the Loading deployment.
func (h *handler) loadDeployment(w http.ResponseWriter, r *http.Request) {
	domain := mux.Vars(r)["domain"]
	wait, err := boolQuery(r, "wait")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	dep, err := h.app.Lifecycle.Load(r.Context(), domain)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if wait && dep.State == deployment.StateLoading {
		dep, err = h.wait(r.Context(), domain)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
	}
	h.writeTransition(w, dep)
}

func (h *handler) wait(ctx context.Context, domain string) (deployment.Deployment, error) {
	ctx, cancel := context.WithTimeout(ctx, h.app.Lifecycle.LoadTimeout()+persistSlack)
	defer cancel()

	dep, err := h.app.Lifecycle.Wait(ctx, domain)
	if errors.Is(err, context.DeadlineExceeded) {
		// The load keeps running; report where it stands.
		return h.app.Deployments.Get(context.WithoutCancel(ctx), domain)
	}
	return dep, err
}

func (h *handler) unloadDeployment(w http.ResponseWriter, r *http.Request) {
	dep, err := h.app.Lifecycle.Unload(r.Context(), mux.Vars(r)["domain"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, dep)
}

func (h *handler) toggleDeployment(w http.ResponseWriter, r *http.Request) {
	dep, err := h.app.Lifecycle.Toggle(r.Context(), mux.Vars(r)["domain"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.writeTransition(w, dep)
}

func (h *handler) deploymentReport(w http.ResponseWriter, r *http.Request) {
	events, err := h.app.Deployments.Report(r.Context(), mux.Vars(r)["domain"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if events == nil {
		events = []deployment.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, events)
}

func (h *handler) writeTransition(w http.ResponseWriter, dep deployment.Deployment) {
	status := http.StatusOK
	if dep.State == deployment.StateLoading {
		status = http.StatusAccepted
	}
	httputil.WriteJSON(w, status, dep)
}

func boolQuery(r *http.Request, key string) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperrors.InvalidInput("query parameter " + key + " must be a boolean")
	}
	return v, nil
}
