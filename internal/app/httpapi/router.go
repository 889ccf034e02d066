package httpapi

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"

	app "github.com/R3E-Network/apphost/internal/app"
	"github.com/R3E-Network/apphost/internal/app/metrics"
	apperrors "github.com/R3E-Network/apphost/internal/errors"
	"github.com/R3E-Network/apphost/internal/httputil"
	"github.com/R3E-Network/apphost/internal/middleware"
	"github.com/R3E-Network/apphost/pkg/logger"
)

// RouterOptions selects the optional middleware in front of the API. Nil
// fields are skipped.
type RouterOptions struct {
	Auth        *middleware.AuthMiddleware
	RateLimiter *middleware.RateLimiter
	CORS        *middleware.CORSMiddleware
	Logger      *logger.Logger
	// MaxUploadBytes bounds a single uploaded artifact. Zero selects 8 MiB.
	MaxUploadBytes int64
}

const defaultMaxUploadBytes = 8 << 20

// NewRouter returns the REST API with its middleware chain.
func NewRouter(application *app.Application, opts RouterOptions) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}

	h := &handler{app: application, log: log, maxUpload: opts.MaxUploadBytes}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		httputil.WriteError(w, req, apperrors.NotFound("route", req.URL.Path))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		httputil.WriteJSON(w, http.StatusMethodNotAllowed, httputil.ErrorBody{
			Code:    "METHOD_NOT_ALLOWED",
			Message: req.Method + " is not allowed on " + req.URL.Path,
		})
	})

	r.Use(chimw.Recoverer, chimw.RealIP, middleware.LoggingMiddleware(log), metrics.InstrumentHandler)
	if opts.CORS != nil {
		r.Use(opts.CORS.Handler)
	}
	if opts.Auth != nil {
		r.Use(opts.Auth.Handler)
	}
	if opts.RateLimiter != nil {
		r.Use(opts.RateLimiter.Handler)
	}

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/system/info", h.systemInfo).Methods(http.MethodGet)
	r.Handle("/user/id", middleware.RequireUserID(http.HandlerFunc(h.userID))).Methods(http.MethodGet)
	r.HandleFunc("/status", h.status).Methods(http.MethodGet)

	r.HandleFunc("/modules", h.listModules).Methods(http.MethodGet)
	r.HandleFunc("/modules/upload", h.uploadModules).Methods(http.MethodPost)
	r.HandleFunc("/modules/{name}", h.getModule).Methods(http.MethodGet)
	r.HandleFunc("/modules/{name}", h.deleteModule).Methods(http.MethodDelete)
	r.HandleFunc("/modules/{name}/resolve", h.resolveModule).Methods(http.MethodPost)

	r.HandleFunc("/deployments", h.listDeployments).Methods(http.MethodGet)
	r.HandleFunc("/deployments", h.registerDeployment).Methods(http.MethodPost)
	r.HandleFunc("/deployments/{domain}", h.getDeployment).Methods(http.MethodGet)
	r.HandleFunc("/deployments/{domain}", h.registerDeployment).Methods(http.MethodPut)
	r.HandleFunc("/deployments/{domain}", h.unregisterDeployment).Methods(http.MethodDelete)
	r.HandleFunc("/deployments/{domain}/load", h.loadDeployment).Methods(http.MethodPost)
	r.HandleFunc("/deployments/{domain}/unload", h.unloadDeployment).Methods(http.MethodPost)
	r.HandleFunc("/deployments/{domain}/toggle", h.toggleDeployment).Methods(http.MethodPost)
	r.HandleFunc("/deployments/{domain}/report", h.deploymentReport).Methods(http.MethodGet)

	return r
}
