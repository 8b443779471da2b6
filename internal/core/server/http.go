package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/solatis/formkeeper/internal/core/api"
	"github.com/solatis/formkeeper/internal/core/auth"
	"github.com/solatis/formkeeper/internal/core/config"
	"github.com/solatis/formkeeper/internal/core/db"
	"github.com/solatis/formkeeper/internal/metrics"
	"github.com/solatis/formkeeper/internal/schema"
)

// HTTPServer serves the JSON form API, health and metrics endpoints.
type HTTPServer struct {
	server *http.Server
	config *config.ServerConfig
	logger zerolog.Logger
}

// HTTPOptions carries the optional collaborators of the HTTP server.
type HTTPOptions struct {
	Authenticator  *auth.Authenticator // nil disables authentication
	Metrics        *metrics.Collector
	MetricsHandler http.Handler // defaults to promhttp.Handler()
}

// NewHTTPServer creates the HTTP server around NewRouter.
func NewHTTPServer(cfg *config.ServerConfig, service *api.FormService, opts HTTPOptions, logger zerolog.Logger) (*HTTPServer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if opts.Authenticator == nil {
		logger.Warn().Msg("HTTP authentication disabled")
	}
	return &HTTPServer{
		server: &http.Server{
			Handler:           NewRouter(cfg, service, opts, logger),
			ReadHeaderTimeout: 10 * time.Second,
		},
		config: cfg,
		logger: logger,
	}, nil
}

// Start binds the configured address and serves until Shutdown.
func (s *HTTPServer) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.HTTPPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	return s.Serve(listener)
}

// Serve serves on an existing listener.
func (s *HTTPServer) Serve(listener net.Listener) error {
	s.logger.Info().Str("addr", listener.Addr().String()).Msg("HTTP server listening")
	if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains open connections until ctx expires.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// NewRouter builds the chi router:
//
//	GET  /healthz
//	GET  /metrics
//	GET  /v1/forms
//	GET  /v1/forms/{name}
//	POST /v1/forms/{name}/validate
//	POST /v1/forms/{name}/evaluate
//	POST /v1/forms/{name}/submit
//	GET  /v1/forms/{name}/submissions
//	GET  /v1/submissions/{id}
func NewRouter(cfg *config.ServerConfig, service *api.FormService, opts HTTPOptions, logger zerolog.Logger) http.Handler {
	h := &httpHandler{svc: service, maxBody: cfg.MaxBodyBytes, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	if opts.Metrics != nil {
		r.Use(metricsMiddleware(opts.Metrics))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	metricsHandler := opts.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)

	r.Route("/v1", func(r chi.Router) {
		if opts.Authenticator != nil {
			r.Use(opts.Authenticator.Middleware)
		}
		r.Get("/forms", h.listForms)
		r.Route("/forms/{name}", func(r chi.Router) {
			r.Get("/", h.getForm)
			r.Post("/validate", h.validate)
			r.Post("/evaluate", h.evaluate)
			r.Post("/submit", h.submit)
			r.Get("/submissions", h.listSubmissions)
		})
		r.Get("/submissions/{id}", h.getSubmission)
	})
	return r
}

type httpHandler struct {
	svc     *api.FormService
	maxBody int64
	logger  zerolog.Logger
}

// requestBody is the JSON body of the form POST endpoints.
type requestBody struct {
	Data    map[string]any `json:"data"`
	Context map[string]any `json:"context"`
	Path    string         `json:"path"`
}

func (h *httpHandler) listForms(w http.ResponseWriter, r *http.Request) {
	names := h.svc.Schemas()
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"schemas": names})
}

func (h *httpHandler) getForm(w http.ResponseWriter, r *http.Request) {
	def, err := h.svc.Definition(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	etag := `"` + def.ETag() + `"`
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	ext := def.Extract()
	fields := []string{}
	schema.Walk(def.Fields, func(path string, _ *schema.Node) {
		fields = append(fields, path)
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"name":         def.Name,
		"fields":       fields,
		"rules":        ext.Rules,
		"labels":       ext.Labels,
		"dependencies": def.Dependencies,
		"initial":      def.InitialData(),
	})
}

func (h *httpHandler) decode(w http.ResponseWriter, r *http.Request) (api.Request, bool) {
	req := api.Request{Schema: chi.URLParam(r, "name")}
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(w, http.StatusRequestEntityTooLarge, "request body too large")
			return req, false
		}
		writeMessage(w, http.StatusBadRequest, "read body: "+err.Error())
		return req, false
	}
	var body requestBody
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return req, false
	}
	req.Data = body.Data
	if req.Data == nil {
		req.Data = map[string]any{}
	}
	req.Context = body.Context
	req.Path = body.Path
	return req, true
}

func (h *httpHandler) validate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Validate(r.Context(), req)
	h.respond(w, res, err)
}

func (h *httpHandler) evaluate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Evaluate(r.Context(), req)
	h.respond(w, res, err)
}

func (h *httpHandler) submit(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Submit(r.Context(), tenantID(r.Context()), req)
	if err != nil {
		writeError(w, err)
		return
	}
	// 422 keeps a rejected submit distinguishable from a stored one.
	status := http.StatusOK
	if !res.Valid {
		status = http.StatusUnprocessableEntity
	} else if res.SubmissionID != "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (h *httpHandler) respond(w http.ResponseWriter, res *api.Result, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	if res.ETag != "" {
		w.Header().Set("ETag", `"`+res.ETag+`"`)
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *httpHandler) listSubmissions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeMessage(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	subs, err := h.svc.Submissions(r.Context(), tenantID(r.Context()), chi.URLParam(r, "name"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(subs))
	for i := range subs {
		out = append(out, submissionJSON(&subs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": out})
}

func (h *httpHandler) getSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := h.svc.Submission(r.Context(), tenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, submissionJSON(sub))
}

func submissionJSON(sub *db.Submission) map[string]any {
	data, _ := sub.Data()
	return map[string]any{
		"id":           sub.ID,
		"form":         sub.FormName,
		"form_id":      sub.FormID,
		"payload_hash": sub.PayloadHash,
		"created_at":   sub.CreatedAt,
		"data":         data,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeError(w http.ResponseWriter, err error) {
	writeMessage(w, api.HTTPStatus(err), err.Error())
}

func loggingMiddleware(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
				return
			}
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}

// metricsMiddleware labels requests by route pattern, not raw path, so
// form names do not explode label cardinality.
func metricsMiddleware(c *metrics.Collector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" || strings.HasPrefix(r.URL.Path, "/healthz") {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			c.RecordRequest(r.Method, route, status, time.Since(start))
		})
	}
}
