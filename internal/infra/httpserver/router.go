package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bryanwahyu/stealth-vision/internal/application"
	"github.com/bryanwahyu/stealth-vision/internal/application/analyze"
	domai "github.com/bryanwahyu/stealth-vision/internal/domain/ai"
	"github.com/bryanwahyu/stealth-vision/internal/domain/analysis"
	"github.com/bryanwahyu/stealth-vision/internal/domain/media"
	"github.com/bryanwahyu/stealth-vision/internal/infra/metrics"
	"github.com/bryanwahyu/stealth-vision/internal/middleware"
)

const (
	bannerText       = "Stealth Vision Server Running!"
	msgNoURL         = "No URL provided"
	msgNoFile        = "No file provided"
	msgDownload      = "Download failed (Server Blocked or Timeout)"
	maxJSONBodyBytes = 64 << 10
	multipartSlack   = 1 << 20
	resolveTimeout   = 3 * time.Second
)

// Options carries the optional pieces of the HTTP surface.
type Options struct {
	AllowedOrigins []string
	APIKeys        map[string]string
	RateLimiter    *middleware.RateLimiter
	Metrics        *metrics.Collector
	Gatherer       prometheus.Gatherer
	Checkers       map[string]middleware.HealthChecker
	MaxUploadBytes int64
	History        bool

	// TrustProxyHeaders keys clients on X-Forwarded-For / X-Real-IP; only
	// safe behind a proxy that overwrites them.
	TrustProxyHeaders bool

	// Resolver checks where URL hosts point; nil uses the system resolver.
	Resolver middleware.IPResolver
}

type Router struct {
	svc    *analyze.Service
	logger *zap.Logger
	opts   Options
}

// paths that never require an API key or count against the rate limit
var publicPaths = []string{"/", "/health", "/live", "/ready", "/metrics"}

func NewRouter(svc *analyze.Service, logger *zap.Logger, opts Options) http.Handler {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.Resolver == nil {
		opts.Resolver = net.DefaultResolver
	}
	r := &Router{svc: svc, logger: logger, opts: opts}
	mux := chi.NewRouter()

	mux.Use(chimw.RequestID)
	if opts.TrustProxyHeaders {
		mux.Use(chimw.RealIP)
	}
	mux.Use(middleware.Recovery(logger))
	mux.Use(middleware.Logging(logger))
	mux.Use(middleware.Metrics(opts.Metrics))
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	}))
	mux.Use(middleware.APIKeyAuth(opts.APIKeys, publicPaths...))
	mux.Use(middleware.RateLimit(opts.RateLimiter, publicPaths...))

	mux.Get("/", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(bannerText))
	})
	mux.Get("/health", middleware.HealthHandler(opts.Checkers))
	mux.Get("/ready", middleware.ReadinessHandler)
	mux.Get("/live", middleware.LivenessHandler)
	if opts.Gatherer != nil {
		mux.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	mux.Post("/analyze", r.wrap(r.handleAnalyze))
	mux.Post("/upload", r.wrap(r.handleUpload))

	if opts.History {
		mux.Route("/v1/analyses", func(rt chi.Router) {
			rt.Get("/", r.wrap(r.handleList))
			rt.Get("/{id}", r.wrap(r.handleGet))
		})
	}

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// wrap maps domain errors to status codes; every error body is {"error": "..."}.
func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}

		var (
			maxBytes *http.MaxBytesError
			infErr   *domai.InferenceError
		)
		switch {
		case errors.Is(err, application.ErrInvalidRequest), errors.Is(err, media.ErrInvalidURL):
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, media.ErrTooLarge), errors.As(err, &maxBytes):
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "file too large")
		case errors.Is(err, media.ErrUnsupportedMedia):
			middleware.WriteError(w, http.StatusUnsupportedMediaType, err.Error())
		case errors.Is(err, analysis.ErrNotFound):
			middleware.WriteError(w, http.StatusNotFound, "not found")
		case errors.Is(err, domai.ErrQuotaExceeded):
			middleware.WriteError(w, http.StatusTooManyRequests, "ai quota exceeded")
		case errors.Is(err, media.ErrDownloadFailed):
			middleware.WriteError(w, http.StatusInternalServerError, msgDownload)
		case errors.As(err, &infErr):
			r.logger.Error("inference failed", zap.String("path", req.URL.Path), zap.Error(err))
			middleware.WriteError(w, http.StatusInternalServerError, "AI Analysis Error: "+infErr.Error())
		default:
			// local I/O details (temp paths) stay in the log
			r.logger.Error("request failed", zap.String("path", req.URL.Path), zap.Error(err))
			middleware.WriteError(w, http.StatusInternalServerError, "internal server error")
		}
	}
}

// POST /analyze
// Body: {"url": "<video page url>"}
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		URL string `json:"url"`
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxJSONBodyBytes))
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return fmt.Errorf("%w: malformed JSON body", application.ErrInvalidRequest)
	}

	url := middleware.SanitizeString(body.URL)
	if url == "" {
		middleware.WriteError(w, http.StatusBadRequest, msgNoURL)
		return nil
	}
	vctx, cancel := context.WithTimeout(req.Context(), resolveTimeout)
	err := middleware.ValidateURLWith(vctx, r.opts.Resolver, url)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %v", media.ErrInvalidURL, err)
	}

	res, err := r.svc.AnalyzeURL(req.Context(), url)
	if err != nil {
		return err
	}
	middleware.WriteJSON(w, http.StatusOK, res)
	return nil
}

// POST /upload
// multipart/form-data with the media in field "file"
func (r *Router) handleUpload(w http.ResponseWriter, req *http.Request) error {
	if r.opts.MaxUploadBytes > 0 {
		req.Body = http.MaxBytesReader(w, req.Body, r.opts.MaxUploadBytes+multipartSlack)
	}

	part, err := filePart(req)
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		middleware.WriteError(w, http.StatusBadRequest, msgNoFile)
		return nil
	}
	defer part.Close()

	res, err := r.svc.AnalyzeUpload(req.Context(), part.FileName(), part)
	if err != nil {
		return err
	}
	middleware.WriteJSON(w, http.StatusOK, res)
	return nil
}

// filePart streams the multipart body up to the "file" field; the upload is
// never buffered to a second temp file.
func filePart(req *http.Request) (*multipart.Part, error) {
	mr, err := req.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

// GET /v1/analyses?page=&page_size=
func (r *Router) handleList(w http.ResponseWriter, req *http.Request) error {
	page, _ := strconv.Atoi(req.URL.Query().Get("page"))
	size, _ := strconv.Atoi(req.URL.Query().Get("page_size"))
	page = middleware.ValidatePage(page)
	size = middleware.ValidateLimit(size)

	list, err := r.svc.List(req.Context(), page, size)
	if err != nil {
		return err
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"page":      page,
		"page_size": size,
		"items":     list,
	})
	return nil
}

// GET /v1/analyses/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	a, err := r.svc.Get(req.Context(), analysis.ID(id))
	if err != nil {
		return err
	}
	middleware.WriteJSON(w, http.StatusOK, a)
	return nil
}
