// Package api serves the lead dashboard over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/lead-engine/internal/dashboard"
	"github.com/sells-group/lead-engine/internal/live"
	"github.com/sells-group/lead-engine/internal/store"
)

// Server holds the handler dependencies.
type Server struct {
	session *dashboard.Session
	bus     *live.Bus
	kv      store.KV
	origins []string
}

// Option configures a Server.
type Option func(*Server)

// WithAllowedOrigins sets the CORS origins. Default is any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

// WithPendingStore persists pushed events nobody was subscribed to.
func WithPendingStore(kv store.KV) Option {
	return func(s *Server) {
		s.kv = kv
	}
}

// NewServer creates a Server.
func NewServer(session *dashboard.Session, bus *live.Bus, opts ...Option) *Server {
	s := &Server{session: session, bus: bus, origins: []string{"*"}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Get("/segments", s.segments)

	r.Route("/leads", func(r chi.Router) {
		r.Get("/", s.listLeads)
		r.Post("/refresh", s.refresh)
		r.Post("/search", s.search)
		r.Get("/duplicates", s.duplicates)
		r.Get("/facets", s.facets)
		r.Get("/export", s.export)
		r.Post("/status", s.applyStatus)
		r.Post("/delete", s.deleteMany)
		r.Delete("/{id}", s.deleteOne)
	})

	r.Route("/taxonomy", func(r chi.Router) {
		r.Get("/options", s.taxonomyOptions)
		r.Post("/select", s.taxonomySelect)
		r.Post("/back", s.taxonomyBack)
	})

	r.Post("/events", s.events)
	return r
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
