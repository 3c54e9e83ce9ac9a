// Package server is the MapFy backend: token-authenticated REST endpoints
// for accounts and the per-user map store.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"github.com/mapfy/mapfy/internal/cache"
	"github.com/mapfy/mapfy/internal/config"
	"github.com/mapfy/mapfy/internal/influx"
	"github.com/mapfy/mapfy/internal/store"
)

// Telemetry receives usage points. *influx.Manager satisfies this.
type Telemetry interface {
	WritePoint(ctx context.Context, bucket string, point *influxdb2_write.Point) error
}

// Server wires the HTTP routes to the store.
type Server struct {
	store     *store.Manager
	auth      config.AuthConfig
	google    GoogleVerifier
	tokens    *cache.TokenCache
	telemetry Telemetry
	validate  *validator.Validate
	log       zerolog.Logger
	router    chi.Router
}

// SetTelemetry attaches a usage telemetry sink. Without one, requests are
// only logged.
func (s *Server) SetTelemetry(t Telemetry) {
	s.telemetry = t
}

// New builds the server and its route table. A nil verifier disables Google
// sign-in.
func New(st *store.Manager, auth config.AuthConfig, google GoogleVerifier, log zerolog.Logger) *Server {
	s := &Server{
		store:    st,
		auth:     auth,
		google:   google,
		tokens:   cache.NewTokenCache(5 * time.Minute),
		validate: validator.New(),
		log:      log,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
			r.Post("/google", s.handleGoogleLogin)
			r.With(s.requireAuth).Get("/me", s.handleMe)
		})

		r.Route("/maps", func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/", s.handleListMaps)
			r.Post("/", s.handleCreateMap)
			r.Get("/{id}", s.handleGetMap)
			r.Put("/{id}", s.handleUpdateMap)
			r.Delete("/{id}", s.handleDeleteMap)
		})
	})

	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", elapsed).
			Msg("request")
		if s.telemetry != nil {
			route := chi.RouteContext(r.Context()).RoutePattern()
			point := influx.RequestPoint(r.Method, route, ww.Status(), elapsed)
			if err := s.telemetry.WritePoint(context.Background(), influx.BucketAPIPerformance, point); err != nil {
				s.log.Warn().Err(err).Msg("failed to record request point")
			}
		}
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
