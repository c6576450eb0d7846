// Package server exposes the call lifecycle, session inspection, and
// configuration surface over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bankabc/voicegate/internal/agent"
	"github.com/bankabc/voicegate/internal/otel"
	"github.com/bankabc/voicegate/internal/session"
)

const serviceName = "voicegate"

const defaultTimeout = 60 * time.Second

// Transcriber converts caller audio to text, returning "" on failure.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) string
}

// Synthesizer converts text to audio, returning nil on failure.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) []byte
}

// Server holds all dependencies for the HTTP API.
type Server struct {
	router         *chi.Mux
	orch           *agent.Orchestrator
	store          *session.Store
	transcriber    Transcriber
	synthesizer    Synthesizer
	maxAudioBytes  int64
	minAudioBytes  int64
	turnsPerMinute int
	corsOrigins    []string
	defaultEnv     string
	startTime      time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithAudioLimits sets the per-request audio size gates.
func WithAudioLimits(minBytes, maxBytes int64) Option {
	return func(s *Server) {
		s.minAudioBytes = minBytes
		s.maxAudioBytes = maxBytes
	}
}

// WithTurnRate sets the per-caller turn budget per minute. Zero disables
// rate limiting.
func WithTurnRate(perMinute int) Option {
	return func(s *Server) { s.turnsPerMinute = perMinute }
}

// WithCORSOrigins sets allowed CORS origins (["*"] for any).
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithDefaultEnv sets the environment used when a request names none.
func WithDefaultEnv(envKey string) Option {
	return func(s *Server) { s.defaultEnv = envKey }
}

// NewServer builds a Server over the orchestrator, store, and speech
// providers.
func NewServer(orch *agent.Orchestrator, store *session.Store, transcriber Transcriber, synthesizer Synthesizer, opts ...Option) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		orch:           orch,
		store:          store,
		transcriber:    transcriber,
		synthesizer:    synthesizer,
		minAudioBytes:  1 << 10,
		maxAudioBytes:  10 << 20,
		turnsPerMinute: 30,
		corsOrigins:    []string{"*"},
		defaultEnv:     "dev",
		startTime:      time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the configured http.Handler.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(otel.Middleware())
	r.Use(CORSMiddleware(s.corsOrigins))

	r.Get("/", s.handleHealth)

	r.Route("/call", func(r chi.Router) {
		r.Post("/start", s.handleCallStart)
		r.With(TurnRateMiddleware(s.turnsPerMinute)).Post("/turn", s.handleCallTurn)
		r.Post("/end", s.handleCallEnd)
	})

	r.Get("/ws/chat/{session_id}", s.handleChatSocket)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(defaultTimeout))
		r.Get("/sessions", s.handleSessionsList)
		r.Get("/sessions/{session_id}", s.handleSessionGet)

		r.Get("/config", s.handleConfigGet)
		r.Patch("/config", s.handleConfigPatch)
		r.Get("/config/environments", s.handleConfigEnvironments)
	})

	return r
}

// CORSMiddleware returns a middleware that sets CORS headers.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
			break
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin != "" {
				for _, o := range allowedOrigins {
					if o == origin {
						w.Header().Set("Access-Control-Allow-Origin", origin)
						break
					}
				}
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
			w.Header().Set("Access-Control-Max-Age", "300")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
