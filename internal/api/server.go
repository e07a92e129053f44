package api

import (
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/shruti8766/hype-hammer-sub001/internal/house"
	"github.com/shruti8766/hype-hammer-sub001/internal/metrics"
	"github.com/shruti8766/hype-hammer-sub001/internal/store"
)

// Options configures a Server. Store and Metrics are optional.
type Options struct {
	Store         *store.Store
	Metrics       *metrics.Metrics
	StaticFS      fs.FS
	CORSOrigins   []string // empty allows all, for development
	AuthRequired  bool     // privileged roles need a console token
	TokenTTL      time.Duration
	RatePerSecond float64
	RateBurst     int
	ChannelBuffer int
}

type Server struct {
	house         *house.House
	store         *store.Store
	metrics       *metrics.Metrics
	tokens        *TokenStore
	rateLimiter   *RateLimiter
	staticFS      fs.FS
	upgrader      websocket.Upgrader
	corsOrigins   []string
	authRequired  bool
	channelBuffer int
}

func NewServer(h *house.House, opts Options) *Server {
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 40
	}
	s := &Server{
		house:         h,
		store:         opts.Store,
		metrics:       opts.Metrics,
		rateLimiter:   NewRateLimiter(opts.RatePerSecond, opts.RateBurst),
		staticFS:      opts.StaticFS,
		corsOrigins:   opts.CORSOrigins,
		authRequired:  opts.AuthRequired && opts.Store != nil,
		channelBuffer: opts.ChannelBuffer,
	}
	if opts.Store != nil {
		s.tokens = NewTokenStore(opts.Store, opts.TokenTTL)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return s.checkCORSOrigin(r.Header.Get("Origin"))
		},
	}
	return s
}

// checkCORSOrigin checks if an origin is allowed
func (s *Server) checkCORSOrigin(origin string) bool {
	// Empty list = allow all (development mode)
	if len(s.corsOrigins) == 0 {
		return true
	}
	// Empty origin header = same-origin request, always allow
	if origin == "" {
		return true
	}
	for _, allowed := range s.corsOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	allowedOrigins := s.corsOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"} // Allow all in development mode
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type",
			"X-Participant-ID", "X-Participant-Role", "X-Team-ID"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimiter.Middleware)

		if s.tokens != nil {
			r.Post("/console/login", s.handleLogin)
			r.Post("/console/logout", s.handleLogout)
			r.Post("/console/operators", s.handleCreateOperator)
		}

		r.Get("/sessions", s.handleListSessions)
		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Delete("/", s.handleDeleteSession)
			r.Post("/commands/{kind}", s.handleCommand)
			r.Get("/snapshot", s.handleSnapshot)
			r.Get("/lots/{lot}/bids", s.handleBids)
			r.Get("/audit", s.handleAudit)
			r.Get("/audio", s.handleAudio)
		})
	})

	r.Get("/ws/sessions/{id}", s.handleWebSocket)

	// Serve static files (console frontend)
	if s.staticFS != nil {
		fileServer := http.FileServer(http.FS(s.staticFS))
		r.Handle("/*", fileServer)
	}

	return r
}

// Shutdown stops internal goroutines (token cleanup, rate limiter)
func (s *Server) Shutdown() {
	if s.tokens != nil {
		s.tokens.Stop()
	}
	s.rateLimiter.Stop()
}
