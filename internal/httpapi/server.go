package httpapi

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/tagalong/internal/auth"
	"github.com/example/tagalong/internal/checkout"
	"github.com/example/tagalong/internal/config"
	"github.com/example/tagalong/internal/dispatch"
	"github.com/example/tagalong/internal/eta"
	"github.com/example/tagalong/internal/events"
	"github.com/example/tagalong/internal/expiry"
	"github.com/example/tagalong/internal/geo"
	"github.com/example/tagalong/internal/ingest"
	"github.com/example/tagalong/internal/lifecycle"
	"github.com/example/tagalong/internal/store"
)

// Server wires the membership protocol and its collaborators behind the HTTP
// API. Construction is config-driven with in-memory fallbacks, so the binary
// runs locally without Postgres, Redis or Kafka.
type Server struct {
	cfg    config.ServerConfig
	logger *slog.Logger

	store    store.Store
	lc       *lifecycle.Service
	verifier *checkout.Verifier
	bus      *events.Bus

	feed     geo.Feed
	etaCl    eta.Client // optional routing engine
	etaCache *eta.Cache

	pings       *ingest.PingProducer  // optional
	eventStream *ingest.EventProducer // optional

	reg       *dispatch.Registry
	notifier  *dispatch.Notifier
	countdown *dispatch.Countdown
	monitor   *expiry.Monitor

	router  *mux.Router
	closers []io.Closer
}

func New(cfg config.ServerConfig, logger *slog.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger, bus: events.NewBus(), router: mux.NewRouter()}

	if cfg.PGDSN != "" {
		ps, err := store.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		s.store = ps
		s.closers = append(s.closers, ps)
	} else {
		s.store = store.NewMemoryStore()
	}

	if cfg.RedisAddr != "" {
		rf := geo.NewRedisFeed(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		s.feed = rf
		s.closers = append(s.closers, rf)
	} else {
		s.feed = geo.NewIndex()
	}

	if len(cfg.KafkaBrokers) > 0 {
		s.pings = ingest.NewPingProducer(cfg.KafkaBrokers, cfg.KafkaPingTopic)
		s.eventStream = ingest.NewEventProducer(cfg.KafkaBrokers, cfg.KafkaEventTopic)
		s.closers = append(s.closers, s.pings, s.eventStream)
	}

	s.lc = lifecycle.New(s.store, s.bus, logger)
	s.verifier = checkout.New(s.store, s.lc, s.bus, []byte(cfg.CheckoutSecret), logger)
	s.monitor = expiry.New(s.store, s.lc, cfg.ExpiryInterval, logger)

	s.reg = dispatch.NewRegistry()
	var push *dispatch.Push
	if cfg.PushEndpoint != "" {
		push = dispatch.NewPush(cfg.PushEndpoint, cfg.PushKey)
	}
	s.notifier = dispatch.NewNotifier(s.reg, s.store, push, logger)
	s.countdown = dispatch.NewCountdown(s.reg, s.store, cfg.CountdownInterval, logger)

	if cfg.OSRMEndpoint != "" {
		s.etaCl = eta.NewOSRMClient(cfg.OSRMEndpoint, "foot")
	}
	s.etaCache = eta.NewCache(30 * time.Second)

	s.registerMiddleware()
	s.routes()
	return s, nil
}

// Start launches the background pieces: the expiry monitor, the countdown
// broadcaster, and the bus subscriptions for checkout dissolution, websocket
// fan-out and the Kafka event mirror. The returned stop disposes all of them.
func (s *Server) Start(ctx context.Context) (stop func()) {
	unsubCheckout := s.verifier.Watch()
	unsubNotify := s.notifier.Watch(s.bus)

	var unsubStream func()
	if s.eventStream != nil {
		unsubStream = s.bus.SubscribeAll(func(e events.Event) {
			if err := s.eventStream.PublishEvent(e); err != nil {
				s.logger.Error("event stream publish failed", "type", e.Type, "error", err)
			}
		})
	}

	stopMonitor := s.monitor.Start(ctx)
	stopCountdown := s.countdown.Start(ctx)

	return func() {
		stopMonitor()
		stopCountdown()
		unsubCheckout()
		unsubNotify()
		if unsubStream != nil {
			unsubStream()
		}
	}
}

func (s *Server) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Lifecycle exposes the protocol service, mainly for tests and tooling.
func (s *Server) Lifecycle() *lifecycle.Service { return s.lc }

func (s *Server) routes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(auth.Middleware([]byte(s.cfg.AuthSecret), s.logger))

	api.HandleFunc("/activities", s.handleCreateActivity).Methods("POST")
	api.HandleFunc("/activities", s.handleListActivities).Methods("GET")
	api.HandleFunc("/activities/{id}", s.handleGetActivity).Methods("GET")
	api.HandleFunc("/activities/{id}/join", s.handleJoin).Methods("POST")
	api.HandleFunc("/activities/{id}/leave", s.handleLeave).Methods("POST")
	api.HandleFunc("/activities/{id}/end", s.handleEnd).Methods("POST")
	api.HandleFunc("/activities/{id}/checkout-code", s.handleCheckoutCode).Methods("GET")
	api.HandleFunc("/activities/{id}/checkout", s.handleCheckout).Methods("POST")

	api.HandleFunc("/users/me", s.handleMe).Methods("GET")
	api.HandleFunc("/users/nearby", s.handleNearby).Methods("GET")
	api.HandleFunc("/users/{id}", s.handleGetUser).Methods("GET")

	ws := s.router.PathPrefix("/ws").Subrouter()
	ws.Use(auth.Middleware([]byte(s.cfg.AuthSecret), s.logger))
	ws.HandleFunc("", s.handleWS)

	// trusted ingest path for location trackers, not user-authenticated
	s.router.HandleFunc("/internal/locations", s.handleLocationPing).Methods("POST")

	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	s.router.Handle("/metrics", metricsHandler())
}
