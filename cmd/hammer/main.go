package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shruti8766/hype-hammer-sub001/internal/api"
	"github.com/shruti8766/hype-hammer-sub001/internal/auction"
	"github.com/shruti8766/hype-hammer-sub001/internal/bus"
	"github.com/shruti8766/hype-hammer-sub001/internal/config"
	"github.com/shruti8766/hype-hammer-sub001/internal/house"
	"github.com/shruti8766/hype-hammer-sub001/internal/metrics"
	"github.com/shruti8766/hype-hammer-sub001/internal/protocol"
	"github.com/shruti8766/hype-hammer-sub001/internal/store"
	"github.com/shruti8766/hype-hammer-sub001/web"
)

func main() {
	configPath := flag.String("config", os.Getenv("HAMMER_CONFIG"), "YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg.Log)

	// Initialize SQLite store
	st, err := store.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("failed to initialize database")
	}
	bootstrapAdmin(st, cfg.Auth)

	m := metrics.New()
	opts := []house.Option{house.WithStore(st), house.WithMetrics(m)}

	// The event mirror is optional; the auction runs without a broker.
	var nc *bus.Conn
	if cfg.NATS.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		nc, err = bus.Connect(ctx, cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("event mirror disabled")
			nc = nil
		} else {
			opts = append(opts, house.WithPublisher(nc))
			log.Info().Str("url", cfg.NATS.URL).Str("stream", bus.StreamName).Msg("mirroring events to nats")
		}
	}

	h := house.New(house.Config{
		Auction: auction.Config{
			BidWindow:      cfg.Auction.BidWindow,
			TickInterval:   cfg.Auction.TickInterval,
			SnapshotWindow: cfg.Auction.SnapshotWindow,
			DefaultBudget:  cfg.Auction.DefaultBudget,
		},
		ChannelBuffer: cfg.Auction.ChannelBuffer,
		AudioTimeout:  cfg.Auction.AudioTimeout,
		BusPrefix:     cfg.NATS.SubjectPrefix,
		RetainEnded:   cfg.Auction.RetainEnded,
	}, opts...)

	// Get embedded console files
	staticFS, err := web.GetDistFS()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load embedded console")
	}

	server := api.NewServer(h, api.Options{
		Store:         st,
		Metrics:       m,
		StaticFS:      staticFS,
		CORSOrigins:   cfg.Server.CORSOrigins,
		AuthRequired:  cfg.Auth.Required,
		TokenTTL:      cfg.Auth.TokenTTL,
		RatePerSecond: cfg.RateLimit.PerSecond,
		RateBurst:     cfg.RateLimit.Burst,
		ChannelBuffer: cfg.Auction.ChannelBuffer,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", cfg.Server.Addr).
			Str("db", cfg.Database.Path).
			Dur("bid_window", cfg.Auction.BidWindow).
			Bool("auth_required", cfg.Auth.Required).
			Msg("starting auction server")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	server.Shutdown()

	// Closing the house flushes every recorder, so the store closes last.
	h.Close()
	log.Info().Msg("sessions closed")

	if nc != nil {
		if err := nc.Close(); err != nil {
			log.Warn().Err(err).Msg("nats drain")
		}
	}
	if err := st.Close(); err != nil {
		log.Warn().Err(err).Msg("database close")
	}
	log.Info().Msg("shutdown complete")
}

func setupLogging(c config.LogConfig) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// bootstrapAdmin creates the first console operator from config.
func bootstrapAdmin(st *store.Store, c config.AuthConfig) {
	if c.AdminName == "" || c.AdminKey == "" {
		if c.Required {
			log.Warn().Msg("auth required but no admin configured; create one with HAMMER_ADMIN_NAME and HAMMER_ADMIN_KEY")
		}
		return
	}
	op, err := st.CreateOperator(c.AdminName, string(protocol.RoleAdmin), c.AdminKey)
	switch {
	case errors.Is(err, store.ErrOperatorExists):
		log.Debug().Str("operator", c.AdminName).Msg("admin operator already exists")
	case err != nil:
		log.Fatal().Err(err).Msg("failed to create admin operator")
	default:
		log.Info().Str("operator", op.Name).Msg("admin operator created")
	}
}
