// Command server wires the Event Fabric's collaborators (cache, event
// bus, persistence, domain services) and serves WebSocket connections,
// following teacher's server/shutdown.go signal-then-drain sequence,
// adapted from its os/signal channel into context.Context cancellation.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dcadea/eventfabric/internal/bus"
	"github.com/dcadea/eventfabric/internal/cache"
	"github.com/dcadea/eventfabric/internal/config"
	"github.com/dcadea/eventfabric/internal/conn"
	"github.com/dcadea/eventfabric/internal/contact"
	"github.com/dcadea/eventfabric/internal/identity"
	"github.com/dcadea/eventfabric/internal/message"
	"github.com/dcadea/eventfabric/internal/presence"
	storemongo "github.com/dcadea/eventfabric/internal/store/mongo"
	"github.com/dcadea/eventfabric/internal/talk"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	os.Exit(run())
}

// run returns the process exit code: 0 on clean shutdown, non-zero on
// failed state initialization (spec §6).
func run() int {
	cfg := config.Load()
	log.Info().Str("env", string(cfg.Env)).Msg("server: starting")

	cacheStore, err := cache.NewRedisStore(cfg.Redis.Addr())
	if err != nil {
		log.Error().Err(err).Msg("server: failed to connect to cache")
		return 1
	}
	defer cacheStore.Close()

	eventBus, err := bus.NewNATSBus(cfg.NATS.URL())
	if err != nil {
		log.Error().Err(err).Msg("server: failed to connect to event bus")
		return 1
	}
	defer eventBus.Close()

	db, closeMongo, err := storemongo.Connect(cfg.Mongo.URI(), cfg.Mongo.Database)
	if err != nil {
		log.Error().Err(err).Msg("server: failed to connect to database")
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := closeMongo(ctx); err != nil {
			log.Error().Err(err).Msg("server: error closing database connection")
		}
	}()

	talkRepo := storemongo.NewTalkRepository(db)
	messageRepo := storemongo.NewMessageRepository(db)
	userRepo := storemongo.NewUserRepository(db)
	contactRepo := storemongo.NewContactRepository(db)

	talks := talk.New(talkRepo, messageRepo, eventBus)
	messages := message.New(messageRepo, talks, eventBus)
	contacts := contact.New(contactRepo)
	presenceTracker := presence.New(cacheStore, contactRepo, eventBus)

	jwks := identity.NewHTTPJWKSource(cfg.OAuth.Issuer + "/.well-known/jwks.json")
	resolver, err := identity.New(identity.Config{
		Issuer:         cfg.OAuth.Issuer,
		Audience:       cfg.OAuth.Audience,
		RequiredClaims: cfg.OAuth.RequiredClaims,
	}, jwks, cacheStore, userRepo)
	if err != nil {
		log.Error().Err(err).Msg("server: failed to initialize identity resolver")
		return 1
	}
	defer resolver.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	go resolver.RefreshEvery(ctx, 24*time.Hour)

	dispatcher := conn.NewDispatcher(resolver, talks, messages)
	contactsHTTP := conn.NewContactsHandler(resolver, contacts, contactRepo)
	talksHTTP := conn.NewTalksHandler(resolver, talks)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if err := conn.Serve(w, r, dispatcher, presenceTracker, talks, eventBus); err != nil {
			log.Warn().Err(err).Msg("server: websocket upgrade failed")
		}
	})
	mux.HandleFunc("/contacts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			contactsHTTP.Propose(w, r)
			return
		}
		contactsHTTP.Accepted(w, r)
	})
	mux.HandleFunc("/contacts/accept", contactsHTTP.Accept())
	mux.HandleFunc("/contacts/reject", contactsHTTP.Reject())
	mux.HandleFunc("/contacts/block", contactsHTTP.Block())
	mux.HandleFunc("/contacts/unblock", contactsHTTP.Unblock())
	mux.HandleFunc("/chats", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			talksHTTP.Create(w, r)
		case http.MethodDelete:
			talksHTTP.Delete(w, r)
		default:
			talksHTTP.List(w, r)
		}
	})

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handlers.CombinedLoggingHandler(os.Stdout, mux),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("server: listening")
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("server: shutdown signal received")
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server: listener failed")
			return 1
		}
		return 0
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server: graceful shutdown failed")
		return 1
	}
	return 0
}
