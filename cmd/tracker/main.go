package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"resbac/internal/api"
	"resbac/internal/auth"
	"resbac/internal/call"
	"resbac/internal/config"
	"resbac/internal/geocode"
	"resbac/internal/models"
	"resbac/internal/notify"
	"resbac/internal/relay"
	"resbac/internal/relay/pusher"
	"resbac/internal/relay/redisbus"
	"resbac/internal/sampler"
	"resbac/internal/server"
	"resbac/internal/store"
	"resbac/internal/tracking"
)

func newLogger(level string) (*zap.Logger, error) {
	if level == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func main() {
	cfgPath := flag.String("config", "configs/config.yml", "path to the YAML config")
	incidentID := flag.Int64("incident", 0, "incident to open")
	loop := flag.Bool("loop", false, "replay the track file forever")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*cfgPath)
	if err != nil {
		bootLogger, _ := zap.NewDevelopment()
		bootLogger.Fatal("Failed to load config", zap.Error(err))
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync() // Flushes buffer, if any
	}()

	if *incidentID <= 0 {
		logger.Fatal("An incident id is required", zap.Int64("incident", *incidentID))
	}

	db, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer db.Close()

	// Context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sess, err := db.LoadSession(ctx)
	if err != nil {
		logger.Fatal("No signed-in user on this device", zap.Error(err))
	}
	if claims, err := auth.InspectBackendToken(sess.Token); err == nil && claims.Expired(time.Now()) {
		logger.Warn("Stored API token has expired, requests will be rejected", zap.Time("expires_at", claims.ExpiresAt))
	}

	apiClient := api.NewClient(cfg.API.BaseURL, cfg.APITimeout(), logger)
	apiClient.SetToken(sess.Token)

	transport, shutdownTransport := newTransport(cfg, apiClient, logger)
	defer shutdownTransport()

	notifier, bot := newNotifier(cfg, logger)

	deps := tracking.Deps{
		API:       apiClient,
		Transport: transport,
		Joiner:    call.NewLogJoiner(logger),
		Trail:     db,
		Notifier:  notifier,
		Logger:    logger,
	}
	if g := newGeocoder(cfg, db, logger); g != nil {
		deps.Geocoder = g
	}
	if sess.Profile.Role == models.UserResponder {
		provider, err := sampler.NewReplayProviderFromFile(cfg.Tracking.TrackFile, cfg.Tracking.ReplaySpeed, *loop, logger)
		if err != nil {
			logger.Fatal("Failed to load track", zap.Error(err))
		}
		deps.Provider = provider
	}

	tcfg := tracking.Config{
		Sampler:  cfg.SamplerConfig(),
		Throttle: cfg.ThrottleConfig(),
		Arrival:  cfg.ArrivalConfig(),
		Call:     cfg.CallConfig(),
		Relay:    cfg.RelayConfig(),
	}
	session, err := tracking.Open(ctx, *incidentID, sess.Profile, tcfg, deps)
	if err != nil {
		logger.Fatal("Failed to open incident", zap.Error(err))
	}
	defer session.Close()

	// Run Telegram bot in a goroutine (if enabled)
	if bot != nil {
		bot.SetStatus(session.Summary)
		go func() {
			if err := bot.Start(ctx); err != nil {
				logger.Error("Telegram bot failed", zap.Error(err))
			}
		}()
	}

	secret := cfg.Server.JWTSecret
	if secret == "" {
		secret = uuid.NewString()
		logger.Warn("server.jwt_secret not set, control tokens will not survive a restart")
	}
	srv := server.NewServer(server.Deps{
		Config:   cfg,
		Tracker:  session,
		Trail:    db,
		Resident: apiClient,
		Sessions: db,
		Issuer:   auth.NewIssuer(secret, auth.DefaultTTL),
	}, logger)
	if err := srv.Run(ctx, cfg.Server.Port); err != nil {
		logger.Error("Control API failed", zap.Error(err))
	}

	logger.Info("Tracker stopped.")
}

func newTransport(cfg *config.Config, authorizer pusher.Authorizer, logger *zap.Logger) (relay.Transport, func()) {
	b := cfg.Broker
	if b.Driver == "redis" {
		t := redisbus.New(redisbus.Config{Addr: b.RedisAddr, DB: b.RedisDB}, logger)
		return t, func() {
			if err := t.Shutdown(); err != nil {
				logger.Warn("Failed to close redis client", zap.Error(err))
			}
		}
	}
	tls := true
	if b.TLS != nil {
		tls = *b.TLS
	}
	return pusher.New(pusher.Config{Key: b.Key, Cluster: b.Cluster, Host: b.Host, TLS: tls}, authorizer, logger), func() {}
}

func newGeocoder(cfg *config.Config, db *store.Store, logger *zap.Logger) *geocode.Geocoder {
	var provider geocode.Provider
	switch cfg.Geocode.Provider {
	case "here":
		provider = geocode.NewHere(cfg.Geocode.APIKey, "")
	case "google":
		g, err := geocode.NewGoogle(cfg.Geocode.APIKey, "")
		if err != nil {
			logger.Warn("Google geocoder unavailable, addresses will show coordinates", zap.Error(err))
			return nil
		}
		provider = g
	default:
		return nil
	}
	return geocode.New(provider, db.GeocodeCache(provider.Name()), logger)
}

func newNotifier(cfg *config.Config, logger *zap.Logger) (notify.Notifier, *notify.Telegram) {
	logNotifier := notify.NewLog(logger)
	if cfg.Notify.TelegramBotToken == "" {
		return logNotifier, nil
	}
	bot, err := notify.NewTelegram(cfg.Notify.TelegramBotToken, cfg.Notify.TelegramChatID, "", logger)
	if err != nil {
		logger.Warn("Failed to initialize Telegram bot, continuing without it", zap.Error(err))
		return logNotifier, nil
	}
	return notify.Multi{logNotifier, bot}, bot
}
