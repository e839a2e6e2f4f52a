// README: Entry point; loads config, wires services, starts HTTP server and background loops.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"rideflow/internal/config"
	"rideflow/internal/events"
	httptransport "rideflow/internal/http"
	"rideflow/internal/infra"
	"rideflow/internal/maps"
	"rideflow/internal/modules/location"
	"rideflow/internal/modules/matching"
	"rideflow/internal/modules/otp"
	"rideflow/internal/modules/pricing"
	"rideflow/internal/modules/ride"
	"rideflow/internal/notify"
	"rideflow/internal/payment"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("rideflow exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var dbPool *pgxpool.Pool
	if cfg.DB.DSN != "" {
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		dbPool = pool
	} else {
		logger.Warn("RIDEFLOW_DB_DSN not set; rides are kept in memory")
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		client, err := infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer client.Close()
		redisClient = client
	} else {
		logger.Warn("RIDEFLOW_REDIS_ADDR not set; driver locations are kept in memory")
	}

	var fbApp *firebase.App
	if cfg.Firebase.ProjectID != "" {
		app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			return fmt.Errorf("firebase init: %w", err)
		}
		fbApp = app
	}

	verifier, err := newVerifier(ctx, cfg, fbApp)
	if err != nil {
		return err
	}

	// Routing and geocoding.
	var (
		distance ride.DistanceService
		geocoder matching.Geocoder
	)
	if cfg.Maps.APIKey != "" {
		routes, err := maps.NewRouteService(cfg.Maps.APIKey, cfg.Maps.Region)
		if err != nil {
			return err
		}
		geo, err := maps.NewGeocoder(cfg.Maps.APIKey, cfg.Maps.Region)
		if err != nil {
			return err
		}
		distance, geocoder = routes, geo
	} else {
		logger.Warn("RIDEFLOW_MAPS_API_KEY not set; using straight-line distances")
		line := maps.NewStraightLine(cfg.Maps.SpeedKmh)
		distance, geocoder = line, line
	}

	var pricingStore *pricing.Store
	if dbPool != nil {
		pricingStore = pricing.NewStore(dbPool)
	}
	pricingSvc, err := pricing.NewServiceFromStore(ctx, pricingStore, cfg.Ride.Currency)
	if err != nil {
		return fmt.Errorf("load fare table: %w", err)
	}

	var (
		registry      location.Registry
		matchingStore matching.Store
		tokens        notify.TokenStore
		rideStore     ride.Repository
	)
	if redisClient != nil {
		registry = location.NewRedisRegistry(redisClient)
		matchingStore = matching.NewRedisStore(redisClient)
		tokens = notify.NewRedisTokenStore(redisClient)
	} else {
		registry = location.NewMemoryRegistry()
		matchingStore = matching.NewMemoryStore()
		tokens = notify.NewMemoryTokenStore()
	}
	if dbPool != nil {
		rideStore = ride.NewPostgresStore(dbPool)
	} else {
		rideStore = ride.NewMemoryStore()
	}
	locationSvc := location.NewService(registry)

	hub := notify.NewHub(logger)
	notifier := notify.NewMulti(logger).Add("websocket", hub)
	if fbApp != nil {
		fcm, err := notify.NewFCM(ctx, fbApp, tokens, logger)
		if err != nil {
			return fmt.Errorf("fcm init: %w", err)
		}
		notifier.Add("fcm", fcm)
	}

	matchingSvc := matching.NewService(matchingStore, locationSvc, geocoder, notifier, cfg.Matching, logger)

	deps := ride.Deps{
		Store:      rideStore,
		Distance:   distance,
		Pricing:    pricingSvc,
		OTP:        otp.NewGenerator(),
		Dispatcher: matchingSvc,
		Notifier:   notifier,
		Logger:     logger,
	}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer publisher.Close()
		deps.Events = publisher
	}
	if cfg.Payment.KeyID != "" {
		gateway, err := payment.NewGateway(cfg.Payment.BaseURL, cfg.Payment.KeyID, cfg.Payment.KeySecret)
		if err != nil {
			return err
		}
		deps.Payments = gateway
	}
	rideSvc := ride.NewService(deps, ride.Options{
		OTPLength:    cfg.Ride.OTPLength,
		PendingTTL:   cfg.Ride.PendingTTL,
		CancelPolicy: ride.CancelPolicy(cfg.Ride.CancelPolicy),
	})
	matchingSvc.SetRideReader(rideSvc)

	gin.SetMode(gin.ReleaseMode)
	router := httptransport.NewRouter(httptransport.RouterDeps{
		Rides:    rideSvc,
		Location: locationSvc,
		Tokens:   tokens,
		Hub:      hub,
		Verifier: verifier,
		Logger:   logger,
	})
	server := httptransport.NewServer(cfg.HTTP.Addr, router)

	go rideSvc.RunExpiryMonitor(ctx)
	go matchingSvc.RunBroadcaster(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTP.Addr)
		errCh <- server.Run()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	rideSvc.Wait()
	return nil
}

func newVerifier(ctx context.Context, cfg config.Config, app *firebase.App) (infra.Verifier, error) {
	switch strings.ToLower(cfg.Auth.Mode) {
	case "firebase":
		if app == nil {
			return nil, fmt.Errorf("auth mode firebase requires RIDEFLOW_FIREBASE_PROJECT_ID")
		}
		return infra.NewFirebaseVerifier(ctx, app)
	case "jwt", "":
		return infra.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Auth.Mode)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
