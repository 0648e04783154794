package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"github.com/ukydev/fleet-simulator/internal/assignment"
	"github.com/ukydev/fleet-simulator/internal/auth"
	"github.com/ukydev/fleet-simulator/internal/config"
	"github.com/ukydev/fleet-simulator/internal/db"
	"github.com/ukydev/fleet-simulator/internal/engine"
	"github.com/ukydev/fleet-simulator/internal/fleet"
	"github.com/ukydev/fleet-simulator/internal/handlers"
	"github.com/ukydev/fleet-simulator/internal/incident"
	"github.com/ukydev/fleet-simulator/internal/logging"
	"github.com/ukydev/fleet-simulator/internal/middleware"
	"github.com/ukydev/fleet-simulator/internal/models"
	"github.com/ukydev/fleet-simulator/internal/sdmis"
	"github.com/ukydev/fleet-simulator/internal/transport"
	"github.com/ukydev/fleet-simulator/internal/transport/mqtt"
	"github.com/ukydev/fleet-simulator/internal/transport/rabbitmq"
	"github.com/ukydev/fleet-simulator/internal/transport/uart"
)

const (
	shutdownTimeout = 5 * time.Second
	statusTokenTTL  = 12 * time.Hour
)

// RosterLoader returns the vehicles the fleet starts with.
type RosterLoader interface {
	LoadVehicles(ctx context.Context) ([]models.RosterEntry, error)
}

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}

	cfg, err := config.Load(envFile)
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}

	logger, err := logging.Setup(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		log.WithError(err).Fatal("Failed to set up logging")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("Simulator stopped")
	}
	logger.Info("Simulator exited")
}

func run(ctx context.Context, cfg *config.Config, logger log.FieldLogger) error {
	logger.WithFields(log.Fields{
		"transport": cfg.Transport,
		"roster":    cfg.RosterSource,
		"api":       cfg.SDMISBaseURL,
		"tick":      cfg.Engine.Tick,
	}).Info("Starting fleet simulation")

	tokens, err := auth.NewTokenSource(ctx, cfg.Auth, logger)
	if err != nil {
		return fmt.Errorf("token source: %w", err)
	}
	client := sdmis.NewClient(cfg.SDMISBaseURL, cfg.SDMISTimeout, tokens)

	var mongoClient *mongo.Client
	if cfg.RosterSource == config.RosterMongo || cfg.TelemetryArchive {
		mongoClient, err = db.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return err
		}
		defer func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = mongoClient.Disconnect(disconnectCtx)
		}()
	}

	entries, err := newRoster(cfg, client, mongoClient, logger).LoadVehicles(ctx)
	if err != nil {
		return fmt.Errorf("failed to load vehicles: %w", err)
	}
	fl := fleet.New(entries, logger)
	coordinator := incident.NewCoordinator()
	logger.WithField("vehicles", fl.Len()).Info("Fleet initialized")

	gateway, err := newGateway(cfg, logger)
	if err != nil {
		return err
	}
	if cfg.TelemetryArchive {
		store := &db.MongoCollection{Collection: mongoClient.Database(cfg.MongoDB).Collection(db.TelemetryCollectionName)}
		gateway = db.NewArchiveGateway(gateway, store, db.DefaultArchiveQueue, logger)
	}
	defer func() {
		if err := gateway.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close transport")
		}
	}()

	routes := sdmis.NewRouteService(client, logger)
	ingest := assignment.NewHandler(fl, coordinator, sdmis.NewAssignmentService(client), routes, cfg.Engine.SnapStart, logger)
	sim := engine.New(cfg.Engine, fl, coordinator, gateway, routes, logger)

	g, gctx := errgroup.WithContext(ctx)
	if err := gateway.Start(gctx, ingest); err != nil {
		return fmt.Errorf("failed to start %s transport: %w", cfg.Transport, err)
	}
	g.Go(func() error {
		return sim.Run(gctx)
	})

	if cfg.StatusAPIAddr != "" {
		router, err := newStatusRouter(cfg, fl, coordinator, ingest, logger)
		if err != nil {
			return err
		}
		srv := &http.Server{Addr: cfg.StatusAPIAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.WithField("addr", cfg.StatusAPIAddr).Info("Status API listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status api: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func newRoster(cfg *config.Config, client *sdmis.Client, mongoClient *mongo.Client, logger log.FieldLogger) RosterLoader {
	if cfg.RosterSource == config.RosterMongo {
		vehicles := &db.MongoCollection{Collection: mongoClient.Database(cfg.MongoDB).Collection(db.VehiclesCollectionName)}
		return db.NewMongoRoster(vehicles, logger)
	}
	return sdmis.NewRoster(client, logger)
}

func newGateway(cfg *config.Config, logger log.FieldLogger) (transport.Gateway, error) {
	switch cfg.Transport {
	case config.TransportAMQP:
		return rabbitmq.NewGateway(cfg.RabbitMQ, logger), nil
	case config.TransportUART:
		return uart.NewGateway(cfg.UART, uart.OpenSerial, logger), nil
	case config.TransportMQTT:
		return mqtt.New(cfg.MQTT, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func newStatusRouter(cfg *config.Config, fl *fleet.Fleet, coordinator *incident.Coordinator, ingest handlers.Assigner, logger log.FieldLogger) (http.Handler, error) {
	h := handlers.NewStatusHandler(fl, coordinator, ingest, logger)
	if cfg.StatusAPIJWTSecret == "" {
		logger.Warn("STATUS_API_JWT_SECRET not set, status API is unauthenticated")
		return handlers.NewRouter(h, nil, logger), nil
	}
	authService, err := auth.NewService(cfg.StatusAPIJWTSecret, statusTokenTTL)
	if err != nil {
		return nil, err
	}
	return handlers.NewRouter(h, middleware.NewAuthMiddleware(authService, logger), logger), nil
}
