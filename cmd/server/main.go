// cmd/server/main.go
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

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"groundlink/internal/config"
	"groundlink/internal/discovery"
	"groundlink/internal/discovery/serial"
	"groundlink/internal/discovery/usb"
	"groundlink/internal/driver"
	"groundlink/internal/handler"
	"groundlink/internal/iface"
	"groundlink/internal/packet"
	"groundlink/internal/protocol"
	"groundlink/internal/router"
	"groundlink/internal/routes"
	"groundlink/internal/utils"
)

// Application represents the main application
type Application struct {
	config *config.Config
	logger *zap.Logger
	server *http.Server

	definitions *packet.Registry
	drivers     *driver.Registry
	manager     *iface.Manager

	bus       *handler.EventBus
	health    *handler.HealthHandler
	telemetry *handler.TelemetryHandler

	nats        *nats.Conn
	natsRouter  *router.NATSRouter
	redis       *redis.Client
	statusStore *router.StatusStore

	cancel context.CancelFunc
}

func main() {
	app, err := NewApplication()
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	utils.NewServiceLogger(logger, cfg.App.Name).LogServiceStart(cfg.App.Version, cfg)

	app := &Application{
		config:  cfg,
		logger:  logger,
		manager: iface.NewManager(logger),
		bus:     handler.NewEventBus(logger),
	}

	if err := app.initializeDefinitions(); err != nil {
		return nil, fmt.Errorf("failed to load packet definitions: %w", err)
	}
	if err := app.initializeInterfaces(); err != nil {
		return nil, fmt.Errorf("failed to initialize interfaces: %w", err)
	}
	if err := app.initializeRouter(); err != nil {
		return nil, fmt.Errorf("failed to initialize packet router: %w", err)
	}
	if err := app.initializeStatusStore(); err != nil {
		return nil, fmt.Errorf("failed to initialize status store: %w", err)
	}
	app.initializeServer()

	return app, nil
}

func (app *Application) initializeDefinitions() error {
	app.definitions = packet.NewRegistry()
	if err := packet.LoadDefinitions(app.definitions, app.config.Definitions.Files...); err != nil {
		return err
	}

	app.logger.Info("Packet definitions loaded",
		zap.Strings("files", app.config.Definitions.Files),
		zap.Strings("telemetry_targets", app.definitions.Targets(packet.Telemetry)),
		zap.Strings("command_targets", app.definitions.Targets(packet.Command)),
	)
	return nil
}

func (app *Application) initializeInterfaces() error {
	app.drivers = driver.NewRegistry(app.logger)
	driver.RegisterDefaultLinks(app.drivers)

	env := protocol.Env{Registry: app.definitions, Logger: app.logger}
	for i := range app.config.Interfaces {
		link, err := app.drivers.Build(&app.config.Interfaces[i], env)
		if err != nil {
			return err
		}
		if _, err := app.manager.Add(link); err != nil {
			return err
		}
	}

	app.manager.OnPacket(app.bus.PublishPacket)
	app.logger.Info("Interfaces initialized",
		zap.Int("count", len(app.config.Interfaces)),
		zap.Strings("link_kinds", app.drivers.Kinds()),
	)
	return nil
}

func (app *Application) initializeRouter() error {
	if !app.config.NATS.Enabled {
		app.logger.Info("NATS packet router disabled")
		return nil
	}

	conn, err := router.ConnectNATS(&app.config.NATS, app.logger)
	if err != nil {
		return err
	}
	app.nats = conn
	app.natsRouter = router.NewNATSRouter(conn, app.config.NATS.SubjectPrefix, app.definitions, app.manager, app.logger)
	app.manager.OnPacket(app.natsRouter.HandlePacket)
	return nil
}

func (app *Application) initializeStatusStore() error {
	if !app.config.Redis.Enabled {
		app.logger.Info("Redis status store disabled")
		return nil
	}

	client, err := router.NewRedisClient(context.Background(), app.config)
	if err != nil {
		return err
	}
	app.redis = client
	app.statusStore = router.NewStatusStore(client, app.config.Redis.KeyPrefix, app.config.Redis.StatusTTL, app.logger)
	return nil
}

func (app *Application) initializeServer() {
	app.health = handler.NewHealthHandler(app.config, app.manager, app.logger)
	if app.nats != nil {
		app.health.AddCheck("nats", func(context.Context) error {
			if !app.nats.IsConnected() {
				return errors.New("NATS connection " + app.nats.Status().String())
			}
			return nil
		})
	}
	if app.redis != nil {
		app.health.AddCheck("redis", func(ctx context.Context) error {
			return app.redis.Ping(ctx).Err()
		})
	}

	app.telemetry = handler.NewTelemetryHandler(app.bus, app.config.Security.AllowedOrigins, app.logger)
	interfaces := handler.NewInterfaceHandler(app.manager, app.definitions, app.bus, app.logger)

	scanners := discovery.NewManager(app.logger)
	scanners.Register(serial.NewScanner(app.logger, serial.Config{}, nil))
	scanners.Register(usb.NewScanner(app.logger, usb.Config{}))
	ports := handler.NewDiscoveryHandler(scanners, app.logger)

	engine := routes.NewRouter(app.config, app.logger, app.health, interfaces, app.telemetry, ports).SetupRouter()

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      engine,
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
		zap.Bool("tls_enabled", app.config.Server.TLS.Enabled),
	)
}

// Start runs every component and blocks until a shutdown signal arrives
func (app *Application) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel

	go app.bus.Run(ctx)
	go app.telemetry.Run(ctx)

	if app.natsRouter != nil {
		if err := app.natsRouter.Start(); err != nil {
			cancel()
			return err
		}
	}
	app.manager.StartAll(ctx)

	if app.statusStore != nil {
		interval := app.config.Redis.StatusInterval
		if interval <= 0 {
			interval = 5 * time.Second
		}
		go app.statusStore.Run(ctx, interval, app.manager.Statuses)
	}

	go func() {
		app.logger.Info("Starting HTTP server", zap.String("address", app.server.Addr))

		var err error
		if app.config.Server.TLS.Enabled {
			err = app.server.ListenAndServeTLS(app.config.Server.TLS.CertFile, app.config.Server.TLS.KeyFile)
		} else {
			err = app.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	app.waitForShutdown()
	return nil
}

func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	app.shutdown()
}

// shutdown stops accepting requests before the interfaces go down so no
// command is written to a closing link
func (app *Application) shutdown() {
	utils.NewServiceLogger(app.logger, app.config.App.Name).LogServiceStop("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		utils.LogError(app.logger, "HTTP server shutdown error", err)
	} else {
		app.logger.Info("HTTP server stopped")
	}

	if app.natsRouter != nil {
		app.natsRouter.Stop()
	}
	app.manager.StopAll()
	app.cancel()

	if app.nats != nil {
		if err := app.nats.Drain(); err != nil {
			utils.LogError(app.logger, "NATS drain error", err)
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			utils.LogError(app.logger, "Redis close error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}
