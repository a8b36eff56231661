// Package components wires the Transaction Processing Core's collaborators
// into a runnable HTTP service: configuration, logging, the Postgres-backed
// Ledger Store, the Account Gateway, the Limit Evaluator, the Audit Sink,
// the Transaction Engine and the Scheduled Sweeper. Every component is
// constructed once in newContainer and held as an explicit field of the
// Container; the Container itself is kept as a package-level singleton by
// GetInstance.
package components

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/coreledger/txcore/internal/api/routes"
	"github.com/coreledger/txcore/internal/config"
	"github.com/coreledger/txcore/internal/domain/account"
	"github.com/coreledger/txcore/internal/domain/audit"
	"github.com/coreledger/txcore/internal/domain/engine"
	"github.com/coreledger/txcore/internal/domain/ledger"
	"github.com/coreledger/txcore/internal/domain/limits"
	"github.com/coreledger/txcore/internal/domain/sweeper"
	"github.com/coreledger/txcore/internal/infrastructure/database/postgres"
	"github.com/coreledger/txcore/internal/infrastructure/messaging/kafka"
	"github.com/coreledger/txcore/internal/pkg/logging"
)

// Container holds every constructed component and their dependencies.
type Container struct {
	Config   *config.Config
	Store    ledger.Store
	Gateway  account.Gateway
	Engine   *engine.Engine
	Sink     *audit.Sink
	Sweeper  *sweeper.Sweeper
	Router   *gin.Engine
	Server   *http.Server

	pool      *pgxWrapper
	publisher *kafka.AsyncProducer
}

var (
	instance     *Container
	instanceOnce sync.Once
	instanceErr  error
)

// GetInstance returns the singleton container instance. Safe to call from
// multiple goroutines; only the first call constructs the container.
func GetInstance() (*Container, error) {
	instanceOnce.Do(func() {
		instance, instanceErr = newContainer()
	})
	return instance, instanceErr
}

// New creates and initializes all application components. For backward
// compatibility this delegates to GetInstance.
func New() (*Container, error) {
	return GetInstance()
}

func newContainer() (*Container, error) {
	c := &Container{}
	c.Config = config.Load()
	logging.Init(c.Config)

	ctx := context.Background()

	if err := c.initLedgerStore(ctx); err != nil {
		return nil, fmt.Errorf("init ledger store: %w", err)
	}
	c.initGateway()
	evaluator := limits.NewEvaluator(c.Store, c.Config.Location())
	if err := c.initAuditSink(); err != nil {
		return nil, fmt.Errorf("init audit sink: %w", err)
	}
	c.Engine = engine.New(c.Store, c.Gateway, evaluator, c.Sink, "USD")
	c.Sweeper = sweeper.New(c.Store, c.Sink, c.Config.Sweeper.Cutoff)
	if c.Config.Sweeper.Enabled {
		if err := c.Sweeper.Start(c.Config.Sweeper.Schedule); err != nil {
			return nil, fmt.Errorf("start sweeper: %w", err)
		}
	}
	c.initServer()

	logging.Info("all components initialized", nil)
	return c, nil
}

// pgxWrapper defers importing pgxpool types into this file's signature
// while still letting Shutdown close the pool.
type pgxWrapper struct {
	close func()
}

func (c *Container) initLedgerStore(ctx context.Context) error {
	pool, err := postgres.NewPool(ctx, c.Config.Database)
	if err != nil {
		return err
	}
	repo := postgres.NewLedgerRepository(pool)
	if err := repo.Bootstrap(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	c.Store = repo
	c.pool = &pgxWrapper{close: pool.Close}
	logging.Info("ledger store initialized", map[string]interface{}{
		"host": c.Config.Database.Host, "database": c.Config.Database.Database,
	})
	return nil
}

func (c *Container) initGateway() {
	cfg := c.Config.AccountSvc
	c.Gateway = account.NewHTTPGateway(account.Config{
		BaseURL:                 cfg.BaseURL,
		Timeout:                 cfg.Timeout,
		CircuitBreakerThreshold: cfg.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  cfg.CircuitBreakerCooldown,
		CircuitBreakerProbes:    cfg.CircuitBreakerProbes,
		MaxRetries:              cfg.MaxRetries,
		RetryInitialInterval:    cfg.RetryInitialInterval,
		RetryMaxInterval:        cfg.RetryMaxInterval,
	})
	logging.Info("account gateway initialized", map[string]interface{}{"base_url": cfg.BaseURL})
}

func (c *Container) initAuditSink() error {
	logPublisher := audit.LoggingPublisher{}

	if !c.Config.Kafka.Enabled {
		c.Sink = audit.NewSink(logPublisher, 1024)
		logging.Info("audit sink initialized with logging publisher only (kafka disabled)", nil)
		return nil
	}

	kafkaCfg := kafka.NewConfigFromEnv()
	producer, err := kafka.NewAsyncProducer(kafkaCfg)
	if err != nil {
		logging.Warn("failed to initialize kafka producer, falling back to logging-only audit sink", map[string]interface{}{
			"error": err.Error(),
		})
		c.Sink = audit.NewSink(logPublisher, 1024)
		return nil
	}
	c.publisher = producer

	kafkaPublisher := kafka.NewAuditPublisher(producer)
	c.Sink = audit.NewSink(audit.MultiPublisher{Delegates: []audit.Publisher{logPublisher, kafkaPublisher}}, 1024)
	logging.Info("audit sink initialized with kafka + logging publishers", nil)
	return nil
}

func (c *Container) initServer() {
	if c.Config.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	c.Router = gin.New()
	c.Router.Use(gin.Recovery())

	routes.Register(c.Router, handlerDeps{engine: c.Engine})

	c.Server = &http.Server{
		Addr:           c.Config.Server.Host + ":" + c.Config.Server.Port,
		Handler:        c.Router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	logging.Info("http server configured", map[string]interface{}{"address": c.Server.Addr})
}

// handlerDeps satisfies handlers.Dependencies.
type handlerDeps struct {
	engine *engine.Engine
}

func (h handlerDeps) GetEngine() *engine.Engine { return h.engine }

// Start begins serving HTTP requests and blocks until a shutdown signal is
// received.
func (c *Container) Start() error {
	logging.Info("starting http server", map[string]interface{}{"address": c.Server.Addr})

	go func() {
		if err := c.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("server failed to start", err, nil)
			os.Exit(1)
		}
	}()

	c.waitForShutdown()
	return nil
}

func (c *Container) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info("shutting down server", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.Shutdown(ctx); err != nil {
		logging.Error("server forced to shutdown", err, nil)
	}
	logging.Info("server shutdown complete", nil)
}

// Shutdown gracefully stops every component that owns a background
// goroutine or network resource: the HTTP server, the sweeper, the audit
// sink's drain loop, the kafka producer (if any), and the database pool.
func (c *Container) Shutdown(ctx context.Context) error {
	if err := c.Server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if c.Config.Sweeper.Enabled {
		c.Sweeper.Stop()
	}
	c.Sink.Close()
	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			logging.Error("failed to close kafka producer", err, nil)
		}
	}
	if c.pool != nil {
		c.pool.close()
	}
	return nil
}

// GetConfig returns the configuration.
func (c *Container) GetConfig() *config.Config { return c.Config }

// GetEngine returns the Transaction Engine.
func (c *Container) GetEngine() *engine.Engine { return c.Engine }

// GetRouter returns the Gin router.
func (c *Container) GetRouter() *gin.Engine { return c.Router }
