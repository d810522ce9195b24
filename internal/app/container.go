package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"inventorybus/internal/config"
	"inventorybus/internal/inventory"
	"inventorybus/internal/platform/kafka"
	"inventorybus/internal/platform/observability"
	"inventorybus/internal/platform/postgres"
	"inventorybus/internal/platform/rabbitmq"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Container holds expensive-to-create singleton resources and dependencies
type Container struct {
	config             *config.Config
	logger             *zap.Logger
	tracer             observability.Tracer
	tracerProvider     trace.TracerProvider
	metrics            *observability.Metrics
	dbPool             *pgxpool.Pool
	ledger             inventory.Ledger
	messageProducer    kafka.Producer
	broker             *rabbitmq.ConnectionManager
	publisher          *rabbitmq.Publisher
	consumer           *rabbitmq.Consumer
	otelLogShutdown    func(context.Context) error
	otelTraceShutdown  func(context.Context) error
	otelMetricShutdown func(context.Context) error
}

// NewContainer creates and initializes all infrastructure components. Nothing
// here dials the broker; the first Connect or publish does.
func NewContainer(ctx context.Context) (*Container, error) {
	// Load configuration first
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return newContainer(ctx, cfg)
}

func newContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	container := &Container{
		config: cfg,
	}

	if err := container.setupLogger(); err != nil {
		return nil, err
	}

	if err := container.setupObservability(ctx); err != nil {
		return nil, err
	}

	if err := container.setupLedger(ctx); err != nil {
		container.Shutdown(ctx)
		return nil, err
	}

	if err := container.setupKafka(); err != nil {
		container.Shutdown(ctx)
		return nil, err
	}

	container.setupBroker()
	return container, nil
}

// setupLogger starts with a plain production logger; setupObservability may
// replace it with one that also exports through OTLP.
func (c *Container) setupLogger() error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}

	c.logger = logger
	return nil
}

// setupObservability configures OpenTelemetry logging, tracing and metrics
func (c *Container) setupObservability(ctx context.Context) error {
	otel.SetTextMapPropagator(observability.NewPropagator())

	if c.config.OtelEnabled() {
		otelLogShutdown, err := observability.SetupLoggingSDK(ctx, c.config)
		if err != nil {
			c.logger.Error("Failed to setup OpenTelemetry logging", zap.Error(err))
		}
		c.otelLogShutdown = otelLogShutdown

		_, otelTraceShutdown, err := observability.SetupTracingSDK(ctx, c.config)
		if err != nil {
			c.logger.Error("Failed to setup OpenTelemetry tracing", zap.Error(err))
		}
		c.otelTraceShutdown = otelTraceShutdown

		otelMetricShutdown, err := observability.SetupMetricsSDK(ctx, c.config)
		if err != nil {
			c.logger.Error("Failed to setup OpenTelemetry metrics", zap.Error(err))
		}
		c.otelMetricShutdown = otelMetricShutdown

		c.reinitializeLoggerWithOTel()
	} else {
		c.logger.Info("OTEL_ENDPOINT not set, telemetry export disabled")
	}

	c.tracerProvider = otel.GetTracerProvider()
	c.tracer = c.tracerProvider.Tracer(config.ServiceName)

	metrics, err := observability.NewMetrics(otel.Meter(config.ServiceName))
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	c.metrics = metrics
	return nil
}

// reinitializeLoggerWithOTel creates a new logger with OpenTelemetry integration
func (c *Container) reinitializeLoggerWithOTel() {
	otelZapCore := otelzap.NewCore(config.ServiceName+".manual",
		otelzap.WithLoggerProvider(global.GetLoggerProvider()),
	)

	consoleEncoderConfig := zap.NewProductionEncoderConfig()
	consoleEncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(consoleEncoderConfig),
		zapcore.Lock(os.Stdout),
		zap.InfoLevel,
	)

	c.logger = zap.New(zapcore.NewTee(otelZapCore, consoleCore),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service.name", config.ServiceName)),
	)
	c.logger.Info("Logger re-initialized with OpenTelemetry bridge")
}

// setupLedger connects to PostgreSQL when DATABASE_URL is set and falls back
// to the in-memory ledger otherwise.
func (c *Container) setupLedger(ctx context.Context) error {
	if c.config.DatabaseURL == "" {
		c.logger.Warn("⚠️ DATABASE_URL not set, using in-memory ledger")
		c.ledger = inventory.NewMemoryLedger()
		return nil
	}

	pool, err := postgres.Open(ctx, c.config.DatabaseURL)
	if err != nil {
		return err
	}
	c.dbPool = pool

	ledger := postgres.NewLedger(pool)
	if err := ledger.Migrate(ctx); err != nil {
		return err
	}
	c.ledger = ledger
	c.logger.Info("✅ Connected to inventory database")
	return nil
}

// setupKafka creates the stock-event mirror when KAFKA_BROKER is set.
func (c *Container) setupKafka() error {
	if c.config.KafkaBroker == "" {
		return nil
	}
	writer, err := kafka.NewStockEventWriter(c.config.KafkaBroker, c.tracerProvider)
	if err != nil {
		return err
	}
	c.messageProducer = writer
	c.logger.Info("Kafka stock-event mirror enabled",
		zap.String("broker", c.config.KafkaBroker),
		zap.String("topic", config.StockEventsTopic),
	)
	return nil
}

// setupBroker builds the connection manager and registers its on-connect hooks:
// topology first, then the RPC consumers.
func (c *Container) setupBroker() {
	c.broker = rabbitmq.NewConnectionManager(rabbitmq.Options{
		URL:      c.config.RabbitMQURL,
		Attempts: c.config.ConnectAttempts,
		Delay:    c.config.ConnectDelay,
		Prefetch: c.config.RPCPrefetch,
	}, c.logger, c.metrics)
	c.publisher = rabbitmq.NewPublisher(c.broker, c.config.PublishTimeout, c.logger)
	c.consumer = rabbitmq.NewConsumer(c.publisher, c.logger, c.tracer, c.metrics)

	c.broker.OnConnect(rabbitmq.InventoryTopology().Declare)
	c.broker.OnConnect(c.consumer.Resume)
}

// Shutdown gracefully shuts down all infrastructure components
func (c *Container) Shutdown(ctx context.Context) {
	c.logger.Info("Shutting down infrastructure...")

	var errs []error
	if c.broker != nil {
		if err := c.broker.Close(); err != nil {
			c.logger.Error("Failed to close broker connection", zap.Error(err))
			errs = append(errs, err)
		}
	}

	if c.messageProducer != nil {
		if err := c.messageProducer.Close(); err != nil {
			c.logger.Error("Failed to close message producer", zap.Error(err))
			errs = append(errs, err)
		}
	}

	if c.dbPool != nil {
		c.dbPool.Close()
	}

	// Logging goes last so the shutdown of the other two can still be reported.
	otelShutdowns := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"tracing", c.otelTraceShutdown},
		{"metrics", c.otelMetricShutdown},
		{"logging", c.otelLogShutdown},
	}
	for _, s := range otelShutdowns {
		if s.fn == nil {
			continue
		}
		if err := s.fn(ctx); err != nil {
			c.logger.Error("Failed to shutdown OTel "+s.name, zap.Error(err))
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		c.logger.Warn("Infrastructure shutdown finished with errors", zap.Error(err))
	} else {
		c.logger.Info("Infrastructure shutdown complete")
	}

	// Sync errors on stdout/stderr are expected and not actionable.
	_ = c.logger.Sync()
}

// Getters for accessing infrastructure components
func (c *Container) Config() *config.Config               { return c.config }
func (c *Container) Logger() *zap.Logger                  { return c.logger }
func (c *Container) Tracer() observability.Tracer         { return c.tracer }
func (c *Container) Metrics() *observability.Metrics      { return c.metrics }
func (c *Container) Ledger() inventory.Ledger             { return c.ledger }
func (c *Container) MessageProducer() kafka.Producer      { return c.messageProducer }
func (c *Container) Broker() *rabbitmq.ConnectionManager { return c.broker }
func (c *Container) Publisher() *rabbitmq.Publisher       { return c.publisher }
func (c *Container) Consumer() *rabbitmq.Consumer         { return c.consumer }
