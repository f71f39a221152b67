// Package main implements the entry point for the mapgate gateway: a
// multi-tenant IoT message-mapping service that resolves transport messages
// to configured mappings and manages the tenant lifecycle around them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/mapgate/ai"
	"github.com/c360/mapgate/config"
	"github.com/c360/mapgate/connector"
	"github.com/c360/mapgate/connector/kafka"
	"github.com/c360/mapgate/connector/mqtt"
	"github.com/c360/mapgate/connector/webhook"
	"github.com/c360/mapgate/errors"
	"github.com/c360/mapgate/events"
	"github.com/c360/mapgate/filter"
	"github.com/c360/mapgate/identity"
	"github.com/c360/mapgate/inventory"
	"github.com/c360/mapgate/metric"
	"github.com/c360/mapgate/natsclient"
	"github.com/c360/mapgate/orchestrator"
	"github.com/c360/mapgate/pkg/cache"
	"github.com/c360/mapgate/platform"
	"github.com/c360/mapgate/platform/natsapi"
	"github.com/c360/mapgate/registry"
	"github.com/c360/mapgate/resolver"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "mapgate"
)

// tenantSubjectPrefix carries tenant lifecycle notifications:
// mapgate.tenants.<tenant>.subscribed / .unsubscribed.
const tenantSubjectPrefix = "mapgate.tenants"

const (
	dispatchQueueSize = 1000
	shutdownTimeout   = 10 * time.Second
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("gateway failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printHelp()
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return err
	}

	logLevel := cfg.Log.Level
	if cliCfg.LogLevel != "" {
		logLevel = cliCfg.LogLevel
	}
	logFormat := cfg.Log.Format
	if cliCfg.LogFormat != "" {
		logFormat = cliCfg.LogFormat
	}
	logger := setupLogger(logLevel, logFormat)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		logger.Info("configuration is valid", "config_path", cliCfg.ConfigPath)
		return nil
	}

	logger.Info("starting mapgate", "config_path", cliCfg.ConfigPath, "nats_url", cfg.NATS.URL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	natsClient := natsclient.New(cfg.NATS, logger)
	if err := natsClient.Connect(ctx); err != nil {
		return err
	}
	defer natsClient.Close()
	conn, err := natsClient.Conn()
	if err != nil {
		return err
	}

	metricsRegistry := metric.NewMetricsRegistry()
	coreMetrics := metricsRegistry.CoreMetrics()

	orch, dispatcher, err := buildGateway(cfg, conn, metricsRegistry, coreMetrics, logger)
	if err != nil {
		return err
	}
	if err := dispatcher.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := dispatcher.Stop(shutdownTimeout); err != nil {
			logger.Warn("dispatcher shutdown incomplete", "error", err)
		}
	}()

	metricsServer, err := startMetricsServer(cfg.HTTPAddr, metricsRegistry, logger)
	if err != nil {
		return err
	}
	defer func() { _ = metricsServer.Stop() }()

	sub, err := subscribeTenantLifecycle(ctx, conn, orch, logger)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Unsubscribe() }()

	go orch.Run(ctx)

	logger.Info("mapgate ready", "metrics_addr", cfg.HTTPAddr)
	<-ctx.Done()
	logger.Info("shutting down")

	teardownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, tenant := range orch.Tenants() {
		if err := orch.OnTenantUnsubscribed(teardownCtx, tenant); err != nil {
			logger.Warn("tenant teardown failed", "tenant", tenant, "error", err)
		}
	}
	return nil
}

// buildGateway wires the gateway core from configuration and an established
// NATS connection.
func buildGateway(cfg *config.ProcessConfig, conn *nats.Conn, metricsRegistry *metric.MetricsRegistry,
	coreMetrics *metric.Metrics, logger *slog.Logger) (*orchestrator.Orchestrator, *connector.Dispatcher, error) {
	platformClient := natsapi.New(conn, logger)
	publisher := events.NewNATSPublisher(conn, logger)

	gate, err := platform.NewGate(cfg.MaxDownstreamConnections, metricsRegistry, logger)
	if err != nil {
		return nil, nil, err
	}

	identities := identity.New(platformClient, gate, logger,
		cache.WithMetrics[platform.DeviceIdentity, platform.DeviceRef](metricsRegistry, "identity_cache"))
	inventories := inventory.New(platformClient, identities, platformClient, gate, logger)

	inbound := resolver.NewInbound(logger, coreMetrics)
	outbound := resolver.NewOutbound(filter.NewExpressionEvaluator(), inventories, logger, coreMetrics)
	reg := registry.New(platformClient, inbound, outbound, publisher, logger, coreMetrics)

	connectors := connector.NewRegistry(logger)
	processor := newForwardProcessor(conn, logger)
	dispatcher := connector.NewDispatcher(reg, inbound, processor,
		cfg.WorkerPoolSize, dispatchQueueSize, metricsRegistry, logger)

	orch := orchestrator.New(orchestrator.Deps{
		Store:       platformClient,
		Subscriber:  platformClient,
		Registry:    reg,
		Identities:  identities,
		Inventories: inventories,
		Connectors:  connectors,
		Dispatcher:  dispatcher,
		Factory:     connectorFactory(),
		Suggester:   ai.New(cfg.AI, logger),
		Publisher:   publisher,
		Defaults:    cfg.Cache,
		Metrics:     coreMetrics,
		Logger:      logger,
	})
	return orch, dispatcher, nil
}

// connectorFactory dispatches on the configured connector type.
func connectorFactory() connector.Factory {
	return func(tenant string, cfg config.ConnectorConfiguration, handler connector.Handler,
		logger *slog.Logger) (connector.Client, error) {
		switch cfg.Type {
		case connector.TypeMQTT:
			return mqtt.New(tenant, cfg, handler, logger)
		case connector.TypeKafka:
			return kafka.New(tenant, cfg, handler, logger)
		case connector.TypeWebhook:
			return webhook.New(tenant, cfg, handler, logger)
		default:
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
				"ConnectorFactory", "New", "unknown connector type "+cfg.Type)
		}
	}
}

func startMetricsServer(addr string, registry *metric.MetricsRegistry, logger *slog.Logger) (*metric.Server, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, errors.WrapInvalid(err, "main", "startMetricsServer", "parse addr "+addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, errors.WrapInvalid(err, "main", "startMetricsServer", "parse port "+portStr)
	}

	server := metric.NewServer(port, "/metrics", registry)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return server, nil
}

// subscribeTenantLifecycle reacts to tenant lifecycle notifications. The
// action is the final subject token; bootstrap and teardown run off the
// NATS callback goroutine since both can take a while.
func subscribeTenantLifecycle(ctx context.Context, conn *nats.Conn,
	orch *orchestrator.Orchestrator, logger *slog.Logger) (*nats.Subscription, error) {
	subject := tenantSubjectPrefix + ".>"
	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		tokens := strings.Split(msg.Subject, ".")
		if len(tokens) != 4 {
			logger.Warn("ignoring malformed tenant subject", "subject", msg.Subject)
			return
		}
		tenant, action := tokens[2], tokens[3]

		go func() {
			switch action {
			case "subscribed":
				if err := orch.OnTenantSubscribed(ctx, tenant); err != nil {
					logger.Error("tenant subscription failed", "tenant", tenant, "error", err)
				}
			case "unsubscribed":
				if err := orch.OnTenantUnsubscribed(ctx, tenant); err != nil {
					logger.Warn("tenant unsubscription failed", "tenant", tenant, "error", err)
				}
			default:
				logger.Warn("ignoring unknown tenant action", "tenant", tenant, "action", action)
			}
		}()
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "main", "subscribeTenantLifecycle", "subscribe "+subject)
	}
	return sub, nil
}
