package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guillermoBallester/rowguard/internal/adapter/mcp"
	"github.com/guillermoBallester/rowguard/internal/adapter/policy"
	"github.com/guillermoBallester/rowguard/internal/adapter/postgres"
	"github.com/guillermoBallester/rowguard/internal/adapter/sqlite"
	"github.com/guillermoBallester/rowguard/internal/audit"
	"github.com/guillermoBallester/rowguard/internal/config"
	"github.com/guillermoBallester/rowguard/internal/core/domain"
	"github.com/guillermoBallester/rowguard/internal/core/port"
	"github.com/guillermoBallester/rowguard/internal/core/service"
	"github.com/guillermoBallester/rowguard/internal/telemetry"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/trace"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags turns command line arguments into config overrides. Flags left
// unset stay nil so environment variables keep their effect.
func parseFlags(args []string) (config.Overrides, error) {
	var o config.Overrides

	fs := flag.NewFlagSet("rowguard", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	databaseURL := fs.String("database-url", "", "database connection URL or SQLite file path")
	driver := fs.String("driver", "", "database driver: postgres or sqlite")
	classifier := fs.String("classifier", "", "statement classifier: marker or parse")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn or error")
	maxRows := fs.Int("max-rows", 0, "maximum rows returned per call")
	queryTimeout := fs.Duration("query-timeout", 0, "per-statement timeout")
	policyFile := fs.String("policy-file", "", "path to the exemption policy YAML")
	transport := fs.String("transport", "", "MCP transport: stdio or http")
	httpAddr := fs.String("http-addr", "", "listen address for the http transport")
	httpToken := fs.String("http-bearer-token", "", "bearer token required by the http transport")
	poolMax := fs.Int("pool-max-conns", 0, "maximum pool connections (postgres)")
	poolMin := fs.Int("pool-min-conns", 0, "minimum pool connections (postgres)")
	poolLifetime := fs.Duration("pool-max-conn-lifetime", 0, "maximum connection lifetime (postgres)")
	fs.BoolVar(&o.OTelEnabled, "otel", false, "enable OpenTelemetry tracing and metrics")
	fs.StringVar(&o.AuditLog, "audit-log", "", "path to the NDJSON audit log")
	fs.BoolVar(&o.AuditViolationsOnly, "audit-violations-only", false, "only audit rejected iterations")

	if err := fs.Parse(args); err != nil {
		return o, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "database-url":
			o.DatabaseURL = databaseURL
		case "driver":
			o.Driver = driver
		case "classifier":
			o.Classifier = classifier
		case "log-level":
			o.LogLevel = logLevel
		case "max-rows":
			o.MaxRows = maxRows
		case "query-timeout":
			o.QueryTimeout = queryTimeout
		case "policy-file":
			o.PolicyFile = policyFile
		case "transport":
			o.Transport = transport
		case "http-addr":
			o.HTTPAddr = httpAddr
		case "http-bearer-token":
			o.HTTPBearerToken = httpToken
		case "pool-max-conns":
			n := int32(*poolMax)
			o.PoolMaxConns = &n
		case "pool-min-conns":
			n := int32(*poolMin)
			o.PoolMinConns = &n
		case "pool-max-conn-lifetime":
			o.PoolMaxConnLifetime = poolLifetime
		}
	})

	return o, nil
}

func run(args []string) error {
	overrides, err := parseFlags(args)
	if err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Logs go to stderr; stdout is reserved for the MCP stdio transport.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	logger.Info("starting rowguard",
		slog.String("version", version),
		slog.String("driver", cfg.Driver),
		slog.String("database_url", redactDSN(cfg.DatabaseURL)),
		slog.String("classifier", cfg.Classifier),
		slog.String("log_level", cfg.LogLevel.String()),
		slog.Bool("read_only", cfg.ReadOnly),
		slog.Int("max_rows", cfg.MaxRows),
		slog.String("query_timeout", cfg.QueryTimeout.String()),
		slog.String("transport", cfg.Transport),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Telemetry (optional).
	var provider *telemetry.Provider
	if cfg.OTelEnabled {
		provider, err = telemetry.Init(ctx, telemetry.Options{
			Version:    version,
			Driver:     cfg.Driver,
			Classifier: cfg.Classifier,
		})
		if err != nil {
			return fmt.Errorf("initializing telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Error("telemetry shutdown", slog.String("error.message", err.Error()))
			}
		}()
		logger.Info("opentelemetry enabled")
	}
	tracer := provider.Tracer()
	inst := provider.Instruments()

	// Adapters
	executor, source, closeDB, err := openBackend(ctx, cfg, logger, tracer)
	if err != nil {
		return err
	}
	defer closeDB()

	var exemptions port.ExemptionPolicy = port.NoExemptions{}
	if cfg.PolicyFile != "" {
		pol, err := policy.LoadFromFile(cfg.PolicyFile)
		if err != nil {
			return fmt.Errorf("loading policy: %w", err)
		}
		exemptions = pol
		logger.Info("policy loaded",
			slog.String("file", cfg.PolicyFile),
			slog.Int("exemptions", len(pol.Exemptions)),
		)
	}

	var auditor port.QueryAuditor = port.NoopAuditor{}
	if cfg.AuditLog != "" {
		fa, err := audit.NewFileAuditor(cfg.AuditLog, cfg.AuditViolationsOnly)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer func() { _ = fa.Close() }()
		auditor = fa
		logger.Info("audit log enabled",
			slog.String("file", cfg.AuditLog),
			slog.Bool("violations_only", cfg.AuditViolationsOnly),
		)
	}

	// Domain
	validator := domain.NewPgQueryValidator()
	var classifier port.QueryClassifier = domain.NewMarkerClassifier()
	if cfg.Classifier == config.ClassifierParse {
		classifier = domain.NewParseClassifier()
	}

	// Services
	guard := service.NewGuard(classifier, exemptions, logger, tracer, inst)
	querySvc := service.NewQueryService(validator, executor, source, guard, auditor, logger, tracer, inst)

	// MCP server with tool handlers.
	mcpServer := mcp.NewServer(version, querySvc, cfg.MaxRows, logger, tracer, inst)

	if cfg.Transport == "http" {
		return serveHTTP(ctx, cfg, mcpServer, logger)
	}

	// Run MCP over stdio (stdin/stdout).
	stdioServer := mcpserver.NewStdioServer(mcpServer)

	logger.Info("serving MCP over stdio")
	if err := stdioServer.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio server: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// openBackend connects to the configured database and returns its executor,
// its guarded row source and a close function. Statements executed by either
// are reported to the registry of the calling context.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger, tracer trace.Tracer) (port.QueryExecutor, port.RowSource, func(), error) {
	listener := domain.RegistryListener{}

	switch cfg.Driver {
	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.DatabaseURL, listener)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening sqlite database: %w", err)
		}
		logger.Info("database opened", slog.String("db.system", "sqlite"))
		closeDB := func() { _ = db.Close() }
		return sqlite.NewExecutor(db, cfg.MaxRows, cfg.QueryTimeout), sqlite.NewSource(db, cfg.QueryTimeout), closeDB, nil

	default:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolOptions{
			MaxConns:        cfg.PoolMaxConns,
			MinConns:        cfg.PoolMinConns,
			MaxConnLifetime: cfg.PoolMaxConnLifetime,
			Listener:        listener,
			Logger:          logger,
			Tracer:          tracer,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		logger.Info("database pool connected",
			slog.String("db.system", "postgresql"),
			slog.Int("pool.max_conns", int(cfg.PoolMaxConns)),
		)
		return postgres.NewExecutor(pool, cfg.ReadOnly, cfg.MaxRows, cfg.QueryTimeout), postgres.NewSource(pool, cfg.QueryTimeout), pool.Close, nil
	}
}

// redactDSN masks the password of a URL-style DSN for logging. File paths
// pass through unchanged.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
