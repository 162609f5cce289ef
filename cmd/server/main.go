// I4G is a scam-intelligence case platform: a PII tokenization vault,
// deduplicating case intake, an analyst review queue, and signed dossiers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/prof"
	"github.com/viant/afs"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/health"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/i4g/internal/authmw"
	"github.com/linnemanlabs/i4g/internal/caseapi"
	ic "github.com/linnemanlabs/i4g/internal/cfg"
	"github.com/linnemanlabs/i4g/internal/dossier"
	dossiermem "github.com/linnemanlabs/i4g/internal/dossier/memstore"
	dossierpg "github.com/linnemanlabs/i4g/internal/dossier/pgstore"
	"github.com/linnemanlabs/i4g/internal/intake"
	intakemem "github.com/linnemanlabs/i4g/internal/intake/memstore"
	intakepg "github.com/linnemanlabs/i4g/internal/intake/pgstore"
	"github.com/linnemanlabs/i4g/internal/llm/claude"
	"github.com/linnemanlabs/i4g/internal/notify/slack"
	"github.com/linnemanlabs/i4g/internal/pii"
	piimem "github.com/linnemanlabs/i4g/internal/pii/memstore"
	piipg "github.com/linnemanlabs/i4g/internal/pii/pgstore"
	"github.com/linnemanlabs/i4g/internal/postgres"
	"github.com/linnemanlabs/i4g/internal/review"
	reviewmem "github.com/linnemanlabs/i4g/internal/review/memstore"
	reviewpg "github.com/linnemanlabs/i4g/internal/review/pgstore"
)

const appName = "i4g"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set app name and component
	v.AppName = appName
	v.Component = component

	// Get build/version info
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    ic.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	// register flags for each package, which will be parsed into the shared config struct
	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// parse flags to get config values from cmdline, we check env vars next which do not override cmdline flags
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// Fill in config values from environment variables with prefix I4G_,
	// these do not override cmdline flags
	cfg.FillFromEnv(flag.CommandLine, "I4G_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// cross-cutting checks that only main can validate
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("api and admin ports must differ (both %d)", appCfg.APIPort)
	}

	// initialize logger early
	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	// no-op for slog/stderr, but here if we swap backends in the future to ensure any buffered logs are flushed on shutdown
	defer func() { _ = lg.Sync() }()

	// create a logger with component field pre-filled for structured logging in this package
	L := lg.With("component", vi.Component)

	// add logger to context
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"api_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"trace_sample", traceCfg.TraceSample,
		"trace_insecure", traceCfg.Insecure,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"pyro_server", profCfg.PyroServer,
		"pyro_tenant", profCfg.PyroTenantID,
		"include_error_links", logCfg.IncludeErrorLinks,
		"max_error_links", logCfg.MaxErrorLinks,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
		"pepper_configured", appCfg.Pepper != "",
		"pepper_version", appCfg.PepperVersion,
		"artifact_base_url", appCfg.ArtifactBaseURL,
	)

	// Setup pyroscope profiling early so we get profiles from the entire app lifetime
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
		"source":    "lmlabs-go-agent",
	}
	// Start profiling, returns a stop function to call for clean shutdown (flush buffers, etc)
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}

	// Setup otel for tracing
	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	// Start otel, returns a shutdown function to call for clean shutdown (flush buffers, etc)
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}

	// Setup metrics, we use our own metrics package for internal instrumentation
	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	// Initialize the stores: postgres when a database URL is configured,
	// in-memory otherwise.
	var (
		piiStore     pii.Store
		intakeStore  intake.Store
		reviewStore  review.Store
		dossierStore dossier.Store
	)
	if appCfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()

		if piiStore, err = piipg.New(ctx, pool); err != nil {
			return fmt.Errorf("pii pgstore init: %w", err)
		}
		if intakeStore, err = intakepg.New(ctx, pool); err != nil {
			return fmt.Errorf("intake pgstore init: %w", err)
		}
		if reviewStore, err = reviewpg.New(ctx, pool); err != nil {
			return fmt.Errorf("review pgstore init: %w", err)
		}
		if dossierStore, err = dossierpg.New(ctx, pool); err != nil {
			return fmt.Errorf("dossier pgstore init: %w", err)
		}
		L.Info(ctx, "using postgres stores")
	} else {
		piiStore = piimem.New()
		intakeStore = intakemem.New()
		reviewStore = reviewmem.New()
		dossierStore = dossiermem.New()
		L.Info(ctx, "using in-memory stores (no database-url configured)")
	}

	// Per-query DB duration histogram, labelled by the http method and route
	// the query was issued under.
	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "i4g_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, method, route, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(method, route, outcome).Observe(dur.Seconds())
		},
	))

	// Slack notifications for vault alerts and review escalations.
	var (
		vaultNotifier  pii.Notifier
		reviewNotifier review.Notifier
	)
	if appCfg.SlackWebhookURL != "" {
		sn := slack.New(appCfg.SlackWebhookURL, L)
		vaultNotifier, reviewNotifier = sn, sn
		L.Info(ctx, "notifier enabled", "type", "slack")
	}

	// PII vault service. The key's hex shape is enforced by Validate above;
	// the cipher derives its AES key from the raw string.
	vault, err := pii.NewService(piiStore, pii.Options{
		Pepper:        appCfg.Pepper,
		PepperVersion: appCfg.PepperVersion,
		RequirePepper: appCfg.RequirePepper,
		EncryptionKey: appCfg.VaultKeyHex,
		ApprovalTTL:   time.Duration(appCfg.ApprovalTTLSeconds) * time.Second,
	}, L, pii.NewMetrics(m.Registry()), vaultNotifier)
	if err != nil {
		return fmt.Errorf("vault init: %w", err)
	}

	// Review and intake depend on each other: intake routes high-confidence
	// cases into the queue, review enriches candidates with case metadata.
	// The metadata side is late-bound through a closure.
	var intakeSvc *intake.Service
	reviewSvc := review.NewService(reviewStore, review.MetadataSourceFunc(
		func(ctx context.Context, caseIDs []string) (map[string]map[string]any, error) {
			return intakeSvc.CaseMetadata(ctx, caseIDs)
		},
	), L, review.NewMetrics(m.Registry()), reviewNotifier)

	intakeSvc, err = intake.NewService(intakeStore, vault, reviewSvc, intake.Options{
		ReviewThreshold: appCfg.ReviewThreshold,
		HighPriority:    appCfg.HighPriority,
		KeywordMinLen:   appCfg.KeywordMinLen,
		RetryInterval:   time.Duration(appCfg.RetryIntervalSeconds) * time.Second,
		RetryLimit:      appCfg.RetryLimit,
	}, L, intake.NewMetrics(m.Registry()))
	if err != nil {
		return fmt.Errorf("intake init: %w", err)
	}
	intakeSvc.StartRetryLoop(ctx)

	// Dossier generation is optional, keyed on artifact storage being configured.
	var apiDossiers caseapi.DossierService
	if appCfg.ArtifactBaseURL != "" {
		fs := afs.New()

		var summarizer dossier.Summarizer
		if appCfg.ClaudeAPIKey != "" {
			summarizer = claude.New(appCfg.ClaudeAPIKey, appCfg.ClaudeModel)
			L.Info(ctx, "initialized LLM provider", "provider", "claude", "model", appCfg.ClaudeModel)
		}

		var uploader dossier.Uploader
		if appCfg.RemoteUploadURL != "" {
			up, err := dossier.NewStorageUploader(fs, appCfg.RemoteUploadURL, appCfg.ManifestAlgorithm, L)
			if err != nil {
				return fmt.Errorf("dossier uploader init: %w", err)
			}
			uploader = up
		}

		gen, err := dossier.NewGenerator(fs, intakeSvc, summarizer, uploader, dossier.GeneratorOptions{
			BaseURL:   appCfg.ArtifactBaseURL,
			Algorithm: appCfg.ManifestAlgorithm,
		}, L)
		if err != nil {
			return fmt.Errorf("dossier generator init: %w", err)
		}
		dossierSvc, err := dossier.NewService(dossierStore, gen, fs, L, dossier.NewMetrics(m.Registry()))
		if err != nil {
			return fmt.Errorf("dossier init: %w", err)
		}
		apiDossiers = dossierSvc
		L.Info(ctx, "dossier generation enabled", "base_url", appCfg.ArtifactBaseURL, "remote_url", appCfg.RemoteUploadURL)
	} else {
		L.Info(ctx, "dossier generation disabled (no artifact-base-url configured)")
	}

	// setup toggle for server shutdown. this is used to fail readiness checks
	// during shutdown to drain connections from load balancer before killing the process.
	var shutdownGate health.ShutdownGate

	// setup readiness checks, currently just the shutdown gate
	readiness := health.All(
		shutdownGate.Probe(),
	)
	// liveness is always true if the app is able to respond
	liveness := health.Fixed(true, "")

	// Configure ops http server for metrics, health checks, pprof, etc
	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	// start admin/ops listener. sg restricts inbound to internal monitoring infrastructure.
	// we reject connections from public ips and requests with x-forwarded set in middleware
	// to prevent accidental exposure if sg is misconfigured or load balancer ever sends traffic here
	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}

	// setup main api chi router and middleware stack
	r := chi.NewRouter()

	// Compress text responses (we are JSON only for now)
	r.Use(middleware.Compress(5, "application/json"))

	// Annotate logger (and tracer if trace is recording) with http.route from chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// Stash HTTP method in context for DB query metrics labelling.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(postgres.WithHTTPMethod(req.Context(), req.Method)))
		})
	})

	// Access log middleware
	r.Use(httpmw.AccessLog())

	// Limit request body size, this is a wrapper around http.MaxBytesHandler which returns 413 if limit is exceeded.
	// Ingest batches carry full report texts so the limit is larger than a typical webhook budget.
	r.Use(httpmw.MaxBody(1024 * 256))

	// add health check endpoints to main listener
	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	// register api routes, behind bearer auth when credentials are configured
	api := caseapi.New(L, vault, intakeSvc, reviewSvc, apiDossiers)
	authTokens, err := appCfg.AuthTokenMap()
	if err != nil {
		return err
	}
	if len(authTokens) == 0 {
		L.Warn(ctx, "api auth disabled (no auth-tokens configured)")
	}
	r.Group(func(r chi.Router) {
		if len(authTokens) > 0 {
			r.Use(authmw.BearerToken(authTokens))
		}
		api.RegisterRoutes(r)
	})

	// middleware stack for main listener, order matters these are wrappers, outermost sees raw request
	// first and is last to see response, innermost is last to see request and first to see response but
	// has access to the full rich context from outer middleware and handlers
	var h http.Handler = r

	// Request-scoped logging (inner so it sees trace_id, chi route, etc)
	h = httpmw.WithLogger(L)(h)

	// add trace-id and span-id headers to any requests with a recording trace
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	// otel instrumentation for automatic spans and trace context propagation
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			// dont trace health/readiness checks
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// AnnotateHTTPRoute will rename the span later to the final route pattern
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		// WithPublicEndpointFn is the replacement for WithPublicEndpoint()
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)

	// Metrics middleware for prometheus instrumentation
	h = m.Middleware(h)

	// Client IP resolution and spoofing protection middleware, outer so downstream middleware
	// and handlers can use the resolved client ip from context for consistency and security
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)

	// Request ID (outer so everything downstream sees it)
	h = httpmw.RequestID("X-Request-Id")(h)

	// Recovery middleware to recover and log panics and serve 500 response.
	// Outer to catch panics from any downstream middleware or handlers
	h = httpmw.Recover(L, nil)(h)

	// Security headers outermost to ensure they are served on every response
	h = httpmw.SecurityHeaders(h)

	// Configure http server options from config
	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	// Start case API HTTP server with middleware and handlers
	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start case api http listener")
		return err
	}

	// Notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// Wait for ctrl+c / sigterm
	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	// fail health checks to drain connections
	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// Wait for in-flight requests to finish and for load balancer
	// to detect unhealthy and stop sending new requests.
	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// Flush any queued ingestion retries before the stores go away.
	intakeSvc.DrainRetries(context.Background())

	// Shutdown components with a per-component budget sliced from the total.
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"case api http server", apiHTTPStop},
		{"ops http server", opsHTTPStop},
	}
	if shutdownOtelx != nil {
		stopFns = append(stopFns, stopFn{"otel", shutdownOtelx})
	}

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	if stopProf != nil {
		stopProf()
	}

	L.Info(context.Background(), "shutdown complete")
	return nil
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
