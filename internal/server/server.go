// Package server implements component E: GatewayServer. It wires the
// registry, upstream manager, hook runner, and meta-tool server together,
// exposes the MCP transport plus health/readiness/metrics/registration
// HTTP endpoints, and drives the background refresh loop.
//
// Grounded on the teacher's numbered boot-sequence idiom (cmd/.../start.go's
// BOOT-01..BOOT-09 comments) and its HTTPTransport Option pattern, adapted
// from a single monolithic Start function into a GatewayServer with an
// explicit Constructed -> Populated -> Running -> Stopped state machine, per
// spec.md section 4.5.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	inboundhttp "github.com/mcpgateway/gateway/internal/adapter/inbound/http"
	"github.com/mcpgateway/gateway/internal/adapter/inbound/metatools"
	"github.com/mcpgateway/gateway/internal/config"
	"github.com/mcpgateway/gateway/internal/domain/auth"
	"github.com/mcpgateway/gateway/internal/domain/hook"
	"github.com/mcpgateway/gateway/internal/domain/registry"
	"github.com/mcpgateway/gateway/internal/domain/upstream"
	"github.com/mcpgateway/gateway/internal/service/upstreammanager"
)

// State is one stage of the GatewayServer lifecycle.
type State int32

const (
	StateConstructed State = iota
	StatePopulated
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StatePopulated:
		return "populated"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const shutdownTimeout = 10 * time.Second

// GatewayServer is component E.
type GatewayServer struct {
	cfg     *config.Config
	reg     *registry.Registry
	store   upstream.Store
	manager *upstreammanager.Manager
	hooks   *hook.Runner
	metrics *inboundhttp.Metrics
	promReg *prometheus.Registry
	logger  *slog.Logger
	tracer  trace.Tracer

	state atomic.Int32

	metatools  *metatools.Server
	mcpServer  atomic.Pointer[mcp.Server]
	httpServer *http.Server

	refreshCancel context.CancelFunc
	refreshWG     sync.WaitGroup
}

// New constructs a GatewayServer. It does not dial any upstream; call
// Populate before Run.
func New(cfg *config.Config, reg *registry.Registry, store upstream.Store, manager *upstreammanager.Manager, hooks *hook.Runner, metrics *inboundhttp.Metrics, promReg *prometheus.Registry, logger *slog.Logger, tracer trace.Tracer) *GatewayServer {
	if logger == nil {
		logger = slog.Default()
	}
	if hooks == nil {
		hooks = hook.NewRunner()
	}
	gs := &GatewayServer{
		cfg:     cfg,
		reg:     reg,
		store:   store,
		manager: manager,
		hooks:   hooks,
		metrics: metrics,
		promReg: promReg,
		logger:  logger,
		tracer:  tracer,
	}
	gs.state.Store(int32(StateConstructed))
	return gs
}

// State reports the server's current lifecycle stage.
func (gs *GatewayServer) State() State {
	return State(gs.state.Load())
}

// Populate loads every configured upstream from GATEWAY_UPSTREAMS into the
// store, runs the initial discovery fan-out, and builds the MCP server with
// its dynamically constructed instructions. A per-domain failure here is
// logged and that domain is simply absent from the registry; Populate itself
// never fails for that reason.
func (gs *GatewayServer) Populate(ctx context.Context) error {
	for domain, url := range gs.cfg.Upstreams {
		headers := gs.cfg.UpstreamHeaders[domain]
		description := gs.cfg.DomainDescriptions[domain]
		d := &upstream.Domain{Name: domain, URL: url, Description: description, Headers: headers}
		if err := d.Validate(); err != nil {
			return fmt.Errorf("upstream %q: %w", domain, err)
		}
		if err := gs.store.Add(ctx, d); err != nil {
			return fmt.Errorf("register upstream %q: %w", domain, err)
		}
	}

	diffs := gs.manager.PopulateAll(ctx)
	for _, d := range diffs {
		gs.logger.Info("domain populated", "domain", d.Domain, "tools", d.ToolCount, "added", len(d.Added), "removed", len(d.Removed))
	}
	if gs.metrics != nil {
		gs.metrics.RegistryToolCount.Set(float64(gs.reg.TotalTools()))
		gs.metrics.UpstreamsUp.Set(float64(len(gs.reg.ListDomains())))
	}

	gs.metatools = metatools.New(gs.reg, gs.manager, gs.hooks, gs.logger)
	gs.mcpServer.Store(gs.buildMCPServer())
	gs.state.Store(int32(StatePopulated))
	return nil
}

// Run mounts the HTTP mux (MCP transport, health/readiness, metrics, and —
// if a registration token is configured — the registration REST API),
// starts the background refresh loop if enabled, and blocks until ctx is
// cancelled or the listener fails.
func (gs *GatewayServer) Run(ctx context.Context) error {
	if gs.State() != StatePopulated {
		return fmt.Errorf("server must be populated before it can run (state=%s)", gs.State())
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", inboundhttp.HealthzHandler())
	mux.Handle("/readyz", inboundhttp.ReadyzHandler(gs.reg))

	var mcpHandler http.Handler = mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return gs.mcpServer.Load()
	}, nil)
	if len(gs.cfg.AllowedOrigins) > 0 {
		mcpHandler = inboundhttp.DNSRebindingProtection(gs.cfg.AllowedOrigins)(mcpHandler)
	}
	mux.Handle("/mcp", mcpHandler)
	if gs.promReg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gs.promReg, promhttp.HandlerOpts{Registry: gs.promReg}))
	}

	if gs.cfg.RegistrationEnabled() {
		if auth.IsWeakToken(gs.cfg.RegistrationToken) {
			gs.logger.Warn("GATEWAY_REGISTRATION_TOKEN is shorter than recommended; consider a longer token")
		}
		regHandler := newRegistrationHandler(gs.reg, gs.manager, gs.logger, gs.announceToolsChanged)
		protected := inboundhttp.RequireBearerToken(gs.cfg.RegistrationToken)(regHandler)
		mux.Handle("/registry/servers", protected)
		mux.Handle("/registry/servers/", protected)
	}

	var handler http.Handler = mux
	if gs.metrics != nil {
		handler = inboundhttp.MetricsMiddleware(gs.metrics)(handler)
	}
	handler = inboundhttp.RequestIDMiddleware(gs.logger)(handler)

	addr := fmt.Sprintf("%s:%d", gs.cfg.Host, gs.cfg.Port)
	gs.httpServer = &http.Server{Addr: addr, Handler: handler}

	if gs.cfg.RefreshEnabled() {
		gs.startRefreshLoop(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		gs.logger.Info("gateway listening", "addr", addr)
		if err := gs.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		close(errCh)
	}()

	gs.state.Store(int32(StateRunning))

	select {
	case <-ctx.Done():
		gs.logger.Info("context cancelled, shutting down")
		return gs.Shutdown()
	case err := <-errCh:
		return err
	}
}

// startRefreshLoop runs refresh_all on a ticker until Shutdown cancels it.
// Loop: sleep interval -> refresh_all -> announce any tool-set change ->
// repeat. The server object itself is never rebuilt.
func (gs *GatewayServer) startRefreshLoop(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	gs.refreshCancel = cancel

	interval := time.Duration(gs.cfg.RefreshIntervalSeconds) * time.Second
	gs.refreshWG.Add(1)
	go func() {
		defer gs.refreshWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				diffs, failed := gs.manager.RefreshAll(ctx)
				changed := false
				for _, d := range diffs {
					if !d.Empty() {
						changed = true
						gs.logger.Info("refresh: domain changed", "domain", d.Domain, "added", len(d.Added), "removed", len(d.Removed))
					}
				}
				for _, domain := range failed {
					gs.logger.Warn("refresh: domain failed", "domain", domain)
					if gs.metrics != nil {
						gs.metrics.RefreshFailures.Inc()
					}
				}
				if gs.metrics != nil {
					gs.metrics.RegistryToolCount.Set(float64(gs.reg.TotalTools()))
				}
				if changed {
					gs.announceToolsChanged()
				}
			}
		}
	}()
}

// Shutdown cancels the refresh loop, waits for it, and gracefully stops the
// HTTP server within shutdownTimeout. Cancellation never corrupts the
// registry: the refresh loop only ever calls RefreshAll, which itself never
// partially applies a domain's tool list.
func (gs *GatewayServer) Shutdown() error {
	if gs.refreshCancel != nil {
		gs.refreshCancel()
		gs.refreshWG.Wait()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error
	if gs.httpServer != nil {
		err = gs.httpServer.Shutdown(ctx)
	}
	if closeErr := gs.manager.Close(); closeErr != nil && err == nil {
		err = closeErr
	}

	gs.state.Store(int32(StateStopped))
	return err
}
