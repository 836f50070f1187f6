package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	inboundhttp "github.com/mcpgateway/gateway/internal/adapter/inbound/http"
	"github.com/mcpgateway/gateway/internal/config"
	"github.com/mcpgateway/gateway/internal/domain/hook"
	"github.com/mcpgateway/gateway/internal/domain/hook/policyhook"
	"github.com/mcpgateway/gateway/internal/domain/hook/scripthook"
	"github.com/mcpgateway/gateway/internal/domain/registry"
	"github.com/mcpgateway/gateway/internal/domain/upstream"
	"github.com/mcpgateway/gateway/internal/server"
	"github.com/mcpgateway/gateway/internal/service/upstreammanager"
	"github.com/mcpgateway/gateway/internal/telemetry"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long: `Start the gateway: load configuration, dial every configured upstream,
populate the tool registry, and serve the MCP transport plus health,
readiness, metrics, and (if enabled) registration endpoints until a SIGINT
or SIGTERM is received.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop() // restore default signal handling: a second Ctrl+C is a hard kill.
	}()

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("gateway stopped")
	return nil
}

// run wires every component together and blocks until ctx is cancelled. The
// boot sequence:
//
//	BOOT-01: build tracer, metrics registry (the logger is built by runStart)
//	BOOT-02: construct the upstream store, registry, and manager
//	BOOT-03: load the optional hook module
//	BOOT-04: construct the GatewayServer
//	BOOT-05: populate the registry from every configured upstream
//	BOOT-06: print the startup banner
//	BOOT-07: run until shutdown
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// ===== BOOT-01: tracer + metrics registry =====
	tracer, shutdownTracer, err := telemetry.InitTracer(cfg.Name)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	promReg := prometheus.NewRegistry()
	metrics := inboundhttp.NewMetrics(promReg)

	// ===== BOOT-02: store, registry, manager =====
	store := upstream.NewMemoryStore()
	reg := registry.New()
	manager := upstreammanager.New(reg, store, cfg.Name, cfg.RegistryAuthToken, logger, tracer)

	// ===== BOOT-03: optional hook module =====
	hooks, err := loadHook(cfg, logger)
	if err != nil {
		return fmt.Errorf("load hook module: %w", err)
	}

	// ===== BOOT-04: GatewayServer =====
	gs := server.New(cfg, reg, store, manager, hooks, metrics, promReg, logger, tracer)

	// ===== BOOT-05: populate registry =====
	if err := gs.Populate(ctx); err != nil {
		return fmt.Errorf("populate registry: %w", err)
	}

	// ===== BOOT-06: startup banner =====
	printBanner(cfg, reg, Version)

	// ===== BOOT-07: run =====
	return gs.Run(ctx)
}

// loadHook builds the single optional hook configured via GATEWAY_HOOK_MODULE,
// or a no-op Runner if none is set.
func loadHook(cfg *config.Config, logger *slog.Logger) (*hook.Runner, error) {
	kind, payload, ok := cfg.HookKindAndPayload()
	if !ok {
		return hook.NewRunner(), nil
	}

	switch kind {
	case "cel":
		h, err := policyhook.New(payload, "forbidden", "denied by policy")
		if err != nil {
			return nil, fmt.Errorf("compile cel hook: %w", err)
		}
		logger.Info("loaded policy hook", "kind", "cel", "id", h.ID())
		return hook.NewRunner(h), nil
	case "js":
		h := scripthook.New(payload, logger)
		logger.Info("loaded policy hook", "kind", "js")
		return hook.NewRunner(h), nil
	default:
		return nil, fmt.Errorf("unknown hook kind %q", kind)
	}
}

// newLogger builds the process-wide structured logger, writing to stderr so
// stdout stays free for any future stdio-transport use.
func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(level),
	}))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printBanner(cfg *config.Config, reg *registry.Registry, version string) {
	fmt.Fprintf(os.Stderr, "mcp-gateway %s\n", version)
	fmt.Fprintf(os.Stderr, "  name:        %s\n", cfg.Name)
	fmt.Fprintf(os.Stderr, "  listen:      %s:%d\n", cfg.Host, cfg.Port)
	fmt.Fprintf(os.Stderr, "  upstreams:   %d configured, %d populated\n", len(cfg.Upstreams), len(reg.ListDomains()))
	fmt.Fprintf(os.Stderr, "  tools:       %d\n", reg.TotalTools())
	fmt.Fprintf(os.Stderr, "  refresh:     %v\n", cfg.RefreshEnabled())
	fmt.Fprintf(os.Stderr, "  registration: %v\n", cfg.RegistrationEnabled())
}
