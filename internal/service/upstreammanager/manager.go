// Package upstreammanager implements component B: it owns one persistent
// discovery connection per domain, mints short-lived execution connections
// per tool/call, and drives ToolRegistry population and refresh.
//
// Grounded on the upstream connection manager's exponential-backoff retry
// and goroutine-per-connection health-monitoring idiom (scheduleRetry /
// monitorHealth / stabilityChecker), adapted from a single-connection-per-
// upstream model to this gateway's discovery/execution split, and from a
// subprocess-supervision design to a pure-HTTP one (every upstream here is
// an MCP endpoint, never a spawned process).
package upstreammanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/mcpgateway/gateway/internal/adapter/outbound/mcpclient"
	"github.com/mcpgateway/gateway/internal/domain/registry"
	"github.com/mcpgateway/gateway/internal/domain/tool"
	"github.com/mcpgateway/gateway/internal/domain/upstream"
)

// retryBase, retryCap, and maxPopulateAttempts are vars rather than consts
// solely so tests can shrink them and exercise the retry loop without
// sleeping for real; production code never reassigns them.
var (
	retryBase = 1 * time.Second
	retryCap  = 60 * time.Second

	// maxPopulateAttempts bounds how many times PopulateAll dials an
	// unreachable domain before giving up on it for this pass, each attempt
	// after the first separated by calcBackoffDelay.
	maxPopulateAttempts = 5
)

// calcBackoffDelay returns base*2^retryCount capped at cap.
func calcBackoffDelay(base, cap time.Duration, retryCount int) time.Duration {
	delay := base
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay > cap {
			return cap
		}
	}
	return delay
}

// UpstreamError marks a call result as an upstream-side failure (transport
// failure or non-2xx), distinguished from a gateway bug. A result with
// isError content is returned as a normal result, not as an UpstreamError.
type UpstreamError struct {
	Domain string
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Domain, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// discoveryConn is the subset of *mcpclient.Connection the manager depends
// on, declared here so tests can substitute a fake upstream connection
// without a real network dial.
type discoveryConn interface {
	ListTools(ctx context.Context) ([]*mcp.Tool, error)
	CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error)
	Close() error
}

// dialFunc opens a connection to an upstream; production code always uses
// mcpclient.Dial, tests substitute a fake.
type dialFunc func(ctx context.Context, clientName, endpoint string, headers http.Header) (discoveryConn, error)

func defaultDial(ctx context.Context, clientName, endpoint string, headers http.Header) (discoveryConn, error) {
	return mcpclient.Dial(ctx, clientName, endpoint, headers)
}

// Manager is component B.
type Manager struct {
	registry   *registry.Registry
	store      upstream.Store
	clientName string
	authToken  string
	logger     *slog.Logger
	tracer     trace.Tracer
	dial       dialFunc

	mu        sync.Mutex // serializes connect/disconnect per domain
	discovery map[string]discoveryConn
	retries   map[string]int // consecutive populate failures, for backoff
}

// New creates a Manager. clientName identifies this gateway to upstreams in
// the MCP handshake; authToken, if non-empty, is attached as a bearer token
// to every discovery connection.
func New(reg *registry.Registry, store upstream.Store, clientName, authToken string, logger *slog.Logger, tracer trace.Tracer) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry:   reg,
		store:      store,
		clientName: clientName,
		authToken:  authToken,
		logger:     logger,
		tracer:     tracer,
		dial:       defaultDial,
		discovery:  make(map[string]discoveryConn),
		retries:    make(map[string]int),
	}
}

func (m *Manager) discoveryHeaders(staticHeaders map[string]string) http.Header {
	h := make(http.Header)
	if m.authToken != "" {
		h.Set("Authorization", "Bearer "+m.authToken)
	}
	for k, v := range staticHeaders {
		h.Set(k, v)
	}
	return h
}

// AddUpstream is an idempotent upsert: it opens (or replaces) the domain's
// discovery connection and populates the registry from it. Re-registering a
// domain without headers clears any previously stored static headers for it
// — headers are never silently preserved across a re-registration.
func (m *Manager) AddUpstream(ctx context.Context, domain, url, description string, staticHeaders map[string]string) (registry.Diff, error) {
	m.mu.Lock()
	if existing, ok := m.discovery[domain]; ok {
		_ = existing.Close()
		delete(m.discovery, domain)
	}
	conn, err := m.dial(ctx, m.clientName, url, m.discoveryHeaders(staticHeaders))
	if err != nil {
		m.mu.Unlock()
		return registry.Diff{}, fmt.Errorf("dial %s: %w", domain, err)
	}
	m.discovery[domain] = conn
	m.mu.Unlock()

	d := &upstream.Domain{Name: domain, URL: url, Description: description, Headers: staticHeaders}
	if err := m.store.Add(ctx, d); err != nil {
		if !errors.Is(err, upstream.ErrDuplicateDomainName) {
			return registry.Diff{}, fmt.Errorf("store upstream %q: %w", domain, err)
		}
		// Re-registration: Update fully overwrites the prior record, so a
		// domain registered again without headers correctly loses its
		// previously stored ones rather than silently keeping them.
		if err := m.store.Update(ctx, d); err != nil {
			return registry.Diff{}, fmt.Errorf("store upstream %q: %w", domain, err)
		}
	}

	return m.populateDomain(ctx, domain, url, description, staticHeaders, conn)
}

// RemoveUpstream closes the domain's discovery connection and drops it from
// the registry.
func (m *Manager) RemoveUpstream(ctx context.Context, domain string) error {
	m.mu.Lock()
	conn, ok := m.discovery[domain]
	delete(m.discovery, domain)
	delete(m.retries, domain)
	m.mu.Unlock()

	if ok {
		_ = conn.Close()
	}
	m.registry.RemoveDomain(domain)
	return m.store.Delete(ctx, domain)
}

// PopulateAll fans out a discovery list_tools to every configured domain. A
// per-domain failure is logged and that domain is left absent from the
// registry (graceful degradation); it never aborts the others.
func (m *Manager) PopulateAll(ctx context.Context) []registry.Diff {
	domains, err := m.store.List(ctx)
	if err != nil {
		m.logger.Error("list configured domains failed", "error", err)
		return nil
	}

	var diffs []registry.Diff
	for _, d := range domains {
		conn, err := m.dialWithRetry(ctx, d.Name, d.URL, d.Headers)
		if err != nil {
			m.logger.Warn("populate: domain unreachable at startup, giving up", "domain", d.Name, "attempts", maxPopulateAttempts, "error", err)
			continue
		}
		m.mu.Lock()
		m.discovery[d.Name] = conn
		m.mu.Unlock()

		diff, err := m.populateDomain(ctx, d.Name, d.URL, d.Description, d.Headers, conn)
		if err != nil {
			m.logger.Warn("populate: list_tools failed", "domain", d.Name, "error", err)
			continue
		}
		diffs = append(diffs, diff)
	}
	return diffs
}

// dialWithRetry dials domain's discovery connection, retrying up to
// maxPopulateAttempts times with an exponential backoff sleep between
// attempts. Each failed attempt increments m.retries[name]; populateDomain
// resets it to 0 on the eventual success. ctx cancellation aborts the wait
// immediately.
func (m *Manager) dialWithRetry(ctx context.Context, name, url string, headers map[string]string) (discoveryConn, error) {
	var lastErr error
	for attempt := 0; attempt < maxPopulateAttempts; attempt++ {
		conn, err := m.dial(ctx, m.clientName, url, m.discoveryHeaders(headers))
		if err == nil {
			return conn, nil
		}
		lastErr = err

		m.mu.Lock()
		retryCount := m.retries[name]
		m.retries[name]++
		m.mu.Unlock()

		if attempt == maxPopulateAttempts-1 {
			break
		}
		delay := calcBackoffDelay(retryBase, retryCap, retryCount)
		m.logger.Warn("populate: domain unreachable, retrying", "domain", name, "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

// RefreshAll re-runs discovery for every domain with an open connection.
// A domain whose refresh fails keeps its prior registry snapshot and is
// reported in failed, never surfaced as a whole-call error.
func (m *Manager) RefreshAll(ctx context.Context) (diffs []registry.Diff, failed []string) {
	m.mu.Lock()
	domains := make([]string, 0, len(m.discovery))
	for d := range m.discovery {
		domains = append(domains, d)
	}
	m.mu.Unlock()

	for _, domain := range domains {
		diff, err := m.RefreshDomain(ctx, domain)
		if err != nil {
			failed = append(failed, domain)
			continue
		}
		diffs = append(diffs, diff)
	}
	return diffs, failed
}

// RefreshDomain re-runs discovery for a single domain.
func (m *Manager) RefreshDomain(ctx context.Context, domain string) (registry.Diff, error) {
	m.mu.Lock()
	conn, ok := m.discovery[domain]
	m.mu.Unlock()
	if !ok {
		return registry.Diff{}, fmt.Errorf("domain %s has no open discovery connection", domain)
	}

	d, err := m.store.Get(ctx, domain)
	if err != nil {
		return registry.Diff{}, err
	}

	return m.populateDomain(ctx, domain, d.URL, d.Description, d.Headers, conn)
}

func (m *Manager) populateDomain(ctx context.Context, domain, url, description string, staticHeaders map[string]string, conn discoveryConn) (registry.Diff, error) {
	upstreamTools, err := conn.ListTools(ctx)
	if err != nil {
		return registry.Diff{}, &UpstreamError{Domain: domain, Err: err}
	}

	entries := make([]tool.Entry, 0, len(upstreamTools))
	for _, t := range upstreamTools {
		var inputSchema, outputSchema []byte
		if t.InputSchema != nil {
			inputSchema, _ = t.InputSchema.MarshalJSON()
		}
		if t.OutputSchema != nil {
			outputSchema, _ = t.OutputSchema.MarshalJSON()
		}
		var annotations map[string]any
		if t.Annotations != nil {
			annotations = map[string]any{
				"readOnlyHint":    t.Annotations.ReadOnlyHint,
				"destructiveHint": t.Annotations.DestructiveHint,
				"idempotentHint":  t.Annotations.IdempotentHint,
				"openWorldHint":   t.Annotations.OpenWorldHint,
			}
		}
		entries = append(entries, tool.Entry{
			OriginalName: t.Name,
			Title:        t.Title,
			Description:  t.Description,
			InputSchema:  inputSchema,
			OutputSchema: outputSchema,
			Annotations:  annotations,
		})
	}

	diff := m.registry.PopulateDomain(domain, url, description, staticHeaders, entries)

	m.mu.Lock()
	m.retries[domain] = 0
	m.mu.Unlock()

	return diff, nil
}

// ValidationStatus is a point-in-time reachability diagnostic for one
// configured domain, surfaced by the registration API alongside its static
// configuration.
type ValidationStatus struct {
	Reachable bool   `json:"reachable"`
	LastError string `json:"last_error,omitempty"`
	ToolCount int    `json:"tool_count"`
}

// ValidateUpstream reports whether domain's discovery connection is open and
// still answers list_tools, without mutating the registry. A domain with no
// open discovery connection (never populated, or its connection was lost) is
// reported unreachable.
func (m *Manager) ValidateUpstream(ctx context.Context, domain string) ValidationStatus {
	m.mu.Lock()
	conn, ok := m.discovery[domain]
	m.mu.Unlock()
	if !ok {
		return ValidationStatus{Reachable: false, LastError: "no open discovery connection"}
	}

	tools, err := conn.ListTools(ctx)
	if err != nil {
		return ValidationStatus{Reachable: false, LastError: err.Error()}
	}
	return ValidationStatus{Reachable: true, ToolCount: len(tools)}
}

// ListUpstreams returns the configured domain -> url mapping.
func (m *Manager) ListUpstreams(ctx context.Context) (map[string]string, error) {
	domains, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(domains))
	for _, d := range domains {
		out[d.Name] = d.URL
	}
	return out, nil
}

// Execute opens a fresh execution connection to tool.Domain, merges headers
// with priority extraHeaders > static domain headers > stripped incoming
// headers, and forwards the call under the upstream's original tool name.
func (m *Manager) Execute(ctx context.Context, entry tool.Entry, arguments map[string]any, incomingHeaders http.Header, extraHeaders map[string]string) (*mcp.CallToolResult, error) {
	if m.tracer != nil {
		var span trace.Span
		ctx, span = m.tracer.Start(ctx, "upstream.execute_tool",
			trace.WithAttributes(
				attribute.String("mcpgateway.domain", entry.Domain),
				attribute.String("mcpgateway.tool", entry.OriginalName),
			))
		defer span.End()
	}

	d, err := m.store.Get(ctx, entry.Domain)
	if err != nil {
		return nil, fmt.Errorf("domain %s not configured: %w", entry.Domain, err)
	}

	merged := mcpclient.StripHopByHop(incomingHeaders)
	for k, v := range d.Headers {
		merged.Set(k, v)
	}
	for k, v := range extraHeaders {
		merged.Set(k, v)
	}

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(merged))

	conn, err := m.dial(ctx, m.clientName, d.URL, merged)
	if err != nil {
		upErr := &UpstreamError{Domain: entry.Domain, Err: err}
		recordSpanError(ctx, upErr)
		return nil, upErr
	}
	defer func() { _ = conn.Close() }()

	result, err := conn.CallTool(ctx, entry.OriginalName, arguments)
	if err != nil {
		upErr := &UpstreamError{Domain: entry.Domain, Err: err}
		recordSpanError(ctx, upErr)
		return nil, upErr
	}
	return result, nil
}

// recordSpanError annotates the active span, if any, with err. A nil active
// span (tracing disabled, or ctx carries none) is a silent no-op.
func recordSpanError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Close tears down every open discovery connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for domain, conn := range m.discovery {
		if err := conn.Close(); err != nil {
			m.logger.Warn("error closing discovery connection", "domain", domain, "error", err)
		}
	}
	m.discovery = make(map[string]discoveryConn)
	return nil
}
