package upstreammanager

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpgateway/gateway/internal/domain/registry"
	"github.com/mcpgateway/gateway/internal/domain/tool"
	"github.com/mcpgateway/gateway/internal/domain/upstream"
)

func TestCalcBackoffDelay(t *testing.T) {
	cases := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{10, retryCap}, // capped
	}
	for _, c := range cases {
		got := calcBackoffDelay(retryBase, retryCap, c.retryCount)
		if got != c.want {
			t.Errorf("calcBackoffDelay(retryCount=%d) = %v, want %v", c.retryCount, got, c.want)
		}
	}
}

// fakeConn is a discoveryConn test double standing in for a real upstream
// connection, returning canned tools/results/errors. The headers it was
// dialed with are recorded by newFakeDialer, not here.
type fakeConn struct {
	tools   []*mcp.Tool
	listErr error
	result  *mcp.CallToolResult
	callErr error
	closed  bool
}

func (f *fakeConn) ListTools(ctx context.Context) ([]*mcp.Tool, error) { return f.tools, f.listErr }

func (f *fakeConn) CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	return f.result, f.callErr
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

// newFakeDialer returns a dialFunc that looks up a canned connection (or
// error) by endpoint URL, recording the headers it was dialed with into
// capturedHeaders[url] for assertion.
func newFakeDialer(conns map[string]*fakeConn, dialErrs map[string]error, capturedHeaders map[string]http.Header) dialFunc {
	return func(ctx context.Context, clientName, endpoint string, headers http.Header) (discoveryConn, error) {
		if capturedHeaders != nil {
			capturedHeaders[endpoint] = headers
		}
		if err, ok := dialErrs[endpoint]; ok {
			return nil, err
		}
		conn, ok := conns[endpoint]
		if !ok {
			return nil, errors.New("fakeDialer: no connection configured for " + endpoint)
		}
		return conn, nil
	}
}

func newTestManager(t *testing.T) (*Manager, *registry.Registry, upstream.Store) {
	t.Helper()
	reg := registry.New()
	store := upstream.NewMemoryStore()
	m := New(reg, store, "test-gateway", "", nil, nil)
	return m, reg, store
}

func TestAddUpstreamOpensConnectionAndPopulatesRegistry(t *testing.T) {
	m, reg, _ := newTestManager(t)
	conn := &fakeConn{tools: []*mcp.Tool{{Name: "charge_card"}}}
	m.dial = newFakeDialer(map[string]*fakeConn{"http://billing.internal/mcp": conn}, nil, nil)

	diff, err := m.AddUpstream(context.Background(), "billing", "http://billing.internal/mcp", "billing ops", nil)
	if err != nil {
		t.Fatalf("AddUpstream: %v", err)
	}
	if diff.Domain != "billing" || len(diff.Added) != 1 || diff.Added[0] != "charge_card" {
		t.Errorf("unexpected diff: %+v", diff)
	}
	if entries, ok := reg.ListDomainTools("billing"); !ok || len(entries) != 1 {
		t.Errorf("registry not populated: %v, ok=%v", entries, ok)
	}
}

func TestAddUpstreamUpsertsOnReregistration(t *testing.T) {
	m, _, store := newTestManager(t)
	firstConn := &fakeConn{tools: []*mcp.Tool{{Name: "charge_card"}}}
	secondConn := &fakeConn{tools: []*mcp.Tool{{Name: "charge_card"}}}
	captured := map[string]http.Header{}
	m.dial = newFakeDialer(map[string]*fakeConn{"http://billing.internal/mcp": firstConn}, nil, captured)

	ctx := context.Background()
	if _, err := m.AddUpstream(ctx, "billing", "http://billing.internal/mcp", "billing ops", map[string]string{"X-Api-Key": "secret"}); err != nil {
		t.Fatalf("first AddUpstream: %v", err)
	}
	d, err := store.Get(ctx, "billing")
	if err != nil || len(d.Headers) != 1 || d.Headers["X-Api-Key"] != "secret" {
		t.Fatalf("expected stored headers after first registration, got %+v (err=%v)", d, err)
	}

	// Re-register without headers: per the idempotent-upsert invariant, the
	// prior headers must be cleared, not silently preserved.
	m.dial = newFakeDialer(map[string]*fakeConn{"http://billing.internal/mcp": secondConn}, nil, captured)
	if _, err := m.AddUpstream(ctx, "billing", "http://billing.internal/mcp", "billing ops", nil); err != nil {
		t.Fatalf("second AddUpstream: %v", err)
	}
	d, err = store.Get(ctx, "billing")
	if err != nil {
		t.Fatalf("store.Get after re-registration: %v", err)
	}
	if len(d.Headers) != 0 {
		t.Errorf("expected headers cleared on re-registration, got %+v", d.Headers)
	}
	if !firstConn.closed {
		t.Error("expected the first discovery connection to be closed on re-registration")
	}
}

func TestAddUpstreamDialFailureLeavesStoreUntouched(t *testing.T) {
	m, _, store := newTestManager(t)
	m.dial = newFakeDialer(nil, map[string]error{"http://unreachable/mcp": errors.New("connection refused")}, nil)

	_, err := m.AddUpstream(context.Background(), "billing", "http://unreachable/mcp", "", nil)
	if err == nil {
		t.Fatal("expected an error from AddUpstream")
	}
	if _, err := store.Get(context.Background(), "billing"); !errors.Is(err, upstream.ErrDomainNotFound) {
		t.Errorf("expected the domain to never be stored after a dial failure, got err=%v", err)
	}
}

func TestRemoveUpstreamClosesConnectionAndDropsRegistry(t *testing.T) {
	m, reg, store := newTestManager(t)
	conn := &fakeConn{tools: []*mcp.Tool{{Name: "charge_card"}}}
	m.dial = newFakeDialer(map[string]*fakeConn{"http://billing.internal/mcp": conn}, nil, nil)

	ctx := context.Background()
	if _, err := m.AddUpstream(ctx, "billing", "http://billing.internal/mcp", "", nil); err != nil {
		t.Fatalf("AddUpstream: %v", err)
	}
	if err := m.RemoveUpstream(ctx, "billing"); err != nil {
		t.Fatalf("RemoveUpstream: %v", err)
	}
	if !conn.closed {
		t.Error("expected discovery connection to be closed")
	}
	if reg.HasDomain("billing") {
		t.Error("expected domain removed from registry")
	}
	if _, err := store.Get(ctx, "billing"); !errors.Is(err, upstream.ErrDomainNotFound) {
		t.Errorf("expected domain removed from store, got err=%v", err)
	}
}

func TestPopulateAllRetriesBeforeSucceeding(t *testing.T) {
	m, _, store := newTestManager(t)
	origBase, origCap := retryBase, retryCap
	retryBase, retryCap = time.Millisecond, 4*time.Millisecond
	defer func() { retryBase, retryCap = origBase, origCap }()

	ctx := context.Background()
	_ = store.Add(ctx, &upstream.Domain{Name: "billing", URL: "http://billing.internal/mcp"})

	attempts := 0
	conn := &fakeConn{tools: []*mcp.Tool{{Name: "charge_card"}}}
	m.dial = func(ctx context.Context, clientName, endpoint string, headers http.Header) (discoveryConn, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("connection refused")
		}
		return conn, nil
	}

	diffs := m.PopulateAll(ctx)
	if attempts != 3 {
		t.Errorf("expected 3 dial attempts before success, got %d", attempts)
	}
	if len(diffs) != 1 || diffs[0].Domain != "billing" {
		t.Errorf("expected billing populated after retries, got %+v", diffs)
	}
	m.mu.Lock()
	retries := m.retries["billing"]
	m.mu.Unlock()
	if retries != 0 {
		t.Errorf("expected retry counter reset to 0 on eventual success, got %d", retries)
	}
}

func TestPopulateAllGivesUpAfterMaxAttempts(t *testing.T) {
	m, _, store := newTestManager(t)
	origBase, origCap, origMax := retryBase, retryCap, maxPopulateAttempts
	retryBase, retryCap, maxPopulateAttempts = time.Millisecond, 2*time.Millisecond, 3
	defer func() { retryBase, retryCap, maxPopulateAttempts = origBase, origCap, origMax }()

	ctx := context.Background()
	_ = store.Add(ctx, &upstream.Domain{Name: "billing", URL: "http://billing.internal/mcp"})

	attempts := 0
	m.dial = func(ctx context.Context, clientName, endpoint string, headers http.Header) (discoveryConn, error) {
		attempts++
		return nil, errors.New("connection refused")
	}

	diffs := m.PopulateAll(ctx)
	if attempts != maxPopulateAttempts {
		t.Errorf("expected exactly %d dial attempts, got %d", maxPopulateAttempts, attempts)
	}
	if len(diffs) != 0 {
		t.Errorf("expected no diffs for a domain that never became reachable, got %+v", diffs)
	}
}

func TestRefreshAllReportsDiffAndFailure(t *testing.T) {
	m, _, store := newTestManager(t)
	ctx := context.Background()

	okConn := &fakeConn{tools: []*mcp.Tool{{Name: "charge_card"}}}
	badConn := &fakeConn{listErr: errors.New("upstream gone")}
	m.dial = newFakeDialer(map[string]*fakeConn{
		"http://billing.internal/mcp": okConn,
		"http://crm.internal/mcp":     badConn,
	}, nil, nil)

	_ = store.Add(ctx, &upstream.Domain{Name: "billing", URL: "http://billing.internal/mcp"})
	_ = store.Add(ctx, &upstream.Domain{Name: "crm", URL: "http://crm.internal/mcp"})
	m.PopulateAll(ctx)

	// crm's list_tools fails on every call (it already failed in
	// PopulateAll); refresh must report it as failed without disturbing
	// billing's snapshot.
	badConn.tools = nil
	diffs, failed := m.RefreshAll(ctx)

	if len(failed) != 1 || failed[0] != "crm" {
		t.Errorf("expected crm reported as failed, got %v", failed)
	}
	var sawBilling bool
	for _, d := range diffs {
		if d.Domain == "billing" {
			sawBilling = true
		}
	}
	if !sawBilling {
		t.Errorf("expected billing's refresh diff present, got %+v", diffs)
	}
}

func TestExecuteMergesHeadersWithExtraHeadersHighestPriority(t *testing.T) {
	m, reg, store := newTestManager(t)
	ctx := context.Background()
	_ = store.Add(ctx, &upstream.Domain{
		Name:    "billing",
		URL:     "http://billing.internal/mcp",
		Headers: map[string]string{"X-Api-Key": "static-key", "X-Static-Only": "present"},
	})
	reg.PopulateDomain("billing", "http://billing.internal/mcp", "", nil, []tool.Entry{{OriginalName: "charge_card"}})

	var capturedHeaders http.Header
	conn := &fakeConn{result: &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "ok"}}}}
	m.dial = func(ctx context.Context, clientName, endpoint string, headers http.Header) (discoveryConn, error) {
		capturedHeaders = headers
		return conn, nil
	}

	incoming := http.Header{"X-Api-Key": []string{"incoming-key"}, "X-From-Caller": []string{"yes"}}
	extra := map[string]string{"X-Api-Key": "extra-key"}

	entry, _ := reg.Get("charge_card")
	result, err := m.Execute(ctx, entry, map[string]any{"amount": 100}, incoming, extra)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Content[0].(*mcp.TextContent).Text != "ok" {
		t.Errorf("unexpected result: %+v", result)
	}

	if got := capturedHeaders.Get("X-Api-Key"); got != "extra-key" {
		t.Errorf("X-Api-Key = %q, want extraHeaders to win (extra-key)", got)
	}
	if got := capturedHeaders.Get("X-Static-Only"); got != "present" {
		t.Errorf("X-Static-Only = %q, want static domain header preserved", got)
	}
	if got := capturedHeaders.Get("X-From-Caller"); got != "yes" {
		t.Errorf("X-From-Caller = %q, want incoming header forwarded", got)
	}
	if !conn.closed {
		t.Error("expected the execution connection to be closed after the call")
	}
}

func TestExecuteUnknownDomainFails(t *testing.T) {
	m, reg, _ := newTestManager(t)
	entry := tool.Entry{Domain: "ghost", OriginalName: "whatever"}
	reg.PopulateDomain("other", "http://other/mcp", "", nil, nil)

	_, err := m.Execute(context.Background(), entry, nil, http.Header{}, nil)
	if err == nil {
		t.Fatal("expected an error for a domain with no stored configuration")
	}
}
