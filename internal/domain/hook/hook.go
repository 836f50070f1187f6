// Package hook implements the lifecycle-callback pipeline around
// authentication, tool listing, execution, and error handling.
//
// The source models a hook as an object with optional methods; missing
// methods are no-ops. A statically typed target cannot express "optional
// method" directly, so each phase is its own small interface and a hook
// participates in a phase only if it implements that phase's interface.
// This mirrors the message-interceptor-chain idiom used elsewhere in this
// codebase, generalized from a single Intercept method to five independent
// optional phases.
package hook

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/mcpgateway/gateway/internal/domain/tool"
)

// Identity is an opaque, hook-defined representation of the caller resolved
// by on_authenticate. The gateway never inspects its contents.
type Identity any

// ExecutionContext carries the state threaded through before_execute and
// after_execute for one execute_tool call.
type ExecutionContext struct {
	Tool         tool.Entry
	Arguments    map[string]any
	Headers      http.Header // read-only: hooks must not mutate the incoming headers
	User         Identity
	ExtraHeaders map[string]string // mutable: filled by before_execute hooks
	Metadata     map[string]any    // mutable: hook-to-hook signalling
}

// ListToolsContext carries the state for a tool-list filtering pass.
type ListToolsContext struct {
	Domain  string // empty means cross-domain search
	Headers http.Header
	User    Identity
}

// Denied is the sum-type replacement for the source's ExecutionDenied
// exception: before_execute returns one of (nil, *Denied) rather than
// raising. A non-nil Denied short-circuits the remaining hook chain.
type Denied struct {
	Code    string
	Message string
}

func (d *Denied) Error() string { return d.Message }

// Authenticator is the on_authenticate capability.
type Authenticator interface {
	OnAuthenticate(ctx context.Context, headers http.Header) (Identity, error)
}

// ListFilter is the after_list_tools capability.
type ListFilter interface {
	AfterListTools(ctx context.Context, ltc ListToolsContext, tools []tool.Entry) ([]tool.Entry, error)
}

// BeforeExecutor is the before_execute capability.
type BeforeExecutor interface {
	BeforeExecute(ctx context.Context, ec *ExecutionContext) *Denied
}

// AfterExecutor is the after_execute capability.
type AfterExecutor interface {
	AfterExecute(ctx context.Context, ec *ExecutionContext, result any, isError bool) (any, error)
}

// ErrorHandler is the on_error capability.
type ErrorHandler interface {
	OnError(ctx context.Context, ec *ExecutionContext, err error)
}

// Hook is the umbrella every hook implementation type-asserts against for
// each phase it wants to participate in. A hook need not implement all of
// these interfaces: the Runner below checks each phase independently.
type Hook any

// Runner holds an ordered list of hooks and drives each phase's composition
// rule. Hooks are stateful and not synchronized by the runner; hook authors
// own their own thread-safety.
type Runner struct {
	hooks []Hook
}

// NewRunner creates a Runner over hooks, in the order they should run.
func NewRunner(hooks ...Hook) *Runner {
	return &Runner{hooks: hooks}
}

// OnAuthenticate calls every Authenticator hook in order; the last non-nil
// result wins, nil if every hook returns nil (or there are no Authenticator
// hooks at all).
func (r *Runner) OnAuthenticate(ctx context.Context, headers http.Header) (Identity, error) {
	var user Identity
	for _, h := range r.hooks {
		a, ok := h.(Authenticator)
		if !ok {
			continue
		}
		u, err := a.OnAuthenticate(ctx, headers)
		if err != nil {
			return nil, err
		}
		if u != nil {
			user = u
		}
	}
	return user, nil
}

// AfterListTools pipes tools through every ListFilter hook in order, each
// receiving the previous hook's output. The input slice is copied before
// the first call so no hook observes or mutates the caller's slice.
func (r *Runner) AfterListTools(ctx context.Context, ltc ListToolsContext, tools []tool.Entry) ([]tool.Entry, error) {
	current := make([]tool.Entry, len(tools))
	copy(current, tools)

	for _, h := range r.hooks {
		f, ok := h.(ListFilter)
		if !ok {
			continue
		}
		next, err := f.AfterListTools(ctx, ltc, current)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

// BeforeExecute runs every BeforeExecutor hook in sequence. The first
// non-nil Denied short-circuits the remaining hooks and is returned.
func (r *Runner) BeforeExecute(ctx context.Context, ec *ExecutionContext) *Denied {
	for _, h := range r.hooks {
		b, ok := h.(BeforeExecutor)
		if !ok {
			continue
		}
		if denied := b.BeforeExecute(ctx, ec); denied != nil {
			return denied
		}
	}
	return nil
}

// AfterExecute pipes result through every AfterExecutor hook in order, each
// transforming the previous hook's output.
func (r *Runner) AfterExecute(ctx context.Context, ec *ExecutionContext, result any, isError bool) any {
	current := result
	for _, h := range r.hooks {
		a, ok := h.(AfterExecutor)
		if !ok {
			continue
		}
		next, err := a.AfterExecute(ctx, ec, current, isError)
		if err != nil {
			// A transform hook failing is itself an on_error-worthy event,
			// but must never abort the response: keep the prior value.
			r.onError(ctx, ec, err)
			continue
		}
		current = next
	}
	return current
}

// OnError notifies every ErrorHandler hook. Exported as onError internally
// and as a public entry point for callers outside the execute path (e.g. a
// failed after_execute transform, or a transport-level failure).
func (r *Runner) OnError(ctx context.Context, ec *ExecutionContext, err error) {
	r.onError(ctx, ec, err)
}

// onError is fault-tolerant: a panicking hook is logged and swallowed,
// never propagated, and never prevents the remaining hooks from running.
func (r *Runner) onError(ctx context.Context, ec *ExecutionContext, err error) {
	for _, h := range r.hooks {
		e, ok := h.(ErrorHandler)
		if !ok {
			continue
		}
		func() {
			defer func() {
				if p := recover(); p != nil {
					slog.Default().Warn("on_error hook panicked", "panic", p)
				}
			}()
			e.OnError(ctx, ec, err)
		}()
	}
}
