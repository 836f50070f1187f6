// Package policyhook implements a before_execute hook that denies execution
// when a compiled CEL expression evaluates to true, giving operators a
// declarative policy surface without a Go rebuild.
//
// Grounded on the CEL evaluator (internal/adapter/outbound/cel). The
// expression is compiled once in New and the program is reused for every
// call; an xxhash of the expression text serves only as the hook's ID.
package policyhook

import (
	"context"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	gocel "github.com/google/cel-go/cel"

	"github.com/mcpgateway/gateway/internal/adapter/outbound/cel"
	"github.com/mcpgateway/gateway/internal/domain/hook"
)

// Hook denies execution when Expression evaluates to true against the call's
// tool_name/tool_domain/tool_group/arguments/user.
type Hook struct {
	evaluator  *cel.Evaluator
	expression string
	code       string
	message    string

	mu      sync.Mutex
	program gocel.Program
}

// New compiles expression eagerly so a misconfigured rule fails at startup
// rather than on the first matching call.
func New(expression, code, message string) (*Hook, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, err
	}
	if err := evaluator.ValidateExpression(expression); err != nil {
		return nil, err
	}
	prg, err := evaluator.Compile(expression)
	if err != nil {
		return nil, err
	}
	return &Hook{
		evaluator:  evaluator,
		expression: expression,
		code:       code,
		message:    message,
		program:    prg,
	}, nil
}

// ID returns a stable identifier for this hook's expression, used to
// correlate denials back to a specific rule in logs without printing the
// (potentially sensitive) expression text itself.
func (h *Hook) ID() string {
	return strconv.FormatUint(xxhash.Sum64String(h.expression), 16)
}

// BeforeExecute implements hook.BeforeExecutor.
func (h *Hook) BeforeExecute(ctx context.Context, ec *hook.ExecutionContext) *hook.Denied {
	h.mu.Lock()
	prg := h.program
	h.mu.Unlock()

	match, err := h.evaluator.Evaluate(ctx, prg, cel.Activation{
		ToolName:   ec.Tool.Name,
		ToolDomain: ec.Tool.Domain,
		ToolGroup:  ec.Tool.Group,
		Arguments:  ec.Arguments,
		User:       ec.User,
	})
	if err != nil {
		// A policy expression that fails to evaluate is treated as a denial:
		// fail closed, never silently allow.
		return &hook.Denied{Code: "forbidden", Message: "policy evaluation error: " + err.Error()}
	}
	if match {
		return &hook.Denied{Code: h.code, Message: h.message}
	}
	return nil
}

var _ hook.BeforeExecutor = (*Hook)(nil)
