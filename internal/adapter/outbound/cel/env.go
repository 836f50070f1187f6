// Package cel provides a CEL-based policy expression evaluator used by the
// compiled-in policy hook (internal/domain/hook/policyhook).
package cel

import (
	"github.com/google/cel-go/cel"
)

// NewPolicyEnvironment creates the CEL environment the policy hook evaluates
// expressions in. Variables mirror the fields of hook.ExecutionContext:
// tool_name, tool_domain, tool_group, arguments, user. "user" is cel.DynType
// since the gateway treats caller identity as an opaque, hook-defined value.
func NewPolicyEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("tool_name", cel.StringType),
		cel.Variable("tool_domain", cel.StringType),
		cel.Variable("tool_group", cel.StringType),
		cel.Variable("arguments", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("user", cel.DynType),
	)
}
