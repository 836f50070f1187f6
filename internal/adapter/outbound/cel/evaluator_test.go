package cel

import (
	"context"
	"testing"
)

func TestEvaluateAllowDeny(t *testing.T) {
	e, err := NewEvaluator()
	if err != nil {
		t.Fatal(err)
	}
	prg, err := e.Compile(`tool_domain == "apollo" && arguments["force"] == true`)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := e.Evaluate(context.Background(), prg, Activation{
		ToolDomain: "apollo",
		Arguments:  map[string]any{"force": true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("expected expression to match")
	}

	ok, err = e.Evaluate(context.Background(), prg, Activation{ToolDomain: "hubspot"})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("expected expression not to match")
	}
}

func TestValidateExpressionRejectsOversizedNesting(t *testing.T) {
	e, err := NewEvaluator()
	if err != nil {
		t.Fatal(err)
	}
	deep := ""
	for i := 0; i < maxNestingDepth+5; i++ {
		deep += "("
	}
	deep += "true"
	for i := 0; i < maxNestingDepth+5; i++ {
		deep += ")"
	}
	if err := e.ValidateExpression(deep); err == nil {
		t.Fatalf("expected nesting-depth rejection")
	}
}

func TestValidateExpressionRejectsEmpty(t *testing.T) {
	e, err := NewEvaluator()
	if err != nil {
		t.Fatal(err)
	}
	if err := e.ValidateExpression(""); err == nil {
		t.Fatalf("expected empty-expression rejection")
	}
}
