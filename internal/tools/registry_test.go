package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/nvara/adscout/internal/llm"
)

func testTool(name string) llm.Tool {
	return llm.Tool{
		Type:     "function",
		Function: llm.ToolFunction{Name: name, Description: "test"},
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	res := reg.Execute(context.Background(), "nope", json.RawMessage(`{}`))
	if res.Success {
		t.Fatal("unknown tool must fail")
	}
	if !strings.Contains(res.Error, "unknown tool") {
		t.Errorf("unexpected error: %q", res.Error)
	}
}

func TestRegistryRecoversPanic(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.Register(testTool("explode"), func(ctx context.Context, args json.RawMessage) *Result {
		panic("boom")
	})

	res := reg.Execute(context.Background(), "explode", json.RawMessage(`{}`))
	if res.Success {
		t.Fatal("panicking handler must produce an error envelope")
	}
	if !strings.Contains(res.Error, "boom") {
		t.Errorf("expected panic message in error, got %q", res.Error)
	}
}

func TestRegistryDefinitionsOrder(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.Register(testTool("a"), func(ctx context.Context, args json.RawMessage) *Result { return Ok(nil) })
	reg.Register(testTool("b"), func(ctx context.Context, args json.RawMessage) *Result { return Ok(nil) })

	defs := reg.Definitions()
	if len(defs) != 2 || defs[0].Function.Name != "a" || defs[1].Function.Name != "b" {
		t.Errorf("definitions out of registration order: %+v", defs)
	}
	if !reg.Has("a") || reg.Has("c") {
		t.Error("Has reported wrong membership")
	}
}

func TestResultJSON(t *testing.T) {
	ok := Ok(map[string]interface{}{"count": 3})
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(ok.JSON()), &decoded); err != nil {
		t.Fatalf("result JSON not parseable: %v", err)
	}
	if decoded["success"] != true || decoded["count"] != float64(3) {
		t.Errorf("unexpected envelope: %v", decoded)
	}

	fail := Fail("timeout after %ds", 30)
	if err := json.Unmarshal([]byte(fail.JSON()), &decoded); err != nil {
		t.Fatalf("error JSON not parseable: %v", err)
	}
	if decoded["success"] != false || decoded["error"] != "timeout after 30s" {
		t.Errorf("unexpected error envelope: %v", decoded)
	}
}
