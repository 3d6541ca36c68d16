package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoaderFileDetection(t *testing.T) {
	tests := []struct {
		kind     Kind
		filename string
		expected bool
	}{
		{KindWASM, "policy.wasm", true},
		{KindWASM, "policy.WASM", true},
		{KindWASM, "policy.wasm.bak", false},
		{KindRego, "sql.rego", true},
		{KindRego, "sql.lua", false},
		{KindLua, "sql.lua", true},
		{KindLua, "lua", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+tt.filename, func(t *testing.T) {
			loader, err := NewLoader(tt.kind)
			if err != nil {
				t.Fatal(err)
			}
			if got := loader.Matches(tt.filename); got != tt.expected {
				t.Errorf("Matches(%s) = %v, want %v", tt.filename, got, tt.expected)
			}
		})
	}
}

func TestPolicyNameExtraction(t *testing.T) {
	tests := []struct {
		filename string
		expected string
	}{
		{"my_policy.wasm", "my_policy"},
		{"SQL_GUARD.LUA", "sql_guard"},
		{"test.rego", "test"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			if got := policyName(tt.filename); got != tt.expected {
				t.Errorf("policyName(%s) = %s, want %s", tt.filename, got, tt.expected)
			}
		})
	}
}

func TestLoaderEmptyDirectory(t *testing.T) {
	_, err := LoadFromDir(NewWASMLoader(), t.TempDir())
	if !errors.Is(err, ErrNoPolicies) {
		t.Errorf("expected ErrNoPolicies, got %v", err)
	}
}

func TestLoaderInvalidWASM(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "invalid.wasm"), []byte("not wasm"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadFromDir(NewWASMLoader(), dir)
	if !errors.Is(err, ErrNoPolicies) {
		t.Errorf("expected invalid module to be skipped, got %v", err)
	}
}

func TestLuaPlugin(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "sql_guard.lua", `
function check(check_type, params, context)
  if check_type ~= "sql" then
    return nil
  end
  if string.find(string.lower(params.query), "union select", 1, true) then
    return {action = "block", message = "sql injection from " .. context.url, confidence = 90}
  end
  return {action = "log", message = "sql seen"}
end
`)
	writePlugin(t, dir, "README.txt", "not a plugin")

	evaluators, err := LoadFromDir(NewLuaLoader(), dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	eval, ok := evaluators["sql_guard"]
	if !ok {
		t.Fatalf("expected sql_guard plugin, got %v", evaluators)
	}
	defer eval.Close()

	req := Request{
		CheckType: "sql",
		Params:    map[string]any{"query": "SELECT a FROM t UNION SELECT password FROM users"},
		Context:   Info{URL: "/login"},
	}
	resp, err := eval.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if resp.Action != "block" || resp.Confidence != 90 || resp.Name != "sql_guard" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Message != "sql injection from /login" {
		t.Errorf("unexpected message: %s", resp.Message)
	}

	req.CheckType = "include"
	resp, err = eval.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if resp.Action != "" {
		t.Errorf("expected no action for include, got %q", resp.Action)
	}
}

func TestLuaSandbox(t *testing.T) {
	_, err := NewLuaEvaluator("escape", `os.execute("true")
function check() return nil end`)
	if err == nil {
		t.Error("expected os library to be unavailable")
	}

	_, err = NewLuaEvaluator("empty", `local x = 1`)
	if err == nil {
		t.Error("expected error when check() is missing")
	}
}

func TestLuaEvaluatorClosed(t *testing.T) {
	eval, err := NewLuaEvaluator("p", `function check() return "log" end`)
	if err != nil {
		t.Fatal(err)
	}
	eval.Close()

	if _, err := eval.Evaluate(context.Background(), Request{}); err == nil {
		t.Error("expected error from closed plugin")
	}
}

func TestRegoPlugin(t *testing.T) {
	eval, err := NewRegoEvaluator("include_guard", `package rasp

verdict := {"action": "block", "message": "remote include", "name": "rego-include"} if {
	input.check_type == "include"
	startswith(input.params.url, "http://")
}
`)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	resp, err := eval.Evaluate(context.Background(), Request{
		CheckType: "include",
		Params:    map[string]any{"url": "http://evil.example/shell.txt"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if resp.Action != "block" || resp.Name != "rego-include" {
		t.Errorf("unexpected response: %+v", resp)
	}

	resp, err = eval.Evaluate(context.Background(), Request{
		CheckType: "include",
		Params:    map[string]any{"url": "/var/www/html/header.php"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if resp.Action != "" || resp.Name != "include_guard" {
		t.Errorf("expected undefined verdict, got %+v", resp)
	}
}

func TestRegoInvalidModule(t *testing.T) {
	if _, err := NewRegoEvaluator("bad", "package rasp\nverdict := {"); err == nil {
		t.Error("expected compile error")
	}
}

func TestParseResponse(t *testing.T) {
	resp, err := parseResponse("p", []byte(`{"action":"log","confidence":40}`))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Action != "log" || resp.Confidence != 40 || resp.Name != "p" {
		t.Errorf("unexpected response: %+v", resp)
	}

	if _, err := parseResponse("p", []byte(`{"action":`)); err == nil {
		t.Error("expected invalid json error")
	}
}
