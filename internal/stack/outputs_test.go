package stack

import (
	"context"
	"reflect"
	"testing"
)

func TestReconcileOutputs(t *testing.T) {
	plaintext := map[string]interface{}{
		"url":      "https://example.com",
		"password": "hunter2",
		"count":    float64(3),
		"nested":   map[string]interface{}{"a": "b"},
	}
	masked := map[string]interface{}{
		"url":      "https://example.com",
		"password": "[secret]",
		"count":    float64(3),
		"nested":   map[string]interface{}{"a": "b"},
		"phantom":  "only in masked view",
	}

	got := reconcileOutputs(plaintext, masked)

	if len(got) != len(plaintext) {
		t.Fatalf("key set = %d entries, want the plaintext view's %d", len(got), len(plaintext))
	}
	if _, ok := got["phantom"]; ok {
		t.Fatal("masked-only key leaked into the result")
	}
	if v := got["password"]; !v.Secret || v.Value != "hunter2" {
		t.Fatalf("password = %+v, want secret=true value from plaintext", v)
	}
	for _, k := range []string{"url", "count", "nested"} {
		if got[k].Secret {
			t.Fatalf("%s flagged secret without the sentinel", k)
		}
	}
	if !reflect.DeepEqual(got["nested"].Value, plaintext["nested"]) {
		t.Fatalf("nested value = %v", got["nested"].Value)
	}
}

func TestReconcileOutputs_SentinelMustBeExact(t *testing.T) {
	plaintext := map[string]interface{}{"a": "x", "b": "y", "c": "[secret]"}
	masked := map[string]interface{}{"a": "[SECRET]", "b": " [secret]", "c": "[secret]"}
	got := reconcileOutputs(plaintext, masked)
	if got["a"].Secret || got["b"].Secret {
		t.Fatalf("near-miss sentinels must not classify as secret: %+v", got)
	}
	// A plaintext value that happens to equal the sentinel is still secret
	// when the masked view says so.
	if !got["c"].Secret {
		t.Fatal("exact sentinel in masked view must classify as secret")
	}
}

func TestOutputs_ParallelQueriesAndFreshness(t *testing.T) {
	ws := newFakeWorkspace()
	ws.runner.handler = respondByCommand(
		`[]`,
		`{"token":"[secret]","region":"us-east-1"}`,
		`{"token":"tok-123","region":"us-east-1"}`,
	)
	s := mustStack(t, ws)

	out, err := s.Outputs(context.Background())
	if err != nil {
		t.Fatalf("outputs: %v", err)
	}
	if v := out["token"]; !v.Secret || v.Value != "tok-123" {
		t.Fatalf("token = %+v", v)
	}
	if v := out["region"]; v.Secret || v.Value != "us-east-1" {
		t.Fatalf("region = %+v", v)
	}
	if ws.runner.callCount() != 2 {
		t.Fatalf("engine calls = %d, want one masked and one plaintext query", ws.runner.callCount())
	}

	// Never cached: a second call issues fresh queries.
	if _, err := s.Outputs(context.Background()); err != nil {
		t.Fatalf("outputs: %v", err)
	}
	if ws.runner.callCount() != 4 {
		t.Fatalf("engine calls = %d, want fresh queries per call", ws.runner.callCount())
	}
}

func TestOutputs_EmptyStdout(t *testing.T) {
	ws := newFakeWorkspace()
	ws.runner.handler = respondByCommand(`[]`, ``, ``)
	s := mustStack(t, ws)

	out, err := s.Outputs(context.Background())
	if err != nil {
		t.Fatalf("outputs: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("out = %v, want empty", out)
	}
}

func TestOutputs_ParseFailureIsFatal(t *testing.T) {
	ws := newFakeWorkspace()
	ws.runner.handler = respondByCommand(`[]`, `{not json`, `{not json`)
	s := mustStack(t, ws)

	if _, err := s.Outputs(context.Background()); err == nil {
		t.Fatal("expected parse error to propagate")
	}
}
