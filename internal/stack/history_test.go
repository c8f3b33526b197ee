package stack

import (
	"context"
	"reflect"
	"testing"
)

const historyJSON = `[
  {
    "kind": "update",
    "startTime": "2024-03-01T10:00:00.000Z",
    "message": "second deploy",
    "environment": {"exec.kind": "auto.local"},
    "config": {"aws:region": {"value": "us-east-1", "secret": false}},
    "result": "succeeded",
    "endTime": "2024-03-01T10:01:30.000Z",
    "version": 2,
    "resourceChanges": {"same": 3, "update": 1}
  },
  {
    "kind": "update",
    "startTime": "2024-02-01T09:00:00.000Z",
    "message": "first deploy",
    "environment": {},
    "config": {},
    "result": "failed",
    "endTime": "2024-02-01T09:00:40.000Z",
    "version": 1,
    "resourceChanges": {"create": 4}
  }
]`

func TestHistory_ParsesEngineOrderVerbatim(t *testing.T) {
	ws := newFakeWorkspace()
	ws.runner.handler = respondByCommand(historyJSON, `{}`, `{}`)
	s := mustStack(t, ws)

	records, err := s.History(context.Background())
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].Version != 2 || records[1].Version != 1 {
		t.Fatalf("order not preserved: %d, %d", records[0].Version, records[1].Version)
	}
	first := records[0]
	if first.Kind != UpdateKindUpdate || first.Result != StatusSucceeded {
		t.Fatalf("first = %+v", first)
	}
	if first.Config["aws:region"].Value != "us-east-1" {
		t.Fatalf("config = %+v", first.Config)
	}
	want := map[OpType]int{OpSame: 3, OpUpdate: 1}
	if !reflect.DeepEqual(first.ResourceChanges, want) {
		t.Fatalf("changes = %v, want %v", first.ResourceChanges, want)
	}

	args := ws.runner.calls[0].Args
	wantArgs := []string{"history", "--json", "--show-secrets"}
	if !reflect.DeepEqual(args, wantArgs) {
		t.Fatalf("history args = %v, want %v", args, wantArgs)
	}
}

func TestInfo_FirstRecordIsCurrent(t *testing.T) {
	ws := newFakeWorkspace()
	ws.runner.handler = respondByCommand(historyJSON, `{}`, `{}`)
	s := mustStack(t, ws)

	info, err := s.Info(context.Background())
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info == nil || info.Version != 2 || info.Message != "second deploy" {
		t.Fatalf("info = %+v, want the first history element", info)
	}
}

func TestInfo_EmptyHistoryIsExplicitAbsence(t *testing.T) {
	for _, stdout := range []string{`[]`, ``, `null`} {
		ws := newFakeWorkspace()
		ws.runner.handler = respondByCommand(stdout, `{}`, `{}`)
		s := mustStack(t, ws)

		info, err := s.Info(context.Background())
		if err != nil {
			t.Fatalf("stdout %q: info: %v", stdout, err)
		}
		if info != nil {
			t.Fatalf("stdout %q: info = %+v, want nil", stdout, info)
		}
	}
}

func TestHistory_ParseFailureIsFatal(t *testing.T) {
	ws := newFakeWorkspace()
	ws.runner.handler = respondByCommand(`{"not":"a list"}`, `{}`, `{}`)
	s := mustStack(t, ws)

	if _, err := s.History(context.Background()); err == nil {
		t.Fatal("expected parse failure to propagate")
	}
}

func TestUp_ResultCarriesSummaryAndOutputs(t *testing.T) {
	ws := newFakeWorkspace()
	ws.runner.handler = respondByCommand(historyJSON, `{"key":"[secret]"}`, `{"key":"val"}`)
	s := mustStack(t, ws)

	res, err := s.Up(context.Background(), UpOptions{})
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	if res.Summary == nil || res.Summary.Version != 2 {
		t.Fatalf("summary = %+v", res.Summary)
	}
	if v := res.Outputs["key"]; !v.Secret || v.Value != "val" {
		t.Fatalf("outputs = %+v", res.Outputs)
	}
}

func TestUp_NoHistoryYieldsNilSummary(t *testing.T) {
	ws := newFakeWorkspace()
	ws.runner.handler = respondByCommand(`[]`, `{}`, `{}`)
	s := mustStack(t, ws)

	res, err := s.Up(context.Background(), UpOptions{})
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	if res.Summary != nil {
		t.Fatalf("summary = %+v, want nil (no fabricated record)", res.Summary)
	}
}
