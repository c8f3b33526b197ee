package stack

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kubekattle/stackctl/internal/engine"
)

// fakeRunner records every request and answers via handler. Lifecycle
// operations query history and outputs concurrently, so access is locked.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []engine.Request
	handler func(req engine.Request) (engine.Result, error)
}

func (f *fakeRunner) Run(_ context.Context, req engine.Request) (engine.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.handler != nil {
		return f.handler(req)
	}
	return engine.Result{}, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeWorkspace is an in-memory stack.Workspace whose engine calls go to a
// fakeRunner and whose lifecycle steps are recorded in order.
type fakeWorkspace struct {
	runner    *fakeRunner
	workDir   string
	home      string
	env       map[string]string
	extraArgs []string

	stepMu    sync.Mutex
	steps     []string
	createErr error
	selectErr error
	postErr   error

	config map[string]ConfigValue
}

func newFakeWorkspace() *fakeWorkspace {
	return &fakeWorkspace{
		runner:  &fakeRunner{},
		workDir: "/proj",
		config:  map[string]ConfigValue{},
	}
}

func (w *fakeWorkspace) WorkDir() string              { return w.workDir }
func (w *fakeWorkspace) PulumiHome() string           { return w.home }
func (w *fakeWorkspace) EnvVars() map[string]string   { return w.env }
func (w *fakeWorkspace) Runner() engine.CommandRunner { return w.runner }

func (w *fakeWorkspace) SerializedArgs(context.Context, string) ([]string, error) {
	return w.extraArgs, nil
}

func (w *fakeWorkspace) recordStep(step string) {
	w.stepMu.Lock()
	w.steps = append(w.steps, step)
	w.stepMu.Unlock()
}

func (w *fakeWorkspace) stepsSnapshot() []string {
	w.stepMu.Lock()
	defer w.stepMu.Unlock()
	return append([]string(nil), w.steps...)
}

func (w *fakeWorkspace) PostCommandCallback(_ context.Context, name string) error {
	w.recordStep("post:" + name)
	return w.postErr
}

func (w *fakeWorkspace) CreateStack(_ context.Context, name string) error {
	w.recordStep("create:" + name)
	return w.createErr
}

func (w *fakeWorkspace) SelectStack(_ context.Context, name string) error {
	w.recordStep("select:" + name)
	return w.selectErr
}

func (w *fakeWorkspace) GetConfig(_ context.Context, _, key string) (ConfigValue, error) {
	v, ok := w.config[key]
	if !ok {
		return ConfigValue{}, fmt.Errorf("missing key %q", key)
	}
	return v, nil
}

func (w *fakeWorkspace) GetAllConfig(context.Context, string) (ConfigMap, error) {
	out := ConfigMap{}
	for k, v := range w.config {
		out[k] = v
	}
	return out, nil
}

func (w *fakeWorkspace) SetConfig(_ context.Context, _, key string, value ConfigValue) error {
	w.config[key] = value
	return nil
}

func (w *fakeWorkspace) SetAllConfig(ctx context.Context, name string, cfg ConfigMap) error {
	for k, v := range cfg {
		if err := w.SetConfig(ctx, name, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (w *fakeWorkspace) RemoveConfig(_ context.Context, _, key string) error {
	delete(w.config, key)
	return nil
}

func (w *fakeWorkspace) RemoveAllConfig(ctx context.Context, name string, keys []string) error {
	for _, k := range keys {
		if err := w.RemoveConfig(ctx, name, k); err != nil {
			return err
		}
	}
	return nil
}

func (w *fakeWorkspace) RefreshConfig(ctx context.Context, name string) (ConfigMap, error) {
	return w.GetAllConfig(ctx, name)
}

// respondByCommand answers history/output queries with canned JSON and lets
// everything else succeed empty.
func respondByCommand(history, masked, plaintext string) func(engine.Request) (engine.Result, error) {
	return func(req engine.Request) (engine.Result, error) {
		switch {
		case req.Args[0] == "history":
			return engine.Result{Stdout: history}, nil
		case req.Args[0] == "stack" && req.Args[1] == "output":
			if hasArg(req.Args, "--show-secrets") {
				return engine.Result{Stdout: plaintext}, nil
			}
			return engine.Result{Stdout: masked}, nil
		default:
			return engine.Result{}, nil
		}
	}
}

func hasArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func TestFullyQualifiedStackName(t *testing.T) {
	if got := FullyQualifiedStackName("o", "p", "s"); got != "o/p/s" {
		t.Fatalf("got %q, want o/p/s", got)
	}
}

func TestInit_UnexpectedMode(t *testing.T) {
	ws := newFakeWorkspace()
	if _, err := Init(context.Background(), "dev", ws, InitMode("adopt")); err == nil || !strings.Contains(err.Error(), "unexpected stack init mode") {
		t.Fatalf("err = %v, want unexpected init mode error", err)
	}
	if len(ws.steps) != 0 {
		t.Fatalf("workspace touched on invalid mode: %v", ws.steps)
	}
}

func TestUpsert_CreatesWhenAbsent(t *testing.T) {
	ws := newFakeWorkspace()
	if _, err := Upsert(context.Background(), "dev", ws); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if want := []string{"create:dev"}; !reflect.DeepEqual(ws.steps, want) {
		t.Fatalf("steps = %v, want %v", ws.steps, want)
	}
}

func TestUpsert_SelectsWhenAlreadyExists(t *testing.T) {
	ws := newFakeWorkspace()
	ws.createErr = fmt.Errorf("create dev: %w", ErrStackAlreadyExists)
	if _, err := Upsert(context.Background(), "dev", ws); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if want := []string{"create:dev", "select:dev"}; !reflect.DeepEqual(ws.steps, want) {
		t.Fatalf("steps = %v, want %v", ws.steps, want)
	}
}

func TestUpsert_PropagatesUnrelatedCreateFailure(t *testing.T) {
	ws := newFakeWorkspace()
	ws.createErr = errors.New("403: not authorized")
	_, err := Upsert(context.Background(), "dev", ws)
	if err == nil || !strings.Contains(err.Error(), "not authorized") {
		t.Fatalf("err = %v, want the create failure", err)
	}
	if want := []string{"create:dev"}; !reflect.DeepEqual(ws.steps, want) {
		t.Fatalf("steps = %v (select must not run after a non-conflict failure)", ws.steps)
	}
}

func TestSelect_PropagatesAbsence(t *testing.T) {
	ws := newFakeWorkspace()
	ws.selectErr = errors.New("no stack named dev")
	if _, err := Select(context.Background(), "dev", ws); err == nil {
		t.Fatal("expected select failure to propagate")
	}
}

func mustStack(t *testing.T, ws *fakeWorkspace) *Stack {
	t.Helper()
	s, err := Upsert(context.Background(), "dev", ws)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	ws.steps = nil
	return s
}

func TestUp_ArgumentListAndSequencing(t *testing.T) {
	ws := newFakeWorkspace()
	ws.extraArgs = []string{"--color", "never"}
	ws.runner.handler = respondByCommand(`[]`, `{}`, `{}`)
	s := mustStack(t, ws)

	_, err := s.Up(context.Background(), UpOptions{Message: "m", Target: []string{"urn:a"}})
	if err != nil {
		t.Fatalf("up: %v", err)
	}

	first := ws.runner.calls[0]
	want := []string{
		"up", "--yes", "--skip-preview",
		"--message", "m",
		"--target", "urn:a",
		"--exec-kind", "auto.local",
		"--color", "never",
	}
	if !reflect.DeepEqual(first.Args, want) {
		t.Fatalf("up args = %v, want %v", first.Args, want)
	}
	if first.Dir != "/proj" {
		t.Fatalf("dir = %q", first.Dir)
	}
	// select happens before the command; the post hook after it.
	if want := []string{"select:dev", "post:dev"}; !reflect.DeepEqual(ws.steps, want) {
		t.Fatalf("steps = %v, want %v", ws.steps, want)
	}
	// up, then history + two output queries.
	if ws.runner.callCount() != 4 {
		t.Fatalf("engine calls = %d, want 4", ws.runner.callCount())
	}
}

func TestLifecycleOperationsSerializePerStack(t *testing.T) {
	ws := newFakeWorkspace()
	var inFlight, overlapped atomic.Int32
	ws.runner.handler = func(req engine.Request) (engine.Result, error) {
		if inFlight.Add(1) > 1 {
			overlapped.Store(1)
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		if req.Args[0] == "history" {
			return engine.Result{Stdout: `[]`}, nil
		}
		return engine.Result{}, nil
	}
	s := mustStack(t, ws)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Refresh(context.Background(), RefreshOptions{}); err != nil {
				t.Errorf("refresh: %v", err)
			}
		}()
	}
	wg.Wait()

	if overlapped.Load() != 0 {
		t.Fatal("engine invocations from concurrent operations overlapped")
	}
	// Each operation's select/execute/post sequence runs exclusively, so the
	// step log is three whole select,post pairs with no interleaving.
	steps := ws.stepsSnapshot()
	want := []string{
		"select:dev", "post:dev",
		"select:dev", "post:dev",
		"select:dev", "post:dev",
	}
	if !reflect.DeepEqual(steps, want) {
		t.Fatalf("steps = %v, want %v", steps, want)
	}
}

func TestUp_EnvironmentMerging(t *testing.T) {
	ws := newFakeWorkspace()
	ws.home = "/custom/home"
	ws.env = map[string]string{"PULUMI_HOME": "/ws/home", "FOO": "bar"}
	ws.runner.handler = respondByCommand(`[]`, `{}`, `{}`)
	s := mustStack(t, ws)

	if _, err := s.Up(context.Background(), UpOptions{}); err != nil {
		t.Fatalf("up: %v", err)
	}
	env := ws.runner.calls[0].Env
	// Workspace env vars win over the home-derived override.
	if env["PULUMI_HOME"] != "/ws/home" {
		t.Fatalf("PULUMI_HOME = %q, want workspace value", env["PULUMI_HOME"])
	}
	if env["FOO"] != "bar" {
		t.Fatalf("FOO = %q", env["FOO"])
	}
}

func TestUp_InlineProgramFailsBeforeSpawn(t *testing.T) {
	ws := newFakeWorkspace()
	s := mustStack(t, ws)

	_, err := s.Up(context.Background(), UpOptions{Program: func() error { return nil }})
	if err == nil || !strings.Contains(err.Error(), "not implemented") {
		t.Fatalf("err = %v, want not-implemented", err)
	}
	if len(ws.runner.calls) != 0 {
		t.Fatalf("engine spawned %d times, want 0", len(ws.runner.calls))
	}
	if len(ws.steps) != 0 {
		t.Fatalf("workspace touched: %v", ws.steps)
	}
}

func TestPreview_InlineProgramFailsBeforeSpawn(t *testing.T) {
	ws := newFakeWorkspace()
	s := mustStack(t, ws)

	_, err := s.Preview(context.Background(), PreviewOptions{Program: func() error { return nil }})
	if err == nil || !strings.Contains(err.Error(), "not implemented") {
		t.Fatalf("err = %v, want not-implemented", err)
	}
	if len(ws.runner.calls) != 0 {
		t.Fatalf("engine spawned %d times, want 0", len(ws.runner.calls))
	}
}

func TestPreview_BaseArgs(t *testing.T) {
	ws := newFakeWorkspace()
	ws.runner.handler = respondByCommand(`[]`, `{}`, `{}`)
	s := mustStack(t, ws)

	if _, err := s.Preview(context.Background(), PreviewOptions{}); err != nil {
		t.Fatalf("preview: %v", err)
	}
	want := []string{"preview", "--exec-kind", "auto.local"}
	if got := ws.runner.calls[0].Args; !reflect.DeepEqual(got, want) {
		t.Fatalf("args = %v, want %v", got, want)
	}
}

func TestRefreshAndDestroy_BaseArgs(t *testing.T) {
	ws := newFakeWorkspace()
	ws.runner.handler = respondByCommand(`[]`, `{}`, `{}`)
	s := mustStack(t, ws)

	if _, err := s.Refresh(context.Background(), RefreshOptions{}); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if want := []string{"refresh", "--yes", "--skip-preview"}; !reflect.DeepEqual(ws.runner.calls[0].Args, want) {
		t.Fatalf("refresh args = %v, want %v", ws.runner.calls[0].Args, want)
	}

	ws.runner.calls = nil
	if _, err := s.Destroy(context.Background(), DestroyOptions{}); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if want := []string{"destroy", "--yes", "--skip-preview"}; !reflect.DeepEqual(ws.runner.calls[0].Args, want) {
		t.Fatalf("destroy args = %v, want %v", ws.runner.calls[0].Args, want)
	}
}

func TestUp_ExecutionFailurePropagatesWithoutPostHook(t *testing.T) {
	ws := newFakeWorkspace()
	bang := &engine.CommandError{Args: []string{"up"}, Result: engine.Result{Stderr: "boom"}, Err: errors.New("exit 255")}
	ws.runner.handler = func(engine.Request) (engine.Result, error) {
		return engine.Result{}, bang
	}
	s := mustStack(t, ws)

	_, err := s.Up(context.Background(), UpOptions{})
	var cmdErr *engine.CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("err = %v, want CommandError", err)
	}
	for _, step := range ws.steps {
		if step == "post:dev" {
			t.Fatal("post hook ran after a failed execution")
		}
	}
}

func TestConfigProxy_RoundTrip(t *testing.T) {
	ws := newFakeWorkspace()
	s := mustStack(t, ws)
	ctx := context.Background()

	if err := s.SetConfig(ctx, "db:password", ConfigValue{Value: "hunter2", Secret: true}); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.GetConfig(ctx, "db:password")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Value != "hunter2" || !got.Secret {
		t.Fatalf("got %+v", got)
	}

	if err := s.RemoveConfig(ctx, "db:password"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := s.GetConfig(ctx, "db:password"); err == nil {
		t.Fatal("expected missing key after remove")
	}
}
