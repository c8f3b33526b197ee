// Package stack orchestrates lifecycle operations against a named deployment
// stack: it sequences select/execute/post-hook steps, translates typed
// options into engine arguments, reconciles masked and plaintext output
// views, and derives summaries from the engine's history feed.
//
// A Stack serializes its own operations with an internal mutex, but two
// Stack instances sharing one Workspace and name still race on the
// workspace's selected-stack state; callers must serialize across instances.
package stack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kubekattle/stackctl/internal/engine"
)

// secretSentinel is the literal the masked output view substitutes for
// redacted values.
const secretSentinel = "[secret]"

// InitMode governs how a Stack's backing state is established at
// construction. It is not retained afterwards.
type InitMode string

const (
	InitCreate InitMode = "create"
	InitSelect InitMode = "select"
	InitUpsert InitMode = "upsert"
)

// FullyQualifiedStackName combines an organization, project, and stack name
// into the engine's org/project/stack form.
func FullyQualifiedStackName(org, project, stack string) string {
	return fmt.Sprintf("%s/%s/%s", org, project, stack)
}

// Stack binds a stack name to a Workspace and exposes the deployment
// lifecycle. Construct one with New, Select, or Upsert; the returned Stack is
// ready for operations. Discard the reference when done; there is no
// teardown step.
type Stack struct {
	name string
	ws   Workspace

	// mu enforces the single-operation-per-stack invariant for this
	// instance: select, execute, post-hook, and result gathering run as one
	// exclusive sequence.
	mu sync.Mutex
}

// New creates the stack in the workspace and fails if it already exists.
func New(ctx context.Context, name string, ws Workspace) (*Stack, error) {
	return Init(ctx, name, ws, InitCreate)
}

// Select binds to an existing stack and fails if it is absent.
func Select(ctx context.Context, name string, ws Workspace) (*Stack, error) {
	return Init(ctx, name, ws, InitSelect)
}

// Upsert creates the stack, falling back to selecting it when the create
// failure classifies as ErrStackAlreadyExists. Any other create failure, and
// any select failure, propagates.
func Upsert(ctx context.Context, name string, ws Workspace) (*Stack, error) {
	return Init(ctx, name, ws, InitUpsert)
}

// Init establishes the stack according to mode. Unrecognized modes fail
// without touching the workspace.
func Init(ctx context.Context, name string, ws Workspace, mode InitMode) (*Stack, error) {
	if name == "" {
		return nil, fmt.Errorf("stack name must not be empty")
	}
	if ws == nil {
		return nil, fmt.Errorf("workspace must not be nil")
	}
	s := &Stack{name: name, ws: ws}
	switch mode {
	case InitCreate:
		if err := ws.CreateStack(ctx, name); err != nil {
			return nil, err
		}
	case InitSelect:
		if err := ws.SelectStack(ctx, name); err != nil {
			return nil, err
		}
	case InitUpsert:
		err := ws.CreateStack(ctx, name)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrStackAlreadyExists) {
			return nil, err
		}
		if err := ws.SelectStack(ctx, name); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unexpected stack init mode %q", mode)
	}
	return s, nil
}

// Name returns the stack's (possibly fully qualified) name.
func (s *Stack) Name() string { return s.name }

// Workspace returns the workspace this stack operates against.
func (s *Stack) Workspace() Workspace { return s.ws }

// Up deploys the stack's program, creating or updating resources. Engine
// output streams to opts.OnOutput as it is produced. On success the result
// carries the freshest update summary and a newly reconciled output map.
func (s *Stack) Up(ctx context.Context, opts UpOptions) (UpResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.Program != nil {
		return UpResult{}, inlineProgramErr()
	}
	args := append([]string{"up", "--yes", "--skip-preview"}, opts.flags()...)
	args = append(args, "--exec-kind", ExecKindLocal)

	res, err := s.execute(ctx, args, opts.OnOutput)
	if err != nil {
		return UpResult{}, err
	}

	// History and outputs are independent reads; fetch them concurrently,
	// both strictly after process completion.
	var (
		summary *UpdateSummary
		outputs OutputMap
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		summary, err = s.info(egCtx)
		return err
	})
	eg.Go(func() error {
		var err error
		outputs, err = s.outputs(egCtx)
		return err
	})
	if err := eg.Wait(); err != nil {
		return UpResult{}, err
	}
	return UpResult{Stdout: res.Stdout, Stderr: res.Stderr, Outputs: outputs, Summary: summary}, nil
}

// Preview computes the changes an Up would apply without applying them.
func (s *Stack) Preview(ctx context.Context, opts PreviewOptions) (PreviewResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.Program != nil {
		return PreviewResult{}, inlineProgramErr()
	}
	args := append([]string{"preview"}, opts.flags()...)
	args = append(args, "--exec-kind", ExecKindLocal)

	res, err := s.execute(ctx, args, nil)
	if err != nil {
		return PreviewResult{}, err
	}
	summary, err := s.info(ctx)
	if err != nil {
		return PreviewResult{}, err
	}
	return PreviewResult{Stdout: res.Stdout, Stderr: res.Stderr, Summary: summary}, nil
}

// Refresh reconciles the stack's recorded state with the actual state of the
// deployed resources.
func (s *Stack) Refresh(ctx context.Context, opts RefreshOptions) (RefreshResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	args := append([]string{"refresh", "--yes", "--skip-preview"}, opts.flags()...)
	res, err := s.execute(ctx, args, nil)
	if err != nil {
		return RefreshResult{}, err
	}
	summary, err := s.info(ctx)
	if err != nil {
		return RefreshResult{}, err
	}
	return RefreshResult{Stdout: res.Stdout, Stderr: res.Stderr, Summary: summary}, nil
}

// Destroy deletes all resources in the stack. The stack itself remains in
// the workspace afterwards.
func (s *Stack) Destroy(ctx context.Context, opts DestroyOptions) (DestroyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	args := append([]string{"destroy", "--yes", "--skip-preview"}, opts.flags()...)
	res, err := s.execute(ctx, args, nil)
	if err != nil {
		return DestroyResult{}, err
	}
	summary, err := s.info(ctx)
	if err != nil {
		return DestroyResult{}, err
	}
	return DestroyResult{Stdout: res.Stdout, Stderr: res.Stderr, Summary: summary}, nil
}

// execute is the common lifecycle sequence: re-assert selection, run the
// engine with workspace-augmented arguments and environment, then await the
// workspace's post-command hook.
func (s *Stack) execute(ctx context.Context, args []string, onOutput func(string)) (engine.Result, error) {
	if err := s.ws.SelectStack(ctx, s.name); err != nil {
		return engine.Result{}, fmt.Errorf("select stack %q: %w", s.name, err)
	}
	res, err := s.run(ctx, args, onOutput)
	if err != nil {
		return engine.Result{}, err
	}
	if err := s.ws.PostCommandCallback(ctx, s.name); err != nil {
		return engine.Result{}, fmt.Errorf("post-command callback: %w", err)
	}
	return res, nil
}

// run invokes the execution endpoint with workspace argument and environment
// augmentation applied.
func (s *Stack) run(ctx context.Context, args []string, onOutput func(string)) (engine.Result, error) {
	extra, err := s.ws.SerializedArgs(ctx, s.name)
	if err != nil {
		return engine.Result{}, fmt.Errorf("serialize workspace args: %w", err)
	}
	env := map[string]string{}
	if home := s.ws.PulumiHome(); home != "" {
		env["PULUMI_HOME"] = home
	}
	for k, v := range s.ws.EnvVars() {
		env[k] = v
	}
	return s.ws.Runner().Run(ctx, engine.Request{
		Args:     append(args, extra...),
		Dir:      s.ws.WorkDir(),
		Env:      env,
		OnOutput: onOutput,
	})
}

// Outputs returns the stack's current outputs with per-key secret
// classification. Two engine queries (masked and plaintext) run in
// parallel; the plaintext view's key set is canonical, and a key is secret
// exactly when the masked view shows the redaction sentinel for it.
func (s *Stack) Outputs(ctx context.Context) (OutputMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ws.SelectStack(ctx, s.name); err != nil {
		return nil, fmt.Errorf("select stack %q: %w", s.name, err)
	}
	return s.outputs(ctx)
}

func (s *Stack) outputs(ctx context.Context) (OutputMap, error) {
	var masked, plaintext map[string]interface{}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		masked, err = s.queryOutputs(egCtx, false)
		return err
	})
	eg.Go(func() error {
		var err error
		plaintext, err = s.queryOutputs(egCtx, true)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return reconcileOutputs(plaintext, masked), nil
}

func (s *Stack) queryOutputs(ctx context.Context, showSecrets bool) (map[string]interface{}, error) {
	args := []string{"stack", "output", "--json"}
	if showSecrets {
		args = append(args, "--show-secrets")
	}
	res, err := s.run(ctx, args, nil)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{}
	stdout := strings.TrimSpace(res.Stdout)
	if stdout == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		return nil, fmt.Errorf("parse stack outputs: %w", err)
	}
	return out, nil
}

// reconcileOutputs merges the plaintext and masked views of one output set.
// A false negative on the secret flag is a credential leak, so the sentinel
// comparison is exact. Keys present only in the masked view are ignored.
func reconcileOutputs(plaintext, masked map[string]interface{}) OutputMap {
	out := make(OutputMap, len(plaintext))
	for key, value := range plaintext {
		secret := false
		if mv, ok := masked[key]; ok {
			if str, ok := mv.(string); ok && str == secretSentinel {
				secret = true
			}
		}
		out[key] = OutputValue{Value: value, Secret: secret}
	}
	return out
}

// History returns the stack's update records in the order the engine reports
// them; the engine's ordering (most recent first) is trusted verbatim.
func (s *Stack) History(ctx context.Context) ([]UpdateSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ws.SelectStack(ctx, s.name); err != nil {
		return nil, fmt.Errorf("select stack %q: %w", s.name, err)
	}
	return s.history(ctx)
}

func (s *Stack) history(ctx context.Context) ([]UpdateSummary, error) {
	res, err := s.run(ctx, []string{"history", "--json", "--show-secrets"}, nil)
	if err != nil {
		return nil, err
	}
	stdout := strings.TrimSpace(res.Stdout)
	if stdout == "" || stdout == "null" {
		return nil, nil
	}
	var records []UpdateSummary
	if err := json.Unmarshal([]byte(stdout), &records); err != nil {
		return nil, fmt.Errorf("parse stack history: %w", err)
	}
	return records, nil
}

// Info returns the most recent update summary, or nil when the stack has no
// history. It never fabricates a record.
func (s *Stack) Info(ctx context.Context) (*UpdateSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ws.SelectStack(ctx, s.name); err != nil {
		return nil, fmt.Errorf("select stack %q: %w", s.name, err)
	}
	return s.info(ctx)
}

func (s *Stack) info(ctx context.Context) (*UpdateSummary, error) {
	records, err := s.history(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	first := records[0]
	return &first, nil
}

// GetConfig reads one configuration value scoped to this stack.
func (s *Stack) GetConfig(ctx context.Context, key string) (ConfigValue, error) {
	return s.ws.GetConfig(ctx, s.name, key)
}

// GetAllConfig reads the stack's full configuration map.
func (s *Stack) GetAllConfig(ctx context.Context) (ConfigMap, error) {
	return s.ws.GetAllConfig(ctx, s.name)
}

// SetConfig writes one configuration value scoped to this stack.
func (s *Stack) SetConfig(ctx context.Context, key string, value ConfigValue) error {
	return s.ws.SetConfig(ctx, s.name, key, value)
}

// SetAllConfig writes every entry of cfg into the stack's configuration.
func (s *Stack) SetAllConfig(ctx context.Context, cfg ConfigMap) error {
	return s.ws.SetAllConfig(ctx, s.name, cfg)
}

// RemoveConfig deletes one configuration key.
func (s *Stack) RemoveConfig(ctx context.Context, key string) error {
	return s.ws.RemoveConfig(ctx, s.name, key)
}

// RemoveAllConfig deletes every named configuration key.
func (s *Stack) RemoveAllConfig(ctx context.Context, keys []string) error {
	return s.ws.RemoveAllConfig(ctx, s.name, keys)
}

// RefreshConfig reloads the stack's configuration from the backend and
// returns the refreshed map.
func (s *Stack) RefreshConfig(ctx context.Context) (ConfigMap, error) {
	return s.ws.RefreshConfig(ctx, s.name)
}

func inlineProgramErr() error {
	return fmt.Errorf("inline programs (exec kind %q) are not implemented; register the program with the workspace work dir instead", ExecKindInline)
}
