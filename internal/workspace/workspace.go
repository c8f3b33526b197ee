// Package workspace implements the local filesystem workspace: the owner of
// project and stack settings files, environment defaults, and the stack
// lifecycle and configuration primitives the orchestrator consumes.
package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	shellwords "github.com/mattn/go-shellwords"
	homedir "github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/kubekattle/stackctl/internal/engine"
	"github.com/kubekattle/stackctl/internal/stack"
)

// LocalWorkspace drives the deployment engine against a project directory on
// the local filesystem. It satisfies stack.Workspace. One LocalWorkspace may
// back many Stack instances; its selected-stack state is shared across them.
type LocalWorkspace struct {
	workDir      string
	pulumiHome   string
	envVars      map[string]string
	extraArgsRaw string
	engineBin    string
	runner       engine.CommandRunner
	log          *zap.Logger

	mu            sync.Mutex
	extraArgs     []string
	extraParsed   bool
	stackSettings map[string]*StackSettings
}

// Option configures a LocalWorkspace at construction.
type Option func(*LocalWorkspace)

// WithPulumiHome overrides the engine's home directory. A leading ~ is
// expanded.
func WithPulumiHome(dir string) Option {
	return func(w *LocalWorkspace) { w.pulumiHome = dir }
}

// WithEnvVars sets environment variables applied to every engine invocation.
func WithEnvVars(env map[string]string) Option {
	return func(w *LocalWorkspace) { w.envVars = env }
}

// WithRunner injects a command runner; used by tests and by callers that
// already configured one.
func WithRunner(r engine.CommandRunner) Option {
	return func(w *LocalWorkspace) { w.runner = r }
}

// WithEngineBin points the workspace at a specific engine binary.
func WithEngineBin(bin string) Option {
	return func(w *LocalWorkspace) { w.engineBin = bin }
}

// WithExtraArgs appends raw shell-style arguments to every lifecycle
// operation; they are split with shell word rules at first use.
func WithExtraArgs(raw string) Option {
	return func(w *LocalWorkspace) { w.extraArgsRaw = raw }
}

// WithLogger sets the workspace logger.
func WithLogger(log *zap.Logger) Option {
	return func(w *LocalWorkspace) { w.log = log }
}

// WithProjectSettings writes the project file at construction when it does
// not exist yet.
func WithProjectSettings(ps ProjectSettings) Option {
	return func(w *LocalWorkspace) {
		path := filepath.Join(w.workDir, projectSettingsFile)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			_ = saveYAML(path, &ps)
		}
	}
}

// New constructs a LocalWorkspace rooted at workDir. An empty workDir gets a
// fresh temporary directory, which the caller owns.
func New(ctx context.Context, workDir string, opts ...Option) (*LocalWorkspace, error) {
	_ = ctx
	if strings.TrimSpace(workDir) == "" {
		dir, err := os.MkdirTemp("", "stackctl-workspace-")
		if err != nil {
			return nil, fmt.Errorf("create workspace dir: %w", err)
		}
		workDir = dir
	}
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, err
	}
	if st, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("workspace dir: %w", err)
	} else if !st.IsDir() {
		return nil, fmt.Errorf("workspace path %s is not a directory", abs)
	}

	w := &LocalWorkspace{
		workDir:       abs,
		log:           zap.NewNop(),
		stackSettings: map[string]*StackSettings{},
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.pulumiHome != "" {
		expanded, err := homedir.Expand(w.pulumiHome)
		if err != nil {
			return nil, fmt.Errorf("expand home dir %q: %w", w.pulumiHome, err)
		}
		w.pulumiHome = expanded
	}
	if w.runner == nil {
		w.runner = engine.NewRunner(w.engineBin, w.log)
	}
	return w, nil
}

func (w *LocalWorkspace) WorkDir() string              { return w.workDir }
func (w *LocalWorkspace) PulumiHome() string           { return w.pulumiHome }
func (w *LocalWorkspace) EnvVars() map[string]string   { return w.envVars }
func (w *LocalWorkspace) Runner() engine.CommandRunner { return w.runner }

// SerializedArgs returns the workspace's extra per-operation arguments. The
// raw string is split once with shell word rules and cached.
func (w *LocalWorkspace) SerializedArgs(_ context.Context, _ string) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.extraParsed {
		return w.extraArgs, nil
	}
	if strings.TrimSpace(w.extraArgsRaw) != "" {
		args, err := shellwords.Parse(w.extraArgsRaw)
		if err != nil {
			return nil, fmt.Errorf("parse extra args %q: %w", w.extraArgsRaw, err)
		}
		w.extraArgs = args
	}
	w.extraParsed = true
	return w.extraArgs, nil
}

// PostCommandCallback re-persists any cached stack settings after an engine
// command, keeping the settings file in sync with what the operation used.
func (w *LocalWorkspace) PostCommandCallback(_ context.Context, stackName string) error {
	w.mu.Lock()
	ss := w.stackSettings[stackShortName(stackName)]
	w.mu.Unlock()
	if ss == nil {
		return nil
	}
	return saveYAML(stackSettingsPath(w.workDir, stackName), ss)
}

// runCmd executes one engine command in the workspace directory with the
// workspace environment applied.
func (w *LocalWorkspace) runCmd(ctx context.Context, args ...string) (engine.Result, error) {
	env := map[string]string{}
	if w.pulumiHome != "" {
		env["PULUMI_HOME"] = w.pulumiHome
	}
	for k, v := range w.envVars {
		env[k] = v
	}
	return w.runner.Run(ctx, engine.Request{Args: args, Dir: w.workDir, Env: env})
}

// CreateStack initializes a new stack. A name conflict is classified as
// stack.ErrStackAlreadyExists so Upsert can fall back to selection; every
// other failure propagates untouched.
func (w *LocalWorkspace) CreateStack(ctx context.Context, stackName string) error {
	_, err := w.runCmd(ctx, "stack", "init", stackName)
	if err == nil {
		return nil
	}
	if isAlreadyExists(err) {
		return fmt.Errorf("create stack %q: %w: %w", stackName, stack.ErrStackAlreadyExists, err)
	}
	return fmt.Errorf("create stack %q: %w", stackName, err)
}

func isAlreadyExists(err error) bool {
	var cmdErr *engine.CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	return strings.Contains(cmdErr.Result.Stderr, "already exists")
}

// SelectStack makes stackName the workspace's active stack.
func (w *LocalWorkspace) SelectStack(ctx context.Context, stackName string) error {
	if _, err := w.runCmd(ctx, "stack", "select", stackName); err != nil {
		return fmt.Errorf("select stack %q: %w", stackName, err)
	}
	return nil
}

// RemoveStack deletes the stack's state from the backend. Resources are not
// destroyed; run Destroy first.
func (w *LocalWorkspace) RemoveStack(ctx context.Context, stackName string) error {
	if _, err := w.runCmd(ctx, "stack", "rm", "--yes", stackName); err != nil {
		return fmt.Errorf("remove stack %q: %w", stackName, err)
	}
	return nil
}

// StackSummary is one row of the backend's stack listing.
type StackSummary struct {
	Name             string `json:"name"`
	Current          bool   `json:"current"`
	LastUpdate       string `json:"lastUpdate,omitempty"`
	UpdateInProgress bool   `json:"updateInProgress"`
	ResourceCount    *int   `json:"resourceCount,omitempty"`
	URL              string `json:"url,omitempty"`
}

// ListStacks returns every stack the backend knows for this project.
func (w *LocalWorkspace) ListStacks(ctx context.Context) ([]StackSummary, error) {
	res, err := w.runCmd(ctx, "stack", "ls", "--json")
	if err != nil {
		return nil, err
	}
	var out []StackSummary
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return nil, fmt.Errorf("parse stack list: %w", err)
	}
	return out, nil
}

// WhoAmI reports the backend identity the engine is logged in as.
func (w *LocalWorkspace) WhoAmI(ctx context.Context) (string, error) {
	res, err := w.runCmd(ctx, "whoami")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// GetConfig reads one configuration value for the named stack.
func (w *LocalWorkspace) GetConfig(ctx context.Context, stackName, key string) (stack.ConfigValue, error) {
	if err := w.SelectStack(ctx, stackName); err != nil {
		return stack.ConfigValue{}, err
	}
	res, err := w.runCmd(ctx, "config", "get", key, "--json")
	if err != nil {
		return stack.ConfigValue{}, err
	}
	var val stack.ConfigValue
	if err := json.Unmarshal([]byte(res.Stdout), &val); err != nil {
		return stack.ConfigValue{}, fmt.Errorf("parse config value for %q: %w", key, err)
	}
	return val, nil
}

// GetAllConfig reads the named stack's full configuration, secrets included.
func (w *LocalWorkspace) GetAllConfig(ctx context.Context, stackName string) (stack.ConfigMap, error) {
	if err := w.SelectStack(ctx, stackName); err != nil {
		return nil, err
	}
	res, err := w.runCmd(ctx, "config", "--show-secrets", "--json")
	if err != nil {
		return nil, err
	}
	cfg := stack.ConfigMap{}
	stdout := strings.TrimSpace(res.Stdout)
	if stdout == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(stdout), &cfg); err != nil {
		return nil, fmt.Errorf("parse config map: %w", err)
	}
	return cfg, nil
}

// SetConfig writes one configuration value for the named stack.
func (w *LocalWorkspace) SetConfig(ctx context.Context, stackName, key string, value stack.ConfigValue) error {
	if err := w.SelectStack(ctx, stackName); err != nil {
		return err
	}
	secretArg := "--plaintext"
	if value.Secret {
		secretArg = "--secret"
	}
	if _, err := w.runCmd(ctx, "config", "set", key, value.Value, secretArg); err != nil {
		return fmt.Errorf("set config %q: %w", key, err)
	}
	return nil
}

// SetAllConfig writes every entry of cfg for the named stack.
func (w *LocalWorkspace) SetAllConfig(ctx context.Context, stackName string, cfg stack.ConfigMap) error {
	for key, value := range cfg {
		if err := w.SetConfig(ctx, stackName, key, value); err != nil {
			return err
		}
	}
	return nil
}

// RemoveConfig deletes one configuration key for the named stack.
func (w *LocalWorkspace) RemoveConfig(ctx context.Context, stackName, key string) error {
	if err := w.SelectStack(ctx, stackName); err != nil {
		return err
	}
	if _, err := w.runCmd(ctx, "config", "rm", key); err != nil {
		return fmt.Errorf("remove config %q: %w", key, err)
	}
	return nil
}

// RemoveAllConfig deletes every named configuration key for the stack.
func (w *LocalWorkspace) RemoveAllConfig(ctx context.Context, stackName string, keys []string) error {
	for _, key := range keys {
		if err := w.RemoveConfig(ctx, stackName, key); err != nil {
			return err
		}
	}
	return nil
}

// RefreshConfig reloads the stack's configuration from the backend into the
// local settings file and returns the refreshed map.
func (w *LocalWorkspace) RefreshConfig(ctx context.Context, stackName string) (stack.ConfigMap, error) {
	if err := w.SelectStack(ctx, stackName); err != nil {
		return nil, err
	}
	if _, err := w.runCmd(ctx, "config", "refresh", "--force"); err != nil {
		return nil, fmt.Errorf("refresh config: %w", err)
	}
	return w.GetAllConfig(ctx, stackName)
}
