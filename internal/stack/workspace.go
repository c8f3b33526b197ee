package stack

import (
	"context"
	"errors"

	"github.com/kubekattle/stackctl/internal/engine"
)

// ErrStackAlreadyExists classifies a create-stack failure caused by the name
// already being taken. Workspace implementations wrap their create errors
// with this sentinel so Upsert can distinguish "reuse it" from real failures
// (permissions, backend outages) that must propagate.
var ErrStackAlreadyExists = errors.New("stack already exists")

// Workspace is the external owner of persisted project and stack settings.
// A Stack holds a reference to (never ownership of) one Workspace; the
// Workspace's "currently selected stack" is shared mutable state, which is
// why every operation re-selects before executing.
type Workspace interface {
	// WorkDir is the directory engine commands execute in.
	WorkDir() string
	// PulumiHome, when non-empty, overrides the engine's home directory via
	// the PULUMI_HOME environment variable.
	PulumiHome() string
	// EnvVars are overlaid on the operation environment; they win over the
	// PULUMI_HOME override on key collision.
	EnvVars() map[string]string
	// Runner is the command execution endpoint used for this workspace.
	Runner() engine.CommandRunner

	// SerializedArgs are extra per-operation arguments the workspace
	// contributes for the named stack, appended after the operation's own.
	SerializedArgs(ctx context.Context, stackName string) ([]string, error)
	// PostCommandCallback runs after every completed engine invocation so
	// the workspace can persist incidental state. It is awaited before the
	// operation's result is returned.
	PostCommandCallback(ctx context.Context, stackName string) error

	CreateStack(ctx context.Context, stackName string) error
	SelectStack(ctx context.Context, stackName string) error

	GetConfig(ctx context.Context, stackName, key string) (ConfigValue, error)
	GetAllConfig(ctx context.Context, stackName string) (ConfigMap, error)
	SetConfig(ctx context.Context, stackName, key string, value ConfigValue) error
	SetAllConfig(ctx context.Context, stackName string, cfg ConfigMap) error
	RemoveConfig(ctx context.Context, stackName, key string) error
	RemoveAllConfig(ctx context.Context, stackName string, keys []string) error
	RefreshConfig(ctx context.Context, stackName string) (ConfigMap, error)
}
