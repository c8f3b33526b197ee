// session.go assembles the workspace, stack handle, and audit store a
// subcommand needs from the persistent flags.
package main

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kubekattle/stackctl/internal/audit"
	"github.com/kubekattle/stackctl/internal/logging"
	"github.com/kubekattle/stackctl/internal/stack"
	"github.com/kubekattle/stackctl/internal/workspace"
)

// session bundles everything a lifecycle subcommand operates on.
type session struct {
	log   *zap.Logger
	ws    *workspace.LocalWorkspace
	stack *stack.Stack
	audit *audit.Store
}

func (s *session) close() {
	if s.audit != nil {
		_ = s.audit.Close()
	}
	_ = s.log.Sync()
}

// openSession builds the workspace and selects the requested stack. When
// withAudit is set the local audit store is opened for writing as well.
func openSession(ctx context.Context, opts *rootOptions, withAudit bool) (*session, error) {
	if strings.TrimSpace(opts.stackName) == "" {
		return nil, fmt.Errorf("a stack name is required (--stack or STACKCTL_STACK)")
	}
	log, err := logging.New(opts.logLevel)
	if err != nil {
		return nil, err
	}

	wsOpts := []workspace.Option{
		workspace.WithEngineBin(opts.engineBin),
		workspace.WithLogger(log),
	}
	if strings.TrimSpace(opts.extraArgs) != "" {
		wsOpts = append(wsOpts, workspace.WithExtraArgs(opts.extraArgs))
	}
	ws, err := workspace.New(ctx, opts.workDir, wsOpts...)
	if err != nil {
		return nil, err
	}

	st, err := stack.Select(ctx, opts.stackName, ws)
	if err != nil {
		return nil, err
	}

	s := &session{log: log, ws: ws, stack: st}
	if withAudit {
		store, err := audit.Open(ws.WorkDir(), false)
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
		s.audit = store
	}
	return s, nil
}

// openWorkspace builds just the workspace, for subcommands that manage
// stacks rather than operate on one.
func openWorkspace(ctx context.Context, opts *rootOptions) (*workspace.LocalWorkspace, *zap.Logger, error) {
	log, err := logging.New(opts.logLevel)
	if err != nil {
		return nil, nil, err
	}
	wsOpts := []workspace.Option{
		workspace.WithEngineBin(opts.engineBin),
		workspace.WithLogger(log),
	}
	if strings.TrimSpace(opts.extraArgs) != "" {
		wsOpts = append(wsOpts, workspace.WithExtraArgs(opts.extraArgs))
	}
	ws, err := workspace.New(ctx, opts.workDir, wsOpts...)
	if err != nil {
		return nil, nil, err
	}
	return ws, log, nil
}
