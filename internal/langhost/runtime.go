// Package langhost implements the program-execution collaborator used by
// integration tests of the orchestration-to-engine protocol. It is not part
// of the operational core: it accepts a run request carrying a resource
// monitor address, dials it, and executes a caller-supplied program against
// the resulting connection.
package langhost

import (
	"context"

	"github.com/pkg/errors"
	"google.golang.org/grpc"

	"github.com/kubekattle/stackctl/internal/grpcutil"
)

// ProgramFunc is the caller-supplied program body. It receives the live
// client connection to the resource monitor; any error it returns is
// reported as the program's failure message, not as a transport failure.
type ProgramFunc func(ctx context.Context, monitor *grpc.ClientConn) error

// PluginInfo identifies one external plugin a program requires.
type PluginInfo struct {
	Name    string `json:"name"`
	Kind    string `json:"kind,omitempty"`
	Version string `json:"version,omitempty"`
}

// RunRequest carries what the runtime needs to execute a program once.
type RunRequest struct {
	// MonitorAddr is the network address of the resource monitor to dial.
	MonitorAddr string
	// Project and Stack describe the run for programs that care; the
	// runtime itself does not interpret them.
	Project string
	Stack   string
}

// Option configures a Runtime at construction.
type Option func(*Runtime)

// WithRequiredPlugin appends one plugin to the static required-plugin list.
func WithRequiredPlugin(info PluginInfo) Option {
	return func(r *Runtime) { r.requiredPlugins = append(r.requiredPlugins, info) }
}

// WithName overrides the runtime's reported name.
func WithName(name string) Option {
	return func(r *Runtime) { r.name = name }
}

// Runtime executes one program per Run call against a resource monitor.
type Runtime struct {
	program         ProgramFunc
	requiredPlugins []PluginInfo
	name            string
}

// New builds a Runtime around program.
func New(program ProgramFunc, opts ...Option) *Runtime {
	r := &Runtime{program: program, name: "TestLanguage"}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RequiredPlugins returns the static plugin list from construction.
func (r *Runtime) RequiredPlugins() []PluginInfo {
	return r.requiredPlugins
}

// Info returns the runtime's identification metadata.
func (r *Runtime) Info() PluginInfo {
	return PluginInfo{Name: r.name, Kind: "language"}
}

// Run dials the monitor and executes the program. A program error becomes
// the string result with a nil error; only setup failures (a monitor that
// cannot be reached) surface as the error return.
func (r *Runtime) Run(ctx context.Context, req RunRequest) (string, error) {
	conn, err := grpcutil.DialInsecure(ctx, req.MonitorAddr)
	if err != nil {
		return "", errors.Wrapf(err, "could not connect to resource monitor at %s", req.MonitorAddr)
	}
	defer conn.Close()

	done := make(chan error, 1)
	go func() { done <- r.program(ctx, conn) }()
	select {
	case progerr := <-done:
		if progerr != nil {
			return progerr.Error(), nil
		}
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close releases runtime resources. Present for symmetry with long-lived
// hosts; this in-process runtime holds none.
func (r *Runtime) Close() error { return nil }
