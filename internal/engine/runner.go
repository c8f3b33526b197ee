// Package engine executes the deployment engine CLI and captures its output.
// The engine is treated as an opaque command endpoint: callers hand it an
// argument list, a working directory, and an environment; they get back the
// captured stdout/stderr or a CommandError.
package engine

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultBin is the engine binary resolved from PATH when none is configured.
const DefaultBin = "pulumi"

// Request describes one engine invocation.
type Request struct {
	Args []string
	Dir  string
	// Env entries are overlaid on the parent process environment; on key
	// collision the Request value wins.
	Env map[string]string
	// OnOutput, when set, receives each stdout line as it is produced, in
	// production order. A panicking sink does not abort the invocation.
	OnOutput func(line string)
}

// Result is the captured output of one completed invocation. It is transient;
// nothing in this package persists it.
type Result struct {
	Stdout string
	Stderr string
	Code   int
}

// CommandError is returned for failed invocations, carrying the captured
// output for diagnostics.
type CommandError struct {
	Args   []string
	Result Result
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q failed (code %d): %v", strings.Join(e.Args, " "), e.Result.Code, e.Err)
	if s := strings.TrimSpace(e.Result.Stderr); s != "" {
		msg += "\nstderr: " + s
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// CommandRunner is the execution endpoint consumed by the stack orchestrator
// and the workspace. Implementations must either return a complete Result or
// an error; there is no partial-result path.
type CommandRunner interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// Runner runs the engine binary via os/exec.
type Runner struct {
	Bin string
	Log *zap.Logger
}

// NewRunner returns a Runner for the given binary, defaulting to DefaultBin.
func NewRunner(bin string, log *zap.Logger) *Runner {
	bin = strings.TrimSpace(bin)
	if bin == "" {
		bin = DefaultBin
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{Bin: bin, Log: log}
}

// Run executes the engine once and waits for completion. Stdout is streamed
// line by line to req.OnOutput while also being captured in full; stderr is
// captured only. Cancellation of ctx kills the process.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	if len(req.Args) == 0 {
		return Result{}, fmt.Errorf("engine: empty argument list")
	}

	cmd := exec.CommandContext(ctx, r.Bin, req.Args...)
	cmd.Dir = req.Dir
	cmd.Env = mergeEnv(req.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stderr = &stderr

	r.Log.Debug("engine exec", zap.String("bin", r.Bin), zap.Strings("args", req.Args), zap.String("dir", req.Dir))

	if req.OnOutput == nil {
		cmd.Stdout = &stdout
		err := cmd.Run()
		return finish(req.Args, stdout.String(), stderr.String(), cmd, err)
	}

	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("engine: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("engine: start %s: %w", r.Bin, err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		return pumpLines(pipe, &stdout, req.OnOutput)
	})
	pumpErr := eg.Wait()
	waitErr := cmd.Wait()
	if waitErr == nil && pumpErr != nil {
		waitErr = pumpErr
	}
	return finish(req.Args, stdout.String(), stderr.String(), cmd, waitErr)
}

// pumpLines copies pipe output into buf while forwarding whole lines to sink.
// Sink panics are swallowed so a misbehaving caller cannot abort the stream.
// Lines have no length cap: the pipe must be drained to EOF no matter what
// the engine emits, or the child blocks writing and Wait never returns.
func pumpLines(pipe io.Reader, buf *bytes.Buffer, sink func(string)) error {
	reader := bufio.NewReader(pipe)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimRight(line, "\r\n")
			buf.WriteString(line)
			buf.WriteByte('\n')
			deliver(sink, line)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func deliver(sink func(string), line string) {
	defer func() { _ = recover() }()
	sink(line)
}

func finish(args []string, stdout, stderr string, cmd *exec.Cmd, err error) (Result, error) {
	res := Result{Stdout: stdout, Stderr: stderr}
	if cmd.ProcessState != nil {
		res.Code = cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return res, &CommandError{Args: args, Result: res, Err: err}
	}
	return res, nil
}

// mergeEnv overlays extra on os.Environ with deterministic ordering so
// invocations are reproducible in tests and debug logs.
func mergeEnv(extra map[string]string) []string {
	if len(extra) == 0 {
		return os.Environ()
	}
	merged := map[string]string{}
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	for k, v := range extra {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}
