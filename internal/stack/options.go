package stack

import "strconv"

// ExecKind tags how an operation's program runs, for downstream telemetry.
const (
	ExecKindLocal  = "auto.local"
	ExecKindInline = "auto.inline"
)

// ProgramFn is an inline in-process deployment program. Supplying one to an
// operation is reserved for a collaborating subsystem and currently rejected.
type ProgramFn func() error

// UpOptions configures Stack.Up. Zero-valued fields contribute no flags.
type UpOptions struct {
	Message          string
	ExpectNoChanges  bool
	Replace          []string
	Target           []string
	TargetDependents bool
	Parallel         int
	Program          ProgramFn
	// OnOutput receives incremental engine output lines while the update
	// runs. Delivery order matches production order; the sink must not be
	// relied on for completion accounting.
	OnOutput func(line string)
}

// PreviewOptions configures Stack.Preview.
type PreviewOptions struct {
	Message          string
	ExpectNoChanges  bool
	Replace          []string
	Target           []string
	TargetDependents bool
	Parallel         int
	Program          ProgramFn
}

// RefreshOptions configures Stack.Refresh.
type RefreshOptions struct {
	Message         string
	ExpectNoChanges bool
	Target          []string
	Parallel        int
}

// DestroyOptions configures Stack.Destroy.
type DestroyOptions struct {
	Message          string
	Target           []string
	TargetDependents bool
	Parallel         int
}

// The flag translations below are pure so the option→argument mapping can be
// tested without spawning a process. Flag order is fixed: message,
// expect-no-changes, replace, target, target-dependents, parallel. Repeated
// flags preserve the input element order.

func (o UpOptions) flags() []string {
	var args []string
	args = appendMessage(args, o.Message)
	if o.ExpectNoChanges {
		args = append(args, "--expect-no-changes")
	}
	args = appendRepeated(args, "--replace", o.Replace)
	args = appendRepeated(args, "--target", o.Target)
	if o.TargetDependents {
		args = append(args, "--target-dependents")
	}
	args = appendParallel(args, o.Parallel)
	return args
}

func (o PreviewOptions) flags() []string {
	var args []string
	args = appendMessage(args, o.Message)
	if o.ExpectNoChanges {
		args = append(args, "--expect-no-changes")
	}
	args = appendRepeated(args, "--replace", o.Replace)
	args = appendRepeated(args, "--target", o.Target)
	if o.TargetDependents {
		args = append(args, "--target-dependents")
	}
	args = appendParallel(args, o.Parallel)
	return args
}

func (o RefreshOptions) flags() []string {
	var args []string
	args = appendMessage(args, o.Message)
	if o.ExpectNoChanges {
		args = append(args, "--expect-no-changes")
	}
	args = appendRepeated(args, "--target", o.Target)
	args = appendParallel(args, o.Parallel)
	return args
}

func (o DestroyOptions) flags() []string {
	var args []string
	args = appendMessage(args, o.Message)
	args = appendRepeated(args, "--target", o.Target)
	if o.TargetDependents {
		args = append(args, "--target-dependents")
	}
	args = appendParallel(args, o.Parallel)
	return args
}

func appendMessage(args []string, msg string) []string {
	if msg == "" {
		return args
	}
	return append(args, "--message", msg)
}

func appendRepeated(args []string, flag string, values []string) []string {
	for _, v := range values {
		args = append(args, flag, v)
	}
	return args
}

func appendParallel(args []string, n int) []string {
	if n <= 0 {
		return args
	}
	return append(args, "--parallel", strconv.Itoa(n))
}
