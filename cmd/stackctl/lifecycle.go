// lifecycle.go wires the up/preview/refresh/destroy subcommands.
package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kubekattle/stackctl/internal/stack"
)

func newUpCommand(opts *rootOptions) *cobra.Command {
	var message string
	var expectNoChanges bool
	var replace []string
	var target []string
	var targetDependents bool
	var parallel int

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Create or update the stack's resources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts, true)
			if err != nil {
				return err
			}
			defer s.close()

			started := time.Now().UTC()
			res, opErr := s.stack.Up(ctx, stack.UpOptions{
				Message:          message,
				ExpectNoChanges:  expectNoChanges,
				Replace:          replace,
				Target:           target,
				TargetDependents: targetDependents,
				Parallel:         parallel,
				OnOutput:         func(line string) { fmt.Println(line) },
			})
			recordOutcome(cmd, s, stack.UpdateKindUpdate, started, res.Summary, opErr)
			if opErr != nil {
				return opErr
			}
			printChangeSummary(res.Summary)
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Message to associate with the update")
	cmd.Flags().BoolVar(&expectNoChanges, "expect-no-changes", false, "Fail when the update proposes any change")
	cmd.Flags().StringSliceVar(&replace, "replace", nil, "Resource URNs to replace (repeatable)")
	cmd.Flags().StringSliceVarP(&target, "target", "t", nil, "Resource URNs to target (repeatable)")
	cmd.Flags().BoolVar(&targetDependents, "target-dependents", false, "Also target dependents of targeted resources")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "Maximum parallel resource operations (0 uses the engine default)")
	return cmd
}

func newPreviewCommand(opts *rootOptions) *cobra.Command {
	var message string
	var expectNoChanges bool
	var replace []string
	var target []string
	var targetDependents bool
	var parallel int

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show what an update would change without applying it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts, false)
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.stack.Preview(ctx, stack.PreviewOptions{
				Message:          message,
				ExpectNoChanges:  expectNoChanges,
				Replace:          replace,
				Target:           target,
				TargetDependents: targetDependents,
				Parallel:         parallel,
			})
			if err != nil {
				return err
			}
			fmt.Print(res.Stdout)
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Message to associate with the preview")
	cmd.Flags().BoolVar(&expectNoChanges, "expect-no-changes", false, "Fail when the preview proposes any change")
	cmd.Flags().StringSliceVar(&replace, "replace", nil, "Resource URNs to replace (repeatable)")
	cmd.Flags().StringSliceVarP(&target, "target", "t", nil, "Resource URNs to target (repeatable)")
	cmd.Flags().BoolVar(&targetDependents, "target-dependents", false, "Also target dependents of targeted resources")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "Maximum parallel resource operations (0 uses the engine default)")
	return cmd
}

func newRefreshCommand(opts *rootOptions) *cobra.Command {
	var message string
	var expectNoChanges bool
	var target []string
	var parallel int

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Reconcile stack state with the actual cloud resources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts, true)
			if err != nil {
				return err
			}
			defer s.close()

			started := time.Now().UTC()
			res, opErr := s.stack.Refresh(ctx, stack.RefreshOptions{
				Message:         message,
				ExpectNoChanges: expectNoChanges,
				Target:          target,
				Parallel:        parallel,
			})
			recordOutcome(cmd, s, stack.UpdateKindRefresh, started, res.Summary, opErr)
			if opErr != nil {
				return opErr
			}
			fmt.Print(res.Stdout)
			printChangeSummary(res.Summary)
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Message to associate with the refresh")
	cmd.Flags().BoolVar(&expectNoChanges, "expect-no-changes", false, "Fail when the refresh proposes any change")
	cmd.Flags().StringSliceVarP(&target, "target", "t", nil, "Resource URNs to target (repeatable)")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "Maximum parallel resource operations (0 uses the engine default)")
	return cmd
}

func newDestroyCommand(opts *rootOptions) *cobra.Command {
	var message string
	var target []string
	var targetDependents bool
	var parallel int

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Delete all of the stack's resources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts, true)
			if err != nil {
				return err
			}
			defer s.close()

			started := time.Now().UTC()
			res, opErr := s.stack.Destroy(ctx, stack.DestroyOptions{
				Message:          message,
				Target:           target,
				TargetDependents: targetDependents,
				Parallel:         parallel,
			})
			recordOutcome(cmd, s, stack.UpdateKindDestroy, started, res.Summary, opErr)
			if opErr != nil {
				return opErr
			}
			fmt.Print(res.Stdout)
			printChangeSummary(res.Summary)
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Message to associate with the destroy")
	cmd.Flags().StringSliceVarP(&target, "target", "t", nil, "Resource URNs to target (repeatable)")
	cmd.Flags().BoolVar(&targetDependents, "target-dependents", false, "Also target dependents of targeted resources")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "Maximum parallel resource operations (0 uses the engine default)")
	return cmd
}

// recordOutcome writes the operation to the local audit trail. Audit
// failures are logged, never returned: they must not mask the operation's
// own outcome.
func recordOutcome(cmd *cobra.Command, s *session, kind stack.UpdateKind, started time.Time, summary *stack.UpdateSummary, opErr error) {
	if s.audit == nil {
		return
	}
	if err := s.audit.RecordResult(cmd.Context(), s.stack.Name(), kind, started, summary, opErr); err != nil {
		s.log.Warn("audit record failed", zap.String("stack", s.stack.Name()), zap.Error(err))
	}
}

func printChangeSummary(summary *stack.UpdateSummary) {
	if summary == nil {
		return
	}
	ok := color.New(color.FgGreen)
	bad := color.New(color.FgRed)
	status := ok
	if summary.Result == stack.StatusFailed {
		status = bad
	}
	status.Printf("Result: %s (version %d)\n", summary.Result, summary.Version)
	for op, n := range summary.ResourceChanges {
		fmt.Printf("  %s: %d\n", op, n)
	}
}
