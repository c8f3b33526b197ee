// stack.go wires `stackctl stack` (lifecycle of the stacks themselves).
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kubekattle/stackctl/internal/stack"
)

func newStackCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stack",
		Short: "Create, select, list, and remove stacks",
	}
	cmd.AddCommand(
		newStackInitCommand(opts),
		newStackSelectCommand(opts),
		newStackLsCommand(opts),
		newStackRmCommand(opts),
	)
	return cmd
}

func stackNameArg(opts *rootOptions, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if opts.stackName != "" {
		return opts.stackName, nil
	}
	return "", fmt.Errorf("a stack name is required (positional or --stack)")
}

func newStackInitCommand(opts *rootOptions) *cobra.Command {
	var selectExisting bool
	cmd := &cobra.Command{
		Use:   "init [NAME]",
		Short: "Create a new stack",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name, err := stackNameArg(opts, args)
			if err != nil {
				return err
			}
			ws, log, err := openWorkspace(ctx, opts)
			if err != nil {
				return err
			}
			defer log.Sync()

			if selectExisting {
				_, err = stack.Upsert(ctx, name, ws)
			} else {
				_, err = stack.New(ctx, name, ws)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&selectExisting, "select-existing", false, "Select the stack instead of failing when it already exists")
	return cmd
}

func newStackSelectCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "select [NAME]",
		Short: "Make a stack the workspace's active stack",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name, err := stackNameArg(opts, args)
			if err != nil {
				return err
			}
			ws, log, err := openWorkspace(ctx, opts)
			if err != nil {
				return err
			}
			defer log.Sync()

			_, err = stack.Select(ctx, name, ws)
			return err
		},
	}
}

func newStackLsCommand(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List the project's stacks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, log, err := openWorkspace(ctx, opts)
			if err != nil {
				return err
			}
			defer log.Sync()

			stacks, err := ws.ListStacks(ctx)
			if err != nil {
				return err
			}
			if output == "json" {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(stacks)
			}
			for _, s := range stacks {
				marker := " "
				if s.Current {
					marker = "*"
				}
				fmt.Printf("%s %s\t%s\n", marker, s.Name, s.LastUpdate)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table|json")
	return cmd
}

func newStackRmCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm [NAME]",
		Short: "Remove a stack's state from the backend",
		Long:  "rm deletes the stack's state. It does not destroy resources; run `stackctl destroy` first.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name, err := stackNameArg(opts, args)
			if err != nil {
				return err
			}
			ws, log, err := openWorkspace(ctx, opts)
			if err != nil {
				return err
			}
			defer log.Sync()

			return ws.RemoveStack(ctx, name)
		},
	}
}
