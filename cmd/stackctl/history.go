package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kubekattle/stackctl/internal/audit"
)

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var local bool
	var limit int
	var output string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the stack's update history",
		Long:  "history lists past updates from the backend, or with --local from the audit trail stackctl keeps in the workspace.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if local {
				ws, log, err := openWorkspace(ctx, opts)
				if err != nil {
					return err
				}
				defer log.Sync()
				store, err := audit.Open(ws.WorkDir(), true)
				if err != nil {
					return fmt.Errorf("open audit store (run an operation first): %w", err)
				}
				defer store.Close()
				recs, err := store.List(ctx, opts.stackName, limit)
				if err != nil {
					return err
				}
				if output == "json" {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(recs)
				}
				for _, rec := range recs {
					fmt.Printf("%s\t%s\t%s\t%s\n", rec.EndedAt.Format("2006-01-02T15:04:05Z"), rec.StackName, rec.Kind, rec.Status)
				}
				return nil
			}

			s, err := openSession(ctx, opts, false)
			if err != nil {
				return err
			}
			defer s.close()

			history, err := s.stack.History(ctx)
			if err != nil {
				return err
			}
			if limit > 0 && len(history) > limit {
				history = history[:limit]
			}
			if output == "json" {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(history)
			}
			for _, u := range history {
				fmt.Printf("%d\t%s\t%s\t%s\n", u.Version, u.Kind, u.Result, u.StartTime)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "Read the workspace audit trail instead of the backend")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum entries to show (0 shows all)")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table|json")
	return cmd
}
