package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

func newOutputsCommand(opts *rootOptions) *cobra.Command {
	var showSecrets bool
	var output string

	cmd := &cobra.Command{
		Use:   "outputs",
		Short: "Show the stack's outputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts, false)
			if err != nil {
				return err
			}
			defer s.close()

			outs, err := s.stack.Outputs(ctx)
			if err != nil {
				return err
			}

			if output == "json" {
				display := map[string]interface{}{}
				for k, v := range outs {
					if v.Secret && !showSecrets {
						display[k] = "[secret]"
						continue
					}
					display[k] = v.Value
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(display)
			}

			keys := make([]string, 0, len(outs))
			for k := range outs {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				v := outs[k]
				if v.Secret && !showSecrets {
					fmt.Printf("%s\t[secret]\n", k)
					continue
				}
				fmt.Printf("%s\t%v\n", k, v.Value)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Reveal secret output values")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table|json")
	return cmd
}
