package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kubekattle/stackctl/internal/stack"
)

func newConfigCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the stack's configuration",
	}
	cmd.AddCommand(
		newConfigGetCommand(opts),
		newConfigSetCommand(opts),
		newConfigRmCommand(opts),
		newConfigLsCommand(opts),
	)
	return cmd
}

func newConfigGetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Read one configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts, false)
			if err != nil {
				return err
			}
			defer s.close()

			val, err := s.stack.GetConfig(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(val.Value)
			return nil
		},
	}
}

func newConfigSetCommand(opts *rootOptions) *cobra.Command {
	var secret bool
	cmd := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Write one configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts, false)
			if err != nil {
				return err
			}
			defer s.close()

			return s.stack.SetConfig(ctx, args[0], stack.ConfigValue{Value: args[1], Secret: secret})
		},
	}
	cmd.Flags().BoolVar(&secret, "secret", false, "Encrypt the value in the stack's settings")
	return cmd
}

func newConfigRmCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm KEY",
		Short: "Delete one configuration key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts, false)
			if err != nil {
				return err
			}
			defer s.close()

			return s.stack.RemoveConfig(ctx, args[0])
		},
	}
}

func newConfigLsCommand(opts *rootOptions) *cobra.Command {
	var showSecrets bool
	var output string
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List the stack's full configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts, false)
			if err != nil {
				return err
			}
			defer s.close()

			cfg, err := s.stack.GetAllConfig(ctx)
			if err != nil {
				return err
			}
			if output == "json" {
				display := map[string]interface{}{}
				for k, v := range cfg {
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

			keys := make([]string, 0, len(cfg))
			for k := range cfg {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				v := cfg[k]
				if v.Secret && !showSecrets {
					fmt.Printf("%s\t[secret]\n", k)
					continue
				}
				fmt.Printf("%s\t%s\n", k, v.Value)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Reveal secret configuration values")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table|json")
	return cmd
}
