// main.go bootstraps stackctl: it builds the root Cobra command, binds viper
// config/env, and executes with a signal-aware context.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/kubekattle/stackctl/internal/engine"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	handleError(err)
	if err != nil {
		os.Exit(1)
	}
}

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	workDir   string
	stackName string
	logLevel  string
	engineBin string
	extraArgs string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{logLevel: "info"}
	cmd := &cobra.Command{
		Use:           "stackctl",
		Short:         "Drive deployment stacks through the engine CLI",
		Long:          "stackctl wraps the deployment engine binary: stack lifecycle, configuration, typed results, and a local operation audit trail.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Example: `  # Deploy the dev stack, streaming engine output
  stackctl up --stack myorg/proj/dev --workdir ./infra

  # Preview without applying
  stackctl preview --stack myorg/proj/dev --workdir ./infra

  # Inspect outputs with secrets revealed
  stackctl outputs --stack myorg/proj/dev --show-secrets`,
	}
	cmd.PersistentFlags().StringVarP(&opts.workDir, "workdir", "C", ".", "Project directory containing the engine project file")
	cmd.PersistentFlags().StringVarP(&opts.stackName, "stack", "s", "", "Stack name, optionally org/project qualified")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", opts.logLevel, "Log level for stackctl output (debug, info, warn, or error)")
	cmd.PersistentFlags().StringVar(&opts.engineBin, "engine-bin", engine.DefaultBin, "Engine binary to execute")
	cmd.PersistentFlags().StringVar(&opts.extraArgs, "extra-args", "", "Extra arguments appended to every engine invocation (shell word rules)")

	upCmd := newUpCommand(opts)
	previewCmd := newPreviewCommand(opts)
	refreshCmd := newRefreshCommand(opts)
	destroyCmd := newDestroyCommand(opts)
	outputsCmd := newOutputsCommand(opts)
	historyCmd := newHistoryCommand(opts)
	configCmd := newConfigCommand(opts)
	stackCmd := newStackCommand(opts)
	cmd.AddCommand(upCmd, previewCmd, refreshCmd, destroyCmd, outputsCmd, historyCmd, configCmd, stackCmd)

	bindViper(cmd, upCmd, previewCmd, refreshCmd, destroyCmd, outputsCmd, historyCmd, configCmd, stackCmd)
	return cmd
}

func bindViper(commands ...*cobra.Command) {
	if len(commands) == 0 {
		return
	}
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("STACKCTL")
	v.AutomaticEnv()
	configFile := os.Getenv("STACKCTL_CONFIG")
	configureConfigFile(v, configFile)

	cobra.OnInitialize(func() {
		for _, cmd := range commands {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				cobra.CheckErr(err)
			}
			if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
				cobra.CheckErr(err)
			}
		}
		if err := readConfigFile(v, configFile != ""); err != nil {
			cobra.CheckErr(err)
		}
		for _, cmd := range commands {
			flagSets := []*pflag.FlagSet{cmd.Flags(), cmd.PersistentFlags()}
			for _, fs := range flagSets {
				fs.VisitAll(func(f *pflag.Flag) {
					if f.Changed {
						return
					}
					if !v.IsSet(f.Name) {
						return
					}
					val := fmt.Sprintf("%v", v.Get(f.Name))
					if val != "" {
						_ = f.Value.Set(val)
					}
				})
			}
		}
	})
}

func configureConfigFile(v *viper.Viper, explicitPath string) {
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		return
	}
	v.SetConfigName("config")
	for _, dir := range configSearchDirs() {
		v.AddConfigPath(dir)
	}
}

func readConfigFile(v *viper.Viper, strict bool) error {
	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if errors.As(err, &cfgErr) && !strict {
			return nil
		}
		return err
	}
	return nil
}

func configSearchDirs() []string {
	added := make(map[string]struct{})
	var dirs []string
	add := func(path string) {
		if path == "" {
			return
		}
		if _, ok := added[path]; ok {
			return
		}
		added[path] = struct{}{}
		dirs = append(dirs, path)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		add(filepath.Join(xdg, "stackctl"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		add(filepath.Join(home, ".config", "stackctl"))
	}
	add(".")
	return dirs
}

func handleError(err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	message := err.Error()
	var cmdErr *engine.CommandError
	if errors.As(err, &cmdErr) {
		message = fmt.Sprintf("%s\nHint: run with --log-level debug to see the full engine invocation.", err)
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
}
