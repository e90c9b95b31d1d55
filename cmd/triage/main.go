package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mailtriage/internal/config"
	pkgconfig "mailtriage/pkg/config"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	env       string
	configDir string
	logLevel  string
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "triage",
		Short: "Adaptive email triage engine",
		Long: `triage classifies incoming mail, turns actionable messages into
follow-up tasks with reminders and escalation, and learns from user
corrections.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&flags.env, "env", pkgconfig.GetConfigEnv(), "Config environment (local, production)")
	cmd.PersistentFlags().StringVar(&flags.configDir, "config-dir", pkgconfig.GetEnv("CONFIG_DIR", "config"), "Directory holding base.yaml and <env>.yaml")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	cmd.AddCommand(serveCmd(flags), migrateCmd(flags), statsCmd(flags), tokenCmd(flags))
	return cmd
}

// load 读取配置，命令行 log-level 优先
func (f *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.env, f.configDir)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	return cfg, nil
}
