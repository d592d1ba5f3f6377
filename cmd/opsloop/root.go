package main

import (
	"github.com/spf13/cobra"

	"github.com/Strob0t/opsloop/internal/config"
)

var (
	cfgFile  string
	envFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "opsloop",
	Short: "Safety-bounded remote command loop",
	Long: `opsloop asks a planning model for one shell command at a time, checks it
against a policy profile, runs it over SSH and feeds the outcome back until
the goal is reached, the step budget runs out or the loop guard stops it.

Commands:
  run          Run a goal against one or more hosts
  classify     Show the policy verdict for a command without running it
  policy       List or show policy profiles
  serve        Serve the HTTP API

Configuration precedence: defaults < opsloop.yaml < environment < flags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultConfigFile, "YAML config file (optional)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with secrets (optional)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
}
