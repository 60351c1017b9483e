package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dagucloud/logductd/internal/build"
)

var cfgFile string

func main() {
	cmd := rootCmd()
	cmd.AddCommand(versionCmd())
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   build.AppName,
		Short: "Host-local logging daemon: centralizes log output from cooperating processes on this machine.",
		Long:  `logductd listens on a unix socket for application log messages and writes them to per-unit, date-rotated files.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindCommonFlags(cmd)
		},
		RunE: runDaemon,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional; none is read unless this is set)")
	bindCommandLineFlags(cmd)
	return cmd
}

// bindCommandLineFlags declares the daemon's flag surface.
func bindCommandLineFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("socket", "s", "", "unix socket to listen on (default /run/logduct.sock)")
	cmd.Flags().StringP("logdir", "d", "", "directory to write logs under (default <XDG state dir>/logduct/logs, else /var/log/logduct)")
	cmd.Flags().Duration("idle", 0, "duration after which idle log files are closed (default 60s)")
	cmd.Flags().Bool("trust-blindly", false, "accept without verifying the unit name a client declares")
	cmd.Flags().Bool("debug", false, "enable debug-level diagnostic logging")

	cmd.Flags().Bool("restore", false, "internal use only: restore daemon state from a reload handoff")
	_ = cmd.Flags().MarkHidden("restore")
}

// bindCommonFlags wires each flag into viper so $LOGDUCTD_* environment
// variables and an optional config file participate alongside flags passed
// on the command line.
func bindCommonFlags(cmd *cobra.Command) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return fmt.Errorf("read config file: %w", err)
			}
		}
	}

	viper.SetEnvPrefix("LOGDUCTD")
	viper.AutomaticEnv()

	for _, name := range []string{"socket", "logdir", "idle", "trust-blindly", "debug", "restore"} {
		if err := viper.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", build.AppName, build.Version)
		},
	}
}
