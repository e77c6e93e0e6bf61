// Package cli implements the pmres command-line interface using Cobra.
package cli

import (
	"fmt"
	stdlog "log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"

	"github.com/socpm/pmres/internal/daemon"
)

var rootCmd = &cobra.Command{
	Use:   "pmres",
	Short: "pmres — SoC shared-resource power manager",
	Long: `pmres arbitrates shared power resources on an OMAP3-class SoC:
wakeup-latency constraints, power-domain states, the VDD1/VDD2 operating
points and the clock frequencies that map onto them.

Run 'pmres serve' for the daemon and HTTP API, or use the other commands
against an in-process instance of the configured board.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var verbosity int

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (repeatable)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newLogger returns a stderr logger at the larger of the flag and config verbosity.
func newLogger(cfg daemon.Config) logr.Logger {
	v := cfg.Logging.Verbosity
	if verbosity > v {
		v = verbosity
	}
	stdr.SetVerbosity(v)
	return stdr.New(stdlog.New(os.Stderr, "", stdlog.LstdFlags)).WithName("pmres")
}

// openDaemon loads the config and builds an in-process daemon.
func openDaemon() (*daemon.Daemon, error) {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return nil, err
	}
	return daemon.NewWithConfig(cfg, newLogger(cfg))
}
