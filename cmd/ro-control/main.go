package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version   = "0.1.0"
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:           "ro-control",
	Short:         "GPU driver manager",
	Long:          `ro-control detects the GPU, lists installable NVIDIA driver versions and installs or removes drivers through the distribution package manager.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ro-control v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ro-control.yaml in /etc/ro-control, ~/.config/ro-control or .)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override log format (text, json)")

	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(compatCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(installAMDCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	os.Exit(run())
}

// interrupts receives the shutdown signals for the whole process. The
// privileged runner re-registers it after starting its helper.
var (
	interrupts      = make(chan os.Signal, 1)
	shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
)

func notifyInterrupts() {
	signal.Notify(interrupts, shutdownSignals...)
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifyInterrupts()
	defer signal.Stop(interrupts)
	go func() {
		select {
		case <-interrupts:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorColor("Error:"), err)
		return 1
	}
	return 0
}
