package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ro-control/ro-control/internal/compat"
	"github.com/ro-control/ro-control/internal/controller"
	"github.com/ro-control/ro-control/internal/pkgmgr"
)

const followInterval = 100 * time.Millisecond

var (
	outputFormat string
	openKernel   bool
	pinVersion   string
	assumeYes    bool
	deepClean    bool
	watchStats   bool
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Show GPU, distribution and kernel information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		a.ctl.Detect()
		if err := a.ctl.Wait(cmd.Context()); err != nil {
			return err
		}
		report := detectReport{System: a.ctl.State().System}
		if a.supported {
			report.PackageManager = string(a.manager)
		}
		return renderDetect(cmd.OutOrStdout(), outputFormat, report)
	},
}

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List installable NVIDIA driver versions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		a.ctl.LoadVersions()
		if err := a.ctl.Wait(cmd.Context()); err != nil {
			return err
		}
		return renderVersions(cmd.OutOrStdout(), outputFormat, a.ctl.State().Versions)
	},
}

var compatCmd = &cobra.Command{
	Use:   "compat <version>",
	Short: "Check a driver version against the running kernel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := pkgmgr.ValidateVersion(args[0]); err != nil {
			return err
		}
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		kernel := a.prober.KernelRelease(cmd.Context())
		if !compat.IsCompatible(args[0], kernel) {
			return fmt.Errorf("driver %s is not compatible with kernel %s", args[0], kernel)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s driver %s is compatible with kernel %s\n", successColor("OK"), args[0], kernel)
		return nil
	},
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the NVIDIA driver",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if pinVersion != "" {
			if err := pkgmgr.ValidateVersion(pinVersion); err != nil {
				return err
			}
		}
		flavor := pkgmgr.Proprietary
		if openKernel {
			flavor = pkgmgr.OpenKernel
		}
		target := "the latest repository build"
		if pinVersion != "" {
			target = "version " + pinVersion
		}
		return runTransaction(cmd, fmt.Sprintf("Install the %s NVIDIA driver (%s)?", flavor, target), func(c *controller.Controller) bool {
			return c.Install(flavor, pinVersion)
		})
	},
}

var installAMDCmd = &cobra.Command{
	Use:   "install-amd",
	Short: "Install the Mesa and Vulkan stack for AMD GPUs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransaction(cmd, "Install the AMD Mesa and Vulkan packages?", func(c *controller.Controller) bool {
			return c.InstallAMD()
		})
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the NVIDIA driver",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := "Remove the NVIDIA driver?"
		if deepClean {
			prompt = "Remove the NVIDIA driver and its configuration files?"
		}
		return runTransaction(cmd, prompt, func(c *controller.Controller) bool {
			return c.Remove(deepClean)
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show GPU and system statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		sample := func() error {
			a.ctl.RefreshStats()
			if err := a.ctl.Wait(ctx); err != nil {
				return err
			}
			return renderStats(out, outputFormat, a.ctl.State().Stats)
		}
		if err := sample(); err != nil || !watchStats {
			return err
		}

		ticker := time.NewTicker(time.Duration(a.cfg.RefreshIntervalSeconds) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := sample(); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
			}
		}
	},
}

func init() {
	for _, cmd := range []*cobra.Command{detectCmd, versionsCmd, statsCmd} {
		cmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "output format (text, json, yaml)")
	}

	installCmd.Flags().BoolVar(&openKernel, "open", false, "install the open kernel module flavor")
	installCmd.Flags().StringVar(&pinVersion, "version", "", "pin a driver version (digits and dots only)")
	removeCmd.Flags().BoolVar(&deepClean, "deep-clean", false, "also delete NVIDIA configuration and cache directories")
	statsCmd.Flags().BoolVarP(&watchStats, "watch", "w", false, "keep refreshing until interrupted")

	for _, cmd := range []*cobra.Command{installCmd, installAMDCmd, removeCmd} {
		cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")
	}
}

// runTransaction confirms, starts one privileged transaction and streams its
// log until the outcome arrives.
func runTransaction(cmd *cobra.Command, prompt string, start func(*controller.Controller) bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.requireSupported(); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !assumeYes && !confirm(cmd.InOrStdin(), out, prompt) {
		fmt.Fprintln(out, "Aborted.")
		return nil
	}
	if !start(a.ctl) {
		return fmt.Errorf("another operation is already in progress")
	}

	final := follow(cmd.Context(), a.ctl, out)
	if final.Status != controller.StatusComplete {
		if final.Outcome != nil && final.Outcome.Err != nil {
			return final.Outcome.Err
		}
		return fmt.Errorf("operation failed")
	}
	fmt.Fprintln(out, successColor("Done."), "Restart the computer to load the new driver.")
	return nil
}

// follow prints log lines as they are applied. Interrupts are reported but do
// not stop the transaction.
func follow(ctx context.Context, c *controller.Controller, w io.Writer) controller.State {
	ticker := time.NewTicker(followInterval)
	defer ticker.Stop()

	interrupted := ctx.Done()
	printed := 0
	for {
		c.Drain()
		s := c.State()
		for _, line := range s.Log[printed:] {
			fmt.Fprintln(w, line)
		}
		printed = len(s.Log)
		if c.Pending() == 0 {
			return s
		}

		select {
		case <-ticker.C:
		case <-interrupted:
			interrupted = nil
			fmt.Fprintln(w, warnColor("Interrupt received; the transaction cannot be cancelled and will run to completion."))
		}
	}
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N] ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(out)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
