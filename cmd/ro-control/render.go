package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/ro-control/ro-control/internal/monitor"
	"github.com/ro-control/ro-control/internal/probe"
	"github.com/ro-control/ro-control/internal/resolver"
)

var (
	successColor = color.New(color.FgGreen, color.Bold).SprintFunc()
	errorColor   = color.New(color.FgRed, color.Bold).SprintFunc()
	warnColor    = color.New(color.FgYellow).SprintFunc()
	headerColor  = color.New(color.FgCyan, color.Bold).SprintFunc()
)

const notesWidth = 60

// detectReport is the machine-readable form of the detect command.
type detectReport struct {
	System         probe.SystemInfo `json:"system" yaml:"system"`
	PackageManager string           `json:"package_manager" yaml:"package_manager"`
}

// writeStructured encodes v as JSON or YAML. It returns false for text output,
// which the caller renders itself.
func writeStructured(w io.Writer, format string, v any) (bool, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return false, nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	default:
		return true, fmt.Errorf("unknown output format %q (use text, json or yaml)", format)
	}
}

func renderDetect(w io.Writer, format string, report detectReport) error {
	if done, err := writeStructured(w, format, report); done {
		return err
	}
	info := report.System
	fmt.Fprintln(w, headerColor("GPU"))
	fmt.Fprintf(w, "  Vendor:        %s\n", info.GPU.Vendor)
	fmt.Fprintf(w, "  Model:         %s\n", info.GPU.Model)
	fmt.Fprintf(w, "  Driver in use: %s\n", info.GPU.DriverInUse)
	fmt.Fprintf(w, "  Secure Boot:   %s\n", enabled(info.GPU.SecureBoot))
	fmt.Fprintln(w, headerColor("System"))
	fmt.Fprintf(w, "  OS:             %s\n", info.OS.Name)
	fmt.Fprintf(w, "  Kernel:         %s\n", info.Kernel)
	fmt.Fprintf(w, "  CPU:            %s\n", info.CPU)
	fmt.Fprintf(w, "  RAM:            %s\n", info.RAM)
	fmt.Fprintf(w, "  Display server: %s\n", info.DisplayServer)
	if report.PackageManager == "" {
		fmt.Fprintf(w, "  Package mgr:    %s\n", warnColor("unsupported"))
	} else {
		fmt.Fprintf(w, "  Package mgr:    %s\n", report.PackageManager)
	}
	return nil
}

func renderVersions(w io.Writer, format string, versions []resolver.DriverVersion) error {
	if versions == nil {
		versions = []resolver.DriverVersion{}
	}
	if done, err := writeStructured(w, format, versions); done {
		return err
	}
	if len(versions) == 0 {
		fmt.Fprintln(w, warnColor("No driver versions found."))
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSOURCE\tINSTALLABLE\tKERNEL\tNOTES")
	for _, v := range versions {
		name := v.Version
		if v.IsLatest {
			name += " (latest)"
		}
		kernel := "ok"
		if !v.Compatible {
			kernel = "too old"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", name, v.Source, yesNo(v.Installable), kernel, truncate(v.ReleaseNotes, notesWidth))
	}
	return tw.Flush()
}

func renderStats(w io.Writer, format string, stats monitor.Stats) error {
	if done, err := writeStructured(w, format, stats); done {
		return err
	}
	if stats.GPUAvailable {
		g := stats.GPU
		fmt.Fprintf(w, "%s %d°C  load %d%%  VRAM %d/%d MiB\n", headerColor("GPU"), g.Temp, g.Load, g.MemUsed, g.MemTotal)
	} else {
		fmt.Fprintf(w, "%s %s\n", headerColor("GPU"), warnColor("no statistics (nvidia-smi unavailable)"))
	}
	s := stats.System
	fmt.Fprintf(w, "%s %d°C  load %d%%  RAM %d/%d MiB (%d%%)\n", headerColor("CPU"), s.CPUTemp, s.CPULoad, s.RAMUsed, s.RAMTotal, s.RAMPercent)
	return nil
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
