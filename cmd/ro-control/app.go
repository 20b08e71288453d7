package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ro-control/ro-control/internal/config"
	"github.com/ro-control/ro-control/internal/controller"
	"github.com/ro-control/ro-control/internal/executor"
	"github.com/ro-control/ro-control/internal/httputil"
	"github.com/ro-control/ro-control/internal/installer"
	"github.com/ro-control/ro-control/internal/logging"
	"github.com/ro-control/ro-control/internal/monitor"
	"github.com/ro-control/ro-control/internal/pkgmgr"
	"github.com/ro-control/ro-control/internal/probe"
	"github.com/ro-control/ro-control/internal/remote"
	"github.com/ro-control/ro-control/internal/repo"
	"github.com/ro-control/ro-control/internal/resolver"
	"github.com/ro-control/ro-control/internal/workerpool"
)

var log = logging.L("main")

const (
	logFileMaxSizeMB  = 5
	logFileMaxBackups = 3
	poolWorkers       = 4
	poolQueueSize     = 16
	shutdownTimeout   = 5 * time.Second
)

// app holds the wired services for one command invocation.
type app struct {
	cfg       *config.Config
	prober    *probe.Prober
	backend   pkgmgr.Backend
	manager   pkgmgr.Manager
	supported bool
	ctl       *controller.Controller
	pool      *workerpool.Pool
	logFile   io.Closer
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if result := cfg.ValidateTiered(); result.HasFatals() {
		return nil, fmt.Errorf("invalid config: %w", errors.Join(result.Fatals...))
	}
	return cfg, nil
}

// newApp loads the configuration, sets up logging and wires every service.
func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	a.initLogging()

	runner := executor.New()
	a.prober = probe.New(runner)

	a.manager, a.supported = a.prober.PackageManager()
	if a.supported {
		osr := a.prober.DetectOS()
		if a.backend, err = pkgmgr.New(a.manager, pkgmgr.WithOSRelease(osr.ID, osr.VersionID)); err != nil {
			log.Warn("package manager backend unavailable", logging.KeyManager, a.manager, logging.KeyError, err)
			a.supported = false
		}
	}

	client := httputil.NewClient(
		httputil.WithTimeout(time.Duration(cfg.HTTPTimeoutSeconds)*time.Second),
		httputil.WithUserAgent(cfg.UserAgent),
	)
	fetcher := remote.NewFetcher(client,
		remote.WithNVIDIAURL(cfg.NVIDIASearchURL),
		remote.WithBodhiURL(cfg.BodhiURL),
	)
	scanner := repo.NewScanner(runner, a.backend, repo.WithChangelogLines(cfg.ChangelogLineLimit))
	res := resolver.New(scanner, fetcher, a.prober, resolver.WithMaxVersions(cfg.MaxVersions))

	privileged := executor.New(
		executor.WithTimeout(0),
		executor.WithForeground(),
		executor.WithSignalShield(notifyInterrupts, shutdownSignals...),
	)
	orch := installer.New(privileged, a.backend, a.prober,
		installer.WithPrivilegeHelper(cfg.PrivilegeProgram, cfg.RootHelperTask),
	)

	a.pool = workerpool.New(poolWorkers, poolQueueSize)
	a.ctl = controller.New(controller.Deps{
		Prober:       a.prober,
		Resolver:     res,
		Orchestrator: orch,
		Monitor:      monitor.New(runner),
	}, a.pool)

	return a, nil
}

func (a *app) initLogging() {
	var output io.Writer = os.Stderr
	path := a.cfg.LogFile
	if path == "" {
		path = logging.DefaultLogFile()
	}
	if path != "" {
		rw, err := logging.OpenLogFile(path, logFileMaxSizeMB, logFileMaxBackups)
		if err != nil {
			logging.Init(a.cfg.LogFormat, a.cfg.LogLevel, output)
			log.Warn("log file unavailable", "path", path, logging.KeyError, err)
			return
		}
		a.logFile = rw
		output = logging.TeeWriter(os.Stderr, rw)
	}
	logging.Init(a.cfg.LogFormat, a.cfg.LogLevel, output)
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.pool.Shutdown(ctx)
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

// requireSupported fails NVIDIA operations on distributions without a backend.
func (a *app) requireSupported() error {
	if a.supported {
		return nil
	}
	osInfo := a.prober.DetectOS()
	return fmt.Errorf("%w: %s (%s)", installer.ErrUnsupportedPackageManager, osInfo.Name, osInfo.ID)
}
