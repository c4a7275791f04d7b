package main

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/stewardproject/steward/internal/common/config"
	"github.com/stewardproject/steward/internal/common/logging"
	"github.com/stewardproject/steward/internal/common/output"
	"github.com/stewardproject/steward/internal/manifest"
	"github.com/stewardproject/steward/internal/pkgutil"
	"github.com/stewardproject/steward/internal/report"
	"github.com/stewardproject/steward/internal/repo"
	"github.com/stewardproject/steward/internal/updatecheck"
)

var (
	checkClientID     string
	checkManifestPath string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the repository for software updates",
	Long: `Run one full update check: resolve this machine's manifests against the
repository catalogs, apply self-serve choices, download needed installer
items, and persist the resulting install plan.

Exit status: 0 no updates, 1 finished with errors, 2 updates available,
3 another check was already running.`,
	Run: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkClientID, "id", "", "Client identifier overriding the configured one")
	checkCmd.Flags().StringVar(&checkManifestPath, "manifest", "", "Use a local manifest file instead of the repository's")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		logging.Errorf("loading config: %v", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logging.Errorf("%v", err)
		os.Exit(1)
	}
	if err := cfg.EnsureInstallDirs(); err != nil {
		logging.Errorf("could not create managed install directories: %v", err)
		os.Exit(1)
	}
	if err := logging.Default().EnableFileLogging(cfg.LogDir()); err != nil {
		logging.Warnf("file logging disabled: %v", err)
	}
	defer logging.Default().Close()

	r, err := repo.Connect(cfg.RepoURL)
	if err != nil {
		logging.Errorf("could not connect to repository %s: %v", cfg.RepoURL, err)
		os.Exit(1)
	}

	ctx := context.Background()
	clientID := cfg.ClientIdentifier
	if checkClientID != "" {
		clientID = checkClientID
	}

	installed := pkgutil.InstalledPackages(ctx)
	store := manifest.NewStore(cfg.ManifestsDir())
	resolver := manifest.NewCatalogResolver(r, store, cfg.CacheDir(), installed)
	resolver.CatalogsDir = cfg.CatalogsDir()

	var stopped atomic.Bool
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		logging.Warnf("stop requested, finishing at the next checkpoint")
		stopped.Store(true)
	}()

	checker := &updatecheck.Checker{
		Repo:              r,
		Resolver:          resolver,
		Store:             store,
		Report:            report.New(cfg.ManagedInstallDir),
		ManagedInstallDir: cfg.ManagedInstallDir,
		LocalOnlyManifest: cfg.LocalOnlyManifest,
		StopRequested:     stopped.Load,
	}

	result, err := checker.CheckForUpdates(ctx, clientID, checkManifestPath)
	if err != nil {
		logging.Errorf("%v", err)
	}
	switch result {
	case updatecheck.UpdatesAvailable:
		output.PrintInfo("Updates are available.")
		os.Exit(2)
	case updatecheck.NoUpdatesAvailable:
		output.PrintSuccess("No changes to managed software.")
	case updatecheck.FinishedWithErrors:
		output.PrintError("Update check finished with errors.")
		os.Exit(1)
	case updatecheck.CheckDidntStart:
		output.PrintWarning("Another update check is already running.")
		os.Exit(3)
	}
}
