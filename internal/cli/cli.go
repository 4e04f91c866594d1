// Package cli builds the normalize stage's command tree: run (execute one
// normalize pass) and status (report pending-file counts without mutating
// anything). Grounded on the teacher's internal/cli.go cobra tree and its
// run command's signal-wrapped start/stop shape.
package cli

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/beaver-normalize/internal/collector"
	"github.com/ChuLiYu/beaver-normalize/internal/config"
	"github.com/ChuLiYu/beaver-normalize/internal/normstore"
	"github.com/ChuLiYu/beaver-normalize/internal/rundriver"
	"github.com/ChuLiYu/beaver-normalize/internal/schemastore"
	"github.com/ChuLiYu/beaver-normalize/internal/termsignal"
	"github.com/ChuLiYu/beaver-normalize/internal/worker"
)

var configFile string

// BuildCLI assembles the root cobra command.
func BuildCLI(version string) *cobra.Command {
	root := &cobra.Command{
		Use:     "normalize",
		Short:   "Normalize stage: extracted items to loader-ready packages",
		Version: version,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")
	root.AddCommand(buildRunCommand())
	root.AddCommand(buildStatusCommand())
	return root
}

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one normalize pass against the configured storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce()
		},
	}
}

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the config in use and the pending-file count (no row counts)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus()
		},
	}
}

func buildDriver(cfg *config.Config) (*rundriver.Driver, error) {
	normalizeStore := normstore.New(cfg.NormalizeStoreConfig())
	schemaStore, err := schemastore.NewStore(cfg.Storage.SchemasDir)
	if err != nil {
		return nil, fmt.Errorf("cli: schema store: %w", err)
	}
	pool := worker.NewPool(cfg.Worker.Count)
	if err := pool.Start(); err != nil {
		return nil, fmt.Errorf("cli: start worker pool: %w", err)
	}
	coll := collector.New()
	return rundriver.New(normalizeStore, schemaStore, cfg.LoadStoreConfig(), cfg.Capabilities(), pool, coll), nil
}

func runOnce() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	driver, err := buildDriver(cfg)
	if err != nil {
		return err
	}
	defer driver.Pool.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("received shutdown signal, will stop before next commit")
		termsignal.Raise()
	}()

	log.Printf("starting normalize run with %d workers\n", cfg.Worker.Count)
	metrics, err := driver.Run()
	if err != nil {
		return fmt.Errorf("normalize run failed: %w", err)
	}
	if metrics.Terminal {
		log.Println("no pending files, nothing to do")
		return nil
	}
	log.Printf("run complete, %d files still pending\n", metrics.PendingAfter)
	for table, count := range driver.Info().RowCounts {
		log.Printf("  table %s: %d rows\n", table, count)
	}
	return nil
}

func showStatus() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	normalizeStore := normstore.New(cfg.NormalizeStoreConfig())
	files, err := normalizeStore.ListFilesToNormalizeSorted()
	if err != nil {
		return fmt.Errorf("failed to list pending files: %w", err)
	}
	fmt.Printf("config file:   %s\n", configFile)
	fmt.Printf("worker count:  %d\n", cfg.Worker.Count)
	fmt.Printf("pending files: %d\n", len(files))
	return nil
}
