// Package cmd is the CLI surface for the ingestion pipeline, generalizing
// the teacher's cobra root/subcommand layout (cmd/root.go, cmd/ingest.go,
// cmd/server.go) from a single-database B3 ingester into the multi-
// exchange pipeline described in SPEC_FULL.md §6.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/viktsys/marketdata-lake/config"
	"github.com/viktsys/marketdata-lake/ledger"
	"github.com/viktsys/marketdata-lake/logging"
	"github.com/viktsys/marketdata-lake/objectstore"
	"github.com/viktsys/marketdata-lake/remoteledger"
	"github.com/viktsys/marketdata-lake/store"
)

var (
	cfg     config.Config
	verbose bool
)

var rootCMD = &cobra.Command{
	Use:   "marketdata-lake",
	Short: "Multi-Exchange Market-Data Ingestion Pipeline",
	Long: `A CLI application that ingests daily trade files for LSE, CME, and
NYQ into a local analytical store, mirrors progress and aggregates to a
remote ledger, and serves a read-mostly monitoring API.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCMD.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCMD.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug-level logging")
	rootCMD.AddCommand(runCMD)
	rootCMD.AddCommand(shutdownCMD)
	rootCMD.AddCommand(serveCMD)
}

// buildObjectStore constructs the S3-backed object store, or a filesystem-
// backed one when LOCAL_OBJECT_STORE_ROOT is set; this keeps `run` usable
// in development without real S3 credentials.
func buildObjectStore(ctx context.Context, cfg config.Config) (objectstore.ObjectStore, error) {
	if root := os.Getenv("LOCAL_OBJECT_STORE_ROOT"); root != "" {
		return objectstore.NewLocalObjectStore(root), nil
	}
	return objectstore.NewS3Store(ctx, objectstore.S3Config{
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		Region:          cfg.AWSRegion,
		Endpoint:        cfg.S3Endpoint,
		Bucket:          cfg.S3Bucket,
		Timeout:         cfg.ObjectStoreTimeout,
	})
}

// stack bundles every long-lived dependency a command needs, so each
// subcommand's Run func stays a thin wiring shim.
type stack struct {
	log        *logrus.Logger
	analytical *store.Store
	remote     *remoteledger.Store
	ledger     *ledger.Ledger
}

// buildStack opens the Analytical Store, connects the Remote Ledger
// (degrading gracefully rather than erroring per spec.md §4.4), and
// assembles the Ledger on top of both.
func buildStack(cfg config.Config, verbose bool) (*stack, error) {
	log, err := logging.New(cfg.LogDir, verbose)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise logging: %w", err)
	}

	analytical, err := store.Open(cfg.DuckDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open analytical store: %w", err)
	}

	remote := remoteledger.Connect(remoteledger.Config{
		Host:     cfg.RemoteHost,
		Port:     fmt.Sprintf("%d", cfg.RemotePort),
		User:     cfg.RemoteUser,
		Password: cfg.RemotePassword,
		Database: cfg.RemoteDatabase,
	}, log)

	l := ledger.New(analytical, remote, cfg.StaleClaimAfter)

	return &stack{log: log, analytical: analytical, remote: remote, ledger: l}, nil
}

func (s *stack) Close() {
	if s.analytical != nil {
		_ = s.analytical.Close()
	}
}

// buildMonitorStack is the serve-command variant of buildStack: the
// Analytical Store file may already be held exclusively by a running Job
// Runner process, in which case spec.md §4.8 requires the Monitoring
// Service to fall back to the Remote Ledger as a read replica rather than
// fail to start.
func buildMonitorStack(cfg config.Config, verbose bool) (*stack, error) {
	log, err := logging.New(cfg.LogDir, verbose)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise logging: %w", err)
	}

	remote := remoteledger.Connect(remoteledger.Config{
		Host:     cfg.RemoteHost,
		Port:     fmt.Sprintf("%d", cfg.RemotePort),
		User:     cfg.RemoteUser,
		Password: cfg.RemotePassword,
		Database: cfg.RemoteDatabase,
	}, log)

	analytical, err := store.Open(cfg.DuckDBPath)
	if err != nil {
		log.WithError(err).Warn("analytical store unavailable (likely held by a running job runner), monitoring service will read from the remote ledger only")
		return &stack{log: log, remote: remote}, nil
	}

	return &stack{log: log, analytical: analytical, remote: remote, ledger: ledger.New(analytical, remote, cfg.StaleClaimAfter)}, nil
}
