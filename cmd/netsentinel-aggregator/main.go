// Command netsentinel-aggregator consumes the frame stream, maintains
// the in-memory traffic model, and persists it to the relational store.
// See internal/aggregator for the pipeline itself.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/netsentinel/netsentinel/internal/aggregator"
	"github.com/netsentinel/netsentinel/internal/config"
	"github.com/netsentinel/netsentinel/internal/logging"
	"github.com/netsentinel/netsentinel/internal/store"
	"github.com/netsentinel/netsentinel/internal/streamstore"
	"github.com/netsentinel/netsentinel/internal/telemetry"
)

// Exit codes per the error handling taxonomy: distinct nonzero codes
// per failure category, so an external supervisor can tell them apart.
const (
	exitConfigError = 1
	exitStreamError = 2
	exitDBError     = 3
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:          "netsentinel-aggregator",
		Short:        "Consume the frame stream, aggregate traffic and persist it",
		SilenceUsage: true,
		RunE:         run,
	}
	root.Flags().StringVarP(&configPath, "config", "c", "configs/aggregator.toml", "path to the TOML configuration file")

	if err := root.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadAggregatorConfig(configPath)
	if err != nil {
		return &exitError{code: exitConfigError, err: err}
	}

	if err := logging.Setup(cfg.Logging); err != nil {
		return &exitError{code: exitConfigError, err: err}
	}

	log.Info("netsentinel-aggregator starting")

	if cfg.Metrics.Enabled {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			if err := telemetry.Serve(addr, cfg.Metrics.Path); err != nil {
				log.WithError(err).Error("metrics server exited")
			}
		}()
	}

	frames, err := streamstore.Open(cfg.Redis.URL, cfg.Redis.StreamName, 0)
	if err != nil {
		return &exitError{code: exitStreamError, err: err}
	}
	defer frames.Close()

	notifier, err := streamstore.OpenNotifier(cfg.Redis.URL, cfg.Events.Channel)
	if err != nil {
		return &exitError{code: exitStreamError, err: err}
	}
	defer notifier.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Database.ConnectTimeoutSec)*time.Second)
	db, err := store.Open(ctx, cfg.Database.URL, cfg.Database.MaxConnections, time.Duration(cfg.Database.ConnectTimeoutSec)*time.Second)
	cancel()
	if err != nil {
		return &exitError{code: exitDBError, err: err}
	}
	defer db.Close()

	schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = db.EnsureSchema(schemaCtx)
	schemaCancel()
	if err != nil {
		return &exitError{code: exitDBError, err: err}
	}

	applySchemaMetaFallback(cfg, db)

	manager := aggregator.NewManager(cfg, frames, notifier, db)
	manager.Start()

	log.Info("aggregator pipeline running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutdown signal received, draining aggregator")
	manager.Stop()
	log.Info("netsentinel-aggregator stopped")
	return nil
}

// applySchemaMetaFallback fills activity-window and lookback settings
// the TOML config left at zero from the seeded schema_meta row, rather
// than overriding anything the operator actually set.
func applySchemaMetaFallback(cfg *config.AggregatorConfig, db *store.DB) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	meta, err := db.ReadSchemaMeta(ctx)
	if err != nil {
		log.WithError(err).Warn("could not read schema_meta fallback row, using config/defaults only")
		return
	}
	if cfg.Aggregation.ActivityWindowSecs == 0 {
		cfg.Aggregation.ActivityWindowSecs = int64(meta.ActivityWindowSecs)
	}
	if cfg.Aggregation.MaxBucketLookbackSecs == 0 {
		cfg.Aggregation.MaxBucketLookbackSecs = int64(meta.MaxBucketLookbackSecs)
	}
}

// exitError carries the process exit code a failure should produce
// alongside the error cobra prints.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func exitCodeFor(err error) int {
	if ee, ok := err.(*exitError); ok {
		return ee.code
	}
	return exitConfigError
}
