// Command netsentinel-capture binds one ring per configured interface,
// decodes frames off each ring and publishes batches to the frame
// stream. See internal/capture for the pipeline itself.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/netsentinel/netsentinel/internal/capture"
	"github.com/netsentinel/netsentinel/internal/config"
	"github.com/netsentinel/netsentinel/internal/logging"
	"github.com/netsentinel/netsentinel/internal/streamstore"
	"github.com/netsentinel/netsentinel/internal/telemetry"
)

// Exit codes per the error handling taxonomy: distinct nonzero codes
// per failure category, so an external supervisor can tell them apart.
const (
	exitOK          = 0
	exitConfigError = 1
	exitBindFailure = 2
	exitStreamError = 3
)

var configPath string
var listInterfaces bool

func main() {
	root := &cobra.Command{
		Use:          "netsentinel-capture",
		Short:        "Bind network interfaces and publish decoded frames to the frame stream",
		SilenceUsage: true,
		RunE:         run,
	}
	root.Flags().StringVarP(&configPath, "config", "c", "configs/capture.toml", "path to the TOML configuration file")
	root.Flags().BoolVar(&listInterfaces, "list-interfaces", false, "enumerate candidate interfaces and exit")

	if err := root.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func run(cmd *cobra.Command, args []string) error {
	if listInterfaces {
		return runListInterfaces()
	}

	cfg, err := config.LoadCaptureConfig(configPath)
	if err != nil {
		return &exitError{code: exitConfigError, err: err}
	}

	if err := logging.Setup(cfg.Logging); err != nil {
		return &exitError{code: exitConfigError, err: err}
	}

	log.Info("netsentinel-capture starting")

	if cfg.Metrics.Enabled {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			if err := telemetry.Serve(addr, cfg.Metrics.Path); err != nil {
				log.WithError(err).Error("metrics server exited")
			}
		}()
	}

	store, err := streamstore.Open(cfg.Redis.URL, cfg.Redis.StreamName, cfg.Redis.PoolSize)
	if err != nil {
		return &exitError{code: exitStreamError, err: err}
	}
	defer store.Close()

	workers := make([]*capture.InterfaceWorker, 0, len(cfg.Capture.Interfaces))
	for _, ifaceCfg := range cfg.Capture.Interfaces {
		w, err := capture.StartInterfaceWorker(ifaceCfg, cfg.Capture, cfg.Redis.MaxStreamLength, store, cfg.Capture.BatchSize*2)
		if err != nil {
			log.WithFields(log.Fields{"interface": ifaceCfg.Name, "error": err}).
				Error("failed to bind interface, continuing with remaining interfaces")
			continue
		}
		workers = append(workers, w)
	}

	if len(workers) == 0 {
		return &exitError{code: exitBindFailure, err: fmt.Errorf("all configured interfaces failed to bind")}
	}

	log.WithField("interfaces", len(workers)).Info("capture pipeline running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutdown signal received, draining workers")
	for _, w := range workers {
		w.Stop()
	}
	log.Info("netsentinel-capture stopped")
	return nil
}

func runListInterfaces() error {
	infos, err := capture.ListInterfaces()
	if err != nil {
		return &exitError{code: exitBindFailure, err: err}
	}
	for _, info := range infos {
		fmt.Printf("%s\t%s\t%v\n", info.Name, info.Description, info.Addresses)
	}
	return nil
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
