// Package esdmd is the daemon entrypoint: it wires configuration,
// entropy sources, the DRNG manager, and the two RPC services together,
// and owns the process's signal-driven shutdown sequence.
package esdmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/esdm-project/esdm/esdm"
	"github.com/esdm-project/esdm/esdm/es"
	"github.com/esdm-project/esdm/esdmrpc"
	"github.com/esdm-project/esdm/version"
	"github.com/hashicorp/go-hclog"
)

// Run parses args, starts the daemon, and blocks until a termination
// signal is handled. It returns the process exit code.
func Run(args []string) int {
	fs := flag.NewFlagSet("esdmd", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to an HCL configuration file")
	testMode := fs.Bool("testmode", false, "append -testmode to socket and shm names")
	unprivWorkers := fs.Int("unpriv-workers", 16, "unprivileged service worker pool size")
	privWorkers := fs.Int("priv-workers", 4, "privileged service worker pool size")
	showVersion := fs.Bool("version", false, "print version and exit")
	logLevel := fs.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *showVersion {
		fmt.Println(version.String())
		return 0
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "esdmd",
		Level: hclog.LevelFromString(*logLevel),
	})

	if err := run(logger, *configPath, *testMode, *unprivWorkers, *privWorkers); err != nil {
		logger.Error("fatal", "error", err)
		return 1
	}
	return 0
}

func run(logger hclog.Logger, configPath string, testMode bool, unprivWorkers, privWorkers int) error {
	cfg, err := loadOrDefaultConfig(configPath, logger)
	if err != nil {
		return err
	}

	hashCB := esdm.DefaultHashCallback
	drngCB := esdm.DefaultDRBGCallback

	aux := es.NewAux()
	sources := []esdm.Source{
		es.NewCPU(cfg.CPUEntropyRate),
		es.NewJitter(cfg.JitterEntropyRate),
		es.NewKernel(cfg.KernelEntropyRate),
		es.NewSched(cfg.SchedEntropyRate),
		aux,
	}

	mgr := esdm.NewManager(cfg, hashCB, drngCB, sources, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.Initialise(ctx); err != nil {
		return fmt.Errorf("initialise manager: %w", err)
	}
	defer mgr.Finalize()

	publisher := esdmrpc.NewStatusPublisher(testMode, logger)
	defer publisher.Close()

	core := esdm.NewRPCCore(mgr, aux)

	unpriv := esdmrpc.NewService("unpriv",
		esdmrpc.SocketPath(esdmrpc.UnprivSocketPath, testMode), 0o666,
		esdmrpc.UnprivilegedMethods(core), unprivWorkers, logger)
	priv := esdmrpc.NewService("priv",
		esdmrpc.SocketPath(esdmrpc.PrivSocketPath, testMode), 0o600,
		esdmrpc.PrivilegedMethods(core), privWorkers, logger)

	mgr.State().OnAdvance(func(state esdm.State) {
		info, operational, needEntropy := core.Status()
		publisher.Publish(esdmrpc.NewInfoRecord(info, uint32(unprivWorkers), operational, needEntropy))
	})

	errCh := make(chan error, 2)
	go func() { errCh <- unpriv.Serve(ctx) }()
	go func() { errCh <- priv.Serve(ctx) }()

	go runSeedingLoop(ctx, mgr, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Error("rpc service exited", "error", err)
		}
	}

	// Cancellation releases every suspended sleep_while_* waiter (the
	// poll thread included) and unblocks the accept loops; no in-flight
	// RPC is resumed afterwards (§5 Cancellation).
	cancel()
	unpriv.Close()
	priv.Close()

	return nil
}

func loadOrDefaultConfig(path string, logger hclog.Logger) (*esdm.Config, error) {
	if path == "" {
		return esdm.NewConfig(logger), nil
	}
	return esdm.LoadConfig(path, logger)
}

// runSeedingLoop drives the background half of the seeding scheduler
// (§4.F): it wakes whenever the sources might have fresh entropy to
// offer and attempts one round of drng_seed_work.
func runSeedingLoop(ctx context.Context, mgr *esdm.Manager, logger hclog.Logger) {
	wake := make(chan struct{}, 1)
	mgr.Config().OnAddEntropy(func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	})

	// Prime one seeding round immediately so a freshly initialised
	// daemon does not wait for the first external entropy-add event.
	select {
	case wake <- struct{}{}:
	default:
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
		}

		if !mgr.TryBeginSeedWork() {
			continue
		}
		mgr.Scheduler().DrngSeedWork(ctx)
	}
}
