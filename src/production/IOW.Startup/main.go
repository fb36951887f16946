package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	apiservice "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.ApiService"
	jwt "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.ApiService/implementation/jwt"
	config "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Config"
	container "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Container"
	health "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Health"
	ingestor "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Ingestor"
)

const (
	modeAll      = "all"
	modeAPI      = "api"
	modeIngestor = "ingestor"
)

type options struct {
	mode     string
	envFiles []string
	migrate  bool
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	ctr, err := container.NewContainer(opts.envFiles...)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}

	if err := checkBackend(opts.mode, ctr.GetConfig()); err != nil {
		ctr.GetLogger().FatalWithError(err, "Invalid run mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		ctr.GetLogger().Info("Shutting down...")
		cancel()
	}()

	err = run(ctx, ctr, opts)
	cancel()
	_ = ctr.Shutdown(context.Background())
	if err != nil {
		ctr.GetLogger().FatalWithError(err, "Service stopped with error")
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	var envFile string

	flagSet := pflag.NewFlagSet("iotwatch", pflag.ContinueOnError)
	flagSet.StringVar(&opts.mode, "mode", modeAll, "components to run: all, api or ingestor")
	flagSet.StringVar(&envFile, "env-file", "", "load environment from this file before reading configuration")
	flagSet.BoolVar(&opts.migrate, "migrate", false, "create tables and indexes for the storage backend, then exit")

	if err := flagSet.Parse(args); err != nil {
		return opts, err
	}
	if extra := flagSet.Args(); len(extra) > 0 {
		return opts, fmt.Errorf("unexpected argument: %s", extra[0])
	}

	switch opts.mode {
	case modeAll, modeAPI, modeIngestor:
	default:
		return opts, fmt.Errorf("invalid --mode %q: want all, api or ingestor", opts.mode)
	}

	if envFile != "" {
		opts.envFiles = []string{envFile}
	}
	return opts, nil
}

// checkBackend rejects in-memory storage when the API and ingestor run as
// separate processes, since they would not share any state
func checkBackend(mode string, cfg *config.Config) error {
	if mode != modeAll && cfg.Database.Backend == config.BackendMemory {
		return fmt.Errorf("storage backend %q requires --mode %s", config.BackendMemory, modeAll)
	}
	return nil
}

func run(ctx context.Context, ctr *container.Container, opts options) error {
	log := ctr.GetLogger()
	cfg := ctr.GetConfig()

	if opts.migrate {
		return ctr.InitializeDatabase(ctx)
	}

	log.Logger.Info().
		Str("mode", opts.mode).
		Str("backend", cfg.Database.Backend).
		Bool("redis", cfg.Redis.Enabled).
		Msg("Starting iotwatch")

	if opts.mode == modeAPI && !cfg.Redis.Enabled {
		log.Warn("Redis is disabled; /api/readings/latest will not reflect the ingestor process")
	}

	checker, err := ctr.GetHealthChecker()
	if err != nil {
		return err
	}
	// the api process can serve without the broker, the ingestor cannot
	checker.AddCheck("mqtt", opts.mode == modeIngestor, health.TransportCheck(ctr.SnapshotState))

	g, gctx := errgroup.WithContext(ctx)

	if opts.mode == modeAll || opts.mode == modeIngestor {
		ing, err := buildIngestor(ctr)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return ing.Run(gctx)
		})
	}

	if opts.mode == modeAll || opts.mode == modeAPI {
		srv, err := buildServer(ctr)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return srv.Run(gctx, cfg.Server.ShutdownTimeout)
		})
	} else {
		// the ingestor still exposes its health endpoints
		srv := apiservice.NewServer(cfg, apiservice.NewHealthRouter(checker, log), log)
		g.Go(func() error {
			return srv.Run(gctx, cfg.Server.ShutdownTimeout)
		})
	}

	log.Info("iotwatch running... press Ctrl+C to stop")
	return g.Wait()
}

func buildIngestor(ctr *container.Container) (*ingestor.Ingestor, error) {
	eval, err := ctr.GetEvaluator()
	if err != nil {
		return nil, err
	}
	cache, err := ctr.GetSnapshotCache()
	if err != nil {
		return nil, err
	}

	cfg := ctr.GetConfig()
	return ingestor.New(ctr.NewTransport(), eval, cache, cfg.Ingest.StoreTimeout, ctr.GetLogger(),
		ingestor.WithRestartBackoff(cfg.MQTT.BackoffMin, cfg.MQTT.BackoffMax)), nil
}

func buildServer(ctr *container.Container) (*apiservice.Server, error) {
	cfg := ctr.GetConfig()
	log := ctr.GetLogger()

	thresholds, err := ctr.GetThresholdStore()
	if err != nil {
		return nil, err
	}
	events, err := ctr.GetEventStore()
	if err != nil {
		return nil, err
	}
	eval, err := ctr.GetEvaluator()
	if err != nil {
		return nil, err
	}
	cache, err := ctr.GetSnapshotCache()
	if err != nil {
		return nil, err
	}
	checker, err := ctr.GetHealthChecker()
	if err != nil {
		return nil, err
	}

	router := apiservice.NewRouter(cfg, apiservice.Dependencies{
		Thresholds: thresholds,
		Events:     events,
		Snapshot:   cache,
		Evaluator:  eval,
		Health:     checker,
		Tokens:     jwt.NewService(cfg.Auth),
	}, log)

	return apiservice.NewServer(cfg, router, log), nil
}
