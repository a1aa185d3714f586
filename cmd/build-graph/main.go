package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/leatham22/Friend-convenient-meetup/internal/config"
	"github.com/leatham22/Friend-convenient-meetup/internal/logging"
	"github.com/leatham22/Friend-convenient-meetup/internal/pipeline"
	"github.com/leatham22/Friend-convenient-meetup/internal/tfl"
)

func main() {
	envFile := flag.String("env-file", ".env", "Path to an optional .env file")
	dataDir := flag.String("data-dir", "", "Artifact directory (overrides DATA_DIR)")
	verbose := flag.BoolP("verbose", "v", false, "Enable debug logging")
	flag.Parse()

	// Missing .env is fine; the environment may carry everything
	_ = godotenv.Load(*envFile)

	log := logging.New(*verbose)

	cfg, err := config.LoadBuildFromEnv()
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	httpCache, err := tfl.NewDiskCache(filepath.Join(cfg.DataDir, "http_cache"))
	if err != nil {
		log.Error("failed to initialise response cache", "error", err)
		os.Exit(1)
	}

	clientCfg := tfl.DefaultConfig(cfg.APIToken)
	clientCfg.MaxAttempts = cfg.MaxAttempts
	clientCfg.SequenceDeadline = cfg.SequenceDeadline
	clientCfg.TimetableDeadline = cfg.TimetableDeadline
	clientCfg.JourneyDeadline = cfg.JourneyDeadline
	client := tfl.NewClient(clientCfg, httpCache, log)

	// SIGINT/SIGTERM cancel the run: in-flight provider calls are aborted,
	// no further stage starts, and the final artifact is never written in part
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := pipeline.New(client, cfg, log)
	if err := p.Run(ctx); err != nil {
		log.Error("build failed", "error", err)
		os.Exit(1)
	}
}
