package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sempr/labjudge/internal/judge"
	"github.com/sempr/labjudge/internal/pubsub"
	"github.com/sempr/labjudge/pkg/models"
	"github.com/sevlyar/go-daemon"
)

// ConfigFile and ToolchainFile are relative to the home directory.
const (
	ConfigFile    = "etc/judge.conf"
	ToolchainFile = "etc/toolchain.toml"
)

// Setup changes to home and loads the configuration. Commands other than
// the daemon use it too.
func Setup(home string) (*Config, error) {
	if err := os.Chdir(home); err != nil {
		return nil, fmt.Errorf("could not change to directory %s: %w", home, err)
	}
	cfg, err := LoadConfig(ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("error loading %s: %w", ConfigFile, err)
	}
	cfg.Home = home
	return cfg, nil
}

// NewPipeline builds the judging pipeline from the configuration and the
// toolchain file.
func NewPipeline(cfg *Config) (*judge.Pipeline, error) {
	tc, err := judge.LoadToolchain(ToolchainFile)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Info("no toolchain file, using g++", "path", ToolchainFile)
		tc = judge.DefaultToolchain()
	case err != nil:
		return nil, err
	}
	executor := judge.NewExecutor(
		judge.WithToolchain(tc),
		judge.WithConcurrency(cfg.MaxRunning),
		judge.WithDefaultTimeLimit(cfg.TimeLimit()),
	)
	return judge.NewPipeline(judge.NewCompiler(tc, cfg.CompileTimeout()), executor, cfg.PublishTests), nil
}

func Main(args *models.DaemonArgs) {
	cfg, err := Setup(args.Home)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	cfg.Debug = args.Debug
	cfg.Once = args.Once
	cfg.Worker = args.Worker

	pidFilePath := filepath.Join(cfg.Home, "etc", fmt.Sprintf("labjudged.%d.pid", cfg.Worker))

	// Set up daemonization if not in debug mode
	if !cfg.Debug {
		cntxt := &daemon.Context{
			LogFileName: LogFile(cfg.Home),
			LogFilePerm: 0640,
			WorkDir:     cfg.Home,
			Umask:       027,
		}

		d, err := cntxt.Reborn()
		if err != nil {
			log.Fatalf("FATAL: Could not reborn as daemon: %v", err)
		}
		if d != nil {
			return // Parent process exits
		}
		defer cntxt.Release()
	}

	closer, err := InitLogger(cfg)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	defer closer.Close()

	// Lock PID file to ensure a single instance per worker id
	lock, err := Lock(pidFilePath)
	if err != nil {
		slog.Error("Daemon is already running", "err", err)
		os.Exit(1)
	}
	defer lock.Unlock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	deps, err := OpenDeps(ctx, cfg)
	if err != nil {
		slog.Error("Could not connect", "err", err)
		return
	}
	defer deps.Close()

	pipeline, err := NewPipeline(cfg)
	if err != nil {
		slog.Error("Could not load toolchain", "err", err)
		return
	}

	slog.Info("labjudged started", "worker", cfg.Worker, "queue", cfg.QueueBackend, "concurrency", cfg.MaxRunning)
	worker := NewWorker(cfg, deps.Queue, pubsub.NewPublisher(deps.Bus, cfg.PublishRetry), pipeline)
	if err := worker.Run(ctx); err != nil {
		slog.Error("worker stopped", "err", err)
	}
	slog.Info("labjudged stopped")
}
