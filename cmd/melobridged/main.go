// Command melobridged is the engine's process entry point. It loads
// configuration, assembles an engine.Engine, and runs it until a
// shutdown signal arrives. Grounded on cmd/thane/main.go's flag
// parsing, logger construction, and signal-driven graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/melobridge/engine/internal/buildinfo"
	"github.com/melobridge/engine/internal/config"
	"github.com/melobridge/engine/internal/elog"
	"github.com/melobridge/engine/internal/engine"
	"github.com/melobridge/engine/internal/restartwrap"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	wrap := flag.Bool("wrap", false, "run under the restart-wrapper supervisor")
	flag.Parse()

	if *wrap {
		runSupervised(*configPath)
		return
	}

	logger := newLogger("info")
	logger.Info(buildinfo.String())

	path, err := config.FindConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(restartwrap.CodeError)
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(restartwrap.CodeError)
	}
	logger = newLogger(cfg.LogLevel)

	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Error("failed to assemble engine", "error", err)
		os.Exit(restartwrap.CodeError)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("engine stopped with error", "error", err)
		os.Exit(restartwrap.CodeError)
	}

	logger.Info("melobridge stopped")
}

// runSupervised re-execs this same binary without -wrap under a
// restartwrap.Supervise loop, so a handler's call to restart() (spec
// §6 module-wrapper contract) can take effect.
func runSupervised(configPath string) {
	logger := newLogger("info")
	self, err := os.Executable()
	if err != nil {
		logger.Error("cannot locate own executable for supervision", "error", err)
		os.Exit(restartwrap.CodeError)
	}

	args := []string{}
	if configPath != "" {
		args = append(args, "-config", configPath)
	}

	code, err := restartwrap.Supervise(context.Background(), logger, self, args)
	if err != nil {
		logger.Error("supervisor failed", "error", err)
		os.Exit(restartwrap.CodeError)
	}
	os.Exit(code)
}

func newLogger(level string) *slog.Logger {
	lvl, err := elog.ParseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: elog.ReplaceLevelNames,
	})
	return slog.New(h)
}
