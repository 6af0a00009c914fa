package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/rmitchellscott/holofleet/internal/agent"
	"github.com/rmitchellscott/holofleet/internal/logging"
	"github.com/rmitchellscott/holofleet/internal/version"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to agent config YAML")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	logging.InfoWithComponent(logging.ComponentStartup, "Starting Holofleet agent", "version", version.String())

	cfg, err := agent.LoadConfig(*configPath)
	if err != nil {
		logging.ErrorWithComponent(logging.ComponentStartup, "Invalid configuration", "error", err)
		os.Exit(1)
	}

	a, err := agent.New(cfg)
	if err != nil {
		logging.ErrorWithComponent(logging.ComponentStartup, "Agent initialization failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logging.Info("Shutting down agent")
		cancel()
	}()

	if err := a.Run(ctx); err != nil && err != context.Canceled {
		logging.Error("Agent exited with error", "error", err)
		os.Exit(1)
	}

	logging.Info("Agent stopped")
}
