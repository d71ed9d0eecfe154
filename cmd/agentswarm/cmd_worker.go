package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shurlinet/agentswarm/internal/config"
	"github.com/shurlinet/agentswarm/pkg/agent"
	"github.com/shurlinet/agentswarm/pkg/overlay"
)

func runWorker(args []string) {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	configFlag := fs.String("config", "", "path to worker config file")
	fs.Parse(args)

	cfgFile, err := config.FindConfigFile(*configFlag)
	if err != nil {
		fatal("config error: %v", err)
	}
	cfg, err := config.LoadWorkerConfig(cfgFile)
	if err != nil {
		fatal("failed to load config: %v", err)
	}
	if err := config.ValidateWorkerConfig(cfg); err != nil {
		fatal("invalid config: %v", err)
	}

	metrics := overlay.NewMetrics(version, goVersionString())
	stopMetrics := serveMetrics(cfg.Telemetry, metrics)
	defer stopMetrics()

	worker := agent.NewWorkerAgent(agent.WorkerAgentConfig{
		Name:        cfg.Name,
		WorkspaceID: cfg.WorkspaceID,
		AdminAddr:   cfg.AdminAddr,
		Topic:       config.Topic(cfg.Topic),
		Discovery:   discoveryOptions(cfg.Discovery),
	}, loggingHandler(cfg.Name), blockingProcessor(), metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Printf("\nReceived %s, shutting down...\n", sig)
		worker.Stop()
	}()

	if err := worker.Start(ctx, nil); err != nil {
		fatal("worker agent exited with error: %v", err)
	}
}
