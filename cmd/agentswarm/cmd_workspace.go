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

func runWorkspace(args []string) {
	fs := flag.NewFlagSet("workspace", flag.ExitOnError)
	configFlag := fs.String("config", "", "path to workspace config file")
	fs.Parse(args)

	cfgFile, err := config.FindConfigFile(*configFlag)
	if err != nil {
		fatal("config error: %v", err)
	}
	cfg, err := config.LoadWorkspaceConfig(cfgFile)
	if err != nil {
		fatal("failed to load config: %v", err)
	}
	if err := config.ValidateWorkspaceConfig(cfg); err != nil {
		fatal("invalid config: %v", err)
	}

	metrics := overlay.NewMetrics(version, goVersionString())
	stopMetrics := serveMetrics(cfg.Admin.Telemetry, metrics)
	defer stopMetrics()

	admin := agent.NewAdminAgent(agent.AdminAgentConfig{
		Name:        cfg.Admin.Name,
		WorkspaceID: cfg.Admin.WorkspaceID,
		Port:        cfg.Admin.Network.Port,
		Topic:       config.Topic(cfg.Admin.Topic),
		Discovery:   discoveryOptions(cfg.Admin.Discovery),
	}, loggingHandler(cfg.Admin.Name), blockingProcessor(), metrics)

	workers := make([]*agent.WorkerAgent, 0, len(cfg.Workers))
	for _, wc := range cfg.Workers {
		workers = append(workers, agent.NewWorkerAgent(agent.WorkerAgentConfig{
			Name:        wc.Name,
			WorkspaceID: wc.WorkspaceID,
			Topic:       config.Topic(wc.Topic),
			Discovery:   discoveryOptions(wc.Discovery),
		}, loggingHandler(wc.Name), blockingProcessor(), metrics))
	}

	ws := agent.NewWorkspace(admin, workers...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Printf("\nReceived %s, shutting down...\n", sig)
		ws.Stop()
	}()

	if err := ws.Run(ctx, nil); err != nil {
		fatal("workspace exited with error: %v", err)
	}
}
