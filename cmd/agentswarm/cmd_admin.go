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

func runAdmin(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	configFlag := fs.String("config", "", "path to admin config file")
	fs.Parse(args)

	cfgFile, err := config.FindConfigFile(*configFlag)
	if err != nil {
		fatal("config error: %v", err)
	}
	cfg, err := config.LoadAdminConfig(cfgFile)
	if err != nil {
		fatal("failed to load config: %v", err)
	}
	if err := config.ValidateAdminConfig(cfg); err != nil {
		fatal("invalid config: %v", err)
	}

	metrics := overlay.NewMetrics(version, goVersionString())
	stopMetrics := serveMetrics(cfg.Telemetry, metrics)
	defer stopMetrics()

	admin := agent.NewAdminAgent(agent.AdminAgentConfig{
		Name:        cfg.Name,
		WorkspaceID: cfg.WorkspaceID,
		Port:        cfg.Network.Port,
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
		admin.Stop()
	}()

	if err := admin.Start(ctx, nil, nil); err != nil {
		fatal("admin agent exited with error: %v", err)
	}
}
