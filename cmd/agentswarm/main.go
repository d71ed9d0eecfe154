package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
)

// Set via -ldflags at build time:
//
//	go build -ldflags "-X main.version=0.1.0 -X main.commit=$(git rev-parse --short HEAD) -X main.buildDate=$(date -u +%Y-%m-%dT%H:%M:%SZ)" -o agentswarm ./cmd/agentswarm
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if len(os.Args) < 2 {
		printUsage()
		osExit(1)
	}

	switch os.Args[1] {
	case "admin":
		runAdmin(os.Args[2:])
	case "worker":
		runWorker(os.Args[2:])
	case "workspace":
		runWorkspace(os.Args[2:])
	case "version", "--version":
		printVersion()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		osExit(1)
	}
}

func printVersion() {
	fmt.Printf("agentswarm %s (%s) built %s\n", version, commit, buildDate)
	fmt.Printf("Go %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// goVersionString reports the runtime's Go version for the build_info
// metric, without the build's own version/commit ldflags.
func goVersionString() string {
	return runtime.Version()
}

func printUsage() {
	fmt.Println("Usage: agentswarm <command> [options]")
	fmt.Println()
	fmt.Println("  admin --config <path>      Start the admin agent that anchors a workspace")
	fmt.Println("  worker --config <path>     Start a worker agent and join a workspace")
	fmt.Println("  workspace --config <path>  Start an admin and its workers in one process")
	fmt.Println("  version                    Show version information")
	fmt.Println()
	fmt.Println("Without --config, agentswarm searches: ./agentswarm.yaml, ~/.config/agentswarm/config.yaml, /etc/agentswarm/config.yaml")
}
