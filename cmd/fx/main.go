package main

import (
	"fmt"
	"log"
	"os"

	"github.com/fl-team8/aggregator/pkg/cli"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "run":
		if err := cli.HandleRunCommand(args); err != nil {
			log.Fatalf("run command failed: %v", err)
		}
	case "state":
		if err := cli.HandleStateCommand(args); err != nil {
			log.Fatalf("state command failed: %v", err)
		}
	case "config":
		if err := cli.HandleConfigCommand(args); err != nil {
			log.Fatalf("config command failed: %v", err)
		}
	case "version":
		fmt.Println("fx (federated learning round aggregator) v1.0.0")
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("fx - federated learning round aggregator control plane")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  fx <command> [arguments]")
	fmt.Println()
	fmt.Println("Available Commands:")
	fmt.Println("  run            Start the round coordinator")
	fmt.Println("  state show     Show persisted threshold/reputation/round state")
	fmt.Println("  config validate  Validate configuration without starting anything")
	fmt.Println("  version        Show version information")
	fmt.Println("  help           Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  fx run                              # Start with env-resolved config")
	fmt.Println("  fx run --config aggregator.yaml      # Start with a YAML overlay")
	fmt.Println("  fx state show                       # Inspect MODEL_DIR/threshold_state.json")
	fmt.Println("  fx config validate                  # Check config before deploying")
	fmt.Println()
	fmt.Println("For more help on a specific command:")
	fmt.Println("  fx <command> --help")
}
