package cli

import (
	"fmt"
	"os"

	"github.com/fl-team8/aggregator/pkg/config"
)

// HandleConfigCommand implements `fx config validate [--config path.yaml]`:
// it resolves configuration and reports validation errors without starting
// anything.
func HandleConfigCommand(args []string) error {
	if len(args) == 0 || args[0] != "validate" {
		printConfigUsage()
		return fmt.Errorf("config command requires a subcommand (validate)")
	}
	subArgs := args[1:]

	configPath := os.Getenv("CONFIG_FILE")
	for i, arg := range subArgs {
		if (arg == "--config" || arg == "-c") && i+1 < len(subArgs) {
			configPath = subArgs[i+1]
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to resolve configuration: %w", err)
	}

	errs := cfg.Validate()
	if len(errs) == 0 {
		fmt.Println("configuration is valid")
		return nil
	}

	fmt.Printf("configuration has %d problem(s):\n", len(errs))
	for _, e := range errs {
		fmt.Printf("  - %s\n", e)
	}
	return fmt.Errorf("configuration validation failed")
}

func printConfigUsage() {
	fmt.Println("Config command - validate aggregator configuration")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  fx config validate [--config path.yaml]")
}
