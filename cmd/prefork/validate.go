package main

import (
	"flag"
	"fmt"

	"github.com/fieldline/prefork/internal/config"
)

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)

	fs.Usage = func() {
		fmt.Println(`Validate prefork configuration files

Loads the file, applies defaults and environment overrides, and runs the
same validation the runtime runs at startup, so a config that validates
here will not be rejected by 'prefork serve'.

USAGE:
    prefork validate <config-file>

EXAMPLES:
    # Validate configuration
    prefork validate prefork.yaml

    # Use in CI/CD pipelines
    if prefork validate config/production.yaml; then
        echo "Configuration is valid"
    fi`)
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("config file path required")
	}

	configPath := fs.Arg(0)

	cfg, err := config.LoadServer(configPath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Printf("✓ Valid configuration: %s\n", configPath)
	fmt.Println("\nResolved settings:")
	fmt.Printf("  Bind address:    %s\n", cfg.Bind)
	fmt.Printf("  Workers:         %d\n", cfg.Workers)
	fmt.Printf("  Request timeout: %s\n", cfg.RequestTimeout)
	fmt.Printf("  Grace period:    %s\n", cfg.GracePeriod)
	fmt.Printf("\nBoot failure policy:\n")
	fmt.Printf("  Budget: %d failures\n", cfg.BootFailBudget)
	fmt.Printf("  Window: %s\n", cfg.BootFailWindow)

	if cfg.Workers == 1 {
		fmt.Println("\n⚠ Single worker: one slow request blocks the whole server")
	}

	return nil
}
