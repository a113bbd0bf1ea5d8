package main

import (
	"fmt"
	"os"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	versionInfo := VersionInfo{
		Version: version,
		Commit:  commit,
		Date:    date,
	}

	registry := NewCommandRegistry(versionInfo)
	registerCommands(registry)

	if err := registry.Execute(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func registerCommands(r *CommandRegistry) {
	r.Register(&Command{
		Name:        "serve",
		Description: "Serve the built-in demo application through the runtime",
		Usage:       "prefork serve [flags]",
		Examples: []string{
			"prefork serve",
			"prefork serve --config prefork.yaml",
			"prefork serve --bind :9000 --workers 4",
		},
		Run: serveCommand,
	})

	r.Register(&Command{
		Name:        "validate",
		Description: "Validate prefork configuration files",
		Usage:       "prefork validate <config-file>",
		Examples: []string{
			"prefork validate prefork.yaml",
			"prefork validate config/production.yaml",
		},
		Run: validateCommand,
	})

	r.Register(&Command{
		Name:        "version",
		Description: "Show version information",
		Usage:       "prefork version [flags]",
		Examples: []string{
			"prefork version",
			"prefork version --verbose",
		},
		Run: versionCommand,
	})

	r.Register(&Command{
		Name:        "help",
		Description: "Show help information",
		Usage:       "prefork help [command]",
		Examples: []string{
			"prefork help",
			"prefork help serve",
		},
		Run: func(args []string) error {
			r.PrintHelp(os.Stdout)
			return nil
		},
	})
}
