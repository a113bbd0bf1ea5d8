package main

import (
	"flag"
	"fmt"
	"runtime"
)

func versionCommand(args []string) error {
	fs := flag.NewFlagSet("version", flag.ExitOnError)
	verbose := fs.Bool("verbose", false, "Show detailed build information")

	fs.Usage = func() {
		fmt.Println(`Show version information

USAGE:
    prefork version [flags]

FLAGS:
    --verbose   Show detailed build information

EXAMPLES:
    prefork version
    prefork version --verbose`)
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Printf("prefork %s\n", version)

	if *verbose {
		fmt.Printf("  commit:   %s\n", commit)
		fmt.Printf("  built:    %s\n", date)
		fmt.Printf("  go:       %s\n", runtime.Version())
		fmt.Printf("  platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	}

	return nil
}
