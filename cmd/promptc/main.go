package main

import (
	"errors"
	"os"

	"github.com/petal-labs/promptc/cli"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := cli.NewRootCmd(version).Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
