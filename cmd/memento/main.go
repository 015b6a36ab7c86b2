package main

import (
	"os"

	"github.com/runnerr0/memento/internal/cli"
)

var version = "dev"

func main() {
	// go-flags already printed the error to stderr.
	if err := cli.Run(version); err != nil {
		os.Exit(1)
	}
}
