package main

import (
	"os"

	"github.com/splitpage/splitpage/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
