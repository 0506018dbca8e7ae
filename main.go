package main

import (
	"os"

	"github.com/foomo/geocat-mcp/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
