package main

import (
	"os"

	"github.com/majorcontext/asrtt/cmd/asrtt/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
