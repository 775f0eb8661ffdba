package main

import (
	"os"

	"github.com/ngdi-portal/portal/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
