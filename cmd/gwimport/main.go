// Command gwimport imports gateway services and API keys into the
// management platform.
package main

import (
	"os"

	"github.com/roach88/gwimport/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
