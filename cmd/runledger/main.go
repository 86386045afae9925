// Command runledger records, queries and migrates immutable run artifacts.
package main

import (
	"context"
	"os"

	"github.com/roach88/runledger/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
